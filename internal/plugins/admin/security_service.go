package admin

import (
	"context"
	"fmt"
	"slices"

	"github.com/keyxmakerx/schoolhub/internal/apperror"
)

// Column widths of security_events.
const (
	maxIPLength        = 45
	maxUserAgentLength = 500
)

// eventTypes lists the events the admin handlers record.
var eventTypes = []string{EventUserUpdated, EventUserRoleChanged, EventUserDeleted}

// SecurityService records and lists admin actions.
type SecurityService interface {
	// LogEvent validates and persists a security event.
	LogEvent(ctx context.Context, event *SecurityEvent) error

	// ListEvents returns a page of events, most recent first. An empty
	// eventType lists every type.
	ListEvents(ctx context.Context, eventType string, limit, offset int) ([]SecurityEvent, int, error)
}

// securityService implements SecurityService.
type securityService struct {
	repo SecurityEventRepository
}

// NewSecurityService creates a new security service.
func NewSecurityService(repo SecurityEventRepository) SecurityService {
	return &securityService{repo: repo}
}

// LogEvent checks the event type and trims client-supplied strings to
// their column widths before storing the event.
func (s *securityService) LogEvent(ctx context.Context, event *SecurityEvent) error {
	if !slices.Contains(eventTypes, event.EventType) {
		return apperror.NewBadRequest(fmt.Sprintf("unknown event type %q", event.EventType))
	}

	event.IPAddress = truncate(event.IPAddress, maxIPLength)
	event.UserAgent = truncate(event.UserAgent, maxUserAgentLength)

	if err := s.repo.Log(ctx, event); err != nil {
		return apperror.NewInternal(fmt.Errorf("logging security event: %w", err))
	}
	return nil
}

// ListEvents returns paginated security events.
func (s *securityService) ListEvents(ctx context.Context, eventType string, limit, offset int) ([]SecurityEvent, int, error) {
	if eventType != "" && !slices.Contains(eventTypes, eventType) {
		return nil, 0, apperror.NewBadRequest(fmt.Sprintf("unknown event type %q", eventType))
	}

	events, total, err := s.repo.List(ctx, eventType, limit, offset)
	if err != nil {
		return nil, 0, apperror.NewInternal(fmt.Errorf("listing security events: %w", err))
	}
	if events == nil {
		events = []SecurityEvent{}
	}
	return events, total, nil
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
