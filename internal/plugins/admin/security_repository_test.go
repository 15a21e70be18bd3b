package admin

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEventRepoWithMock(t *testing.T) (SecurityEventRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewSecurityEventRepository(db), mock
}

func TestSecurityEventRepository_Log(t *testing.T) {
	repo, mock := newEventRepoWithMock(t)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO security_events")).
		WithArgs(EventUserRoleChanged, "s1", "a1", "192.0.2.1", "curl/8", `{"to_role":"teacher"}`, at).
		WillReturnResult(sqlmock.NewResult(7, 1))

	event := &SecurityEvent{
		EventType: EventUserRoleChanged,
		UserID:    "s1",
		ActorID:   "a1",
		IPAddress: "192.0.2.1",
		UserAgent: "curl/8",
		Details:   map[string]any{"to_role": "teacher"},
		CreatedAt: at,
	}
	require.NoError(t, repo.Log(context.Background(), event))
	assert.Equal(t, int64(7), event.ID)
}

func TestSecurityEventRepository_LogWithoutDetails(t *testing.T) {
	repo, mock := newEventRepoWithMock(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO security_events")).
		WithArgs(EventUserDeleted, "s1", "a1", "", "", nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	event := &SecurityEvent{EventType: EventUserDeleted, UserID: "s1", ActorID: "a1"}
	require.NoError(t, repo.Log(context.Background(), event))
	assert.False(t, event.CreatedAt.IsZero())
}

func TestSecurityEventRepository_ListFiltered(t *testing.T) {
	repo, mock := newEventRepoWithMock(t)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM security_events WHERE event_type = ?")).
		WithArgs(EventUserDeleted).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE event_type = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?")).
		WithArgs(EventUserDeleted, 1, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "event_type", "user_id", "actor_id", "ip_address", "user_agent", "details", "created_at"}).
			AddRow(2, EventUserDeleted, "s2", "a1", "192.0.2.1", "", `{"role":"student"}`, at))

	events, total, err := repo.List(context.Background(), EventUserDeleted, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, events, 1)
	assert.Equal(t, "s2", events[0].UserID)
	assert.Equal(t, "student", events[0].Details["role"])
}

func TestSecurityEventRepository_ListBadDetails(t *testing.T) {
	repo, mock := newEventRepoWithMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM security_events")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC")).
		WithArgs(25, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "event_type", "user_id", "actor_id", "ip_address", "user_agent", "details", "created_at"}).
			AddRow(1, EventUserUpdated, "s1", "a1", "", "", "{not json", time.Now()))

	events, _, err := repo.List(context.Background(), "", 25, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "invalid JSON", events[0].Details["_parse_error"])
}
