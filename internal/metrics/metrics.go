// Package metrics holds the Prometheus collectors for schoolhub's auth core.
// Collectors are registered on an injected registry so tests can build an
// isolated set and read values back with prometheus/testutil.
package metrics

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "schoolhub"

// Metrics groups the counters recorded by the gates and the auth service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	authRejections *prometheus.CounterVec
	authzDenials   *prometheus.CounterVec
	logins         *prometheus.CounterVec
	passwordResets *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. If reg is nil a
// fresh registry is created.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: reg,
		authRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_rejections_total",
			Help:      "Requests rejected by the authentication gate, by reason.",
		}, []string{"reason"}),
		authzDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authz_denials_total",
			Help:      "Requests denied by a role gate, by the caller's role.",
		}, []string{"role"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts, by result.",
		}, []string{"result"}),
		passwordResets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "password_resets_total",
			Help:      "Password reset lifecycle events, by stage.",
		}, []string{"stage"}),
	}

	reg.MustRegister(m.authRejections, m.authzDenials, m.logins, m.passwordResets)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// AuthRejected counts a request refused by the authentication gate.
func (m *Metrics) AuthRejected(reason string) {
	if m == nil {
		return
	}
	m.authRejections.WithLabelValues(reason).Inc()
}

// AuthzDenied counts a request refused by a role gate.
func (m *Metrics) AuthzDenied(role string) {
	if m == nil {
		return
	}
	m.authzDenials.WithLabelValues(role).Inc()
}

// Login counts a login attempt. result is "success" or "failure".
func (m *Metrics) Login(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}

// PasswordReset counts a reset event: "requested", "completed", "rejected",
// "expired" or "swept".
func (m *Metrics) PasswordReset(stage string) {
	if m == nil {
		return
	}
	m.passwordResets.WithLabelValues(stage).Inc()
}

// PasswordResetsSwept adds n to the "swept" stage.
func (m *Metrics) PasswordResetsSwept(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.passwordResets.WithLabelValues("swept").Add(float64(n))
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() echo.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return echo.WrapHandler(http.Handler(h))
}
