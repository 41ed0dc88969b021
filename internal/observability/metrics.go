package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for session and tick activity.
//
// All methods are safe to call on a nil *Metrics; they do nothing.
type Metrics struct {
	sessionsStarted  *prometheus.CounterVec
	sessionsEnded    *prometheus.CounterVec
	sessionsRejected *prometheus.CounterVec
	sessionsActive   prometheus.Gauge
	ticks            *prometheus.CounterVec
	hookErrors       *prometheus.CounterVec
	hibernations     prometheus.Counter
	wakes            prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
//
// Precondition: reg must be non-nil and must not already hold these collectors.
// Postcondition: Returns a Metrics whose collectors are registered, or an error.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		sessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gamehost_sessions_started_total",
			Help: "Game sessions started, by library reference",
		}, []string{"ref"}),
		sessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gamehost_sessions_ended_total",
			Help: "Game sessions ended, by library reference",
		}, []string{"ref"}),
		sessionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gamehost_sessions_rejected_total",
			Help: "Start requests rejected, by reason",
		}, []string{"reason"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gamehost_sessions_active",
			Help: "Game sessions currently running across all communities",
		}),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gamehost_ticks_emitted_total",
			Help: "Tick events emitted by manager tick loops",
		}, []string{"event"}),
		hookErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gamehost_hook_errors_total",
			Help: "Module hook failures, by hook",
		}, []string{"hook"}),
		hibernations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gamehost_manager_hibernations_total",
			Help: "Managers that went dead after their idle timeout",
		}),
		wakes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gamehost_manager_wakes_total",
			Help: "Dead managers woken by a start request",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.sessionsStarted, m.sessionsEnded, m.sessionsRejected, m.sessionsActive,
		m.ticks, m.hookErrors, m.hibernations, m.wakes,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// SessionStarted records a successful start for ref.
func (m *Metrics) SessionStarted(ref string) {
	if m == nil {
		return
	}
	m.sessionsStarted.WithLabelValues(ref).Inc()
	m.sessionsActive.Inc()
}

// SessionEnded records the end of a session for ref.
func (m *Metrics) SessionEnded(ref string) {
	if m == nil {
		return
	}
	m.sessionsEnded.WithLabelValues(ref).Inc()
	m.sessionsActive.Dec()
}

// SessionRejected records a refused start request.
func (m *Metrics) SessionRejected(reason string) {
	if m == nil {
		return
	}
	m.sessionsRejected.WithLabelValues(reason).Inc()
}

// TickEmitted records one emission of event.
func (m *Metrics) TickEmitted(event string) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(event).Inc()
}

// HookFailed records a module hook error.
func (m *Metrics) HookFailed(hook string) {
	if m == nil {
		return
	}
	m.hookErrors.WithLabelValues(hook).Inc()
}

// ManagerHibernated records a manager going dead.
func (m *Metrics) ManagerHibernated() {
	if m == nil {
		return
	}
	m.hibernations.Inc()
}

// ManagerWoken records a dead manager being woken.
func (m *Metrics) ManagerWoken() {
	if m == nil {
		return
	}
	m.wakes.Inc()
}
