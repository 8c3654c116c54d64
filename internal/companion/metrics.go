package companion

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the companion lifecycle counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	state          *prometheus.GaugeVec
	spawns         prometheus.Counter
	crashes        prometheus.Counter
	staleSignals   *prometheus.CounterVec
	terminalStarts prometheus.Counter
	terminalExits  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ngconsole_server_state",
				Help: "Companion server lifecycle state (1 for the current state)",
			},
			[]string{"state"},
		),
		spawns: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ngconsole_server_spawns_total",
				Help: "Companion server start attempts",
			},
		),
		crashes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ngconsole_server_crashes_total",
				Help: "Unexpected companion server exits",
			},
		),
		staleSignals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ngconsole_rpc_stale_signals_total",
				Help: "Lifecycle commands ignored because the state did not expect them",
			},
			[]string{"command"},
		),
		terminalStarts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ngconsole_terminal_sessions_total",
				Help: "Terminal sessions started",
			},
		),
		terminalExits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ngconsole_terminal_exits_total",
				Help: "Terminal sessions finished, by outcome",
			},
			[]string{"outcome"},
		),
	}
	reg.MustRegister(m.state, m.spawns, m.crashes, m.staleSignals, m.terminalStarts, m.terminalExits)
	m.setState(StateIdle)
	return m
}

func (m *Metrics) setState(current State) {
	if m == nil {
		return
	}
	for _, s := range AllStates {
		v := 0.0
		if s == current {
			v = 1
		}
		m.state.WithLabelValues(string(s)).Set(v)
	}
}

func (m *Metrics) spawned() {
	if m != nil {
		m.spawns.Inc()
	}
}

func (m *Metrics) crashed() {
	if m != nil {
		m.crashes.Inc()
	}
}

func (m *Metrics) stale(command string) {
	if m != nil {
		m.staleSignals.WithLabelValues(command).Inc()
	}
}

func (m *Metrics) terminalStarted() {
	if m != nil {
		m.terminalStarts.Inc()
	}
}

func (m *Metrics) terminalExited(code int) {
	if m == nil {
		return
	}
	outcome := "success"
	if code != 0 {
		outcome = "failure"
	}
	m.terminalExits.WithLabelValues(outcome).Inc()
}
