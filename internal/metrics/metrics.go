package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tf2pug",
		Subsystem: "pug",
		Name:      "state_transitions_total",
		Help:      "Counts pug state transitions by the state entered",
	}, []string{"state"})

	ActivePugs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tf2pug",
		Subsystem: "pug",
		Name:      "active",
		Help:      "Number of active pugs per tenant",
	}, []string{"tenant"})

	Admissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tf2pug",
		Subsystem: "pug",
		Name:      "admissions_total",
		Help:      "Counts player admission attempts by result",
	}, []string{"result"})

	RconCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tf2pug",
		Subsystem: "rcon",
		Name:      "commands_total",
		Help:      "Counts rcon commands sent to game servers by result",
	}, []string{"result"})

	LogLines = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tf2pug",
		Subsystem: "logevent",
		Name:      "lines_total",
		Help:      "Counts game server log lines by classified kind",
	}, []string{"kind"})
)
