package studio

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "marai_studio_sessions", Help: "Open studio sessions"},
	)
	wsClients = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "marai_studio_ws_clients", Help: "Connected websocket clients"},
	)
	droppedMessages = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "marai_studio_dropped_messages_total", Help: "Messages dropped for slow clients"},
	)
	editsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "marai_studio_edits_total", Help: "Committed segment edits, by sync result"},
		[]string{"result"},
	)
	loadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "marai_studio_load_duration_seconds",
			Help:    "Time to fetch a task and build its timeline",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
	)
)

func RegisterMetrics() {
	prometheus.MustRegister(activeSessions, wsClients, droppedMessages, editsTotal, loadDuration)
}
