package audio

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	cueLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "marai_cue_loads_total", Help: "Cue assets loaded, by result"},
		[]string{"result"},
	)
	cueStarts = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "marai_cue_starts_total", Help: "Cue playbacks started"},
	)
	elementOpens = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "marai_element_opens_total", Help: "Media elements opened"},
	)
)

func RegisterMetrics() {
	prometheus.MustRegister(cueLoads, cueStarts, elementOpens)
}
