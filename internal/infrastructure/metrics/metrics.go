// Package metrics define los contadores Prometheus del ciclo de emisión.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// EmisionesTotal cuenta emisiones por estado final (AUTORIZADO, RECHAZADO,
	// DEVUELTA, EN_PROCESO, ERROR).
	EmisionesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sri_emisiones_total",
			Help: "Total de emisiones de comprobantes por estado final",
		},
		[]string{"estado"},
	)

	SondeosAutorizacionTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sri_sondeos_autorizacion_total",
			Help: "Total de consultas al WS de autorización",
		},
	)

	EmisionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sri_emision_duration_seconds",
			Help:    "Duración del ciclo completo de emisión (generar, firmar, enviar, sondear)",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	FirmasTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sri_firmas_total",
			Help: "Total de comprobantes firmados",
		},
	)
)

// Register registra todas las métricas en el registro global de Prometheus.
func Register() {
	prometheus.MustRegister(EmisionesTotal)
	prometheus.MustRegister(SondeosAutorizacionTotal)
	prometheus.MustRegister(EmisionDuration)
	prometheus.MustRegister(FirmasTotal)
}
