package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	recordsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pvgate",
			Subsystem: "store",
			Name:      "records_received_total",
			Help:      "Watched-range writes decoded into telemetry records.",
		},
		[]string{"tier"},
	)
	blocksServed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pvgate",
			Subsystem: "store",
			Name:      "blocks_served_total",
			Help:      "Exact watched-range reads served to peers.",
		},
		[]string{"tier"},
	)
	recordsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pvgate",
			Subsystem: "buffer",
			Name:      "records_dropped_total",
			Help:      "Records evicted by the drop-oldest overflow policy.",
		},
		[]string{"tier"},
	)
	bufferFill = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pvgate",
			Subsystem: "buffer",
			Name:      "fill",
			Help:      "Records currently buffered.",
		},
		[]string{"tier"},
	)
	recordsForwarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pvgate",
			Subsystem: "forwarder",
			Name:      "records_forwarded_total",
			Help:      "Records delivered to the downstream register peer.",
		},
		[]string{"tier"},
	)
	forwarderReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pvgate",
			Subsystem: "forwarder",
			Name:      "reconnects_total",
			Help:      "Forced reconnects after the failure threshold.",
		},
		[]string{"tier"},
	)
	forwarderLink = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pvgate",
			Subsystem: "forwarder",
			Name:      "link_up",
			Help:      "Outbound register link state, 1 when connected.",
		},
		[]string{"tier"},
	)
	translatorUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pvgate",
			Subsystem: "translator",
			Name:      "updates_total",
			Help:      "Fully successful translation cycles.",
		},
		[]string{"tier"},
	)
	translatorErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pvgate",
			Subsystem: "translator",
			Name:      "errors_total",
			Help:      "Translation cycles aborted or partially failed.",
		},
		[]string{"tier", "reason"},
	)
	translatorLink = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pvgate",
			Subsystem: "translator",
			Name:      "link_up",
			Help:      "Downstream named-object link state, 1 when connected.",
		},
		[]string{"tier"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			recordsReceived, blocksServed,
			recordsDropped, bufferFill,
			recordsForwarded, forwarderReconnects, forwarderLink,
			translatorUpdates, translatorErrors, translatorLink,
		)
	})
}

func RecordReceived(tier string) {
	RegisterMetrics()
	recordsReceived.WithLabelValues(tier).Inc()
}

func RecordServed(tier string) {
	RegisterMetrics()
	blocksServed.WithLabelValues(tier).Inc()
}

func RecordDropped(tier string) {
	RegisterMetrics()
	recordsDropped.WithLabelValues(tier).Inc()
}

func SetBufferFill(tier string, n int) {
	RegisterMetrics()
	bufferFill.WithLabelValues(tier).Set(float64(n))
}

func RecordForwarded(tier string) {
	RegisterMetrics()
	recordsForwarded.WithLabelValues(tier).Inc()
}

func RecordForwarderReconnect(tier string) {
	RegisterMetrics()
	forwarderReconnects.WithLabelValues(tier).Inc()
}

func SetForwarderLink(tier string, up bool) {
	RegisterMetrics()
	forwarderLink.WithLabelValues(tier).Set(boolGauge(up))
}

func RecordTranslatorUpdate(tier string) {
	RegisterMetrics()
	translatorUpdates.WithLabelValues(tier).Inc()
}

func RecordTranslatorError(tier, reason string) {
	RegisterMetrics()
	translatorErrors.WithLabelValues(tier, reason).Inc()
}

func SetTranslatorLink(tier string, up bool) {
	RegisterMetrics()
	translatorLink.WithLabelValues(tier).Set(boolGauge(up))
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
