package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_total", Help: "Count of market ticks ingested"},
		[]string{"symbol"},
	)
	TicksDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_dropped_total", Help: "Ticks dropped as data anomalies"},
		[]string{"symbol", "reason"},
	)
	CandlesClosedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "candles_closed_total", Help: "Closed candles emitted"},
		[]string{"symbol", "kind"},
	)
	IntentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "order_intents_total", Help: "Order intents produced by the evaluator"},
		[]string{"symbol", "strategy"},
	)
	IntentsShedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "order_intents_shed_total", Help: "Intents dropped oldest-first under backpressure"},
	)
	CandlesShedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "candles_shed_total", Help: "Closed candles dropped oldest-first under evaluator backpressure"},
	)
	RejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "order_rejections_total", Help: "Intents rejected by the risk gatekeeper"},
		[]string{"reason"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Orders dispatched to the broker"},
		[]string{"symbol", "side"},
	)
	DispatchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tick_to_dispatch_seconds",
			Help:    "Latency from tick receipt to order dispatch",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
	)
	PendingDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "gatekeeper_pending_depth", Help: "Intents waiting for rate-limit tokens"},
	)
	Heartbeat = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "ingestor_heartbeat_timestamp", Help: "Unix time of the last healthy heartbeat"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal, TicksDroppedTotal, CandlesClosedTotal,
		IntentsTotal, IntentsShedTotal, CandlesShedTotal, RejectionsTotal, OrdersTotal,
		DispatchLatency, PendingDepth, Heartbeat,
	)
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
