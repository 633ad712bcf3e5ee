package observability

import (
	"math/big"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ride_escrow"

var (
	LedgerCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ledger_calls_total", Help: "Ledger calls by operation and result"},
		[]string{"op", "result"},
	)
	LedgerCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: namespace, Name: "ledger_call_duration_seconds", Help: "Ledger call latency", Buckets: prometheus.DefBuckets},
		[]string{"op"},
	)
	ReentrancyTrips = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "reentrancy_trips_total", Help: "Calls refused by the reentrancy guard"})
	EscrowedWei     = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "escrowed_wei", Help: "Value currently held in escrow (approximate float)"})
	SettledWei      = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "settled_wei_total", Help: "Value paid out of escrow by leg (approximate float)"},
		[]string{"leg"},
	)

	SequencerWait = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "sequencer_wait_seconds", Help: "Time calls spend waiting for their turn"})

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "events_published_total", Help: "Event deliveries by sink and result"},
		[]string{"sink", "result"},
	)
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "events_dropped_total", Help: "Events dropped because the bus queue was full"})
	WSSubscribers = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "ws_subscribers", Help: "Connected websocket subscribers"})
	OpenRides     = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "open_rides", Help: "Rides waiting for a driver in the geo index"})

	IndexerConsumed = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "indexer_messages_consumed_total", Help: "Event messages consumed by the indexer"})
	IndexerInvalid  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "indexer_messages_invalid_total", Help: "Event messages that failed to decode"})
	IndexerErrors   = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "indexer_projection_errors_total", Help: "Events the indexer failed to project"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	HTTPRateLimited = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "http_rate_limited_total", Help: "Requests refused by the rate limiter"})
)

// ObserveSettlement adds a settled amount to the leg's counter.
func ObserveSettlement(leg string, amount *uint256.Int) {
	SettledWei.WithLabelValues(leg).Add(weiFloat(amount))
}

func SetEscrowed(amount *uint256.Int) { EscrowedWei.Set(weiFloat(amount)) }

// Prometheus only takes float64, so large amounts lose precision here.
func weiFloat(v *uint256.Int) float64 {
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}
