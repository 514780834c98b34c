package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics register themselves with the default registry through promauto.
var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ezt_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ezt_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	PurchasesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ezt_purchases_created_total",
			Help: "Purchases created",
		},
	)

	StockRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ezt_stock_rejections_total",
			Help: "Reservations refused for insufficient stock",
		},
	)

	ApprovalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ezt_approvals_total",
			Help: "Purchase approvals by outcome",
		},
		[]string{"result"},
	)

	TicketsIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ezt_tickets_issued_total",
			Help: "Ticket credentials issued",
		},
	)

	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ezt_scans_total",
			Help: "Gate scans by direction and result",
		},
		[]string{"direction", "result"},
	)

	ExitAlerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ezt_exit_alerts_total",
			Help: "Exits flagged as injured or emergency",
		},
		[]string{"reason"},
	)

	OutboxPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ezt_outbox_published_total",
			Help: "Outbox records relayed to the broker",
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ezt_outbox_lag_seconds",
			Help: "Lag of outbox publishing",
		},
	)

	RabbitPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ezt_rabbit_publish_retries_total",
			Help: "Total rabbit publish retries",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ezt_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
