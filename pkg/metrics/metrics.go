package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MQ consumption latency in milliseconds.
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	// Fan-out batches published per job name.
	FanoutBatchCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_batches_enqueued_total",
			Help: "Total number of fan-out job batches enqueued",
		},
		[]string{"job_name"},
	)

	// Fan-out job processing outcomes.
	FanoutJobOutcomeCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_job_outcome_total",
			Help: "Total fan-out job processing outcomes",
		},
		[]string{"outcome"}, // outcome: completed, failed, deduped, dead_lettered
	)

	// Notification rows written.
	NotificationsWrittenCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifications_written_total",
			Help: "Total number of notification rows persisted",
		},
	)

	// Live push attempts.
	LivePushCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "live_push_total",
			Help: "Total live notification push attempts",
		},
		[]string{"result"}, // result: delivered, skipped_offline, error
	)

	// Chat messages relayed.
	ChatMessageCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Total chat messages processed by the relay",
		},
		[]string{"result"}, // result: sent, error
	)

	// Currently online users as seen by the gateway.
	OnlineUsersGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "online_users",
			Help: "Number of users currently tracked as online",
		},
	)

	// Reconciliation sweeps and evicted stale sockets.
	ReconcileSweepCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_reconcile_sweeps_total",
			Help: "Total presence reconciliation sweeps",
		},
	)
	ReconcileEvictionCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_reconcile_evictions_total",
			Help: "Total stale socket mappings evicted by reconciliation",
		},
	)

	// Slow database queries.
	SlowQueryCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "db_slow_query_total",
			Help: "Total number of slow database queries",
		},
	)
)

// RecordMQConsumeLatency records how long a consumed message took to process.
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// IncrementFanoutBatch counts one enqueued fan-out batch.
func IncrementFanoutBatch(jobName string) {
	FanoutBatchCount.WithLabelValues(jobName).Inc()
}

// IncrementFanoutJobOutcome counts a job processing outcome.
func IncrementFanoutJobOutcome(outcome string) {
	FanoutJobOutcomeCount.WithLabelValues(outcome).Inc()
}

// AddNotificationsWritten counts persisted notification rows.
func AddNotificationsWritten(n int) {
	NotificationsWrittenCount.Add(float64(n))
}

// IncrementLivePush counts one live push attempt.
func IncrementLivePush(result string) {
	LivePushCount.WithLabelValues(result).Inc()
}

// IncrementChatMessage counts one relayed chat message.
func IncrementChatMessage(result string) {
	ChatMessageCount.WithLabelValues(result).Inc()
}

// SetOnlineUsers records the current online user count.
func SetOnlineUsers(n int) {
	OnlineUsersGauge.Set(float64(n))
}

// IncrementSlowQuery counts one slow query.
func IncrementSlowQuery() {
	SlowQueryCount.Inc()
}
