package monitoring

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	queueLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "clinic_queue_length",
			Help: "Current queue length per doctor and lane",
		},
		[]string{"doctor_id", "lane"},
	)

	currentToken = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "clinic_current_token",
			Help: "Token number currently being served per doctor",
		},
		[]string{"doctor_id"},
	)

	queueOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinic_queue_operations_total",
			Help: "Total queue operations",
		},
		[]string{"operation", "doctor_id", "status"},
	)

	waitEstimate = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clinic_estimated_wait_minutes",
			Help:    "Estimated wait minutes reported to patients",
			Buckets: prometheus.ExponentialBuckets(5, 2, 8),
		},
	)

	appointmentsBooked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinic_appointments_booked_total",
			Help: "Total appointments booked",
		},
		[]string{"priority"},
	)
)

// TrackQueueOperation counts the outcome of a lane mutation.
func TrackQueueOperation(operation, doctorID, status string) {
	queueOperations.WithLabelValues(operation, doctorID, status).Inc()
}

func SetCurrentToken(doctorID string, token int64) {
	currentToken.WithLabelValues(doctorID).Set(float64(token))
}

func ObserveWaitEstimate(minutes float64) {
	waitEstimate.Observe(minutes)
}

func TrackBooking(priority string) {
	appointmentsBooked.WithLabelValues(priority).Inc()
}

// Monitor periodically samples queue lengths straight off Redis so the
// gauges stay truthful even when no requests are flowing.
type Monitor struct {
	redis *redis.Client
}

func NewMonitor(redisClient *redis.Client) *Monitor {
	monitor := &Monitor{redis: redisClient}
	go monitor.collectMetrics()
	return monitor
}

func (m *Monitor) collectMetrics() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.collectQueueMetrics(context.Background())
	}
}

func (m *Monitor) collectQueueMetrics(ctx context.Context) {
	for _, lane := range []string{"emergency", "normal"} {
		prefix := "queue:" + lane + ":"
		keys, _ := m.redis.Keys(ctx, prefix+"*").Result()
		for _, key := range keys {
			// key layout is queue:<lane>:<doctor_id>:<date>
			rest := key[len(prefix):]
			idx := strings.Index(rest, ":")
			if idx <= 0 {
				continue
			}
			length, _ := m.redis.LLen(ctx, key).Result()
			queueLength.WithLabelValues(rest[:idx], lane).Set(float64(length))
		}
	}
}
