package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Decision metrics
	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskengine_decisions_total",
			Help: "Total number of evaluation cycle decisions",
		},
		[]string{"status"},
	)

	consensusApprovals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskengine_consensus_results_total",
			Help: "Sizing consensus outcomes",
		},
		[]string{"approved"},
	)

	positionSizePercent = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "riskengine_position_size_percent",
			Help:    "Distribution of approved position sizes as a fraction of balance",
			Buckets: []float64{0.002, 0.005, 0.01, 0.02, 0.03, 0.04, 0.05},
		},
	)

	// Risk state metrics
	currentDrawdown = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "riskengine_drawdown",
			Help: "Current drawdown from the high-water mark",
		},
	)

	consecutiveLosses = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "riskengine_consecutive_losses",
			Help: "Current consecutive loss streak",
		},
	)

	dailyLossPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "riskengine_daily_loss_percent",
			Help: "Realized loss today as a fraction of portfolio value",
		},
	)

	// Training metrics
	trainingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "riskengine_training_duration_seconds",
			Help:    "Duration of background replay training jobs",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Error metrics
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskengine_errors_total",
			Help: "Total number of errors by category",
		},
		[]string{"category"},
	)
)

func init() {
	prometheus.MustRegister(decisionsTotal)
	prometheus.MustRegister(consensusApprovals)
	prometheus.MustRegister(positionSizePercent)
	prometheus.MustRegister(currentDrawdown)
	prometheus.MustRegister(consecutiveLosses)
	prometheus.MustRegister(dailyLossPercent)
	prometheus.MustRegister(trainingDuration)
	prometheus.MustRegister(errorsTotal)
}

// MetricsHandler handles the Prometheus metrics endpoint
type MetricsHandler struct{}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// ServeHTTP serves the Prometheus metrics endpoint
func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// RecordDecision records one evaluation cycle outcome
func RecordDecision(status string) {
	decisionsTotal.WithLabelValues(status).Inc()
}

// RecordConsensus records a sizing consensus outcome and, when approved,
// the resulting position size fraction
func RecordConsensus(approved bool, percent float64) {
	if approved {
		consensusApprovals.WithLabelValues("true").Inc()
		positionSizePercent.Observe(percent)
	} else {
		consensusApprovals.WithLabelValues("false").Inc()
	}
}

// UpdateDrawdown updates the drawdown gauge
func UpdateDrawdown(drawdown float64) {
	currentDrawdown.Set(drawdown)
}

// UpdateLossState updates the loss streak and daily loss gauges
func UpdateLossState(streak int, dailyLoss float64) {
	consecutiveLosses.Set(float64(streak))
	dailyLossPercent.Set(dailyLoss)
}

// RecordTrainingDuration records how long a replay training job took
func RecordTrainingDuration(seconds float64) {
	trainingDuration.Observe(seconds)
}

// RecordError records an error by category
func RecordError(category string) {
	errorsTotal.WithLabelValues(category).Inc()
}
