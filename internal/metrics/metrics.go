// Package metrics provides Prometheus metrics collection for the classifier
// service. It defines the prediction, training, backend and fallback metrics
// exposed via the Prometheus metrics endpoint for monitoring and alerting.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the classifier service.
type Metrics struct {
	// Prediction metrics
	Predictions            *prometheus.CounterVec   // Successful predictions by model key
	PredictionFailures     *prometheus.CounterVec   // Failed predictions by model key and error kind
	PredictionLatency      *prometheus.HistogramVec // End-to-end prediction latency by model key
	ProbabilityUnavailable *prometheus.CounterVec   // Probability accessors that could not produce a value

	// Training metrics
	Trainings        *prometheus.CounterVec   // Successful trainings by model key
	TrainingFailures *prometheus.CounterVec   // Failed trainings by model key
	TrainingDuration *prometheus.HistogramVec // Training duration by model key

	// Backend metrics
	ModelsLive     prometheus.Gauge // Number of live model handles
	BackendRunning prometheus.Gauge // 1 while the classifier backend is running

	// Strategy metrics
	FallbackDecisions *prometheus.CounterVec // Decisions replaced by the static fallback, by reason
	StrategySwitches  prometheus.Counter     // Execution plan changes applied by the engine

	// Storage metrics
	SamplesStored prometheus.Counter // Decision samples persisted for retraining
	ErrorsTotal   prometheus.Counter // Total number of errors encountered
}

// New creates and registers all metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		Predictions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "classifier_predictions_total",
			Help: "Total number of successful classifier predictions",
		}, []string{"model"}),
		PredictionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "classifier_prediction_failures_total",
			Help: "Total number of failed classifier predictions",
		}, []string{"model", "reason"}),
		PredictionLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "classifier_prediction_latency_seconds",
			Help:    "Classifier prediction latency in seconds (end-to-end, including lock wait)",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}, []string{"model"}),
		ProbabilityUnavailable: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "classifier_probability_unavailable_total",
			Help: "Total number of probability reads that fell back to unavailable",
		}, []string{"probability"}),
		Trainings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "classifier_trainings_total",
			Help: "Total number of successful classifier trainings",
		}, []string{"model"}),
		TrainingFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "classifier_training_failures_total",
			Help: "Total number of failed classifier trainings",
		}, []string{"model"}),
		TrainingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "classifier_training_duration_seconds",
			Help:    "Classifier training duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"model"}),
		ModelsLive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "classifier_models_live",
			Help: "Number of live classifier model handles",
		}),
		BackendRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "classifier_backend_running",
			Help: "Whether the classifier backend is running (1) or not (0)",
		}),
		FallbackDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "strategy_fallback_decisions_total",
			Help: "Total number of execution plans chosen by the static fallback",
		}, []string{"reason"}),
		StrategySwitches: factory.NewCounter(prometheus.CounterOpts{
			Name: "strategy_switches_total",
			Help: "Total number of execution plan changes",
		}),
		SamplesStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "samples_stored_total",
			Help: "Total number of decision samples persisted",
		}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors encountered",
		}),
	}
}
