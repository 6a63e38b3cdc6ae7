package metrics

// MetricsWrapper adapts Metrics to the narrow interfaces the classifier,
// strategy and storage packages depend on.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

func (w *MetricsWrapper) PredictionObserve(key string, seconds float64) {
	w.m.Predictions.WithLabelValues(key).Inc()
	w.m.PredictionLatency.WithLabelValues(key).Observe(seconds)
}

func (w *MetricsWrapper) PredictionFailureInc(key, reason string) {
	w.m.PredictionFailures.WithLabelValues(key, reason).Inc()
}

func (w *MetricsWrapper) TrainingObserve(key string, seconds float64) {
	w.m.Trainings.WithLabelValues(key).Inc()
	w.m.TrainingDuration.WithLabelValues(key).Observe(seconds)
}

func (w *MetricsWrapper) TrainingFailureInc(key string) {
	w.m.TrainingFailures.WithLabelValues(key).Inc()
}

func (w *MetricsWrapper) ProbabilityUnavailableInc(name string) {
	w.m.ProbabilityUnavailable.WithLabelValues(name).Inc()
}

func (w *MetricsWrapper) ModelsLiveSet(n float64) {
	w.m.ModelsLive.Set(n)
}

func (w *MetricsWrapper) BackendRunningSet(running bool) {
	if running {
		w.m.BackendRunning.Set(1)
		return
	}
	w.m.BackendRunning.Set(0)
}

func (w *MetricsWrapper) FallbackInc(reason string) {
	w.m.FallbackDecisions.WithLabelValues(reason).Inc()
}

func (w *MetricsWrapper) StrategySwitchInc() {
	w.m.StrategySwitches.Inc()
}

func (w *MetricsWrapper) SampleStoredInc() {
	w.m.SamplesStored.Inc()
}

func (w *MetricsWrapper) ErrorInc() {
	w.m.ErrorsTotal.Inc()
}
