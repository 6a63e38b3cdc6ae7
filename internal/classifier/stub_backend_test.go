package classifier

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// stubBackend is an in-memory Backend that records every call.
type stubBackend struct {
	mu           sync.Mutex
	initErr      error
	constructErr error
	nilInstance  bool
	result       any
	predictErr   error
	predictPanic bool
	probs        map[ProbabilityName]float64
	probErrs     map[ProbabilityName]error
	delay        time.Duration

	initCalls      atomic.Int32
	finalizeCalls  atomic.Int32
	constructCalls atomic.Int32
	predictCalls   atomic.Int32
	releaseCalls   atomic.Int32

	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	lastID    BackendID
	lastFiles []string
}

func newStubBackend() *stubBackend {
	return &stubBackend{
		result: 1,
		probs: map[ProbabilityName]float64{
			ProbIndex: 0.9,
			ProbPart:  0.8,
			ProbOCC:   0.7,
			ProbPure:  0.6,
		},
		probErrs: map[ProbabilityName]error{},
	}
}

func (b *stubBackend) Init(searchPath string) error {
	b.initCalls.Add(1)
	return b.initErr
}

func (b *stubBackend) Construct(id BackendID, files []string) (Instance, error) {
	b.enter()
	defer b.leave()
	b.constructCalls.Add(1)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastID = id
	b.lastFiles = append([]string(nil), files...)
	if b.constructErr != nil {
		return nil, b.constructErr
	}
	if b.nilInstance {
		return nil, nil
	}
	return &stubInstance{b: b, result: b.result}, nil
}

func (b *stubBackend) Finalize() error {
	b.finalizeCalls.Add(1)
	return nil
}

func (b *stubBackend) setResult(v any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.result = v
}

// enter and leave track how many backend calls overlap.
func (b *stubBackend) enter() {
	n := b.inFlight.Add(1)
	for {
		cur := b.maxInFlight.Load()
		if n <= cur || b.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
}

func (b *stubBackend) leave() { b.inFlight.Add(-1) }

type stubInstance struct {
	b      *stubBackend
	result any
}

func (s *stubInstance) Predict(features []float64) (any, error) {
	s.b.enter()
	defer s.b.leave()
	s.b.predictCalls.Add(1)
	if s.b.delay > 0 {
		time.Sleep(s.b.delay)
	}
	if s.b.predictPanic {
		panic("stub predict panic")
	}
	if s.b.predictErr != nil {
		return nil, s.b.predictErr
	}
	return s.result, nil
}

func (s *stubInstance) Probability(name ProbabilityName) (float64, error) {
	s.b.enter()
	defer s.b.leave()
	if err := s.b.probErrs[name]; err != nil {
		return 0, err
	}
	v, ok := s.b.probs[name]
	if !ok {
		return 0, errors.New("no such probability")
	}
	return v, nil
}

func (s *stubInstance) Release() error {
	s.b.releaseCalls.Add(1)
	return nil
}

// stubMetrics implements MetricsInterface for tests.
type stubMetrics struct {
	mu                sync.Mutex
	predictions       int
	failures          map[string]int
	trainings         int
	trainingFailures  int
	unavailable       int
	modelsLive        float64
	backendRunning    bool
	backendRunningSet int
}

func newStubMetrics() *stubMetrics {
	return &stubMetrics{failures: make(map[string]int)}
}

func (m *stubMetrics) PredictionObserve(key string, seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictions++
}

func (m *stubMetrics) PredictionFailureInc(key, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[reason]++
}

func (m *stubMetrics) TrainingObserve(key string, seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trainings++
}

func (m *stubMetrics) TrainingFailureInc(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trainingFailures++
}

func (m *stubMetrics) ProbabilityUnavailableInc(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable++
}

func (m *stubMetrics) ModelsLiveSet(n float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modelsLive = n
}

func (m *stubMetrics) BackendRunningSet(running bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backendRunning = running
	m.backendRunningSet++
}
