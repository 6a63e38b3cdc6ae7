package strategy

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"cc-classifier/internal/classifier"
)

// Predictor is the part of the classifier dispatcher the selector uses.
type Predictor interface {
	Predict(workload classifier.WorkloadType, kind classifier.DecisionKind, features classifier.FeatureVector) (classifier.Decision, error)
	PredictWithProbabilities(workload classifier.WorkloadType, features classifier.FeatureVector) (classifier.Decision, classifier.ProbabilitySet, error)
}

type MetricsInterface interface {
	FallbackInc(reason string)
	StrategySwitchInc()
}

// Mode selects which classifiers drive the plan.
type Mode int

const (
	// ModeCombined asks the combined model for index layout and protocol.
	ModeCombined Mode = iota
	// ModeSplit asks the partition model first and the OCC model when
	// partitioned CC is rejected.
	ModeSplit
)

// Vectors holds the feature vectors for one decision period.
type Vectors struct {
	OCC       classifier.FeatureVector
	Partition classifier.FeatureVector
	Combined  classifier.FeatureVector
}

// Outcome is the result of one selection round.
type Outcome struct {
	Plan          Plan                       `json:"plan"`
	Switched      bool                       `json:"switched"`
	Kind          classifier.DecisionKind    `json:"-"`
	Decision      classifier.Decision        `json:"decision"`
	Probabilities *classifier.ProbabilitySet `json:"probabilities,omitempty"`
	Err           error                      `json:"-"`
}

// DefaultFallback is the plan used when no decision can be made: locking
// works on either index layout and under any contention.
func DefaultFallback(current Plan) Plan {
	return Plan{Index: current.Index, Protocol: Locking, Fallback: true}
}

// Selector keeps the current plan for one workload and moves it forward
// with each round of statistics.
type Selector struct {
	predictor Predictor
	workload  classifier.WorkloadType
	mode      Mode
	metrics   MetricsInterface

	mu      sync.Mutex
	current Plan
}

func NewSelector(p Predictor, workload classifier.WorkloadType, mode Mode, initial Plan, metrics MetricsInterface) *Selector {
	return &Selector{
		predictor: p,
		workload:  workload,
		mode:      mode,
		metrics:   metrics,
		current:   initial,
	}
}

// Current returns the plan in effect.
func (s *Selector) Current() Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// CurType is the running execution type fed back to the combined model.
func (s *Selector) CurType() int {
	return s.Current().ExecType()
}

// Next asks the classifiers for a plan. Any classifier error yields the
// locking fallback, never a guessed plan.
func (s *Selector) Next(v Vectors) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out Outcome
	switch s.mode {
	case ModeSplit:
		out = s.split(v)
	default:
		out = s.combined(v)
	}

	if out.Err != nil {
		reason := classifier.ErrorKind(out.Err)
		if errors.Is(out.Err, ErrInvalidDecision) {
			reason = "invalid_decision"
		}
		out.Plan = DefaultFallback(s.current)
		out.Plan.Reason = reason
		if s.metrics != nil {
			s.metrics.FallbackInc(reason)
		}
		log.Warn().
			Err(out.Err).
			Stringer("workload", s.workload).
			Str("reason", reason).
			Msg("classifier unavailable, falling back to locking")
	}

	if !out.Plan.Same(s.current) {
		out.Switched = true
		if s.metrics != nil {
			s.metrics.StrategySwitchInc()
		}
		log.Info().
			Stringer("workload", s.workload).
			Stringer("from", s.current).
			Stringer("to", out.Plan).
			Msg("execution plan switched")
	}
	s.current = out.Plan
	return out
}

func (s *Selector) combined(v Vectors) Outcome {
	out := Outcome{Kind: classifier.Combined}
	d, probs, err := s.predictor.PredictWithProbabilities(s.workload, v.Combined)
	if err != nil {
		out.Err = err
		return out
	}
	out.Decision = d
	out.Probabilities = &probs
	out.Plan, out.Err = Apply(classifier.Combined, d, s.current)
	return out
}

func (s *Selector) split(v Vectors) Outcome {
	out := Outcome{Kind: classifier.Partition}
	d, err := s.predictor.Predict(s.workload, classifier.Partition, v.Partition)
	if err != nil {
		out.Err = err
		return out
	}
	out.Decision = d
	plan, err := Apply(classifier.Partition, d, s.current)
	if err != nil || plan.Protocol == Partition {
		out.Plan, out.Err = plan, err
		return out
	}

	out.Kind = classifier.OCC
	d, err = s.predictor.Predict(s.workload, classifier.OCC, v.OCC)
	if err != nil {
		out.Err = err
		return out
	}
	out.Decision = d
	out.Plan, out.Err = Apply(classifier.OCC, d, plan)
	return out
}
