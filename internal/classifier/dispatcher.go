package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
)

// Dispatcher is the call path the engine uses to obtain execution-strategy
// decisions. It keeps no model state of its own and never retries: every
// failure is returned so the engine can apply its own fallback.
type Dispatcher struct {
	registry *Registry
	metrics  MetricsInterface
}

// NewDispatcher creates a dispatcher over registry. metrics may be nil.
func NewDispatcher(registry *Registry, metrics MetricsInterface) *Dispatcher {
	return &Dispatcher{registry: registry, metrics: metrics}
}

// Predict classifies features with the model for (workload, kind).
func (d *Dispatcher) Predict(workload WorkloadType, kind DecisionKind, features FeatureVector) (Decision, error) {
	key := Key{Workload: workload, Kind: kind}
	start := time.Now()

	h, err := d.resolve(key, features)
	if err != nil {
		d.failed(key, err)
		return 0, err
	}
	defer h.release()

	var decision Decision
	err = d.registry.rt.call(h.gen, func() error {
		var perr error
		decision, perr = predictLocked(h, features)
		return perr
	})
	if err != nil {
		err = asPredictionError(key, err)
		d.failed(key, err)
		return 0, err
	}

	d.observe(key, start)
	log.Debug().Str("model", key.String()).Int("decision", int(decision)).Msg("Classifier decision")
	return decision, nil
}

// GetProbabilities fetches the confidences of the most recent prediction of
// the Combined model for workload. Callers sharing the model across
// goroutines should use PredictWithProbabilities instead, since another
// Predict may run in between.
func (d *Dispatcher) GetProbabilities(workload WorkloadType) (ProbabilitySet, error) {
	key := Key{Workload: workload, Kind: Combined}

	if _, err := d.registry.rt.current(); err != nil {
		d.failed(key, err)
		return UnavailableProbabilities(), err
	}
	h, err := d.registry.acquire(key)
	if err != nil {
		d.failed(key, err)
		return UnavailableProbabilities(), err
	}
	defer h.release()

	var probs ProbabilitySet
	err = d.registry.rt.call(h.gen, func() error {
		probs = d.probabilitiesLocked(h)
		return nil
	})
	if err != nil {
		d.failed(key, err)
		return UnavailableProbabilities(), err
	}
	return probs, nil
}

// PredictWithProbabilities runs a Combined prediction and reads its
// confidences inside one critical section, so no other prediction can
// interleave.
func (d *Dispatcher) PredictWithProbabilities(workload WorkloadType, features FeatureVector) (Decision, ProbabilitySet, error) {
	key := Key{Workload: workload, Kind: Combined}
	start := time.Now()

	h, err := d.resolve(key, features)
	if err != nil {
		d.failed(key, err)
		return 0, UnavailableProbabilities(), err
	}
	defer h.release()

	var decision Decision
	probs := UnavailableProbabilities()
	err = d.registry.rt.call(h.gen, func() error {
		var perr error
		decision, perr = predictLocked(h, features)
		if perr != nil {
			return perr
		}
		probs = d.probabilitiesLocked(h)
		return nil
	})
	if err != nil {
		err = asPredictionError(key, err)
		d.failed(key, err)
		return 0, UnavailableProbabilities(), err
	}

	d.observe(key, start)
	log.Debug().
		Str("model", key.String()).
		Int("decision", int(decision)).
		Stringer("index_prob", probs.Index).
		Stringer("part_prob", probs.Part).
		Stringer("occ_prob", probs.OCC).
		Stringer("pure_prob", probs.Pure).
		Msg("Classifier decision")
	return decision, probs, nil
}

// resolve checks the runtime, acquires the handle and validates the shape.
// On success the caller owns a handle reference.
func (d *Dispatcher) resolve(key Key, features FeatureVector) (*Handle, error) {
	if _, err := d.registry.rt.current(); err != nil {
		return nil, err
	}
	h, err := d.registry.acquire(key)
	if err != nil {
		return nil, err
	}
	if err := h.spec.Shape.Validate(features); err != nil {
		h.release()
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return h, nil
}

func predictLocked(h *Handle, features FeatureVector) (Decision, error) {
	if h.disposed.Load() {
		return 0, ErrBackendNotRunning
	}
	raw, err := h.inst.Predict(features.Values())
	if err != nil {
		return 0, &PredictionError{Key: h.key, Reason: "backend predict failed", Err: err}
	}
	decision, err := toDecision(raw)
	if err != nil {
		return 0, &PredictionError{Key: h.key, Reason: "uninterpretable result", Err: err}
	}
	return decision, nil
}

func (d *Dispatcher) probabilitiesLocked(h *Handle) ProbabilitySet {
	return ProbabilitySet{
		Index: d.probabilityLocked(h, ProbIndex),
		Part:  d.probabilityLocked(h, ProbPart),
		OCC:   d.probabilityLocked(h, ProbOCC),
		Pure:  d.probabilityLocked(h, ProbPure),
	}
}

// probabilityLocked reads one accessor; any failure yields Unavailable.
func (d *Dispatcher) probabilityLocked(h *Handle, name ProbabilityName) Probability {
	v, err := guardFloat(func() (float64, error) { return h.inst.Probability(name) })
	if err == nil && !Probability(v).Available() {
		err = fmt.Errorf("probability %v out of range", v)
	}
	if err != nil {
		if d.metrics != nil {
			d.metrics.ProbabilityUnavailableInc(string(name))
		}
		log.Warn().Err(err).Str("model", h.key.String()).Str("probability", string(name)).Msg("Classifier probability unavailable")
		return Unavailable
	}
	return Probability(v)
}

func guardFloat(fn func() (float64, error)) (v float64, err error) {
	err = guard(func() error {
		var ferr error
		v, ferr = fn()
		return ferr
	})
	return v, err
}

// toDecision interprets a raw backend result as a non-negative integer.
func toDecision(raw any) (Decision, error) {
	var n int64
	switch v := raw.(type) {
	case int:
		n = int64(v)
	case int8:
		n = int64(v)
	case int16:
		n = int64(v)
	case int32:
		n = int64(v)
	case int64:
		n = v
	case uint8:
		n = int64(v)
	case uint16:
		n = int64(v)
	case uint32:
		n = int64(v)
	case uint:
		return toDecision(uint64(v))
	case uint64:
		if v > math.MaxInt32 {
			return 0, fmt.Errorf("result %d out of range", v)
		}
		n = int64(v)
	case float32:
		return toDecision(float64(v))
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
			return 0, fmt.Errorf("non-integral result %v", v)
		}
		if v < 0 || v > math.MaxInt32 {
			return 0, fmt.Errorf("result %v out of range", v)
		}
		n = int64(v)
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("non-integral result %q", v.String())
		}
		n = i
	case Decision:
		n = int64(v)
	default:
		return 0, fmt.Errorf("result of type %T", raw)
	}
	if n < 0 || n > math.MaxInt32 {
		return 0, fmt.Errorf("result %d out of range", n)
	}
	return Decision(n), nil
}

func asPredictionError(key Key, err error) error {
	var pe *PredictionError
	if errors.As(err, &pe) || errors.Is(err, ErrBackendNotRunning) {
		return err
	}
	return &PredictionError{Key: key, Reason: "backend call failed", Err: err}
}

func (d *Dispatcher) observe(key Key, start time.Time) {
	if d.metrics != nil {
		d.metrics.PredictionObserve(key.String(), time.Since(start).Seconds())
	}
}

func (d *Dispatcher) failed(key Key, err error) {
	if d.metrics != nil {
		d.metrics.PredictionFailureInc(key.String(), ErrorKind(err))
	}
	if errors.Is(err, ErrBackendNotRunning) || errors.Is(err, ErrFeatureShapeMismatch) {
		log.Error().Err(err).Str("model", key.String()).Msg("Classifier call rejected")
	}
}
