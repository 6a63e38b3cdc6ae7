package classifier

import (
	"errors"
	"fmt"
)

var (
	// ErrBackendInit is returned by Start when the backend is already running
	// or fails to initialize. The engine must not proceed.
	ErrBackendInit = errors.New("classifier backend init failed")

	// ErrBackendNotRunning is returned for any operation outside the
	// Start/Stop bracket.
	ErrBackendNotRunning = errors.New("classifier backend not running")

	// ErrModelNotTrained is returned when no model exists for a key.
	ErrModelNotTrained = errors.New("model not trained")

	// ErrFeatureShapeMismatch indicates a feature vector that does not match
	// the model's shape. It is a bug in the caller's feature assembly.
	ErrFeatureShapeMismatch = errors.New("feature shape mismatch")
)

// TrainingError reports that the backend rejected a training request.
type TrainingError struct {
	Key    Key
	Reason string
	Err    error
}

func (e *TrainingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("train %s: %s: %v", e.Key, e.Reason, e.Err)
	}
	return fmt.Sprintf("train %s: %s", e.Key, e.Reason)
}

func (e *TrainingError) Unwrap() error { return e.Err }

// PredictionError reports a failed backend prediction or a result that
// cannot be read as a decision.
type PredictionError struct {
	Key    Key
	Reason string
	Err    error
}

func (e *PredictionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("predict %s: %s: %v", e.Key, e.Reason, e.Err)
	}
	return fmt.Sprintf("predict %s: %s", e.Key, e.Reason)
}

func (e *PredictionError) Unwrap() error { return e.Err }

// ErrorKind names the error category of err for metrics labels and API
// responses.
func ErrorKind(err error) string {
	var te *TrainingError
	var pe *PredictionError
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrBackendNotRunning):
		return "backend_not_running"
	case errors.Is(err, ErrBackendInit):
		return "backend_init"
	case errors.Is(err, ErrModelNotTrained):
		return "model_not_trained"
	case errors.Is(err, ErrFeatureShapeMismatch):
		return "feature_shape_mismatch"
	case errors.As(err, &te):
		return "training"
	case errors.As(err, &pe):
		return "prediction"
	default:
		return "unknown"
	}
}
