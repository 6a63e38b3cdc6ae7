package classifier

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Handle references one trained backend instance. Handles are immutable; the
// Registry replaces them on re-training rather than mutating them. A replaced
// handle stays usable until its last in-flight prediction releases it.
type Handle struct {
	id            uuid.UUID
	key           Key
	spec          ModelSpec
	inst          Instance
	gen           uint64
	trainedAt     time.Time
	trainDuration time.Duration

	rt       *Runtime
	refs     atomic.Int32
	disposed atomic.Bool
}

func (h *Handle) ID() uuid.UUID                { return h.id }
func (h *Handle) Key() Key                     { return h.key }
func (h *Handle) Backend() BackendID           { return h.spec.ID }
func (h *Handle) Shape() Shape                 { return h.spec.Shape }
func (h *Handle) TrainedAt() time.Time         { return h.trainedAt }
func (h *Handle) TrainDuration() time.Duration { return h.trainDuration }

// Disposed reports whether the handle's backend instance has been released.
func (h *Handle) Disposed() bool { return h.disposed.Load() }

func (h *Handle) release() {
	if h.refs.Add(-1) == 0 {
		h.free()
	}
}

func (h *Handle) free() {
	if !h.disposed.CompareAndSwap(false, true) {
		return
	}
	err := h.rt.call(h.gen, h.inst.Release)
	if err != nil && !errors.Is(err, ErrBackendNotRunning) {
		log.Warn().Err(err).Str("model", h.key.String()).Str("handle", h.id.String()).Msg("Failed to release classifier instance")
	}
}

// ModelInfo describes a live handle.
type ModelInfo struct {
	Key           string        `json:"key"`
	ID            string        `json:"id"`
	Backend       string        `json:"backend"`
	Features      []string      `json:"features"`
	TrainedAt     time.Time     `json:"trained_at"`
	TrainDuration time.Duration `json:"train_duration_ns"`
}

// Registry trains and owns model handles, at most one per Key.
type Registry struct {
	rt      *Runtime
	catalog Catalog
	metrics MetricsInterface

	mu      sync.RWMutex
	handles map[Key]*Handle
}

// NewRegistry creates a registry bound to rt. A nil catalog selects
// DefaultCatalog. metrics may be nil.
func NewRegistry(rt *Runtime, catalog Catalog, metrics MetricsInterface) *Registry {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	r := &Registry{
		rt:      rt,
		catalog: catalog,
		metrics: metrics,
		handles: make(map[Key]*Handle),
	}
	rt.onStop(r.invalidate)
	return r
}

// Runtime returns the runtime the registry is bound to.
func (r *Registry) Runtime() *Runtime { return r.rt }

// Train fits a new model for key and atomically replaces any existing one.
func (r *Registry) Train(key Key, spec TrainingSpec) (*Handle, error) {
	gen, err := r.rt.current()
	if err != nil {
		return nil, err
	}

	mspec, err := r.catalog.Lookup(key)
	if err != nil {
		r.trainingFailed(key)
		return nil, &TrainingError{Key: key, Reason: "unmapped model", Err: err}
	}
	if want := key.Kind.TrainingFiles(); len(spec.Files) != want {
		r.trainingFailed(key)
		return nil, &TrainingError{Key: key, Reason: fmt.Sprintf("expected %d training files, got %d", want, len(spec.Files))}
	}

	start := time.Now()
	var inst Instance
	err = r.rt.call(gen, func() error {
		var cerr error
		inst, cerr = r.rt.backend.Construct(mspec.ID, spec.Files)
		return cerr
	})
	elapsed := time.Since(start)
	if errors.Is(err, ErrBackendNotRunning) {
		return nil, err
	}
	if err != nil {
		r.trainingFailed(key)
		log.Error().Err(err).Str("model", key.String()).Str("backend_id", mspec.ID.String()).Strs("files", spec.Files).Msg("Classifier training failed")
		return nil, &TrainingError{Key: key, Reason: "backend constructor failed", Err: err}
	}
	if inst == nil {
		r.trainingFailed(key)
		return nil, &TrainingError{Key: key, Reason: "backend returned no instance"}
	}

	h := &Handle{
		id:            uuid.New(),
		key:           key,
		spec:          mspec,
		inst:          inst,
		gen:           gen,
		trainedAt:     time.Now(),
		trainDuration: elapsed,
		rt:            r.rt,
	}
	h.refs.Store(1) // the registry's own reference

	r.mu.Lock()
	if !r.rt.Running() || r.rt.generation.Load() != gen {
		r.mu.Unlock()
		h.disposed.Store(true)
		return nil, ErrBackendNotRunning
	}
	old := r.handles[key]
	r.handles[key] = h
	live := len(r.handles)
	r.mu.Unlock()

	if old != nil {
		old.release()
	}

	if r.metrics != nil {
		r.metrics.TrainingObserve(key.String(), elapsed.Seconds())
		r.metrics.ModelsLiveSet(float64(live))
	}
	log.Info().
		Str("model", key.String()).
		Str("backend_id", mspec.ID.String()).
		Str("handle", h.id.String()).
		Bool("replaced", old != nil).
		Dur("duration", elapsed).
		Msg("Classifier trained")

	return h, nil
}

// Get returns the current handle for key.
func (r *Registry) Get(key Key) (*Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelNotTrained, key)
	}
	return h, nil
}

// acquire returns the handle for key with a reference held for the caller,
// who must call release.
func (r *Registry) acquire(key Key) (*Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelNotTrained, key)
	}
	h.refs.Add(1)
	return h, nil
}

// Dispose removes the handle for key and releases its backend instance once
// in-flight predictions finish. Disposing a missing key is a no-op.
func (r *Registry) Dispose(key Key) {
	r.mu.Lock()
	h, ok := r.handles[key]
	delete(r.handles, key)
	live := len(r.handles)
	r.mu.Unlock()

	if !ok {
		return
	}
	h.release()
	if r.metrics != nil {
		r.metrics.ModelsLiveSet(float64(live))
	}
	log.Info().Str("model", key.String()).Str("handle", h.id.String()).Msg("Classifier disposed")
}

// Models describes every live handle, ordered by key.
func (r *Registry) Models() []ModelInfo {
	r.mu.RLock()
	out := make([]ModelInfo, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, ModelInfo{
			Key:           h.key.String(),
			ID:            h.id.String(),
			Backend:       h.spec.ID.String(),
			Features:      append([]string(nil), h.spec.Shape...),
			TrainedAt:     h.trainedAt,
			TrainDuration: h.trainDuration,
		})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// invalidate runs inside Runtime.Stop; the backend frees every instance on
// finalize, so handles are only marked disposed.
func (r *Registry) invalidate() {
	r.mu.Lock()
	for key, h := range r.handles {
		h.disposed.Store(true)
		delete(r.handles, key)
	}
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.ModelsLiveSet(0)
	}
}

func (r *Registry) trainingFailed(key Key) {
	if r.metrics != nil {
		r.metrics.TrainingFailureInc(key.String())
	}
}
