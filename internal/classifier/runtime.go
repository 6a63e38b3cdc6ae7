package classifier

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Runtime owns the single process-wide backend instance and the critical
// section every backend call runs under. The host engine creates exactly one
// and passes it to the Registry.
type Runtime struct {
	backend Backend
	metrics MetricsInterface

	// mu is held for the duration of every backend call.
	mu         sync.Mutex
	running    atomic.Bool
	generation atomic.Uint64
	searchPath string
	startedAt  time.Time
	stopHooks  []func()
}

// NewRuntime wraps backend. metrics may be nil.
func NewRuntime(backend Backend, metrics MetricsInterface) *Runtime {
	return &Runtime{backend: backend, metrics: metrics}
}

// Start initializes the backend and extends its module search path.
func (r *Runtime) Start(searchPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Load() {
		return fmt.Errorf("%w: backend already running", ErrBackendInit)
	}
	if r.backend == nil {
		return fmt.Errorf("%w: no backend configured", ErrBackendInit)
	}

	if err := guard(func() error { return r.backend.Init(searchPath) }); err != nil {
		log.Error().Err(err).Str("search_path", searchPath).Msg("Classifier backend failed to initialize")
		return fmt.Errorf("%w: %v", ErrBackendInit, err)
	}

	r.searchPath = searchPath
	r.startedAt = time.Now()
	r.generation.Add(1)
	r.running.Store(true)
	if r.metrics != nil {
		r.metrics.BackendRunningSet(true)
	}

	log.Info().Str("search_path", searchPath).Uint64("generation", r.generation.Load()).Msg("Classifier backend started")
	return nil
}

// Stop tears the backend down and invalidates every model handle. Stopping a
// runtime that is not running is a no-op.
func (r *Runtime) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running.Load() {
		return nil
	}
	r.running.Store(false)

	for _, hook := range r.stopHooks {
		hook()
	}

	err := guard(r.backend.Finalize)
	if r.metrics != nil {
		r.metrics.BackendRunningSet(false)
	}
	if err != nil {
		log.Error().Err(err).Msg("Classifier backend finalize failed")
		return fmt.Errorf("finalize backend: %w", err)
	}

	log.Info().Dur("uptime", time.Since(r.startedAt)).Msg("Classifier backend stopped")
	return nil
}

// Running reports whether the backend is between Start and Stop.
func (r *Runtime) Running() bool {
	return r.running.Load()
}

// SearchPath returns the path passed to the most recent Start.
func (r *Runtime) SearchPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.searchPath
}

// onStop registers fn to run inside Stop, under the critical section and
// before the backend is finalized. fn must not call back into the Runtime.
func (r *Runtime) onStop(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopHooks = append(r.stopHooks, fn)
}

// current returns the generation of the running backend, or
// ErrBackendNotRunning.
func (r *Runtime) current() (uint64, error) {
	if !r.running.Load() {
		return 0, ErrBackendNotRunning
	}
	return r.generation.Load(), nil
}

// call runs fn inside the critical section if the backend generation gen is
// still running. A panic in fn is returned as an error and the lock is
// released either way.
func (r *Runtime) call(gen uint64, fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running.Load() || r.generation.Load() != gen {
		return ErrBackendNotRunning
	}
	return guard(fn)
}

func guard(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("backend panic: %v", rec)
		}
	}()
	return fn()
}
