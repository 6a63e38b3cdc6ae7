// Package native is the in-process classifier backend. It trains CART
// decision trees from the engine's tab-separated training files and serves
// predictions without any external runtime.
package native

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"cc-classifier/internal/classifier"
)

var (
	errNotInitialized = errors.New("native backend is not initialized")
	errReleased       = errors.New("instance released")
)

// Options tunes tree training and the cascade threshold.
type Options struct {
	MaxDepth     int     // single-purpose trees; 0 means unlimited
	CascadeDepth int     // combined partition and OCC trees
	ShallowDepth int     // combined pure and index trees
	Threshold    float64 // minimum confidence before a combined tree overrides the running type
}

func DefaultOptions() Options {
	return Options{
		MaxDepth:     6,
		CascadeDepth: 6,
		ShallowDepth: 4,
		Threshold:    0,
	}
}

// Backend implements classifier.Backend.
type Backend struct {
	opts Options

	mu          sync.Mutex
	initialized bool
	searchPaths []string
	live        map[*instance]struct{}
}

func New(opts Options) *Backend {
	return &Backend{opts: opts}
}

// Options returns the options the backend was created with.
func (b *Backend) Options() Options { return b.opts }

func (b *Backend) Init(searchPath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if searchPath != "" {
		info, err := os.Stat(searchPath)
		if err != nil {
			return fmt.Errorf("search path: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("search path %s is not a directory", searchPath)
		}
		b.searchPaths = append(b.searchPaths, searchPath)
	}
	b.initialized = true
	b.live = make(map[*instance]struct{})
	log.Debug().Str("search_path", searchPath).Msg("native backend initialized")
	return nil
}

func (b *Backend) Construct(id classifier.BackendID, files []string) (classifier.Instance, error) {
	b.mu.Lock()
	if !b.initialized {
		b.mu.Unlock()
		return nil, errNotInitialized
	}
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = b.resolve(f)
	}
	b.mu.Unlock()

	cls, err := lookupClass(id)
	if err != nil {
		return nil, err
	}
	if len(paths) != cls.files {
		return nil, fmt.Errorf("%s takes %d training files, got %d", id, cls.files, len(paths))
	}

	data := make([][]row, len(paths))
	for i, p := range paths {
		rows, err := loadRows(p, cls.start)
		if err != nil {
			return nil, err
		}
		data[i] = rows
	}

	m, err := cls.build(b.opts, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}

	inst := &instance{backend: b, id: id, model: m}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return nil, errNotInitialized
	}
	b.live[inst] = struct{}{}
	return inst, nil
}

// Finalize releases every live instance.
func (b *Backend) Finalize() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for inst := range b.live {
		inst.released = true
	}
	b.live = nil
	b.initialized = false
	b.searchPaths = nil
	return nil
}

// resolve finds a relative training file under the search paths. Caller
// holds b.mu.
func (b *Backend) resolve(file string) string {
	if filepath.IsAbs(file) {
		return file
	}
	for _, dir := range b.searchPaths {
		p := filepath.Join(dir, file)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return file
}

type instance struct {
	backend  *Backend
	id       classifier.BackendID
	model    model
	released bool
	probs    map[classifier.ProbabilityName]float64
}

func (i *instance) Predict(features []float64) (any, error) {
	if i.isReleased() {
		return nil, errReleased
	}
	if len(features) != i.model.width() {
		return nil, fmt.Errorf("%s expects %d features, got %d", i.id, i.model.width(), len(features))
	}
	result, probs := i.model.predict(features)
	i.probs = probs
	return result, nil
}

// Probability reports the confidence of the named tree in the last
// prediction.
func (i *instance) Probability(name classifier.ProbabilityName) (float64, error) {
	if i.isReleased() {
		return 0, errReleased
	}
	p, ok := i.probs[name]
	if !ok {
		return 0, fmt.Errorf("%s: probability %q not computed by the last prediction", i.id, name)
	}
	return p, nil
}

func (i *instance) Release() error {
	b := i.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	i.released = true
	delete(b.live, i)
	return nil
}

func (i *instance) isReleased() bool {
	i.backend.mu.Lock()
	defer i.backend.mu.Unlock()
	return i.released
}
