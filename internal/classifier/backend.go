package classifier

import "fmt"

// BackendID addresses one classifier implementation inside the backend,
// e.g. module "sb-classifier", class "Smallbank".
type BackendID struct {
	Module string `yaml:"module" json:"module"`
	Class  string `yaml:"class" json:"class"`
}

func (id BackendID) String() string {
	return id.Module + "." + id.Class
}

// ProbabilityName selects one of the four confidence accessors of a
// Combined model.
type ProbabilityName string

const (
	ProbIndex ProbabilityName = "index"
	ProbPart  ProbabilityName = "part"
	ProbOCC   ProbabilityName = "occ"
	ProbPure  ProbabilityName = "pure"
)

// Backend is the external classifier library. Implementations need not be
// safe for concurrent use; the Runtime serializes every call.
type Backend interface {
	// Init brings the backend up and adds searchPath to the locations it
	// resolves classifier modules from.
	Init(searchPath string) error

	// Construct resolves id and trains one instance from files.
	Construct(id BackendID, files []string) (Instance, error)

	// Finalize tears the backend down, invalidating all instances.
	Finalize() error
}

// Instance is one trained classifier inside the backend. Its probability
// accessors reflect the most recent Predict call.
type Instance interface {
	// Predict returns the raw result; the dispatcher interprets it as a
	// Decision.
	Predict(features []float64) (any, error)
	Probability(name ProbabilityName) (float64, error)
	Release() error
}

// ModelSpec is the configured backend addressing and input shape for a key.
type ModelSpec struct {
	ID    BackendID `yaml:"backend" json:"backend"`
	Shape Shape     `yaml:"features" json:"features"`
}

// Catalog maps every key to its backend identifier and feature shape.
type Catalog map[Key]ModelSpec

// DefaultCatalog reproduces the classifier modules shipped with the engine.
func DefaultCatalog() Catalog {
	return Catalog{
		{Single, OCC}:          {ID: BackendID{"single-classifier", "SingleOCC"}, Shape: DefaultShape(OCC)},
		{Single, Partition}:    {ID: BackendID{"single-classifier", "SinglePart"}, Shape: DefaultShape(Partition)},
		{Single, Combined}:     {ID: BackendID{"sb-classifier", "Single"}, Shape: DefaultShape(Combined)},
		{Smallbank, OCC}:       {ID: BackendID{"smallbank-classifier", "SmallbankOCC"}, Shape: DefaultShape(OCC)},
		{Smallbank, Partition}: {ID: BackendID{"smallbank-classifier", "SmallbankPart"}, Shape: DefaultShape(Partition)},
		{Smallbank, Combined}:  {ID: BackendID{"sb-classifier", "Smallbank"}, Shape: DefaultShape(Combined)},
	}
}

// Lookup returns the spec for k.
func (c Catalog) Lookup(k Key) (ModelSpec, error) {
	spec, ok := c[k]
	if !ok {
		return ModelSpec{}, fmt.Errorf("no backend mapping for %s", k)
	}
	if len(spec.Shape) == 0 {
		spec.Shape = DefaultShape(k.Kind)
	}
	return spec, nil
}

// MetricsInterface defines the metrics the classifier core reports.
type MetricsInterface interface {
	PredictionObserve(key string, seconds float64)
	PredictionFailureInc(key, reason string)
	TrainingObserve(key string, seconds float64)
	TrainingFailureInc(key string)
	ProbabilityUnavailableInc(name string)
	ModelsLiveSet(n float64)
	BackendRunningSet(running bool)
}
