// Package classifier decides, per transaction or partition, which concurrency
// control strategy the engine executes with. It owns the lifecycle of the
// external classifier backend, the registry of trained models keyed by
// workload and decision kind, and the dispatcher the engine calls on its
// critical path.
//
// Every call into the backend is serialized through a single critical section
// owned by the Runtime, since the backend is not reentrant.
package classifier

import (
	"fmt"
	"math"
	"strings"
)

// WorkloadType is the benchmark shape a model was trained for.
type WorkloadType int

const (
	Single WorkloadType = iota
	Smallbank
)

// WorkloadTypes lists every supported workload in declaration order.
var WorkloadTypes = []WorkloadType{Single, Smallbank}

func (w WorkloadType) String() string {
	switch w {
	case Single:
		return "single"
	case Smallbank:
		return "smallbank"
	default:
		return fmt.Sprintf("workload(%d)", int(w))
	}
}

// ParseWorkloadType accepts the names produced by String, case-insensitively.
func ParseWorkloadType(s string) (WorkloadType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "single":
		return Single, nil
	case "smallbank", "sb":
		return Smallbank, nil
	}
	return 0, fmt.Errorf("unknown workload type %q", s)
}

// DecisionKind is the execution-strategy question a model answers.
type DecisionKind int

const (
	OCC DecisionKind = iota
	Partition
	// Combined jointly decides index routing, partitioning, OCC and purity.
	Combined
)

// DecisionKinds lists every supported decision kind in declaration order.
var DecisionKinds = []DecisionKind{OCC, Partition, Combined}

func (k DecisionKind) String() string {
	switch k {
	case OCC:
		return "occ"
	case Partition:
		return "partition"
	case Combined:
		return "combined"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseDecisionKind accepts the names produced by String plus the short
// forms used in training file names.
func ParseDecisionKind(s string) (DecisionKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "occ":
		return OCC, nil
	case "partition", "part":
		return Partition, nil
	case "combined", "full":
		return Combined, nil
	}
	return 0, fmt.Errorf("unknown decision kind %q", s)
}

// TrainingFiles is the number of training data files a kind consumes.
func (k DecisionKind) TrainingFiles() int {
	if k == Combined {
		return 4
	}
	return 1
}

// Key addresses one model slot in the Registry.
type Key struct {
	Workload WorkloadType
	Kind     DecisionKind
}

func (k Key) String() string {
	return k.Workload.String() + "/" + k.Kind.String()
}

// ParseKey parses "workload/kind".
func ParseKey(s string) (Key, error) {
	w, k, ok := strings.Cut(s, "/")
	if !ok {
		return Key{}, fmt.Errorf("model key %q must be workload/kind", s)
	}
	wt, err := ParseWorkloadType(w)
	if err != nil {
		return Key{}, err
	}
	dk, err := ParseDecisionKind(k)
	if err != nil {
		return Key{}, err
	}
	return Key{Workload: wt, Kind: dk}, nil
}

// AllKeys returns every (workload, kind) pair.
func AllKeys() []Key {
	keys := make([]Key, 0, len(WorkloadTypes)*len(DecisionKinds))
	for _, w := range WorkloadTypes {
		for _, k := range DecisionKinds {
			keys = append(keys, Key{Workload: w, Kind: k})
		}
	}
	return keys
}

// Feature names understood by the default shapes.
const (
	FeatureCurType     = "curType"
	FeaturePartAvg     = "partAvg"
	FeaturePartSkew    = "partSkew"
	FeaturePartLenSkew = "partLenSkew"
	FeatureRecAvg      = "recAvg"
	FeatureLatency     = "latency"
	FeatureReadRate    = "readRate"
	FeatureHomeConf    = "homeConf"
	FeatureConfRate    = "confRate"
)

// Feature is one named runtime statistic.
type Feature struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// FeatureVector is an ordered sequence of named statistics.
type FeatureVector []Feature

// OCCVector builds the vector for single-purpose OCC models.
func OCCVector(recAvg, latency, readRate, confRate float64) FeatureVector {
	return FeatureVector{
		{FeatureRecAvg, recAvg},
		{FeatureLatency, latency},
		{FeatureReadRate, readRate},
		{FeatureConfRate, confRate},
	}
}

// PartitionVector builds the vector for single-purpose partition models.
func PartitionVector(partAvg, partSkew, partLenSkew, recAvg, latency, readRate float64) FeatureVector {
	return FeatureVector{
		{FeaturePartAvg, partAvg},
		{FeaturePartSkew, partSkew},
		{FeaturePartLenSkew, partLenSkew},
		{FeatureRecAvg, recAvg},
		{FeatureLatency, latency},
		{FeatureReadRate, readRate},
	}
}

// CombinedVector builds the vector for Combined models. curType is the
// transaction type tag the engine currently executes with.
func CombinedVector(curType int, partAvg, partSkew, recAvg, latency, readRate, homeConf, confRate float64) FeatureVector {
	return FeatureVector{
		{FeatureCurType, float64(curType)},
		{FeaturePartAvg, partAvg},
		{FeaturePartSkew, partSkew},
		{FeatureRecAvg, recAvg},
		{FeatureLatency, latency},
		{FeatureReadRate, readRate},
		{FeatureHomeConf, homeConf},
		{FeatureConfRate, confRate},
	}
}

// Values returns the raw values in order.
func (v FeatureVector) Values() []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = f.Value
	}
	return out
}

// Names returns the feature names in order.
func (v FeatureVector) Names() []string {
	out := make([]string, len(v))
	for i, f := range v {
		out[i] = f.Name
	}
	return out
}

// Get returns the value of the named feature.
func (v FeatureVector) Get(name string) (float64, bool) {
	for _, f := range v {
		if f.Name == name {
			return f.Value, true
		}
	}
	return 0, false
}

// Shape is the ordered list of feature names a model expects.
type Shape []string

// DefaultShape returns the shape associated with a decision kind.
func DefaultShape(k DecisionKind) Shape {
	switch k {
	case OCC:
		return Shape{FeatureRecAvg, FeatureLatency, FeatureReadRate, FeatureConfRate}
	case Partition:
		return Shape{FeaturePartAvg, FeaturePartSkew, FeaturePartLenSkew, FeatureRecAvg, FeatureLatency, FeatureReadRate}
	case Combined:
		return Shape{FeatureCurType, FeaturePartAvg, FeaturePartSkew, FeatureRecAvg, FeatureLatency, FeatureReadRate, FeatureHomeConf, FeatureConfRate}
	}
	return nil
}

// Validate reports ErrFeatureShapeMismatch unless v has exactly the names of
// s in the same order.
func (s Shape) Validate(v FeatureVector) error {
	if len(v) != len(s) {
		return fmt.Errorf("%w: expected %d features %v, got %d %v", ErrFeatureShapeMismatch, len(s), []string(s), len(v), v.Names())
	}
	for i, name := range s {
		if v[i].Name != name {
			return fmt.Errorf("%w: feature %d is %q, expected %q", ErrFeatureShapeMismatch, i, v[i].Name, name)
		}
	}
	return nil
}

// Decision is the integer classification a model produced.
type Decision int

// Probability is a confidence in [0,1], or Unavailable.
type Probability float64

// Unavailable marks a probability the backend could not produce. It is kept
// distinct from zero.
const Unavailable Probability = -1

// Available reports whether p holds a real probability.
func (p Probability) Available() bool {
	f := float64(p)
	return !math.IsNaN(f) && f >= 0 && f <= 1
}

func (p Probability) String() string {
	if !p.Available() {
		return "unavailable"
	}
	return fmt.Sprintf("%.4f", float64(p))
}

// ProbabilitySet holds the confidences of the most recent Combined prediction.
type ProbabilitySet struct {
	Index Probability `json:"index"`
	Part  Probability `json:"part"`
	OCC   Probability `json:"occ"`
	Pure  Probability `json:"pure"`
}

// UnavailableProbabilities returns a set with every entry Unavailable.
func UnavailableProbabilities() ProbabilitySet {
	return ProbabilitySet{Index: Unavailable, Part: Unavailable, OCC: Unavailable, Pure: Unavailable}
}

// TrainingSpec lists the training data files for one Train call. Paths are
// passed to the backend unvalidated.
type TrainingSpec struct {
	Files []string
}

// SingleFile is the spec for the OCC and Partition kinds.
func SingleFile(path string) TrainingSpec {
	return TrainingSpec{Files: []string{path}}
}

// CombinedFiles is the spec for the Combined kind.
func CombinedFiles(part, occ, pure, index string) TrainingSpec {
	return TrainingSpec{Files: []string{part, occ, pure, index}}
}
