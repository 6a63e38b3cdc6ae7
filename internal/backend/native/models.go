package native

import (
	"fmt"

	"cc-classifier/internal/classifier"
)

// Result codes produced by the classifiers. They match the execution types
// the engine understands: partitioned CC, OCC or locking on a partitioned
// index, OCC or locking on a shared index.
const (
	resultPCC       = 0
	resultOCCPart   = 1
	resultLockPart  = 2
	resultOCCShare  = 3
	resultLockShare = 4
)

// Feature columns of the two training file layouts, in file order.
var (
	singleLayout = []string{
		classifier.FeaturePartAvg, classifier.FeaturePartSkew, classifier.FeaturePartLenSkew,
		classifier.FeatureRecAvg, classifier.FeatureLatency, classifier.FeatureReadRate, classifier.FeatureConfRate,
	}
	combinedLayout = []string{
		classifier.FeaturePartAvg, classifier.FeaturePartSkew, classifier.FeatureRecAvg,
		classifier.FeatureLatency, classifier.FeatureReadRate, classifier.FeatureHomeConf, classifier.FeatureConfRate,
	}
)

// Column positions of the single-purpose training layout.
var (
	occColumns  = []int{3, 4, 5, 6}       // recAvg latency readRate confRate
	partColumns = []int{0, 1, 2, 3, 4, 5} // partAvg partSkew partLenSkew recAvg latency readRate
)

// Column positions of the combined training layout: partAvg, partSkew,
// recAvg, latency, readRate, homeConf, confRate.
var (
	combinedIndexColumns = []int{0, 1, 3, 5}
	combinedPartColumns  = []int{0, 2, 3, 4, 5}
	combinedOCCColumns   = []int{2, 3, 4, 5}
	combinedPureColumns  = []int{2, 3, 4, 6}
)

// model is a trained classifier class.
type model interface {
	width() int
	predict(x []float64) (int, map[classifier.ProbabilityName]float64)
}

// class describes how to build one classifier class from its training
// files.
type class struct {
	files  int
	start  int // prefix columns skipped in every training line
	layout []string
	occ    bool
	build  func(opts Options, rows [][]row) (model, error)
}

// modules lists the classifier modules and their classes.
var modules = map[string]map[string]class{
	"single-classifier": {
		"SingleOCC":  {files: 1, start: 7, layout: singleLayout, occ: true, build: buildOCC},
		"SinglePart": {files: 1, start: 7, layout: singleLayout, build: buildPart},
	},
	"smallbank-classifier": {
		"SmallbankOCC":  {files: 1, start: 5, layout: singleLayout, occ: true, build: buildOCC},
		"SmallbankPart": {files: 1, start: 5, layout: singleLayout, build: buildPart},
	},
	"sb-classifier": {
		"Single":    {files: 4, start: 7, layout: combinedLayout, build: buildCombined},
		"Smallbank": {files: 4, start: 5, layout: combinedLayout, build: buildCombined},
	},
}

func lookupClass(id classifier.BackendID) (class, error) {
	classes, ok := modules[id.Module]
	if !ok {
		return class{}, fmt.Errorf("no module named %q", id.Module)
	}
	cls, ok := classes[id.Class]
	if !ok {
		return class{}, fmt.Errorf("module %q has no class %q", id.Module, id.Class)
	}
	return cls, nil
}

// Layout returns the number of prefix columns and the feature column names
// of the training files read by id.
func Layout(id classifier.BackendID) (prefix int, columns []string, err error) {
	cls, err := lookupClass(id)
	if err != nil {
		return 0, nil, err
	}
	return cls.start, append([]string(nil), cls.layout...), nil
}

// singleTree wraps one tree for the single-purpose classes.
type singleTree struct {
	t    *tree
	cols int
	prob classifier.ProbabilityName
}

func (m *singleTree) width() int { return m.cols }

func (m *singleTree) predict(x []float64) (int, map[classifier.ProbabilityName]float64) {
	c, p := m.t.predict(x)
	return c, map[classifier.ProbabilityName]float64{m.prob: p}
}

// occLabel maps a row's labels to the OCC/locking class. Rows that ran
// under partitioned CC carry no information and are dropped, as are rows
// whose second label is partitioned CC. A row that lists both protocols, or
// the single label resultOCCShare written by sample export, becomes its own
// class.
func occLabel(labels []int) (int, bool) {
	if labels[0] == resultPCC || (len(labels) > 1 && labels[1] == resultPCC) {
		return 0, false
	}
	var occ, lock bool
	for _, l := range labels {
		switch l {
		case resultOCCPart:
			occ = true
		case resultLockPart:
			lock = true
		case resultOCCShare:
			occ, lock = true, true
		}
	}
	switch {
	case occ && lock:
		return resultOCCShare, true
	case occ:
		return resultOCCPart, true
	case lock:
		return resultLockPart, true
	}
	return 0, false
}

// SampleLabels returns the label columns to write for a recorded decision of
// the class id. The OCC classes write an "either" decision as both
// protocols, the layout their training files use.
func SampleLabels(id classifier.BackendID) (func(decision int) []int, error) {
	cls, err := lookupClass(id)
	if err != nil {
		return nil, err
	}
	if !cls.occ {
		return func(decision int) []int { return []int{decision} }, nil
	}
	return func(decision int) []int {
		if decision == resultOCCShare {
			return []int{resultOCCPart, resultLockPart}
		}
		return []int{decision}
	}, nil
}

func buildOCC(opts Options, files [][]row) (model, error) {
	var X [][]float64
	var y []int
	for _, r := range files[0] {
		label, ok := occLabel(r.labels)
		if !ok {
			continue
		}
		X = append(X, pick(r.features, occColumns))
		y = append(y, label)
	}
	t, err := fitTree(X, y, opts.MaxDepth)
	if err != nil {
		return nil, fmt.Errorf("occ tree: %w", err)
	}
	return &singleTree{t: t, cols: len(occColumns), prob: classifier.ProbOCC}, nil
}

func buildPart(opts Options, files [][]row) (model, error) {
	X := make([][]float64, 0, len(files[0]))
	y := make([]int, 0, len(files[0]))
	for _, r := range files[0] {
		X = append(X, pick(r.features, partColumns))
		y = append(y, partLabel(r.labels))
	}
	t, err := fitTree(X, y, opts.MaxDepth)
	if err != nil {
		return nil, fmt.Errorf("partition tree: %w", err)
	}
	return &singleTree{t: t, cols: len(partColumns), prob: classifier.ProbPart}, nil
}

func partLabel(labels []int) int {
	if labels[0] == resultPCC {
		return 0
	}
	return 1
}

// cascade is the combined classifier: an index tree picks partitioned or
// shared index, then the partition and OCC trees or the pure tree pick the
// protocol. A tree whose confidence does not exceed the threshold defers to
// the currently running execution type.
type cascade struct {
	threshold float64
	index     *tree
	part      *tree
	occ       *tree
	pure      *tree
}

// Combined input: curType partAvg partSkew recAvg latency readRate homeConf confRate.
const combinedWidth = 8

func (m *cascade) width() int { return combinedWidth }

func (m *cascade) predict(x []float64) (int, map[classifier.ProbabilityName]float64) {
	curType := int(x[0])
	partAvg, partSkew, recAvg, latency := x[1], x[2], x[3], x[4]
	readRate, homeConf, confRate := x[5], x[6], x[7]
	probs := map[classifier.ProbabilityName]float64{}

	idx, indexProb := m.index.predict([]float64{partAvg, partSkew, latency, homeConf})
	probs[classifier.ProbIndex] = indexProb
	shared := curType > resultLockPart
	if indexProb > m.threshold {
		shared = idx == 1
	}

	if !shared {
		part, partProb := m.part.predict([]float64{partAvg, recAvg, latency, readRate, homeConf})
		probs[classifier.ProbPart] = partProb
		usePCC := curType == resultPCC
		if partProb > m.threshold {
			usePCC = part == 0
		}
		if usePCC {
			return resultPCC, probs
		}
		if curType > resultLockPart {
			curType -= 2
		}
		occ, occProb := m.occ.predict([]float64{recAvg, latency, readRate, homeConf})
		probs[classifier.ProbOCC] = occProb
		if occProb > m.threshold {
			return occ, probs
		}
		return curType, probs
	}

	if curType <= resultLockPart {
		curType += 2
	}
	if curType == resultLockPart {
		curType = resultLockShare
	}
	pure, pureProb := m.pure.predict([]float64{recAvg, latency, readRate, confRate})
	probs[classifier.ProbPure] = pureProb
	if pureProb > m.threshold {
		return pure, probs
	}
	return curType, probs
}

// buildCombined trains the four cascade trees from the part, occ, pure and
// index training files, in that order.
func buildCombined(opts Options, files [][]row) (model, error) {
	m := &cascade{threshold: opts.Threshold}
	var err error

	var X [][]float64
	var y []int
	for _, r := range files[0] {
		X = append(X, pick(r.features, combinedPartColumns))
		y = append(y, partLabel(r.labels))
	}
	if m.part, err = fitTree(X, y, opts.CascadeDepth); err != nil {
		return nil, fmt.Errorf("partition tree: %w", err)
	}

	X, y = nil, nil
	for _, r := range files[1] {
		if l := r.labels[0]; l == resultOCCPart || l == resultLockPart {
			X = append(X, pick(r.features, combinedOCCColumns))
			y = append(y, l)
		}
	}
	if m.occ, err = fitTree(X, y, opts.CascadeDepth); err != nil {
		return nil, fmt.Errorf("occ tree: %w", err)
	}

	X, y = nil, nil
	for _, r := range files[2] {
		l := r.labels[0]
		if l != resultOCCShare && l != resultLockShare {
			continue
		}
		x := pick(r.features, combinedPureColumns)
		X = append(X, x)
		y = append(y, l)
		if l == resultOCCShare && len(r.labels) > 1 && r.labels[1] == resultLockShare {
			X = append(X, x)
			y = append(y, resultLockShare)
		}
	}
	if m.pure, err = fitTree(X, y, opts.ShallowDepth); err != nil {
		return nil, fmt.Errorf("pure tree: %w", err)
	}

	X, y = nil, nil
	for _, r := range files[3] {
		label := 0
		for _, l := range r.labels {
			if l > resultLockPart {
				label = 1
			}
		}
		X = append(X, pick(r.features, combinedIndexColumns))
		y = append(y, label)
	}
	if m.index, err = fitTree(X, y, opts.ShallowDepth); err != nil {
		return nil, fmt.Errorf("index tree: %w", err)
	}
	return m, nil
}
