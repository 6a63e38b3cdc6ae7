package native

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cc-classifier/internal/classifier"
)

// writeTraining writes a training file whose lines carry start prefix
// columns, the seven features produced by gen and the labels.
func writeTraining(t *testing.T, dir, name string, start int, gen func(v float64) ([]float64, []int)) string {
	t.Helper()
	var b strings.Builder
	for i := 0; i < 20; i++ {
		v := (float64(i) + 0.5) / 20
		features, labels := gen(v)
		cols := make([]string, 0, start+len(features)+len(labels))
		for j := 0; j < start; j++ {
			cols = append(cols, "0")
		}
		for _, f := range features {
			cols = append(cols, fmt.Sprintf("%g", f))
		}
		for _, l := range labels {
			cols = append(cols, fmt.Sprintf("%d", l))
		}
		b.WriteString(strings.Join(cols, "\t"))
		b.WriteString("\n")
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func constFeatures() []float64 {
	return []float64{0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5}
}

func TestFitTree_Separable(t *testing.T) {
	X := [][]float64{{0.1, 5}, {0.2, 5}, {0.3, 5}, {0.7, 5}, {0.8, 5}, {0.9, 5}}
	y := []int{2, 2, 2, 1, 1, 1}

	tr, err := fitTree(X, y, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, tr.classes)

	c, p := tr.predict([]float64{0.15, 5})
	assert.Equal(t, 2, c)
	assert.Equal(t, 1.0, p)

	c, p = tr.predict([]float64{0.85, 5})
	assert.Equal(t, 1, c)
	assert.Equal(t, 1.0, p)
}

func TestFitTree_DepthLimitedLeafProbability(t *testing.T) {
	X := [][]float64{{1}, {1}, {1}, {1}}
	y := []int{0, 0, 0, 1}

	tr, err := fitTree(X, y, 6)
	require.NoError(t, err)

	c, p := tr.predict([]float64{1})
	assert.Equal(t, 0, c)
	assert.InDelta(t, 0.75, p, 1e-9)
}

func TestFitTree_Errors(t *testing.T) {
	_, err := fitTree(nil, nil, 3)
	assert.Error(t, err)

	_, err = fitTree([][]float64{{1}}, []int{0, 1}, 3)
	assert.Error(t, err)

	_, err = fitTree([][]float64{{1}, {1, 2}}, []int{0, 1}, 3)
	assert.Error(t, err)
}

func TestLoadRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rows.out")
	content := "9\t9\t1\t2\t3\t4\t5\t6\t7\t1\n\n9\t9\t1\t2\t3\t4\t5\t6\t7\t3\t4\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	rows, err := loadRows(path, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6, 7}, rows[0].features)
	assert.Equal(t, []int{1}, rows[0].labels)
	assert.Equal(t, []int{3, 4}, rows[1].labels)
}

func TestLoadRows_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
	}{
		{"too few columns", "1\t2\t3\n"},
		{"not a number", "1\t2\t3\t4\tx\t6\t7\t1\n"},
		{"empty file", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_"))
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			_, err := loadRows(path, 0)
			assert.Error(t, err)
		})
	}

	_, err := loadRows(filepath.Join(dir, "missing"), 0)
	assert.Error(t, err)
}

func TestOCCLabel(t *testing.T) {
	tests := []struct {
		labels []int
		want   int
		ok     bool
	}{
		{[]int{0}, 0, false},
		{[]int{1}, resultOCCPart, true},
		{[]int{2}, resultLockPart, true},
		{[]int{1, 2}, resultOCCShare, true},
		{[]int{2, 1}, resultOCCShare, true},
		{[]int{1, 1}, resultOCCPart, true},
		{[]int{3}, resultOCCShare, true},
		{[]int{0, 1}, 0, false},
		{[]int{1, 0}, 0, false},
		{[]int{2, 0}, 0, false},
		{[]int{4}, 0, false},
	}
	for _, tt := range tests {
		got, ok := occLabel(tt.labels)
		assert.Equal(t, tt.ok, ok, "labels %v", tt.labels)
		if tt.ok {
			assert.Equal(t, tt.want, got, "labels %v", tt.labels)
		}
	}
}

func startedBackend(t *testing.T, dir string) *Backend {
	t.Helper()
	b := New(DefaultOptions())
	require.NoError(t, b.Init(dir))
	t.Cleanup(func() { _ = b.Finalize() })
	return b
}

func TestBackend_SingleOCC(t *testing.T) {
	dir := t.TempDir()
	// readRate (column 5) decides: read-heavy workloads prefer OCC.
	writeTraining(t, dir, "single-occ-train.out", 7, func(v float64) ([]float64, []int) {
		f := constFeatures()
		f[5] = v
		if v > 0.5 {
			return f, []int{resultOCCPart}
		}
		return f, []int{resultLockPart}
	})

	b := startedBackend(t, dir)
	inst, err := b.Construct(classifier.BackendID{Module: "single-classifier", Class: "SingleOCC"}, []string{"single-occ-train.out"})
	require.NoError(t, err)

	res, err := inst.Predict([]float64{0.5, 0.5, 0.9, 0.5})
	require.NoError(t, err)
	assert.Equal(t, resultOCCPart, res)

	res, err = inst.Predict([]float64{0.5, 0.5, 0.1, 0.5})
	require.NoError(t, err)
	assert.Equal(t, resultLockPart, res)

	p, err := inst.Probability(classifier.ProbOCC)
	require.NoError(t, err)
	assert.Equal(t, 1.0, p)

	_, err = inst.Probability(classifier.ProbIndex)
	assert.Error(t, err)
}

func TestBackend_SmallbankPart(t *testing.T) {
	dir := t.TempDir()
	path := writeTraining(t, dir, "sb-part-train.out", 5, func(v float64) ([]float64, []int) {
		f := constFeatures()
		f[0] = v
		if v > 0.5 {
			return f, []int{resultPCC}
		}
		return f, []int{resultOCCPart}
	})

	b := startedBackend(t, "")
	inst, err := b.Construct(classifier.BackendID{Module: "smallbank-classifier", Class: "SmallbankPart"}, []string{path})
	require.NoError(t, err)

	res, err := inst.Predict([]float64{0.9, 0.5, 0.5, 0.5, 0.5, 0.5})
	require.NoError(t, err)
	assert.Equal(t, 0, res)

	res, err = inst.Predict([]float64{0.1, 0.5, 0.5, 0.5, 0.5, 0.5})
	require.NoError(t, err)
	assert.Equal(t, 1, res)

	_, err = inst.Predict([]float64{0.1, 0.5})
	assert.Error(t, err)
}

func writeCombined(t *testing.T, dir string) []string {
	t.Helper()
	part := writeTraining(t, dir, "sb-part-train.out", 5, func(v float64) ([]float64, []int) {
		f := constFeatures()
		f[0] = v
		if v > 0.5 {
			return f, []int{resultPCC}
		}
		return f, []int{resultOCCPart}
	})
	occ := writeTraining(t, dir, "sb-occ-train.out", 5, func(v float64) ([]float64, []int) {
		f := constFeatures()
		f[4] = v
		if v > 0.5 {
			return f, []int{resultOCCPart}
		}
		return f, []int{resultLockPart}
	})
	pure := writeTraining(t, dir, "sb-pure-train.out", 5, func(v float64) ([]float64, []int) {
		f := constFeatures()
		f[6] = v
		if v > 0.5 {
			return f, []int{resultLockShare}
		}
		return f, []int{resultOCCShare}
	})
	index := writeTraining(t, dir, "sb-index-train.out", 5, func(v float64) ([]float64, []int) {
		f := constFeatures()
		f[5] = v
		if v > 0.5 {
			return f, []int{resultOCCShare}
		}
		return f, []int{resultOCCPart}
	})
	return []string{part, occ, pure, index}
}

func TestBackend_SmallbankCombined(t *testing.T) {
	dir := t.TempDir()
	files := writeCombined(t, dir)

	b := startedBackend(t, dir)
	inst, err := b.Construct(classifier.BackendID{Module: "sb-classifier", Class: "Smallbank"}, files)
	require.NoError(t, err)

	tests := []struct {
		name     string
		features []float64
		want     int
		computed []classifier.ProbabilityName
		missing  []classifier.ProbabilityName
	}{
		{
			name:     "partitioned pcc",
			features: []float64{1, 0.9, 0.5, 0.5, 0.5, 0.5, 0.2, 0.5},
			want:     resultPCC,
			computed: []classifier.ProbabilityName{classifier.ProbIndex, classifier.ProbPart},
			missing:  []classifier.ProbabilityName{classifier.ProbOCC, classifier.ProbPure},
		},
		{
			name:     "partitioned occ",
			features: []float64{0, 0.1, 0.5, 0.5, 0.5, 0.9, 0.2, 0.5},
			want:     resultOCCPart,
			computed: []classifier.ProbabilityName{classifier.ProbIndex, classifier.ProbPart, classifier.ProbOCC},
			missing:  []classifier.ProbabilityName{classifier.ProbPure},
		},
		{
			name:     "partitioned locking",
			features: []float64{0, 0.1, 0.5, 0.5, 0.5, 0.1, 0.2, 0.5},
			want:     resultLockPart,
			computed: []classifier.ProbabilityName{classifier.ProbIndex, classifier.ProbPart, classifier.ProbOCC},
		},
		{
			name:     "shared locking",
			features: []float64{0, 0.5, 0.5, 0.5, 0.5, 0.5, 0.9, 0.9},
			want:     resultLockShare,
			computed: []classifier.ProbabilityName{classifier.ProbIndex, classifier.ProbPure},
			missing:  []classifier.ProbabilityName{classifier.ProbPart, classifier.ProbOCC},
		},
		{
			name:     "shared occ",
			features: []float64{0, 0.5, 0.5, 0.5, 0.5, 0.5, 0.9, 0.1},
			want:     resultOCCShare,
			computed: []classifier.ProbabilityName{classifier.ProbIndex, classifier.ProbPure},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := inst.Predict(tt.features)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res)

			for _, name := range tt.computed {
				p, err := inst.Probability(name)
				require.NoError(t, err, name)
				assert.Equal(t, 1.0, p, name)
			}
			for _, name := range tt.missing {
				_, err := inst.Probability(name)
				assert.Error(t, err, name)
			}
		})
	}
}

func TestCascade_LowConfidenceKeepsCurrentType(t *testing.T) {
	dir := t.TempDir()
	files := writeCombined(t, dir)

	opts := DefaultOptions()
	opts.Threshold = 1 // no tree can exceed it
	b := New(opts)
	require.NoError(t, b.Init(dir))
	defer b.Finalize()

	inst, err := b.Construct(classifier.BackendID{Module: "sb-classifier", Class: "Smallbank"}, files)
	require.NoError(t, err)

	for _, tt := range []struct{ cur, want int }{
		{resultPCC, resultPCC},
		{resultOCCPart, resultOCCPart},
		{resultLockPart, resultLockPart},
		{resultOCCShare, resultOCCShare},
		{resultLockShare, resultLockShare},
	} {
		features := []float64{float64(tt.cur), 0.9, 0.5, 0.5, 0.5, 0.9, 0.9, 0.9}
		res, err := inst.Predict(features)
		require.NoError(t, err)
		assert.Equal(t, tt.want, res, "current type %d", tt.cur)
	}
}

func TestBackend_ConstructErrors(t *testing.T) {
	dir := t.TempDir()
	files := writeCombined(t, dir)

	t.Run("not initialized", func(t *testing.T) {
		b := New(DefaultOptions())
		_, err := b.Construct(classifier.BackendID{Module: "sb-classifier", Class: "Smallbank"}, files)
		assert.ErrorIs(t, err, errNotInitialized)
	})

	b := startedBackend(t, dir)
	tests := []struct {
		name  string
		id    classifier.BackendID
		files []string
	}{
		{"unknown module", classifier.BackendID{Module: "tpcc-classifier", Class: "TPCC"}, files[:1]},
		{"unknown class", classifier.BackendID{Module: "sb-classifier", Class: "TPCC"}, files},
		{"wrong file count", classifier.BackendID{Module: "sb-classifier", Class: "Smallbank"}, files[:2]},
		{"missing file", classifier.BackendID{Module: "single-classifier", Class: "SingleOCC"}, []string{"nope.out"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst, err := b.Construct(tt.id, tt.files)
			assert.Error(t, err)
			assert.Nil(t, inst)
		})
	}
}

func TestBackend_InitRejectsMissingSearchPath(t *testing.T) {
	b := New(DefaultOptions())
	assert.Error(t, b.Init(filepath.Join(t.TempDir(), "missing")))
}

func TestBackend_FinalizeReleasesInstances(t *testing.T) {
	dir := t.TempDir()
	files := writeCombined(t, dir)

	b := New(DefaultOptions())
	require.NoError(t, b.Init(dir))
	inst, err := b.Construct(classifier.BackendID{Module: "sb-classifier", Class: "Smallbank"}, files)
	require.NoError(t, err)

	require.NoError(t, b.Finalize())

	_, err = inst.Predict(make([]float64, combinedWidth))
	assert.ErrorIs(t, err, errReleased)
	_, err = inst.Probability(classifier.ProbIndex)
	assert.ErrorIs(t, err, errReleased)
	assert.NoError(t, inst.Release())
}

func TestBackend_WithRuntime(t *testing.T) {
	dir := t.TempDir()
	writeCombined(t, dir)

	rt := classifier.NewRuntime(New(DefaultOptions()), nil)
	require.NoError(t, rt.Start(dir))
	defer rt.Stop()

	reg := classifier.NewRegistry(rt, nil, nil)
	disp := classifier.NewDispatcher(reg, nil)

	key := classifier.Key{Workload: classifier.Smallbank, Kind: classifier.Combined}
	_, err := reg.Train(key, classifier.CombinedFiles("sb-part-train.out", "sb-occ-train.out", "sb-pure-train.out", "sb-index-train.out"))
	require.NoError(t, err)

	vec := classifier.CombinedVector(0, 0.5, 0.5, 0.5, 0.5, 0.5, 0.9, 0.9)
	d, probs, err := disp.PredictWithProbabilities(classifier.Smallbank, vec)
	require.NoError(t, err)
	assert.Equal(t, classifier.Decision(resultLockShare), d)
	assert.Equal(t, classifier.Probability(1), probs.Index)
	assert.Equal(t, classifier.Probability(1), probs.Pure)
	assert.Equal(t, classifier.Unavailable, probs.Part)
	assert.Equal(t, classifier.Unavailable, probs.OCC)
}

func TestSampleLabels(t *testing.T) {
	occ, err := SampleLabels(classifier.BackendID{Module: "single-classifier", Class: "SingleOCC"})
	require.NoError(t, err)
	assert.Equal(t, []int{resultOCCPart, resultLockPart}, occ(resultOCCShare))
	assert.Equal(t, []int{resultLockPart}, occ(resultLockPart))

	combined, err := SampleLabels(classifier.BackendID{Module: "sb-classifier", Class: "Smallbank"})
	require.NoError(t, err)
	assert.Equal(t, []int{resultOCCShare}, combined(resultOCCShare))

	_, err = SampleLabels(classifier.BackendID{Module: "sb-classifier", Class: "Missing"})
	assert.Error(t, err)

	// An exported "either" row is read back as its own class.
	labels := occ(resultOCCShare)
	got, ok := occLabel(labels)
	assert.True(t, ok)
	assert.Equal(t, resultOCCShare, got)
}

func TestLayout(t *testing.T) {
	prefix, cols, err := Layout(classifier.BackendID{Module: "single-classifier", Class: "SingleOCC"})
	require.NoError(t, err)
	assert.Equal(t, 7, prefix)
	require.Len(t, cols, featureCount)
	for i, c := range occColumns {
		assert.Equal(t, classifier.DefaultShape(classifier.OCC)[i], cols[c])
	}

	prefix, cols, err = Layout(classifier.BackendID{Module: "sb-classifier", Class: "Smallbank"})
	require.NoError(t, err)
	assert.Equal(t, 5, prefix)
	assert.Equal(t, classifier.FeatureHomeConf, cols[5])

	cols[0] = "mutated"
	_, again, _ := Layout(classifier.BackendID{Module: "sb-classifier", Class: "Smallbank"})
	assert.Equal(t, classifier.FeaturePartAvg, again[0])

	_, _, err = Layout(classifier.BackendID{Module: "sb-classifier", Class: "Tpcc"})
	assert.Error(t, err)
}
