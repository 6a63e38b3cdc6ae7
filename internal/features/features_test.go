package features

import (
	"math"
	"testing"
	"time"

	"cc-classifier/internal/classifier"
	"cc-classifier/internal/strategy"
)

const eps = 1e-9

func baseSummary() Summary {
	return Summary{
		TxnSample:       10,
		PartStat:        []int64{10, 10, 10, 10},
		PartTotal:       20,
		PartLenStat:     200,
		ReadCount:       30,
		WriteCount:      10,
		Conflicts:       []int64{1, 2},
		AccessCount:     []int64{10, 20},
		HomeConflicts:   []int64{1},
		AccessHomeCount: []int64{4},
		Latency:         3000,
		TotalCount:      10,
		PartAccess:      12,
		PartSuccess:     10,
	}
}

func TestCompute_Partitioned(t *testing.T) {
	st, err := Compute(baseSummary(), strategy.Plan{Index: strategy.PartitionedIndex, Protocol: strategy.Partition}, Options{})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	checks := []struct {
		name      string
		got, want float64
	}{
		{"PartAvg", st.PartAvg, 0.5},
		{"PartConf", st.PartConf, 1.2},
		{"PartSkew", st.PartSkew, 0},
		{"PartLenSkew", st.PartLenSkew, 0.25},
		{"RecAvg", st.RecAvg, 4},
		{"ReadRate", st.ReadRate, 0.75},
		{"HomeConf", st.HomeConf, 25},
		{"ConfRate", st.ConfRate, 25}, // home rate stands in on a partitioned store
		{"Latency", st.Latency, 300},
	}
	for _, c := range checks {
		if math.Abs(c.got-c.want) > eps {
			t.Errorf("%s: expected %v, got %v", c.name, c.want, c.got)
		}
	}
	if st.CurType != 0 {
		t.Errorf("expected curType 0, got %d", st.CurType)
	}
}

func TestCompute_SharedIndex(t *testing.T) {
	st, err := Compute(baseSummary(), strategy.Plan{Index: strategy.SharedIndex, Protocol: strategy.OCC}, Options{})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if math.Abs(st.ConfRate-20) > eps {
		t.Errorf("expected summed table conflict rate 20, got %v", st.ConfRate)
	}
	if math.Abs(st.Latency-220) > eps {
		t.Errorf("expected corrected latency 220, got %v", st.Latency)
	}
	if st.CurType != 3 {
		t.Errorf("expected curType 3, got %d", st.CurType)
	}
}

func TestSharedIndexLatencyCorrection(t *testing.T) {
	tests := []struct {
		latency float64
		proto   strategy.Protocol
		want    float64
	}{
		{300, strategy.OCC, 80},
		{350, strategy.Locking, 80},
		{500, strategy.OCC, 80},
		{500, strategy.Locking, 100},
		{800, strategy.OCC, 100},
		{800, strategy.Locking, 150},
	}
	for _, tt := range tests {
		if got := sharedIndexLatencyCorrection(tt.latency, tt.proto); got != tt.want {
			t.Errorf("latency %v %s: expected %v, got %v", tt.latency, tt.proto, tt.want, got)
		}
	}
}

func TestCompute_PartitionSkew(t *testing.T) {
	s := baseSummary()
	s.PartStat = []int64{30, 10}
	st, err := Compute(s, strategy.Plan{}, Options{})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if want := math.Sqrt(62.5); math.Abs(st.PartSkew-want) > 1e-6 {
		t.Errorf("expected skew %v, got %v", want, st.PartSkew)
	}

	// Leading partitions are skipped on a shared index.
	s.PartStat = []int64{100, 10, 10}
	st, err = Compute(s, strategy.Plan{Index: strategy.SharedIndex, Protocol: strategy.Locking}, Options{Head: 1})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if st.PartSkew != 0 {
		t.Errorf("expected zero skew with head skipped, got %v", st.PartSkew)
	}
}

func TestCompute_Degenerate(t *testing.T) {
	if _, err := Compute(Summary{}, strategy.Plan{}, Options{}); err != ErrEmptySummary {
		t.Errorf("expected ErrEmptySummary, got %v", err)
	}

	s := baseSummary()
	s.PartStat = nil
	s.PartSuccess = 0
	s.AccessHomeCount = []int64{0}
	st, err := Compute(s, strategy.Plan{}, Options{})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if st.PartSkew != 0 || st.PartAvg != 0 || st.PartConf != 0 || st.HomeConf != 0 {
		t.Errorf("expected zeroed partition features, got %+v", st)
	}
	for _, v := range st.Combined().Values() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("non-finite feature in %v", st.Combined())
		}
	}
}

func TestStats_Vectors(t *testing.T) {
	st := Stats{CurType: 4, PartAvg: 0.5, PartConf: 1.2, PartSkew: 2, PartLenSkew: 0.3, RecAvg: 4, Latency: 200, ReadRate: 0.75, HomeConf: 25, ConfRate: 20}
	v := st.Vectors()

	if err := classifier.DefaultShape(classifier.OCC).Validate(v.OCC); err != nil {
		t.Errorf("OCC vector: %v", err)
	}
	if err := classifier.DefaultShape(classifier.Partition).Validate(v.Partition); err != nil {
		t.Errorf("partition vector: %v", err)
	}
	if err := classifier.DefaultShape(classifier.Combined).Validate(v.Combined); err != nil {
		t.Errorf("combined vector: %v", err)
	}

	if got, _ := v.Combined.Get(classifier.FeaturePartAvg); got != 1.2 {
		t.Errorf("combined partAvg should carry the partition conflict ratio, got %v", got)
	}
	if got, _ := v.Combined.Get(classifier.FeatureCurType); got != 4 {
		t.Errorf("expected curType 4, got %v", got)
	}
	if got, _ := v.Partition.Get(classifier.FeaturePartAvg); got != 0.5 {
		t.Errorf("partition partAvg: expected 0.5, got %v", got)
	}
}

func TestSummary_Merge(t *testing.T) {
	a := Summary{TxnSample: 1, PartStat: []int64{1, 2}, Conflicts: []int64{1}, Latency: 10, TotalCount: 1}
	b := Summary{TxnSample: 2, PartStat: []int64{1, 1, 5}, Conflicts: []int64{2, 3}, Latency: 20, TotalCount: 2}
	a.Merge(b)

	if a.TxnSample != 3 || a.Latency != 30 || a.TotalCount != 3 {
		t.Errorf("scalar fields not summed: %+v", a)
	}
	want := []int64{2, 3, 5}
	for i, v := range want {
		if a.PartStat[i] != v {
			t.Errorf("PartStat[%d]: expected %d, got %d", i, v, a.PartStat[i])
		}
	}
	if len(a.Conflicts) != 2 || a.Conflicts[0] != 3 || a.Conflicts[1] != 3 {
		t.Errorf("Conflicts not merged: %v", a.Conflicts)
	}
}

func TestWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w := NewWindow(10*time.Second, 3)
	w.now = func() time.Time { return now }

	for i := 0; i < 4; i++ {
		w.Add(Summary{TxnSample: int64(i + 1)})
	}
	// Ring of three keeps reports 2, 3 and 4.
	sum, n := w.Sum()
	if n != 3 || sum.TxnSample != 9 {
		t.Errorf("expected 3 reports totalling 9, got %d totalling %d", n, sum.TxnSample)
	}

	now = now.Add(11 * time.Second)
	w.Add(Summary{TxnSample: 100})
	sum, n = w.Sum()
	if n != 1 || sum.TxnSample != 100 {
		t.Errorf("expected only the fresh report, got %d totalling %d", n, sum.TxnSample)
	}

	w.Reset()
	if _, n = w.Sum(); n != 0 {
		t.Errorf("expected empty window after reset, got %d", n)
	}
}

func TestNewWindow_MinimumSize(t *testing.T) {
	w := NewWindow(time.Minute, 0)
	w.Add(Summary{TxnSample: 1})
	w.Add(Summary{TxnSample: 2})
	if sum, n := w.Sum(); n != 1 || sum.TxnSample != 2 {
		t.Errorf("expected single latest report, got %d totalling %d", n, sum.TxnSample)
	}
}
