// Package features turns the per-period workload statistics the engine's
// workers report into the feature vectors the classifiers consume.
package features

import (
	"errors"
	"math"

	"cc-classifier/internal/classifier"
	"cc-classifier/internal/strategy"
)

var ErrEmptySummary = errors.New("summary has no sampled transactions")

// Summary is the merged worker report for one decision period.
type Summary struct {
	TxnSample   int64   `json:"txn_sample"`    // sampled transactions
	PartStat    []int64 `json:"part_stat"`     // accesses per partition
	PartTotal   int64   `json:"part_total"`    // partitions touched, summed over transactions
	PartLenStat int64   `json:"part_len_stat"` // squared partition-count sum
	ReadCount   int64   `json:"read_count"`
	WriteCount  int64   `json:"write_count"`

	// Per table.
	Conflicts       []int64 `json:"conflicts"`
	AccessCount     []int64 `json:"access_count"`
	HomeConflicts   []int64 `json:"home_conflicts"`
	AccessHomeCount []int64 `json:"access_home_count"`

	Latency     int64 `json:"latency"`     // summed transaction latency
	TotalCount  int64 `json:"total_count"` // transactions the latency was summed over
	PartAccess  int64 `json:"part_access"`
	PartSuccess int64 `json:"part_success"`
}

// Merge adds o into s. Per-partition and per-table slices grow to the
// longer of the two.
func (s *Summary) Merge(o Summary) {
	s.TxnSample += o.TxnSample
	s.PartStat = addSlices(s.PartStat, o.PartStat)
	s.PartTotal += o.PartTotal
	s.PartLenStat += o.PartLenStat
	s.ReadCount += o.ReadCount
	s.WriteCount += o.WriteCount
	s.Conflicts = addSlices(s.Conflicts, o.Conflicts)
	s.AccessCount = addSlices(s.AccessCount, o.AccessCount)
	s.HomeConflicts = addSlices(s.HomeConflicts, o.HomeConflicts)
	s.AccessHomeCount = addSlices(s.AccessHomeCount, o.AccessHomeCount)
	s.Latency += o.Latency
	s.TotalCount += o.TotalCount
	s.PartAccess += o.PartAccess
	s.PartSuccess += o.PartSuccess
}

func addSlices(a, b []int64) []int64 {
	if len(b) > len(a) {
		a = append(a, make([]int64, len(b)-len(a))...)
	}
	for i, v := range b {
		a[i] += v
	}
	return a
}

// Stats are the derived features of one period.
type Stats struct {
	CurType     int     `json:"cur_type"`
	PartAvg     float64 `json:"part_avg"`
	PartConf    float64 `json:"part_conf"`
	PartSkew    float64 `json:"part_skew"`
	PartLenSkew float64 `json:"part_len_skew"`
	RecAvg      float64 `json:"rec_avg"`
	Latency     float64 `json:"latency"`
	ReadRate    float64 `json:"read_rate"`
	HomeConf    float64 `json:"home_conf"`
	ConfRate    float64 `json:"conf_rate"`
}

// Options tune feature extraction.
type Options struct {
	// Head is the number of leading partitions excluded from the skew
	// when the index is shared.
	Head int
}

// Compute derives the period's features. plan is the configuration the
// period ran under; it decides the latency correction and curType.
func Compute(s Summary, plan strategy.Plan, opts Options) (Stats, error) {
	records := s.ReadCount + s.WriteCount
	if s.TxnSample <= 0 || records <= 0 || s.TotalCount <= 0 {
		return Stats{}, ErrEmptySummary
	}
	partitioned := plan.Index == strategy.PartitionedIndex

	head := 0
	if !partitioned {
		head = opts.Head
	}
	var sum, sumpow float64
	for i, p := range s.PartStat {
		if i >= head {
			sum += float64(p)
		}
	}

	st := Stats{CurType: plan.ExecType()}

	if n := float64(len(s.PartStat) - head); n > 0 && sum > 0 {
		for i, p := range s.PartStat {
			if i >= head {
				sumpow += float64(p*p) / (sum * sum)
			}
		}
		// Scaled variance of the access shares; rounding can push a
		// uniform distribution slightly below zero.
		if v := (sumpow/n - 1/(n*n)) * 1000; v > 0 {
			st.PartSkew = math.Sqrt(v)
		}
		st.PartLenSkew = float64(s.PartLenStat*s.TxnSample)/(sum*sum) - 1
	}
	if len(s.PartStat) > 0 {
		st.PartAvg = float64(s.PartTotal) / (float64(s.TxnSample) * float64(len(s.PartStat)))
	}
	if s.PartSuccess > 0 {
		st.PartConf = float64(s.PartAccess) / float64(s.PartSuccess)
	}

	st.RecAvg = float64(records) / float64(s.TxnSample)
	st.ReadRate = float64(s.ReadCount) / float64(records)

	st.HomeConf = conflictRate(s.HomeConflicts, s.AccessHomeCount)
	if partitioned {
		st.ConfRate = st.HomeConf
	} else {
		st.ConfRate = conflictRate(s.Conflicts, s.AccessCount)
	}

	st.Latency = float64(s.Latency) / float64(s.TotalCount)
	if !partitioned {
		st.Latency -= sharedIndexLatencyCorrection(st.Latency, plan.Protocol)
	}
	return st, nil
}

// conflictRate sums the per-table conflict percentages.
func conflictRate(conflicts, accesses []int64) float64 {
	var rate float64
	for i, c := range conflicts {
		if i < len(accesses) && accesses[i] != 0 {
			rate += float64(c*100) / float64(accesses[i])
		}
	}
	return rate
}

// sharedIndexLatencyCorrection is the index traversal overhead a shared
// index adds on top of the partitioned latency, by latency band.
func sharedIndexLatencyCorrection(latency float64, p strategy.Protocol) float64 {
	switch {
	case latency <= 350:
		return 80
	case latency <= 650:
		if p == strategy.OCC {
			return 80
		}
		return 100
	case p == strategy.OCC:
		return 100
	}
	return 150
}

// OCC returns the single-purpose OCC vector.
func (st Stats) OCC() classifier.FeatureVector {
	return classifier.OCCVector(st.RecAvg, st.Latency, st.ReadRate, st.ConfRate)
}

// Partition returns the single-purpose partition vector.
func (st Stats) Partition() classifier.FeatureVector {
	return classifier.PartitionVector(st.PartAvg, st.PartSkew, st.PartLenSkew, st.RecAvg, st.Latency, st.ReadRate)
}

// Combined returns the combined vector. Its partition feature is the
// partition conflict ratio.
func (st Stats) Combined() classifier.FeatureVector {
	return classifier.CombinedVector(st.CurType, st.PartConf, st.PartSkew, st.RecAvg, st.Latency, st.ReadRate, st.HomeConf, st.ConfRate)
}

// Vectors returns all three vectors for a strategy selector.
func (st Stats) Vectors() strategy.Vectors {
	return strategy.Vectors{OCC: st.OCC(), Partition: st.Partition(), Combined: st.Combined()}
}
