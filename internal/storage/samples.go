package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"cc-classifier/internal/classifier"
)

// Sample is one decision the engine took, with the statistics it was taken
// from.
type Sample struct {
	Key           string                     `json:"key"`
	Timestamp     time.Time                  `json:"timestamp"`
	Features      classifier.FeatureVector   `json:"features"`
	Decision      int                        `json:"decision"`
	Probabilities *classifier.ProbabilitySet `json:"probabilities,omitempty"`
}

// StoreSample persists a decision sample.
func (s *Store) StoreSample(sample Sample) error {
	if sample.Key == "" {
		return fmt.Errorf("sample without model key")
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}
	return s.put(samplesBucket, sample.Key, sample.Timestamp, sample)
}

// GetSamples retrieves samples for key within a time range, oldest first.
// The time range is inclusive of both start and end times.
func (s *Store) GetSamples(key string, start, end time.Time) ([]Sample, error) {
	var samples []Sample
	err := s.getRecordsInRange(samplesBucket, key, start, end, func(data []byte) error {
		var sample Sample
		if err := json.Unmarshal(data, &sample); err != nil {
			return err
		}
		samples = append(samples, sample)
		return nil
	})
	return samples, err
}

// ExportOptions selects the training-file layout written by ExportSamples.
type ExportOptions struct {
	Columns []string // feature names in column order
	Prefix  int      // leading columns written as zero

	// Labels maps a decision to its label columns. Nil writes the decision
	// as a single label.
	Labels func(decision int) []int
}

// ExportSamples writes the samples of key as tab-separated training rows:
// Prefix zero columns, one column per feature in Columns order (missing
// features are written as 0), then the decision's labels. It returns the
// number of rows written.
func (s *Store) ExportSamples(w io.Writer, key string, start, end time.Time, opts ExportOptions) (int, error) {
	if len(opts.Columns) == 0 {
		return 0, fmt.Errorf("export needs at least one feature column")
	}
	samples, err := s.GetSamples(key, start, end)
	if err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	rec := make([]string, 0, opts.Prefix+len(opts.Columns)+2)
	for _, sample := range samples {
		rec = rec[:0]
		for i := 0; i < opts.Prefix; i++ {
			rec = append(rec, "0")
		}
		for _, name := range opts.Columns {
			v, _ := sample.Features.Get(name)
			rec = append(rec, strconv.FormatFloat(v, 'g', -1, 64))
		}
		labels := []int{sample.Decision}
		if opts.Labels != nil {
			labels = opts.Labels(sample.Decision)
		}
		for _, l := range labels {
			rec = append(rec, strconv.Itoa(l))
		}
		if err := cw.Write(rec); err != nil {
			return 0, fmt.Errorf("write sample: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("flush samples: %w", err)
	}
	return len(samples), nil
}
