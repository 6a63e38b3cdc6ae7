package native

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// featureCount is the number of feature columns in every training row; the
// label columns follow them.
const featureCount = 7

// row is one training observation: seven features and one or two labels.
type row struct {
	features []float64
	labels   []int
}

// loadRows reads a tab-separated training file, skipping the first start
// columns of every line.
func loadRows(path string, start int) ([]row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = '\t'
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	var rows []row
	for line := 1; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		if len(rec) < start+featureCount+1 {
			return nil, fmt.Errorf("%s:%d: expected at least %d columns, got %d", path, line, start+featureCount+1, len(rec))
		}

		cols := make([]float64, 0, len(rec)-start)
		for _, s := range rec[start:] {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: %w", path, line, err)
			}
			cols = append(cols, v)
		}
		if len(cols) < featureCount+1 {
			return nil, fmt.Errorf("%s:%d: missing label column", path, line)
		}

		labels := make([]int, 0, len(cols)-featureCount)
		for _, v := range cols[featureCount:] {
			labels = append(labels, int(v))
		}
		rows = append(rows, row{features: cols[:featureCount], labels: labels})
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: no training rows", path)
	}
	return rows, nil
}

// pick selects the given feature columns of a row.
func pick(features []float64, cols []int) []float64 {
	out := make([]float64, len(cols))
	for i, c := range cols {
		out[i] = features[c]
	}
	return out
}
