package storage

import (
	"encoding/json"
	"fmt"
	"time"
)

// Training outcomes recorded in the catalog.
const (
	StatusTrained = "trained"
	StatusFailed  = "failed"
)

// TrainingRecord is one training attempt for a model key.
type TrainingRecord struct {
	ID        string        `json:"id,omitempty"`
	Key       string        `json:"key"`
	Backend   string        `json:"backend"`
	Files     []string      `json:"files"`
	TrainedAt time.Time     `json:"trained_at"`
	Duration  time.Duration `json:"duration"`
	Status    string        `json:"status"`
	Error     string        `json:"error,omitempty"`
}

// RecordTraining appends a training attempt to the catalog.
func (s *Store) RecordTraining(rec TrainingRecord) error {
	if rec.Key == "" {
		return fmt.Errorf("training record without model key")
	}
	if rec.TrainedAt.IsZero() {
		rec.TrainedAt = time.Now()
	}
	return s.put(modelsBucket, rec.Key, rec.TrainedAt, rec)
}

// TrainingHistory returns the attempts for key between start and end,
// oldest first.
func (s *Store) TrainingHistory(key string, start, end time.Time) ([]TrainingRecord, error) {
	var records []TrainingRecord
	err := s.getRecordsInRange(modelsBucket, key, start, end, func(data []byte) error {
		var rec TrainingRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		records = append(records, rec)
		return nil
	})
	return records, err
}

// LatestTraining returns the newest attempt for key. ok is false when the
// key was never trained.
func (s *Store) LatestTraining(key string) (rec TrainingRecord, ok bool, err error) {
	data, err := s.last(modelsBucket, key)
	if err != nil || data == nil {
		return TrainingRecord{}, false, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return TrainingRecord{}, false, fmt.Errorf("unmarshal training record: %w", err)
	}
	return rec, true, nil
}
