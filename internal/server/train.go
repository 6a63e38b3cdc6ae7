package server

import (
	"time"

	"github.com/rs/zerolog/log"

	"cc-classifier/internal/classifier"
	"cc-classifier/internal/storage"
)

// TrainingRecorder persists training attempts.
type TrainingRecorder interface {
	RecordTraining(rec storage.TrainingRecord) error
}

// Train fits key from spec and records the attempt when recorder is set.
// A failed attempt leaves any previous model for key in place.
func Train(reg *classifier.Registry, recorder TrainingRecorder, key classifier.Key, spec classifier.TrainingSpec) (*classifier.Handle, error) {
	start := time.Now()
	h, err := reg.Train(key, spec)

	if recorder != nil {
		rec := storage.TrainingRecord{
			Key:       key.String(),
			Files:     spec.Files,
			TrainedAt: time.Now(),
			Duration:  time.Since(start),
			Status:    storage.StatusTrained,
		}
		if h != nil {
			rec.ID = h.ID().String()
			rec.Backend = h.Backend().String()
			rec.Duration = h.TrainDuration()
		}
		if err != nil {
			rec.Status = storage.StatusFailed
			rec.Error = err.Error()
		}
		if rerr := recorder.RecordTraining(rec); rerr != nil {
			log.Warn().Err(rerr).Str("model", key.String()).Msg("failed to record training attempt")
		}
	}
	return h, err
}
