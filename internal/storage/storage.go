// Package storage provides persistent data storage for the classifier
// service. It uses BoltDB as the underlying storage engine to keep the model
// catalog (one record per training attempt) and the decision samples the
// engine collects for later retraining.
//
// Records are stored as JSON under "key_timestamp" keys so that a cursor
// seek gives efficient time-range queries per model key.
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const (
	modelsBucket  = "models"  // Bucket name for training records
	samplesBucket = "samples" // Bucket name for decision samples
)

// Store provides persistent storage for the model catalog and decision
// samples using BoltDB.
type Store struct {
	db *bbolt.DB // BoltDB database instance
}

// New creates a new storage instance with the specified data path.
// It initializes the BoltDB database and creates necessary buckets.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, "classifier.db")

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(modelsBucket)); err != nil {
			return fmt.Errorf("create models bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(samplesBucket)); err != nil {
			return fmt.Errorf("create samples bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection gracefully.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var maxTime = time.Unix(0, math.MaxInt64)

func recordKey(key string, ts time.Time) []byte {
	var n int64
	switch {
	case ts.Before(time.Unix(0, 0)):
		n = 0
	case ts.After(maxTime):
		n = math.MaxInt64
	default:
		n = ts.UnixNano()
	}
	// Zero-padded so that lexical order matches time order.
	return []byte(fmt.Sprintf("%s_%020d", key, n))
}

func (s *Store) put(bucketName, key string, ts time.Time, v any) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))

		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s record: %w", bucketName, err)
		}
		return b.Put(recordKey(key, ts), data)
	})
}

// getRecordsInRange walks the records of one model key within a time range
// (inclusive) and hands each value to fn. Malformed records are skipped.
func (s *Store) getRecordsInRange(bucketName, key string, start, end time.Time, fn func([]byte) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketName)).Cursor()

		prefix := []byte(key + "_")
		startKey := recordKey(key, start)
		endKey := recordKey(key, end)

		for k, v := c.Seek(startKey); k != nil && bytes.Compare(k, endKey) <= 0; k, v = c.Next() {
			if !bytes.HasPrefix(k, prefix) {
				continue
			}
			if err := fn(v); err != nil {
				continue // Skip malformed records
			}
		}
		return nil
	})
}

// last returns the newest value stored for a model key, or nil.
func (s *Store) last(bucketName, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketName)).Cursor()
		prefix := []byte(key + "_")

		// Seek past every key with the prefix, then step back.
		k, v := c.Seek(append(append([]byte{}, prefix...), 0xff))
		if k == nil {
			k, v = c.Last()
		} else {
			k, v = c.Prev()
		}
		if k != nil && bytes.HasPrefix(k, prefix) {
			out = append([]byte{}, v...)
		}
		return nil
	})
	return out, err
}
