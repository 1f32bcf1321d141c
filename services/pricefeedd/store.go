package pricefeedd

import (
	"encoding/json"
	"fmt"
	"time"

	bbolt "go.etcd.io/bbolt"

	"dusd/native/oracle"
)

// Submission records the last price pushed to the node for one feed.
type Submission struct {
	ID          string    `json:"id"`
	Price       string    `json:"price"`
	Source      string    `json:"source"`
	QuotedAt    time.Time `json:"quotedAt"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// SubmissionStore persists the last submission per feed so restarts do not
// re-push prices the node already has.
type SubmissionStore struct {
	db *bbolt.DB
}

var bucketSubmissions = []byte("submissions")

// NewSubmissionStore opens (or creates) the persistence database.
func NewSubmissionStore(path string) (*SubmissionStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSubmissions)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &SubmissionStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SubmissionStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Last returns the most recent submission for the feed, or nil when the
// feed has never been submitted.
func (s *SubmissionStore) Last(feedID string) (*Submission, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("submission store not initialised")
	}
	key := oracle.NormalizeFeedID(feedID)
	if key == "" {
		return nil, fmt.Errorf("feed id required")
	}
	var sub *Submission
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketSubmissions).Get([]byte(key))
		if raw == nil {
			return nil
		}
		decoded := &Submission{}
		if err := json.Unmarshal(raw, decoded); err != nil {
			return fmt.Errorf("decode submission %s: %w", key, err)
		}
		sub = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Record persists the submission for the feed, replacing any prior entry.
func (s *SubmissionStore) Record(feedID string, sub Submission) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("submission store not initialised")
	}
	key := oracle.NormalizeFeedID(feedID)
	if key == "" {
		return fmt.Errorf("feed id required")
	}
	raw, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("encode submission %s: %w", key, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSubmissions).Put([]byte(key), raw)
	})
}
