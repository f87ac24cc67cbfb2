// Package epoch persists applied channel plans. The most recent apply time
// starts a new epoch: survey data older than it describes a different plan.
package epoch

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/markus-lassfolk/specman/pkg/logx"
)

var bucketPlans = []byte("plans")

// ErrNoEpoch is returned when no plan has been applied yet
var ErrNoEpoch = errors.New("no epoch recorded")

// Plan is one applied assignment
type Plan struct {
	AppliedAt   time.Time `json:"applied_at"`
	IfaceIDs    []int64   `json:"iface_ids"`
	Frequencies []int     `json:"frequencies"`
	Score       float64   `json:"score"`
	DryRun      bool      `json:"dry_run"`
}

// Store is a bbolt-backed plan history
type Store struct {
	db     *bolt.DB
	logger *logx.Logger
}

// Open opens or creates the plan database
func Open(path string, logger *logx.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create epoch directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open epoch database: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPlans)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create plans bucket: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// key orders plans by apply time
func key(t time.Time) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(t.UnixNano()))
	return b
}

// Record stores an applied plan
func (s *Store) Record(p Plan) error {
	if p.AppliedAt.IsZero() {
		p.AppliedAt = time.Now()
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPlans).Put(key(p.AppliedAt), data)
	})
	if err != nil {
		return fmt.Errorf("failed to store plan: %w", err)
	}

	s.logger.Info("Channel plan recorded",
		"applied_at", p.AppliedAt.Format(time.RFC3339),
		"nodes", len(p.IfaceIDs),
		"dry_run", p.DryRun)
	return nil
}

// Latest returns the most recent plan that was actually applied
func (s *Store) Latest() (*Plan, error) {
	var found *Plan
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketPlans).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var p Plan
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("failed to decode plan: %w", err)
			}
			if p.DryRun {
				continue
			}
			found = &p
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNoEpoch
	}
	return found, nil
}

// Start returns the current epoch start, or the zero time when no plan was applied
func (s *Store) Start() (time.Time, error) {
	p, err := s.Latest()
	if errors.Is(err, ErrNoEpoch) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return p.AppliedAt, nil
}

// History returns up to limit plans, newest first; limit <= 0 returns all
func (s *Store) History(limit int) ([]Plan, error) {
	var plans []Plan
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketPlans).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(plans) >= limit {
				break
			}
			var p Plan
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("failed to decode plan: %w", err)
			}
			plans = append(plans, p)
		}
		return nil
	})
	return plans, err
}
