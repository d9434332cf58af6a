package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/stokehold/stoker/pkg/types"
)

var (
	// Bucket names mirroring the Redis key layout
	bucketJobs       = []byte("jobs")
	bucketQueue      = []byte("queue")
	bucketResources  = []byte("resources")
	bucketContainers = []byte("containers")
)

// BoltStore implements Store on an embedded BoltDB file. It backs the
// one-shot local runner and tests; the file lock confines it to a single
// process, so the shared multi-process deployment uses Redis instead.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database file at path
func NewBoltStore(path string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	// Timeout so a second process gets an error instead of blocking on
	// the file lock forever.
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketJobs,
			bucketQueue,
			bucketResources,
			bucketContainers,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Job operations

func (s *BoltStore) PutJob(_ context.Context, job *types.Job) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		return b.Put([]byte(job.ID), data)
	})
}

func (s *BoltStore) GetJob(_ context.Context, id string) (*types.Job, error) {
	var job types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		return json.Unmarshal(data, &job)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// UpdateJob runs mutate inside a single write transaction, so the
// read-modify-write is serialized against every other writer.
func (s *BoltStore) UpdateJob(_ context.Context, id string, mutate func(*types.Job) error) (*types.Job, error) {
	var job types.Job
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("failed to decode job %s: %w", id, err)
		}
		if err := mutate(&job); err != nil {
			return err
		}
		out, err := json.Marshal(&job)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), out)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *BoltStore) ListJobs(_ context.Context) ([]*types.Job, error) {
	var jobs []*types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		return b.ForEach(func(k, v []byte) error {
			var job types.Job
			if err := json.Unmarshal(v, &job); err != nil {
				// Tolerate corrupt records
				return nil
			}
			jobs = append(jobs, &job)
			return nil
		})
	})
	return jobs, err
}

// Pending queue operations. Entries are keyed by a monotonic sequence
// number: the head is the lowest key, tail appends take the next sequence.

func (s *BoltStore) EnqueuePending(_ context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQueue)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(itob(seq), []byte(id))
	})
}

func (s *BoltStore) DequeuePending(_ context.Context) (string, bool, error) {
	var id string
	var found bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQueue)
		k, v := b.Cursor().First()
		if k == nil {
			return nil
		}
		id = string(v)
		found = true
		return b.Delete(k)
	})
	return id, found, err
}

func (s *BoltStore) RequeuePending(ctx context.Context, id string) error {
	return s.EnqueuePending(ctx, id)
}

func (s *BoltStore) RemovePending(_ context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQueue)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if string(v) == id {
				if err := c.Delete(); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *BoltStore) PendingEntries(_ context.Context) ([]string, error) {
	var entries []string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketQueue).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			entries = append(entries, string(v))
		}
		return nil
	})
	return entries, err
}

func (s *BoltStore) PendingDepth(_ context.Context) (int64, error) {
	var depth int64
	err := s.db.View(func(tx *bolt.Tx) error {
		depth = int64(tx.Bucket(bucketQueue).Stats().KeyN)
		return nil
	})
	return depth, err
}

// Resource lease operations. The write transaction makes check-and-set
// atomic without a separate primitive.

func (s *BoltStore) ResourceAvailable(_ context.Context, resource string) (bool, error) {
	var available bool
	err := s.db.View(func(tx *bolt.Tx) error {
		available = tx.Bucket(bucketResources).Get([]byte(resource)) == nil
		return nil
	})
	return available, err
}

func (s *BoltStore) AcquireResource(_ context.Context, resource, jobID string) (bool, error) {
	var acquired bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketResources)
		if b.Get([]byte(resource)) != nil {
			return nil
		}
		acquired = true
		return b.Put([]byte(resource), []byte(jobID))
	})
	return acquired, err
}

func (s *BoltStore) ReleaseResource(_ context.Context, resource string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketResources).Delete([]byte(resource))
	})
}

func (s *BoltStore) ResourceHolder(_ context.Context, resource string) (string, error) {
	var holder string
	err := s.db.View(func(tx *bolt.Tx) error {
		holder = string(tx.Bucket(bucketResources).Get([]byte(resource)))
		return nil
	})
	return holder, err
}

func (s *BoltStore) ListLeases(_ context.Context) (map[string]string, error) {
	leases := make(map[string]string)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketResources).ForEach(func(k, v []byte) error {
			leases[string(k)] = string(v)
			return nil
		})
	})
	return leases, err
}

// Container mapping operations

func (s *BoltStore) SetContainer(_ context.Context, jobID, containerID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketContainers).Put([]byte(jobID), []byte(containerID))
	})
}

func (s *BoltStore) GetContainer(_ context.Context, jobID string) (string, error) {
	var id string
	err := s.db.View(func(tx *bolt.Tx) error {
		id = string(tx.Bucket(bucketContainers).Get([]byte(jobID)))
		return nil
	})
	return id, err
}

func (s *BoltStore) DeleteContainer(_ context.Context, jobID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketContainers).Delete([]byte(jobID))
	})
}

// Utility

func (s *BoltStore) Ping(_ context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error { return nil })
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
