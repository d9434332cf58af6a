package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/stokehold/stoker/pkg/types"
)

// maxTxRetries bounds the optimistic-concurrency retry loop in UpdateJob.
const maxTxRetries = 5

// RedisStore implements Store against a shared Redis instance. This is the
// production backend: every producer and worker process points at the same
// Redis and coordinates purely through the key layout above.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to the Redis named by url and verifies the
// connection with a ping.
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid store url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to store at %s: %w", opts.Addr, err)
	}

	return &RedisStore{client: client}, nil
}

// Job operations

func (s *RedisStore) PutJob(ctx context.Context, job *types.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", job.ID, err)
	}
	return s.client.Set(ctx, jobKey(job.ID), data, 0).Err()
}

func (s *RedisStore) GetJob(ctx context.Context, id string) (*types.Job, error) {
	data, err := s.client.Get(ctx, jobKey(id)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	var job types.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return &job, nil
}

// UpdateJob applies mutate under WATCH so a concurrent writer (the
// producer cancelling, another worker reconciling) invalidates the
// transaction instead of being overwritten. Retries a bounded number of
// times on conflict.
func (s *RedisStore) UpdateJob(ctx context.Context, id string, mutate func(*types.Job) error) (*types.Job, error) {
	key := jobKey(id)
	var updated *types.Job

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		if err != nil {
			return err
		}

		var job types.Job
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("failed to decode job %s: %w", id, err)
		}

		if err := mutate(&job); err != nil {
			return err
		}

		out, err := json.Marshal(&job)
		if err != nil {
			return fmt.Errorf("failed to encode job %s: %w", id, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		if err == nil {
			updated = &job
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("job %s: too many concurrent updates", id)
}

func (s *RedisStore) ListJobs(ctx context.Context) ([]*types.Job, error) {
	var jobs []*types.Job

	iter := s.client.Scan(ctx, 0, jobKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			// Deleted between scan and get, or transient; skip.
			continue
		}
		var job types.Job
		if err := json.Unmarshal(data, &job); err != nil {
			// Tolerate foreign or corrupt records under the prefix.
			continue
		}
		jobs = append(jobs, &job)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

// Pending queue operations. LPUSH + RPOP keeps head-to-tail FIFO; requeue
// uses LPUSH too, which lands the id at the tail behind later submissions.

func (s *RedisStore) EnqueuePending(ctx context.Context, id string) error {
	return s.client.LPush(ctx, queueKey, id).Err()
}

func (s *RedisStore) DequeuePending(ctx context.Context) (string, bool, error) {
	id, err := s.client.RPop(ctx, queueKey).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (s *RedisStore) RequeuePending(ctx context.Context, id string) error {
	return s.client.LPush(ctx, queueKey, id).Err()
}

func (s *RedisStore) RemovePending(ctx context.Context, id string) error {
	return s.client.LRem(ctx, queueKey, 0, id).Err()
}

func (s *RedisStore) PendingEntries(ctx context.Context) ([]string, error) {
	// The list grows at the left and pops at the right, so reverse it to
	// report head-to-tail (next to dispatch first).
	entries, err := s.client.LRange(ctx, queueKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func (s *RedisStore) PendingDepth(ctx context.Context) (int64, error) {
	return s.client.LLen(ctx, queueKey).Result()
}

// Resource lease operations

func (s *RedisStore) ResourceAvailable(ctx context.Context, resource string) (bool, error) {
	n, err := s.client.Exists(ctx, resourceKey(resource)).Result()
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

func (s *RedisStore) AcquireResource(ctx context.Context, resource, jobID string) (bool, error) {
	return s.client.SetNX(ctx, resourceKey(resource), jobID, 0).Result()
}

func (s *RedisStore) ReleaseResource(ctx context.Context, resource string) error {
	return s.client.Del(ctx, resourceKey(resource)).Err()
}

func (s *RedisStore) ResourceHolder(ctx context.Context, resource string) (string, error) {
	holder, err := s.client.Get(ctx, resourceKey(resource)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return holder, err
}

func (s *RedisStore) ListLeases(ctx context.Context) (map[string]string, error) {
	leases := make(map[string]string)

	iter := s.client.Scan(ctx, 0, resourceKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		holder, err := s.client.Get(ctx, key).Result()
		if err != nil {
			continue
		}
		leases[strings.TrimPrefix(key, resourceKeyPrefix)] = holder
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return leases, nil
}

// Container mapping operations

func (s *RedisStore) SetContainer(ctx context.Context, jobID, containerID string) error {
	return s.client.Set(ctx, containerKey(jobID), containerID, 0).Err()
}

func (s *RedisStore) GetContainer(ctx context.Context, jobID string) (string, error) {
	id, err := s.client.Get(ctx, containerKey(jobID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return id, err
}

func (s *RedisStore) DeleteContainer(ctx context.Context, jobID string) error {
	return s.client.Del(ctx, containerKey(jobID)).Err()
}

// Utility

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
