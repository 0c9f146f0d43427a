package redpanda

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/taskhub/internal/domain"
)

const (
	resultKeyPrefix  = "taskhub:result:"
	revokedKeyPrefix = "taskhub:revoked:"
	workerKeyPrefix  = "taskhub:worker:"
)

// Backend is the Redis side of the broker: execution results, revocation
// marks, and worker heartbeats.
type Backend struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewBackend connects to the result backend. URL is a redis:// DSN.
func NewBackend(url string, ttl time.Duration) (*Backend, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("op=backend.New: %w", err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Backend{rdb: redis.NewClient(opt), ttl: ttl}, nil
}

// NewBackendWithClient wraps an existing client. Tests use this with
// miniredis.
func NewBackendWithClient(rdb *redis.Client, ttl time.Duration) *Backend {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Backend{rdb: rdb, ttl: ttl}
}

type storedResult struct {
	State      string `json:"state"`
	Result     any    `json:"result,omitempty"`
	Traceback  string `json:"traceback,omitempty"`
	Successful bool   `json:"successful"`
	Failed     bool   `json:"failed"`
	StoredAt   string `json:"stored_at"`
}

// WriteResult records the broker-visible state of one execution.
func (b *Backend) WriteResult(ctx domain.Context, executionID string, st domain.ExecutionStatus) error {
	raw, err := json.Marshal(storedResult{
		State:      st.State,
		Result:     st.Result,
		Traceback:  st.Traceback,
		Successful: st.Successful,
		Failed:     st.Failed,
		StoredAt:   time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("op=backend.WriteResult marshal: %w", err)
	}
	if err := b.rdb.Set(ctx, resultKeyPrefix+executionID, raw, b.ttl).Err(); err != nil {
		return fmt.Errorf("op=backend.WriteResult: %w", err)
	}
	return nil
}

// ReadResult returns the stored state for one execution. A missing key
// reads as PENDING with found=false.
func (b *Backend) ReadResult(ctx domain.Context, executionID string) (domain.ExecutionStatus, bool, error) {
	raw, err := b.rdb.Get(ctx, resultKeyPrefix+executionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ExecutionStatus{State: "PENDING"}, false, nil
	}
	if err != nil {
		return domain.ExecutionStatus{}, false, fmt.Errorf("op=backend.ReadResult: %w", err)
	}
	var st storedResult
	if err := json.Unmarshal(raw, &st); err != nil {
		return domain.ExecutionStatus{}, false, fmt.Errorf("op=backend.ReadResult unmarshal: %w", err)
	}
	return domain.ExecutionStatus{
		State:      st.State,
		Result:     st.Result,
		Traceback:  st.Traceback,
		Successful: st.Successful,
		Failed:     st.Failed,
	}, true, nil
}

// MarkRevoked flags an execution so consumers drop it before running. The
// mark expires with the result TTL.
func (b *Backend) MarkRevoked(ctx domain.Context, executionID string) error {
	if err := b.rdb.Set(ctx, revokedKeyPrefix+executionID, "1", b.ttl).Err(); err != nil {
		return fmt.Errorf("op=backend.MarkRevoked: %w", err)
	}
	return nil
}

// IsRevoked reports whether an execution carries a revocation mark.
func (b *Backend) IsRevoked(ctx domain.Context, executionID string) (bool, error) {
	n, err := b.rdb.Exists(ctx, revokedKeyPrefix+executionID).Result()
	if err != nil {
		return false, fmt.Errorf("op=backend.IsRevoked: %w", err)
	}
	return n > 0, nil
}

type workerBeat struct {
	TaskTypes []string  `json:"task_types"`
	LastSeen  time.Time `json:"last_seen"`
}

// Heartbeat refreshes a worker's liveness key. The key expires at ttl so a
// dead worker disappears without cleanup.
func (b *Backend) Heartbeat(ctx domain.Context, workerID string, taskTypes []string, ttl time.Duration) error {
	raw, err := json.Marshal(workerBeat{TaskTypes: taskTypes, LastSeen: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("op=backend.Heartbeat marshal: %w", err)
	}
	if err := b.rdb.Set(ctx, workerKeyPrefix+workerID, raw, ttl).Err(); err != nil {
		return fmt.Errorf("op=backend.Heartbeat: %w", err)
	}
	return nil
}

// Workers lists the workers with a live heartbeat key.
func (b *Backend) Workers(ctx domain.Context) ([]domain.WorkerInfo, error) {
	var out []domain.WorkerInfo
	iter := b.rdb.Scan(ctx, 0, workerKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := b.rdb.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("op=backend.Workers: %w", err)
		}
		var beat workerBeat
		if err := json.Unmarshal(raw, &beat); err != nil {
			continue
		}
		out = append(out, domain.WorkerInfo{
			ID:        key[len(workerKeyPrefix):],
			TaskTypes: beat.TaskTypes,
			LastSeen:  beat.LastSeen,
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("op=backend.Workers scan: %w", err)
	}
	return out, nil
}

// Ping probes the backend connection.
func (b *Backend) Ping(ctx domain.Context) error {
	if err := b.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("op=backend.Ping: %w", err)
	}
	return nil
}

// Close closes the client.
func (b *Backend) Close() error {
	return b.rdb.Close()
}
