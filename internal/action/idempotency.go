package action

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/upendohq/idhini/model"
)

// IdempotencyStore deduplicates action submissions. The key format is
// "idem:{workflowId}:{key}".
type IdempotencyStore interface {
	// Check looks up a previous outcome by key. If the key exists and the
	// input hash matches, it returns the cached outcome. If the key exists
	// but the hash differs, it returns a conflict error.
	Check(ctx context.Context, key string, inputHash string) (outcome *Outcome, found bool, err error)

	// Store saves an action outcome keyed by the idempotency key with a TTL.
	Store(ctx context.Context, key string, inputHash string, outcome Outcome, ttl time.Duration) error
}

// idempotencyEntry is the stored value for an idempotency key.
type idempotencyEntry struct {
	InputHash string  `json:"input_hash"`
	Outcome   Outcome `json:"outcome"`
}

// FormatIdempotencyKey builds the standard idempotency key.
func FormatIdempotencyKey(workflowID, key string) string {
	return fmt.Sprintf("idem:%s:%s", workflowID, key)
}

// --- MemoryIdempotencyStore ---

// MemoryIdempotencyStore is an in-memory IdempotencyStore with TTL support.
// Suitable for testing and single-instance deployments.
type MemoryIdempotencyStore struct {
	mu      sync.RWMutex
	entries map[string]*memEntry
}

type memEntry struct {
	data      idempotencyEntry
	expiresAt time.Time
}

// NewMemoryIdempotencyStore creates a new in-memory idempotency store.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		entries: make(map[string]*memEntry),
	}
}

// Check looks up a cached outcome. Returns a conflict error if the input
// hash differs.
func (s *MemoryIdempotencyStore) Check(_ context.Context, key string, inputHash string) (*Outcome, bool, error) {
	s.mu.RLock()
	entry, exists := s.entries[key]
	s.mu.RUnlock()

	if !exists {
		return nil, false, nil
	}

	if time.Now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, false, nil
	}

	if entry.data.InputHash != inputHash {
		return nil, true, model.NewConflictError(
			fmt.Sprintf("idempotency key %q already used with different input", key),
		)
	}

	outcome := entry.data.Outcome
	return &outcome, true, nil
}

// Store saves an outcome with TTL.
func (s *MemoryIdempotencyStore) Store(_ context.Context, key string, inputHash string, outcome Outcome, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = &memEntry{
		data: idempotencyEntry{
			InputHash: inputHash,
			Outcome:   outcome,
		},
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// Len returns the number of entries (including expired ones). For testing.
func (s *MemoryIdempotencyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// --- RedisIdempotencyStore ---

// RedisIdempotencyStore is a Redis-backed IdempotencyStore with TTL.
type RedisIdempotencyStore struct {
	client redis.Cmdable
}

// NewRedisIdempotencyStore creates a new Redis-backed idempotency store.
func NewRedisIdempotencyStore(client redis.Cmdable) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

// Check looks up a cached outcome in Redis. Returns a conflict error if the
// input hash differs.
func (s *RedisIdempotencyStore) Check(ctx context.Context, key string, inputHash string) (*Outcome, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}

	var entry idempotencyEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false, fmt.Errorf("unmarshal idempotency entry %q: %w", key, err)
	}

	if entry.InputHash != inputHash {
		return nil, true, model.NewConflictError(
			fmt.Sprintf("idempotency key %q already used with different input", key),
		)
	}

	return &entry.Outcome, true, nil
}

// HealthCheck pings Redis. Used by the readiness probe.
func (s *RedisIdempotencyStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Store saves an outcome in Redis with TTL.
func (s *RedisIdempotencyStore) Store(ctx context.Context, key string, inputHash string, outcome Outcome, ttl time.Duration) error {
	entry := idempotencyEntry{
		InputHash: inputHash,
		Outcome:   outcome,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal idempotency entry: %w", err)
	}

	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// --- PostgresIdempotencyStore ---

// PostgresIdempotencyStore is a Postgres-backed IdempotencyStore for
// multi-instance deployments that already carry a database. Only dedup
// state lives here; workflow state never does.
type PostgresIdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewPostgresIdempotencyStore creates a Postgres-backed idempotency store.
func NewPostgresIdempotencyStore(pool *pgxpool.Pool) *PostgresIdempotencyStore {
	return &PostgresIdempotencyStore{pool: pool}
}

// EnsureSchema creates the idempotency table if it does not exist.
func (s *PostgresIdempotencyStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS action_idempotency (
			key        TEXT PRIMARY KEY,
			input_hash TEXT NOT NULL,
			outcome    JSONB NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("create action_idempotency table: %w", err)
	}
	return nil
}

// HealthCheck pings the database pool. Used by the readiness probe.
func (s *PostgresIdempotencyStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Check looks up a cached outcome. Expired rows are treated as absent and
// deleted opportunistically.
func (s *PostgresIdempotencyStore) Check(ctx context.Context, key string, inputHash string) (*Outcome, bool, error) {
	var storedHash string
	var raw []byte
	var expiresAt time.Time

	err := s.pool.QueryRow(ctx,
		`SELECT input_hash, outcome, expires_at FROM action_idempotency WHERE key = $1`,
		key,
	).Scan(&storedHash, &raw, &expiresAt)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres get %q: %w", key, err)
	}

	if time.Now().After(expiresAt) {
		_, _ = s.pool.Exec(ctx, `DELETE FROM action_idempotency WHERE key = $1`, key)
		return nil, false, nil
	}

	if storedHash != inputHash {
		return nil, true, model.NewConflictError(
			fmt.Sprintf("idempotency key %q already used with different input", key),
		)
	}

	var outcome Outcome
	if err := json.Unmarshal(raw, &outcome); err != nil {
		return nil, false, fmt.Errorf("unmarshal idempotency entry %q: %w", key, err)
	}
	return &outcome, true, nil
}

// Store upserts an outcome with its expiry.
func (s *PostgresIdempotencyStore) Store(ctx context.Context, key string, inputHash string, outcome Outcome, ttl time.Duration) error {
	raw, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal idempotency entry: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO action_idempotency (key, input_hash, outcome, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE
		SET input_hash = EXCLUDED.input_hash,
		    outcome    = EXCLUDED.outcome,
		    expires_at = EXCLUDED.expires_at`,
		key, inputHash, raw, time.Now().Add(ttl))
	if err != nil {
		return fmt.Errorf("postgres set %q: %w", key, err)
	}
	return nil
}
