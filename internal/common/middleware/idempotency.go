package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyHeader is the request header carrying the client key.
const IdempotencyHeader = "Idempotency-Key"

// CachedResponse is a stored response replayed for a repeated key.
type CachedResponse struct {
	Status int    `json:"status"`
	Body   []byte `json:"body"`
}

// inFlightTTL bounds how long a crashed request can hold its key.
const inFlightTTL = 2 * time.Minute

// IdempotencyStore keeps responses by idempotency key. Reserve marks a key
// as in flight and reports false when another request already holds it.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*CachedResponse, bool, error)
	Set(ctx context.Context, key string, resp *CachedResponse, ttl time.Duration) error
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Idempotency replays the stored response when a mutating request repeats
// its Idempotency-Key. Only 2xx responses are stored, so a failed attempt
// can be retried with the same key. A repeat that arrives while the first
// request is still running gets 409. Store failures never fail the request.
func Idempotency(store IdempotencyStore, ttl time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Only apply to mutating methods
			if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch {
				next.ServeHTTP(w, r)
				return
			}

			idempotencyKey := r.Header.Get(IdempotencyHeader)
			if idempotencyKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Method + " " + r.URL.Path + " " + idempotencyKey

			cached, found, err := store.Get(r.Context(), key)
			if err != nil {
				logger.Warn("idempotency lookup failed", "error", err, "correlation_id", GetCorrelationID(r.Context()))
				next.ServeHTTP(w, r)
				return
			}

			if found {
				replay(w, cached)
				return
			}

			reserved, err := store.Reserve(r.Context(), key, inFlightTTL)
			if err != nil {
				logger.Warn("idempotency reservation failed", "error", err, "correlation_id", GetCorrelationID(r.Context()))
				next.ServeHTTP(w, r)
				return
			}
			if !reserved {
				writeError(w, http.StatusConflict, "CONFLICT", "A request with this idempotency key is in progress")
				return
			}
			defer func() {
				if err := store.Release(context.WithoutCancel(r.Context()), key); err != nil {
					logger.Warn("idempotency release failed", "error", err, "correlation_id", GetCorrelationID(r.Context()))
				}
			}()

			// The first request may have finished between Get and Reserve.
			if cached, found, err := store.Get(r.Context(), key); err == nil && found {
				replay(w, cached)
				return
			}

			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status >= 200 && rec.status < 300 {
				if err := store.Set(r.Context(), key, &CachedResponse{Status: rec.status, Body: rec.body}, ttl); err != nil {
					logger.Warn("idempotency store failed", "error", err, "correlation_id", GetCorrelationID(r.Context()))
				}
			}
		})
	}
}

func replay(w http.ResponseWriter, cached *CachedResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Idempotency-Replayed", "true")
	w.WriteHeader(cached.Status)
	_, _ = w.Write(cached.Body)
}

type responseRecorder struct {
	http.ResponseWriter
	status int
	body   []byte
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body = append(r.body, b...)
	return r.ResponseWriter.Write(b)
}

// RedisIdempotencyStore keeps idempotent responses in Redis.
type RedisIdempotencyStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisIdempotencyStore creates a new Redis idempotency store
func NewRedisIdempotencyStore(client redis.UniversalClient) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, prefix: "idempotency:"}
}

func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) (*CachedResponse, bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var resp CachedResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, false, fmt.Errorf("decoding cached response: %w", err)
	}
	return &resp, true, nil
}

func (s *RedisIdempotencyStore) Set(ctx context.Context, key string, resp *CachedResponse, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encoding cached response: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisIdempotencyStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+"lock:"+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+"lock:"+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// MemoryIdempotencyStore is a single-process IdempotencyStore.
type MemoryIdempotencyStore struct {
	mu       sync.Mutex
	items    map[string]memoryEntry
	inFlight map[string]time.Time
}

type memoryEntry struct {
	resp    CachedResponse
	expires time.Time
}

// NewMemoryIdempotencyStore creates a new in-memory idempotency store
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		items:    make(map[string]memoryEntry),
		inFlight: make(map[string]time.Time),
	}
}

func (s *MemoryIdempotencyStore) Get(_ context.Context, key string) (*CachedResponse, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[key]
	if !ok || (!e.expires.IsZero() && time.Now().After(e.expires)) {
		delete(s.items, key)
		return nil, false, nil
	}
	resp := e.resp
	return &resp, true, nil
}

func (s *MemoryIdempotencyStore) Set(_ context.Context, key string, resp *CachedResponse, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := memoryEntry{resp: *resp}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	s.items[key] = e
	return nil
}

func (s *MemoryIdempotencyStore) Reserve(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if expires, ok := s.inFlight[key]; ok && time.Now().Before(expires) {
		return false, nil
	}
	s.inFlight[key] = time.Now().Add(ttl)
	return true, nil
}

func (s *MemoryIdempotencyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, key)
	return nil
}
