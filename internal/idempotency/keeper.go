// Package idempotency reserves client-supplied request keys so a retried request replays the
// first response instead of repeating its side effects.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// DefaultTTL bounds how long a completed response is replayed.
const DefaultTTL = 24 * time.Hour

// ErrInProgress is returned while the first request holding the key has not finished.
var ErrInProgress = errors.New("a request with this idempotency key is still in progress")

// Response is the recorded outcome of the first request.
type Response struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// Keeper stores reservations and responses per key.
type Keeper interface {
	// Reserve claims key. It returns the recorded response when the key already completed and
	// ErrInProgress when it is reserved but not yet completed.
	Reserve(ctx context.Context, key string) (*Response, error)
	Complete(ctx context.Context, key string, resp Response) error
	// Release drops a reservation so the client may retry after a failure.
	Release(ctx context.Context, key string) error
}

type entry struct {
	resp      *Response
	expiresAt time.Time
}

// MemoryKeeper keeps keys in process memory. It serves single-instance deployments and tests.
type MemoryKeeper struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	keys map[string]entry
}

func NewMemoryKeeper(ttl time.Duration) *MemoryKeeper {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryKeeper{ttl: ttl, now: time.Now, keys: make(map[string]entry)}
}

func (k *MemoryKeeper) Reserve(_ context.Context, key string) (*Response, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	if e, ok := k.keys[key]; ok && now.Before(e.expiresAt) {
		if e.resp == nil {
			return nil, ErrInProgress
		}
		resp := *e.resp
		return &resp, nil
	}
	k.keys[key] = entry{expiresAt: now.Add(k.ttl)}
	return nil, nil
}

func (k *MemoryKeeper) Complete(_ context.Context, key string, resp Response) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[key] = entry{resp: &resp, expiresAt: k.now().Add(k.ttl)}
	return nil
}

func (k *MemoryKeeper) Release(_ context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.keys, key)
	return nil
}
