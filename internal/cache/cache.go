package cache

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Entry is the metadata kept for one computed stage result.
type Entry struct {
	Fingerprint string          `json:"fingerprint"`
	StageID     string          `json:"stage_id"`
	Output      json.RawMessage `json:"output,omitempty"`
	Message     string          `json:"message,omitempty"`
	ComputedAt  time.Time       `json:"computed_at"`
	ComputeMs   int64           `json:"compute_ms"`
}

// Store persists entries by fingerprint. Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Put(ctx context.Context, key string, e Entry) error
}

type Outcome int

const (
	// Computed means this caller ran the work.
	Computed Outcome = iota
	// Hit means the result came from the store or from another caller's in-flight computation.
	Hit
)

func (o Outcome) String() string {
	if o == Hit {
		return "hit"
	}
	return "computed"
}

type ComputeFunc func(ctx context.Context) (Entry, error)

// Cache puts single-flight semantics in front of a Store: at most one
// computation per key runs at a time and concurrent callers share its result.
type Cache struct {
	store Store
	group singleflight.Group
}

func New(store Store) *Cache {
	return &Cache{store: store}
}

// Do returns the stored entry for key, or computes, stores and returns it.
func (c *Cache) Do(ctx context.Context, key string, compute ComputeFunc) (Entry, Outcome, error) {
	if e, ok := c.lookup(ctx, key); ok {
		return e, Hit, nil
	}

	computed := false
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// a flight for key may have finished between lookup and Do
		if e, ok := c.lookup(ctx, key); ok {
			return e, nil
		}
		computed = true
		return c.computeAndStore(ctx, key, compute)
	})
	if err != nil {
		return Entry{}, Computed, err
	}

	if computed {
		return v.(Entry), Computed, nil
	}
	return v.(Entry), Hit, nil
}

// Refresh always computes, replacing whatever the store held for key.
// It still joins an in-flight computation for the same key instead of starting a second one.
func (c *Cache) Refresh(ctx context.Context, key string, compute ComputeFunc) (Entry, error) {
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		return c.computeAndStore(ctx, key, compute)
	})
	if err != nil {
		return Entry{}, err
	}
	return v.(Entry), nil
}

func (c *Cache) lookup(ctx context.Context, key string) (Entry, bool) {
	e, ok, err := c.store.Get(ctx, key)
	if err != nil {
		log.WithError(err).WithField("fingerprint", key).Warn("cache lookup failed, treating as miss")
		return Entry{}, false
	}
	return e, ok
}

func (c *Cache) computeAndStore(ctx context.Context, key string, compute ComputeFunc) (Entry, error) {
	start := time.Now()
	e, err := compute(ctx)
	if err != nil {
		return Entry{}, err
	}

	e.Fingerprint = key
	if e.ComputedAt.IsZero() {
		e.ComputedAt = time.Now().UTC()
	}
	if e.ComputeMs == 0 {
		e.ComputeMs = time.Since(start).Milliseconds()
	}

	if err := c.store.Put(ctx, key, e); err != nil {
		log.WithError(err).WithField("fingerprint", key).Warn("cache store failed")
	}
	return e, nil
}
