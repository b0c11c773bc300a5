package cache_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meeting-pipeline/internal/cache"
	"meeting-pipeline/internal/entity"
)

func newMemoryCache(t *testing.T) (*cache.Cache, *cache.MemoryStore) {
	t.Helper()
	store, err := cache.NewMemoryStore(16)
	require.NoError(t, err)
	return cache.New(store), store
}

func TestCacheDo_ComputesOnceThenHits(t *testing.T) {
	c, store := newMemoryCache(t)
	ctx := context.Background()
	calls := 0
	compute := func(context.Context) (cache.Entry, error) {
		calls++
		return cache.Entry{StageID: "transcription", Output: json.RawMessage(`{"segments":243}`)}, nil
	}

	e1, out1, err := c.Do(ctx, "fp-1", compute)
	require.NoError(t, err)
	e2, out2, err := c.Do(ctx, "fp-1", compute)
	require.NoError(t, err)

	assert.Equal(t, cache.Computed, out1)
	assert.Equal(t, cache.Hit, out2)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "fp-1", e1.Fingerprint)
	assert.JSONEq(t, string(e1.Output), string(e2.Output))
	assert.Equal(t, 1, store.Len())
}

func TestCacheDo_ConcurrentCallersShareOneComputation(t *testing.T) {
	c, _ := newMemoryCache(t)
	ctx := context.Background()

	var executions int32
	release := make(chan struct{})
	compute := func(context.Context) (cache.Entry, error) {
		atomic.AddInt32(&executions, 1)
		<-release
		return cache.Entry{StageID: "llm", Output: json.RawMessage(`{"summary":"ok"}`)}, nil
	}

	const n = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes []cache.Outcome
		outputs  []string
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, out, err := c.Do(ctx, "shared", compute)
			assert.NoError(t, err)
			mu.Lock()
			outcomes = append(outcomes, out)
			outputs = append(outputs, string(e.Output))
			mu.Unlock()
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&executions))
	computed := 0
	for _, o := range outcomes {
		if o == cache.Computed {
			computed++
		}
	}
	assert.Equal(t, 1, computed)
	for _, o := range outputs {
		assert.JSONEq(t, `{"summary":"ok"}`, o)
	}
}

func TestCacheDo_ErrorsAreNotStored(t *testing.T) {
	c, store := newMemoryCache(t)
	ctx := context.Background()
	boom := errors.New("model not loaded")

	_, _, err := c.Do(ctx, "fp", func(context.Context) (cache.Entry, error) {
		return cache.Entry{}, boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, store.Len())

	_, out, err := c.Do(ctx, "fp", func(context.Context) (cache.Entry, error) {
		return cache.Entry{StageID: "x"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, cache.Computed, out)
}

func TestCacheRefresh_AlwaysComputesAndStores(t *testing.T) {
	c, _ := newMemoryCache(t)
	ctx := context.Background()
	calls := 0
	compute := func(context.Context) (cache.Entry, error) {
		calls++
		return cache.Entry{StageID: "text"}, nil
	}

	_, err := c.Refresh(ctx, "fp", compute)
	require.NoError(t, err)
	_, err = c.Refresh(ctx, "fp", compute)
	require.NoError(t, err)
	_, out, err := c.Do(ctx, "fp", compute)
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
	assert.Equal(t, cache.Hit, out)
}

func TestRedisStore_RoundTripAndTTL(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := cache.NewRedisStore(rdb, "test:cache:", time.Minute)
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	want := cache.Entry{Fingerprint: "abc", StageID: "convert", Output: json.RawMessage(`{"format":"wav"}`), ComputeMs: 800}
	require.NoError(t, store.Put(ctx, "abc", want))
	assert.True(t, mr.Exists("test:cache:abc"))

	got, ok, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.StageID, got.StageID)
	assert.Equal(t, want.ComputeMs, got.ComputeMs)
	assert.JSONEq(t, string(want.Output), string(got.Output))

	mr.FastForward(2 * time.Minute)
	_, ok, err = store.Get(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFingerprint_StableAndSensitive(t *testing.T) {
	mtime := time.Date(2026, 1, 12, 14, 30, 0, 0, time.UTC)
	inputs := []entity.InputDescriptor{{Ref: "team-sync.m4a", Name: "team-sync.m4a", SizeBytes: 1024, ModTime: mtime}}
	cfg := entity.Config{"llm.provider": "deepseek", "force_run": "false"}

	a := cache.Fingerprint("llm", "llm", inputs, cfg)
	b := cache.Fingerprint("llm", "llm", inputs, entity.Config{"force_run": "true", "llm.provider": "deepseek"})
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	assert.NotEqual(t, a, cache.Fingerprint("text", "text", inputs, cfg))
	assert.NotEqual(t, a, cache.Fingerprint("llm", "llm", inputs, entity.Config{"llm.provider": "ollama"}))

	changed := []entity.InputDescriptor{inputs[0]}
	changed[0].SizeBytes = 2048
	assert.NotEqual(t, a, cache.Fingerprint("llm", "llm", changed, cfg))
}
