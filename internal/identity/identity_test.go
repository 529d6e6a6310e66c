// File: internal/identity/identity_test.go
package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/threadweaver/internal/config"
)

// fakeSource answers from a table; entries listed in empties answer blank the
// given number of times before answering for real.
type fakeSource struct {
	mu      sync.Mutex
	attrs   map[string]string
	empties map[string]int
	errs    map[string]error
	calls   map[string]int
}

func newFakeSource(attrs map[string]string) *fakeSource {
	return &fakeSource{attrs: attrs, empties: map[string]int{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeSource) AttributesOf(ctx context.Context, id string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id]++
	if err := f.errs[id]; err != nil {
		return nil, err
	}
	if f.empties[id] > 0 {
		f.empties[id]--
		return map[string]string{"gender": ""}, nil
	}
	return map[string]string{"gender": f.attrs[id]}, nil
}

func newResolver(t *testing.T, src AttributeSource, mutate func(*config.ResolverConfig)) *Resolver {
	t.Helper()
	cfg := config.ResolverConfig{AttributeKey: "gender", MaxAttempts: 3, RetryDelay: time.Millisecond, CacheSize: 16}
	if mutate != nil {
		mutate(&cfg)
	}
	r, err := NewResolver(zap.NewNop(), src, cfg, 0)
	require.NoError(t, err)
	return r
}

func TestPool(t *testing.T) {
	p := NewPool([]string{"a", " b ", "", "a", "c"})
	assert.Equal(t, []string{"a", "b", "c"}, p.Identities())
	assert.Equal(t, 3, p.Len())
	assert.True(t, p.Contains("b"))

	ids := p.Identities()
	ids[0] = "mutated"
	assert.True(t, p.Contains("a"), "Identities returns a copy")

	assert.True(t, p.Remove("b"))
	assert.False(t, p.Remove("b"))
	assert.Equal(t, []string{"a", "c"}, p.Identities())
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("canonicalizes through aliases", func(t *testing.T) {
		src := newFakeSource(map[string]string{"p1": "f", "p2": "Чоловік", "p3": "Nonbinary"})
		r := newResolver(t, src, nil)

		v, err := r.Resolve(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, "Female", v)
		v, err = r.Resolve(ctx, "p2")
		require.NoError(t, err)
		assert.Equal(t, "Male", v)
		v, err = r.Resolve(ctx, "p3")
		require.NoError(t, err)
		assert.Equal(t, "Nonbinary", v, "unknown values pass through")
	})

	t.Run("configured aliases extend the defaults", func(t *testing.T) {
		src := newFakeSource(map[string]string{"p1": "Lady"})
		r := newResolver(t, src, func(c *config.ResolverConfig) { c.Aliases = map[string]string{"lady": "Female"} })
		v, err := r.Resolve(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, "Female", v)
		assert.Equal(t, "Male", r.Canonical("MAN"))
	})

	t.Run("caches answers", func(t *testing.T) {
		src := newFakeSource(map[string]string{"p1": "Male"})
		r := newResolver(t, src, nil)
		for i := 0; i < 3; i++ {
			_, err := r.Resolve(ctx, "p1")
			require.NoError(t, err)
		}
		assert.Equal(t, 1, src.calls["p1"])
	})

	t.Run("retries empty answers", func(t *testing.T) {
		src := newFakeSource(map[string]string{"p1": "Male"})
		src.empties["p1"] = 2
		r := newResolver(t, src, nil)

		v, err := r.Resolve(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, "Male", v)
		assert.Equal(t, 3, src.calls["p1"])
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		src := newFakeSource(map[string]string{"p1": "Male"})
		src.empties["p1"] = 10
		r := newResolver(t, src, nil)

		_, err := r.Resolve(ctx, "p1")
		assert.ErrorIs(t, err, ErrAttributeResolution)
		assert.Equal(t, 3, src.calls["p1"])
	})

	t.Run("source errors are not retried here", func(t *testing.T) {
		src := newFakeSource(nil)
		src.errs["p1"] = errors.New("connection refused")
		r := newResolver(t, src, nil)

		_, err := r.Resolve(ctx, "p1")
		assert.ErrorIs(t, err, ErrAttributeResolution)
		assert.Contains(t, err.Error(), "connection refused")
		assert.Equal(t, 1, src.calls["p1"])
	})

	t.Run("requests are paced", func(t *testing.T) {
		src := newFakeSource(map[string]string{"a": "Male", "b": "Male", "c": "Male"})
		r, err := NewResolver(zap.NewNop(), src, config.ResolverConfig{MaxAttempts: 1, CacheSize: 8}, 20)
		require.NoError(t, err)

		start := time.Now()
		for _, id := range []string{"a", "b", "c"} {
			_, err := r.Resolve(ctx, id)
			require.NoError(t, err)
		}
		assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	})
}

func TestSelect(t *testing.T) {
	ctx := context.Background()

	t.Run("returns the first match in pool order", func(t *testing.T) {
		src := newFakeSource(map[string]string{"p1": "Male", "p2": "Female", "p3": "Female"})
		r := newResolver(t, src, nil)
		pool := NewPool([]string{"p1", "p2", "p3"})

		id, probes, err := r.Select(ctx, pool, "female")
		require.NoError(t, err)
		assert.Equal(t, "p2", id)
		require.Len(t, probes, 2)
		assert.False(t, probes[0].Matched)
		assert.True(t, probes[1].Matched)
		assert.Equal(t, 3, pool.Len(), "selection never consumes")
	})

	t.Run("unreadable identities are skipped", func(t *testing.T) {
		src := newFakeSource(map[string]string{"p2": "Female"})
		src.errs["p1"] = errors.New("timeout")
		r := newResolver(t, src, nil)

		id, probes, err := r.Select(ctx, NewPool([]string{"p1", "p2"}), "Female")
		require.NoError(t, err)
		assert.Equal(t, "p2", id)
		require.Len(t, probes, 2)
		assert.Error(t, probes[0].Err)
	})

	t.Run("no match is reported", func(t *testing.T) {
		src := newFakeSource(map[string]string{"p1": "Male"})
		r := newResolver(t, src, nil)

		_, _, err := r.Select(ctx, NewPool([]string{"p1"}), "Female")
		assert.ErrorIs(t, err, ErrNoMatchingIdentity)

		_, _, err = r.Select(ctx, NewPool(nil), "Female")
		assert.ErrorIs(t, err, ErrNoMatchingIdentity)
	})

	t.Run("cancellation stops probing", func(t *testing.T) {
		src := newFakeSource(map[string]string{"p1": "Male"})
		r := newResolver(t, src, nil)
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, _, err := r.Select(cctx, NewPool([]string{"p1"}), "Male")
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, src.calls["p1"])
	})
}
