package testing

import (
	"context"
	"sync"
	"testing"

	"github.com/marmos91/headerprop/pkg/header"
	"github.com/marmos91/headerprop/pkg/store/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// CacheTestSuite is a test suite for HeaderCache implementations.
//
// Usage:
//
//	func TestMyCache(t *testing.T) {
//	    suite := &testing.CacheTestSuite{
//	        NewCache: func(t *testing.T) cache.HeaderCache { return mycache.New() },
//	    }
//	    suite.Run(t)
//	}
type CacheTestSuite struct {
	// NewCache creates a fresh, empty cache. The suite closes it.
	NewCache func(t *testing.T) cache.HeaderCache
}

func complete(lines ...string) *header.Header {
	return &header.Header{Lines: lines, Complete: true}
}

// Run executes all tests in the suite.
func (suite *CacheTestSuite) Run(t *testing.T) {
	ctx := context.Background()

	newCache := func(t *testing.T) cache.HeaderCache {
		c := suite.NewCache(t)
		t.Cleanup(func() { _ = c.Close() })
		return c
	}

	t.Run("GetMissing", func(t *testing.T) {
		c := newCache(t)
		h, ok, err := c.Get(ctx, "never/set")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, h)
	})

	t.Run("SetThenGet", func(t *testing.T) {
		c := newCache(t)
		require.NoError(t, c.Set(ctx, "a/b", complete("LICENSE: MIT\n", "AUTHOR: me\n")))

		h, ok, err := c.Get(ctx, "a/b")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []string{"LICENSE: MIT\n", "AUTHOR: me\n"}, h.Lines)
		assert.True(t, h.Complete)
	})

	t.Run("SetReplaces", func(t *testing.T) {
		c := newCache(t)
		require.NoError(t, c.Set(ctx, "a", complete("one\n")))
		require.NoError(t, c.Set(ctx, "a", complete("two\n")))

		h, _, err := c.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, []string{"two\n"}, h.Lines)
	})

	t.Run("RejectsNonPropagatable", func(t *testing.T) {
		c := newCache(t)
		assert.ErrorIs(t, c.Set(ctx, "a", &header.Header{}), cache.ErrNotPropagatable)
		assert.ErrorIs(t, c.Set(ctx, "a", &header.Header{Lines: []string{"x\n"}}), cache.ErrNotPropagatable)

		_, ok, err := c.Get(ctx, "a")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("PrefixesAreIndependent", func(t *testing.T) {
		c := newCache(t)
		require.NoError(t, c.Set(ctx, "a", complete("a\n")))
		require.NoError(t, c.Set(ctx, "ab", complete("ab\n")))
		require.NoError(t, c.Reset(ctx, "a"))

		h, ok, err := c.Get(ctx, "ab")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []string{"ab\n"}, h.Lines)
	})

	t.Run("ResetClearsLines", func(t *testing.T) {
		c := newCache(t)
		require.NoError(t, c.Set(ctx, "a", complete("a\n")))
		require.NoError(t, c.Reset(ctx, "a"))

		h, ok, err := c.Get(ctx, "a")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.False(t, h.HasHeader())
	})

	t.Run("GetReturnsSnapshot", func(t *testing.T) {
		c := newCache(t)
		stored := complete("a\n")
		require.NoError(t, c.Set(ctx, "a", stored))
		stored.Lines[0] = "mutated\n"

		h, _, err := c.Get(ctx, "a")
		require.NoError(t, err)
		h.Lines[0] = "also mutated\n"

		again, _, err := c.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, []string{"a\n"}, again.Lines)
	})

	t.Run("ConcurrentWritersSamePrefix", func(t *testing.T) {
		c := newCache(t)
		var wg sync.WaitGroup
		for range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, c.Set(ctx, "shared", complete("LICENSE: MIT\n")))
				_, _, err := c.Get(ctx, "shared")
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		h, ok, err := c.Get(ctx, "shared")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []string{"LICENSE: MIT\n"}, h.Lines)
	})
}
