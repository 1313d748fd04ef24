package gc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/marmos91/headerprop/pkg/store/object"
	"github.com/marmos91/headerprop/pkg/store/object/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// leasedStore returns a store with an abandoned lease on "a/old.txt",
// acquired two hours before a fresh lease on "a/new.txt".
func leasedStore(t *testing.T) *memory.MemoryObjectStore {
	t.Helper()
	ctx := context.Background()
	store := memory.NewMemoryObjectStore()
	require.NoError(t, store.Put(ctx, "src", "a/old.txt", []byte("x")))
	require.NoError(t, store.Put(ctx, "src", "a/new.txt", []byte("x")))

	now := time.Now()
	store.SetClock(func() time.Time { return now.Add(-2 * time.Hour) })
	_, err := store.AcquireLease(ctx, "src", "a/old.txt", object.InfiniteLease)
	require.NoError(t, err)

	store.SetClock(time.Now)
	_, err = store.AcquireLease(ctx, "src", "a/new.txt", object.InfiniteLease)
	require.NoError(t, err)

	return store
}

func TestCollector_ReleasesStaleLeases(t *testing.T) {
	store := leasedStore(t)
	c, err := NewCollector(store, "src", Config{MaxLeaseAge: time.Hour})
	require.NoError(t, err)

	stats, err := c.RunNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(1), stats.StaleCount)
	assert.Equal(t, uint64(1), stats.ReleasedCount)
	assert.Zero(t, stats.FailedCount)
	assert.False(t, store.Leased("src", "a/old.txt"))
	assert.True(t, store.Leased("src", "a/new.txt"), "in-flight copies keep their lease")
}

func TestCollector_DryRun(t *testing.T) {
	store := leasedStore(t)
	c, err := NewCollector(store, "src", Config{MaxLeaseAge: time.Hour, DryRun: true})
	require.NoError(t, err)

	stats, err := c.RunNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(1), stats.StaleCount)
	assert.Zero(t, stats.ReleasedCount)
	assert.True(t, store.Leased("src", "a/old.txt"))
}

func TestCollector_NothingStale(t *testing.T) {
	c, err := NewCollector(memory.NewMemoryObjectStore(), "src", Config{})
	require.NoError(t, err)

	stats, err := c.RunNow(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.StaleCount)
	assert.Contains(t, stats.Summary(), "stale=0")
}

// failingSweeper fails listing or reports per-path failures.
type failingSweeper struct {
	listErr  error
	failures map[string]error
}

func (f *failingSweeper) StaleLeases(context.Context, string, time.Time) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return []string{"a", "b", "c"}, nil
}

func (f *failingSweeper) ForceReleaseLeases(context.Context, string, []string) (map[string]error, error) {
	return f.failures, nil
}

func TestCollector_ListFailure(t *testing.T) {
	boom := errors.New("list denied")
	c, err := NewCollector(&failingSweeper{listErr: boom}, "src", Config{})
	require.NoError(t, err)

	_, err = c.RunNow(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestCollector_PartialFailures(t *testing.T) {
	c, err := NewCollector(&failingSweeper{failures: map[string]error{"b": errors.New("denied")}}, "src", Config{BatchSize: 2})
	require.NoError(t, err)

	stats, err := c.RunNow(context.Background())
	require.NoError(t, err)

	// Two batches, "b" fails in both as reported by the fake
	assert.Equal(t, uint64(3), stats.StaleCount)
	assert.Equal(t, uint64(2), stats.FailedCount)
	assert.Equal(t, uint64(1), stats.ReleasedCount)
}

func TestCollector_ServeStops(t *testing.T) {
	c, err := NewCollector(memory.NewMemoryObjectStore(), "src", Config{Interval: 10 * time.Millisecond})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- c.Serve(context.Background()) }()

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, c.Stop(context.Background()))
	require.NoError(t, c.Stop(context.Background()))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Stop")
	}
}

func TestCollector_ServeCancelled(t *testing.T) {
	c, err := NewCollector(memory.NewMemoryObjectStore(), "src", Config{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Serve(ctx), context.Canceled)
}

func TestNewCollector_Validation(t *testing.T) {
	_, err := NewCollector(nil, "src", Config{})
	assert.Error(t, err)

	_, err = NewCollector(memory.NewMemoryObjectStore(), "", Config{})
	assert.Error(t, err)
}
