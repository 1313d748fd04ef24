package propagate

import (
	"context"
	"sync"
	"testing"

	"github.com/marmos91/headerprop/internal/ratelimiter"
	"github.com/marmos91/headerprop/pkg/header"
	"github.com/marmos91/headerprop/pkg/store/object"
	"github.com/marmos91/headerprop/pkg/store/object/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyWithHeader(t *testing.T) {
	ctx := context.Background()

	t.Run("AddsHeaderToPlainObject", func(t *testing.T) {
		store := memory.NewMemoryObjectStore()
		put(t, store, srcContainer, "docs/a.txt", "body line\n")
		c := newCopier(t, store, nil)

		outcome, err := c.CopyWithHeader(ctx, "docs/a.txt", srcContainer, fullHeader())
		require.NoError(t, err)
		assert.Equal(t, CopyWritten, outcome)
		assert.Equal(t, "LICENSE: MIT\nAUTHOR: someone\nDATE: 2020\nbody line\n", read(t, store, dstContainer, "docs/a.txt"))
	})

	t.Run("AddsOnlyMissingLines", func(t *testing.T) {
		store := memory.NewMemoryObjectStore()
		put(t, store, srcContainer, "docs/a.txt", "LICENSE: MIT\nAUTHOR: someone\nbody\n")
		c := newCopier(t, store, nil)

		_, err := c.CopyWithHeader(ctx, "docs/a.txt", srcContainer, fullHeader())
		require.NoError(t, err)
		assert.Equal(t, "DATE: 2020\nLICENSE: MIT\nAUTHOR: someone\nbody\n", read(t, store, dstContainer, "docs/a.txt"))
	})

	t.Run("CRLFLinesCountAsPresent", func(t *testing.T) {
		store := memory.NewMemoryObjectStore()
		put(t, store, srcContainer, "docs/a.txt", "LICENSE: MIT\r\nbody\r\n")
		c := newCopier(t, store, nil)

		_, err := c.CopyWithHeader(ctx, "docs/a.txt", srcContainer, fullHeader())
		require.NoError(t, err)
		assert.Equal(t, "AUTHOR: someone\nDATE: 2020\nLICENSE: MIT\r\nbody\r\n", read(t, store, dstContainer, "docs/a.txt"))
	})

	t.Run("CompleteSourceCopiedVerbatim", func(t *testing.T) {
		store := memory.NewMemoryObjectStore()
		src := "LICENSE: Apache\nAUTHOR: other\nDATE: 1999\nbody\n"
		put(t, store, srcContainer, "docs/a.txt", src)
		c := newCopier(t, store, nil)

		outcome, err := c.CopyWithHeader(ctx, "docs/a.txt", srcContainer, fullHeader())
		require.NoError(t, err)
		assert.Equal(t, CopyWritten, outcome)
		assert.Equal(t, src, read(t, store, dstContainer, "docs/a.txt"))
	})

	t.Run("LegacyMarkerStaysFirst", func(t *testing.T) {
		store := memory.NewMemoryObjectStore()
		put(t, store, srcContainer, "docs/a.txt", "C:\\exports\\12_34-56 report.txt\nbody\n")
		c := newCopier(t, store, nil)

		_, err := c.CopyWithHeader(ctx, "docs/a.txt", srcContainer, fullHeader())
		require.NoError(t, err)
		assert.Equal(t,
			"C:\\exports\\12_34-56 report.txt\nLICENSE: MIT\nAUTHOR: someone\nDATE: 2020\nbody\n",
			read(t, store, dstContainer, "docs/a.txt"))
	})

	t.Run("LegacyMarkerWithoutTerminator", func(t *testing.T) {
		store := memory.NewMemoryObjectStore()
		put(t, store, srcContainer, "docs/a.txt", "C:\\exports\\1_2-3 x.txt")
		c := newCopier(t, store, nil)

		_, err := c.CopyWithHeader(ctx, "docs/a.txt", srcContainer, fullHeader())
		require.NoError(t, err)
		assert.Equal(t,
			"C:\\exports\\1_2-3 x.txt\nLICENSE: MIT\nAUTHOR: someone\nDATE: 2020\n",
			read(t, store, dstContainer, "docs/a.txt"))
	})

	t.Run("NonMarkerFirstLineUntouched", func(t *testing.T) {
		store := memory.NewMemoryObjectStore()
		put(t, store, srcContainer, "docs/a.txt", "C:\\exports\\report.txt\nbody\n")
		c := newCopier(t, store, nil)

		_, err := c.CopyWithHeader(ctx, "docs/a.txt", srcContainer, fullHeader())
		require.NoError(t, err)
		assert.Equal(t,
			"LICENSE: MIT\nAUTHOR: someone\nDATE: 2020\nC:\\exports\\report.txt\nbody\n",
			read(t, store, dstContainer, "docs/a.txt"))
	})

	t.Run("EmptySource", func(t *testing.T) {
		store := memory.NewMemoryObjectStore()
		put(t, store, srcContainer, "docs/empty.txt", "")
		c := newCopier(t, store, nil)

		_, err := c.CopyWithHeader(ctx, "docs/empty.txt", srcContainer, fullHeader())
		require.NoError(t, err)
		assert.Equal(t, "LICENSE: MIT\nAUTHOR: someone\nDATE: 2020\n", read(t, store, dstContainer, "docs/empty.txt"))
	})

	t.Run("SkipsExistingDestination", func(t *testing.T) {
		store := memory.NewMemoryObjectStore()
		put(t, store, srcContainer, "docs/a.txt", "body\n")
		put(t, store, dstContainer, "docs/a.txt", "already here\n")
		m := newRecordingMetrics()
		c := newCopier(t, store, m)

		outcome, err := c.CopyWithHeader(ctx, "docs/a.txt", srcContainer, fullHeader())
		require.NoError(t, err)
		assert.Equal(t, CopySkippedExists, outcome)
		assert.Equal(t, "already here\n", read(t, store, dstContainer, "docs/a.txt"))
		assert.False(t, store.Leased(srcContainer, "docs/a.txt"))
		assert.Equal(t, 1, m.outcome(CopySkippedExists))
	})

	t.Run("RetriggerIsIdempotent", func(t *testing.T) {
		store := memory.NewMemoryObjectStore()
		put(t, store, srcContainer, "docs/a.txt", "body\n")
		c := newCopier(t, store, nil)

		first, err := c.CopyWithHeader(ctx, "docs/a.txt", srcContainer, fullHeader())
		require.NoError(t, err)
		second, err := c.CopyWithHeader(ctx, "docs/a.txt", srcContainer, fullHeader())
		require.NoError(t, err)

		assert.Equal(t, CopyWritten, first)
		assert.Equal(t, CopySkippedExists, second)
		assert.Equal(t, "LICENSE: MIT\nAUTHOR: someone\nDATE: 2020\nbody\n", read(t, store, dstContainer, "docs/a.txt"))
	})

	t.Run("LeaseConflictIsNotAnError", func(t *testing.T) {
		store := memory.NewMemoryObjectStore()
		put(t, store, srcContainer, "docs/a.txt", "body\n")
		holder, err := store.AcquireLease(ctx, srcContainer, "docs/a.txt", object.InfiniteLease)
		require.NoError(t, err)
		c := newCopier(t, store, nil)

		outcome, err := c.CopyWithHeader(ctx, "docs/a.txt", srcContainer, fullHeader())
		require.NoError(t, err)
		assert.Equal(t, CopyLeaseConflict, outcome)

		exists, err := store.Exists(ctx, dstContainer, "docs/a.txt")
		require.NoError(t, err)
		assert.False(t, exists)

		// The other holder's lease is left alone
		assert.True(t, store.Leased(srcContainer, "docs/a.txt"))
		require.NoError(t, store.BreakLease(ctx, srcContainer, "docs/a.txt", holder))
	})

	t.Run("RacingCopyLosesLease", func(t *testing.T) {
		store := newHookedStore()
		put(t, store.MemoryObjectStore, srcContainer, "docs/a.txt", "body\n")
		c := newCopier(t, store, nil)

		held := make(chan struct{})
		release := make(chan struct{})
		var once sync.Once
		store.afterLease = func(string) {
			once.Do(func() {
				close(held)
				<-release
			})
		}

		type result struct {
			outcome CopyOutcome
			err     error
		}
		winner := make(chan result, 1)
		go func() {
			outcome, err := c.CopyWithHeader(ctx, "docs/a.txt", srcContainer, fullHeader())
			winner <- result{outcome, err}
		}()
		<-held

		// The winner holds the lease but has not committed, so the second
		// copy passes the destination check and fails on the lease.
		outcome, err := c.CopyWithHeader(ctx, "docs/a.txt", srcContainer, fullHeader())
		require.NoError(t, err)
		assert.Equal(t, CopyLeaseConflict, outcome)
		assert.True(t, store.Leased(srcContainer, "docs/a.txt"))

		close(release)
		won := <-winner
		require.NoError(t, won.err)
		assert.Equal(t, CopyWritten, won.outcome)

		assert.False(t, store.Leased(srcContainer, "docs/a.txt"))
		assert.Equal(t, "LICENSE: MIT\nAUTHOR: someone\nDATE: 2020\nbody\n", read(t, store.MemoryObjectStore, dstContainer, "docs/a.txt"))
	})

	t.Run("FailedCommitDiscardsStagedBlocks", func(t *testing.T) {
		store := newHookedStore()
		store.commitErr = errInjected
		put(t, store.MemoryObjectStore, srcContainer, "docs/a.txt", "C:\\exports\\12_34-56 report.txt\nbody\n")
		m := newRecordingMetrics()
		c := newCopier(t, store, m)

		for range 3 {
			outcome, err := c.CopyWithHeader(ctx, "docs/a.txt", srcContainer, fullHeader())
			assert.ErrorIs(t, err, errInjected)
			assert.Equal(t, CopyFailed, outcome)
		}

		assert.Zero(t, store.StagedBlockCount(dstContainer, "docs/a.txt"))
		assert.False(t, store.Leased(srcContainer, "docs/a.txt"))
		assert.Equal(t, 3, m.outcome(CopyFailed))
	})

	t.Run("FailedContentStageDiscardsHeaderBlocks", func(t *testing.T) {
		store := newHookedStore()
		store.failStageAt = 4 // three header lines, then the content block
		put(t, store.MemoryObjectStore, srcContainer, "docs/a.txt", "body\n")
		c := newCopier(t, store, nil)

		outcome, err := c.CopyWithHeader(ctx, "docs/a.txt", srcContainer, fullHeader())
		assert.ErrorIs(t, err, errInjected)
		assert.Equal(t, CopyFailed, outcome)
		assert.Zero(t, store.StagedBlockCount(dstContainer, "docs/a.txt"))

		exists, err := store.Exists(ctx, dstContainer, "docs/a.txt")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("ReleasesLeaseAfterCommit", func(t *testing.T) {
		store := memory.NewMemoryObjectStore()
		put(t, store, srcContainer, "docs/a.txt", "body\n")
		c := newCopier(t, store, nil)

		_, err := c.CopyWithHeader(ctx, "docs/a.txt", srcContainer, fullHeader())
		require.NoError(t, err)
		assert.False(t, store.Leased(srcContainer, "docs/a.txt"))
		assert.Zero(t, store.StagedBlockCount(dstContainer, "docs/a.txt"))
	})

	t.Run("MissingSourceFails", func(t *testing.T) {
		store := memory.NewMemoryObjectStore()
		m := newRecordingMetrics()
		c := newCopier(t, store, m)

		outcome, err := c.CopyWithHeader(ctx, "docs/none.txt", srcContainer, fullHeader())
		assert.ErrorIs(t, err, object.ErrObjectNotFound)
		assert.Equal(t, CopyFailed, outcome)
		assert.Equal(t, 1, m.outcome(CopyFailed))
	})

	t.Run("CancelledWhileThrottled", func(t *testing.T) {
		store := memory.NewMemoryObjectStore()
		put(t, store, srcContainer, "docs/a.txt", "body\n")
		c, err := NewCopier(CopierConfig{
			Store:                store,
			Scanner:              newScanner(t),
			DestinationContainer: dstContainer,
			Limiter:              ratelimiter.New(1, 1),
		})
		require.NoError(t, err)

		_, err = c.CopyWithHeader(ctx, "docs/a.txt", srcContainer, fullHeader())
		require.NoError(t, err)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		outcome, err := c.CopyWithHeader(cancelled, "docs/b.txt", srcContainer, fullHeader())
		assert.Error(t, err)
		assert.Equal(t, CopyFailed, outcome)
	})
}

func TestNewCopier_Validation(t *testing.T) {
	store := memory.NewMemoryObjectStore()
	scanner := newScanner(t)

	_, err := NewCopier(CopierConfig{Scanner: scanner, DestinationContainer: dstContainer})
	assert.Error(t, err)
	_, err = NewCopier(CopierConfig{Store: store, DestinationContainer: dstContainer})
	assert.Error(t, err)
	_, err = NewCopier(CopierConfig{Store: store, Scanner: scanner})
	assert.Error(t, err)
}

func TestCopyOutcome_String(t *testing.T) {
	assert.Equal(t, "written", CopyWritten.String())
	assert.Equal(t, "skipped_exists", CopySkippedExists.String())
	assert.Equal(t, "lease_conflict", CopyLeaseConflict.String())
	assert.Equal(t, "failed", CopyFailed.String())
}

func TestScanResult(t *testing.T) {
	assert.Equal(t, "complete", ScanResult(fullHeader()))
	assert.Equal(t, "partial", ScanResult(&header.Header{Lines: []string{"LICENSE: MIT\n"}}))
	assert.Equal(t, "empty", ScanResult(&header.Header{}))
}
