package testing

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/marmos91/headerprop/pkg/store/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite is a test suite for ObjectStore implementations.
// It tests the interface contract, not implementation details, making it
// reusable across memory, S3 and Azure Blob stores.
//
// Usage:
//
//	func TestMyObjectStore(t *testing.T) {
//	    suite := &testing.StoreTestSuite{
//	        NewStore:  func() object.ObjectStore { return mystore.New() },
//	        Container: "test-container",
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore creates a fresh ObjectStore for each test.
	NewStore func() object.ObjectStore

	// Container is an existing container the tests may write into.
	// Every test uses a unique path prefix, so the container may be shared.
	Container string
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("ReadOperations", suite.RunReadTests)
	t.Run("BlockOperations", suite.RunBlockTests)
	t.Run("LeaseOperations", suite.RunLeaseTests)
	t.Run("ListOperations", suite.RunListTests)
}

func testContext() context.Context {
	return context.Background()
}

// uniquePrefix returns a fresh folder for one test.
func uniquePrefix(name string) string {
	return "suite-" + name + "-" + uuid.NewString()[:8]
}

// putObject writes data through the two-phase block contract.
func putObject(t *testing.T, store object.ObjectStore, container, path string, data []byte) {
	t.Helper()
	blockID := object.NewBlockID()
	require.NoError(t, store.StageBlock(testContext(), container, path, blockID, bytes.NewReader(data)))
	require.NoError(t, store.CommitBlocks(testContext(), container, path, []string{blockID}))
}

func readObject(t *testing.T, store object.ObjectStore, container, path string) []byte {
	t.Helper()
	rc, err := store.OpenRead(testContext(), container, path)
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

// ============================================================================
// Read Tests
// ============================================================================

// RunReadTests executes OpenRead and Exists tests.
func (suite *StoreTestSuite) RunReadTests(t *testing.T) {
	t.Run("OpenRead_NotFound", func(t *testing.T) {
		store := suite.NewStore()
		_, err := store.OpenRead(testContext(), suite.Container, uniquePrefix("missing")+"/x.txt")
		assert.ErrorIs(t, err, object.ErrObjectNotFound)
	})

	t.Run("Exists_NotFound", func(t *testing.T) {
		store := suite.NewStore()
		ok, err := store.Exists(testContext(), suite.Container, uniquePrefix("missing")+"/x.txt")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Exists_AfterCommit", func(t *testing.T) {
		store := suite.NewStore()
		path := uniquePrefix("exists") + "/x.txt"
		putObject(t, store, suite.Container, path, []byte("hello\n"))

		ok, err := store.Exists(testContext(), suite.Container, path)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

// ============================================================================
// Block Tests
// ============================================================================

// RunBlockTests executes StageBlock and CommitBlocks tests.
func (suite *StoreTestSuite) RunBlockTests(t *testing.T) {
	t.Run("CommitConcatenatesInListOrder", func(t *testing.T) {
		store := suite.NewStore()
		path := uniquePrefix("order") + "/x.txt"
		ctx := testContext()

		ids := []string{object.NewBlockID(), object.NewBlockID(), object.NewBlockID()}
		require.NoError(t, store.StageBlock(ctx, suite.Container, path, ids[2], strings.NewReader("body\n")))
		require.NoError(t, store.StageBlock(ctx, suite.Container, path, ids[0], strings.NewReader("first\n")))
		require.NoError(t, store.StageBlock(ctx, suite.Container, path, ids[1], strings.NewReader("second\n")))
		require.NoError(t, store.CommitBlocks(ctx, suite.Container, path, ids))

		assert.Equal(t, "first\nsecond\nbody\n", string(readObject(t, store, suite.Container, path)))
	})

	t.Run("StagedBlocksAreInvisible", func(t *testing.T) {
		store := suite.NewStore()
		path := uniquePrefix("invisible") + "/x.txt"

		require.NoError(t, store.StageBlock(testContext(), suite.Container, path, object.NewBlockID(), strings.NewReader("pending")))

		ok, err := store.Exists(testContext(), suite.Container, path)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("CommitEmptyListFails", func(t *testing.T) {
		store := suite.NewStore()
		err := store.CommitBlocks(testContext(), suite.Container, uniquePrefix("empty")+"/x.txt", nil)
		assert.ErrorIs(t, err, object.ErrNoBlocks)
	})

	t.Run("CommitUnknownBlockFails", func(t *testing.T) {
		store := suite.NewStore()
		err := store.CommitBlocks(testContext(), suite.Container, uniquePrefix("unknown")+"/x.txt", []string{object.NewBlockID()})
		assert.ErrorIs(t, err, object.ErrBlockNotFound)
	})

	t.Run("DiscardKeepsOtherBlocks", func(t *testing.T) {
		store := suite.NewStore()
		path := uniquePrefix("discard") + "/x.txt"
		ctx := testContext()

		kept, dropped := object.NewBlockID(), object.NewBlockID()
		require.NoError(t, store.StageBlock(ctx, suite.Container, path, kept, strings.NewReader("kept\n")))
		require.NoError(t, store.StageBlock(ctx, suite.Container, path, dropped, strings.NewReader("dropped\n")))
		require.NoError(t, store.DiscardBlocks(ctx, suite.Container, path, []string{dropped, object.NewBlockID()}))

		require.NoError(t, store.CommitBlocks(ctx, suite.Container, path, []string{kept}))
		assert.Equal(t, "kept\n", string(readObject(t, store, suite.Container, path)))
	})

	t.Run("DiscardWithoutStagedBlocks", func(t *testing.T) {
		store := suite.NewStore()
		err := store.DiscardBlocks(testContext(), suite.Container, uniquePrefix("nodiscard")+"/x.txt", []string{object.NewBlockID()})
		assert.NoError(t, err)
	})

	t.Run("EmptyBlock", func(t *testing.T) {
		store := suite.NewStore()
		path := uniquePrefix("emptyblock") + "/x.txt"
		putObject(t, store, suite.Container, path, []byte{})

		assert.Empty(t, readObject(t, store, suite.Container, path))
	})
}

// ============================================================================
// Lease Tests
// ============================================================================

// RunLeaseTests executes AcquireLease and BreakLease tests.
func (suite *StoreTestSuite) RunLeaseTests(t *testing.T) {
	t.Run("SecondAcquireConflicts", func(t *testing.T) {
		store := suite.NewStore()
		path := uniquePrefix("lease") + "/x.txt"
		putObject(t, store, suite.Container, path, []byte("data"))

		id, err := store.AcquireLease(testContext(), suite.Container, path, object.InfiniteLease)
		require.NoError(t, err)
		require.NotEmpty(t, id)

		_, err = store.AcquireLease(testContext(), suite.Container, path, object.InfiniteLease)
		assert.ErrorIs(t, err, object.ErrLeaseConflict)

		require.NoError(t, store.BreakLease(testContext(), suite.Container, path, id))
	})

	t.Run("ReacquireAfterBreak", func(t *testing.T) {
		store := suite.NewStore()
		path := uniquePrefix("relase") + "/x.txt"
		putObject(t, store, suite.Container, path, []byte("data"))

		id, err := store.AcquireLease(testContext(), suite.Container, path, object.InfiniteLease)
		require.NoError(t, err)
		require.NoError(t, store.BreakLease(testContext(), suite.Container, path, id))

		id, err = store.AcquireLease(testContext(), suite.Container, path, object.InfiniteLease)
		require.NoError(t, err)
		require.NoError(t, store.BreakLease(testContext(), suite.Container, path, id))
	})

	t.Run("LeaseDoesNotBlockReads", func(t *testing.T) {
		store := suite.NewStore()
		path := uniquePrefix("leaseread") + "/x.txt"
		putObject(t, store, suite.Container, path, []byte("data"))

		id, err := store.AcquireLease(testContext(), suite.Container, path, object.InfiniteLease)
		require.NoError(t, err)
		defer func() { _ = store.BreakLease(testContext(), suite.Container, path, id) }()

		assert.Equal(t, "data", string(readObject(t, store, suite.Container, path)))
	})

	t.Run("AcquireMissingObjectFails", func(t *testing.T) {
		store := suite.NewStore()
		_, err := store.AcquireLease(testContext(), suite.Container, uniquePrefix("nolease")+"/x.txt", object.InfiniteLease)
		assert.ErrorIs(t, err, object.ErrObjectNotFound)
	})
}

// ============================================================================
// List Tests
// ============================================================================

// RunListTests executes List tests.
func (suite *StoreTestSuite) RunListTests(t *testing.T) {
	t.Run("ListsAllDepthsUnderPrefix", func(t *testing.T) {
		store := suite.NewStore()
		prefix := uniquePrefix("list")
		putObject(t, store, suite.Container, prefix+"/a.txt", []byte("a"))
		putObject(t, store, suite.Container, prefix+"/b.txt", []byte("b"))
		putObject(t, store, suite.Container, prefix+"/nested/c.txt", []byte("c"))
		putObject(t, store, suite.Container, uniquePrefix("other")+"/d.txt", []byte("d"))

		paths, err := object.Collect(store.List(testContext(), suite.Container, prefix))
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{prefix + "/a.txt", prefix + "/b.txt", prefix + "/nested/c.txt"}, paths)
	})

	t.Run("LeasedObjectsListOnce", func(t *testing.T) {
		store := suite.NewStore()
		prefix := uniquePrefix("listlease")
		putObject(t, store, suite.Container, prefix+"/a.txt", []byte("a"))

		id, err := store.AcquireLease(testContext(), suite.Container, prefix+"/a.txt", object.InfiniteLease)
		require.NoError(t, err)
		defer func() { _ = store.BreakLease(testContext(), suite.Container, prefix+"/a.txt", id) }()

		paths, err := object.Collect(store.List(testContext(), suite.Container, prefix))
		require.NoError(t, err)
		assert.Equal(t, []string{prefix + "/a.txt"}, paths)
	})

	t.Run("EarlyStop", func(t *testing.T) {
		store := suite.NewStore()
		prefix := uniquePrefix("liststop")
		putObject(t, store, suite.Container, prefix+"/a.txt", []byte("a"))
		putObject(t, store, suite.Container, prefix+"/b.txt", []byte("b"))

		count := 0
		for _, err := range store.List(testContext(), suite.Container, prefix) {
			require.NoError(t, err)
			count++
			break
		}
		assert.Equal(t, 1, count)
	})
}
