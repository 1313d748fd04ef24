package propagate

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marmos91/headerprop/pkg/header"
	"github.com/marmos91/headerprop/pkg/store/object"
	"github.com/marmos91/headerprop/pkg/store/object/memory"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

const (
	srcContainer = "incoming"
	dstContainer = "processed"
)

// newScanner returns a three-pattern scanner: LICENSE, AUTHOR, DATE.
func newScanner(t *testing.T) *header.Scanner {
	t.Helper()
	s, err := header.NewScanner([]header.Pattern{
		{Name: "license", Pattern: `^LICENSE:`},
		{Name: "author", Pattern: `^AUTHOR:`},
		{Name: "date", Pattern: `^DATE:`},
	})
	require.NoError(t, err)
	return s
}

func fullHeader() *header.Header {
	return &header.Header{
		Lines:    []string{"LICENSE: MIT\n", "AUTHOR: someone\n", "DATE: 2020\n"},
		Complete: true,
	}
}

func put(t *testing.T, store *memory.MemoryObjectStore, container, path, data string) {
	t.Helper()
	require.NoError(t, store.Put(context.Background(), container, path, []byte(data)))
}

func read(t *testing.T, store *memory.MemoryObjectStore, container, path string) string {
	t.Helper()
	rc, err := store.OpenRead(context.Background(), container, path)
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

// recordingMetrics counts every event it receives.
type recordingMetrics struct {
	mu       sync.Mutex
	scans    map[string]int
	hits     int
	misses   int
	outcomes map[CopyOutcome]int
	fanout   []int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		scans:    make(map[string]int),
		outcomes: make(map[CopyOutcome]int),
	}
}

func (m *recordingMetrics) ObserveScan(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scans[result]++
}

func (m *recordingMetrics) ObserveCacheLookup(hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.hits++
	} else {
		m.misses++
	}
}

func (m *recordingMetrics) ObserveCopy(outcome CopyOutcome, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[outcome]++
}

func (m *recordingMetrics) ObserveFanout(objects int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fanout = append(m.fanout, objects)
}

func (m *recordingMetrics) totalScans() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.scans {
		total += n
	}
	return total
}

func (m *recordingMetrics) outcome(o CopyOutcome) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outcomes[o]
}

func newCopier(t *testing.T, store object.ObjectStore, m Metrics) *Copier {
	t.Helper()
	c, err := NewCopier(CopierConfig{
		Store:                store,
		Scanner:              newScanner(t),
		DestinationContainer: dstContainer,
		Metrics:              m,
	})
	require.NoError(t, err)
	return c
}

var errInjected = errors.New("injected store failure")

// hookedStore wraps the memory store with injectable failures and a hook
// that runs while a copy holds its source lease.
type hookedStore struct {
	*memory.MemoryObjectStore

	// commitErr fails every CommitBlocks call when set
	commitErr error

	// failStageAt fails the n-th StageBlock call (1-based, 0 = never)
	failStageAt int32
	stageCalls  atomic.Int32

	// afterLease runs after each successful AcquireLease
	afterLease func(path string)
}

func newHookedStore() *hookedStore {
	return &hookedStore{MemoryObjectStore: memory.NewMemoryObjectStore()}
}

func (s *hookedStore) StageBlock(ctx context.Context, container, path, blockID string, r io.Reader) error {
	if n := s.stageCalls.Add(1); s.failStageAt > 0 && n == s.failStageAt {
		return errInjected
	}
	return s.MemoryObjectStore.StageBlock(ctx, container, path, blockID, r)
}

func (s *hookedStore) CommitBlocks(ctx context.Context, container, path string, blockIDs []string) error {
	if s.commitErr != nil {
		return s.commitErr
	}
	return s.MemoryObjectStore.CommitBlocks(ctx, container, path, blockIDs)
}

func (s *hookedStore) AcquireLease(ctx context.Context, container, path string, duration time.Duration) (string, error) {
	id, err := s.MemoryObjectStore.AcquireLease(ctx, container, path, duration)
	if err == nil && s.afterLease != nil {
		s.afterLease(path)
	}
	return id, err
}
