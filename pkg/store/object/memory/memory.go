package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/headerprop/pkg/store/object"
)

// MemoryObjectStore implements object.ObjectStore using in-memory storage.
//
// This implementation is designed for:
//   - Testing and development
//   - Local runs of the propagation pipeline without cloud credentials
//
// Characteristics:
//   - Volatile: Data lost on restart
//   - Thread-safe: Protected by RWMutex
//   - Leases honour expiry when a finite duration is requested
//
// Copying data on read/write prevents data races with caller-owned buffers.
type MemoryObjectStore struct {
	// objects stores committed content keyed by container, then path
	objects map[string]map[string][]byte

	// staged stores uncommitted blocks keyed by container/path, then block id
	staged map[string]map[string][]byte

	// leases stores the active lease per container/path
	leases map[string]memoryLease

	// now is overridable for lease expiry tests
	now func() time.Time

	mu sync.RWMutex
}

type memoryLease struct {
	id       string
	acquired time.Time
	expires  time.Time // zero for infinite leases
}

// NewMemoryObjectStore creates an empty in-memory object store.
func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{
		objects: make(map[string]map[string][]byte),
		staged:  make(map[string]map[string][]byte),
		leases:  make(map[string]memoryLease),
		now:     time.Now,
	}
}

func objectKey(container, path string) string {
	return container + "\x00" + path
}

// Put stores a committed object directly, bypassing block staging.
// Used to seed source containers.
func (s *MemoryObjectStore) Put(ctx context.Context, container, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.objects[container]
	if !ok {
		c = make(map[string][]byte)
		s.objects[container] = c
	}
	c[path] = dataCopy
	return nil
}

// ============================================================================
// Read Operations
// ============================================================================

func (s *MemoryObjectStore) OpenRead(ctx context.Context, container, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.objects[container][path]
	if !ok {
		return nil, fmt.Errorf("object %s/%s: %w", container, path, object.ErrObjectNotFound)
	}

	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	return io.NopCloser(bytes.NewReader(dataCopy)), nil
}

func (s *MemoryObjectStore) Exists(ctx context.Context, container, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.objects[container][path]
	return ok, nil
}

// List yields matching paths in lexical order, from a snapshot taken when
// iteration starts.
func (s *MemoryObjectStore) List(ctx context.Context, container, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if err := ctx.Err(); err != nil {
			yield("", err)
			return
		}

		s.mu.RLock()
		paths := make([]string, 0, len(s.objects[container]))
		for path := range s.objects[container] {
			if strings.HasPrefix(path, prefix) {
				paths = append(paths, path)
			}
		}
		s.mu.RUnlock()

		sort.Strings(paths)
		for _, path := range paths {
			if !yield(path, nil) {
				return
			}
		}
	}
}

// ============================================================================
// Block Write Operations
// ============================================================================

func (s *MemoryObjectStore) StageBlock(ctx context.Context, container, path, blockID string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read block %s: %w", blockID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := objectKey(container, path)
	blocks, ok := s.staged[key]
	if !ok {
		blocks = make(map[string][]byte)
		s.staged[key] = blocks
	}
	blocks[blockID] = data
	return nil
}

// CommitBlocks concatenates the staged blocks and discards every other
// uncommitted block of the object.
func (s *MemoryObjectStore) CommitBlocks(ctx context.Context, container, path string, blockIDs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if len(blockIDs) == 0 {
		return fmt.Errorf("commit %s/%s: %w", container, path, object.ErrNoBlocks)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := objectKey(container, path)
	blocks := s.staged[key]

	var buf bytes.Buffer
	for _, id := range blockIDs {
		data, ok := blocks[id]
		if !ok {
			return fmt.Errorf("commit %s/%s block %s: %w", container, path, id, object.ErrBlockNotFound)
		}
		buf.Write(data)
	}

	c, ok := s.objects[container]
	if !ok {
		c = make(map[string][]byte)
		s.objects[container] = c
	}
	c[path] = buf.Bytes()
	delete(s.staged, key)
	return nil
}

func (s *MemoryObjectStore) DiscardBlocks(ctx context.Context, container, path string, blockIDs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := objectKey(container, path)
	blocks, ok := s.staged[key]
	if !ok {
		return nil
	}
	for _, id := range blockIDs {
		delete(blocks, id)
	}
	if len(blocks) == 0 {
		delete(s.staged, key)
	}
	return nil
}

// ============================================================================
// Lease Operations
// ============================================================================

func (s *MemoryObjectStore) AcquireLease(ctx context.Context, container, path string, duration time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.objects[container][path]; !ok {
		return "", fmt.Errorf("lease %s/%s: %w", container, path, object.ErrObjectNotFound)
	}

	key := objectKey(container, path)
	now := s.now()
	if l, ok := s.leases[key]; ok && (l.expires.IsZero() || now.Before(l.expires)) {
		return "", fmt.Errorf("lease %s/%s: %w", container, path, object.ErrLeaseConflict)
	}

	l := memoryLease{id: uuid.NewString(), acquired: now}
	if duration > 0 {
		l.expires = now.Add(duration)
	}
	s.leases[key] = l
	return l.id, nil
}

func (s *MemoryObjectStore) BreakLease(ctx context.Context, container, path, leaseID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := objectKey(container, path)
	l, ok := s.leases[key]
	if !ok || l.id != leaseID {
		return fmt.Errorf("lease %s/%s: %w", container, path, object.ErrLeaseNotHeld)
	}
	delete(s.leases, key)
	return nil
}

// StaleLeases returns the paths in container whose lease was acquired before
// cutoff, expired or not.
func (s *MemoryObjectStore) StaleLeases(ctx context.Context, container string, cutoff time.Time) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	keyPrefix := objectKey(container, "")
	var paths []string
	for key, l := range s.leases {
		if strings.HasPrefix(key, keyPrefix) && l.acquired.Before(cutoff) {
			paths = append(paths, strings.TrimPrefix(key, keyPrefix))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// ForceReleaseLeases drops the leases on paths. Releasing a path without a
// lease is not a failure.
func (s *MemoryObjectStore) ForceReleaseLeases(ctx context.Context, container string, paths []string) (map[string]error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, path := range paths {
		delete(s.leases, objectKey(container, path))
	}
	return nil, nil
}

// SetClock overrides the time source used for lease bookkeeping.
func (s *MemoryObjectStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Leased reports whether container/path currently holds an unexpired lease.
func (s *MemoryObjectStore) Leased(container, path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.leases[objectKey(container, path)]
	return ok && (l.expires.IsZero() || s.now().Before(l.expires))
}

// StagedBlockCount returns the number of uncommitted blocks for container/path.
func (s *MemoryObjectStore) StagedBlockCount(container, path string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.staged[objectKey(container, path)])
}
