// Package object defines the object-store contract used by headerprop.
//
// The contract mirrors a block-blob service: objects are read as streams,
// listed by key prefix, written in two phases (stage individual blocks, then
// atomically commit an ordered block list) and protected against concurrent
// writers with leases.
//
// Implementations:
//   - memory: in-process store for tests and local runs
//   - s3: Amazon S3 or S3-compatible storage
//   - azblob: Azure Blob Storage
package object

import (
	"context"
	"encoding/base64"
	"io"
	"iter"
	"time"

	"github.com/google/uuid"
)

// InfiniteLease requests a lease that never expires on its own.
const InfiniteLease time.Duration = -1

// ObjectStore is the object-store contract consumed by the scanner, the
// copy-merge engine and the propagation controller.
//
// Containers are top-level namespaces (a bucket or a blob container). Paths
// are "/"-separated keys within a container.
//
// Thread Safety:
// Implementations must be safe for concurrent use by multiple goroutines.
type ObjectStore interface {
	// OpenRead returns a stream over the committed content of an object.
	//
	// Returns ErrObjectNotFound (wrapped) if the object does not exist.
	OpenRead(ctx context.Context, container, path string) (io.ReadCloser, error)

	// Exists reports whether a committed object exists at container/path.
	// A missing object is not an error.
	Exists(ctx context.Context, container, path string) (bool, error)

	// List yields the paths of every object whose path starts with prefix, at
	// any depth. The sequence is lazy: pages are fetched as it is consumed.
	// A listing failure is yielded once as a non-nil error, after which the
	// sequence ends.
	List(ctx context.Context, container, prefix string) iter.Seq2[string, error]

	// StageBlock uploads one content block for a future commit of
	// container/path. Staged blocks are invisible to readers.
	StageBlock(ctx context.Context, container, path, blockID string, r io.Reader) error

	// CommitBlocks publishes container/path as the concatenation of the given
	// staged blocks, in order. This is the atomic publish step: before it
	// succeeds the object is not readable in its new form.
	//
	// Returns ErrNoBlocks for an empty list and ErrBlockNotFound if a block
	// was never staged.
	CommitBlocks(ctx context.Context, container, path string, blockIDs []string) error

	// DiscardBlocks drops staged blocks of container/path that will never be
	// committed. Unknown block ids are ignored, so it is safe to call after a
	// partially failed staging sequence.
	DiscardBlocks(ctx context.Context, container, path string, blockIDs []string) error

	// AcquireLease takes an exclusive write lease on an existing object.
	// A non-positive duration requests an infinite lease.
	//
	// Returns ErrLeaseConflict if another lease is active and
	// ErrObjectNotFound if the object does not exist.
	AcquireLease(ctx context.Context, container, path string, duration time.Duration) (leaseID string, err error)

	// BreakLease releases the lease on container/path.
	//
	// Returns ErrLeaseNotHeld if leaseID does not identify the active lease.
	BreakLease(ctx context.Context, container, path, leaseID string) error
}

// Collect drains a List sequence into a slice.
func Collect(seq iter.Seq2[string, error]) ([]string, error) {
	var paths []string
	for path, err := range seq {
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// NewBlockID returns a fresh random block identifier. Identifiers are base64
// encoded and all have the same length, as block-blob services require.
func NewBlockID() string {
	return base64.StdEncoding.EncodeToString([]byte(uuid.NewString()))
}

// LeaseSweeper is implemented by stores whose leases are plain records that
// outlive a crashed holder. An infinite lease left by a process that died
// between acquire and release would otherwise block every later copy of
// that object.
//
// The sweeper in pkg/gc uses it; stores with server-managed leases do not
// implement it.
type LeaseSweeper interface {
	// StaleLeases returns the paths in container whose lease was acquired
	// before cutoff.
	StaleLeases(ctx context.Context, container string, cutoff time.Time) ([]string, error)

	// ForceReleaseLeases removes the leases on paths regardless of holder.
	// Per-path failures are returned in the map; the error is reserved for
	// failures of the whole call.
	ForceReleaseLeases(ctx context.Context, container string, paths []string) (map[string]error, error)
}
