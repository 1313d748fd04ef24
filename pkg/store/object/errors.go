package object

import "errors"

// ============================================================================
// Standard Object Store Errors
// ============================================================================

// These errors provide a consistent way to indicate common failure conditions
// across all object store implementations. Implementations wrap them with
// context:
//
//	return fmt.Errorf("object %s/%s: %w", container, path, object.ErrObjectNotFound)
//
// and callers test with errors.Is.

var (
	// ErrObjectNotFound indicates the requested object does not exist.
	ErrObjectNotFound = errors.New("object not found")

	// ErrLeaseConflict indicates an active lease prevents the operation.
	//
	// This is the precondition failure a competing copy observes when another
	// copy of the same source is in progress. It is expected contention, not
	// a fault.
	ErrLeaseConflict = errors.New("lease conflict")

	// ErrLeaseNotHeld indicates a lease id that does not match the active lease.
	ErrLeaseNotHeld = errors.New("lease not held")

	// ErrNoBlocks indicates a commit with an empty block list.
	ErrNoBlocks = errors.New("no blocks to commit")

	// ErrBlockNotFound indicates a commit that references an unstaged block.
	ErrBlockNotFound = errors.New("block not staged")
)
