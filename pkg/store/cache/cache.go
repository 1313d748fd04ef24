// Package cache defines the per-folder header cache.
//
// The cache remembers, for every folder prefix, the last header established
// by a complete scan so later notifications in the same folder can skip the
// scan and fan-out. Each prefix has a single logical writer: operations on
// one prefix are totally ordered, operations on different prefixes never
// wait on each other.
package cache

import (
	"context"
	"errors"

	"github.com/marmos91/headerprop/pkg/header"
)

// ErrNotPropagatable indicates an attempt to cache a header that is empty or
// only partially matched the pattern set.
var ErrNotPropagatable = errors.New("header is not propagatable")

// HeaderCache is the keyed store of header decisions.
type HeaderCache interface {
	// Get returns the last header stored for prefix. The boolean is false
	// when the prefix was never set.
	//
	// After Reset the entry exists but holds an empty header; callers treat
	// it the same as a miss.
	Get(ctx context.Context, prefix string) (*header.Header, bool, error)

	// Set replaces the header stored for prefix.
	//
	// Returns ErrNotPropagatable unless h has lines and is complete.
	Set(ctx context.Context, prefix string, h *header.Header) error

	// Reset clears the header stored for prefix. Used for out-of-band recovery.
	Reset(ctx context.Context, prefix string) error

	// Close releases resources held by the cache.
	Close() error
}

// CheckPropagatable returns ErrNotPropagatable unless h may be cached.
func CheckPropagatable(h *header.Header) error {
	if !h.Propagatable() {
		return ErrNotPropagatable
	}
	return nil
}
