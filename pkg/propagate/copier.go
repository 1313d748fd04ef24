// Package propagate implements header propagation: the copy-merge engine that
// writes a header onto one object, and the controller that decides per folder
// whether to reuse a cached header or scan and fan out.
package propagate

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/marmos91/headerprop/internal/logger"
	"github.com/marmos91/headerprop/internal/ratelimiter"
	"github.com/marmos91/headerprop/pkg/header"
	"github.com/marmos91/headerprop/pkg/store/object"
)

// CopyOutcome describes what a copy did.
type CopyOutcome int

const (
	// CopyFailed means the copy returned an error.
	CopyFailed CopyOutcome = iota
	// CopyWritten means the destination object was committed.
	CopyWritten
	// CopySkippedExists means the destination already existed.
	CopySkippedExists
	// CopyLeaseConflict means another copy of the same source held the lease.
	CopyLeaseConflict
)

func (o CopyOutcome) String() string {
	switch o {
	case CopyWritten:
		return "written"
	case CopySkippedExists:
		return "skipped_exists"
	case CopyLeaseConflict:
		return "lease_conflict"
	default:
		return "failed"
	}
}

// legacyMarker matches a first line of the form `C:\dir\123_45-67 name.txt`
// written by the legacy exporter. Such a line must stay first in the output.
var legacyMarker = regexp.MustCompile(`^[a-zA-Z]:\\[a-zA-Z]+\\[0-9]+_[0-9]+-[0-9]+ [a-zA-Z]+\.txt$`)

// CopierConfig contains the collaborators of a Copier.
type CopierConfig struct {
	// Store holds both the source and destination containers
	Store object.ObjectStore

	// Scanner rescans each source before it is copied
	Scanner *header.Scanner

	// DestinationContainer receives merged objects under the source path
	DestinationContainer string

	// Limiter throttles copies (optional, nil = unlimited)
	Limiter *ratelimiter.RateLimiter

	// Metrics receives copy outcomes (optional)
	Metrics Metrics
}

// Copier is the copy-merge engine.
//
// For one source object it writes, under the same path in the destination
// container, the header lines the source lacks followed by the original
// content, committing all of it in a single atomic block-list commit.
//
// Concurrency:
// Two copies of the same source are mutually exclusive through a lease on the
// source object; the loser reports CopyLeaseConflict. The destination
// existence check is best effort: a destination created between the check and
// the commit is overwritten.
type Copier struct {
	store       object.ObjectStore
	scanner     *header.Scanner
	destination string
	limiter     *ratelimiter.RateLimiter
	metrics     Metrics
}

// NewCopier creates a Copier.
func NewCopier(cfg CopierConfig) (*Copier, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("copier requires an object store")
	}
	if cfg.Scanner == nil {
		return nil, fmt.Errorf("copier requires a scanner")
	}
	if cfg.DestinationContainer == "" {
		return nil, fmt.Errorf("copier requires a destination container")
	}

	m := cfg.Metrics
	if m == nil {
		m = noopMetrics{}
	}

	return &Copier{
		store:       cfg.Store,
		scanner:     cfg.Scanner,
		destination: cfg.DestinationContainer,
		limiter:     cfg.Limiter,
		metrics:     m,
	}, nil
}

// CopyWithHeader merges h into containerName/objectPath and writes the result
// to the destination container.
//
// Lease contention and an existing destination are not errors: they are
// reported through the outcome only. Every other failure is logged and
// returned, and the destination is left untouched. Blocks staged by a copy
// that does not commit are discarded before it returns.
func (c *Copier) CopyWithHeader(ctx context.Context, objectPath, containerName string, h *header.Header) (outcome CopyOutcome, err error) {
	start := time.Now()
	defer func() {
		if err != nil {
			logger.Error("Copy of %s/%s failed: %v", containerName, objectPath, err)
		}
		c.metrics.ObserveCopy(outcome, time.Since(start))
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return CopyFailed, fmt.Errorf("copy throttle wait cancelled: %w", err)
	}

	// Step 1: Find out what the source already carries
	existing, err := c.scanner.ScanObject(ctx, c.store, containerName, objectPath)
	if err != nil {
		return CopyFailed, fmt.Errorf("failed to rescan source: %w", err)
	}

	// Step 2: Never write the same destination twice
	exists, err := c.store.Exists(ctx, c.destination, objectPath)
	if err != nil {
		return CopyFailed, fmt.Errorf("failed to check destination: %w", err)
	}
	if exists {
		logger.Warn("Skipping copy, %s exists at destination %s", objectPath, c.destination)
		return CopySkippedExists, nil
	}

	// Step 3: Exclude concurrent copies of the same source
	leaseID, err := c.store.AcquireLease(ctx, containerName, objectPath, object.InfiniteLease)
	if errors.Is(err, object.ErrLeaseConflict) {
		logger.Info("Lease on %s/%s held by another copy, skipping", containerName, objectPath)
		return CopyLeaseConflict, nil
	}
	if err != nil {
		return CopyFailed, fmt.Errorf("failed to acquire lease: %w", err)
	}
	logger.Debug("Lease acquired on %s/%s (lease %s)", containerName, objectPath, leaseID)

	defer func() {
		if breakErr := c.store.BreakLease(context.WithoutCancel(ctx), containerName, objectPath, leaseID); breakErr != nil {
			logger.Warn("Failed to release lease on %s/%s: %v", containerName, objectPath, breakErr)
		}
	}()

	var staged []string
	defer func() {
		if outcome == CopyWritten || len(staged) == 0 {
			return
		}
		if discardErr := c.store.DiscardBlocks(context.WithoutCancel(ctx), c.destination, objectPath, staged); discardErr != nil {
			logger.Warn("Failed to discard %d staged blocks of %s/%s: %v", len(staged), c.destination, objectPath, discardErr)
		}
	}()

	// Step 4: Header lines, minus the ones the source already has
	var blockIDs []string
	if !existing.Propagatable() {
		missing := h.Missing(existing)
		if len(missing) > 0 {
			logger.Info("Adding %d header lines to %s", len(missing), objectPath)
		}

		// Step 5: One block per header line
		for _, line := range missing {
			id, err := c.stageBlock(ctx, objectPath, strings.NewReader(line), &staged)
			if err != nil {
				return CopyFailed, fmt.Errorf("failed to stage header line: %w", err)
			}
			blockIDs = append(blockIDs, id)
		}
	}

	// Steps 6-7: Legacy marker and source content
	blockIDs, err = c.stageContent(ctx, containerName, objectPath, blockIDs, &staged)
	if err != nil {
		return CopyFailed, err
	}

	// Step 8: Atomic publish
	if err := c.store.CommitBlocks(ctx, c.destination, objectPath, blockIDs); err != nil {
		return CopyFailed, fmt.Errorf("failed to commit blocks: %w", err)
	}
	logger.Info("Committed %d blocks into %s/%s", len(blockIDs), c.destination, objectPath)

	return CopyWritten, nil
}

// stageBlock stages r under a fresh block id. The id is recorded in staged
// before the upload so a partial failure is still discarded.
func (c *Copier) stageBlock(ctx context.Context, objectPath string, r io.Reader, staged *[]string) (string, error) {
	id := object.NewBlockID()
	*staged = append(*staged, id)
	if err := c.store.StageBlock(ctx, c.destination, objectPath, id, r); err != nil {
		return "", err
	}
	return id, nil
}

// stageContent stages the source content as the last block. A legacy marker
// on the first line is staged separately and moved to the front of the list.
func (c *Copier) stageContent(ctx context.Context, containerName, objectPath string, blockIDs []string, staged *[]string) ([]string, error) {
	rc, err := c.store.OpenRead(ctx, containerName, objectPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open source: %w", err)
	}
	defer func() { _ = rc.Close() }()

	br := bufio.NewReader(rc)
	first, err := br.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read source: %w", err)
	}

	content := io.Reader(br)
	if first != "" && legacyMarker.MatchString(strings.TrimSuffix(strings.TrimSuffix(first, "\n"), "\r")) {
		if !strings.HasSuffix(first, "\n") {
			first += "\n"
		}

		id, err := c.stageBlock(ctx, objectPath, strings.NewReader(first), staged)
		if err != nil {
			return nil, fmt.Errorf("failed to stage legacy marker: %w", err)
		}
		blockIDs = append([]string{id}, blockIDs...)
	} else {
		content = io.MultiReader(strings.NewReader(first), br)
	}

	logger.Debug("Reading content of %s into a new block", objectPath)
	id, err := c.stageBlock(ctx, objectPath, content, staged)
	if err != nil {
		return nil, fmt.Errorf("failed to stage content: %w", err)
	}

	return append(blockIDs, id), nil
}
