package propagate

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/marmos91/headerprop/internal/logger"
	"github.com/marmos91/headerprop/pkg/header"
	"github.com/marmos91/headerprop/pkg/store/cache"
	"github.com/marmos91/headerprop/pkg/store/object"
)

// Notification announces that an object was created.
type Notification struct {
	Container string
	Path      string
}

// ControllerConfig contains the collaborators of a Controller.
type ControllerConfig struct {
	Store   object.ObjectStore
	Cache   cache.HeaderCache
	Scanner *header.Scanner
	Copier  *Copier

	// MaxConcurrentCopies bounds in-flight copies per batch (0 = unbounded)
	MaxConcurrentCopies int

	// Metrics receives scan and cache events (optional)
	Metrics Metrics
}

// Controller decides, per notification, whether to reuse a folder's cached
// header or to scan the new object and fan its header out to every sibling.
//
// Decision flow for one notification:
//  1. Look up the folder prefix in the header cache
//  2. Hit with lines: copy the notified object only
//  3. Miss: scan the notified object
//  4. Complete header: cache it, list the folder and copy every object
//  5. Partial or empty header: nothing to propagate
type Controller struct {
	store     object.ObjectStore
	cache     cache.HeaderCache
	scanner   *header.Scanner
	copier    *Copier
	maxCopies int
	metrics   Metrics
}

// NewController creates a Controller.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Store == nil || cfg.Cache == nil || cfg.Scanner == nil || cfg.Copier == nil {
		return nil, fmt.Errorf("controller requires store, cache, scanner and copier")
	}

	m := cfg.Metrics
	if m == nil {
		m = noopMetrics{}
	}

	return &Controller{
		store:     cfg.Store,
		cache:     cfg.Cache,
		scanner:   cfg.Scanner,
		copier:    cfg.Copier,
		maxCopies: cfg.MaxConcurrentCopies,
		metrics:   m,
	}, nil
}

// Handle processes a single notification and waits for its copies.
func (c *Controller) Handle(ctx context.Context, n Notification) error {
	return c.HandleBatch(ctx, []Notification{n})
}

// HandleBatch processes every notification concurrently and returns once all
// dispatched copies have finished. The first error is returned; a failure in
// one notification does not cancel the others.
func (c *Controller) HandleBatch(ctx context.Context, batch []Notification) error {
	// Copies run in their own group so a bounded copy pool can never starve
	// the notification goroutines that feed it.
	var copies errgroup.Group
	if c.maxCopies > 0 {
		copies.SetLimit(c.maxCopies)
	}

	var events errgroup.Group
	for _, n := range batch {
		events.Go(func() error {
			return c.handle(ctx, n, &copies)
		})
	}

	eventErr := events.Wait()
	copyErr := copies.Wait()
	if eventErr != nil {
		return eventErr
	}
	return copyErr
}

func (c *Controller) handle(ctx context.Context, n Notification, copies *errgroup.Group) error {
	prefix := header.FolderPrefix(n.Path)

	cached, ok, err := c.cache.Get(ctx, prefix)
	if err != nil {
		return fmt.Errorf("failed to read header cache for %q: %w", prefix, err)
	}

	if ok && cached.HasHeader() {
		c.metrics.ObserveCacheLookup(true)
		logger.Debug("Header for %q already established, copying %s only", prefix, n.Path)
		copies.Go(func() error {
			return c.copy(ctx, n.Container, n.Path, cached)
		})
		return nil
	}
	c.metrics.ObserveCacheLookup(false)

	h, err := c.scanner.ScanObject(ctx, c.store, n.Container, n.Path)
	if err != nil {
		c.metrics.ObserveScan("error")
		return fmt.Errorf("failed to scan %s/%s: %w", n.Container, n.Path, err)
	}
	c.metrics.ObserveScan(ScanResult(h))

	if !h.Propagatable() {
		logger.Debug("No complete header in %s (%s), nothing to propagate", n.Path, ScanResult(h))
		return nil
	}

	if err := c.cache.Set(ctx, prefix, h); err != nil {
		return fmt.Errorf("failed to cache header for %q: %w", prefix, err)
	}

	count := 0
	for path, err := range c.store.List(ctx, n.Container, prefix) {
		if err != nil {
			return fmt.Errorf("failed to list %q: %w", prefix, err)
		}
		count++
		copies.Go(func() error {
			return c.copy(ctx, n.Container, path, h)
		})
	}
	c.metrics.ObserveFanout(count)
	logger.Info("Propagating header of %s to %d objects under %q", n.Path, count, prefix)

	return nil
}

func (c *Controller) copy(ctx context.Context, container, path string, h *header.Header) error {
	_, err := c.copier.CopyWithHeader(ctx, path, container, h)
	return err
}
