package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/headerprop/pkg/header"
	"github.com/marmos91/headerprop/pkg/store/cache"
)

// Cache implements cache.HeaderCache on BadgerDB.
//
// Header decisions survive restarts, so a folder that was scanned once is
// never rescanned until its entry is reset.
//
// Storage Model:
//
//	hdr:<prefix> -> JSON encoded header.Header
//
// Each operation runs in its own transaction. The per-prefix KeyedMutex keeps
// a Get from interleaving with a concurrent Set for the same prefix.
type Cache struct {
	db    *badger.DB
	locks *cache.KeyedMutex
}

// Config contains configuration for the BadgerDB header cache.
type Config struct {
	// DBPath is the directory holding the database files
	DBPath string

	// InMemory runs BadgerDB without touching disk (tests)
	InMemory bool
}

const keyPrefix = "hdr:"

func key(prefix string) []byte {
	return []byte(keyPrefix + prefix)
}

// New opens (or creates) the cache database.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.DBPath == "" {
			return nil, fmt.Errorf("badger cache requires a db path")
		}
		opts = badger.DefaultOptions(cfg.DBPath)
	}

	// Headers are tiny, compression is not worth it
	opts = opts.WithLoggingLevel(badger.WARNING).WithCompression(options.None)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.DBPath, err)
	}

	return &Cache{db: db, locks: cache.NewKeyedMutex()}, nil
}

func (c *Cache) Get(ctx context.Context, prefix string) (*header.Header, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	unlock := c.locks.Lock(prefix)
	defer unlock()

	var h header.Header
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(prefix))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &h)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get header for %q: %w", prefix, err)
	}

	return &h, true, nil
}

func (c *Cache) Set(ctx context.Context, prefix string, h *header.Header) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cache.CheckPropagatable(h); err != nil {
		return err
	}

	unlock := c.locks.Lock(prefix)
	defer unlock()

	return c.put(prefix, h)
}

func (c *Cache) Reset(ctx context.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := c.locks.Lock(prefix)
	defer unlock()

	return c.put(prefix, &header.Header{Lines: []string{}})
}

func (c *Cache) put(prefix string, h *header.Header) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("failed to encode header: %w", err)
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(prefix), data)
	})
	if err != nil {
		return fmt.Errorf("failed to store header for %q: %w", prefix, err)
	}
	return nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}
