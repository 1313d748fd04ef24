package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/headerprop/internal/logger"
	"github.com/marmos91/headerprop/internal/ratelimiter"
	"github.com/marmos91/headerprop/pkg/gc"
	"github.com/marmos91/headerprop/pkg/header"
	"github.com/marmos91/headerprop/pkg/store/cache"
	cachebadger "github.com/marmos91/headerprop/pkg/store/cache/badger"
	cachememory "github.com/marmos91/headerprop/pkg/store/cache/memory"
	"github.com/marmos91/headerprop/pkg/store/object"
	objectazblob "github.com/marmos91/headerprop/pkg/store/object/azblob"
	objectmemory "github.com/marmos91/headerprop/pkg/store/object/memory"
	objects3 "github.com/marmos91/headerprop/pkg/store/object/s3"
	"github.com/mitchellh/mapstructure"
)

// CreateObjectStore creates an object store based on configuration.
//
// The Type field selects the implementation; the type-specific option map is
// decoded with mapstructure and handed to the store's constructor.
//
// Supported types:
//   - "memory": in-process store (local runs and tests)
//   - "s3": Amazon S3 or S3-compatible storage
//   - "azblob": Azure Blob Storage
//
// containers lists the containers the service will touch; stores that can
// verify access at start-up do so.
func CreateObjectStore(ctx context.Context, cfg *ObjectStoreConfig, containers ...string) (object.ObjectStore, error) {
	switch cfg.Type {
	case "memory":
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return objectmemory.NewMemoryObjectStore(), nil
	case "s3":
		return createS3ObjectStore(ctx, cfg.S3, containers)
	case "azblob":
		return createAzureBlobObjectStore(cfg.Azblob)
	default:
		return nil, fmt.Errorf("unknown object store type: %q (supported: memory, s3, azblob)", cfg.Type)
	}
}

// s3Options is the object_store.s3 section.
type s3Options struct {
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	PartSize        int64  `mapstructure:"part_size"`
	MaxRetries      int    `mapstructure:"max_retries"`
	LeasePrefix     string `mapstructure:"lease_prefix"`
}

func decodeS3Options(options map[string]any) (s3Options, error) {
	var opts s3Options
	if err := mapstructure.WeakDecode(options, &opts); err != nil {
		return opts, fmt.Errorf("failed to decode S3 object store config: %w", err)
	}
	if opts.Region == "" {
		return opts, fmt.Errorf("S3 object store: region is required")
	}
	return opts, nil
}

func createS3ObjectStore(ctx context.Context, options map[string]any, containers []string) (object.ObjectStore, error) {
	opts, err := decodeS3Options(options)
	if err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 1: Build AWS Config
	// ========================================================================

	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(opts.Region),
	}

	// Static credentials if provided, otherwise the default credential chain
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// ========================================================================
	// Step 2: Create S3 Client
	// ========================================================================

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			// MinIO, Localstack and friends
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
		if opts.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	// ========================================================================
	// Step 3: Create S3 Object Store
	// ========================================================================

	store, err := objects3.NewS3ObjectStore(ctx, objects3.S3ObjectStoreConfig{
		Client:      client,
		Buckets:     containers,
		LeasePrefix: opts.LeasePrefix,
		PartSize:    opts.PartSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 object store: %w", err)
	}

	logger.Info("S3 object store initialized: region=%s, endpoint=%s, buckets=%v",
		opts.Region, opts.Endpoint, containers)

	return store, nil
}

func createAzureBlobObjectStore(options map[string]any) (object.ObjectStore, error) {
	var opts struct {
		ConnectionString string `mapstructure:"connection_string"`
	}
	if err := mapstructure.Decode(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode azblob object store config: %w", err)
	}

	store, err := objectazblob.NewAzureBlobObjectStore(objectazblob.AzureBlobObjectStoreConfig{
		ConnectionString: opts.ConnectionString,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create azblob object store: %w", err)
	}

	logger.Info("Azure Blob object store initialized")
	return store, nil
}

// CreateHeaderCache creates a header cache based on configuration.
//
// Supported types:
//   - "memory": in-process map, lost on restart
//   - "badger": BadgerDB, persistent
func CreateHeaderCache(ctx context.Context, cfg *CacheConfig) (cache.HeaderCache, error) {
	switch cfg.Type {
	case "memory":
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return cachememory.New(), nil
	case "badger":
		var opts struct {
			DBPath   string `mapstructure:"db_path"`
			InMemory bool   `mapstructure:"in_memory"`
		}
		if err := mapstructure.WeakDecode(cfg.Badger, &opts); err != nil {
			return nil, fmt.Errorf("failed to decode badger cache config: %w", err)
		}

		c, err := cachebadger.New(ctx, cachebadger.Config{DBPath: opts.DBPath, InMemory: opts.InMemory})
		if err != nil {
			return nil, fmt.Errorf("failed to create badger header cache: %w", err)
		}
		logger.Info("Badger header cache opened at %s", opts.DBPath)
		return c, nil
	default:
		return nil, fmt.Errorf("unknown cache type: %q (supported: memory, badger)", cfg.Type)
	}
}

// CreateScanner compiles the configured header patterns.
func CreateScanner(cfg *PropagationConfig) (*header.Scanner, error) {
	patterns := make([]header.Pattern, 0, len(cfg.HeaderRegexPattern))
	for _, p := range cfg.HeaderRegexPattern {
		patterns = append(patterns, header.Pattern{Name: p.Name, Pattern: p.Pattern})
	}

	scanner, err := header.NewScanner(patterns)
	if err != nil {
		return nil, fmt.Errorf("failed to create header scanner: %w", err)
	}
	return scanner, nil
}

// CreateRateLimiter returns the copy throttle, or nil when unlimited.
func CreateRateLimiter(cfg *PropagationConfig) *ratelimiter.RateLimiter {
	return ratelimiter.New(cfg.CopiesPerSecond, cfg.CopyBurst)
}

// CreateLeaseCollector creates the abandoned lease collector for container.
//
// Returns nil when collection is disabled. Returns an error when it is
// enabled but the store's leases cannot be swept.
func CreateLeaseCollector(cfg *GCConfig, store object.ObjectStore, container string) (*gc.Collector, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	sweeper, ok := store.(object.LeaseSweeper)
	if !ok {
		return nil, fmt.Errorf("gc is enabled but the object store does not support lease sweeping")
	}

	return gc.NewCollector(sweeper, container, gc.Config{
		Interval:    cfg.Interval,
		MaxLeaseAge: cfg.MaxLeaseAge,
		BatchSize:   cfg.BatchSize,
		DryRun:      cfg.DryRun,
	})
}
