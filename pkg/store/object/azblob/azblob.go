package azblob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/lease"
	"github.com/marmos91/headerprop/pkg/store/object"
)

// AzureBlobObjectStore implements object.ObjectStore on Azure Blob Storage.
//
// Block staging, block-list commit and leases map one to one onto the native
// block blob API, so this store adds no state of its own.
type AzureBlobObjectStore struct {
	client *azblob.Client
}

// AzureBlobObjectStoreConfig contains configuration for the Azure store.
type AzureBlobObjectStoreConfig struct {
	// ConnectionString is the storage account connection string
	ConnectionString string

	// Client overrides ConnectionString when set
	Client *azblob.Client
}

const (
	minLeaseSeconds      = 15
	maxLeaseSeconds      = 60
	infiniteLeaseSeconds = -1
)

// NewAzureBlobObjectStore creates a store from a connection string or a
// pre-built client.
func NewAzureBlobObjectStore(cfg AzureBlobObjectStoreConfig) (*AzureBlobObjectStore, error) {
	if cfg.Client != nil {
		return &AzureBlobObjectStore{client: cfg.Client}, nil
	}

	if cfg.ConnectionString == "" {
		return nil, fmt.Errorf("azure storage connection string is required")
	}

	client, err := azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create azure blob client: %w", err)
	}

	return &AzureBlobObjectStore{client: client}, nil
}

func (s *AzureBlobObjectStore) blockBlob(container, path string) *blockblob.Client {
	return s.client.ServiceClient().NewContainerClient(container).NewBlockBlobClient(path)
}

// leaseSeconds converts a lease duration to the service's representation.
// Finite leases are clamped to the 15 to 60 second range the service accepts.
func leaseSeconds(d time.Duration) int32 {
	if d <= 0 {
		return infiniteLeaseSeconds
	}
	secs := int32(d / time.Second)
	return max(minLeaseSeconds, min(secs, maxLeaseSeconds))
}

func hasStatus(err error, statuses ...int) bool {
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return false
	}
	for _, status := range statuses {
		if respErr.StatusCode == status {
			return true
		}
	}
	return false
}

// ============================================================================
// Read Operations
// ============================================================================

func (s *AzureBlobObjectStore) OpenRead(ctx context.Context, container, path string) (io.ReadCloser, error) {
	resp, err := s.client.DownloadStream(ctx, container, path, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, fmt.Errorf("object %s/%s: %w", container, path, object.ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to download blob: %w", err)
	}
	return resp.Body, nil
}

func (s *AzureBlobObjectStore) Exists(ctx context.Context, container, path string) (bool, error) {
	_, err := s.blockBlob(container, path).GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) || hasStatus(err, http.StatusNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get blob properties: %w", err)
	}
	return true, nil
}

// List walks the flat listing pager, one page per service round trip.
func (s *AzureBlobObjectStore) List(ctx context.Context, container, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		pager := s.client.NewListBlobsFlatPager(container, &azblob.ListBlobsFlatOptions{
			Prefix: &prefix,
		})

		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				yield("", fmt.Errorf("failed to list blobs: %w", err))
				return
			}

			if page.Segment == nil {
				continue
			}
			for _, item := range page.Segment.BlobItems {
				if item == nil || item.Name == nil {
					continue
				}
				if !yield(*item.Name, nil) {
					return
				}
			}
		}
	}
}

// ============================================================================
// Block Write Operations
// ============================================================================

func (s *AzureBlobObjectStore) StageBlock(ctx context.Context, container, path, blockID string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read block %s: %w", blockID, err)
	}

	_, err = s.blockBlob(container, path).StageBlock(ctx, blockID, streaming.NopCloser(bytes.NewReader(data)), nil)
	if err != nil {
		return fmt.Errorf("failed to stage block %s: %w", blockID, err)
	}
	return nil
}

func (s *AzureBlobObjectStore) CommitBlocks(ctx context.Context, container, path string, blockIDs []string) error {
	if len(blockIDs) == 0 {
		return fmt.Errorf("commit %s/%s: %w", container, path, object.ErrNoBlocks)
	}

	_, err := s.blockBlob(container, path).CommitBlockList(ctx, blockIDs, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.InvalidBlockList, bloberror.InvalidBlockID) {
			return fmt.Errorf("commit %s/%s: %w", container, path, object.ErrBlockNotFound)
		}
		return fmt.Errorf("failed to commit block list: %w", err)
	}
	return nil
}

// DiscardBlocks is a no-op: Blob Storage has no call to drop uncommitted
// blocks and removes them itself one week after they were staged.
func (s *AzureBlobObjectStore) DiscardBlocks(_ context.Context, _, _ string, _ []string) error {
	return nil
}

// ============================================================================
// Lease Operations
// ============================================================================

func (s *AzureBlobObjectStore) AcquireLease(ctx context.Context, container, path string, duration time.Duration) (string, error) {
	lc, err := lease.NewBlobClient(s.client.ServiceClient().NewContainerClient(container).NewBlobClient(path), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create lease client: %w", err)
	}

	resp, err := lc.AcquireLease(ctx, leaseSeconds(duration), nil)
	if err != nil {
		switch {
		case bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound):
			return "", fmt.Errorf("lease %s/%s: %w", container, path, object.ErrObjectNotFound)
		case bloberror.HasCode(err, bloberror.LeaseAlreadyPresent) || hasStatus(err, http.StatusConflict, http.StatusPreconditionFailed):
			return "", fmt.Errorf("lease %s/%s: %w", container, path, object.ErrLeaseConflict)
		default:
			return "", fmt.Errorf("failed to acquire lease: %w", err)
		}
	}

	if resp.LeaseID == nil {
		return "", fmt.Errorf("acquire lease %s/%s: service returned no lease id", container, path)
	}
	return *resp.LeaseID, nil
}

// BreakLease releases the lease identified by leaseID. Another holder's lease
// is never broken.
func (s *AzureBlobObjectStore) BreakLease(ctx context.Context, container, path, leaseID string) error {
	lc, err := lease.NewBlobClient(s.client.ServiceClient().NewContainerClient(container).NewBlobClient(path), &lease.BlobClientOptions{
		LeaseID: &leaseID,
	})
	if err != nil {
		return fmt.Errorf("failed to create lease client: %w", err)
	}

	if _, err := lc.ReleaseLease(ctx, nil); err != nil {
		if bloberror.HasCode(err,
			bloberror.LeaseIDMismatchWithLeaseOperation,
			bloberror.LeaseNotPresentWithLeaseOperation,
			bloberror.LeaseLost,
		) {
			return fmt.Errorf("lease %s/%s: %w", container, path, object.ErrLeaseNotHeld)
		}
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}
