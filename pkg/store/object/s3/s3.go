package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/marmos91/headerprop/internal/logger"
	"github.com/marmos91/headerprop/pkg/store/object"
)

// S3ObjectStore implements object.ObjectStore using Amazon S3 or
// S3-compatible storage.
//
// Mapping onto S3:
//   - Container: bucket name
//   - Path: object key
//   - Staged blocks: held in process memory per destination key until commit
//   - Commit: a single PutObject, or a multipart upload once the body reaches
//     the part size
//   - Lease: a sentinel object "<leasePrefix><path>" created with
//     If-None-Match: * so only one writer can create it
//
// S3 has no native leases. The sentinel gives the same acquire/release
// discipline through a conditional create: a second AcquireLease observes
// HTTP 412 and maps it to object.ErrLeaseConflict. Sentinels live under a
// dedicated key prefix that List never reports.
//
// Thread Safety:
// This implementation is safe for concurrent use by multiple goroutines.
// Staged blocks are only visible to the process that staged them, so the
// stage and commit calls for one object must come from the same process.
type S3ObjectStore struct {
	client      *s3.Client
	leasePrefix string
	partSize    int64

	staged   map[string]map[string][]byte
	stagedMu sync.Mutex
}

// S3ObjectStoreConfig contains configuration for the S3 object store.
type S3ObjectStoreConfig struct {
	// Client is the configured S3 client
	Client *s3.Client

	// Buckets are verified with HeadBucket at construction time (optional)
	Buckets []string

	// LeasePrefix is the key prefix for lease sentinel objects
	// Default: ".headerprop-leases/"
	LeasePrefix string

	// PartSize is the multipart part size used for large commits (default: 10MB)
	// Must be between 5MB and 5GB
	PartSize int64
}

const (
	defaultLeasePrefix = ".headerprop-leases/"
	defaultPartSize    = 10 * 1024 * 1024
	minPartSize        = 5 * 1024 * 1024
	maxPartSize        = 5 * 1024 * 1024 * 1024

	leaseExpiresMetadataKey = "lease-expires"
)

// NewS3ObjectStore creates a new S3-based object store.
//
// The buckets listed in the configuration must already exist.
func NewS3ObjectStore(ctx context.Context, cfg S3ObjectStoreConfig) (*S3ObjectStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}

	partSize := cfg.PartSize
	if partSize == 0 {
		partSize = defaultPartSize
	}
	if partSize < minPartSize {
		return nil, fmt.Errorf("part size must be at least 5MB, got %d bytes", partSize)
	}
	if partSize > maxPartSize {
		return nil, fmt.Errorf("part size must be at most 5GB, got %d bytes", partSize)
	}

	leasePrefix := cfg.LeasePrefix
	if leasePrefix == "" {
		leasePrefix = defaultLeasePrefix
	}

	for _, bucket := range cfg.Buckets {
		_, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
			Bucket: aws.String(bucket),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to access bucket %q: %w", bucket, err)
		}
	}

	return &S3ObjectStore{
		client:      cfg.Client,
		leasePrefix: leasePrefix,
		partSize:    partSize,
		staged:      make(map[string]map[string][]byte),
	}, nil
}

func (s *S3ObjectStore) leaseKey(path string) string {
	return s.leasePrefix + path
}

func stagingKey(container, path string) string {
	return container + "\x00" + path
}

// statusCode extracts the HTTP status of an S3 response error, or 0.
func statusCode(err error) int {
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		return re.HTTPStatusCode()
	}
	return 0
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound) || statusCode(err) == http.StatusNotFound
}

// ============================================================================
// Read Operations
// ============================================================================

func (s *S3ObjectStore) OpenRead(ctx context.Context, container, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(path),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("object %s/%s: %w", container, path, object.ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}

	return result.Body, nil
}

func (s *S3ObjectStore) Exists(ctx context.Context, container, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(path),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}

	return true, nil
}

// List pages through ListObjectsV2 lazily and hides lease sentinels.
func (s *S3ObjectStore) List(ctx context.Context, container, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(container),
			Prefix: aws.String(prefix),
		})

		for paginator.HasMorePages() {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}

			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield("", fmt.Errorf("failed to list objects: %w", err))
				return
			}

			for _, obj := range page.Contents {
				if obj.Key == nil || strings.HasPrefix(*obj.Key, s.leasePrefix) {
					continue
				}
				if !yield(*obj.Key, nil) {
					return
				}
			}
		}
	}
}

// ============================================================================
// Block Write Operations
// ============================================================================

func (s *S3ObjectStore) StageBlock(ctx context.Context, container, path, blockID string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read block %s: %w", blockID, err)
	}

	s.stagedMu.Lock()
	defer s.stagedMu.Unlock()

	key := stagingKey(container, path)
	blocks, ok := s.staged[key]
	if !ok {
		blocks = make(map[string][]byte)
		s.staged[key] = blocks
	}
	blocks[blockID] = data
	return nil
}

func (s *S3ObjectStore) CommitBlocks(ctx context.Context, container, path string, blockIDs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if len(blockIDs) == 0 {
		return fmt.Errorf("commit %s/%s: %w", container, path, object.ErrNoBlocks)
	}

	key := stagingKey(container, path)

	s.stagedMu.Lock()
	blocks := s.staged[key]
	var body bytes.Buffer
	for _, id := range blockIDs {
		data, ok := blocks[id]
		if !ok {
			s.stagedMu.Unlock()
			return fmt.Errorf("commit %s/%s block %s: %w", container, path, id, object.ErrBlockNotFound)
		}
		body.Write(data)
	}
	s.stagedMu.Unlock()

	var err error
	if int64(body.Len()) < s.partSize {
		_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(container),
			Key:    aws.String(path),
			Body:   bytes.NewReader(body.Bytes()),
		})
		if err != nil {
			err = fmt.Errorf("failed to write object to S3: %w", err)
		}
	} else {
		err = s.multipartPut(ctx, container, path, body.Bytes())
	}
	if err != nil {
		return err
	}

	s.stagedMu.Lock()
	delete(s.staged, key)
	s.stagedMu.Unlock()

	return nil
}

// DiscardBlocks releases the memory held by staged blocks. It never touches
// the bucket.
func (s *S3ObjectStore) DiscardBlocks(ctx context.Context, container, path string, blockIDs []string) error {
	s.stagedMu.Lock()
	defer s.stagedMu.Unlock()

	key := stagingKey(container, path)
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

// stagedBlockCount returns the number of blocks buffered for container/path.
func (s *S3ObjectStore) stagedBlockCount(container, path string) int {
	s.stagedMu.Lock()
	defer s.stagedMu.Unlock()
	return len(s.staged[stagingKey(container, path)])
}

// multipartPut uploads data in partSize chunks and completes the upload in
// part order. The upload is aborted on any failure.
func (s *S3ObjectStore) multipartPut(ctx context.Context, bucket, key string, data []byte) error {
	created, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to create multipart upload: %w", err)
	}
	uploadID := created.UploadId

	abort := func() {
		_, abortErr := s.client.AbortMultipartUpload(context.WithoutCancel(ctx), &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(bucket),
			Key:      aws.String(key),
			UploadId: uploadID,
		})
		if abortErr != nil {
			logger.Warn("Failed to abort multipart upload for %s/%s: %v", bucket, key, abortErr)
		}
	}

	var parts []types.CompletedPart
	for offset, partNumber := int64(0), int32(1); offset < int64(len(data)); offset, partNumber = offset+s.partSize, partNumber+1 {
		end := min(offset+s.partSize, int64(len(data)))

		result, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(bucket),
			Key:        aws.String(key),
			UploadId:   uploadID,
			PartNumber: aws.Int32(partNumber),
			Body:       bytes.NewReader(data[offset:end]),
		})
		if err != nil {
			abort()
			return fmt.Errorf("failed to upload part %d: %w", partNumber, err)
		}

		parts = append(parts, types.CompletedPart{
			ETag:       result.ETag,
			PartNumber: aws.Int32(partNumber),
		})
	}

	_, err = s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		UploadId: uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: parts,
		},
	})
	if err != nil {
		abort()
		return fmt.Errorf("failed to complete multipart upload: %w", err)
	}

	return nil
}

// ============================================================================
// Lease Operations
// ============================================================================

// AcquireLease creates the lease sentinel for container/path.
//
// A sentinel left behind by an expired finite lease is removed and the
// acquisition retried once. Infinite leases never expire and must be broken.
func (s *S3ObjectStore) AcquireLease(ctx context.Context, container, path string, duration time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	exists, err := s.Exists(ctx, container, path)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("lease %s/%s: %w", container, path, object.ErrObjectNotFound)
	}

	leaseID := uuid.NewString()
	for attempt := 0; attempt < 2; attempt++ {
		err = s.putLeaseSentinel(ctx, container, path, leaseID, duration)
		if err == nil {
			return leaseID, nil
		}
		if !errors.Is(err, object.ErrLeaseConflict) {
			return "", err
		}

		expired, expErr := s.leaseExpired(ctx, container, path)
		if expErr != nil || !expired {
			return "", err
		}
		logger.Debug("Removing expired lease sentinel for %s/%s", container, path)
		if _, delErr := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(container),
			Key:    aws.String(s.leaseKey(path)),
		}); delErr != nil {
			return "", fmt.Errorf("failed to remove expired lease: %w", delErr)
		}
	}

	return "", err
}

func (s *S3ObjectStore) putLeaseSentinel(ctx context.Context, container, path, leaseID string, duration time.Duration) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(container),
		Key:         aws.String(s.leaseKey(path)),
		Body:        strings.NewReader(leaseID),
		IfNoneMatch: aws.String("*"),
	}
	if duration > 0 {
		input.Metadata = map[string]string{
			leaseExpiresMetadataKey: time.Now().Add(duration).UTC().Format(time.RFC3339Nano),
		}
	}

	_, err := s.client.PutObject(ctx, input)
	if err == nil {
		return nil
	}

	switch statusCode(err) {
	case http.StatusPreconditionFailed, http.StatusConflict:
		return fmt.Errorf("lease %s/%s: %w", container, path, object.ErrLeaseConflict)
	default:
		return fmt.Errorf("failed to create lease sentinel: %w", err)
	}
}

func (s *S3ObjectStore) leaseExpired(ctx context.Context, container, path string) (bool, error) {
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(s.leaseKey(path)),
	})
	if err != nil {
		if isNotFound(err) {
			return true, nil
		}
		return false, err
	}

	raw, ok := head.Metadata[leaseExpiresMetadataKey]
	if !ok {
		return false, nil
	}
	expires, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return false, nil
	}
	return time.Now().After(expires), nil
}

func (s *S3ObjectStore) BreakLease(ctx context.Context, container, path, leaseID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(s.leaseKey(path)),
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("lease %s/%s: %w", container, path, object.ErrLeaseNotHeld)
		}
		return fmt.Errorf("failed to read lease sentinel: %w", err)
	}
	held, err := io.ReadAll(result.Body)
	_ = result.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to read lease sentinel: %w", err)
	}
	if string(held) != leaseID {
		return fmt.Errorf("lease %s/%s: %w", container, path, object.ErrLeaseNotHeld)
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(s.leaseKey(path)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete lease sentinel: %w", err)
	}

	return nil
}

// ============================================================================
// Lease Sweeping
// ============================================================================

// deleteBatchSize is the DeleteObjects limit.
const deleteBatchSize = 1000

// StaleLeases lists lease sentinels in container last written before cutoff.
// A sentinel is written once, at acquisition, so its LastModified is the
// acquisition time.
func (s *S3ObjectStore) StaleLeases(ctx context.Context, container string, cutoff time.Time) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(container),
		Prefix: aws.String(s.leasePrefix),
	})

	var paths []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return paths, fmt.Errorf("failed to list lease sentinels: %w", err)
		}

		for _, obj := range page.Contents {
			if obj.Key == nil || obj.LastModified == nil {
				continue
			}
			if obj.LastModified.Before(cutoff) {
				paths = append(paths, strings.TrimPrefix(*obj.Key, s.leasePrefix))
			}
		}
	}

	return paths, nil
}

// ForceReleaseLeases deletes the sentinels for paths with DeleteObjects, in
// batches of up to 1000 keys.
func (s *S3ObjectStore) ForceReleaseLeases(ctx context.Context, container string, paths []string) (map[string]error, error) {
	failures := make(map[string]error)

	for i := 0; i < len(paths); i += deleteBatchSize {
		end := min(i+deleteBatchSize, len(paths))

		objects := make([]types.ObjectIdentifier, 0, end-i)
		for _, path := range paths[i:end] {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(s.leaseKey(path))})
		}

		result, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(container),
			Delete: &types.Delete{
				Objects: objects,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return failures, fmt.Errorf("failed to delete lease sentinels: %w", err)
		}

		for _, e := range result.Errors {
			if e.Key == nil {
				continue
			}
			failures[strings.TrimPrefix(*e.Key, s.leasePrefix)] = fmt.Errorf("%s: %s",
				aws.ToString(e.Code), aws.ToString(e.Message))
		}
	}

	return failures, nil
}
