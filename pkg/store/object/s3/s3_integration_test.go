//go:build integration

package s3

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/headerprop/pkg/store/object"
	storetesting "github.com/marmos91/headerprop/pkg/store/object/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newLocalstackClient connects to a Localstack S3 endpoint.
//
// Prerequisites:
//   - Localstack running on localhost:4566 (or LOCALSTACK_ENDPOINT)
//   - Run with: go test -tags=integration ./pkg/store/object/s3/...
//
// To start Localstack:
//
//	docker run --rm -p 4566:4566 localstack/localstack
func newLocalstackClient(t *testing.T) *s3.Client {
	t.Helper()

	endpoint := os.Getenv("LOCALSTACK_ENDPOINT")
	if endpoint == "" {
		endpoint = "http://localhost:4566"
	}

	cfg, err := awsConfig.LoadDefaultConfig(context.Background(),
		awsConfig.WithRegion("us-east-1"),
		awsConfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
	)
	require.NoError(t, err, "Failed to load AWS config")

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true // Required for Localstack
	})
}

func createBucket(t *testing.T, client *s3.Client, bucket string) {
	t.Helper()
	ctx := context.Background()

	_, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	require.NoError(t, err, "Failed to create test bucket")

	t.Cleanup(func() {
		paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{Bucket: aws.String(bucket)})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				break
			}
			for _, obj := range page.Contents {
				_, _ = client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: obj.Key})
			}
		}
		_, _ = client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)})
	})
}

// TestS3ObjectStore_Integration runs the object store conformance suite
// against a real S3-compatible service.
func TestS3ObjectStore_Integration(t *testing.T) {
	client := newLocalstackClient(t)
	bucket := "headerprop-test-bucket"
	createBucket(t, client, bucket)

	store, err := NewS3ObjectStore(context.Background(), S3ObjectStoreConfig{
		Client:  client,
		Buckets: []string{bucket},
	})
	require.NoError(t, err)

	suite := &storetesting.StoreTestSuite{
		NewStore:  func() object.ObjectStore { return store },
		Container: bucket,
	}
	suite.Run(t)
}

// TestS3ObjectStore_MultipartCommit commits a body larger than one part.
func TestS3ObjectStore_MultipartCommit(t *testing.T) {
	ctx := context.Background()
	client := newLocalstackClient(t)
	bucket := "headerprop-multipart-test"
	createBucket(t, client, bucket)

	store, err := NewS3ObjectStore(ctx, S3ObjectStoreConfig{
		Client:   client,
		Buckets:  []string{bucket},
		PartSize: minPartSize,
	})
	require.NoError(t, err)

	header := "LICENSE: MIT\n"
	body := strings.Repeat("x", minPartSize+1024)

	ids := []string{object.NewBlockID(), object.NewBlockID()}
	require.NoError(t, store.StageBlock(ctx, bucket, "big/file.txt", ids[0], strings.NewReader(header)))
	require.NoError(t, store.StageBlock(ctx, bucket, "big/file.txt", ids[1], strings.NewReader(body)))
	require.NoError(t, store.CommitBlocks(ctx, bucket, "big/file.txt", ids))

	head, err := client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String("big/file.txt")})
	require.NoError(t, err)
	assert.Equal(t, int64(len(header)+len(body)), aws.ToInt64(head.ContentLength))
}

// TestS3ObjectStore_SweepStaleLeases force-releases an abandoned infinite lease.
func TestS3ObjectStore_SweepStaleLeases(t *testing.T) {
	ctx := context.Background()
	client := newLocalstackClient(t)
	bucket := "headerprop-sweep-test"
	createBucket(t, client, bucket)

	store, err := NewS3ObjectStore(ctx, S3ObjectStoreConfig{Client: client, Buckets: []string{bucket}})
	require.NoError(t, err)

	id := object.NewBlockID()
	require.NoError(t, store.StageBlock(ctx, bucket, "a/x.txt", id, strings.NewReader("data")))
	require.NoError(t, store.CommitBlocks(ctx, bucket, "a/x.txt", []string{id}))

	_, err = store.AcquireLease(ctx, bucket, "a/x.txt", object.InfiniteLease)
	require.NoError(t, err)

	stale, err := store.StaleLeases(ctx, bucket, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"a/x.txt"}, stale)

	failures, err := store.ForceReleaseLeases(ctx, bucket, stale)
	require.NoError(t, err)
	assert.Empty(t, failures)

	leaseID, err := store.AcquireLease(ctx, bucket, "a/x.txt", object.InfiniteLease)
	require.NoError(t, err)
	require.NoError(t, store.BreakLease(ctx, bucket, "a/x.txt", leaseID))
}
