package s3

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func responseError(status int) error {
	return &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status}},
			Err:      errors.New("api error"),
		},
	}
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusPreconditionFailed, statusCode(responseError(http.StatusPreconditionFailed)))
	assert.Equal(t, 0, statusCode(errors.New("plain")))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(&types.NoSuchKey{}))
	assert.True(t, isNotFound(&types.NotFound{}))
	assert.True(t, isNotFound(responseError(http.StatusNotFound)))
	assert.False(t, isNotFound(responseError(http.StatusForbidden)))
}

func TestNewS3ObjectStore_Validation(t *testing.T) {
	t.Run("RequiresClient", func(t *testing.T) {
		_, err := NewS3ObjectStore(t.Context(), S3ObjectStoreConfig{})
		require.Error(t, err)
	})
}

func TestS3ObjectStore_DiscardBlocks(t *testing.T) {
	store := &S3ObjectStore{staged: make(map[string]map[string][]byte)}
	ctx := t.Context()

	require.NoError(t, store.StageBlock(ctx, "bucket", "docs/a.txt", "b1", strings.NewReader("LICENSE: MIT\n")))
	require.NoError(t, store.StageBlock(ctx, "bucket", "docs/a.txt", "b2", strings.NewReader("body\n")))
	require.NoError(t, store.StageBlock(ctx, "bucket", "docs/b.txt", "b3", strings.NewReader("other\n")))

	require.NoError(t, store.DiscardBlocks(ctx, "bucket", "docs/a.txt", []string{"b1"}))
	assert.Equal(t, 1, store.stagedBlockCount("bucket", "docs/a.txt"))

	require.NoError(t, store.DiscardBlocks(ctx, "bucket", "docs/a.txt", []string{"b2", "unknown"}))
	assert.Zero(t, store.stagedBlockCount("bucket", "docs/a.txt"))
	assert.NotContains(t, store.staged, stagingKey("bucket", "docs/a.txt"))

	assert.Equal(t, 1, store.stagedBlockCount("bucket", "docs/b.txt"))
	require.NoError(t, store.DiscardBlocks(ctx, "bucket", "docs/none.txt", []string{"b3"}))
}
