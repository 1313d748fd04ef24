package azblob

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeaseSeconds(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		want     int32
	}{
		{"Infinite", -1, -1},
		{"Zero", 0, -1},
		{"BelowMinimum", 5 * time.Second, 15},
		{"InRange", 30 * time.Second, 30},
		{"AboveMaximum", 5 * time.Minute, 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, leaseSeconds(tt.duration))
		})
	}
}

func TestNewAzureBlobObjectStore_RequiresConnectionString(t *testing.T) {
	_, err := NewAzureBlobObjectStore(AzureBlobObjectStoreConfig{})
	require.Error(t, err)
}
