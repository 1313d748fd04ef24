package header

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFolderPrefix(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"a/b/c.txt", "a/b"},
		{"a/c.txt", "a"},
		{"c.txt", ""},
		{"/c.txt", ""},
		{"a/b/", "a/b"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, FolderPrefix(tt.path))
		})
	}
}

func TestHeaderPredicates(t *testing.T) {
	var nilHeader *Header
	assert.False(t, nilHeader.HasHeader())
	assert.False(t, nilHeader.Propagatable())

	empty := &Header{}
	assert.False(t, empty.HasHeader())
	assert.False(t, empty.IsPartial())

	partial := &Header{Lines: []string{"LICENSE: MIT\n"}}
	assert.True(t, partial.IsPartial())
	assert.False(t, partial.Propagatable())

	complete := &Header{Lines: []string{"LICENSE: MIT\n"}, Complete: true}
	assert.False(t, complete.IsPartial())
	assert.True(t, complete.Propagatable())
}

func TestHeaderClone(t *testing.T) {
	orig := &Header{Lines: []string{"A\n", "B\n"}, Complete: true}
	clone := orig.Clone()
	clone.Lines[0] = "changed\n"

	assert.Equal(t, "A\n", orig.Lines[0])
	assert.True(t, clone.Complete)
	assert.Nil(t, (*Header)(nil).Clone())
}

func TestHeaderMissing(t *testing.T) {
	full := &Header{Lines: []string{"L1\n", "L2\n", "L3\n"}, Complete: true}

	t.Run("NothingPresent", func(t *testing.T) {
		assert.Equal(t, full.Lines, full.Missing(&Header{}))
		assert.Equal(t, full.Lines, full.Missing(nil))
	})

	t.Run("PartiallyPresentKeepsOrder", func(t *testing.T) {
		existing := &Header{Lines: []string{"L3\n", "L1\n"}}
		assert.Equal(t, []string{"L2\n"}, full.Missing(existing))
	})

	t.Run("IgnoresTerminatorDifferences", func(t *testing.T) {
		existing := &Header{Lines: []string{"L1\r\n", "L2\r\n"}}
		assert.Equal(t, []string{"L3\n"}, full.Missing(existing))
	})

	t.Run("AllPresent", func(t *testing.T) {
		assert.Empty(t, full.Missing(full))
	})
}
