package datastore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocID(t *testing.T) {
	id := DocID("user-123", "my-namespace", "my-key")
	assert.True(t, strings.HasPrefix(id, "user-123:my-namespace:"))
	assert.NotContains(t, id, "my-key")
	assert.Equal(t, id, DocID("user-123", "my-namespace", "my-key"))
}

func TestDocID_SpecialCharactersInKey(t *testing.T) {
	id := DocID("user-123", "ns", "path/to/file.py")
	assert.True(t, strings.HasPrefix(id, "user-123:ns:"))
	assert.NotContains(t, id, "/to/")

	tail := strings.TrimPrefix(id, "user-123:ns:")
	assert.NotContains(t, tail, ":")
	assert.NotContains(t, DocID("u", "ns", "a:b:c"), "a:b")
}

func TestDocID_NoCollisions(t *testing.T) {
	triples := [][3]string{
		{"a", "b", "c"},
		{"a:b", "", "c"},
		{"a", "b:c", ""},
		{"a", "b", "c:"},
		{"a", "b", ":c"},
		{"a%3Ab", "", "c"},
		{"a", "", "b:c"},
		{"", "a", "b"},
		{"a", "b", "ç"},
		{"a", "b", ""},
	}
	seen := map[string][3]string{}
	for _, tr := range triples {
		id := DocID(tr[0], tr[1], tr[2])
		prev, dup := seen[id]
		require.False(t, dup, "%v and %v both map to %q", prev, tr, id)
		seen[id] = tr
	}
}

func TestDocID_NamespaceWithSeparatorIsEscaped(t *testing.T) {
	id := DocID("user-1", "files:apache/repo", "k")
	assert.True(t, strings.HasPrefix(id, "user-1:files%3Aapache/repo:"))
}

func TestLegacyDocID_MatchesDocIDWithoutSeparators(t *testing.T) {
	assert.Equal(t, DocID("user-1", "notes", "k"), legacyDocID("user-1", "notes", "k"))
	assert.NotEqual(t, DocID("user-1", "files:apache/repo", "k"), legacyDocID("user-1", "files:apache/repo", "k"))
	assert.True(t, strings.HasPrefix(legacyDocID("user-1", "files:apache/repo", "k"), "user-1:files:apache/repo:"))
}
