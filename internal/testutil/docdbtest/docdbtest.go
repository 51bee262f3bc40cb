// Package docdbtest holds the behavior every DocumentDB backend must share.
package docdbtest

import (
	"context"
	"fmt"
	"testing"

	"github.com/chirino/agent-datastore/internal/registry/docdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises db. Each subtest uses its own collection so a single backend
// instance can be shared.
func Run(t *testing.T, db docdb.DocumentDB) {
	t.Helper()
	ctx := context.Background()
	n := 0
	collection := func() string {
		n++
		return fmt.Sprintf("docdbtest_%d", n)
	}

	t.Run("GetMissing", func(t *testing.T) {
		_, err := db.Get(ctx, collection(), "nope")
		require.Error(t, err)
		assert.True(t, docdb.IsNotFound(err))
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		err := db.Delete(ctx, collection(), "nope")
		require.Error(t, err)
		assert.True(t, docdb.IsNotFound(err))
	})

	t.Run("SaveThenGet", func(t *testing.T) {
		col := collection()
		doc := docdb.Document{
			"userId":    "user-1",
			"namespace": "default",
			"key":       "k",
			"value": map[string]interface{}{
				"a":      1.0,
				"nested": map[string]interface{}{"list": []interface{}{"x", 2.0, nil, true}},
			},
			"accessCount": 3.0,
			"missing":     nil,
		}
		res, err := db.Save(ctx, col, "id-1", doc)
		require.NoError(t, err)
		require.NotEmpty(t, res.Rev)

		got, err := db.Get(ctx, col, "id-1")
		require.NoError(t, err)
		assert.Equal(t, "id-1", got[docdb.FieldID])
		assert.Equal(t, res.Rev, got[docdb.FieldRev])
		assert.Equal(t, doc["value"], got["value"])
		assert.Equal(t, "user-1", got["userId"])
		assert.EqualValues(t, 3, got["accessCount"])
		assert.Nil(t, got["missing"])
	})

	t.Run("SaveOverwritesAndAdvancesRevision", func(t *testing.T) {
		col := collection()
		first, err := db.Save(ctx, col, "id", docdb.Document{"value": "one", "extra": "kept?"})
		require.NoError(t, err)
		second, err := db.Save(ctx, col, "id", docdb.Document{"value": "two"})
		require.NoError(t, err)
		assert.NotEqual(t, first.Rev, second.Rev)

		got, err := db.Get(ctx, col, "id")
		require.NoError(t, err)
		assert.Equal(t, "two", got["value"])
		_, hasExtra := got["extra"]
		assert.False(t, hasExtra, "save replaces the whole document")
	})

	t.Run("SaveDoesNotRetainCallerDocument", func(t *testing.T) {
		col := collection()
		doc := docdb.Document{"value": "original"}
		_, err := db.Save(ctx, col, "id", doc)
		require.NoError(t, err)
		doc["value"] = "mutated"

		got, err := db.Get(ctx, col, "id")
		require.NoError(t, err)
		assert.Equal(t, "original", got["value"])
	})

	t.Run("DeleteRemoves", func(t *testing.T) {
		col := collection()
		_, err := db.Save(ctx, col, "id", docdb.Document{"value": 1.0})
		require.NoError(t, err)
		require.NoError(t, db.Delete(ctx, col, "id"))

		_, err = db.Get(ctx, col, "id")
		assert.True(t, docdb.IsNotFound(err))
		assert.True(t, docdb.IsNotFound(db.Delete(ctx, col, "id")))
	})

	t.Run("ListAllIsScopedToCollection", func(t *testing.T) {
		col, other := collection(), collection()
		for _, id := range []string{"a", "b", "c"} {
			_, err := db.Save(ctx, col, id, docdb.Document{"key": id})
			require.NoError(t, err)
		}
		_, err := db.Save(ctx, other, "z", docdb.Document{"key": "z"})
		require.NoError(t, err)

		docs, err := db.ListAll(ctx, col)
		require.NoError(t, err)
		var keys []string
		for _, d := range docs {
			keys = append(keys, d.String("key"))
		}
		assert.ElementsMatch(t, []string{"a", "b", "c"}, keys)

		empty, err := db.ListAll(ctx, collection())
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("IDsWithSeparators", func(t *testing.T) {
		col := collection()
		ids := []string{"u:ns:a2V5", "u:ns:a2V5/", "u%3Ax:ns:", "with space"}
		for i, id := range ids {
			_, err := db.Save(ctx, col, id, docdb.Document{"n": float64(i)})
			require.NoError(t, err)
		}
		for i, id := range ids {
			got, err := db.Get(ctx, col, id)
			require.NoError(t, err)
			assert.EqualValues(t, i, got["n"])
		}
	})
}
