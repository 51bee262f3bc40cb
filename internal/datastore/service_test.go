package datastore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/chirino/agent-datastore/internal/plugin/docdb/memdb"
	"github.com/chirino/agent-datastore/internal/registry/docdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func setupTestService(t *testing.T) (*Service, docdb.DocumentDB, context.Context) {
	t.Helper()
	db, err := memdb.New()
	require.NoError(t, err)
	svc := NewService(db)
	clock := &testClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	svc.now = clock.now
	return svc, db, context.Background()
}

func TestSetThenGet_RoundTrip(t *testing.T) {
	svc, _, ctx := setupTestService(t)

	values := []interface{}{
		map[string]interface{}{"a": 1.0},
		[]interface{}{"x", 2.0, nil, map[string]interface{}{"deep": []interface{}{true}}},
		"plain string",
		42.5,
		false,
		nil,
	}
	for i, v := range values {
		key := fmt.Sprintf("k%d", i)
		_, err := svc.Set(ctx, "user-1", "default", key, v, "", nil)
		require.NoError(t, err)

		rec, err := svc.Get(ctx, "user-1", "default", key, "")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, v, rec.Value, "value %d", i)
	}
}

func TestGet_MissingReturnsNilWithoutCreating(t *testing.T) {
	svc, db, ctx := setupTestService(t)

	rec, err := svc.Get(ctx, "user-1", "default", "missing", "planner")
	require.NoError(t, err)
	assert.Nil(t, rec)

	docs, err := db.ListAll(ctx, Collection)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestSet_CreatesRecord(t *testing.T) {
	svc, db, ctx := setupTestService(t)

	rec, err := svc.Set(ctx, "user-1", "notes", "k", "v", "planner", map[string]interface{}{"source": "web"})
	require.NoError(t, err)
	assert.Equal(t, DocID("user-1", "notes", "k"), rec.ID)
	assert.NotEmpty(t, rec.Rev)
	assert.Equal(t, int64(0), rec.AccessCount)
	require.NotNil(t, rec.CreatedByAgent)
	assert.Equal(t, "planner", *rec.CreatedByAgent)
	require.NotNil(t, rec.LastAccessedByAgent)
	assert.Equal(t, "planner", *rec.LastAccessedByAgent)
	require.NotNil(t, rec.LastAccessedAt)
	assert.Equal(t, rec.CreatedAt, rec.UpdatedAt)

	doc, err := db.Get(ctx, Collection, rec.ID)
	require.NoError(t, err)
	for _, field := range []string{"_id", "_rev", "userId", "namespace", "key", "value", "metadata",
		"createdByAgent", "lastAccessedByAgent", "accessCount", "createdAt", "updatedAt", "lastAccessedAt"} {
		assert.Contains(t, doc, field)
	}
	assert.Equal(t, rec.Rev, doc[docdb.FieldRev])
	assert.Equal(t, "2026-01-02T03:04:06Z", doc["createdAt"])
}

func TestSet_WithoutAgentLeavesAccessFieldsAbsent(t *testing.T) {
	svc, db, ctx := setupTestService(t)

	rec, err := svc.Set(ctx, "user-1", "", "k", 1, "", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultNamespace, rec.Namespace)
	assert.Nil(t, rec.CreatedByAgent)
	assert.Nil(t, rec.LastAccessedByAgent)
	assert.Nil(t, rec.LastAccessedAt)
	assert.Equal(t, map[string]interface{}{}, rec.Metadata)

	doc, err := db.Get(ctx, Collection, rec.ID)
	require.NoError(t, err)
	assert.Nil(t, doc["lastAccessedAt"])
	assert.Nil(t, doc["createdByAgent"])
}

func TestSet_LatestValueWinsAndCreatedFieldsStable(t *testing.T) {
	svc, _, ctx := setupTestService(t)

	first, err := svc.Set(ctx, "user-1", "default", "k", "v1", "creator", nil)
	require.NoError(t, err)
	_, err = svc.Get(ctx, "user-1", "default", "k", "reader")
	require.NoError(t, err)
	second, err := svc.Set(ctx, "user-1", "default", "k", "v2", "updater", nil)
	require.NoError(t, err)
	third, err := svc.Set(ctx, "user-1", "default", "k", "v3", "", nil)
	require.NoError(t, err)

	assert.NotEqual(t, first.Rev, second.Rev)
	assert.NotEqual(t, second.Rev, third.Rev)

	rec, err := svc.Get(ctx, "user-1", "default", "k", "")
	require.NoError(t, err)
	assert.Equal(t, "v3", rec.Value)
	assert.True(t, first.CreatedAt.Equal(rec.CreatedAt.Time))
	require.NotNil(t, rec.CreatedByAgent)
	assert.Equal(t, "creator", *rec.CreatedByAgent)
	assert.Equal(t, int64(1), rec.AccessCount, "writes never change accessCount")
	require.NotNil(t, rec.LastAccessedByAgent)
	assert.Equal(t, "updater", *rec.LastAccessedByAgent, "unattributed write keeps the last agent")
	assert.True(t, rec.UpdatedAt.After(first.UpdatedAt.Time))
}

func TestSet_MetadataShallowMerge(t *testing.T) {
	svc, _, ctx := setupTestService(t)

	_, err := svc.Set(ctx, "user-1", "default", "k", 1, "", map[string]interface{}{
		"keep":   "old",
		"change": "old",
		"nested": map[string]interface{}{"a": 1.0, "b": 2.0},
	})
	require.NoError(t, err)
	_, err = svc.Set(ctx, "user-1", "default", "k", 2, "", map[string]interface{}{
		"change": "new",
		"nested": map[string]interface{}{"c": 3.0},
		"added":  true,
	})
	require.NoError(t, err)
	_, err = svc.Set(ctx, "user-1", "default", "k", 3, "", nil)
	require.NoError(t, err)

	rec, err := svc.Get(ctx, "user-1", "default", "k", "")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"keep":   "old",
		"change": "new",
		"nested": map[string]interface{}{"c": 3.0},
		"added":  true,
	}, rec.Metadata)
}

func TestGet_AccessCounting(t *testing.T) {
	svc, _, ctx := setupTestService(t)

	_, err := svc.Set(ctx, "user-1", "default", "k", "v", "writer", nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		rec, err := svc.Get(ctx, "user-1", "default", "k", "reader")
		require.NoError(t, err)
		assert.Equal(t, int64(i), rec.AccessCount, "returned record is the pre-bookkeeping content")
	}
	_, err = svc.Get(ctx, "user-1", "default", "k", "")
	require.NoError(t, err)
	_, err = svc.Set(ctx, "user-1", "default", "k", "v2", "writer", nil)
	require.NoError(t, err)

	rec, err := svc.Get(ctx, "user-1", "default", "k", "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.AccessCount)
}

func TestGet_AttributedReadStampsAccess(t *testing.T) {
	svc, _, ctx := setupTestService(t)

	created, err := svc.Set(ctx, "user-1", "default", "k", "v", "", nil)
	require.NoError(t, err)
	_, err = svc.Get(ctx, "user-1", "default", "k", "reader")
	require.NoError(t, err)

	rec, err := svc.Get(ctx, "user-1", "default", "k", "")
	require.NoError(t, err)
	require.NotNil(t, rec.LastAccessedByAgent)
	assert.Equal(t, "reader", *rec.LastAccessedByAgent)
	require.NotNil(t, rec.LastAccessedAt)
	assert.True(t, rec.LastAccessedAt.After(created.CreatedAt.Time))
	assert.True(t, rec.UpdatedAt.Equal(created.UpdatedAt.Time), "reads do not touch updatedAt")
	assert.Nil(t, rec.CreatedByAgent)
}

func TestDelete_Idempotent(t *testing.T) {
	svc, _, ctx := setupTestService(t)

	_, err := svc.Set(ctx, "user-1", "default", "k", "v", "", nil)
	require.NoError(t, err)

	deleted, err := svc.Delete(ctx, "user-1", "default", "k")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = svc.Delete(ctx, "user-1", "default", "k")
	require.NoError(t, err)
	assert.False(t, deleted)

	rec, err := svc.Get(ctx, "user-1", "default", "k", "")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestListKeys_PrefixIsSortedSubset(t *testing.T) {
	svc, _, ctx := setupTestService(t)

	for _, key := range []string{"task/3", "note", "task/1", "task/2", "tas", "Task/0"} {
		_, err := svc.Set(ctx, "user-1", "work", key, key, "", nil)
		require.NoError(t, err)
	}
	_, err := svc.Set(ctx, "user-1", "other", "task/9", 1, "", nil)
	require.NoError(t, err)

	all, err := svc.ListKeys(ctx, "user-1", "work", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"Task/0", "note", "tas", "task/1", "task/2", "task/3"}, all)

	prefixed, err := svc.ListKeys(ctx, "user-1", "work", "task/")
	require.NoError(t, err)
	assert.Equal(t, []string{"task/1", "task/2", "task/3"}, prefixed)

	var expected []string
	for _, k := range all {
		if strings.HasPrefix(k, "task/") {
			expected = append(expected, k)
		}
	}
	assert.Equal(t, expected, prefixed)

	none, err := svc.ListKeys(ctx, "user-1", "empty", "")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestTenantIsolation(t *testing.T) {
	svc, _, ctx := setupTestService(t)

	_, err := svc.Set(ctx, "user-1", "default", "shared", "mine", "", nil)
	require.NoError(t, err)
	_, err = svc.Set(ctx, "user-2", "default", "shared", "theirs", "", nil)
	require.NoError(t, err)
	_, err = svc.Set(ctx, "user-2", "secret-ns", "only-user-2", 1, "", nil)
	require.NoError(t, err)

	keys, err := svc.ListKeys(ctx, "user-1", "default", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"shared"}, keys)

	rec, err := svc.Get(ctx, "user-1", "default", "shared", "")
	require.NoError(t, err)
	assert.Equal(t, "mine", rec.Value)

	namespaces, err := svc.ListNamespaces(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"default"}, namespaces)

	namespaces, err = svc.ListNamespaces(ctx, "user-2")
	require.NoError(t, err)
	assert.Equal(t, []string{"default", "secret-ns"}, namespaces)

	count, err := svc.ClearNamespace(ctx, "user-1", "default")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	rec, err = svc.Get(ctx, "user-2", "default", "shared", "")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "theirs", rec.Value)
}

func TestListNamespaces_DistinctSortedAndMissingIsDefault(t *testing.T) {
	svc, db, ctx := setupTestService(t)

	for _, ns := range []string{"zeta", "alpha", "zeta", "mid"} {
		_, err := svc.Set(ctx, "user-1", ns, "k-"+ns, 1, "", nil)
		require.NoError(t, err)
	}
	// A document written without a namespace field by an older producer.
	_, err := db.Save(ctx, Collection, "legacy-id", docdb.Document{"userId": "user-1", "key": "old", "value": 1.0})
	require.NoError(t, err)

	namespaces, err := svc.ListNamespaces(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "default", "mid", "zeta"}, namespaces)

	keys, err := svc.ListKeys(ctx, "user-1", "default", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, keys)

	none, err := svc.ListNamespaces(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestSetManyThenGetMany(t *testing.T) {
	svc, _, ctx := setupTestService(t)

	count, err := svc.SetMany(ctx, "user-1", []Item{
		{Namespace: "ns", Key: "a", Value: 1},
		{Namespace: "ns", Key: "b", Value: 2},
	}, "")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	values, err := svc.GetMany(ctx, "user-1", "ns", []string{"a", "b", "c"}, "")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"a": 1.0, "b": 2.0}, values)
	_, hasC := values["c"]
	assert.False(t, hasC)
}

func TestGetMany_AttributedReadsCountPerKey(t *testing.T) {
	svc, _, ctx := setupTestService(t)

	_, err := svc.SetMany(ctx, "user-1", []Item{
		{Namespace: "ns", Key: "a", Value: 1},
		{Namespace: "ns", Key: "b", Value: 2},
	}, "writer")
	require.NoError(t, err)

	_, err = svc.GetMany(ctx, "user-1", "ns", []string{"a", "b", "a"}, "reader")
	require.NoError(t, err)

	a, err := svc.Get(ctx, "user-1", "ns", "a", "")
	require.NoError(t, err)
	b, err := svc.Get(ctx, "user-1", "ns", "b", "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), a.AccessCount)
	assert.Equal(t, int64(1), b.AccessCount)
}

func TestClearNamespace(t *testing.T) {
	svc, _, ctx := setupTestService(t)

	_, err := svc.Set(ctx, "user-1", "temp", "a", 1, "", nil)
	require.NoError(t, err)
	_, err = svc.Set(ctx, "user-1", "temp", "b", 2, "", nil)
	require.NoError(t, err)
	_, err = svc.Set(ctx, "user-1", "keep", "c", 3, "", nil)
	require.NoError(t, err)

	count, err := svc.ClearNamespace(ctx, "user-1", "temp")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	keys, err := svc.ListKeys(ctx, "user-1", "temp", "")
	require.NoError(t, err)
	assert.Empty(t, keys)

	keys, err = svc.ListKeys(ctx, "user-1", "keep", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, keys)

	count, err = svc.ClearNamespace(ctx, "user-1", "temp")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestKeysWithSeparatorsAndUnicode(t *testing.T) {
	svc, _, ctx := setupTestService(t)

	keys := []string{"a:b", "a/b", "a:b/c:", "ключ", "🔑", ""}
	for i, key := range keys {
		_, err := svc.Set(ctx, "user-1", "files:apache/repo", key, i, "", nil)
		require.NoError(t, err)
	}
	for i, key := range keys {
		rec, err := svc.Get(ctx, "user-1", "files:apache/repo", key, "")
		require.NoError(t, err)
		require.NotNil(t, rec, "key %q", key)
		assert.EqualValues(t, i, rec.Value)
		assert.Equal(t, key, rec.Key)
	}
	listed, err := svc.ListKeys(ctx, "user-1", "files:apache/repo", "")
	require.NoError(t, err)
	assert.Len(t, listed, len(keys))
}

func TestUnknownFieldsSurviveUpdates(t *testing.T) {
	svc, db, ctx := setupTestService(t)

	rec, err := svc.Set(ctx, "user-1", "default", "k", 1, "", nil)
	require.NoError(t, err)
	doc, err := db.Get(ctx, Collection, rec.ID)
	require.NoError(t, err)
	doc["ttlHint"] = "P1D"
	_, err = db.Save(ctx, Collection, rec.ID, doc)
	require.NoError(t, err)

	_, err = svc.Set(ctx, "user-1", "default", "k", 2, "agent", nil)
	require.NoError(t, err)
	_, err = svc.Get(ctx, "user-1", "default", "k", "agent")
	require.NoError(t, err)

	doc, err = db.Get(ctx, Collection, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "P1D", doc["ttlHint"])
}

func TestLegacyDocumentsDecode(t *testing.T) {
	svc, db, ctx := setupTestService(t)

	id := DocID("user-1", "default", "legacy")
	_, err := db.Save(ctx, Collection, id, docdb.Document{
		"userId":    "user-1",
		"namespace": "default",
		"key":       "legacy",
		"value":     "old",
		"metadata":  map[string]interface{}{},
		"createdAt": "2024-05-01T10:11:12.123456",
		"updatedAt": "2024-05-01T10:11:12",
	})
	require.NoError(t, err)

	rec, err := svc.Get(ctx, "user-1", "default", "legacy", "reader")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(0), rec.AccessCount, "missing accessCount reads as zero")
	assert.Equal(t, time.Date(2024, 5, 1, 10, 11, 12, 123456000, time.UTC), rec.CreatedAt.Time)

	rec, err = svc.Get(ctx, "user-1", "default", "legacy", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.AccessCount)
}

type failingDB struct {
	docdb.DocumentDB
	err error
}

func (f failingDB) Get(context.Context, string, string) (docdb.Document, error) {
	return nil, f.err
}

func (f failingDB) Delete(context.Context, string, string) error {
	return f.err
}

func (f failingDB) ListAll(context.Context, string) ([]docdb.Document, error) {
	return nil, f.err
}

func TestDatabaseErrorsPropagateUnchanged(t *testing.T) {
	boom := errors.New("connection reset")
	svc := NewService(failingDB{err: boom})
	ctx := context.Background()

	_, err := svc.Get(ctx, "u", "ns", "k", "")
	assert.Same(t, boom, err)
	_, err = svc.Set(ctx, "u", "ns", "k", 1, "", nil)
	assert.Same(t, boom, err)
	_, err = svc.Delete(ctx, "u", "ns", "k")
	assert.Same(t, boom, err)
	_, err = svc.ListKeys(ctx, "u", "ns", "")
	assert.Same(t, boom, err)
	_, err = svc.ListNamespaces(ctx, "u")
	assert.Same(t, boom, err)
	_, err = svc.GetMany(ctx, "u", "ns", []string{"k"}, "")
	assert.Same(t, boom, err)
	_, err = svc.ClearNamespace(ctx, "u", "ns")
	assert.Same(t, boom, err)
}

func TestSetMany_StopsAtFirstError(t *testing.T) {
	svc, _, ctx := setupTestService(t)
	canceled, cancel := context.WithCancel(ctx)
	cancel()

	count, err := svc.SetMany(canceled, "user-1", []Item{{Key: "a", Value: 1}}, "")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, count)
}

func TestEstimateSize(t *testing.T) {
	assert.Equal(t, 7, EstimateSize(map[string]interface{}{"a": 1}))
	assert.Equal(t, 4, EstimateSize(nil))
	assert.Equal(t, 0, EstimateSize(make(chan int)))
	assert.Equal(t, 0, EstimateSize(func() {}))
}

func TestWhitespaceNamespaceIsNotDefault(t *testing.T) {
	svc, _, ctx := setupTestService(t)

	_, err := svc.Set(ctx, "user-1", " ", "k", "blank", "", nil)
	require.NoError(t, err)
	_, err = svc.Set(ctx, "user-1", "", "k", "default", "", nil)
	require.NoError(t, err)

	namespaces, err := svc.ListNamespaces(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{" ", "default"}, namespaces)

	rec, err := svc.Get(ctx, "user-1", " ", "k", "")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "blank", rec.Value)
}

func saveUnescaped(t *testing.T, db docdb.DocumentDB, userID, namespace, key string, value interface{}) string {
	t.Helper()
	id := legacyDocID(userID, namespace, key)
	_, err := db.Save(context.Background(), Collection, id, docdb.Document{
		"userId":    userID,
		"namespace": namespace,
		"key":       key,
		"value":     value,
		"metadata":  map[string]interface{}{"origin": "legacy"},
		"createdAt": "2024-05-01T10:11:12",
		"updatedAt": "2024-05-01T10:11:12",
	})
	require.NoError(t, err)
	return id
}

func TestUnescapedIDsRemainReachable(t *testing.T) {
	svc, db, ctx := setupTestService(t)
	legacy := saveUnescaped(t, db, "user-1", "files:apache/repo", "src/main.py", "summary")

	keys, err := svc.ListKeys(ctx, "user-1", "files:apache/repo", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"src/main.py"}, keys)

	rec, err := svc.Get(ctx, "user-1", "files:apache/repo", "src/main.py", "reader")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "summary", rec.Value)

	doc, err := db.Get(ctx, Collection, legacy)
	require.NoError(t, err)
	assert.EqualValues(t, 1, doc["accessCount"], "bookkeeping stays on the stored id")

	count, err := svc.ClearNamespace(ctx, "user-1", "files:apache/repo")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	_, err = db.Get(ctx, Collection, legacy)
	assert.True(t, docdb.IsNotFound(err))
}

func TestSetMovesUnescapedRecord(t *testing.T) {
	svc, db, ctx := setupTestService(t)
	legacy := saveUnescaped(t, db, "user-1", "a:b", "k", "old")

	rec, err := svc.Set(ctx, "user-1", "a:b", "k", "new", "writer", map[string]interface{}{"n": 1.0})
	require.NoError(t, err)
	assert.Equal(t, DocID("user-1", "a:b", "k"), rec.ID)
	assert.Equal(t, map[string]interface{}{"origin": "legacy", "n": 1.0}, rec.Metadata)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 11, 12, 0, time.UTC), rec.CreatedAt.Time)

	_, err = db.Get(ctx, Collection, legacy)
	assert.True(t, docdb.IsNotFound(err))

	docs, err := db.ListAll(ctx, Collection)
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	deleted, err := svc.Delete(ctx, "user-1", "a:b", "k")
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestUnescapedIDOfAnotherTripleIsIgnored(t *testing.T) {
	svc, db, ctx := setupTestService(t)
	// "user:a" + "b" and "user" + "a:b" share one unescaped id.
	saveUnescaped(t, db, "user:a", "b", "k", "not yours")

	rec, err := svc.Get(ctx, "user", "a:b", "k", "")
	require.NoError(t, err)
	assert.Nil(t, rec)

	deleted, err := svc.Delete(ctx, "user", "a:b", "k")
	require.NoError(t, err)
	assert.False(t, deleted)
}
