package datastore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProxy_DefaultsAndUseNamespaceIsNonMutating(t *testing.T) {
	svc, _, ctx := setupTestService(t)
	p1 := NewProxy(svc, "user-1", "planner")
	assert.Equal(t, DefaultNamespace, p1.Namespace())

	p2 := p1.UseNamespace("x")
	assert.Equal(t, "x", p2.Namespace())
	assert.Equal(t, DefaultNamespace, p1.Namespace())
	assert.Equal(t, "user-1", p2.UserID())
	assert.Equal(t, "planner", p2.AgentName())

	require.NoError(t, p1.Set(ctx, "k", "in-default", nil))
	require.NoError(t, p2.Set(ctx, "k", "in-x", nil))

	v, err := p1.Get(ctx, "k", nil)
	require.NoError(t, err)
	assert.Equal(t, "in-default", v)
	v, err = p2.Get(ctx, "k", nil)
	require.NoError(t, err)
	assert.Equal(t, "in-x", v)

	p3 := p2.UseNamespace("y").UseNamespace("z")
	assert.Equal(t, "z", p3.Namespace())
	assert.Equal(t, "x", p2.Namespace())
}

func TestProxy_GetDefault(t *testing.T) {
	svc, _, ctx := setupTestService(t)
	p := NewProxy(svc, "user-1", "planner")

	v, err := p.Get(ctx, "missing", "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", v)

	v, err = p.Get(ctx, "missing", nil)
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, p.Set(ctx, "null-value", nil, nil))
	v, err = p.Get(ctx, "null-value", "fallback")
	require.NoError(t, err)
	assert.Nil(t, v, "a stored null is a value, not a miss")
}

func TestProxy_AttributesReadsToAgent(t *testing.T) {
	svc, _, ctx := setupTestService(t)
	p := NewProxy(svc, "user-1", "planner")

	require.NoError(t, p.Set(ctx, "k", 1, map[string]interface{}{"tag": "a"}))
	_, err := p.Get(ctx, "k", nil)
	require.NoError(t, err)
	_, err = p.GetMany(ctx, []string{"k"})
	require.NoError(t, err)

	rec, err := svc.Get(ctx, "user-1", DefaultNamespace, "k", "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.AccessCount)
	require.NotNil(t, rec.CreatedByAgent)
	assert.Equal(t, "planner", *rec.CreatedByAgent)
	assert.Equal(t, map[string]interface{}{"tag": "a"}, rec.Metadata)
}

func TestProxy_ListNamespacesIsUserWide(t *testing.T) {
	svc, _, ctx := setupTestService(t)
	p := NewProxy(svc, "user-1", "planner")

	require.NoError(t, p.UseNamespace("b").Set(ctx, "k", 1, nil))
	require.NoError(t, p.UseNamespace("a").Set(ctx, "k", 1, nil))
	require.NoError(t, NewProxy(svc, "user-2", "planner").UseNamespace("c").Set(ctx, "k", 1, nil))

	namespaces, err := p.UseNamespace("a").ListNamespaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, namespaces)
}

func TestProxy_SetManyGetManyListAndClear(t *testing.T) {
	svc, _, ctx := setupTestService(t)
	p := NewProxy(svc, "user-1", "planner").UseNamespace("temp")
	other := p.UseNamespace("keep")

	count, err := p.SetMany(ctx, map[string]interface{}{"task/1": 1, "task/2": 2, "note": "n"}, map[string]interface{}{"batch": true})
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	require.NoError(t, other.Set(ctx, "task/9", 9, nil))

	values, err := p.GetMany(ctx, []string{"task/1", "note", "absent"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"task/1": 1.0, "note": "n"}, values)

	keys, err := p.ListKeys(ctx, "task/")
	require.NoError(t, err)
	assert.Equal(t, []string{"task/1", "task/2"}, keys)

	rec, err := svc.Get(ctx, "user-1", "temp", "note", "")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"batch": true}, rec.Metadata)

	deleted, err := p.Delete(ctx, "note")
	require.NoError(t, err)
	assert.True(t, deleted)

	cleared, err := p.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, cleared)

	keys, err = p.ListKeys(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys)

	keys, err = other.ListKeys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"task/9"}, keys)
}

func TestProxy_SetManyEmpty(t *testing.T) {
	svc, _, ctx := setupTestService(t)
	count, err := NewProxy(svc, "user-1", "").SetMany(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
