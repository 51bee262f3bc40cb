package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chirino/agent-datastore/internal/config"
	"github.com/chirino/agent-datastore/internal/datastore"
	"github.com/chirino/agent-datastore/internal/plugin/docdb/memdb"
	"github.com/chirino/agent-datastore/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*server.MCPServer, *datastore.Service) {
	t.Helper()
	db, err := memdb.New()
	require.NoError(t, err)
	svc := datastore.NewService(db)
	return NewServer(svc), svc
}

type toolResult struct {
	IsError bool
	Body    map[string]any
}

func callTool(t *testing.T, s *server.MCPServer, ctx context.Context, name string, args map[string]any) toolResult {
	t.Helper()
	request, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params":  map[string]any{"name": name, "arguments": args},
	})
	require.NoError(t, err)

	raw, err := json.Marshal(s.HandleMessage(ctx, request))
	require.NoError(t, err)

	var response struct {
		Result struct {
			IsError bool `json:"isError"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(raw, &response), string(raw))
	require.NotEmpty(t, response.Result.Content, string(raw))

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(response.Result.Content[0].Text), &body))
	return toolResult{IsError: response.Result.IsError, Body: body}
}

func asUser(user, agent string) context.Context {
	return security.WithIdentity(context.Background(), &security.Identity{UserID: user, AgentName: agent})
}

func TestToolsAreListed(t *testing.T) {
	s, _ := newTestServer(t)
	raw, err := json.Marshal(s.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","method":"tools/list","id":1}`)))
	require.NoError(t, err)

	var response struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(raw, &response))

	var names []string
	for _, tool := range response.Result.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"datastore_get", "datastore_set", "datastore_delete", "datastore_list_keys",
		"datastore_list_namespaces", "datastore_get_many", "datastore_set_many", "datastore_clear",
	}, names)
}

func TestSetGetDelete(t *testing.T) {
	s, svc := newTestServer(t)
	ctx := asUser("alice", "coder")

	res := callTool(t, s, ctx, "datastore_set", map[string]any{
		"namespace": "files:apache/repo",
		"key":       "src/main.py",
		"value":     map[string]any{"summary": "entry point"},
		"metadata":  map[string]any{"lang": "python"},
	})
	require.False(t, res.IsError, res.Body)

	res = callTool(t, s, ctx, "datastore_get", map[string]any{"namespace": "files:apache/repo", "key": "src/main.py"})
	require.False(t, res.IsError)
	assert.Equal(t, true, res.Body["found"])
	assert.Equal(t, map[string]any{"summary": "entry point"}, res.Body["value"])

	rec, err := svc.Get(context.Background(), "alice", "files:apache/repo", "src/main.py", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.AccessCount)
	require.NotNil(t, rec.CreatedByAgent)
	assert.Equal(t, "coder", *rec.CreatedByAgent)

	res = callTool(t, s, ctx, "datastore_get", map[string]any{"key": "src/main.py"})
	assert.Equal(t, false, res.Body["found"], "default namespace is separate")

	res = callTool(t, s, ctx, "datastore_delete", map[string]any{"namespace": "files:apache/repo", "key": "src/main.py"})
	assert.Equal(t, true, res.Body["deleted"])
	res = callTool(t, s, ctx, "datastore_delete", map[string]any{"namespace": "files:apache/repo", "key": "src/main.py"})
	assert.Equal(t, false, res.Body["deleted"])
}

func TestBatchListAndClear(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := asUser("alice", "coder")

	res := callTool(t, s, ctx, "datastore_set_many", map[string]any{
		"namespace": "temp",
		"items":     map[string]any{"a": 1, "b": 2, "c": 3},
	})
	require.False(t, res.IsError, res.Body)
	assert.Equal(t, 3.0, res.Body["count"])

	res = callTool(t, s, ctx, "datastore_get_many", map[string]any{"namespace": "temp", "keys": []string{"a", "c", "zz"}})
	assert.Equal(t, map[string]any{"a": 1.0, "c": 3.0}, res.Body["values"])

	res = callTool(t, s, ctx, "datastore_list_keys", map[string]any{"namespace": "temp"})
	assert.Equal(t, []any{"a", "b", "c"}, res.Body["keys"])

	callTool(t, s, asUser("bob", ""), "datastore_set", map[string]any{"namespace": "bobs", "key": "k", "value": true})
	res = callTool(t, s, ctx, "datastore_list_namespaces", nil)
	assert.Equal(t, []any{"temp"}, res.Body["namespaces"])

	res = callTool(t, s, ctx, "datastore_clear", map[string]any{"namespace": "temp"})
	assert.Equal(t, 3.0, res.Body["count"])
	res = callTool(t, s, ctx, "datastore_list_keys", map[string]any{"namespace": "temp"})
	assert.Equal(t, []any{}, res.Body["keys"])
}

func TestToolErrors(t *testing.T) {
	s, _ := newTestServer(t)

	res := callTool(t, s, context.Background(), "datastore_list_namespaces", nil)
	assert.True(t, res.IsError)
	assert.Equal(t, "unauthenticated", res.Body["code"])

	ctx := asUser("alice", "")
	res = callTool(t, s, ctx, "datastore_set", map[string]any{"key": "k"})
	assert.True(t, res.IsError)
	assert.Equal(t, "tool_error", res.Body["code"])

	res = callTool(t, s, ctx, "datastore_set", map[string]any{"key": "k", "value": 1, "metadata": "x"})
	assert.True(t, res.IsError)

	res = callTool(t, s, ctx, "datastore_get_many", map[string]any{"keys": []any{"a", 1}})
	assert.True(t, res.IsError)
}

func TestMountedEndpointUsesRequestIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db, err := memdb.New()
	require.NoError(t, err)
	svc := datastore.NewService(db)
	cfg := config.DefaultConfig()
	r := gin.New()
	MountRoutes(r, svc, security.AuthMiddleware(security.NewTokenResolver(&cfg)))

	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]any{
			"name":      "datastore_set",
			"arguments": map[string]any{"key": "greeting", "value": "hi"},
		},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set(security.HeaderUserID, "carol")
	req.Header.Set(security.HeaderAgentName, "greeter")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	rec, err := svc.Get(context.Background(), "carol", datastore.DefaultNamespace, "greeting", "")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "hi", rec.Value)

	req = httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader(body))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
