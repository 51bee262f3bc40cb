package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/agent-datastore/internal/datastore"
	"github.com/chirino/agent-datastore/internal/security"
	"github.com/gin-gonic/gin"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	ServerName    = "agent-datastore"
	ServerVersion = "1.0.0"
)

// MountRoutes exposes the data store tools over streamable HTTP at /mcp.
// Tool calls run as the identity resolved by auth.
func MountRoutes(r *gin.Engine, svc *datastore.Service, auth gin.HandlerFunc) {
	s := NewServer(svc)
	h := server.NewStreamableHTTPServer(s, server.WithStateLess(true))
	r.POST("/mcp", auth, gin.WrapH(h))
}

// NewServer returns an MCP server with every data store tool registered.
func NewServer(svc *datastore.Service) *server.MCPServer {
	s := server.NewMCPServer(ServerName, ServerVersion, server.WithToolCapabilities(true))
	RegisterTools(s, svc)
	return s
}

// RegisterTools adds the datastore_* tools to s.
func RegisterTools(s *server.MCPServer, svc *datastore.Service) {
	namespace := mcpgo.WithString("namespace",
		mcpgo.Description("Namespace to operate in (default: \"default\")"),
	)

	s.AddTool(mcpgo.NewTool("datastore_get",
		mcpgo.WithDescription("Read the value stored under a key. Returns found=false when the key does not exist."),
		mcpgo.WithString("key", mcpgo.Required(), mcpgo.Description("Key to read")),
		namespace,
	), withProxy(svc, func(ctx context.Context, p *datastore.Proxy, req mcpgo.CallToolRequest) (any, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return nil, err
		}
		values, err := p.GetMany(ctx, []string{key})
		if err != nil {
			return nil, err
		}
		value, found := values[key]
		return map[string]any{"namespace": p.Namespace(), "key": key, "found": found, "value": value}, nil
	}))

	s.AddTool(mcpgo.NewToolWithRawSchema("datastore_set",
		"Store a JSON value under a key, replacing any previous value. Metadata is merged into existing metadata.",
		json.RawMessage(setSchema),
	), withProxy(svc, func(ctx context.Context, p *datastore.Proxy, req mcpgo.CallToolRequest) (any, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return nil, err
		}
		args := arguments(req)
		value, ok := args["value"]
		if !ok {
			return nil, fmt.Errorf("required argument \"value\" not found")
		}
		metadata, err := objectArg(args, "metadata")
		if err != nil {
			return nil, err
		}
		if err := p.Set(ctx, key, value, metadata); err != nil {
			return nil, err
		}
		return map[string]any{"namespace": p.Namespace(), "key": key, "stored": true}, nil
	}))

	s.AddTool(mcpgo.NewTool("datastore_delete",
		mcpgo.WithDescription("Delete a key. Returns deleted=false when the key did not exist."),
		mcpgo.WithString("key", mcpgo.Required(), mcpgo.Description("Key to delete")),
		namespace,
		mcpgo.WithDestructiveHintAnnotation(true),
	), withProxy(svc, func(ctx context.Context, p *datastore.Proxy, req mcpgo.CallToolRequest) (any, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return nil, err
		}
		deleted, err := p.Delete(ctx, key)
		if err != nil {
			return nil, err
		}
		return map[string]any{"namespace": p.Namespace(), "key": key, "deleted": deleted}, nil
	}))

	s.AddTool(mcpgo.NewTool("datastore_list_keys",
		mcpgo.WithDescription("List keys in a namespace, optionally restricted to a prefix."),
		mcpgo.WithString("prefix", mcpgo.Description("Only return keys starting with this prefix")),
		namespace,
		mcpgo.WithReadOnlyHintAnnotation(true),
	), withProxy(svc, func(ctx context.Context, p *datastore.Proxy, req mcpgo.CallToolRequest) (any, error) {
		prefix, _ := arguments(req)["prefix"].(string)
		keys, err := p.ListKeys(ctx, prefix)
		if err != nil {
			return nil, err
		}
		return map[string]any{"namespace": p.Namespace(), "keys": keys}, nil
	}))

	s.AddTool(mcpgo.NewTool("datastore_list_namespaces",
		mcpgo.WithDescription("List every namespace holding data for the current user."),
		mcpgo.WithReadOnlyHintAnnotation(true),
	), withProxy(svc, func(ctx context.Context, p *datastore.Proxy, req mcpgo.CallToolRequest) (any, error) {
		namespaces, err := p.ListNamespaces(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"namespaces": namespaces}, nil
	}))

	s.AddTool(mcpgo.NewTool("datastore_get_many",
		mcpgo.WithDescription("Read several keys at once. Missing keys are omitted from the result."),
		mcpgo.WithArray("keys",
			mcpgo.Required(),
			mcpgo.Description("Keys to read"),
			mcpgo.Items(map[string]any{"type": "string"}),
		),
		namespace,
	), withProxy(svc, func(ctx context.Context, p *datastore.Proxy, req mcpgo.CallToolRequest) (any, error) {
		keys, err := stringsArg(arguments(req), "keys")
		if err != nil {
			return nil, err
		}
		values, err := p.GetMany(ctx, keys)
		if err != nil {
			return nil, err
		}
		return map[string]any{"namespace": p.Namespace(), "values": values}, nil
	}))

	s.AddTool(mcpgo.NewTool("datastore_set_many",
		mcpgo.WithDescription("Store several key/value pairs at once. Writes are not atomic."),
		mcpgo.WithObject("items", mcpgo.Required(), mcpgo.Description("Map of key to JSON value")),
		mcpgo.WithObject("metadata", mcpgo.Description("Metadata merged into every written record")),
		namespace,
	), withProxy(svc, func(ctx context.Context, p *datastore.Proxy, req mcpgo.CallToolRequest) (any, error) {
		args := arguments(req)
		items, err := objectArg(args, "items")
		if err != nil {
			return nil, err
		}
		if items == nil {
			return nil, fmt.Errorf("required argument \"items\" not found")
		}
		metadata, err := objectArg(args, "metadata")
		if err != nil {
			return nil, err
		}
		count, err := p.SetMany(ctx, items, metadata)
		if err != nil {
			return nil, err
		}
		return map[string]any{"namespace": p.Namespace(), "count": count}, nil
	}))

	s.AddTool(mcpgo.NewTool("datastore_clear",
		mcpgo.WithDescription("Delete every key in a namespace."),
		namespace,
		mcpgo.WithDestructiveHintAnnotation(true),
	), withProxy(svc, func(ctx context.Context, p *datastore.Proxy, req mcpgo.CallToolRequest) (any, error) {
		count, err := p.Clear(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"namespace": p.Namespace(), "count": count}, nil
	}))
}

const setSchema = `{
  "type": "object",
  "properties": {
    "key": {"type": "string", "description": "Key to write"},
    "value": {"description": "Any JSON value"},
    "metadata": {"type": "object", "description": "Metadata merged into the record's existing metadata"},
    "namespace": {"type": "string", "description": "Namespace to operate in (default: \"default\")"}
  },
  "required": ["key", "value"]
}`

type proxyHandler func(ctx context.Context, p *datastore.Proxy, req mcpgo.CallToolRequest) (any, error)

// withProxy binds a tool to the caller's proxy and renders its result or
// error as JSON text.
func withProxy(svc *datastore.Service, fn proxyHandler) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		id := security.IdentityFromContext(ctx)
		if id == nil || id.UserID == "" {
			return errorResult("unauthenticated", "no caller identity"), nil
		}
		p := datastore.NewProxy(svc, id.UserID, id.AgentName)
		if ns, _ := arguments(req)["namespace"].(string); ns != "" {
			p = p.UseNamespace(ns)
		}

		out, err := fn(ctx, p, req)
		if err != nil {
			log.Warn("MCP tool failed", "tool", req.Params.Name, "user", id.UserID, "err", err)
			return errorResult("tool_error", err.Error()), nil
		}
		data, err := json.Marshal(out)
		if err != nil {
			return errorResult("encode_error", err.Error()), nil
		}
		return mcpgo.NewToolResultText(string(data)), nil
	}
}

type errorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorResult(code, message string) *mcpgo.CallToolResult {
	data, _ := json.Marshal(errorResponse{Error: true, Code: code, Message: message})
	result := mcpgo.NewToolResultText(string(data))
	result.IsError = true
	return result
}

func arguments(req mcpgo.CallToolRequest) map[string]any {
	args, _ := req.Params.Arguments.(map[string]any)
	return args
}

func objectArg(args map[string]any, name string) (map[string]interface{}, error) {
	raw, ok := args[name]
	if !ok || raw == nil {
		return nil, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("argument %q must be an object", name)
	}
	return m, nil
}

func stringsArg(args map[string]any, name string) ([]string, error) {
	raw, ok := args[name].([]any)
	if !ok {
		return nil, fmt.Errorf("argument %q must be an array of strings", name)
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("argument %q must be an array of strings", name)
		}
		out = append(out, s)
	}
	return out, nil
}
