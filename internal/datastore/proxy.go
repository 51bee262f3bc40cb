package datastore

import (
	"context"
	"sort"
)

// Proxy is the view of the record store handed to a single agent execution.
// It is bound to one user and agent and to a current namespace. A Proxy is
// immutable; UseNamespace returns a new one.
type Proxy struct {
	service   *Service
	userID    string
	agentName string
	namespace string
}

// NewProxy returns a proxy for userID and agentName scoped to DefaultNamespace.
func NewProxy(service *Service, userID, agentName string) *Proxy {
	return &Proxy{
		service:   service,
		userID:    userID,
		agentName: agentName,
		namespace: DefaultNamespace,
	}
}

// UseNamespace returns a proxy scoped to namespace. The receiver is unchanged.
func (p *Proxy) UseNamespace(namespace string) *Proxy {
	next := *p
	next.namespace = normalizeNamespace(namespace)
	return &next
}

// Namespace returns the current namespace.
func (p *Proxy) Namespace() string {
	return p.namespace
}

// UserID returns the user the proxy is bound to.
func (p *Proxy) UserID() string {
	return p.userID
}

// AgentName returns the agent the proxy attributes operations to.
func (p *Proxy) AgentName() string {
	return p.agentName
}

// Get returns the value stored under key, or def when there is none.
func (p *Proxy) Get(ctx context.Context, key string, def interface{}) (interface{}, error) {
	rec, err := p.service.Get(ctx, p.userID, p.namespace, key, p.agentName)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return def, nil
	}
	return rec.Value, nil
}

func (p *Proxy) Set(ctx context.Context, key string, value interface{}, metadata map[string]interface{}) error {
	_, err := p.service.Set(ctx, p.userID, p.namespace, key, value, p.agentName, metadata)
	return err
}

func (p *Proxy) Delete(ctx context.Context, key string) (bool, error) {
	return p.service.Delete(ctx, p.userID, p.namespace, key)
}

func (p *Proxy) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	return p.service.ListKeys(ctx, p.userID, p.namespace, prefix)
}

// ListNamespaces lists every namespace of the user, not only the current one.
func (p *Proxy) ListNamespaces(ctx context.Context) ([]string, error) {
	return p.service.ListNamespaces(ctx, p.userID)
}

func (p *Proxy) GetMany(ctx context.Context, keys []string) (map[string]interface{}, error) {
	return p.service.GetMany(ctx, p.userID, p.namespace, keys, p.agentName)
}

// SetMany writes every entry of values into the current namespace, in key
// order, attaching the same metadata to each.
func (p *Proxy) SetMany(ctx context.Context, values map[string]interface{}, metadata map[string]interface{}) (int, error) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	items := make([]Item, 0, len(keys))
	for _, k := range keys {
		items = append(items, Item{Namespace: p.namespace, Key: k, Value: values[k], Metadata: metadata})
	}
	return p.service.SetMany(ctx, p.userID, items, p.agentName)
}

// Clear deletes every record in the current namespace.
func (p *Proxy) Clear(ctx context.Context) (int, error) {
	return p.service.ClearNamespace(ctx, p.userID, p.namespace)
}
