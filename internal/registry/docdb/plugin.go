// Package docdb defines the DocumentDB interface consumed by the agent data store
// and the registry its backends plug into.
package docdb

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Document is a flat JSON-compatible mapping persisted under a single id.
// Values are limited to what encoding/json produces when decoding into interface{}.
type Document map[string]interface{}

// Reserved document fields maintained by every backend.
const (
	FieldID  = "_id"
	FieldRev = "_rev"
)

// SaveResult is returned by Save.
type SaveResult struct {
	// Rev is the opaque revision token of the stored document.
	Rev string `json:"rev"`
}

// DocumentDB is a collection-oriented document database.
// Single-document writes are atomic; concurrent saves to the same id are last-write-wins.
type DocumentDB interface {
	// Get returns the document stored under id, or a *NotFoundError.
	Get(ctx context.Context, collection, id string) (Document, error)

	// Save upserts doc under id and returns the new revision.
	// The stored document carries FieldID and FieldRev.
	Save(ctx context.Context, collection, id string, doc Document) (*SaveResult, error)

	// Delete removes the document stored under id, or returns a *NotFoundError.
	Delete(ctx context.Context, collection, id string) error

	// ListAll returns every document in the collection, in no particular order.
	ListAll(ctx context.Context, collection string) ([]Document, error)

	// Close releases backend resources.
	Close(ctx context.Context) error
}

// NextRevision derives the revision that follows prev.
// Tokens have the form "<generation>-<random hex>"; an empty or unparsable prev starts at 1.
func NextRevision(prev string) string {
	gen := 0
	if i := strings.IndexByte(prev, '-'); i > 0 {
		if n, err := strconv.Atoi(prev[:i]); err == nil {
			gen = n
		}
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%d-%s", gen+1, suffix[:16])
}

// Clone returns a shallow copy of d.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// String returns the string value of field, or "" when it is missing or not a string.
func (d Document) String(field string) string {
	s, _ := d[field].(string)
	return s
}

// Loader creates a DocumentDB from context (config injected via context).
type Loader func(ctx context.Context) (DocumentDB, error)

// Plugin represents a document database backend.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a backend plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered backend names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named backend.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown document db %q; valid: %v", name, Names())
}
