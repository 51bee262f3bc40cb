package datastore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/chirino/agent-datastore/internal/registry/docdb"
)

// Record is a single value addressed by (UserID, Namespace, Key).
// JSON field names are the persisted document shape and must stay stable.
type Record struct {
	ID                  string                 `json:"_id"`
	Rev                 string                 `json:"_rev,omitempty"`
	UserID              string                 `json:"userId"`
	Namespace           string                 `json:"namespace"`
	Key                 string                 `json:"key"`
	Value               interface{}            `json:"value"`
	Metadata            map[string]interface{} `json:"metadata"`
	CreatedByAgent      *string                `json:"createdByAgent"`
	LastAccessedByAgent *string                `json:"lastAccessedByAgent"`
	AccessCount         int64                  `json:"accessCount"`
	CreatedAt           Timestamp              `json:"createdAt"`
	UpdatedAt           Timestamp              `json:"updatedAt"`
	LastAccessedAt      *Timestamp             `json:"lastAccessedAt"`
}

// Timestamp is an ISO-8601 instant. It is written in RFC 3339 (UTC) and also
// accepts the zone-less form produced by older writers, which is read as UTC.
type Timestamp struct {
	time.Time
}

var legacyTimestampLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// NewTimestamp returns t as a UTC Timestamp.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC()}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = parsed.UTC()
		return nil
	}
	for _, layout := range legacyTimestampLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("timestamp: unrecognized format %q", s)
}

// recordFromDocument decodes a stored document into a Record.
func recordFromDocument(doc docdb.Document) (*Record, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record %v: %w", doc[docdb.FieldID], err)
	}
	if rec.Namespace == "" {
		rec.Namespace = DefaultNamespace
	}
	return &rec, nil
}

// document encodes r as a document laid over base, so fields written by other
// producers survive an update. base may be nil.
func (r *Record) document(base docdb.Document) (docdb.Document, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var fields docdb.Document
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode record fields: %w", err)
	}
	doc := base.Clone()
	if doc == nil {
		doc = make(docdb.Document, len(fields))
	}
	for k, v := range fields {
		doc[k] = v
	}
	return doc, nil
}

// mergeMetadata shallow-merges update over existing. Nested values are replaced, not merged.
func mergeMetadata(existing, update map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(existing)+len(update))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range update {
		merged[k] = v
	}
	return merged
}

// EstimateSize returns the JSON-encoded size of value in bytes.
// Values that cannot be encoded count as zero.
func EstimateSize(value interface{}) int {
	data, err := json.Marshal(value)
	if err != nil {
		return 0
	}
	return len(data)
}

// normalizeNamespace maps only the empty namespace to DefaultNamespace; any
// other value, whitespace included, names its own namespace.
func normalizeNamespace(namespace string) string {
	if namespace == "" {
		return DefaultNamespace
	}
	return namespace
}

// namespaceOf returns the namespace stored on doc; a missing field means DefaultNamespace.
func namespaceOf(doc docdb.Document) string {
	if ns := doc.String("namespace"); ns != "" {
		return ns
	}
	return DefaultNamespace
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
