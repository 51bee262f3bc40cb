package datastore

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/agent-datastore/internal/registry/docdb"
	"github.com/chirino/agent-datastore/internal/security"
)

const (
	// Collection is the document collection holding every record of every user.
	Collection = "agent_data_store"

	// DefaultNamespace is used when no namespace is given.
	DefaultNamespace = "default"
)

// Item is a single write applied by SetMany.
type Item struct {
	Namespace string
	Key       string
	Value     interface{}
	Metadata  map[string]interface{}
}

// Service is the record store. It performs no locking of its own: every
// operation is at most a read followed by a write against the DocumentDB, and
// concurrent writers to the same record are last-write-wins.
//
// Errors other than "not found" are returned from the DocumentDB unchanged.
type Service struct {
	db  docdb.DocumentDB
	now func() time.Time
}

// NewService returns a record store bound to db.
func NewService(db docdb.DocumentDB) *Service {
	return &Service{db: db, now: time.Now}
}

// DB returns the underlying document database.
func (s *Service) DB() docdb.DocumentDB {
	return s.db
}

// Get returns the record for (userID, namespace, key), or nil if there is none.
//
// When agentName is set, the record's access bookkeeping (accessCount,
// lastAccessedByAgent, lastAccessedAt) is updated and persisted before
// returning. The returned record reflects the content as it was read.
func (s *Service) Get(ctx context.Context, userID, namespace, key, agentName string) (*Record, error) {
	namespace = normalizeNamespace(namespace)
	id, doc, err := s.lookup(ctx, userID, namespace, key)
	if err != nil {
		if docdb.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	rec, err := recordFromDocument(doc)
	if err != nil {
		return nil, err
	}

	if agentName != "" {
		now := NewTimestamp(s.now())
		touched := *rec
		touched.LastAccessedByAgent = &agentName
		touched.LastAccessedAt = &now
		touched.AccessCount = rec.AccessCount + 1
		updated, err := touched.document(doc)
		if err != nil {
			return nil, err
		}
		if _, err := s.db.Save(ctx, Collection, id, updated); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// Set creates or updates the record for (userID, namespace, key) and returns
// the persisted record including its new revision.
//
// On update, value and updatedAt are replaced, metadata is shallow-merged, and
// access stamps are refreshed when agentName is set. createdAt,
// createdByAgent and accessCount are never changed by Set.
func (s *Service) Set(ctx context.Context, userID, namespace, key string, value interface{}, agentName string, metadata map[string]interface{}) (*Record, error) {
	namespace = normalizeNamespace(namespace)
	id := DocID(userID, namespace, key)
	now := NewTimestamp(s.now())

	storedID, existing, err := s.lookup(ctx, userID, namespace, key)
	if err != nil && !docdb.IsNotFound(err) {
		return nil, err
	}

	var rec *Record
	if existing != nil {
		rec, err = recordFromDocument(existing)
		if err != nil {
			return nil, err
		}
		rec.ID = id
		rec.Value = value
		rec.UpdatedAt = now
		if len(metadata) > 0 {
			rec.Metadata = mergeMetadata(rec.Metadata, metadata)
		}
		if agentName != "" {
			rec.LastAccessedByAgent = &agentName
			rec.LastAccessedAt = &now
		}
	} else {
		if metadata == nil {
			metadata = map[string]interface{}{}
		}
		rec = &Record{
			ID:                  id,
			UserID:              userID,
			Namespace:           namespace,
			Key:                 key,
			Value:               value,
			Metadata:            metadata,
			CreatedByAgent:      optional(agentName),
			LastAccessedByAgent: optional(agentName),
			AccessCount:         0,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if agentName != "" {
			rec.LastAccessedAt = &now
		}
	}

	size := EstimateSize(value)
	security.ObserveValueSize(size)
	log.Debug("Storing agent data", "user", userID, "namespace", namespace, "key", key, "agent", agentName, "bytes", size)

	doc, err := rec.document(existing)
	if err != nil {
		return nil, err
	}
	saved, err := s.db.Save(ctx, Collection, id, doc)
	if err != nil {
		return nil, err
	}
	if storedID != id {
		// The record now lives under its escaped id.
		if err := s.db.Delete(ctx, Collection, storedID); err != nil && !docdb.IsNotFound(err) {
			return nil, err
		}
	}
	rec.Rev = saved.Rev
	return rec, nil
}

// Delete removes the record and reports whether one existed.
func (s *Service) Delete(ctx context.Context, userID, namespace, key string) (bool, error) {
	namespace = normalizeNamespace(namespace)
	id, _, err := s.lookup(ctx, userID, namespace, key)
	if err != nil {
		if docdb.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if err := s.db.Delete(ctx, Collection, id); err != nil {
		if docdb.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// lookup reads the document for the triple and returns the id it is stored
// under. Records written under the unescaped legacy id are found as well, but
// only when their fields name the same triple, since legacy ids are ambiguous
// for user ids and namespaces containing ":".
func (s *Service) lookup(ctx context.Context, userID, namespace, key string) (string, docdb.Document, error) {
	id := DocID(userID, namespace, key)
	doc, err := s.db.Get(ctx, Collection, id)
	if err == nil || !docdb.IsNotFound(err) {
		return id, doc, err
	}
	legacy := legacyDocID(userID, namespace, key)
	if legacy == id {
		return id, nil, err
	}
	legacyDoc, legacyErr := s.db.Get(ctx, Collection, legacy)
	if legacyErr != nil {
		if docdb.IsNotFound(legacyErr) {
			return id, nil, err
		}
		return id, nil, legacyErr
	}
	if legacyDoc.String("userId") != userID || namespaceOf(legacyDoc) != namespace || legacyDoc.String("key") != key {
		return id, nil, err
	}
	return legacy, legacyDoc, nil
}

// ListKeys returns the sorted keys of userID's records in namespace, optionally
// restricted to keys starting with prefix. It scans the whole collection.
func (s *Service) ListKeys(ctx context.Context, userID, namespace, prefix string) ([]string, error) {
	namespace = normalizeNamespace(namespace)
	docs, err := s.db.ListAll(ctx, Collection)
	if err != nil {
		return nil, err
	}
	keys := []string{}
	for _, doc := range docs {
		if doc.String("userId") != userID || namespaceOf(doc) != namespace {
			continue
		}
		key := doc.String("key")
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// ListNamespaces returns the sorted, distinct namespaces holding records for userID.
func (s *Service) ListNamespaces(ctx context.Context, userID string) ([]string, error) {
	docs, err := s.db.ListAll(ctx, Collection)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	namespaces := []string{}
	for _, doc := range docs {
		if doc.String("userId") != userID {
			continue
		}
		ns := namespaceOf(doc)
		if !seen[ns] {
			seen[ns] = true
			namespaces = append(namespaces, ns)
		}
	}
	sort.Strings(namespaces)
	return namespaces, nil
}

// GetMany returns the values of the keys that exist; missing keys are omitted.
// Each key is read with Get, so attributed reads persist bookkeeping per key.
func (s *Service) GetMany(ctx context.Context, userID, namespace string, keys []string, agentName string) (map[string]interface{}, error) {
	results := make(map[string]interface{}, len(keys))
	for _, key := range keys {
		rec, err := s.Get(ctx, userID, namespace, key, agentName)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			results[key] = rec.Value
		}
	}
	return results, nil
}

// SetMany applies each item with Set and returns how many were written.
// Items are not applied atomically: on error, earlier writes remain and the
// count of completed writes is returned alongside the error.
func (s *Service) SetMany(ctx context.Context, userID string, items []Item, agentName string) (int, error) {
	count := 0
	for _, item := range items {
		if _, err := s.Set(ctx, userID, item.Namespace, item.Key, item.Value, agentName, item.Metadata); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// ClearNamespace deletes every record of userID in namespace and returns the
// number of records actually deleted.
func (s *Service) ClearNamespace(ctx context.Context, userID, namespace string) (int, error) {
	keys, err := s.ListKeys(ctx, userID, namespace, "")
	if err != nil {
		return 0, err
	}
	count := 0
	for _, key := range keys {
		deleted, err := s.Delete(ctx, userID, namespace, key)
		if err != nil {
			return count, err
		}
		if deleted {
			count++
		}
	}
	if count > 0 {
		log.Info("Cleared agent data namespace", "user", userID, "namespace", normalizeNamespace(namespace), "deleted", count)
	}
	return count, nil
}
