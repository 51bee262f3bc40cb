// Package memdb provides an in-process DocumentDB built on go-memdb.
// Documents are stored JSON-encoded so callers never share mutable state with the store.
package memdb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chirino/agent-datastore/internal/registry/docdb"
	"github.com/hashicorp/go-memdb"
)

const tableDocuments = "documents"

func init() {
	docdb.Register(docdb.Plugin{
		Name: "memdb",
		Loader: func(ctx context.Context) (docdb.DocumentDB, error) {
			return New()
		},
	})
}

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

type entry struct {
	Collection string
	ID         string
	Rev        string
	Body       []byte
}

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		tableDocuments: {
			Name: tableDocuments,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:   "id",
					Unique: true,
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "Collection"},
							&memdb.StringFieldIndex{Field: "ID"},
						},
					},
				},
				"collection": {
					Name:    "collection",
					Indexer: &memdb.StringFieldIndex{Field: "Collection"},
				},
			},
		},
	},
}

// Store is a DocumentDB held in memory. It is safe for concurrent use.
type Store struct {
	db *memdb.MemDB
}

// New returns an empty store.
func New() (*Store, error) {
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("memdb: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (docdb.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableDocuments, "id", collection, id)
	if err != nil {
		return nil, fmt.Errorf("memdb get: %w", err)
	}
	if raw == nil {
		return nil, &docdb.NotFoundError{Collection: collection, ID: id}
	}
	return decode(raw.(*entry))
}

func (s *Store) Save(ctx context.Context, collection, id string, doc docdb.Document) (*docdb.SaveResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	txn := s.db.Txn(true)
	defer txn.Abort()

	prev := ""
	raw, err := txn.First(tableDocuments, "id", collection, id)
	if err != nil {
		return nil, fmt.Errorf("memdb save: %w", err)
	}
	if raw != nil {
		prev = raw.(*entry).Rev
	}

	rev := docdb.NextRevision(prev)
	stored := doc.Clone()
	if stored == nil {
		stored = docdb.Document{}
	}
	stored[docdb.FieldID] = id
	stored[docdb.FieldRev] = rev
	body, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("memdb save: encode %s: %w", id, err)
	}
	if err := txn.Insert(tableDocuments, &entry{Collection: collection, ID: id, Rev: rev, Body: body}); err != nil {
		return nil, fmt.Errorf("memdb save: %w", err)
	}
	txn.Commit()
	return &docdb.SaveResult{Rev: rev}, nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableDocuments, "id", collection, id)
	if err != nil {
		return fmt.Errorf("memdb delete: %w", err)
	}
	if raw == nil {
		return &docdb.NotFoundError{Collection: collection, ID: id}
	}
	if err := txn.Delete(tableDocuments, raw); err != nil {
		return fmt.Errorf("memdb delete: %w", err)
	}
	txn.Commit()
	return nil
}

func (s *Store) ListAll(ctx context.Context, collection string) ([]docdb.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableDocuments, "collection", collection)
	if err != nil {
		return nil, fmt.Errorf("memdb list: %w", err)
	}
	var docs []docdb.Document
	for obj := it.Next(); obj != nil; obj = it.Next() {
		doc, err := decode(obj.(*entry))
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *Store) Close(context.Context) error {
	return nil
}

func decode(e *entry) (docdb.Document, error) {
	var doc docdb.Document
	if err := json.Unmarshal(e.Body, &doc); err != nil {
		return nil, fmt.Errorf("memdb: decode %s/%s: %w", e.Collection, e.ID, err)
	}
	return doc, nil
}

var _ docdb.DocumentDB = (*Store)(nil)
