package bdd

import (
	"context"
	"fmt"

	"github.com/chirino/agent-datastore/internal/datastore"
	"github.com/chirino/agent-datastore/internal/registry/docdb"
	"github.com/chirino/agent-datastore/internal/testutil/cucumber"
)

// StoreTestDB implements cucumber.TestDB on top of the server's own document
// database, so it works for every backend and keeps any cache in sync.
type StoreTestDB struct {
	DB docdb.DocumentDB
}

var _ cucumber.TestDB = (*StoreTestDB)(nil)

func (s *StoreTestDB) ClearAll(ctx context.Context) error {
	docs, err := s.DB.ListAll(ctx, datastore.Collection)
	if err != nil {
		return fmt.Errorf("cleanup: list records: %w", err)
	}
	for _, doc := range docs {
		id := doc.String(docdb.FieldID)
		if err := s.DB.Delete(ctx, datastore.Collection, id); err != nil && !docdb.IsNotFound(err) {
			return fmt.Errorf("cleanup: delete %s: %w", id, err)
		}
	}
	return nil
}

func (s *StoreTestDB) Count(ctx context.Context) (int, error) {
	docs, err := s.DB.ListAll(ctx, datastore.Collection)
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}
