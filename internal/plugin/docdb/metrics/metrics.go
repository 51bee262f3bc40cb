package metrics

import (
	"context"
	"time"

	"github.com/chirino/agent-datastore/internal/registry/docdb"
	"github.com/chirino/agent-datastore/internal/security"
)

// Wrap returns a DocumentDB that records StoreLatency for every operation.
// Not-found results are not counted as errors.
func Wrap(inner docdb.DocumentDB) docdb.DocumentDB {
	return &metricsDB{inner: inner}
}

type metricsDB struct {
	inner docdb.DocumentDB
}

func observe(op string, start time.Time, err *error) {
	failed := *err != nil && !docdb.IsNotFound(*err)
	security.ObserveStore(op, start, failed)
}

func (m *metricsDB) Get(ctx context.Context, collection, id string) (doc docdb.Document, err error) {
	defer observe("get", time.Now(), &err)
	return m.inner.Get(ctx, collection, id)
}

func (m *metricsDB) Save(ctx context.Context, collection, id string, doc docdb.Document) (res *docdb.SaveResult, err error) {
	defer observe("save", time.Now(), &err)
	return m.inner.Save(ctx, collection, id, doc)
}

func (m *metricsDB) Delete(ctx context.Context, collection, id string) (err error) {
	defer observe("delete", time.Now(), &err)
	return m.inner.Delete(ctx, collection, id)
}

func (m *metricsDB) ListAll(ctx context.Context, collection string) (docs []docdb.Document, err error) {
	defer observe("list_all", time.Now(), &err)
	return m.inner.ListAll(ctx, collection)
}

func (m *metricsDB) Close(ctx context.Context) error {
	return m.inner.Close(ctx)
}

var _ docdb.DocumentDB = (*metricsDB)(nil)
