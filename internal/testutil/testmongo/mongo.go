package testmongo

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

// Image is the MongoDB image used for integration tests.
const Image = "mongo:7"

// StartMongo starts a disposable MongoDB container and returns a connection
// URI whose path names database. Skipped under -short.
func StartMongo(tb testing.TB, database string) string {
	tb.Helper()
	if testing.Short() {
		tb.Skip("skipping MongoDB container in -short mode")
	}

	ctx := context.Background()
	container, err := mongodb.Run(ctx, Image)
	if err != nil {
		tb.Fatalf("start mongodb container: %v", err)
	}
	tb.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := container.Terminate(ctx); err != nil {
			tb.Errorf("terminate mongodb container: %v", err)
		}
	})

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		tb.Fatalf("build mongodb connection string: %v", err)
	}
	return withDatabase(uri, database)
}

// withDatabase sets the URI path to database, keeping any query string.
func withDatabase(uri, database string) string {
	if database == "" {
		return uri
	}
	base, query, hasQuery := strings.Cut(uri, "?")
	if i := strings.Index(base, "://"); i >= 0 {
		if slash := strings.Index(base[i+3:], "/"); slash >= 0 {
			base = base[:i+3+slash]
		}
	}
	out := base + "/" + database
	if hasQuery {
		out += "?" + query
	}
	return out
}
