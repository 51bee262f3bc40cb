package mongo

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/agent-datastore/internal/config"
	"github.com/chirino/agent-datastore/internal/registry/docdb"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const defaultDatabase = "agent_datastore"

func init() {
	docdb.Register(docdb.Plugin{
		Name:   "mongo",
		Loader: load,
	})
}

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

func load(ctx context.Context) (docdb.DocumentDB, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.DBURL == "" {
		return nil, fmt.Errorf("mongo: AGENT_DATASTORE_DB_URL is required")
	}
	client, err := connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{client: client, db: client.Database(databaseName(cfg))}, nil
}

func connect(ctx context.Context, cfg *config.Config) (*mongo.Client, error) {
	opts := options.Client().ApplyURI(cfg.DBURL)
	if cfg.DBMaxOpenConns > 0 {
		opts.SetMaxPoolSize(uint64(cfg.DBMaxOpenConns))
	}
	if cfg.DBMaxIdleConns > 0 {
		opts.SetMinPoolSize(uint64(cfg.DBMaxIdleConns))
	}
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, nil
}

// databaseName prefers the configured name, then the path of the connection URL.
func databaseName(cfg *config.Config) string {
	if cfg.MongoDatabase != "" {
		return cfg.MongoDatabase
	}
	if u, err := url.Parse(cfg.DBURL); err == nil {
		if name := strings.Trim(u.Path, "/"); name != "" {
			return name
		}
	}
	return defaultDatabase
}

// Store implements DocumentDB with one MongoDB collection per document collection.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewStore wraps an existing database handle.
func NewStore(client *mongo.Client, db *mongo.Database) *Store {
	return &Store{client: client, db: db}
}

func (s *Store) Get(ctx context.Context, collection, id string) (docdb.Document, error) {
	var raw bson.M
	err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &docdb.NotFoundError{Collection: collection, ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("mongo get %s/%s: %w", collection, id, err)
	}
	return toDocument(raw), nil
}

// Save replaces the whole document. The new revision follows the FieldRev carried by doc.
func (s *Store) Save(ctx context.Context, collection, id string, doc docdb.Document) (*docdb.SaveResult, error) {
	rev := docdb.NextRevision(doc.String(docdb.FieldRev))
	stored := doc.Clone()
	if stored == nil {
		stored = docdb.Document{}
	}
	stored[docdb.FieldID] = id
	stored[docdb.FieldRev] = rev

	_, err := s.db.Collection(collection).ReplaceOne(ctx,
		bson.M{"_id": id},
		map[string]interface{}(stored),
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return nil, fmt.Errorf("mongo save %s/%s: %w", collection, id, err)
	}
	return &docdb.SaveResult{Rev: rev}, nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	res, err := s.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("mongo delete %s/%s: %w", collection, id, err)
	}
	if res.DeletedCount == 0 {
		return &docdb.NotFoundError{Collection: collection, ID: id}
	}
	return nil
}

func (s *Store) ListAll(ctx context.Context, collection string) ([]docdb.Document, error) {
	cursor, err := s.db.Collection(collection).Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("mongo list %s: %w", collection, err)
	}
	var raws []bson.M
	if err := cursor.All(ctx, &raws); err != nil {
		return nil, fmt.Errorf("mongo list %s: %w", collection, err)
	}
	docs := make([]docdb.Document, 0, len(raws))
	for _, raw := range raws {
		docs = append(docs, toDocument(raw))
	}
	return docs, nil
}

func (s *Store) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	if err := s.client.Disconnect(ctx); err != nil {
		log.Warn("Failed to disconnect from MongoDB", "err", err)
		return err
	}
	return nil
}

// toDocument converts a decoded BSON document into the JSON value space
// (maps, slices, strings, float64, bool, nil) that every backend returns.
func toDocument(raw bson.M) docdb.Document {
	doc := make(docdb.Document, len(raw))
	for k, v := range raw {
		doc[k] = normalize(v)
	}
	return doc
}

func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case bson.M:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case bson.D:
		out := make(map[string]interface{}, len(t))
		for _, e := range t {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case bson.A:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case int:
		return float64(t)
	case bson.DateTime:
		return t.Time().UTC().Format(time.RFC3339Nano)
	case bson.ObjectID:
		return t.Hex()
	default:
		return v
	}
}

var _ docdb.DocumentDB = (*Store)(nil)
