package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/agent-datastore/internal/config"
	"github.com/chirino/agent-datastore/internal/datastore"
	registrymigrate "github.com/chirino/agent-datastore/internal/registry/migrate"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

func init() {
	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &mongoMigrator{}})
}

type mongoMigrator struct{}

func (m *mongoMigrator) Name() string { return "mongo-schema" }

func (m *mongoMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.MigrateAtStart || cfg.DocDBType != "mongo" {
		return nil
	}

	log.Info("Running migration", "name", m.Name())
	client, err := connect(ctx, cfg)
	if err != nil {
		return fmt.Errorf("mongo migration: %w", err)
	}
	defer client.Disconnect(ctx)

	db := client.Database(databaseName(cfg))
	collections := map[string][]mongo.IndexModel{
		datastore.Collection: {
			{
				Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "namespace", Value: 1}, {Key: "key", Value: 1}},
				Options: options.Index().SetName("user_namespace_key"),
			},
		},
	}

	for name, indexes := range collections {
		if err := db.CreateCollection(ctx, name); err != nil && !isNamespaceExists(err) {
			return fmt.Errorf("mongo migration: create collection %s: %w", name, err)
		}
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, indexes); err != nil {
			return fmt.Errorf("mongo migration: failed to create indexes for %s: %w", name, err)
		}
	}

	log.Info("MongoDB schema migration complete")
	return nil
}

// isNamespaceExists reports the server's NamespaceExists error (code 48).
func isNamespaceExists(err error) bool {
	var cmdErr mongo.CommandError
	return errors.As(err, &cmdErr) && cmdErr.Code == 48
}
