// Package sqlstore implements DocumentDB on a single SQL table through gorm.
// It registers the "postgres" and "sqlite" backends.
package sqlstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/agent-datastore/internal/config"
	"github.com/chirino/agent-datastore/internal/registry/docdb"
	registrymigrate "github.com/chirino/agent-datastore/internal/registry/migrate"
	"github.com/chirino/agent-datastore/internal/security"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type dialect struct {
	name   string
	open   func(dsn string) gorm.Dialector
	schema string
}

var dialects = map[string]dialect{
	"postgres": {name: "postgres", open: postgres.Open, schema: schemaPostgres},
	"sqlite":   {name: "sqlite", open: sqlite.Open, schema: schemaSQLite},
}

func init() {
	for _, d := range dialects {
		d := d
		docdb.Register(docdb.Plugin{
			Name: d.name,
			Loader: func(ctx context.Context) (docdb.DocumentDB, error) {
				return load(ctx, d)
			},
		})
	}
	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &sqlMigrator{}})
}

func openDB(cfg *config.Config, d dialect) (*gorm.DB, error) {
	if cfg == nil || cfg.DBURL == "" {
		return nil, fmt.Errorf("%s: AGENT_DATASTORE_DB_URL is required", d.name)
	}
	db, err := gorm.Open(d.open(cfg.DBURL), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", d.name, err)
	}
	return db, nil
}

func load(ctx context.Context, d dialect) (docdb.DocumentDB, error) {
	cfg := config.FromContext(ctx)
	db, err := openDB(cfg, d)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying db: %w", err)
	}
	if d.name == "sqlite" {
		// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}

	store := &Store{db: db, done: make(chan struct{})}
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-store.done:
				return
			case <-ticker.C:
				if security.DBPoolOpenConnections != nil {
					security.DBPoolOpenConnections.Set(float64(sqlDB.Stats().OpenConnections))
				}
			}
		}
	}()
	return store, nil
}

type sqlMigrator struct{}

func (m *sqlMigrator) Name() string { return "sql-schema" }

func (m *sqlMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.MigrateAtStart {
		return nil
	}
	d, ok := dialects[cfg.DocDBType]
	if !ok {
		return nil
	}
	log.Info("Running migration", "name", m.Name(), "dialect", d.name)
	db, err := openDB(cfg, d)
	if err != nil {
		return fmt.Errorf("migration: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if _, err := sqlDB.ExecContext(ctx, d.schema); err != nil {
		return fmt.Errorf("migration: failed to execute schema: %w", err)
	}
	log.Info("SQL schema migration complete", "dialect", d.name)
	return nil
}

type documentRow struct {
	Collection string    `gorm:"column:collection;primaryKey"`
	ID         string    `gorm:"column:id;primaryKey"`
	Rev        string    `gorm:"column:rev"`
	UserID     string    `gorm:"column:user_id"`
	Namespace  string    `gorm:"column:namespace"`
	Body       string    `gorm:"column:body"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (documentRow) TableName() string { return "documents" }

// Store implements DocumentDB on the documents table. userId and namespace are
// copied into their own columns so they can be indexed.
type Store struct {
	db   *gorm.DB
	done chan struct{}
}

// NewStore wraps an open gorm handle whose schema is already migrated.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, done: make(chan struct{})}
}

func (s *Store) Get(ctx context.Context, collection, id string) (docdb.Document, error) {
	var row documentRow
	err := s.db.WithContext(ctx).
		Where("collection = ? AND id = ?", collection, id).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &docdb.NotFoundError{Collection: collection, ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("sql get %s/%s: %w", collection, id, err)
	}
	return decodeRow(&row)
}

func (s *Store) Save(ctx context.Context, collection, id string, doc docdb.Document) (*docdb.SaveResult, error) {
	var rev string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prev documentRow
		err := tx.Select("rev").
			Where("collection = ? AND id = ?", collection, id).
			Take(&prev).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		rev = docdb.NextRevision(prev.Rev)

		stored := doc.Clone()
		if stored == nil {
			stored = docdb.Document{}
		}
		stored[docdb.FieldID] = id
		stored[docdb.FieldRev] = rev
		body, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("encode %s: %w", id, err)
		}

		row := documentRow{
			Collection: collection,
			ID:         id,
			Rev:        rev,
			UserID:     stored.String("userId"),
			Namespace:  stored.String("namespace"),
			Body:       string(body),
			UpdatedAt:  time.Now().UTC(),
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "collection"}, {Name: "id"}},
			UpdateAll: true,
		}).Create(&row).Error
	})
	if err != nil {
		return nil, fmt.Errorf("sql save %s/%s: %w", collection, id, err)
	}
	return &docdb.SaveResult{Rev: rev}, nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	res := s.db.WithContext(ctx).
		Where("collection = ? AND id = ?", collection, id).
		Delete(&documentRow{})
	if res.Error != nil {
		return fmt.Errorf("sql delete %s/%s: %w", collection, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return &docdb.NotFoundError{Collection: collection, ID: id}
	}
	return nil
}

func (s *Store) ListAll(ctx context.Context, collection string) ([]docdb.Document, error) {
	var rows []documentRow
	if err := s.db.WithContext(ctx).Where("collection = ?", collection).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("sql list %s: %w", collection, err)
	}
	docs := make([]docdb.Document, 0, len(rows))
	for i := range rows {
		doc, err := decodeRow(&rows[i])
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *Store) Close(context.Context) error {
	select {
	case <-s.done:
		return nil
	default:
		close(s.done)
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func decodeRow(row *documentRow) (docdb.Document, error) {
	var doc docdb.Document
	if err := json.Unmarshal([]byte(row.Body), &doc); err != nil {
		return nil, fmt.Errorf("sql decode %s/%s: %w", row.Collection, row.ID, err)
	}
	return doc, nil
}

var _ docdb.DocumentDB = (*Store)(nil)
