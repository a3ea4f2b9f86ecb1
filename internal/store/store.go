// Package store opens the configured account store for the binaries.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"

	"pses-auth/internal/config"
	"pses-auth/internal/db"
	"pses-auth/internal/db/migrate"
	"pses-auth/internal/identity/repository"
)

// Store is an opened account store. SQL is set only for the postgres backend, Mongo only for mongo.
type Store struct {
	Repo  repository.Repository
	SQL   *sql.DB
	Mongo *mongo.Client
}

// Open connects the backend named by cfg.StoreBackend. With MigrateOnStart, pending Postgres
// migrations are applied first.
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	switch cfg.StoreBackend {
	case config.StoreBackendMongo:
		client, err := repository.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		repo := repository.NewMongoRepository(client, cfg.MongoDatabase)
		if err := repo.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, fmt.Errorf("mongo indexes: %w", err)
		}
		return &Store{Repo: repo, Mongo: client}, nil
	case config.StoreBackendPostgres, "":
		if cfg.MigrateOnStart {
			if err := migrate.Run(cfg.DatabaseURL, "up"); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		sqlDB, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return &Store{Repo: repository.NewPostgresRepository(sqlDB), SQL: sqlDB}, nil
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.StoreBackend)
	}
}

// Close releases the underlying connections.
func (s *Store) Close() {
	if s.SQL != nil {
		_ = s.SQL.Close()
	}
	if s.Mongo != nil {
		_ = s.Mongo.Disconnect(context.Background())
	}
}
