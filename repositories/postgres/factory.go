package postgres

import (
	"context"

	"github.com/Franck-F/fairness-sub000/config"
	"github.com/Franck-F/fairness-sub000/repositories"
	"go.uber.org/zap"
)

// RepositoryFactory creates and manages all repositories
type RepositoryFactory struct {
	db     *DB
	txm    repositories.TransactionManager
	logger *zap.Logger
}

// NewRepositoryFactory opens the database and creates a new repository factory
func NewRepositoryFactory(cfg *config.Config, logger *zap.Logger) (*RepositoryFactory, error) {
	db, err := NewDB(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	return NewRepositoryFactoryFromDB(db, logger), nil
}

// NewRepositoryFactoryFromDB creates a factory over an already opened pool
func NewRepositoryFactoryFromDB(db *DB, logger *zap.Logger) *RepositoryFactory {
	return &RepositoryFactory{
		db:     db,
		txm:    NewTransactionManager(db, logger),
		logger: logger,
	}
}

// Migrate applies the embedded schema migrations
func (f *RepositoryFactory) Migrate(ctx context.Context) error {
	return f.db.RunMigrations(ctx)
}

// NewRepositories creates all repository instances
func (f *RepositoryFactory) NewRepositories() *repositories.Repositories {
	return &repositories.Repositories{
		Audits:    NewAuditRepository(f.db, f.txm, f.logger),
		Datasets:  NewDatasetRepository(f.db, f.logger),
		RunEvents: NewRunEventRepository(f.db, f.logger),
	}
}

// GetDB returns the database connection
func (f *RepositoryFactory) GetDB() *DB {
	return f.db
}

// Close closes the database connection
func (f *RepositoryFactory) Close() error {
	return f.db.Close()
}
