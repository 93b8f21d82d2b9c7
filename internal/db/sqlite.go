package db

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/patternos/patternos-backend/internal/logger"
	"github.com/patternos/patternos-backend/internal/utils"
)

// NewSQLiteService opens an embedded store for dev mode (PATTERNOS_DB=sqlite)
// and DB-backed tests. Defaults govern uuid generation in code, so the
// postgres uuid-ossp defaults are not required here.
type SQLiteService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSQLiteService(logg *logger.Logger) (*SQLiteService, error) {
	serviceLog := logg.With("service", "SQLiteService")
	path := utils.GetEnv("SQLITE_PATH", "patternos.db", logg)

	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite at %s: %w", path, err)
	}
	return &SQLiteService{db: gdb, log: serviceLog}, nil
}

// NewSQLiteMemory opens a throwaway in-memory database, used by tests.
func NewSQLiteMemory() (*gorm.DB, error) {
	return gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
}

func (s *SQLiteService) DB() *gorm.DB { return s.db }

func (s *SQLiteService) AutoMigrateAll() error { return AutoMigrateAll(s.db) }
