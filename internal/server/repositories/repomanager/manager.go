package repomanager

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/chatrelay/internal/dbx"
	"github.com/dmitrijs2005/chatrelay/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a DBTX and migrates the
// schema of its dialect.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
}

// Open picks the dialect from dsn: postgres:// and postgresql:// URLs go
// to pgx, anything else is treated as a SQLite path.
func Open(dsn string) (*sql.DB, RepositoryManager, error) {
	driver := "sqlite"
	var m RepositoryManager = &SQLiteRepositoryManager{}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver = "pgx"
		m = &PostgresRepositoryManager{}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("db open error: %w", err)
	}
	if driver == "sqlite" {
		// SQLite serialises writers anyway; one connection also keeps
		// :memory: databases alive across calls.
		db.SetMaxOpenConns(1)
	}
	return db, m, nil
}
