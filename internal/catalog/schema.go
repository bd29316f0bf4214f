package catalog

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

//go:embed schema_postgres.sql
var postgresSchema string

// schemaVersion is the current catalog schema version. Bump this when the schema changes.
const schemaVersion = 2

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("catalog schema version mismatch")

func (s *Store) initSchema(ctx context.Context) error {
	var probe string
	switch s.driver {
	case DriverPostgres:
		probe = "SELECT COUNT(1) FROM information_schema.tables WHERE table_name = 'catalog_schema_version'"
	default:
		probe = "SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='catalog_schema_version'"
	}
	var tableExists int
	if err := s.db.GetContext(ctx, &tableExists, probe); err != nil {
		return fmt.Errorf("check catalog_schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.GetContext(ctx, &version, "SELECT version FROM catalog_schema_version LIMIT 1"); err != nil {
		return fmt.Errorf("read catalog schema version: %w", err)
	}
	switch {
	case version < schemaVersion:
		return s.upgradeSchema(ctx, version)
	case version > schemaVersion:
		return fmt.Errorf("%w: database has version %d, expected %d", ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

// upgradeSchema brings an older database forward. Every version so far only
// adds tables and indexes, so replaying the idempotent DDL is the migration.
func (s *Store) upgradeSchema(ctx context.Context, from int) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema upgrade tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.ddl()); err != nil {
		return fmt.Errorf("upgrade catalog schema from version %d: %w", from, err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind("UPDATE catalog_schema_version SET version = ?"), schemaVersion); err != nil {
		return fmt.Errorf("record catalog schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit catalog schema upgrade: %w", err)
	}
	return nil
}

func (s *Store) ddl() string {
	if s.driver == DriverPostgres {
		return postgresSchema
	}
	return sqliteSchema
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.ddl()); err != nil {
		return fmt.Errorf("create catalog schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind("INSERT INTO catalog_schema_version (version) VALUES (?)"), schemaVersion); err != nil {
		return fmt.Errorf("record catalog schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit catalog schema: %w", err)
	}
	return nil
}
