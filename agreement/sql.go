package agreement

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/errors"
)

// Supported database/sql drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

const schema = `CREATE TABLE IF NOT EXISTS contract_agreements (
	id          TEXT PRIMARY KEY,
	asset_id    TEXT NOT NULL,
	provider_id TEXT NOT NULL,
	consumer_id TEXT NOT NULL,
	signed_at   BIGINT NOT NULL,
	policy      TEXT NOT NULL
)`

const index = `CREATE INDEX IF NOT EXISTS contract_agreements_asset_provider
	ON contract_agreements (asset_id, provider_id)`

// SQLStore persists agreements in SQLite or Postgres.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// OpenSQLStore opens the database and applies the schema. For SQLite the
// dsn is a file path or ":memory:".
func OpenSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	switch driver {
	case DriverSQLite:
		if dsn == "" {
			dsn = "agreements.db"
		}
		if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o750); err != nil {
				return nil, errors.WrapFatal(err, "SQLStore", "Open", "create database directory")
			}
		}
	case DriverPostgres:
		if dsn == "" {
			return nil, errors.WrapFatal(errors.ErrMissingConfig, "SQLStore", "Open", "postgres dsn")
		}
	default:
		return nil, errors.WrapFatal(fmt.Errorf("%w: unknown driver %q", errors.ErrInvalidConfig, driver),
			"SQLStore", "Open", "select driver")
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.WrapFatal(err, "SQLStore", "Open", "open database")
	}
	if driver == DriverSQLite && dsn == ":memory:" {
		// Every connection to ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.WrapTransient(err, "SQLStore", "Open", "ping database")
	}

	s := &SQLStore{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range []string{schema, index} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.WrapFatal(err, "SQLStore", "migrate", "apply schema")
		}
	}
	return nil
}

// placeholder returns the n-th (1-based) bind parameter for the dialect.
func (s *SQLStore) placeholder(n int) string {
	if s.driver == DriverPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrStorageUnavailable, err), "SQLStore", "Ping", "reach database")
	}
	return nil
}

// Query implements Store.
func (s *SQLStore) Query(ctx context.Context, f Filter) ([]Agreement, error) {
	query := "SELECT id, asset_id, provider_id, consumer_id, signed_at, policy FROM contract_agreements"
	var (
		where []string
		args  []any
	)
	if f.AssetID != "" {
		args = append(args, f.AssetID)
		where = append(where, "asset_id = "+s.placeholder(len(args)))
	}
	if f.ProviderID != "" {
		args = append(args, f.ProviderID)
		where = append(where, "provider_id = "+s.placeholder(len(args)))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY signed_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.WrapTransient(err, "SQLStore", "Query", "select agreements")
	}
	defer func() { _ = rows.Close() }()

	out := []Agreement{}
	for rows.Next() {
		var (
			a        Agreement
			signedAt int64
			rawPol   string
		)
		if err := rows.Scan(&a.ID, &a.AssetID, &a.ProviderID, &a.ConsumerID, &signedAt, &rawPol); err != nil {
			return nil, errors.Wrap(err, "SQLStore", "Query", "scan agreement")
		}
		a.SignedAt = time.Unix(0, signedAt).UTC()
		if err := json.Unmarshal([]byte(rawPol), &a.Policy); err != nil {
			return nil, errors.WrapInvalid(err, "SQLStore", "Query", "decode policy of "+a.ID)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapTransient(err, "SQLStore", "Query", "iterate agreements")
	}
	return out, nil
}

// Save implements Store.
func (s *SQLStore) Save(ctx context.Context, a Agreement) error {
	rawPol, err := json.Marshal(a.Policy)
	if err != nil {
		return errors.WrapInvalid(err, "SQLStore", "Save", "encode policy")
	}
	p := s.placeholder
	stmt := fmt.Sprintf(`INSERT INTO contract_agreements (id, asset_id, provider_id, consumer_id, signed_at, policy)
	VALUES (%s, %s, %s, %s, %s, %s)
	ON CONFLICT (id) DO UPDATE SET asset_id = excluded.asset_id, provider_id = excluded.provider_id,
		consumer_id = excluded.consumer_id, signed_at = excluded.signed_at, policy = excluded.policy`,
		p(1), p(2), p(3), p(4), p(5), p(6))

	if _, err := s.db.ExecContext(ctx, stmt,
		a.ID, a.AssetID, a.ProviderID, a.ConsumerID, a.SignedAt.UnixNano(), string(rawPol)); err != nil {
		return errors.WrapTransient(err, "SQLStore", "Save", "upsert agreement")
	}
	return nil
}

// Delete implements Store.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	stmt := "DELETE FROM contract_agreements WHERE id = " + s.placeholder(1)
	if _, err := s.db.ExecContext(ctx, stmt, id); err != nil {
		return errors.WrapTransient(err, "SQLStore", "Delete", "delete agreement")
	}
	return nil
}
