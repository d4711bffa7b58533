package offdata

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a reference Store implementation backed by a single
// SQLite file holding two tables, one per logical Table.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if necessary) a SQLite-backed Store at
// path. Use ":memory:" for an ephemeral store.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("offdata: open sqlite store: %w", err)
	}
	// The registry/queue tables are written from a single cooperative
	// drain loop; one connection avoids SQLITE_BUSY without needing WAL
	// tuning.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	for _, table := range []Table{TableRegistry, TableQueue} {
		stmt := fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, value BLOB NOT NULL)`,
			tableIdent(table),
		)
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("offdata: migrate %s: %w", table, err)
		}
	}
	return nil
}

// tableIdent maps a Table to its SQL identifier. Table values are a fixed,
// code-controlled enum (never caller input), so this is not an injection
// surface.
func tableIdent(t Table) string {
	switch t {
	case TableRegistry:
		return "registry"
	case TableQueue:
		return "queue"
	default:
		return string(t)
	}
}

func (s *SQLiteStore) Get(ctx context.Context, table Table, id string) ([]byte, bool, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT value FROM %s WHERE id = ?`, tableIdent(table)), id)
	var v []byte
	if err := row.Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("offdata: sqlite get: %w", err)
	}
	return v, true, nil
}

func (s *SQLiteStore) GetAll(ctx context.Context, table Table) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT id, value FROM %s`, tableIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("offdata: sqlite getall: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var id string
		var v []byte
		if err := rows.Scan(&id, &v); err != nil {
			return nil, fmt.Errorf("offdata: sqlite getall scan: %w", err)
		}
		out[id] = v
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetAllIDs(ctx context.Context, table Table) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT id FROM %s`, tableIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("offdata: sqlite getallids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("offdata: sqlite getallids scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) Put(ctx context.Context, table Table, id string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, value) VALUES (?, ?)
			ON CONFLICT(id) DO UPDATE SET value = excluded.value`, tableIdent(table)),
		id, value)
	if err != nil {
		return fmt.Errorf("offdata: sqlite put: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, table Table, id string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, tableIdent(table)), id)
	if err != nil {
		return fmt.Errorf("offdata: sqlite delete: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
