package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"windrift.gg/internal/sim/world"
)

// SQLiteStore is the durable entity store. All writes funnel through
// BatchUpsert; the engine serializes calls, so a single connection is
// enough.
type SQLiteStore struct {
	db *sql.DB
}

func Open(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for the steady upsert workload.
	// NORMAL is a decent durability/perf tradeoff for positional state.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
		`CREATE TABLE IF NOT EXISTS entities (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			region TEXT NOT NULL DEFAULT '',
			zone TEXT NOT NULL DEFAULT '',
			pos_x REAL NOT NULL, pos_y REAL NOT NULL, pos_z REAL NOT NULL,
			vel_x REAL NOT NULL, vel_y REAL NOT NULL, vel_z REAL NOT NULL,
			rot_x REAL NOT NULL, rot_y REAL NOT NULL, rot_z REAL NOT NULL, rot_w REAL NOT NULL,
			online INTEGER NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_entities_region ON entities(region);`,
		`CREATE INDEX IF NOT EXISTS idx_entities_online ON entities(online);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// BatchUpsert writes the batch in one transaction. Any failure rolls the
// whole batch back; the caller re-marks and retries on the next interval.
// Duplicate ids within a batch resolve last-write-wins.
func (s *SQLiteStore) BatchUpsert(ctx context.Context, records []world.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO entities
		(id,name,region,zone,pos_x,pos_y,pos_z,vel_x,vel_y,vel_z,rot_x,rot_y,rot_z,rot_w,online,session_id,updated_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		online := 0
		if r.Online {
			online = 1
		}
		_, err := stmt.ExecContext(ctx,
			r.ID, r.Name, r.Region, r.Zone,
			r.Pos.X, r.Pos.Y, r.Pos.Z,
			r.Vel.X, r.Vel.Y, r.Vel.Z,
			r.Rot.X, r.Rot.Y, r.Rot.Z, r.Rot.W,
			online, r.SessionID, r.UpdatedAt)
		if err != nil {
			return fmt.Errorf("upsert %q: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// Get loads one entity record; ok is false when the id is unknown.
func (s *SQLiteStore) Get(ctx context.Context, id string) (rec world.Record, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT
		id,name,region,zone,pos_x,pos_y,pos_z,vel_x,vel_y,vel_z,rot_x,rot_y,rot_z,rot_w,online,session_id,updated_at
		FROM entities WHERE id = ?`, id)
	var online int
	err = row.Scan(&rec.ID, &rec.Name, &rec.Region, &rec.Zone,
		&rec.Pos.X, &rec.Pos.Y, &rec.Pos.Z,
		&rec.Vel.X, &rec.Vel.Y, &rec.Vel.Z,
		&rec.Rot.X, &rec.Rot.Y, &rec.Rot.Z, &rec.Rot.W,
		&online, &rec.SessionID, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return world.Record{}, false, nil
	}
	if err != nil {
		return world.Record{}, false, err
	}
	rec.Online = online != 0
	return rec, true, nil
}

// Count reports the number of stored entities, total and currently online.
func (s *SQLiteStore) Count(ctx context.Context) (total, online int, err error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(online), 0) FROM entities`)
	if err := row.Scan(&total, &online); err != nil {
		return 0, 0, err
	}
	return total, online, nil
}
