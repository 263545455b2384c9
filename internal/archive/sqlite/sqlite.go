// Package sqlite implements archive.Archiver on modernc.org/sqlite.
//
// Timestamps are stored as RFC3339Nano TEXT. modernc.org/sqlite gives
// TIMESTAMPTZ-ish declarations TEXT affinity anyway, and explicit strings
// round-trip reliably and stay readable in the sqlite3 shell.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"trafficlens/internal/archive"
	"trafficlens/internal/engine"
)

type Store struct {
	db *sql.DB
}

func init() {
	archive.Register("sqlite", New)
}

func New(ctx context.Context, cfg archive.Config) (archive.Archiver, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() { _ = s.db.Close() }

func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS snapshots (
  generation_id TEXT PRIMARY KEY,
  generated_at  TEXT NOT NULL,
  row_count     INTEGER NOT NULL,
  route_count   INTEGER NOT NULL,
  document      TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS snapshot_routes (
  generation_id TEXT NOT NULL REFERENCES snapshots(generation_id),
  route         TEXT NOT NULL,
  total         REAL NOT NULL,
  samples       INTEGER NOT NULL,
  label         TEXT NOT NULL,
  UNIQUE (generation_id, route)
);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("sqlite archive: init: %w", err)
		}
	}
	return nil
}

// Save writes the document plus a per-route breakdown in one transaction.
// OR IGNORE on the primary key makes a replayed Save a no-op.
func (s *Store) Save(ctx context.Context, doc engine.Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("sqlite archive: encode document: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO snapshots (generation_id, generated_at, row_count, route_count, document)
		 VALUES (?, ?, ?, ?, ?)`,
		doc.Meta.GenerationID,
		doc.Meta.GeneratedAt.UTC().Format(time.RFC3339Nano),
		doc.Meta.Rows,
		len(doc.Routes),
		string(body),
	)
	if err != nil {
		return fmt.Errorf("sqlite archive: insert snapshot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Already archived under this generation ID.
		return tx.Commit()
	}

	if len(doc.Classifications) > 0 {
		var b strings.Builder
		b.WriteString(`INSERT OR IGNORE INTO snapshot_routes (generation_id, route, total, samples, label) VALUES `)
		args := make([]any, 0, len(doc.Classifications)*5)
		byRoute := make(map[string]int, len(doc.Routes))
		for i, rb := range doc.Routes {
			byRoute[rb.Key] = i
		}
		for i, p := range doc.Classifications {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("(?, ?, ?, ?, ?)")
			var total float64
			var samples int
			if j, ok := byRoute[p.Route]; ok {
				total = doc.Routes[j].Sum
				samples = doc.Routes[j].Count
			}
			args = append(args, doc.Meta.GenerationID, p.Route, total, samples, string(p.Label))
		}
		if _, err := tx.ExecContext(ctx, b.String(), args...); err != nil {
			return fmt.Errorf("sqlite archive: insert routes: %w", err)
		}
	}

	return tx.Commit()
}

func (s *Store) List(ctx context.Context, limit int) ([]archive.Entry, error) {
	q := `SELECT generation_id, generated_at, row_count, route_count FROM snapshots ORDER BY generated_at DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []archive.Entry
	for rows.Next() {
		var e archive.Entry
		var at string
		if err := rows.Scan(&e.GenerationID, &at, &e.Rows, &e.Routes); err != nil {
			return nil, err
		}
		if e.GeneratedAt, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("sqlite archive: parse generated_at=%q: %w", at, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Load(ctx context.Context, generationID string) (engine.Document, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM snapshots WHERE generation_id = ?`, generationID,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Document{}, &archive.NotFoundError{GenerationID: generationID}
	}
	if err != nil {
		return engine.Document{}, err
	}

	var doc engine.Document
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return engine.Document{}, fmt.Errorf("sqlite archive: decode document: %w", err)
	}
	return doc, nil
}
