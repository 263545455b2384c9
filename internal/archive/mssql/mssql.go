// Package mssql implements archive.Archiver for Microsoft SQL Server via
// database/sql and the "sqlserver" driver.
package mssql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/microsoft/go-mssqldb"

	"trafficlens/internal/archive"
	"trafficlens/internal/engine"
)

type Store struct {
	db *sql.DB
}

func init() {
	archive.Register("mssql", New)
}

func New(ctx context.Context, cfg archive.Config) (archive.Archiver, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
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
		`IF OBJECT_ID('snapshots', 'U') IS NULL
CREATE TABLE snapshots (
  generation_id NVARCHAR(64) NOT NULL PRIMARY KEY,
  generated_at  DATETIMEOFFSET NOT NULL,
  row_count     INT NOT NULL,
  route_count   INT NOT NULL,
  document      NVARCHAR(MAX) NOT NULL
);`,
		`IF OBJECT_ID('snapshot_routes', 'U') IS NULL
CREATE TABLE snapshot_routes (
  generation_id NVARCHAR(64) NOT NULL REFERENCES snapshots(generation_id),
  route         NVARCHAR(400) NOT NULL,
  total         FLOAT NOT NULL,
  samples       INT NOT NULL,
  label         NVARCHAR(16) NOT NULL,
  CONSTRAINT uq_snapshot_routes UNIQUE (generation_id, route)
);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("mssql archive: init: %w", err)
		}
	}
	return nil
}

// Save archives the document in one transaction. Idempotency on the
// generation ID uses a NOT EXISTS guard; SQL Server has no ON CONFLICT.
func (s *Store) Save(ctx context.Context, doc engine.Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("mssql archive: encode document: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (generation_id, generated_at, row_count, route_count, document)
		 SELECT @p1, @p2, @p3, @p4, @p5
		 WHERE NOT EXISTS (SELECT 1 FROM snapshots WHERE generation_id = @p1)`,
		doc.Meta.GenerationID, doc.Meta.GeneratedAt, doc.Meta.Rows, len(doc.Routes), string(body),
	)
	if err != nil {
		return fmt.Errorf("mssql archive: insert snapshot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tx.Commit()
	}

	byRoute := make(map[string]int, len(doc.Routes))
	for i, rb := range doc.Routes {
		byRoute[rb.Key] = i
	}
	for _, p := range doc.Classifications {
		var total float64
		var samples int
		if j, ok := byRoute[p.Route]; ok {
			total = doc.Routes[j].Sum
			samples = doc.Routes[j].Count
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO snapshot_routes (generation_id, route, total, samples, label)
			 SELECT @p1, @p2, @p3, @p4, @p5
			 WHERE NOT EXISTS (
			   SELECT 1 FROM snapshot_routes WHERE generation_id = @p1 AND route = @p2
			 )`,
			doc.Meta.GenerationID, p.Route, total, samples, string(p.Label),
		); err != nil {
			return fmt.Errorf("mssql archive: insert route %s: %w", p.Route, err)
		}
	}

	return tx.Commit()
}

func (s *Store) List(ctx context.Context, limit int) ([]archive.Entry, error) {
	q := `SELECT generation_id, generated_at, row_count, route_count FROM snapshots ORDER BY generated_at DESC`
	var args []any
	if limit > 0 {
		q = `SELECT TOP (@p1) generation_id, generated_at, row_count, route_count FROM snapshots ORDER BY generated_at DESC`
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
		if err := rows.Scan(&e.GenerationID, &e.GeneratedAt, &e.Rows, &e.Routes); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Load(ctx context.Context, generationID string) (engine.Document, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM snapshots WHERE generation_id = @p1`, generationID,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Document{}, &archive.NotFoundError{GenerationID: generationID}
	}
	if err != nil {
		return engine.Document{}, err
	}

	var doc engine.Document
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return engine.Document{}, fmt.Errorf("mssql archive: decode document: %w", err)
	}
	return doc, nil
}
