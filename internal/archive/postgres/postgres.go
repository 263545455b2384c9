// Package postgres implements archive.Archiver on a pgx connection pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"trafficlens/internal/archive"
	"trafficlens/internal/engine"
)

type Store struct {
	pool *pgxpool.Pool
}

func init() {
	archive.Register("postgres", New)
}

func New(ctx context.Context, cfg archive.Config) (archive.Archiver, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS snapshots (
  generation_id TEXT PRIMARY KEY,
  generated_at  TIMESTAMPTZ NOT NULL,
  row_count     INTEGER NOT NULL,
  route_count   INTEGER NOT NULL,
  document      JSONB NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS snapshot_routes (
  generation_id TEXT NOT NULL REFERENCES snapshots(generation_id),
  route         TEXT NOT NULL,
  total         DOUBLE PRECISION NOT NULL,
  samples       INTEGER NOT NULL,
  label         TEXT NOT NULL,
  UNIQUE (generation_id, route)
);`,
	}
	for _, q := range stmts {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("postgres archive: init: %w", err)
		}
	}
	return nil
}

// Save archives the document and its route breakdown in one transaction.
// ON CONFLICT DO NOTHING on the generation ID makes replays idempotent.
func (s *Store) Save(ctx context.Context, doc engine.Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("postgres archive: encode document: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`INSERT INTO snapshots (generation_id, generated_at, row_count, route_count, document)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (generation_id) DO NOTHING`,
		doc.Meta.GenerationID, doc.Meta.GeneratedAt, doc.Meta.Rows, len(doc.Routes), body,
	)
	if err != nil {
		return fmt.Errorf("postgres archive: insert snapshot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tx.Commit(ctx)
	}

	if len(doc.Classifications) > 0 {
		byRoute := make(map[string]int, len(doc.Routes))
		for i, rb := range doc.Routes {
			byRoute[rb.Key] = i
		}
		batch := &pgx.Batch{}
		for _, p := range doc.Classifications {
			var total float64
			var samples int
			if j, ok := byRoute[p.Route]; ok {
				total = doc.Routes[j].Sum
				samples = doc.Routes[j].Count
			}
			batch.Queue(
				`INSERT INTO snapshot_routes (generation_id, route, total, samples, label)
				 VALUES ($1, $2, $3, $4, $5)
				 ON CONFLICT (generation_id, route) DO NOTHING`,
				doc.Meta.GenerationID, p.Route, total, samples, string(p.Label),
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("postgres archive: insert routes: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *Store) List(ctx context.Context, limit int) ([]archive.Entry, error) {
	q := `SELECT generation_id, generated_at, row_count, route_count FROM snapshots ORDER BY generated_at DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
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
	var body []byte
	err := s.pool.QueryRow(ctx,
		`SELECT document FROM snapshots WHERE generation_id = $1`, generationID,
	).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return engine.Document{}, &archive.NotFoundError{GenerationID: generationID}
	}
	if err != nil {
		return engine.Document{}, err
	}

	var doc engine.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return engine.Document{}, fmt.Errorf("postgres archive: decode document: %w", err)
	}
	return doc, nil
}
