package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"trafficlens/internal/aggregate"
	"trafficlens/internal/archive"
	"trafficlens/internal/classify"
	"trafficlens/internal/engine"
)

// openTestStore creates a store backed by a throwaway database file. A file
// DSN is used instead of :memory: because the database/sql pool may open
// multiple connections, each of which would see its own empty in-memory
// database.
func openTestStore(t *testing.T) archive.Archiver {
	t.Helper()
	ctx := context.Background()

	store, err := New(ctx, archive.Config{DSN: filepath.Join(t.TempDir(), "archive.db")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(store.Close)

	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return store
}

func testDocument(id string, at time.Time) engine.Document {
	return engine.Document{
		Meta: engine.Meta{
			GenerationID: id,
			GeneratedAt:  at,
			IngestedAt:   at,
			Rows:         3,
		},
		Routes: []aggregate.Bucket{
			{Key: "A", Sum: 510, Count: 2},
			{Key: "B", Sum: 400, Count: 1},
		},
		TimeSeries: []aggregate.Bucket{
			{Key: "2024-05-01T08:00", Sum: 510, Count: 2},
		},
		Classifications: []classify.Prediction{
			{Route: "A", Avg: 255, Known: true, Label: classify.LabelLight},
			{Route: "B", Avg: 400, Known: true, Label: classify.LabelHeavy},
		},
		Distribution: map[classify.Label]int{
			classify.LabelLight: 1,
			classify.LabelHeavy: 1,
		},
		Recommended: []string{"A", "B"},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	doc := testDocument("gen-1", at)
	if err := store.Save(ctx, doc); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load(ctx, "gen-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Meta.GenerationID != "gen-1" || got.Meta.Rows != 3 {
		t.Errorf("meta = %+v", got.Meta)
	}
	if len(got.Routes) != 2 || got.Routes[0].Key != "A" || got.Routes[0].Sum != 510 {
		t.Errorf("routes = %+v", got.Routes)
	}
	if len(got.Classifications) != 2 || got.Classifications[1].Label != classify.LabelHeavy {
		t.Errorf("classifications = %+v", got.Classifications)
	}
}

func TestSave_IdempotentOnGenerationID(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	doc := testDocument("gen-dup", at)
	if err := store.Save(ctx, doc); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	if err := store.Save(ctx, doc); err != nil {
		t.Fatalf("replayed Save: %v", err)
	}

	entries, err := store.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1 (replay is a no-op)", len(entries))
	}
}

func TestList_NewestFirstAndLimited(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"gen-old", "gen-mid", "gen-new"} {
		if err := store.Save(ctx, testDocument(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}

	entries, err := store.List(ctx, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].GenerationID != "gen-new" || entries[1].GenerationID != "gen-mid" {
		t.Fatalf("order = %s, %s; want gen-new, gen-mid", entries[0].GenerationID, entries[1].GenerationID)
	}
	if entries[0].Routes != 2 {
		t.Errorf("route count = %d, want 2", entries[0].Routes)
	}
}

func TestLoad_UnknownIDIsNotFound(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	_, err := store.Load(context.Background(), "nope")
	var nf *archive.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("Load unknown: err=%v, want NotFoundError", err)
	}
	if nf.GenerationID != "nope" {
		t.Errorf("GenerationID = %q, want %q", nf.GenerationID, "nope")
	}
}
