// Package archive persists export documents so analysis results survive
// process restarts. Backends register themselves by kind; the engine and
// server only ever see the Archiver interface.
package archive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"trafficlens/internal/engine"
)

// Config selects and configures a backend.
//
// Kind must match a registered backend kind ("sqlite", "postgres", "mssql").
// DSN is passed through to the backend; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Entry is one archived snapshot in a listing, without the document body.
type Entry struct {
	GenerationID string    `json:"generation_id"`
	GeneratedAt  time.Time `json:"generated_at"`
	Rows         int       `json:"rows"`
	Routes       int       `json:"routes"`
}

// Archiver stores and retrieves export documents.
//
// Implementations must make Save idempotent on generation ID: saving the
// same document twice leaves one copy.
type Archiver interface {
	// Init creates tables as needed. Safe to call at every startup.
	Init(ctx context.Context) error

	// Save archives one export document keyed by its generation ID.
	Save(ctx context.Context, doc engine.Document) error

	// List returns the most recent snapshots, newest first. limit <= 0
	// means no limit.
	List(ctx context.Context, limit int) ([]Entry, error)

	// Load retrieves a document by generation ID.
	Load(ctx context.Context, generationID string) (engine.Document, error)

	// Close releases backend resources. Call once at shutdown.
	Close()
}

type factory func(ctx context.Context, cfg Config) (Archiver, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind. Call from an init() function
// in the backend package.
//
// Panics on empty kind, nil factory, or duplicate registration; ambiguous
// backend selection should fail at startup, not at first use.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("archive: Register called with empty kind")
	}
	if f == nil {
		panic("archive: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("archive: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs an Archiver for the configured backend kind.
func New(ctx context.Context, cfg Config) (Archiver, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("archive: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("archive: unsupported kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// NotFoundError is returned by Load when no snapshot matches the ID.
type NotFoundError struct {
	GenerationID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("archive: snapshot %s not found", e.GenerationID)
}
