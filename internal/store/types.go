package store

import (
	"context"
	"errors"
	"time"

	"deskrelay/internal/ticket"
)

var ErrDisabled = errors.New("store disabled")

// Config configures the durable layer.
//
// Driver values:
//   - "sqlite": SQLite database file
//   - "memory": in-process map store (tests, throwaway runs)
//
// If Driver is empty or "none", the store is disabled and the
// orchestrator runs without dedup markers or run history.
type Config struct {
	Driver      string        `json:"driver"`
	Path        string        `json:"path"`
	BusyTimeout time.Duration `json:"-"` // sqlite only; 0 means default

	// MarkerTTL bounds how long fired markers are retained. Markers only
	// matter within their own schedule period, so anything older is noise.
	// 0 means 48h.
	MarkerTTL time.Duration `json:"-"`
}

// RunEntry is one orchestration run's durable summary.
// Keep it compact and schema-stable.
type RunEntry struct {
	At        time.Time
	Mode      string
	Tenants   int
	Due       int
	Succeeded int
	Failed    int
	Skipped   int
	Delivered int
	TookMS    int64
	Error     string
}

// Store is the persistence API used by the orchestrator: last-fired
// dedup markers, the run log, and the fetched-ticket result sink.
type Store interface {
	GetMarker(ctx context.Context, key string) (firedAt time.Time, ok bool, err error)
	PutMarker(ctx context.Context, key string, firedAt time.Time) error
	AppendRun(ctx context.Context, e RunEntry) error
	SaveTickets(ctx context.Context, tenantID string, ts []ticket.Ticket) error
	Close() error
}
