package batch

import (
	"time"
)

// Config controls windowing and the wall-clock budget of one run.
//
// Defaults (when fields are omitted/zero):
//   - window_size: 50
//   - cooldown: "60s"
//   - budget: "0s" (disabled)
type Config struct {
	// WindowSize is the number of items processed between cooldown pauses.
	WindowSize int `json:"window_size,omitempty"`

	// Cooldown is the mandatory pause after each full window, modeling the
	// upstream rate ceiling (e.g. N calls per minute).
	Cooldown time.Duration `json:"-"`

	// Budget bounds the whole run. When it runs out the engine stops
	// dispatching and marks the remainder skipped; it never aborts an
	// in-flight item.
	Budget time.Duration `json:"-"`
}

func (c Config) withDefaults() Config {
	if c.WindowSize <= 0 {
		c.WindowSize = 50
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 60 * time.Second
	}
	return c
}

// EventKind tags a progress event.
type EventKind string

const (
	// EventItem is emitted after each processed item.
	EventItem EventKind = "item"
	// EventWindow is emitted when a new window starts (including the first).
	EventWindow EventKind = "window"
	// EventDone is emitted once when the run terminates.
	EventDone EventKind = "done"
)

// ProgressEvent is a fire-and-forget status snapshot handed to the
// progress sink. Sink failures never abort the batch.
type ProgressEvent struct {
	Kind        EventKind
	Processed   int
	Total       int
	WindowStart int
	WindowEnd   int // exclusive
}

// Result is one successful item, append-only after insertion.
type Result[R any] struct {
	ItemID  string
	Payload R
	At      time.Time
}

// Failure is one attempted item that errored, append-only after insertion.
type Failure struct {
	ItemID string
	Err    error
	At     time.Time
}

// Report is the always-returned outcome of a run. Skipped holds the IDs
// of items never attempted because the budget ran out; these are distinct
// from Failed and are the caller's to re-queue on the next trigger.
type Report[R any] struct {
	Succeeded []Result[R]
	Failed    []Failure
	Skipped   []string
	Total     int
	Duration  time.Duration
}
