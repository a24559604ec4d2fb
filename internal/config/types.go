package config

import (
	"fmt"
	"strings"
	"time"

	"deskrelay/internal/batch"
	"deskrelay/internal/filter"
	"deskrelay/internal/schedule"
	"deskrelay/internal/store"
	logx "deskrelay/pkg/logx"
)

// Config is the on-disk configuration: app settings plus the tenant list.
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Trigger  TriggerConfig  `json:"trigger"`
	Batch    BatchConfig    `json:"batch"`
	Helpdesk HelpdeskConfig `json:"helpdesk"`
	Delivery DeliveryConfig `json:"delivery"`
	Store    *StoreConfig   `json:"store,omitempty"`
	Tenants  []Tenant       `json:"tenants"`
}

type LoggingConfig struct {
	Level   string `json:"level,omitempty"`
	Console bool   `json:"console"`
	File    struct {
		Enabled bool   `json:"enabled"`
		Path    string `json:"path,omitempty"`
	} `json:"file,omitempty"`
}

func (c LoggingConfig) Logx() logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
	}
}

// TriggerConfig controls how the host invokes the dispatch entrypoint.
//
// Cron is the host cadence (robfig/cron spec), not a tenant schedule.
// Mode must match the cadence: "strict" for a per-minute cron, "hourly"
// for a coarser one, so tenant schedules are matched correctly.
//
// Defaults: cron "@every 1m", mode "strict".
type TriggerConfig struct {
	Cron string `json:"cron,omitempty"`
	Mode string `json:"mode,omitempty"`
}

func (c TriggerConfig) CronSpec() string {
	if s := strings.TrimSpace(c.Cron); s != "" {
		return s
	}
	return "@every 1m"
}

func (c TriggerConfig) MatchMode() (schedule.Mode, error) {
	switch strings.ToLower(strings.TrimSpace(c.Mode)) {
	case "", "strict":
		return schedule.Strict, nil
	case "hourly":
		return schedule.Hourly, nil
	default:
		return schedule.Strict, fmt.Errorf("trigger.mode: unknown mode %q (use strict or hourly)", c.Mode)
	}
}

// BatchConfig configures the rate-limited batch engine.
//
// Defaults (when fields are omitted/zero):
//   - window_size: 50
//   - cooldown: "60s"
//   - budget: "0s" (no wall-clock ceiling)
type BatchConfig struct {
	WindowSize int    `json:"window_size,omitempty"`
	Cooldown   string `json:"cooldown,omitempty"`
	Budget     string `json:"budget,omitempty"`
}

func (c BatchConfig) Engine() (batch.Config, error) {
	cooldown, err := ParseDurationOrDefault("batch.cooldown", c.Cooldown, 60*time.Second)
	if err != nil {
		return batch.Config{}, err
	}
	budget, err := ParseDurationField("batch.budget", c.Budget)
	if err != nil {
		return batch.Config{}, err
	}
	return batch.Config{WindowSize: c.WindowSize, Cooldown: cooldown, Budget: budget}, nil
}

// HelpdeskConfig configures the ticketing API client. The API key comes
// from the environment (see Env), never from this file.
type HelpdeskConfig struct {
	BaseURL  string `json:"base_url,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
	PageSize int    `json:"page_size,omitempty"`
}

// DeliveryConfig configures outbound chat pacing.
//
// Defaults: rate_per_sec 1, chunk_size 10 tickets per message.
type DeliveryConfig struct {
	RatePerSec int `json:"rate_per_sec,omitempty"`
	ChunkSize  int `json:"chunk_size,omitempty"`
}

// StoreConfig controls the durable marker/run/result layer.
//
// Example:
//
//	"store": { "driver": "sqlite", "path": "./deskrelay.db" }
type StoreConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	MarkerTTL   string `json:"marker_ttl,omitempty"`   // Go duration string
}

func (c *StoreConfig) Store() (store.Config, error) {
	if c == nil {
		return store.Config{}, nil
	}
	busy, err := ParseDurationField("store.busy_timeout", c.BusyTimeout)
	if err != nil {
		return store.Config{}, err
	}
	ttl, err := ParseDurationField("store.marker_ttl", c.MarkerTTL)
	if err != nil {
		return store.Config{}, err
	}
	return store.Config{Driver: c.Driver, Path: c.Path, BusyTimeout: busy, MarkerTTL: ttl}, nil
}

// Tenant is one organization's dispatch configuration. Immutable per run:
// the orchestrator snapshots the tenant list at trigger time.
type Tenant struct {
	ID       string          `json:"id"`
	Name     string          `json:"name,omitempty"`
	BoxID    string          `json:"box_id"`
	ChatID   int64           `json:"chat_id"`
	ThreadID int             `json:"thread_id,omitempty"`
	Schedule string          `json:"schedule"`
	Filter   *filter.RuleSet `json:"filter,omitempty"`

	// Load-time artifacts: the parsed schedule, or the parse error.
	// A tenant with a broken schedule stays in the list (visible in
	// status output) but never fires.
	Expr        schedule.Expression `json:"-"`
	ScheduleErr error               `json:"-"`
}

// DisplayName returns a human-facing label for logs and digests.
func (t Tenant) DisplayName() string {
	if strings.TrimSpace(t.Name) != "" {
		return t.Name
	}
	return t.ID
}

// Finalize validates structural fields and parses every tenant schedule,
// attaching parse errors to the tenant instead of failing the load. It
// returns an error only for problems that make the config unusable as a
// whole (duplicate or missing tenant IDs, bad mode, bad durations).
func (c *Config) Finalize(log logx.Logger) error {
	if log.IsZero() {
		log = logx.Nop()
	}

	if _, err := c.Trigger.MatchMode(); err != nil {
		return err
	}
	if _, err := c.Batch.Engine(); err != nil {
		return err
	}
	if _, err := c.Store.Store(); err != nil {
		return err
	}
	if _, err := ParseDurationField("helpdesk.timeout", c.Helpdesk.Timeout); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Tenants))
	for i := range c.Tenants {
		t := &c.Tenants[i]
		if strings.TrimSpace(t.ID) == "" {
			return fmt.Errorf("tenants[%d]: id is required", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("tenants[%d]: duplicate id %q", i, t.ID)
		}
		seen[t.ID] = true
		if strings.TrimSpace(t.BoxID) == "" {
			return fmt.Errorf("tenant %s: box_id is required", t.ID)
		}
		if t.ChatID == 0 {
			return fmt.Errorf("tenant %s: chat_id is required", t.ID)
		}

		t.Expr, t.ScheduleErr = schedule.Parse(t.Schedule)
		if t.ScheduleErr != nil {
			// Never fatal: a typo in one tenant must not block the others.
			log.Warn("tenant schedule invalid; tenant will never fire",
				logx.String("tenant", t.ID),
				logx.String("schedule", t.Schedule),
				logx.Err(t.ScheduleErr),
			)
		}
	}
	return nil
}
