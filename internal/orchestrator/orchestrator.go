// Package orchestrator wires the schedule matcher, batch engine, filter
// engine and delivery into the single trigger entrypoint the host
// scheduler invokes. Each invocation is self-contained: configuration is
// loaded fresh, schedules are re-evaluated from the wall clock, and the
// only state carried across invocations is the durable marker store.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"deskrelay/internal/batch"
	"deskrelay/internal/config"
	"deskrelay/internal/schedule"
	"deskrelay/internal/store"
	"deskrelay/internal/ticket"
	logx "deskrelay/pkg/logx"
)

// Fetcher is the external fetch capability (helpdesk HTTP client).
type Fetcher interface {
	FetchOpen(ctx context.Context, boxID string) ([]ticket.Ticket, error)
}

// Deliverer is the external delivery capability (chat transport).
type Deliverer interface {
	Deliver(ctx context.Context, tenant config.Tenant, ts []ticket.Ticket) error
}

// Loader supplies the current config; a failure here is fatal for the
// run, since no tenant can be processed without configuration.
type Loader func() (*config.Config, error)

// outcome is one tenant's fetch-filter-dispatch result.
type outcome struct {
	Fetched   []ticket.Ticket
	Admitted  int
	Delivered int
}

type Service struct {
	load    Loader
	fetch   Fetcher
	deliver Deliverer
	store   store.Store // nil when storage is disabled
	log     logx.Logger

	now func() time.Time
}

type Option func(*Service)

// WithClock replaces the clock (tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) { s.now = fn }
}

func New(load Loader, fetch Fetcher, deliver Deliverer, st store.Store, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		load:    load,
		fetch:   fetch,
		deliver: deliver,
		store:   st,
		log:     log,
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Trigger is the sole externally invoked entrypoint. It returns an error
// only when the run could not start at all (config load failure);
// per-tenant failures are collected in the run report.
func (s *Service) Trigger(ctx context.Context) error {
	start := s.now()

	cfg, err := s.load()
	if err != nil {
		s.log.Error("config load failed; run aborted", logx.Err(err))
		return fmt.Errorf("load config: %w", err)
	}
	mode, err := cfg.Trigger.MatchMode()
	if err != nil {
		s.log.Error("invalid trigger mode; run aborted", logx.Err(err))
		return err
	}

	due := s.dueTenants(ctx, cfg.Tenants, start, mode)
	if len(due) == 0 {
		s.log.Debug("no tenants due", logx.Int("tenants", len(cfg.Tenants)), logx.Time("at", start))
		return nil
	}
	s.log.Info("dispatch run starting",
		logx.Int("tenants", len(cfg.Tenants)),
		logx.Int("due", len(due)),
		logx.String("mode", cfg.Trigger.Mode),
	)

	engCfg, err := cfg.Batch.Engine()
	if err != nil {
		// Finalize() validated this at load time; a failure here means the
		// loader bypassed it.
		s.log.Error("invalid batch settings; run aborted", logx.Err(err))
		return err
	}

	runner := batch.New[config.Tenant, outcome](
		engCfg,
		func(t config.Tenant) string { return t.ID },
		s.log,
		batch.WithProgress[config.Tenant, outcome](s.logProgress),
		batch.WithFlush[config.Tenant, outcome](func(chunk []batch.Result[outcome]) error {
			return s.flushTickets(ctx, chunk)
		}),
	)

	rep := runner.Run(ctx, due, func(ctx context.Context, t config.Tenant) (outcome, error) {
		return s.dispatchOne(ctx, t, start, mode)
	})

	s.appendRun(ctx, cfg, rep, start, mode)
	return nil
}

// dueTenants evaluates each tenant's schedule at now and drops tenants
// whose period marker already exists (at-most-once per matching period).
func (s *Service) dueTenants(ctx context.Context, tenants []config.Tenant, now time.Time, mode schedule.Mode) []config.Tenant {
	var due []config.Tenant
	for _, t := range tenants {
		if !t.Expr.Fires(now, mode) {
			continue
		}
		if s.store != nil {
			key := markerKey(t, now, mode)
			firedAt, ok, err := s.store.GetMarker(ctx, key)
			if err != nil {
				// Degrade to possibly-duplicate rather than silently
				// dropping the tenant for the whole period.
				s.log.Warn("marker read failed; proceeding without dedup",
					logx.String("tenant", t.ID), logx.Err(err))
			} else if ok {
				s.log.Debug("already fired in this period",
					logx.String("tenant", t.ID), logx.Time("fired_at", firedAt))
				continue
			}
		}
		due = append(due, t)
	}
	return due
}

// dispatchOne runs one tenant's fetch-filter-deliver cycle. The marker is
// written only after successful delivery, so a failed tenant is retried
// on the next trigger within the same period.
func (s *Service) dispatchOne(ctx context.Context, t config.Tenant, now time.Time, mode schedule.Mode) (outcome, error) {
	fetched, err := s.fetch.FetchOpen(ctx, t.BoxID)
	if err != nil {
		return outcome{}, fmt.Errorf("fetch tenant %s: %w", t.ID, err)
	}

	admitted := t.Filter.Apply(fetched)
	out := outcome{Fetched: fetched, Admitted: len(admitted)}

	if len(admitted) > 0 {
		if err := s.deliver.Deliver(ctx, t, admitted); err != nil {
			return outcome{}, fmt.Errorf("deliver tenant %s: %w", t.ID, err)
		}
		out.Delivered = len(admitted)
	}

	if s.store != nil {
		if err := s.store.PutMarker(ctx, markerKey(t, now, mode), s.now()); err != nil {
			// Not a tenant failure: the dispatch succeeded, we just lost
			// dedup for this period.
			s.log.Warn("marker write failed", logx.String("tenant", t.ID), logx.Err(err))
		}
	}
	return out, nil
}

// flushTickets is the result sink: fetched records land in the durable
// ticket table in window-sized chunks.
func (s *Service) flushTickets(ctx context.Context, chunk []batch.Result[outcome]) error {
	if s.store == nil {
		return nil
	}
	for _, r := range chunk {
		if err := s.store.SaveTickets(ctx, r.ItemID, r.Payload.Fetched); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) logProgress(ev batch.ProgressEvent) {
	switch ev.Kind {
	case batch.EventWindow:
		s.log.Info("dispatch window",
			logx.Int("processed", ev.Processed),
			logx.Int("total", ev.Total),
			logx.Int("window_start", ev.WindowStart),
			logx.Int("window_end", ev.WindowEnd),
		)
	case batch.EventItem:
		s.log.Debug("dispatch progress", logx.Int("processed", ev.Processed), logx.Int("total", ev.Total))
	case batch.EventDone:
		s.log.Info("dispatch complete", logx.Int("processed", ev.Processed), logx.Int("total", ev.Total))
	}
}

func (s *Service) appendRun(ctx context.Context, cfg *config.Config, rep batch.Report[outcome], start time.Time, mode schedule.Mode) {
	delivered := 0
	for _, r := range rep.Succeeded {
		delivered += r.Payload.Delivered
	}
	for _, f := range rep.Failed {
		s.log.Warn("tenant dispatch failed", logx.String("tenant", f.ItemID), logx.Err(f.Err))
	}

	if s.store == nil {
		return
	}
	entry := store.RunEntry{
		At:        start,
		Mode:      modeName(mode),
		Tenants:   len(cfg.Tenants),
		Due:       rep.Total,
		Succeeded: len(rep.Succeeded),
		Failed:    len(rep.Failed),
		Skipped:   len(rep.Skipped),
		Delivered: delivered,
		TookMS:    rep.Duration.Milliseconds(),
	}
	if err := s.store.AppendRun(ctx, entry); err != nil {
		s.log.Warn("run log append failed", logx.Err(err))
	}
}

func markerKey(t config.Tenant, now time.Time, mode schedule.Mode) string {
	return t.ID + "|" + t.Schedule + "|" + t.Expr.PeriodKey(now, mode)
}

func modeName(m schedule.Mode) string {
	if m == schedule.Hourly {
		return "hourly"
	}
	return "strict"
}
