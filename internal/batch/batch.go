// Package batch runs a per-item operation over a large item list under a
// shared rate ceiling: fixed-size windows separated by a mandatory
// cooldown, per-item failure isolation, chunked result flushing, and an
// optional wall-clock budget that converts the unprocessed remainder into
// skips instead of errors.
package batch

import (
	"context"
	"time"

	logx "deskrelay/pkg/logx"
)

// Op is the caller-supplied per-item operation. Items fail independently;
// an error here records a Failure and processing continues.
type Op[T, R any] func(ctx context.Context, item T) (R, error)

// Runner executes batches. Build one with New and the With* options; a
// Runner is stateless across runs and safe to reuse sequentially.
type Runner[T, R any] struct {
	cfg Config
	log logx.Logger

	id       func(T) string
	progress func(ProgressEvent)
	flush    func([]Result[R]) error

	// sleep and now are injected in tests; defaults use the real clock.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

type Option[T, R any] func(*Runner[T, R])

// WithProgress installs the progress sink. Emission is fire-and-forget:
// a panicking sink is recovered and logged, never fatal.
func WithProgress[T, R any](fn func(ProgressEvent)) Option[T, R] {
	return func(r *Runner[T, R]) { r.progress = fn }
}

// WithFlush installs the result sink. Successes are handed over in
// window-sized chunks so large runs do not pool everything in memory.
// The flushed results remain in the report; flush errors are logged and
// swallowed.
func WithFlush[T, R any](fn func([]Result[R]) error) Option[T, R] {
	return func(r *Runner[T, R]) { r.flush = fn }
}

// WithSleep replaces the cooldown sleeper (tests).
func WithSleep[T, R any](fn func(ctx context.Context, d time.Duration) error) Option[T, R] {
	return func(r *Runner[T, R]) { r.sleep = fn }
}

// WithClock replaces the clock (tests).
func WithClock[T, R any](fn func() time.Time) Option[T, R] {
	return func(r *Runner[T, R]) { r.now = fn }
}

// New builds a Runner. id names items in failure/skip records and logs.
func New[T, R any](cfg Config, id func(T) string, log logx.Logger, opts ...Option[T, R]) *Runner[T, R] {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Runner[T, R]{
		cfg:   cfg.withDefaults(),
		log:   log,
		id:    id,
		sleep: sleepCtx,
		now:   time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run processes items strictly in input order and always returns a
// Report, even when every item failed. It aborts early only when the
// budget (or ctx) expires, and then only between items: the in-flight
// operation runs to completion and the rest are reported as skipped.
func (r *Runner[T, R]) Run(ctx context.Context, items []T, op Op[T, R]) Report[R] {
	start := r.now()
	rep := Report[R]{Total: len(items)}

	var deadline time.Time
	if r.cfg.Budget > 0 {
		deadline = start.Add(r.cfg.Budget)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}

	window := r.cfg.WindowSize
	pending := make([]Result[R], 0, window)

	r.emit(ProgressEvent{Kind: EventWindow, Processed: 0, Total: rep.Total, WindowStart: 0, WindowEnd: min(window, rep.Total)})

	for i, item := range items {
		if r.expired(ctx, deadline) {
			rep.Skipped = r.skipRemainder(items[i:])
			break
		}

		payload, err := op(ctx, item)
		at := r.now()
		if err != nil {
			rep.Failed = append(rep.Failed, Failure{ItemID: r.id(item), Err: err, At: at})
			r.log.Warn("batch item failed", logx.String("item", r.id(item)), logx.Err(err))
		} else {
			res := Result[R]{ItemID: r.id(item), Payload: payload, At: at}
			rep.Succeeded = append(rep.Succeeded, res)
			pending = append(pending, res)
		}

		done := i + 1
		r.emit(ProgressEvent{Kind: EventItem, Processed: done, Total: rep.Total, WindowStart: windowStart(done-1, window), WindowEnd: min(windowStart(done-1, window)+window, rep.Total)})

		// Window boundary: only after completing a full window, never
		// mid-item, and not after the final item.
		if done%window == 0 && done < rep.Total {
			pending = r.flushPending(pending)

			if !r.cooldown(ctx, deadline) {
				rep.Skipped = r.skipRemainder(items[done:])
				break
			}
			r.emit(ProgressEvent{Kind: EventWindow, Processed: done, Total: rep.Total, WindowStart: done, WindowEnd: min(done+window, rep.Total)})
		}

		if len(pending) >= window {
			pending = r.flushPending(pending)
		}
	}

	r.flushPending(pending)
	rep.Duration = r.now().Sub(start)
	r.emit(ProgressEvent{Kind: EventDone, Processed: len(rep.Succeeded) + len(rep.Failed), Total: rep.Total, WindowStart: 0, WindowEnd: rep.Total})

	r.log.Info("batch run finished",
		logx.Int("total", rep.Total),
		logx.Int("succeeded", len(rep.Succeeded)),
		logx.Int("failed", len(rep.Failed)),
		logx.Int("skipped", len(rep.Skipped)),
		logx.Duration("dur", rep.Duration),
	)
	return rep
}

func (r *Runner[T, R]) expired(ctx context.Context, deadline time.Time) bool {
	if ctx.Err() != nil {
		return true
	}
	return !deadline.IsZero() && !r.now().Before(deadline)
}

// cooldown pauses between windows. It refuses to start a sleep that
// would run past the deadline and reports false when the run must stop.
func (r *Runner[T, R]) cooldown(ctx context.Context, deadline time.Time) bool {
	if ctx.Err() != nil {
		return false
	}
	d := r.cfg.Cooldown
	if !deadline.IsZero() && r.now().Add(d).After(deadline) {
		return false
	}
	r.log.Debug("window cooldown", logx.Duration("cooldown", d))
	return r.sleep(ctx, d) == nil
}

func (r *Runner[T, R]) skipRemainder(rest []T) []string {
	ids := make([]string, 0, len(rest))
	for _, it := range rest {
		ids = append(ids, r.id(it))
	}
	r.log.Warn("batch budget exhausted; skipping remainder", logx.Int("skipped", len(ids)))
	return ids
}

func (r *Runner[T, R]) emit(ev ProgressEvent) {
	if r.progress == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Warn("progress sink panicked", logx.Any("panic", rec))
		}
	}()
	r.progress(ev)
}

func (r *Runner[T, R]) flushPending(pending []Result[R]) []Result[R] {
	if r.flush == nil || len(pending) == 0 {
		return pending[:0]
	}
	chunk := make([]Result[R], len(pending))
	copy(chunk, pending)
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.log.Warn("result sink panicked", logx.Any("panic", rec))
			}
		}()
		if err := r.flush(chunk); err != nil {
			r.log.Warn("result sink flush failed", logx.Int("chunk", len(chunk)), logx.Err(err))
		}
	}()
	return pending[:0]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	tmr := time.NewTimer(d)
	select {
	case <-ctx.Done():
		if !tmr.Stop() {
			<-tmr.C
		}
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}

func windowStart(idx, window int) int { return (idx / window) * window }
