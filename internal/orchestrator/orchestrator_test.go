package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"deskrelay/internal/config"
	"deskrelay/internal/filter"
	"deskrelay/internal/schedule"
	"deskrelay/internal/store"
	"deskrelay/internal/ticket"
	logx "deskrelay/pkg/logx"
)

// monday 09:00 UTC
var monday9 = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

type fakeFetcher struct {
	byBox map[string][]ticket.Ticket
	errBy map[string]error
	calls []string
}

func (f *fakeFetcher) FetchOpen(_ context.Context, boxID string) ([]ticket.Ticket, error) {
	f.calls = append(f.calls, boxID)
	if err := f.errBy[boxID]; err != nil {
		return nil, err
	}
	return f.byBox[boxID], nil
}

type delivery struct {
	tenant string
	ids    []int64
}

type fakeDeliverer struct {
	fail       map[string]error
	deliveries []delivery
}

func (d *fakeDeliverer) Deliver(_ context.Context, t config.Tenant, ts []ticket.Ticket) error {
	if err := d.fail[t.ID]; err != nil {
		return err
	}
	ids := make([]int64, len(ts))
	for i, tk := range ts {
		ids[i] = tk.ID
	}
	d.deliveries = append(d.deliveries, delivery{tenant: t.ID, ids: ids})
	return nil
}

type fakeStore struct {
	mu        sync.Mutex
	markers   map[string]time.Time
	runs      []store.RunEntry
	saved     map[string]int
	markerErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{markers: map[string]time.Time{}, saved: map[string]int{}}
}

func (s *fakeStore) GetMarker(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markerErr != nil {
		return time.Time{}, false, s.markerErr
	}
	at, ok := s.markers[key]
	return at, ok, nil
}

func (s *fakeStore) PutMarker(_ context.Context, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers[key] = at
	return nil
}

func (s *fakeStore) AppendRun(_ context.Context, e store.RunEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, e)
	return nil
}

func (s *fakeStore) SaveTickets(_ context.Context, tenantID string, ts []ticket.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[tenantID] += len(ts)
	return nil
}

func (s *fakeStore) Close() error { return nil }

func tenant(id, sched string, f *filter.RuleSet) config.Tenant {
	t := config.Tenant{ID: id, BoxID: "box-" + id, ChatID: 1, Schedule: sched, Filter: f}
	t.Expr, t.ScheduleErr = schedule.Parse(sched)
	return t
}

func loaderFor(cfg *config.Config) Loader {
	return func() (*config.Config, error) { return cfg, nil }
}

func TestTriggerDispatchesDueTenantsOnly(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Trigger: config.TriggerConfig{Mode: "strict"},
		Batch:   config.BatchConfig{WindowSize: 50, Cooldown: "1ms"},
		Tenants: []config.Tenant{
			tenant("acme", "09:00 weekdays", &filter.RuleSet{IncludeLabels: []int{7}}),
			tenant("globex", "10:00 daily", nil), // not due at 09:00
			tenant("broken", "nonsense", nil),    // never fires
		},
	}
	fetch := &fakeFetcher{byBox: map[string][]ticket.Ticket{
		"box-acme": {
			{ID: 1, LabelIDs: []int{7}},
			{ID: 2, LabelIDs: []int{8}},
			{ID: 3, LabelIDs: []int{7, 8}},
		},
	}}
	del := &fakeDeliverer{}
	st := newFakeStore()

	s := New(loaderFor(cfg), fetch, del, st, logx.Nop(), WithClock(func() time.Time { return monday9 }))
	if err := s.Trigger(context.Background()); err != nil {
		t.Fatalf("Trigger error: %v", err)
	}

	if len(fetch.calls) != 1 || fetch.calls[0] != "box-acme" {
		t.Fatalf("fetch calls = %v, want [box-acme]", fetch.calls)
	}
	if len(del.deliveries) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(del.deliveries))
	}
	got := del.deliveries[0]
	if got.tenant != "acme" || len(got.ids) != 2 || got.ids[0] != 1 || got.ids[1] != 3 {
		t.Fatalf("unexpected delivery: %+v", got)
	}

	// All fetched records (not only admitted) hit the result sink.
	if st.saved["acme"] != 3 {
		t.Fatalf("saved tickets = %d, want 3", st.saved["acme"])
	}
	if len(st.markers) != 1 {
		t.Fatalf("markers = %d, want 1", len(st.markers))
	}
	if len(st.runs) != 1 {
		t.Fatalf("run entries = %d, want 1", len(st.runs))
	}
	run := st.runs[0]
	if run.Tenants != 3 || run.Due != 1 || run.Succeeded != 1 || run.Delivered != 2 {
		t.Fatalf("unexpected run entry: %+v", run)
	}
}

func TestTriggerDedupWithinPeriod(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Trigger: config.TriggerConfig{Mode: "hourly"},
		Tenants: []config.Tenant{tenant("acme", "09:00 daily", nil)},
	}
	fetch := &fakeFetcher{byBox: map[string][]ticket.Ticket{"box-acme": {{ID: 1}}}}
	del := &fakeDeliverer{}
	st := newFakeStore()

	// Two trigger firings inside the same hour: second must not dispatch.
	clockAt := monday9
	s := New(loaderFor(cfg), fetch, del, st, logx.Nop(), WithClock(func() time.Time { return clockAt }))
	if err := s.Trigger(context.Background()); err != nil {
		t.Fatalf("first Trigger: %v", err)
	}
	clockAt = monday9.Add(23 * time.Minute)
	if err := s.Trigger(context.Background()); err != nil {
		t.Fatalf("second Trigger: %v", err)
	}
	if len(del.deliveries) != 1 {
		t.Fatalf("deliveries = %d, want 1 (at-most-once per period)", len(del.deliveries))
	}

	// Next day's period fires again.
	clockAt = monday9.Add(24 * time.Hour)
	if err := s.Trigger(context.Background()); err != nil {
		t.Fatalf("third Trigger: %v", err)
	}
	if len(del.deliveries) != 2 {
		t.Fatalf("deliveries = %d, want 2 after the period rolled over", len(del.deliveries))
	}
}

func TestTriggerConfigLoadFailureIsFatal(t *testing.T) {
	t.Parallel()
	s := New(func() (*config.Config, error) { return nil, errors.New("config store down") },
		&fakeFetcher{}, &fakeDeliverer{}, nil, logx.Nop())
	if err := s.Trigger(context.Background()); err == nil {
		t.Fatal("expected fatal error when config cannot be loaded")
	}
}

func TestTriggerTenantFailureIsIsolated(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Tenants: []config.Tenant{
			tenant("bad", "09:00 daily", nil),
			tenant("good", "09:00 daily", nil),
		},
	}
	fetch := &fakeFetcher{
		byBox: map[string][]ticket.Ticket{"box-good": {{ID: 9}}},
		errBy: map[string]error{"box-bad": errors.New("helpdesk 500")},
	}
	del := &fakeDeliverer{}
	st := newFakeStore()

	s := New(loaderFor(cfg), fetch, del, st, logx.Nop(), WithClock(func() time.Time { return monday9 }))
	if err := s.Trigger(context.Background()); err != nil {
		t.Fatalf("Trigger error: %v (per-tenant failures must not be fatal)", err)
	}

	if len(del.deliveries) != 1 || del.deliveries[0].tenant != "good" {
		t.Fatalf("deliveries = %+v, want only good", del.deliveries)
	}
	run := st.runs[0]
	if run.Failed != 1 || run.Succeeded != 1 {
		t.Fatalf("run entry = %+v", run)
	}
	// Failed tenant gets no marker: it is retried on the next firing.
	for k := range st.markers {
		if k[:3] == "bad" {
			t.Fatalf("marker written for failed tenant: %s", k)
		}
	}
}

func TestTriggerDeliveryFailureLeavesNoMarker(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Tenants: []config.Tenant{tenant("acme", "09:00 daily", nil)},
	}
	fetch := &fakeFetcher{byBox: map[string][]ticket.Ticket{"box-acme": {{ID: 1}}}}
	del := &fakeDeliverer{fail: map[string]error{"acme": errors.New("chat down")}}
	st := newFakeStore()

	s := New(loaderFor(cfg), fetch, del, st, logx.Nop(), WithClock(func() time.Time { return monday9 }))
	if err := s.Trigger(context.Background()); err != nil {
		t.Fatalf("Trigger error: %v", err)
	}
	if len(st.markers) != 0 {
		t.Fatal("marker must not be written when delivery failed")
	}

	// Next firing in the same period retries the tenant.
	del.fail = nil
	if err := s.Trigger(context.Background()); err != nil {
		t.Fatalf("retry Trigger error: %v", err)
	}
	if len(del.deliveries) != 1 {
		t.Fatalf("deliveries = %d, want 1 after retry", len(del.deliveries))
	}
}

func TestTriggerMarkerReadErrorDegrades(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Tenants: []config.Tenant{tenant("acme", "09:00 daily", nil)},
	}
	fetch := &fakeFetcher{byBox: map[string][]ticket.Ticket{"box-acme": {{ID: 1}}}}
	del := &fakeDeliverer{}
	st := newFakeStore()
	st.markerErr = errors.New("db locked")

	s := New(loaderFor(cfg), fetch, del, st, logx.Nop(), WithClock(func() time.Time { return monday9 }))
	if err := s.Trigger(context.Background()); err != nil {
		t.Fatalf("Trigger error: %v", err)
	}
	// Degrades to possibly-duplicate: tenant still dispatched.
	if len(del.deliveries) != 1 {
		t.Fatalf("deliveries = %d, want 1 despite marker read error", len(del.deliveries))
	}
}

func TestTriggerWithoutStore(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Tenants: []config.Tenant{tenant("acme", "09:00 daily", nil)},
	}
	fetch := &fakeFetcher{byBox: map[string][]ticket.Ticket{"box-acme": {{ID: 1}}}}
	del := &fakeDeliverer{}

	s := New(loaderFor(cfg), fetch, del, nil, logx.Nop(), WithClock(func() time.Time { return monday9 }))
	if err := s.Trigger(context.Background()); err != nil {
		t.Fatalf("Trigger error: %v", err)
	}
	if len(del.deliveries) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(del.deliveries))
	}
}
