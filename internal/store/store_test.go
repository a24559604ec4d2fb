package store

import (
	"context"
	"testing"
	"time"

	"deskrelay/internal/ticket"
	logx "deskrelay/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", "NONE"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%q) error: %v", driver, err)
		}
		if st != nil {
			t.Fatalf("Open(%q) = %T, want nil", driver, st)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestMemoryMarkers(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	ctx := context.Background()

	if _, ok, err := st.GetMarker(ctx, "t1|09:00 daily|2025-06-02 09"); err != nil || ok {
		t.Fatalf("GetMarker on empty store: ok=%v err=%v", ok, err)
	}

	at := time.Date(2025, 6, 2, 9, 3, 0, 0, time.UTC)
	if err := st.PutMarker(ctx, "t1|09:00 daily|2025-06-02 09", at); err != nil {
		t.Fatalf("PutMarker error: %v", err)
	}
	got, ok, err := st.GetMarker(ctx, "t1|09:00 daily|2025-06-02 09")
	if err != nil || !ok {
		t.Fatalf("GetMarker: ok=%v err=%v", ok, err)
	}
	if !got.Equal(at) {
		t.Fatalf("fired_at = %v, want %v", got, at)
	}

	// Different period, same tenant: independent marker.
	if _, ok, _ := st.GetMarker(ctx, "t1|09:00 daily|2025-06-03 09"); ok {
		t.Fatal("marker leaked across periods")
	}
}

func TestMemoryRunLogAndTickets(t *testing.T) {
	t.Parallel()
	m := newMemory()
	ctx := context.Background()

	if err := m.AppendRun(ctx, RunEntry{Due: 3, Succeeded: 2, Failed: 1}); err != nil {
		t.Fatalf("AppendRun error: %v", err)
	}
	runs := m.Runs()
	if len(runs) != 1 || runs[0].Due != 3 {
		t.Fatalf("unexpected runs: %+v", runs)
	}
	if runs[0].At.IsZero() {
		t.Fatal("AppendRun must default the timestamp")
	}

	ts := []ticket.Ticket{{ID: 1, Title: "printer on fire"}}
	if err := m.SaveTickets(ctx, "t1", ts); err != nil {
		t.Fatalf("SaveTickets error: %v", err)
	}
	if err := m.SaveTickets(ctx, "t1", nil); err != nil {
		t.Fatalf("SaveTickets with empty chunk: %v", err)
	}
	if got := len(m.tickets["t1"]); got != 1 {
		t.Fatalf("stored tickets = %d, want 1", got)
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	t.Parallel()
	path := t.TempDir() + "/relay.db"
	st, err := Open(Config{Driver: "sqlite", Path: path, BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("Open sqlite: %v", err)
	}
	defer st.Close()
	ctx := context.Background()

	at := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	if err := st.PutMarker(ctx, "t1|09:00|2025-06-02 09:00", at); err != nil {
		t.Fatalf("PutMarker: %v", err)
	}
	got, ok, err := st.GetMarker(ctx, "t1|09:00|2025-06-02 09:00")
	if err != nil || !ok {
		t.Fatalf("GetMarker: ok=%v err=%v", ok, err)
	}
	if got.UnixMilli() != at.UnixMilli() {
		t.Fatalf("fired_at = %v, want %v", got, at)
	}

	// Upsert replaces.
	at2 := at.Add(time.Hour)
	if err := st.PutMarker(ctx, "t1|09:00|2025-06-02 09:00", at2); err != nil {
		t.Fatalf("PutMarker upsert: %v", err)
	}
	got, _, _ = st.GetMarker(ctx, "t1|09:00|2025-06-02 09:00")
	if got.UnixMilli() != at2.UnixMilli() {
		t.Fatalf("upsert kept old value: %v", got)
	}

	if err := st.AppendRun(ctx, RunEntry{Mode: "hourly", Tenants: 10, Due: 2, Succeeded: 2, TookMS: 1500}); err != nil {
		t.Fatalf("AppendRun: %v", err)
	}

	ts := []ticket.Ticket{
		{ID: 100, Title: "vpn down", Status: "open", Priority: 3, CategoryIDs: []int{5}, LabelIDs: []int{7}, CreatedAt: at, UpdatedAt: at},
	}
	if err := st.SaveTickets(ctx, "t1", ts); err != nil {
		t.Fatalf("SaveTickets: %v", err)
	}
	// Re-saving the same ticket must upsert, not error.
	if err := st.SaveTickets(ctx, "t1", ts); err != nil {
		t.Fatalf("SaveTickets upsert: %v", err)
	}
}
