package delivery

import (
	"context"
	"errors"
	"strings"
	"testing"

	"deskrelay/internal/config"
	"deskrelay/internal/ticket"
	logx "deskrelay/pkg/logx"
)

type fakeChat struct {
	sent []string
	to   []Target
	fail error
}

func (f *fakeChat) SendText(_ context.Context, to Target, text string) error {
	if f.fail != nil {
		return f.fail
	}
	f.to = append(f.to, to)
	f.sent = append(f.sent, text)
	return nil
}

func tickets(n int) []ticket.Ticket {
	out := make([]ticket.Ticket, n)
	for i := range out {
		out[i] = ticket.Ticket{ID: int64(i + 1), Title: "ticket", Status: "open"}
	}
	return out
}

func TestDeliverChunks(t *testing.T) {
	t.Parallel()
	chat := &fakeChat{}
	s := New(config.DeliveryConfig{RatePerSec: 1000, ChunkSize: 10}, chat, logx.Nop())

	tenant := config.Tenant{ID: "acme", Name: "ACME", ChatID: -100, ThreadID: 7}
	if err := s.Deliver(context.Background(), tenant, tickets(23)); err != nil {
		t.Fatalf("Deliver error: %v", err)
	}
	if len(chat.sent) != 3 {
		t.Fatalf("messages = %d, want 3", len(chat.sent))
	}
	for _, to := range chat.to {
		if to.ChatID != -100 || to.ThreadID != 7 {
			t.Fatalf("wrong target: %+v", to)
		}
	}
	if !strings.Contains(chat.sent[1], "11-20 of 23") {
		t.Fatalf("second chunk header wrong: %q", chat.sent[1])
	}
}

func TestDeliverEmptyIsNoop(t *testing.T) {
	t.Parallel()
	chat := &fakeChat{}
	s := New(config.DeliveryConfig{RatePerSec: 1000}, chat, logx.Nop())
	if err := s.Deliver(context.Background(), config.Tenant{ID: "a", ChatID: 1}, nil); err != nil {
		t.Fatalf("Deliver error: %v", err)
	}
	if len(chat.sent) != 0 {
		t.Fatal("no messages expected for an empty ticket set")
	}
}

func TestDeliverPropagatesSendError(t *testing.T) {
	t.Parallel()
	chat := &fakeChat{fail: errors.New("chat down")}
	s := New(config.DeliveryConfig{RatePerSec: 1000}, chat, logx.Nop())
	if err := s.Deliver(context.Background(), config.Tenant{ID: "a", ChatID: 1}, tickets(1)); err == nil {
		t.Fatal("expected send error")
	}
}

func TestDigestFormatting(t *testing.T) {
	t.Parallel()
	ts := []ticket.Ticket{
		{ID: 42, Title: "VPN <broken>", Status: "open", Priority: 9},
		{ID: 43, Title: "slow wifi", Status: "pending", Priority: 2},
	}
	got := Digest("ACME & Co", ts, 0, 2)

	if !strings.Contains(got, "ACME &amp; Co") {
		t.Errorf("tenant name not escaped: %q", got)
	}
	if !strings.Contains(got, "VPN &lt;broken&gt;") {
		t.Errorf("title not escaped: %q", got)
	}
	if !strings.Contains(got, "🚨") {
		t.Errorf("high priority marker missing: %q", got)
	}
	if !strings.Contains(got, "#42") || !strings.Contains(got, "#43") {
		t.Errorf("ticket ids missing: %q", got)
	}
	if !strings.Contains(got, "(2)") {
		t.Errorf("total count missing: %q", got)
	}
}
