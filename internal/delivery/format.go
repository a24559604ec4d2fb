package delivery

import (
	"fmt"
	"html"
	"strings"

	"deskrelay/internal/ticket"
)

// priorityMark mirrors the severity prefixes used elsewhere in our chat
// output: high priorities should stand out in a busy group.
func priorityMark(p int) string {
	switch {
	case p >= 8:
		return "🚨"
	case p >= 5:
		return "⚠️"
	default:
		return "•"
	}
}

// Digest renders one chunk of a tenant's ticket list as Telegram HTML.
// offset/total describe the chunk's position so multi-message digests
// stay readable ("tickets 11-20 of 34").
func Digest(tenantName string, ts []ticket.Ticket, offset, total int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "<b>%s</b> — open tickets", html.EscapeString(tenantName))
	if total > len(ts) {
		fmt.Fprintf(&b, " (%d-%d of %d)", offset+1, offset+len(ts), total)
	} else {
		fmt.Fprintf(&b, " (%d)", total)
	}
	b.WriteString("\n")

	for _, t := range ts {
		fmt.Fprintf(&b, "\n%s <b>#%d</b> %s", priorityMark(t.Priority), t.ID, html.EscapeString(t.Title))
		if t.Status != "" {
			fmt.Fprintf(&b, " <i>[%s]</i>", html.EscapeString(t.Status))
		}
	}
	return b.String()
}
