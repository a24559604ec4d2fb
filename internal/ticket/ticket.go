// Package ticket defines the helpdesk record type and the HTTP client
// that fetches tickets for one tenant box.
package ticket

import "time"

// Ticket is one helpdesk item as seen by the dispatch pipeline.
//
// Attribute lists are always non-nil: a ticket without labels carries an
// empty slice, so filter predicates need no nil special cases.
type Ticket struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CategoryIDs []int     `json:"category_ids"`
	LabelIDs    []int     `json:"label_ids"`
	Priority    int       `json:"priority"`
}

// Normalize replaces nil attribute slices with empty ones.
func (t *Ticket) Normalize() {
	if t.CategoryIDs == nil {
		t.CategoryIDs = []int{}
	}
	if t.LabelIDs == nil {
		t.LabelIDs = []int{}
	}
}
