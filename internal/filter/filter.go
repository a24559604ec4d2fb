// Package filter decides which fetched tickets are eligible for delivery.
//
// Admit is a pure function over a ticket's attribute sets: no I/O, no
// mutation of its inputs. Within one rule field membership is OR; across
// fields the decisions are AND-ed, and exclusion always wins over
// inclusion.
package filter

import "deskrelay/internal/ticket"

// RuleSet is one tenant's notification filter. Every field is optional;
// an empty field imposes no constraint, and a nil RuleSet admits
// everything.
type RuleSet struct {
	IncludeLabels     []int `json:"include_labels,omitempty"`
	ExcludeLabels     []int `json:"exclude_labels,omitempty"`
	IncludeCategories []int `json:"include_categories,omitempty"`
	ExcludeCategories []int `json:"exclude_categories,omitempty"`
	Priorities        []int `json:"priorities,omitempty"`
}

// Empty reports whether the rule set imposes no constraints.
func (r *RuleSet) Empty() bool {
	if r == nil {
		return true
	}
	return len(r.IncludeLabels) == 0 &&
		len(r.ExcludeLabels) == 0 &&
		len(r.IncludeCategories) == 0 &&
		len(r.ExcludeCategories) == 0 &&
		len(r.Priorities) == 0
}

// Admit reports whether the ticket passes every configured field check.
func (r *RuleSet) Admit(t ticket.Ticket) bool {
	if r == nil {
		return true
	}
	if len(r.IncludeLabels) > 0 && !intersects(t.LabelIDs, r.IncludeLabels) {
		return false
	}
	if len(r.ExcludeLabels) > 0 && intersects(t.LabelIDs, r.ExcludeLabels) {
		return false
	}
	if len(r.IncludeCategories) > 0 && !intersects(t.CategoryIDs, r.IncludeCategories) {
		return false
	}
	if len(r.ExcludeCategories) > 0 && intersects(t.CategoryIDs, r.ExcludeCategories) {
		return false
	}
	if len(r.Priorities) > 0 && !contains(r.Priorities, t.Priority) {
		return false
	}
	return true
}

// Apply returns the admitted subset of tickets, preserving order.
func (r *RuleSet) Apply(ts []ticket.Ticket) []ticket.Ticket {
	if r.Empty() {
		return ts
	}
	out := make([]ticket.Ticket, 0, len(ts))
	for _, t := range ts {
		if r.Admit(t) {
			out = append(out, t)
		}
	}
	return out
}

func intersects(have, want []int) bool {
	if len(have) == 0 || len(want) == 0 {
		return false
	}
	set := make(map[int]struct{}, len(want))
	for _, v := range want {
		set[v] = struct{}{}
	}
	for _, v := range have {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

func contains(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
