// Package fsm holds the transition tables for every status field in the
// marketplace. Entities never assign a status directly; they ask the table.
package fsm

import (
	"github.com/sudo-init-do/wastex/internal/apperr"
)

// Table lists, per state, the states it may move to.
type Table[S ~string] struct {
	entity   string
	next     map[S][]S
	terminal map[S]bool
}

type Edge[S ~string] struct {
	From S
	To   []S
}

func On[S ~string](from S, to ...S) Edge[S] {
	return Edge[S]{From: from, To: to}
}

func New[S ~string](entity string, edges ...Edge[S]) *Table[S] {
	t := &Table[S]{entity: entity, next: map[S][]S{}, terminal: map[S]bool{}}
	for _, e := range edges {
		t.next[e.From] = append(t.next[e.From], e.To...)
	}
	return t
}

// Terminal marks states with no way out. Terminal states may still appear
// as sources in edges (none should).
func (t *Table[S]) Terminal(states ...S) *Table[S] {
	for _, s := range states {
		t.terminal[s] = true
	}
	return t
}

func (t *Table[S]) IsTerminal(s S) bool { return t.terminal[s] }

func (t *Table[S]) Can(from, to S) bool {
	for _, s := range t.next[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Check returns an illegal_transition conflict when from -> to is not in the
// table.
func (t *Table[S]) Check(from, to S) error {
	if t.Can(from, to) {
		return nil
	}
	return apperr.Conflict(apperr.CodeIllegalTransition,
		"%s cannot move from %q to %q", t.entity, from, to)
}
