package reconcile

import (
	"slices"
	"sort"
	"time"

	"github.com/c0deZ3R0/listsync/model"
)

// scopeOrder computes the post-merge order of one parent scope. members
// holds the ids that survive the merge. primary and secondary are the
// sides' own orderings of the scope; ids found in neither keep their
// relative id order at the end.
func scopeOrder(members map[string]bool, primary, secondary []string) []string {
	rank := make(map[string]int, len(members))
	next := 0
	for _, seq := range [][]string{primary, secondary} {
		for _, id := range seq {
			if !members[id] {
				continue
			}
			if _, ok := rank[id]; ok {
				continue
			}
			rank[id] = next
			next++
		}
	}

	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, iok := rank[out[i]]
		rj, jok := rank[out[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return out[i] < out[j]
		}
	})
	return out
}

// scopeSide describes one side's view of a scope.
type scopeSide[T model.Entity] struct {
	entities []T
	latest   time.Time
}

func newScopeSide[T model.Entity](entities []T, fallback time.Time) scopeSide[T] {
	s := scopeSide[T]{entities: entities, latest: fallback}
	for _, e := range entities {
		if e.LastModified().After(s.latest) {
			s.latest = e.LastModified()
		}
	}
	return s
}

func (s scopeSide[T]) ids() []string {
	sorted := append([]T(nil), s.entities...)
	model.SortByOrder(sorted)
	out := make([]string, len(sorted))
	for i, e := range sorted {
		out[i] = e.EntityID()
	}
	return out
}

// orderingSide decides whose relative order a scope keeps. Imports always
// keep the local order. Syncs keep the order of the side holding more
// entities in the scope, then the side with the most recent modification.
// A remaining tie goes to the side the strategy always keeps, if it has
// one, and otherwise to the side whose order sorts first by id, so the
// outcome does not depend on which side is local.
func orderingSide[T model.Entity](mode Mode, tie Side, local, incoming scopeSide[T]) Side {
	if mode == ModeImport {
		return SideLocal
	}
	switch {
	case len(local.entities) > len(incoming.entities):
		return SideLocal
	case len(incoming.entities) > len(local.entities):
		return SideIncoming
	case local.latest.After(incoming.latest):
		return SideLocal
	case incoming.latest.After(local.latest):
		return SideIncoming
	case tie != "":
		return tie
	case slices.Compare(local.ids(), incoming.ids()) <= 0:
		return SideLocal
	default:
		return SideIncoming
	}
}

// keptSide returns the side s always keeps, or "" when it decides per
// conflict.
func keptSide(s Strategy) Side {
	switch s.(type) {
	case ServerWins, *ServerWins:
		return SideIncoming
	case ClientWins, *ClientWins:
		return SideLocal
	default:
		return ""
	}
}

// renumber returns the dense 0..n-1 order for the scope.
func renumber[T model.Entity](mode Mode, tie Side, members map[string]bool, local, incoming scopeSide[T]) map[string]int {
	var seq []string
	if orderingSide(mode, tie, local, incoming) == SideLocal {
		seq = scopeOrder(members, local.ids(), incoming.ids())
	} else {
		seq = scopeOrder(members, incoming.ids(), local.ids())
	}
	out := make(map[string]int, len(seq))
	for i, id := range seq {
		out[id] = i
	}
	return out
}
