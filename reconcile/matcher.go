// Package reconcile detects divergence between a local snapshot and an
// incoming one (a remote replica or an import document) and produces a
// side-effect-free MergePlan that an Executor applies to the local store.
package reconcile

import "github.com/c0deZ3R0/listsync/model"

// MatchKind says which sides an entity was found on.
type MatchKind string

const (
	Matched      MatchKind = "matched"
	LocalOnly    MatchKind = "localOnly"
	IncomingOnly MatchKind = "incomingOnly"
)

// Pair is one matcher result. Local or Incoming is nil for one-sided entries.
type Pair[T model.Entity] struct {
	Local    *T
	Incoming *T
	Kind     MatchKind
}

// ID returns the identity shared by both sides of the pair.
func (p Pair[T]) ID() string {
	if p.Local != nil {
		return (*p.Local).EntityID()
	}
	return (*p.Incoming).EntityID()
}

// Match pairs entities purely by id. Entities that merely share a name are
// never merged. Results follow local order, then incoming-only entities in
// incoming order.
func Match[T model.Entity](local, incoming []T) []Pair[T] {
	byID := make(map[string]int, len(incoming))
	for i := range incoming {
		byID[incoming[i].EntityID()] = i
	}

	out := make([]Pair[T], 0, len(local)+len(incoming))
	used := make([]bool, len(incoming))
	for i := range local {
		l := &local[i]
		if j, ok := byID[(*l).EntityID()]; ok && !used[j] {
			used[j] = true
			out = append(out, Pair[T]{Local: l, Incoming: &incoming[j], Kind: Matched})
			continue
		}
		out = append(out, Pair[T]{Local: l, Kind: LocalOnly})
	}
	for j := range incoming {
		if !used[j] {
			out = append(out, Pair[T]{Incoming: &incoming[j], Kind: IncomingOnly})
		}
	}
	return out
}
