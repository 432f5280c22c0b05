package reconcile

import (
	"context"
	"fmt"
	"slices"

	"github.com/c0deZ3R0/listsync/errors"
	"github.com/c0deZ3R0/listsync/model"
)

// StrategyRules is the name reported by Rules.
const StrategyRules = "rules"

// Spec is a predicate used to match conflicts to rules.
type Spec func(Conflict) bool

// And matches when both specs match.
func And(a, b Spec) Spec {
	return func(c Conflict) bool { return a != nil && b != nil && a(c) && b(c) }
}

// Or matches when either spec matches.
func Or(a, b Spec) Spec {
	return func(c Conflict) bool { return (a != nil && a(c)) || (b != nil && b(c)) }
}

// Not negates a.
func Not(a Spec) Spec { return func(c Conflict) bool { return a == nil || !a(c) } }

// KindIs matches conflicts of any of the given kinds.
func KindIs(kinds ...ConflictKind) Spec {
	return func(c Conflict) bool { return slices.Contains(kinds, c.Kind) }
}

// EntityIs matches conflicts on entities of kind k.
func EntityIs(k model.Kind) Spec {
	return func(c Conflict) bool { return c.EntityKind == k }
}

// FieldIn matches conflicts on any of the given fields.
func FieldIn(fields ...string) Spec {
	return func(c Conflict) bool { return slices.Contains(fields, c.Field) }
}

// Rule binds a Spec to the Strategy that resolves what it matches.
type Rule struct {
	Name     string
	Match    Spec
	Strategy Strategy
}

// Rules dispatches each conflict to the first matching rule's strategy and
// to the fallback when none matches.
type Rules struct {
	rules    []Rule
	fallback Strategy
}

var _ Strategy = (*Rules)(nil)

// NewRules validates rules. A nil fallback selects LastWriteWins.
func NewRules(fallback Strategy, rules ...Rule) (*Rules, error) {
	for i, r := range rules {
		if r.Match == nil || r.Strategy == nil {
			return nil, &errors.SyncError{
				Op:        errors.OpConfig,
				Component: "reconcile",
				Kind:      errors.KindInvalid,
				Err:       fmt.Errorf("rule %d (%q) needs a matcher and a strategy", i, r.Name),
			}
		}
	}
	if fallback == nil {
		fallback = LastWriteWins{}
	}
	return &Rules{rules: slices.Clone(rules), fallback: fallback}, nil
}

func (*Rules) Name() string { return StrategyRules }

func (r *Rules) Resolve(ctx context.Context, c Conflict) (Resolution, error) {
	for _, rule := range r.rules {
		if !rule.Match(c) {
			continue
		}
		res, err := rule.Strategy.Resolve(ctx, c)
		if err != nil {
			return Resolution{}, err
		}
		res.Reason = fmt.Sprintf("rule %s: %s", rule.Name, res.Reason)
		return res, nil
	}
	return r.fallback.Resolve(ctx, c)
}
