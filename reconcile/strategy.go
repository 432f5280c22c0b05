package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/c0deZ3R0/listsync/errors"
)

// Side names one of the two snapshots being reconciled. In the sync path the
// incoming side is the server.
type Side string

const (
	SideLocal    Side = "local"
	SideIncoming Side = "incoming"
)

// Other returns the opposite side.
func (s Side) Other() Side {
	if s == SideLocal {
		return SideIncoming
	}
	return SideLocal
}

// Resolution is a strategy's answer for one conflict. Pending means the
// conflict waits for a user decision.
type Resolution struct {
	Winner  Side
	Pending bool
	Reason  string
}

// Strategy resolves a conflict to a winning side.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, c Conflict) (Resolution, error)
}

// Strategy names accepted by StrategyByName.
const (
	StrategyLastWriteWins = "lastWriteWins"
	StrategyServerWins    = "serverWins"
	StrategyClientWins    = "clientWins"
	StrategyUserChoice    = "userChoice"
)

var (
	_ Strategy = LastWriteWins{}
	_ Strategy = ServerWins{}
	_ Strategy = ClientWins{}
	_ Strategy = (*UserChoice)(nil)
)

// LastWriteWins picks the side with the later modification time. Equal
// times prefer the incoming side.
type LastWriteWins struct{}

func (LastWriteWins) Name() string { return StrategyLastWriteWins }

func (LastWriteWins) Resolve(_ context.Context, c Conflict) (Resolution, error) {
	if c.LocalModifiedAt.After(c.IncomingModifiedAt) {
		return Resolution{Winner: SideLocal, Reason: "local newer"}, nil
	}
	if c.IncomingModifiedAt.After(c.LocalModifiedAt) {
		return Resolution{Winner: SideIncoming, Reason: "incoming newer"}, nil
	}
	return Resolution{Winner: SideIncoming, Reason: "equal timestamps, prefer incoming"}, nil
}

// ServerWins always keeps the incoming value.
type ServerWins struct{}

func (ServerWins) Name() string { return StrategyServerWins }

func (ServerWins) Resolve(context.Context, Conflict) (Resolution, error) {
	return Resolution{Winner: SideIncoming, Reason: "server wins"}, nil
}

// ClientWins always keeps the local value.
type ClientWins struct{}

func (ClientWins) Name() string { return StrategyClientWins }

func (ClientWins) Resolve(context.Context, Conflict) (Resolution, error) {
	return Resolution{Winner: SideLocal, Reason: "client wins"}, nil
}

// DecisionProvider supplies a user decision for a single conflict. Decide
// may block until the user answers or ctx is done.
type DecisionProvider interface {
	Decide(ctx context.Context, c Conflict) (Side, error)
}

// UserChoice defers conflicts to the user. Decisions already known are taken
// from Decisions. Without a Provider every other conflict is left pending so
// the caller can present the plan and resume later.
type UserChoice struct {
	Decisions map[string]Side
	Provider  DecisionProvider
}

func (*UserChoice) Name() string { return StrategyUserChoice }

func (u *UserChoice) Resolve(ctx context.Context, c Conflict) (Resolution, error) {
	if side, ok := u.Decisions[c.ID]; ok {
		return Resolution{Winner: side, Reason: "user decision"}, nil
	}
	if u.Provider == nil {
		return Resolution{Pending: true, Reason: "awaiting user decision"}, nil
	}
	side, err := u.Provider.Decide(ctx, c)
	if err != nil {
		if ctx.Err() != nil {
			return Resolution{}, errors.NewCancelled(errors.OpResolve, err)
		}
		return Resolution{}, errors.WrapOpComponent(err, string(errors.OpResolve), "reconcile")
	}
	return Resolution{Winner: side, Reason: "user decision"}, nil
}

// decided resolves conflicts from a decision set and hands anything the user
// left open to fallback. A fallback that still defers to the user is
// replaced by LastWriteWins.
type decided struct {
	decisions map[string]Side
	fallback  Strategy
}

func (d decided) Name() string { return StrategyUserChoice }

func (d decided) Resolve(ctx context.Context, c Conflict) (Resolution, error) {
	if side, ok := d.decisions[c.ID]; ok {
		return Resolution{Winner: side, Reason: "user decision"}, nil
	}
	r, err := d.fallback.Resolve(ctx, c)
	if err == nil && r.Pending {
		r, err = LastWriteWins{}.Resolve(ctx, c)
	}
	r.Reason = "no decision, " + r.Reason
	return r, err
}

// StrategyByName returns the strategy registered under name. Matching is
// case-insensitive; the empty name selects LastWriteWins.
func StrategyByName(name string) (Strategy, error) {
	switch strings.ToLower(name) {
	case "", strings.ToLower(StrategyLastWriteWins):
		return LastWriteWins{}, nil
	case strings.ToLower(StrategyServerWins):
		return ServerWins{}, nil
	case strings.ToLower(StrategyClientWins):
		return ClientWins{}, nil
	case strings.ToLower(StrategyUserChoice):
		return &UserChoice{}, nil
	}
	return nil, &errors.SyncError{
		Op:        errors.OpConfig,
		Component: "reconcile",
		Kind:      errors.KindInvalid,
		Err:       fmt.Errorf("unknown strategy %q", name),
	}
}

// DecisionRequest is sent on a ChannelDecider's channel for every conflict
// that needs an answer.
type DecisionRequest struct {
	Conflict Conflict
	Reply    chan<- Side
}

// ChannelDecider is a DecisionProvider backed by a channel, suitable for a UI
// goroutine that answers requests one at a time.
type ChannelDecider struct {
	Requests chan DecisionRequest
}

// NewChannelDecider creates a decider with an unbuffered request channel.
func NewChannelDecider() *ChannelDecider {
	return &ChannelDecider{Requests: make(chan DecisionRequest)}
}

func (d *ChannelDecider) Decide(ctx context.Context, c Conflict) (Side, error) {
	reply := make(chan Side, 1)
	select {
	case d.Requests <- DecisionRequest{Conflict: c, Reply: reply}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case side := <-reply:
		return side, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
