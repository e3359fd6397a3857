package swarm

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrMembership is the root of every rejected membership request.
	ErrMembership = errors.New("swarm: membership fault")
	// ErrProtocol is the root of rendezvous and party-count failures.
	ErrProtocol = errors.New("swarm: protocol fault")

	ErrIndexOutOfRange  = fmt.Errorf("%w: index out of range", ErrMembership)
	ErrDispatchInFlight = fmt.Errorf("%w: dispatch in flight", ErrMembership)
	ErrFleetClosed      = fmt.Errorf("%w: fleet closed", ErrMembership)
	ErrEmptyFleet       = fmt.Errorf("%w: empty fleet", ErrMembership)
	ErrNilHandle        = fmt.Errorf("%w: nil handle", ErrMembership)

	ErrRendezvousTimeout = fmt.Errorf("%w: rendezvous timeout", ErrProtocol)
	ErrBarrierBroken     = fmt.Errorf("%w: barrier broken", ErrProtocol)
	ErrPartyMismatch     = fmt.Errorf("%w: party count mismatch", ErrProtocol)

	ErrNoRound     = errors.New("swarm: not running inside a dispatch round")
	ErrNoEstimator = errors.New("swarm: no localization estimator configured")
)

type FaultKind string

const (
	FaultError    FaultKind = "error"
	FaultPanic    FaultKind = "panic"
	FaultCanceled FaultKind = "canceled"
)

// AgentFault is a failure isolated to one agent. It is recorded in that
// agent's Outcome and never aborts the round.
type AgentFault struct {
	Index   int
	AgentID uint64
	Op      string
	Kind    FaultKind
	Err     error
}

func (f *AgentFault) Error() string {
	return fmt.Sprintf("swarm: agent %d (id %d) %s %s: %v", f.Index, f.AgentID, f.Op, f.Kind, f.Err)
}

func (f *AgentFault) Unwrap() error {
	return f.Err
}

func classify(err error) FaultKind {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return FaultCanceled
	}
	return FaultError
}
