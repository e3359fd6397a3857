package swarm

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/danmuck/flockctl/internal/drone"
	"github.com/danmuck/flockctl/internal/observability"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	ModeAll        = "all"
	ModeOne        = "one"
	ModeNext       = "next"
	ModeConcurrent = "concurrent"
)

var ErrNilCommand = errors.New("swarm: nil command")

// CallAll runs cmd once on every agent and returns after every worker has
// passed the exit rendezvous. Agent faults land in the Results; the error
// is reserved for membership and protocol faults.
func (f *Fleet) CallAll(ctx context.Context, cmd Command) (Results, error) {
	f.dispatchMu.Lock()
	defer f.dispatchMu.Unlock()
	return f.callAll(ctx, "call_all", cmd)
}

// CallOne runs cmd on the agent at index with the same rendezvous contract
// as CallAll.
func (f *Fleet) CallOne(ctx context.Context, index int, cmd Command) (Outcome, error) {
	f.dispatchMu.Lock()
	defer f.dispatchMu.Unlock()
	return f.callOne(ctx, ModeOne, "call_one", index, cmd)
}

// CallNext runs cmd on the agent under the round-robin cursor and advances
// the cursor.
func (f *Fleet) CallNext(ctx context.Context, cmd Command) (Outcome, error) {
	f.dispatchMu.Lock()
	defer f.dispatchMu.Unlock()
	n := f.Size()
	if n == 0 {
		return Outcome{}, ErrEmptyFleet
	}
	index := f.cursor % n
	f.cursor = (index + 1) % n
	return f.callOne(ctx, ModeNext, "call_next", index, cmd)
}

// InvokeOnAll checks a capability against the registry and broadcasts it.
// Each Outcome.Value holds the agent's reply string.
func (f *Fleet) InvokeOnAll(ctx context.Context, name string, args ...string) (Results, error) {
	if _, err := f.cfg.Registry.Check(name, args); err != nil {
		return nil, err
	}
	f.dispatchMu.Lock()
	defer f.dispatchMu.Unlock()
	return f.callAll(ctx, "invoke:"+name, Invoke(name, args...))
}

// Invoke wraps one capability call as a Command.
func Invoke(name string, args ...string) Command {
	return func(ctx context.Context, _ int, h drone.Handle) (any, error) {
		return h.Invoke(ctx, name, args...)
	}
}

// Connect connects every handle with the configured retry policy.
func (f *Fleet) Connect(ctx context.Context) (Results, error) {
	attempts, backoff := f.cfg.ConnectAttempts, f.cfg.Backoff
	f.dispatchMu.Lock()
	defer f.dispatchMu.Unlock()
	return f.callAll(ctx, "connect", func(ctx context.Context, index int, h drone.Handle) (any, error) {
		rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(index)))
		return nil, drone.ConnectWithRetry(ctx, h, attempts, backoff, rng)
	})
}

// CallAllConcurrent runs cmd on every agent without rendezvous. At most
// Config.Concurrency commands are outstanding at once. Each command still
// runs on its agent's worker.
func (f *Fleet) CallAllConcurrent(ctx context.Context, cmd Command) (Results, error) {
	if cmd == nil {
		return nil, ErrNilCommand
	}
	f.dispatchMu.Lock()
	defer f.dispatchMu.Unlock()

	workers, err := f.members()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	results := make(Results, len(workers))
	limit := f.cfg.Concurrency
	if limit <= 0 || limit > len(workers) {
		limit = len(workers)
	}
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, w := range workers {
		g.Go(func() error {
			done := make(chan Outcome, 1)
			w.queue.push(&job{ctx: ctx, cmd: cmd, op: "call_all_concurrent", index: i, done: done})
			select {
			case out := <-done:
				results[i] = out
				return nil
			case <-f.closing:
				results[i] = Outcome{Index: i, AgentID: w.id, Addr: w.addr, Err: ErrFleetClosed}
				return ErrFleetClosed
			case <-ctx.Done():
				results[i] = Outcome{Index: i, AgentID: w.id, Addr: w.addr, Err: ctx.Err()}
				return ctx.Err()
			}
		})
	}
	if err := g.Wait(); err != nil {
		err = fmt.Errorf("swarm: concurrent dispatch: %w", err)
		f.finish(ModeConcurrent, "", "call_all_concurrent", results, err, time.Since(start))
		return results, err
	}
	f.finish(ModeConcurrent, "", "call_all_concurrent", results, nil, time.Since(start))
	return results, nil
}

func (f *Fleet) callAll(ctx context.Context, op string, cmd Command) (Results, error) {
	workers, err := f.members()
	if err != nil {
		return nil, err
	}
	targets := make([]int, len(workers))
	for i := range targets {
		targets[i] = i
	}
	return f.dispatch(ctx, ModeAll, op, workers, targets, cmd)
}

func (f *Fleet) callOne(ctx context.Context, mode, op string, index int, cmd Command) (Outcome, error) {
	workers, err := f.members()
	if err != nil {
		return Outcome{}, err
	}
	if index < 0 || index >= len(workers) {
		return Outcome{}, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, index, len(workers))
	}
	results, err := f.dispatch(ctx, mode, op, workers, []int{index}, cmd)
	if len(results) == 0 {
		return Outcome{}, err
	}
	return results[0], err
}

// dispatch runs one barrier round. The caller is the extra party on both
// the entry and exit barriers. Any rendezvous failure aborts the round so no
// worker is left waiting on it.
func (f *Fleet) dispatch(ctx context.Context, mode, op string, workers []*worker, targets []int, cmd Command) (Results, error) {
	if cmd == nil {
		return nil, ErrNilCommand
	}
	r := newRound(mode, len(targets), f.cfg.RendezvousTimeout)
	if err := f.begin(r); err != nil {
		return nil, err
	}
	defer f.end(r)
	start := time.Now()
	for slot, index := range targets {
		w := workers[index]
		r.results[slot] = Outcome{Index: index, AgentID: w.id, Addr: w.addr, Err: ErrBarrierBroken}
		w.queue.push(&job{ctx: ctx, cmd: cmd, op: op, index: index, round: r, slot: slot})
	}

	err := waitPhase(ctx, r.entry, r.timeout)
	if err == nil {
		err = waitPhase(ctx, r.exit, r.timeout)
	}
	if err != nil {
		r.abort()
	}
	results := r.snapshot()
	f.finish(mode, r.id, op, results, err, time.Since(start))
	return results, err
}

func (f *Fleet) finish(mode, roundID, op string, results Results, err error, elapsed time.Duration) {
	outcome := "ok"
	failed := len(results.Failed())
	switch {
	case err != nil:
		outcome = "protocol_fault"
	case failed > 0:
		outcome = "agent_fault"
	}
	observability.RecordRound(mode, outcome, elapsed)

	ev := log.Debug()
	if err != nil {
		ev = log.Warn().Err(err)
	}
	ev.Str("round", roundID).
		Str("mode", mode).
		Str("op", op).
		Int("targets", len(results)).
		Int("failed", failed).
		Dur("elapsed", elapsed).
		Msg("swarm.Fleet round finished")
}
