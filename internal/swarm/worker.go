package swarm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/danmuck/flockctl/internal/drone"
	"github.com/danmuck/flockctl/internal/observability"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Command runs on one agent's worker with that agent's handle. index is the
// agent's compact fleet index when the round was dispatched.
type Command func(ctx context.Context, index int, h drone.Handle) (any, error)

type job struct {
	ctx   context.Context
	cmd   Command
	op    string
	index int
	round *round
	slot  int
	done  chan Outcome
}

type roundKey struct{}

// round is one barrier dispatch. Barriers are sized to its targets plus the
// dispatching caller; peers excludes the caller.
type round struct {
	id      string
	mode    string
	timeout time.Duration
	entry   *Barrier
	exit    *Barrier
	peers   *Barrier

	mu      sync.Mutex
	results []Outcome
}

func newRound(mode string, targets int, timeout time.Duration) *round {
	return &round{
		id:      uuid.NewString(),
		mode:    mode,
		timeout: timeout,
		entry:   NewBarrier(targets + 1),
		exit:    NewBarrier(targets + 1),
		peers:   NewBarrier(targets),
		results: make([]Outcome, targets),
	}
}

func (r *round) record(slot int, out Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[slot] = out
}

func (r *round) snapshot() Results {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.results)
}

func (r *round) abort() {
	r.entry.Break()
	r.exit.Break()
	r.peers.Break()
}

// Sync blocks a running command until every other command of the same
// broadcast round has also called Sync. Outside a round it returns ErrNoRound.
func Sync(ctx context.Context) error {
	r, ok := ctx.Value(roundKey{}).(*round)
	if !ok || r == nil {
		return ErrNoRound
	}
	return waitPhase(ctx, r.peers, r.timeout)
}

// RoundID returns the dispatch round id carried by a command context.
func RoundID(ctx context.Context) (string, bool) {
	r, ok := ctx.Value(roundKey{}).(*round)
	if !ok || r == nil {
		return "", false
	}
	return r.id, true
}

// worker owns one agent handle. Only its goroutine calls the handle, except
// for the forced release when a stop outlives the stop timeout.
type worker struct {
	id          uint64
	addr        string
	joined      time.Time
	handle      drone.Handle
	queue       *jobQueue
	stopTimeout time.Duration

	ctx      context.Context
	cancel   context.CancelFunc
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	releaseOnce sync.Once
	releaseErr  error
}

func newWorker(id uint64, addr string, h drone.Handle, stopTimeout time.Duration) *worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &worker{
		id:          id,
		addr:        addr,
		joined:      time.Now(),
		handle:      h,
		queue:       newJobQueue(),
		stopTimeout: stopTimeout,
		ctx:         ctx,
		cancel:      cancel,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

func (w *worker) start() {
	go w.loop()
}

func (w *worker) loop() {
	defer close(w.done)
	log.Debug().Uint64("agent_id", w.id).Str("addr", w.addr).Msg("swarm.worker started")
	for {
		j, ok := w.queue.pop(w.ctx, w.stop)
		if !ok {
			break
		}
		w.process(j)
	}
	w.abandon()
	w.release()
	log.Debug().Uint64("agent_id", w.id).Msg("swarm.worker stopped")
}

func (w *worker) process(j *job) {
	ctx, cancel := context.WithCancel(j.ctx)
	defer cancel()
	stopAfter := context.AfterFunc(w.ctx, cancel)
	defer stopAfter()

	r := j.round
	if r == nil {
		j.done <- w.execute(ctx, j)
		return
	}

	// Workers wait without their own deadline: the dispatching caller owns
	// the rendezvous timeout and aborts the round when it fires.
	ctx = context.WithValue(ctx, roundKey{}, r)
	if err := r.entry.Wait(ctx); err != nil {
		r.record(j.slot, Outcome{Index: j.index, AgentID: w.id, Addr: w.addr, Err: err})
		log.Debug().Str("round", r.id).Int("agent", j.index).Err(err).Msg("swarm.worker entry rendezvous failed")
		return
	}
	r.record(j.slot, w.execute(ctx, j))
	// No more Sync calls can complete once one party has finished.
	r.peers.Break()
	if err := r.exit.Wait(ctx); err != nil {
		log.Debug().Str("round", r.id).Int("agent", j.index).Err(err).Msg("swarm.worker exit rendezvous failed")
	}
}

// execute runs the command and converts every failure, panics included,
// into an AgentFault on the returned Outcome.
func (w *worker) execute(ctx context.Context, j *job) (out Outcome) {
	start := time.Now()
	out = Outcome{Index: j.index, AgentID: w.id, Addr: w.addr}
	defer func() {
		if rec := recover(); rec != nil {
			out.Value = nil
			out.Err = w.fault(j, FaultPanic, fmt.Errorf("panic: %v", rec))
		}
		out.Duration = time.Since(start)
		var fault *AgentFault
		if errors.As(out.Err, &fault) {
			observability.RecordAgentFault(string(fault.Kind))
			log.Warn().
				Int("agent", j.index).
				Uint64("agent_id", w.id).
				Str("op", j.op).
				Str("kind", string(fault.Kind)).
				Err(fault.Err).
				Msg("swarm.worker command fault")
		}
	}()

	value, err := j.cmd(ctx, j.index, w.handle)
	out.Value = value
	if err != nil {
		out.Err = w.fault(j, classify(err), err)
	}
	return out
}

func (w *worker) fault(j *job, kind FaultKind, err error) *AgentFault {
	return &AgentFault{Index: j.index, AgentID: w.id, Op: j.op, Kind: kind, Err: err}
}

// abandon fails every job still queued after a stop.
func (w *worker) abandon() {
	for _, j := range w.queue.drain() {
		out := Outcome{Index: j.index, AgentID: w.id, Addr: w.addr, Err: ErrFleetClosed}
		if j.round != nil {
			j.round.record(j.slot, out)
			continue
		}
		j.done <- out
	}
}

func (w *worker) release() {
	w.releaseOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.stopTimeout)
		defer cancel()
		w.releaseErr = w.handle.Disconnect(ctx)
		if w.releaseErr != nil {
			log.Warn().Uint64("agent_id", w.id).Str("addr", w.addr).Err(w.releaseErr).Msg("swarm.worker disconnect failed")
		}
	})
}

// shutdown lets the current command finish, then cancels it, then releases
// the handle regardless of whether the goroutine has exited.
func (w *worker) shutdown() error {
	w.stopOnce.Do(func() { close(w.stop) })
	if !w.await(w.stopTimeout) {
		log.Warn().Uint64("agent_id", w.id).Dur("timeout", w.stopTimeout).Msg("swarm.worker soft stop timed out, canceling")
		w.cancel()
		if !w.await(w.stopTimeout) {
			log.Warn().Uint64("agent_id", w.id).Msg("swarm.worker still busy, forcing handle release")
		}
	}
	w.cancel()
	w.release()
	return w.releaseErr
}

func (w *worker) await(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-w.done:
		return true
	case <-timer.C:
		return false
	}
}
