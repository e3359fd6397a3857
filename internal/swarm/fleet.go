package swarm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/flockctl/internal/drone"
	"github.com/danmuck/flockctl/internal/observability"
	"github.com/danmuck/flockctl/internal/vision"
	"github.com/rs/zerolog/log"
)

const (
	DefaultRendezvousTimeout = 30 * time.Second
	DefaultStopTimeout       = 5 * time.Second
	DefaultConnectAttempts   = 3
)

// Config tunes a Fleet. A zero RendezvousTimeout waits without bound.
type Config struct {
	RendezvousTimeout time.Duration
	StopTimeout       time.Duration
	Concurrency       int
	ConnectAttempts   int
	Backoff           drone.BackoffConfig
	Registry          *drone.Registry
	Estimator         *vision.Estimator
}

func DefaultConfig() Config {
	return Config{
		RendezvousTimeout: DefaultRendezvousTimeout,
		StopTimeout:       DefaultStopTimeout,
		ConnectAttempts:   DefaultConnectAttempts,
		Backoff:           drone.DefaultBackoff(),
		Registry:          drone.DefaultRegistry(),
	}
}

func (c Config) normalized() Config {
	if c.RendezvousTimeout < 0 {
		c.RendezvousTimeout = 0
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.ConnectAttempts < 1 {
		c.ConnectAttempts = 1
	}
	if c.Registry == nil {
		c.Registry = drone.DefaultRegistry()
	}
	return c
}

type Option func(*Config)

func WithRendezvousTimeout(d time.Duration) Option {
	return func(c *Config) { c.RendezvousTimeout = d }
}

func WithStopTimeout(d time.Duration) Option {
	return func(c *Config) { c.StopTimeout = d }
}

// WithConcurrency bounds CallAllConcurrent; 0 means one slot per agent.
func WithConcurrency(n int) Option {
	return func(c *Config) { c.Concurrency = n }
}

func WithConnectRetry(attempts int, backoff drone.BackoffConfig) Option {
	return func(c *Config) {
		c.ConnectAttempts = attempts
		c.Backoff = backoff
	}
}

func WithRegistry(r *drone.Registry) Option {
	return func(c *Config) { c.Registry = r }
}

func WithEstimator(e *vision.Estimator) Option {
	return func(c *Config) { c.Estimator = e }
}

// AgentInfo describes one member. Index is the compact roster position and
// shifts down when an earlier agent is removed; ID never changes.
type AgentInfo struct {
	Index  int       `json:"index"`
	ID     uint64    `json:"id"`
	Addr   string    `json:"addr"`
	Joined time.Time `json:"joined"`
}

// CloseReport lists the agents whose handle failed to disconnect.
type CloseReport struct {
	Disconnected int
	Failures     []*AgentFault
}

func (r CloseReport) Err() error {
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, f)
	}
	return errors.Join(errs...)
}

// Fleet runs one worker per agent and dispatches commands to them in
// barrier rounds. dispatchMu serializes rounds and excludes membership
// changes; mu guards the roster, the live round and the closed flag.
type Fleet struct {
	cfg Config

	dispatchMu sync.Mutex
	cursor     int

	mu      sync.RWMutex
	workers []*worker
	parties int
	live    *round
	closed  bool
	closing chan struct{}

	nextID      atomic.Uint64
	closeOnce   sync.Once
	closeReport CloseReport
}

type member struct {
	handle drone.Handle
	addr   string
}

type addresser interface {
	Addr() string
}

func addrOf(h drone.Handle) string {
	if a, ok := h.(addresser); ok {
		return a.Addr()
	}
	return ""
}

// New starts one worker per handle. Handles are owned by the fleet from here
// on and must not be used by the caller.
func New(handles []drone.Handle, opts ...Option) (*Fleet, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewWithConfig(cfg, handles)
}

func NewWithConfig(cfg Config, handles []drone.Handle) (*Fleet, error) {
	members := make([]member, 0, len(handles))
	for i, h := range handles {
		if h == nil {
			return nil, fmt.Errorf("%w: handle %d", ErrNilHandle, i)
		}
		members = append(members, member{handle: h, addr: addrOf(h)})
	}
	return newFleet(cfg, members), nil
}

// NewFromAddresses dials every address. Handles come back unconnected; call
// Connect before dispatching capabilities.
func NewFromAddresses(ctx context.Context, dial drone.Dialer, addrs []string, opts ...Option) (*Fleet, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	members := make([]member, 0, len(addrs))
	for _, addr := range addrs {
		h, err := dial(ctx, addr)
		if err == nil && h == nil {
			err = ErrNilHandle
		}
		if err != nil {
			releaseMembers(members, cfg.normalized().StopTimeout)
			return nil, fmt.Errorf("swarm: dial %q: %w", addr, err)
		}
		members = append(members, member{handle: h, addr: addr})
	}
	return newFleet(cfg, members), nil
}

// releaseMembers disconnects handles dialed before a construction failure.
func releaseMembers(members []member, timeout time.Duration) {
	for _, m := range members {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := m.handle.Disconnect(ctx); err != nil {
			log.Warn().Str("addr", m.addr).Err(err).Msg("swarm.Fleet dial cleanup disconnect failed")
		}
		cancel()
	}
}

// NewFromAddressString accepts the double-space separated address form.
func NewFromAddressString(ctx context.Context, dial drone.Dialer, raw string, opts ...Option) (*Fleet, error) {
	return NewFromAddresses(ctx, dial, drone.ParseAddressList(raw), opts...)
}

func newFleet(cfg Config, members []member) *Fleet {
	f := &Fleet{cfg: cfg.normalized(), closing: make(chan struct{})}
	f.mu.Lock()
	for _, m := range members {
		f.workers = append(f.workers, f.spawn(m.handle, m.addr))
	}
	f.parties = len(f.workers) + 1
	n := len(f.workers)
	f.mu.Unlock()

	observability.SetFleetSize(n)
	log.Info().
		Int("agents", n).
		Dur("rendezvous_timeout", f.cfg.RendezvousTimeout).
		Msg("swarm.Fleet started")
	return f
}

func (f *Fleet) spawn(h drone.Handle, addr string) *worker {
	w := newWorker(f.nextID.Add(1), addr, h, f.cfg.StopTimeout)
	w.start()
	return w
}

func (f *Fleet) Config() Config {
	return f.cfg
}

// AddAgent appends h as the last member. It fails with ErrDispatchInFlight
// while a round is running.
func (f *Fleet) AddAgent(h drone.Handle) (AgentInfo, error) {
	if h == nil {
		return AgentInfo{}, ErrNilHandle
	}
	if !f.dispatchMu.TryLock() {
		return AgentInfo{}, ErrDispatchInFlight
	}
	defer f.dispatchMu.Unlock()

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return AgentInfo{}, ErrFleetClosed
	}
	w := f.spawn(h, addrOf(h))
	f.workers = append(f.workers, w)
	f.parties = len(f.workers) + 1
	info := w.info(len(f.workers) - 1)
	n := len(f.workers)
	f.mu.Unlock()

	observability.SetFleetSize(n)
	log.Info().Int("agent", info.Index).Uint64("agent_id", info.ID).Str("addr", info.Addr).Msg("swarm.Fleet agent added")
	return info, nil
}

// RemoveAgent stops the worker at index and releases its handle. Agents
// after index shift down by one. A failed disconnect is returned as an
// AgentFault after the agent has already left the roster.
func (f *Fleet) RemoveAgent(index int) error {
	if !f.dispatchMu.TryLock() {
		return ErrDispatchInFlight
	}
	defer f.dispatchMu.Unlock()

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFleetClosed
	}
	if index < 0 || index >= len(f.workers) {
		n := len(f.workers)
		f.mu.Unlock()
		return fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, index, n)
	}
	w := f.workers[index]
	f.workers = slices.Delete(f.workers, index, index+1)
	f.parties = len(f.workers) + 1
	n := len(f.workers)
	f.mu.Unlock()

	switch {
	case index < f.cursor:
		f.cursor--
	case f.cursor >= n:
		f.cursor = 0
	}
	observability.SetFleetSize(n)
	log.Info().Int("agent", index).Uint64("agent_id", w.id).Str("addr", w.addr).Msg("swarm.Fleet agent removed")

	if err := w.shutdown(); err != nil {
		return &AgentFault{Index: index, AgentID: w.id, Op: "disconnect", Kind: classify(err), Err: err}
	}
	return nil
}

func (f *Fleet) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.workers)
}

// Agents returns a snapshot of the roster in index order.
func (f *Fleet) Agents() []AgentInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]AgentInfo, len(f.workers))
	for i, w := range f.workers {
		out[i] = w.info(i)
	}
	return out
}

// All iterates a roster snapshot taken when iteration starts.
func (f *Fleet) All() iter.Seq2[int, AgentInfo] {
	return func(yield func(int, AgentInfo) bool) {
		for i, info := range f.Agents() {
			if !yield(i, info) {
				return
			}
		}
	}
}

// Close stops every worker after its current command and releases every
// handle. A round still in flight is aborted, so its dispatcher returns
// ErrBarrierBroken; Close itself is bounded by twice the stop timeout and is
// safe to call repeatedly.
func (f *Fleet) Close() CloseReport {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		workers := f.workers
		live := f.live
		f.workers = nil
		f.parties = 1
		f.live = nil
		f.closed = true
		close(f.closing)
		f.mu.Unlock()

		if live != nil {
			live.abort()
			log.Warn().Str("round", live.id).Str("mode", live.mode).Msg("swarm.Fleet closing, aborted in-flight round")
		}

		errs := make([]error, len(workers))
		var wg sync.WaitGroup
		for i, w := range workers {
			wg.Go(func() {
				errs[i] = w.shutdown()
			})
		}
		wg.Wait()

		report := CloseReport{}
		for i, err := range errs {
			if err == nil {
				report.Disconnected++
				continue
			}
			w := workers[i]
			report.Failures = append(report.Failures, &AgentFault{
				Index: i, AgentID: w.id, Op: "disconnect", Kind: classify(err), Err: err,
			})
		}
		f.closeReport = report
		observability.SetFleetSize(0)
		log.Info().
			Int("disconnected", report.Disconnected).
			Int("failed", len(report.Failures)).
			Msg("swarm.Fleet closed")
	})
	return f.closeReport
}

// begin registers r as the live round so Close can abort it. It fails once
// the fleet is closed.
func (f *Fleet) begin(r *round) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrFleetClosed
	}
	f.live = r
	return nil
}

func (f *Fleet) end(r *round) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.live == r {
		f.live = nil
	}
}

// members snapshots the roster for one round and checks the party count.
func (f *Fleet) members() ([]*worker, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, ErrFleetClosed
	}
	if f.parties != len(f.workers)+1 {
		return nil, fmt.Errorf("%w: parties=%d agents=%d", ErrPartyMismatch, f.parties, len(f.workers))
	}
	return slices.Clone(f.workers), nil
}

func (w *worker) info(index int) AgentInfo {
	return AgentInfo{Index: index, ID: w.id, Addr: w.addr, Joined: w.joined}
}
