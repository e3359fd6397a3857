package swarm

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/danmuck/flockctl/internal/drone"
)

const (
	HealthOK    = "ok"
	HealthFault = "fault"
)

var ErrBadTelemetry = errors.New("swarm: malformed telemetry")

// Health is one agent's health check entry. Battery is -1 when unknown.
type Health struct {
	Index   int    `json:"index"`
	AgentID uint64 `json:"agent_id"`
	Addr    string `json:"addr"`
	OK      bool   `json:"ok"`
	Battery int    `json:"battery"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Err     error  `json:"-"`
}

// HealthCheck queries battery telemetry on every agent. A failing agent is
// flagged in its entry; it never fails the check as a whole.
func (f *Fleet) HealthCheck(ctx context.Context) ([]Health, error) {
	f.dispatchMu.Lock()
	defer f.dispatchMu.Unlock()

	results, err := f.callAll(ctx, "health_check", func(ctx context.Context, _ int, h drone.Handle) (any, error) {
		raw, err := h.Telemetry(ctx, drone.FieldBattery)
		if err != nil {
			return nil, err
		}
		pct, perr := strconv.Atoi(strings.TrimSpace(raw))
		if perr != nil {
			return nil, fmt.Errorf("%w: battery %q", ErrBadTelemetry, raw)
		}
		return pct, nil
	})

	out := make([]Health, len(results))
	for i, res := range results {
		entry := Health{
			Index:   res.Index,
			AgentID: res.AgentID,
			Addr:    res.Addr,
			Battery: -1,
			Status:  HealthOK,
			OK:      res.Err == nil,
		}
		if res.Err != nil {
			entry.Status = HealthFault
			entry.Err = res.Err
			entry.Error = res.Err.Error()
		} else if pct, ok := res.Value.(int); ok {
			entry.Battery = pct
		}
		out[i] = entry
	}
	return out, err
}
