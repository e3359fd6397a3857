package swarm

import (
	"context"
	"errors"
	"strconv"

	"github.com/danmuck/flockctl/internal/drone"
	"github.com/danmuck/flockctl/internal/formation"
	"github.com/danmuck/flockctl/internal/vision"
	"github.com/rs/zerolog/log"
)

const (
	RoleLeader   = "leader"
	RoleFollower = "follower"
)

// FormationStep is the per-agent Outcome.Value of a formation round.
type FormationStep struct {
	Role    string
	Target  vision.Point3
	Args    []string
	Skipped bool
}

type FormationReport struct {
	Leader         int
	LeaderPosition vision.Point3
	Located        bool
	Skipped        []int
	Results        Results
}

// FlyInFormation localizes the leader, then in one round raises the leader
// by p.Distance and sends every follower to its ring position. Followers are
// skipped, not failed, when the leader cannot be located.
func (f *Fleet) FlyInFormation(ctx context.Context, p formation.Params) (FormationReport, error) {
	f.dispatchMu.Lock()
	defer f.dispatchMu.Unlock()

	n := f.Size()
	if err := p.Validate(n); err != nil {
		return FormationReport{}, err
	}
	report := FormationReport{Leader: p.Leader}

	pos, located, err := f.localize(ctx, p.Leader)
	var fault *AgentFault
	switch {
	case errors.As(err, &fault):
		log.Warn().Int("leader", p.Leader).Err(err).Msg("swarm.Fleet.FlyInFormation leader localization failed")
		located = false
	case err != nil:
		return report, err
	}
	report.LeaderPosition = pos
	report.Located = located
	if !located {
		log.Warn().Int("leader", p.Leader).Msg("swarm.Fleet.FlyInFormation leader not located, followers skipped")
	}

	results, err := f.callAll(ctx, "fly_in_formation", func(ctx context.Context, index int, h drone.Handle) (any, error) {
		if index == p.Leader {
			args := []string{strconv.Itoa(p.Distance)}
			_, err := h.Invoke(ctx, drone.CapMoveUp, args...)
			return FormationStep{Role: RoleLeader, Target: pos, Args: args}, err
		}
		if !located {
			return FormationStep{Role: RoleFollower, Skipped: true}, nil
		}
		target := formation.Target(pos, index, n, p)
		args := formation.GoArgs(target, p.Speed)
		_, err := h.Invoke(ctx, drone.CapGo, args...)
		return FormationStep{Role: RoleFollower, Target: target, Args: args}, err
	})
	report.Results = results
	for _, res := range results {
		if step, ok := res.Value.(FormationStep); ok && step.Skipped {
			report.Skipped = append(report.Skipped, res.Index)
		}
	}
	return report, err
}
