package swarm

import (
	"context"

	"github.com/danmuck/flockctl/internal/drone"
	"github.com/danmuck/flockctl/internal/observability"
	"github.com/danmuck/flockctl/internal/vision"
)

// Localize estimates the position of the agent at index from its latest
// camera frame. ok is false when nothing matched the landmarks; that is a
// normal outcome, not an error.
func (f *Fleet) Localize(ctx context.Context, index int) (vision.Point3, bool, error) {
	f.dispatchMu.Lock()
	defer f.dispatchMu.Unlock()
	return f.localize(ctx, index)
}

func (f *Fleet) localize(ctx context.Context, index int) (vision.Point3, bool, error) {
	est := f.cfg.Estimator
	if est == nil {
		return vision.Point3{}, false, ErrNoEstimator
	}
	out, err := f.callOne(ctx, ModeOne, "localize", index, func(ctx context.Context, _ int, h drone.Handle) (any, error) {
		src, ok := h.(drone.FrameSource)
		if !ok {
			return nil, drone.ErrNoFrameSource
		}
		frame, err := src.Frame(ctx)
		if err != nil {
			return nil, err
		}
		if e, ok := est.Estimate(frame); ok {
			return e, nil
		}
		return nil, nil
	})
	if err != nil {
		return vision.Point3{}, false, err
	}
	if out.Err != nil {
		observability.RecordLocalization("error")
		return vision.Point3{}, false, out.Err
	}
	e, ok := out.Value.(vision.Estimate)
	if !ok {
		observability.RecordLocalization("miss")
		return vision.Point3{}, false, nil
	}
	observability.RecordLocalization("hit")
	return e.Position, true, nil
}
