package config

import (
	"github.com/danmuck/flockctl/internal/drone"
	"github.com/danmuck/flockctl/internal/swarm"
	"github.com/danmuck/flockctl/internal/vision"
)

// FleetOptions maps the config onto swarm options. estimator may be nil.
func (c Config) FleetOptions(estimator *vision.Estimator) []swarm.Option {
	opts := []swarm.Option{
		swarm.WithRendezvousTimeout(c.RendezvousTimeout),
		swarm.WithStopTimeout(c.StopTimeout),
		swarm.WithConcurrency(c.Concurrency),
		swarm.WithConnectRetry(c.ConnectAttempts, drone.DefaultBackoff()),
	}
	if estimator != nil {
		opts = append(opts, swarm.WithEstimator(estimator))
	}
	return opts
}

// LoadEstimator reads the configured landmark files. It returns nil when
// none are configured.
func (c Config) LoadEstimator() (*vision.Estimator, error) {
	if len(c.Landmarks) == 0 {
		return nil, nil
	}
	ls, err := vision.LoadLandmarkFiles(c.Landmarks...)
	if err != nil {
		return nil, err
	}
	return vision.NewEstimator(ls), nil
}
