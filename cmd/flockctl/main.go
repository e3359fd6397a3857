package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/flockctl/internal/admin"
	"github.com/danmuck/flockctl/internal/config"
	"github.com/danmuck/flockctl/internal/drone"
	"github.com/danmuck/flockctl/internal/drone/sim"
	"github.com/danmuck/flockctl/internal/logging"
	"github.com/danmuck/flockctl/internal/swarm"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

var errNoDriver = errors.New("no agent driver linked in; set simulate = true or pass --simulate")

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "flockctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flagSet := pflag.NewFlagSet("flockctl", pflag.ContinueOnError)
	configPath := flagSet.StringP("config", "c", "cmd/flockctl/config.toml", "path to the fleet TOML config")
	scriptPath := flagSet.StringP("script", "s", "", "run a fleet script, then exit unless --serve is set")
	simulate := flagSet.Bool("simulate", false, "use in-memory agents regardless of the config")
	serve := flagSet.Bool("serve", false, "keep serving the admin endpoint after the script finishes")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}

	logging.ConfigureRuntime()
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *simulate {
		cfg.Simulate = true
	}
	log.Info().Str("path", *configPath).Int("agents", len(cfg.Addresses)).Bool("simulate", cfg.Simulate).Msg("flockctl config loaded")

	var steps []step
	if *scriptPath != "" {
		if steps, err = loadScript(*scriptPath, drone.DefaultRegistry()); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dial, err := dialerFor(cfg)
	if err != nil {
		return err
	}
	estimator, err := cfg.LoadEstimator()
	if err != nil {
		return err
	}
	fleet, err := swarm.NewFromAddresses(ctx, dial, cfg.Addresses, cfg.FleetOptions(estimator)...)
	if err != nil {
		return err
	}
	defer func() {
		report := fleet.Close()
		if err := report.Err(); err != nil {
			log.Warn().Err(err).Int("disconnected", report.Disconnected).Msg("flockctl teardown reported failures")
		}
	}()

	results, err := fleet.Connect(ctx)
	if err != nil {
		return err
	}
	for _, res := range results.Failed() {
		log.Warn().Int("agent", res.Index).Str("addr", res.Addr).Err(res.Err).Msg("flockctl agent failed to connect")
	}

	adminErr := make(chan error, 1)
	if cfg.AdminAddr != "" {
		srv := admin.New(cfg.Name, cfg.AdminAddr, fleet, nil, cfg.CorsOrigins)
		go func() {
			adminErr <- srv.Serve(ctx)
		}()
	}

	if len(steps) > 0 {
		if err := runScript(ctx, fleet, steps, cfg.Formation); err != nil {
			return err
		}
		if !*serve {
			return nil
		}
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("flockctl shutting down")
		return nil
	case err := <-adminErr:
		return err
	}
}

func dialerFor(cfg config.Config) (drone.Dialer, error) {
	if cfg.Simulate {
		return sim.Dialer(), nil
	}
	return nil, errNoDriver
}
