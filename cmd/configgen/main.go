package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/danmuck/flockctl/internal/config"
	"github.com/danmuck/flockctl/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

const defaultPath = "cmd/flockctl/config.toml"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flagSet := pflag.NewFlagSet("configgen", pflag.ContinueOnError)
	kind := flagSet.String("kind", "flock", "config kind: flock|sim")
	output := flagSet.StringP("output", "o", defaultPath, "output path for config template")
	validate := flagSet.Bool("validate", false, "validate an existing config file")
	input := flagSet.StringP("input", "i", defaultPath, "config path for validation")
	force := flagSet.Bool("force", false, "overwrite existing config file")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	logging.ConfigureRuntime()

	if *validate {
		cfg, err := config.Load(*input)
		if err != nil {
			return err
		}
		log.Info().Str("path", *input).Int("agents", len(cfg.Addresses)).Bool("simulate", cfg.Simulate).Msg("configgen validated config")
		return nil
	}

	if err := config.WriteTemplate(*output, *kind, *force); err != nil {
		return err
	}
	if _, err := config.Load(*output); err != nil {
		return fmt.Errorf("wrote an invalid %s template: %w", *kind, err)
	}
	log.Info().Str("kind", *kind).Str("path", *output).Msg("configgen wrote template")
	return nil
}
