package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/flockctl/internal/drone"
	"github.com/danmuck/flockctl/internal/formation"
	"github.com/danmuck/flockctl/internal/swarm"
	"github.com/rs/zerolog/log"
)

// A script is one fleet-wide step per line:
//
//	takeoff
//	move_up 40
//	@health
//	@localize 2
//	@formation 2
//	@sleep 1500ms
//	land
//
// Blank lines and lines starting with # are ignored.

var errBadScript = errors.New("flockctl: invalid script")

type stepKind int

const (
	stepInvoke stepKind = iota
	stepHealth
	stepLocalize
	stepFormation
	stepSleep
)

type step struct {
	line  int
	kind  stepKind
	name  string
	args  []string
	index int
	delay time.Duration
}

func loadScript(path string, registry *drone.Registry) ([]step, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open script: %w", err)
	}
	defer f.Close()
	return parseScript(bufio.NewScanner(f), registry)
}

func parseScript(sc *bufio.Scanner, registry *drone.Registry) ([]step, error) {
	var steps []step
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		st, err := parseStep(line, fields, registry)
		if err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return steps, nil
}

func parseStep(line int, fields []string, registry *drone.Registry) (step, error) {
	head, args := fields[0], fields[1:]
	st := step{line: line, name: head, args: args}
	switch head {
	case "@health":
		st.kind = stepHealth
	case "@localize":
		if len(args) != 1 {
			return step{}, fmt.Errorf("%w: line %d: @localize takes one agent index", errBadScript, line)
		}
		idx, err := parseIndex(line, args[0])
		if err != nil {
			return step{}, err
		}
		st.kind, st.index = stepLocalize, idx
	case "@formation":
		st.kind, st.index = stepFormation, -1
		switch len(args) {
		case 0:
		case 1:
			idx, err := parseIndex(line, args[0])
			if err != nil {
				return step{}, err
			}
			st.index = idx
		default:
			return step{}, fmt.Errorf("%w: line %d: @formation takes at most a leader index", errBadScript, line)
		}
	case "@sleep":
		if len(args) != 1 {
			return step{}, fmt.Errorf("%w: line %d: @sleep takes one duration", errBadScript, line)
		}
		d, err := time.ParseDuration(args[0])
		if err != nil || d < 0 {
			return step{}, fmt.Errorf("%w: line %d: bad duration %q", errBadScript, line, args[0])
		}
		st.kind = stepSleep
		st.delay = d
	default:
		if strings.HasPrefix(head, "@") {
			return step{}, fmt.Errorf("%w: line %d: unknown directive %s", errBadScript, line, head)
		}
		if _, err := registry.Check(head, args); err != nil {
			return step{}, fmt.Errorf("%w: line %d: %w", errBadScript, line, err)
		}
		st.kind = stepInvoke
	}
	return st, nil
}

func parseIndex(line int, raw string) (int, error) {
	idx, err := strconv.Atoi(raw)
	if err != nil || idx < 0 {
		return 0, fmt.Errorf("%w: line %d: bad agent index %q", errBadScript, line, raw)
	}
	return idx, nil
}

// runScript stops on membership and protocol faults. Agent faults are
// logged and the script continues.
func runScript(ctx context.Context, fleet *swarm.Fleet, steps []step, params formation.Params) error {
	for _, st := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch st.kind {
		case stepInvoke:
			results, err := fleet.InvokeOnAll(ctx, st.name, st.args...)
			if err != nil {
				return fmt.Errorf("line %d: %w", st.line, err)
			}
			logFailures(st, results)
			log.Info().Int("line", st.line).Str("step", st.name).Int("failed", len(results.Failed())).Msg("flockctl step done")
		case stepHealth:
			entries, err := fleet.HealthCheck(ctx)
			if err != nil {
				return fmt.Errorf("line %d: %w", st.line, err)
			}
			for _, e := range entries {
				log.Info().Int("agent", e.Index).Str("addr", e.Addr).Str("status", e.Status).Int("battery", e.Battery).Msg("flockctl health")
			}
		case stepLocalize:
			pos, ok, err := fleet.Localize(ctx, st.index)
			if err != nil {
				var fault *swarm.AgentFault
				if !errors.As(err, &fault) {
					return fmt.Errorf("line %d: %w", st.line, err)
				}
				log.Warn().Int("line", st.line).Err(err).Msg("flockctl localize failed")
				continue
			}
			log.Info().Int("line", st.line).Int("agent", st.index).Bool("located", ok).Float64("x", pos.X).Float64("y", pos.Y).Msg("flockctl step done")
		case stepFormation:
			p := params
			if st.index >= 0 {
				p.Leader = st.index
			}
			report, err := fleet.FlyInFormation(ctx, p)
			if err != nil {
				return fmt.Errorf("line %d: %w", st.line, err)
			}
			logFailures(st, report.Results)
			log.Info().Int("line", st.line).Int("leader", p.Leader).Bool("located", report.Located).Ints("skipped", report.Skipped).Msg("flockctl step done")
		case stepSleep:
			timer := time.NewTimer(st.delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return nil
}

func logFailures(st step, results swarm.Results) {
	for _, res := range results.Failed() {
		log.Warn().Int("line", st.line).Int("agent", res.Index).Str("addr", res.Addr).Err(res.Err).Msg("flockctl agent fault")
	}
}
