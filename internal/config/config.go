// Package config loads the fleet controller's TOML configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/flockctl/internal/drone"
	"github.com/danmuck/flockctl/internal/formation"
	"github.com/danmuck/flockctl/internal/swarm"
)

const (
	DefaultName      = "flockctl"
	DefaultAdminAddr = ":9300"
)

var ErrInvalidConfig = errors.New("config: invalid config")

type Config struct {
	Name              string
	Addresses         []string
	Simulate          bool
	RendezvousTimeout time.Duration
	StopTimeout       time.Duration
	ConnectAttempts   int
	Concurrency       int
	Landmarks         []string
	AdminAddr         string
	CorsOrigins       []string
	Formation         formation.Params
}

func Default() Config {
	return Config{
		Name:              DefaultName,
		RendezvousTimeout: swarm.DefaultRendezvousTimeout,
		StopTimeout:       swarm.DefaultStopTimeout,
		ConnectAttempts:   swarm.DefaultConnectAttempts,
		AdminAddr:         DefaultAdminAddr,
		CorsOrigins:       []string{"http://localhost:3000"},
		Formation:         formation.DefaultParams(),
	}
}

type fileConfig struct {
	Name              string        `toml:"name"`
	Addresses         []string      `toml:"addresses"`
	AddressString     string        `toml:"address_string"`
	Simulate          bool          `toml:"simulate"`
	RendezvousTimeout string        `toml:"rendezvous_timeout"`
	StopTimeout       string        `toml:"stop_timeout"`
	ConnectAttempts   int           `toml:"connect_attempts"`
	Concurrency       int           `toml:"concurrency"`
	Landmarks         []string      `toml:"landmarks"`
	AdminAddr         string        `toml:"admin_addr"`
	CorsOrigins       []string      `toml:"cors_origins"`
	Formation         fileFormation `toml:"formation"`
}

type fileFormation struct {
	Leader   int     `toml:"leader"`
	Distance int     `toml:"distance"`
	Exponent float64 `toml:"exponent"`
	Speed    int     `toml:"speed"`
}

// Load overlays the keys present in path onto Default and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load flock config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("%w: unknown keys %s", ErrInvalidConfig, strings.Join(keys, ", "))
	}

	if meta.IsDefined("name") {
		if name := strings.TrimSpace(raw.Name); name != "" {
			cfg.Name = name
		}
	}
	if meta.IsDefined("addresses") {
		cfg.Addresses = normalizeList(raw.Addresses)
	}
	if meta.IsDefined("address_string") {
		cfg.Addresses = append(cfg.Addresses, drone.ParseAddressList(raw.AddressString)...)
	}
	if meta.IsDefined("simulate") {
		cfg.Simulate = raw.Simulate
	}
	if meta.IsDefined("rendezvous_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.RendezvousTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse rendezvous_timeout: %w", err)
		}
		cfg.RendezvousTimeout = d
	}
	if meta.IsDefined("stop_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.StopTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse stop_timeout: %w", err)
		}
		cfg.StopTimeout = d
	}
	if meta.IsDefined("connect_attempts") {
		cfg.ConnectAttempts = raw.ConnectAttempts
	}
	if meta.IsDefined("concurrency") {
		cfg.Concurrency = raw.Concurrency
	}
	if meta.IsDefined("landmarks") {
		cfg.Landmarks = normalizeList(raw.Landmarks)
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeList(raw.CorsOrigins)
	}
	if meta.IsDefined("formation", "leader") {
		cfg.Formation.Leader = raw.Formation.Leader
	}
	if meta.IsDefined("formation", "distance") {
		cfg.Formation.Distance = raw.Formation.Distance
	}
	if meta.IsDefined("formation", "exponent") {
		cfg.Formation.Exponent = raw.Formation.Exponent
	}
	if meta.IsDefined("formation", "speed") {
		cfg.Formation.Speed = raw.Formation.Speed
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidConfig)
	}
	if len(c.Addresses) == 0 {
		return fmt.Errorf("%w: no agent addresses", ErrInvalidConfig)
	}
	seen := make(map[string]struct{}, len(c.Addresses))
	for _, addr := range c.Addresses {
		if _, dup := seen[addr]; dup {
			return fmt.Errorf("%w: duplicate address %s", ErrInvalidConfig, addr)
		}
		seen[addr] = struct{}{}
	}
	if c.RendezvousTimeout < 0 {
		return fmt.Errorf("%w: rendezvous_timeout must not be negative", ErrInvalidConfig)
	}
	if c.StopTimeout <= 0 {
		return fmt.Errorf("%w: stop_timeout must be positive", ErrInvalidConfig)
	}
	if c.ConnectAttempts < 1 {
		return fmt.Errorf("%w: connect_attempts must be at least 1", ErrInvalidConfig)
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("%w: concurrency must not be negative", ErrInvalidConfig)
	}
	if err := c.Formation.Validate(len(c.Addresses)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func normalizeList(in []string) []string {
	var out []string
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
