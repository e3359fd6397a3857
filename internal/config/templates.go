package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Template renders a starter config for kind: "flock" for real agents or
// "sim" for the in-memory simulator.
func Template(kind string) (string, error) {
	cfg := Default()
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "flock":
		cfg.Addresses = []string{"192.168.10.11", "192.168.10.12", "192.168.10.13"}
	case "sim":
		cfg.Simulate = true
		cfg.Addresses = []string{"sim-1", "sim-2", "sim-3", "sim-4", "sim-5"}
		cfg.Formation.Leader = 2
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
	return Render(cfg)
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

type renderFormation struct {
	Leader   int     `toml:"leader" comment:"compact fleet index of the leader"`
	Distance int     `toml:"distance" comment:"ring radius and leader ascent, cm"`
	Exponent float64 `toml:"exponent" comment:"easing exponent a in t^a/(t^a+(1-t)^a)"`
	Speed    int     `toml:"speed" comment:"follower transit speed, cm/s"`
}

type renderConfig struct {
	Name              string          `toml:"name"`
	Addresses         []string        `toml:"addresses" comment:"one entry per agent; address_string takes the double-space separated form"`
	Simulate          bool            `toml:"simulate" comment:"dial in-memory agents instead of real ones"`
	RendezvousTimeout string          `toml:"rendezvous_timeout" comment:"0s waits without bound"`
	StopTimeout       string          `toml:"stop_timeout"`
	ConnectAttempts   int             `toml:"connect_attempts"`
	Concurrency       int             `toml:"concurrency" comment:"concurrent fan-out slots, 0 means one per agent"`
	Landmarks         []string        `toml:"landmarks" comment:"CBOR landmark files written by landmarkgen"`
	AdminAddr         string          `toml:"admin_addr" comment:"empty disables the admin endpoint"`
	CorsOrigins       []string        `toml:"cors_origins"`
	Formation         renderFormation `toml:"formation"`
}

// Render encodes cfg in the on-disk form Load reads.
func Render(cfg Config) (string, error) {
	out := renderConfig{
		Name:              cfg.Name,
		Addresses:         nonNil(cfg.Addresses),
		Simulate:          cfg.Simulate,
		RendezvousTimeout: cfg.RendezvousTimeout.String(),
		StopTimeout:       cfg.StopTimeout.String(),
		ConnectAttempts:   cfg.ConnectAttempts,
		Concurrency:       cfg.Concurrency,
		Landmarks:         nonNil(cfg.Landmarks),
		AdminAddr:         cfg.AdminAddr,
		CorsOrigins:       nonNil(cfg.CorsOrigins),
		Formation: renderFormation{
			Leader:   cfg.Formation.Leader,
			Distance: cfg.Formation.Distance,
			Exponent: cfg.Formation.Exponent,
			Speed:    cfg.Formation.Speed,
		},
	}
	data, err := toml.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("render flock config: %w", err)
	}
	return string(data), nil
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
