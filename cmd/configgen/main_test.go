package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/flockctl/internal/config"
	"github.com/danmuck/flockctl/internal/testutil/testlog"
)

func TestRunWritesAndValidatesTemplates(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	for _, kind := range []string{"flock", "sim"} {
		path := filepath.Join(dir, kind+".toml")
		if err := run([]string{"--kind", kind, "-o", path}); err != nil {
			t.Fatalf("run %s: %v", kind, err)
		}
		cfg, err := config.Load(path)
		if err != nil {
			t.Fatalf("Load %s: %v", kind, err)
		}
		if cfg.Simulate != (kind == "sim") {
			t.Fatalf("%s simulate = %v", kind, cfg.Simulate)
		}
		if err := run([]string{"--validate", "-i", path}); err != nil {
			t.Fatalf("validate %s: %v", kind, err)
		}
	}

	sim := filepath.Join(dir, "sim.toml")
	if err := run([]string{"--kind", "sim", "-o", sim}); err == nil {
		t.Fatal("expected refusal to overwrite without --force")
	}
	if err := run([]string{"--kind", "sim", "-o", sim, "--force"}); err != nil {
		t.Fatalf("forced overwrite: %v", err)
	}
	if err := run([]string{"--kind", "swarm", "-o", filepath.Join(dir, "x.toml")}); err == nil {
		t.Fatal("expected unknown kind error")
	}
}

func TestRunValidateRejectsBadConfig(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("addresses = []\nwarp_drive = true\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := run([]string{"--validate", "-i", path}); err == nil {
		t.Fatal("expected validation error")
	}
	if err := run([]string{"--validate", "-i", filepath.Join(t.TempDir(), "missing.toml")}); err == nil {
		t.Fatal("expected missing file error")
	}
	if err := run([]string{"--bogus"}); err == nil {
		t.Fatal("expected flag parse error")
	}
}
