package main

import (
	"errors"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/flockctl/internal/drone/sim"
	"github.com/danmuck/flockctl/internal/testutil/testlog"
	"github.com/danmuck/flockctl/internal/vision"
)

func TestRunWritesLandmarksFromFramesAndSim(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	framePath := filepath.Join(dir, "dock.png")
	f, err := os.Create(framePath)
	if err != nil {
		t.Fatalf("create frame: %v", err)
	}
	if err := png.Encode(f, sim.Texture(160, 120, 9)); err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	f.Close()

	out := filepath.Join(dir, "landmarks.cbor")
	if err := run([]string{"-o", out, "--sim", "hangar=1", framePath}); err != nil {
		t.Fatalf("run: %v", err)
	}
	ls, err := vision.LoadLandmarkFiles(out)
	if err != nil {
		t.Fatalf("LoadLandmarkFiles: %v", err)
	}
	if ids := ls.IDs(); len(ids) != 2 || ids[0] != "dock" || ids[1] != "hangar" {
		t.Fatalf("ids = %v", ids)
	}
}

func writeFrame(t *testing.T, path string, seed int64) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create frame: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, sim.Texture(160, 120, seed)); err != nil {
		t.Fatalf("encode frame: %v", err)
	}
}

func TestRunStacksFramesIntoOneSet(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	a, b := filepath.Join(dir, "a.png"), filepath.Join(dir, "b.png")
	writeFrame(t, a, 2)
	writeFrame(t, b, 3)

	out := filepath.Join(dir, "landmarks.cbor")
	if err := run([]string{"-o", out, "--max-features", "40", "--set", "bay=" + a + "," + b}); err != nil {
		t.Fatalf("run: %v", err)
	}
	ls, err := vision.LoadLandmarkFiles(out)
	if err != nil {
		t.Fatalf("LoadLandmarkFiles: %v", err)
	}
	o := vision.NewORB(40)
	_, da := o.Extract(sim.Texture(160, 120, 2))
	_, db := o.Extract(sim.Texture(160, 120, 3))
	if ids := ls.IDs(); len(ids) != 1 || ids[0] != "bay" {
		t.Fatalf("ids = %v", ids)
	}
	if got := len(ls.Descriptors("bay")); got != len(da)+len(db) {
		t.Fatalf("stacked descriptors = %d, want %d", got, len(da)+len(db))
	}

	if err := run([]string{"-o", out, "--set", "bay="}); err == nil {
		t.Fatal("expected empty set error")
	}
	if err := run([]string{"-o", out, "--set", "a=" + b, a}); !errors.Is(err, vision.ErrDuplicateSet) {
		t.Fatalf("duplicate between --set and positional frame = %v", err)
	}
}

func TestRunRejectsBadInput(t *testing.T) {
	testlog.Start(t)
	out := filepath.Join(t.TempDir(), "x.cbor")
	if err := run([]string{"-o", out}); !errors.Is(err, errNoFrames) {
		t.Fatalf("no frames = %v", err)
	}
	if err := run([]string{"-o", out, "--sim", "hangar"}); err == nil {
		t.Fatal("expected bad sim entry error")
	}
	if err := run([]string{"-o", out, "--sim", "a=1", "--sim", "a=2"}); !errors.Is(err, vision.ErrDuplicateSet) {
		t.Fatalf("duplicate = %v", err)
	}
}
