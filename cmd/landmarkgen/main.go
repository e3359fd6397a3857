// Command landmarkgen captures reference landmark sets from camera frames
// and writes them as a landmark file for flockctl.
package main

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/danmuck/flockctl/internal/drone/sim"
	"github.com/danmuck/flockctl/internal/logging"
	"github.com/danmuck/flockctl/internal/vision"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

var errNoFrames = errors.New("landmarkgen: no frames given")

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "landmarkgen: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flagSet := pflag.NewFlagSet("landmarkgen", pflag.ContinueOnError)
	output := flagSet.StringP("output", "o", "landmarks.cbor", "landmark file to write")
	maxFeatures := flagSet.Int("max-features", 500, "features kept per frame")
	simSets := flagSet.StringSlice("sim", nil, "add a simulated frame as id=seed (matches sim agents built WithTexture)")
	stacked := flagSet.StringArray("set", nil, "stack several frames into one set as id=frame1,frame2 (repeatable)")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	logging.ConfigureRuntime()

	groups := make(map[string][]image.Image)
	add := func(id string, frames ...image.Image) error {
		if _, dup := groups[id]; dup {
			return fmt.Errorf("%w: %s", vision.ErrDuplicateSet, id)
		}
		groups[id] = frames
		return nil
	}
	for _, path := range flagSet.Args() {
		img, err := readFrame(path)
		if err != nil {
			return err
		}
		if err := add(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)), img); err != nil {
			return err
		}
	}
	for _, entry := range *stacked {
		id, paths, err := parseStackedSet(entry)
		if err != nil {
			return err
		}
		frames := make([]image.Image, 0, len(paths))
		for _, path := range paths {
			img, err := readFrame(path)
			if err != nil {
				return err
			}
			frames = append(frames, img)
		}
		if err := add(id, frames...); err != nil {
			return err
		}
	}
	for _, entry := range *simSets {
		id, seed, err := parseSimSet(entry)
		if err != nil {
			return err
		}
		if err := add(id, sim.Texture(160, 120, seed)); err != nil {
			return err
		}
	}
	if len(groups) == 0 {
		return errNoFrames
	}

	ls, err := vision.CaptureLandmarkSets(vision.NewORB(*maxFeatures), groups)
	if err != nil {
		return err
	}
	if err := vision.WriteLandmarkFile(*output, ls); err != nil {
		return err
	}
	log.Info().Strs("sets", ls.IDs()).Str("path", *output).Msg("landmarkgen wrote landmarks")
	return nil
}

func readFrame(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

func parseStackedSet(entry string) (string, []string, error) {
	id, raw, ok := strings.Cut(entry, "=")
	id = strings.TrimSpace(id)
	if !ok || id == "" {
		return "", nil, fmt.Errorf("bad --set entry %q, want id=frame1,frame2", entry)
	}
	var paths []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		return "", nil, fmt.Errorf("bad --set entry %q: no frames", entry)
	}
	return id, paths, nil
}

func parseSimSet(entry string) (string, int64, error) {
	id, raw, ok := strings.Cut(entry, "=")
	id = strings.TrimSpace(id)
	if !ok || id == "" {
		return "", 0, fmt.Errorf("bad --sim entry %q, want id=seed", entry)
	}
	var seed int64
	if _, err := fmt.Sscan(strings.TrimSpace(raw), &seed); err != nil {
		return "", 0, fmt.Errorf("bad --sim seed in %q: %w", entry, err)
	}
	return id, seed, nil
}
