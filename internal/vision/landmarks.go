package vision

import (
	"errors"
	"fmt"
	"image"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

const landmarkFileVersion = 1

var (
	ErrDuplicateSet   = errors.New("vision: duplicate landmark set")
	ErrEmptySetID     = errors.New("vision: empty landmark set id")
	ErrBadDescriptor  = errors.New("vision: malformed descriptor")
	ErrUnsupportedFmt = errors.New("vision: unsupported landmark file version")
	ErrNoFeatures     = errors.New("vision: no features in frames")
)

// Core deterministic encoding keeps landmark files byte-stable across runs.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("vision: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("vision: CBOR decoder initialization failed: " + err.Error())
	}
}

// LandmarkSet is an immutable collection of reference descriptor sets keyed
// by set id.
type LandmarkSet struct {
	sets map[string][]Descriptor
	ids  []string
}

// NewLandmarkSet copies sets; later changes to the input are not observed.
func NewLandmarkSet(sets map[string][]Descriptor) (*LandmarkSet, error) {
	ls := &LandmarkSet{sets: make(map[string][]Descriptor, len(sets))}
	for id, descs := range sets {
		if strings.TrimSpace(id) == "" {
			return nil, ErrEmptySetID
		}
		ls.sets[id] = slices.Clone(descs)
	}
	ls.ids = slices.Sorted(maps.Keys(ls.sets))
	return ls, nil
}

// IDs returns the set ids in ascending order.
func (ls *LandmarkSet) IDs() []string {
	if ls == nil {
		return nil
	}
	return slices.Clone(ls.ids)
}

// Len is the number of sets.
func (ls *LandmarkSet) Len() int {
	if ls == nil {
		return 0
	}
	return len(ls.ids)
}

func (ls *LandmarkSet) Descriptors(id string) []Descriptor {
	if ls == nil {
		return nil
	}
	return slices.Clone(ls.sets[id])
}

// Merge returns a new set holding both inputs; ids must not overlap.
func (ls *LandmarkSet) Merge(other *LandmarkSet) (*LandmarkSet, error) {
	all := make(map[string][]Descriptor, ls.Len()+other.Len())
	for _, src := range []*LandmarkSet{ls, other} {
		if src == nil {
			continue
		}
		for id, descs := range src.sets {
			if _, ok := all[id]; ok {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateSet, id)
			}
			all[id] = descs
		}
	}
	return NewLandmarkSet(all)
}

type landmarkFile struct {
	Version int                 `cbor:"version"`
	Sets    map[string][][]byte `cbor:"sets"`
}

// EncodeLandmarks serializes ls as deterministic CBOR.
func EncodeLandmarks(ls *LandmarkSet) ([]byte, error) {
	file := landmarkFile{Version: landmarkFileVersion, Sets: map[string][][]byte{}}
	if ls != nil {
		for id, descs := range ls.sets {
			raw := make([][]byte, len(descs))
			for i := range descs {
				raw[i] = descs[i][:]
			}
			file.Sets[id] = raw
		}
	}
	return encMode.Marshal(file)
}

func DecodeLandmarks(data []byte) (*LandmarkSet, error) {
	var file landmarkFile
	if err := decMode.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("vision: decode landmarks: %w", err)
	}
	if file.Version != landmarkFileVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedFmt, file.Version)
	}
	sets := make(map[string][]Descriptor, len(file.Sets))
	for id, raw := range file.Sets {
		descs := make([]Descriptor, len(raw))
		for i, b := range raw {
			if len(b) != DescriptorSize {
				return nil, fmt.Errorf("%w: set %s entry %d has %d bytes", ErrBadDescriptor, id, i, len(b))
			}
			copy(descs[i][:], b)
		}
		sets[id] = descs
	}
	return NewLandmarkSet(sets)
}

func WriteLandmarkFile(path string, ls *LandmarkSet) error {
	data, err := EncodeLandmarks(ls)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadLandmarkFiles reads and merges every file; set ids must be unique
// across files.
func LoadLandmarkFiles(paths ...string) (*LandmarkSet, error) {
	merged, _ := NewLandmarkSet(nil)
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("vision: read landmarks %s: %w", path, err)
		}
		ls, err := DecodeLandmarks(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if merged, err = merged.Merge(ls); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return merged, nil
}

// CaptureLandmarks extracts one descriptor set per named frame.
func CaptureLandmarks(ex Extractor, frames map[string]image.Image) (*LandmarkSet, error) {
	grouped := make(map[string][]image.Image, len(frames))
	for id, img := range frames {
		grouped[id] = []image.Image{img}
	}
	return CaptureLandmarkSets(ex, grouped)
}

// CaptureLandmarkSets stacks the descriptors of every frame in a group into
// one set, in frame order. Each frame must yield at least one feature.
func CaptureLandmarkSets(ex Extractor, groups map[string][]image.Image) (*LandmarkSet, error) {
	if ex == nil {
		ex = NewORB(defaultMaxFeatures)
	}
	sets := make(map[string][]Descriptor, len(groups))
	for id, frames := range groups {
		if len(frames) == 0 {
			return nil, fmt.Errorf("%w: %s has no frames", ErrNoFeatures, id)
		}
		var stacked []Descriptor
		for i, img := range frames {
			_, descs := ex.Extract(Gray(img))
			if len(descs) == 0 {
				return nil, fmt.Errorf("%w: %s frame %d", ErrNoFeatures, id, i)
			}
			stacked = append(stacked, descs...)
		}
		sets[id] = stacked
	}
	return NewLandmarkSet(sets)
}
