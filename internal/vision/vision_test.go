package vision

import (
	"image"
	"path/filepath"
	"testing"

	"github.com/danmuck/flockctl/internal/drone/sim"
	"github.com/danmuck/flockctl/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func desc(fill byte) Descriptor {
	var d Descriptor
	for i := range d {
		d[i] = fill
	}
	return d
}

func TestHamming(t *testing.T) {
	testlog.Start(t)
	assert.Equal(t, 0, Hamming(desc(0xAA), desc(0xAA)))
	assert.Equal(t, descriptorBits, Hamming(desc(0x00), desc(0xFF)))
	a := desc(0)
	a[31] = 0x03
	assert.Equal(t, 2, Hamming(a, desc(0)))
}

func TestBruteForceCrossCheck(t *testing.T) {
	testlog.Start(t)
	near := desc(0x01)
	query := []Descriptor{desc(0x00), near}
	train := []Descriptor{desc(0x00)}

	all := BruteForce(query, train, false)
	require.Len(t, all, 2)
	assert.Equal(t, 0, all[0].Distance)

	checked := BruteForce(query, train, true)
	require.Len(t, checked, 1)
	assert.Equal(t, Match{QueryIdx: 0, TrainIdx: 0, Distance: 0}, checked[0])

	assert.Empty(t, BruteForce(nil, train, true))
	assert.Empty(t, BruteForce(query, nil, true))
}

func TestMatchSetsSortedByDistance(t *testing.T) {
	testlog.Start(t)
	far := desc(0x0F)
	ls, err := NewLandmarkSet(map[string][]Descriptor{
		"b": {desc(0x00)},
		"a": {far},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ls.IDs())

	matches := MatchSets([]Descriptor{desc(0x00), far}, ls, true)
	require.Len(t, matches, 2)
	assert.Equal(t, 0, matches[0].Distance)
	assert.Equal(t, 0, matches[1].Distance)
	// Equal distances keep set id order.
	assert.Equal(t, "a", matches[0].SetID)
	assert.Equal(t, "b", matches[1].SetID)

	for i := 1; i < len(matches); i++ {
		assert.LessOrEqual(t, matches[i-1].Distance, matches[i].Distance)
	}
}

func TestEstimatorMissWithoutLandmarks(t *testing.T) {
	testlog.Start(t)
	empty, err := NewLandmarkSet(nil)
	require.NoError(t, err)
	e := NewEstimator(empty)
	_, ok := e.Estimate(sim.Texture(80, 80, 3))
	assert.False(t, ok)

	_, ok = NewEstimator(nil).EstimateFeatures([]Keypoint{{X: 1}}, []Descriptor{desc(1)})
	assert.False(t, ok)
}

func TestEstimatorAveragesMatchedKeypoints(t *testing.T) {
	testlog.Start(t)
	ls, err := NewLandmarkSet(map[string][]Descriptor{"pad": {desc(0x00), desc(0xFF)}})
	require.NoError(t, err)
	e := NewEstimator(ls, WithMaxDistance(8))

	kps := []Keypoint{{X: 10, Y: 20}, {X: 30, Y: 40}, {X: 500, Y: 500}}
	descs := []Descriptor{desc(0x00), desc(0xFF), desc(0x0F)}
	est, ok := e.EstimateFeatures(kps, descs)
	require.True(t, ok)
	assert.Equal(t, Point3{X: 20, Y: 30}, est.Position)
	assert.Len(t, est.Matches, 2)
	assert.Equal(t, 3, est.Keypoints)

	// Nothing within the distance bound.
	_, ok = e.EstimateFeatures([]Keypoint{{X: 1}}, []Descriptor{desc(0x0F)})
	assert.False(t, ok)
}

func TestORBExtractsFromTexture(t *testing.T) {
	testlog.Start(t)
	o := NewORB(50)
	kps, descs := o.Extract(sim.Texture(160, 120, 7))
	require.NotEmpty(t, kps)
	assert.Len(t, descs, len(kps))
	assert.LessOrEqual(t, len(kps), 50)
	for _, kp := range kps {
		assert.GreaterOrEqual(t, int(kp.X), edgeBorder)
		assert.Less(t, int(kp.X), 160-edgeBorder)
	}

	small, _ := o.Extract(sim.Texture(20, 20, 7))
	assert.Empty(t, small)
}

func TestORBDescriptorRotationInvariant(t *testing.T) {
	testlog.Start(t)
	const size = 80
	src := sim.Texture(size, size, 11)
	rot := image.NewGray(src.Bounds())
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			rot.SetGray(x, y, src.GrayAt(size-1-y, x))
		}
	}

	o := NewORB(0)
	_, a := o.Describe(src, 40, 40)
	_, b := o.Describe(rot, 40, size-1-40)
	assert.LessOrEqual(t, Hamming(a, b), 24)
}

func TestEstimateOnCapturedFrame(t *testing.T) {
	testlog.Start(t)
	frame := sim.Texture(160, 120, 5)
	ls, err := CaptureLandmarks(nil, map[string]image.Image{"hangar": frame})
	require.NoError(t, err)

	est, ok := NewEstimator(ls).Estimate(frame)
	require.True(t, ok)
	assert.Zero(t, est.Position.Z)
	assert.Greater(t, est.Position.X, 0.0)
	assert.Equal(t, 0, est.Matches[0].Distance)

	_, err = CaptureLandmarks(nil, map[string]image.Image{"blank": image.NewGray(image.Rect(0, 0, 10, 10))})
	require.ErrorIs(t, err, ErrNoFeatures)
}

func TestCaptureLandmarkSetsStacksFrames(t *testing.T) {
	testlog.Start(t)
	o := NewORB(40)
	a, b := sim.Texture(160, 120, 2), sim.Texture(160, 120, 3)
	_, da := o.Extract(a)
	_, db := o.Extract(b)
	require.NotEmpty(t, da)
	require.NotEmpty(t, db)

	ls, err := CaptureLandmarkSets(o, map[string][]image.Image{"dock": {a, b}})
	require.NoError(t, err)
	assert.Equal(t, []string{"dock"}, ls.IDs())
	assert.Equal(t, append(append([]Descriptor{}, da...), db...), ls.Descriptors("dock"))

	// Either frame alone localizes against the stacked set.
	_, ok := NewEstimator(ls, WithExtractor(o)).Estimate(b)
	assert.True(t, ok)

	_, err = CaptureLandmarkSets(o, map[string][]image.Image{"empty": nil})
	require.ErrorIs(t, err, ErrNoFeatures)
	blank := image.NewGray(image.Rect(0, 0, 10, 10))
	_, err = CaptureLandmarkSets(o, map[string][]image.Image{"dock": {a, blank}})
	require.ErrorIs(t, err, ErrNoFeatures)
}

func TestLandmarkFileRoundTrip(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	first, err := NewLandmarkSet(map[string][]Descriptor{"a": {desc(1), desc(2)}})
	require.NoError(t, err)
	second, err := NewLandmarkSet(map[string][]Descriptor{"b": {desc(3)}})
	require.NoError(t, err)

	pa := filepath.Join(dir, "a.cbor")
	pb := filepath.Join(dir, "b.cbor")
	require.NoError(t, WriteLandmarkFile(pa, first))
	require.NoError(t, WriteLandmarkFile(pb, second))

	loaded, err := LoadLandmarkFiles(pa, pb)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, loaded.IDs())
	assert.Equal(t, []Descriptor{desc(1), desc(2)}, loaded.Descriptors("a"))

	_, err = LoadLandmarkFiles(pa, pa)
	require.ErrorIs(t, err, ErrDuplicateSet)

	x, err := EncodeLandmarks(first)
	require.NoError(t, err)
	y, err := EncodeLandmarks(first)
	require.NoError(t, err)
	assert.Equal(t, x, y)

	_, err = LoadLandmarkFiles(filepath.Join(dir, "missing.cbor"))
	require.Error(t, err)
}
