package vision

import (
	"image"
	"math"
	"math/rand"
	"sort"
)

const (
	descriptorBits       = DescriptorSize * 8
	orientationRadius    = 15
	patternExtent        = 13
	blurRadius           = 2
	defaultMaxFeatures   = 500
	defaultFastThreshold = 20
	fastArc              = 9
	patternSeed          = 0x0b5
)

// Border keeps every rotated sample inside the frame.
var edgeBorder = int(math.Ceil(patternExtent*math.Sqrt2)) + blurRadius + 1

var fastCircle = [16][2]int{
	{0, -3}, {1, -3}, {2, -2}, {3, -1}, {3, 0}, {3, 1}, {2, 2}, {1, 3},
	{0, 3}, {-1, 3}, {-2, 2}, {-3, 1}, {-3, 0}, {-3, -1}, {-2, -2}, {-1, -3},
}

// Extractor detects keypoints and computes one descriptor per keypoint.
type Extractor interface {
	Extract(img *image.Gray) ([]Keypoint, []Descriptor)
}

// ORB is a FAST corner detector paired with a steered BRIEF descriptor.
// Descriptors are computed relative to the intensity-centroid orientation,
// so an in-plane rotation of the frame yields the same bit string.
type ORB struct {
	MaxFeatures int
	Threshold   int
	pattern     [descriptorBits][4]float64
}

func NewORB(maxFeatures int) *ORB {
	if maxFeatures <= 0 {
		maxFeatures = defaultMaxFeatures
	}
	o := &ORB{MaxFeatures: maxFeatures, Threshold: defaultFastThreshold}
	rng := rand.New(rand.NewSource(patternSeed))
	for i := range o.pattern {
		for j := range o.pattern[i] {
			o.pattern[i][j] = float64(samplePatternCoord(rng))
		}
	}
	return o
}

func samplePatternCoord(rng *rand.Rand) int {
	for {
		v := int(math.Round(rng.NormFloat64() * patternExtent / 2))
		if v >= -patternExtent && v <= patternExtent {
			return v
		}
	}
}

// plane is a zero-origin view of gray pixels with clamped reads.
type plane struct {
	w, h int
	pix  []uint8
}

func newPlane(img *image.Gray) plane {
	b := img.Bounds()
	p := plane{w: b.Dx(), h: b.Dy(), pix: make([]uint8, b.Dx()*b.Dy())}
	for y := 0; y < p.h; y++ {
		off := img.PixOffset(b.Min.X, b.Min.Y+y)
		copy(p.pix[y*p.w:(y+1)*p.w], img.Pix[off:off+p.w])
	}
	return p
}

func (p plane) at(x, y int) int {
	if x < 0 {
		x = 0
	} else if x >= p.w {
		x = p.w - 1
	}
	if y < 0 {
		y = 0
	} else if y >= p.h {
		y = p.h - 1
	}
	return int(p.pix[y*p.w+x])
}

// boxBlur averages each (2r+1)^2 window in one pass so the result is
// symmetric under 90 degree rotations of the input.
func (p plane) boxBlur(r int) plane {
	out := plane{w: p.w, h: p.h, pix: make([]uint8, len(p.pix))}
	n := (2*r + 1) * (2*r + 1)
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			sum := 0
			for dy := -r; dy <= r; dy++ {
				for dx := -r; dx <= r; dx++ {
					sum += p.at(x+dx, y+dy)
				}
			}
			out.pix[y*p.w+x] = uint8(sum / n)
		}
	}
	return out
}

func (o *ORB) Extract(img *image.Gray) ([]Keypoint, []Descriptor) {
	if img == nil {
		return nil, nil
	}
	raw := newPlane(img)
	if raw.w <= 2*edgeBorder || raw.h <= 2*edgeBorder {
		return nil, nil
	}
	corners := o.detect(raw)
	sort.SliceStable(corners, func(i, j int) bool {
		return corners[i].Response > corners[j].Response
	})
	if len(corners) > o.MaxFeatures {
		corners = corners[:o.MaxFeatures]
	}

	smooth := raw.boxBlur(blurRadius)
	kps := make([]Keypoint, 0, len(corners))
	descs := make([]Descriptor, 0, len(corners))
	for _, c := range corners {
		x, y := int(c.X), int(c.Y)
		c.Angle = orientation(raw, x, y)
		kps = append(kps, c)
		descs = append(descs, o.describe(smooth, x, y, c.Angle))
	}
	return kps, descs
}

// Describe computes the oriented descriptor at one pixel.
func (o *ORB) Describe(img *image.Gray, x, y int) (Keypoint, Descriptor) {
	raw := newPlane(img)
	angle := orientation(raw, x, y)
	kp := Keypoint{X: float64(x), Y: float64(y), Angle: angle}
	return kp, o.describe(raw.boxBlur(blurRadius), x, y, angle)
}

func (o *ORB) detect(p plane) []Keypoint {
	scores := make([]int, p.w*p.h)
	for y := edgeBorder; y < p.h-edgeBorder; y++ {
		for x := edgeBorder; x < p.w-edgeBorder; x++ {
			scores[y*p.w+x] = fastScore(p, x, y, o.Threshold)
		}
	}
	var out []Keypoint
	for y := edgeBorder; y < p.h-edgeBorder; y++ {
		for x := edgeBorder; x < p.w-edgeBorder; x++ {
			idx := y*p.w + x
			s := scores[idx]
			if s == 0 || !isLocalMax(scores, p.w, x, y, idx) {
				continue
			}
			out = append(out, Keypoint{X: float64(x), Y: float64(y), Response: float64(s)})
		}
	}
	return out
}

func isLocalMax(scores []int, w, x, y, idx int) bool {
	s := scores[idx]
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			n := (y+dy)*w + (x + dx)
			if scores[n] > s || (scores[n] == s && n < idx) {
				return false
			}
		}
	}
	return true
}

// fastScore returns 0 unless fastArc contiguous circle pixels are all
// brighter or all darker than the center by more than t.
func fastScore(p plane, x, y, t int) int {
	center := p.at(x, y)
	var state [16]int
	for i, off := range fastCircle {
		v := p.at(x+off[0], y+off[1])
		switch {
		case v > center+t:
			state[i] = 1
		case v < center-t:
			state[i] = -1
		}
	}
	run, best, kind := 0, 0, 0
	for i := 0; i < 32; i++ {
		s := state[i%16]
		if s != 0 && s == kind {
			run++
		} else if s != 0 {
			kind, run = s, 1
		} else {
			kind, run = 0, 0
		}
		if run > best {
			best = run
		}
	}
	if best < fastArc {
		return 0
	}
	score := 0
	for _, off := range fastCircle {
		d := p.at(x+off[0], y+off[1]) - center
		if d < 0 {
			d = -d
		}
		if d > t {
			score += d - t
		}
	}
	return score
}

// orientation is the intensity-centroid angle over a disc patch.
func orientation(p plane, x, y int) float64 {
	r := orientationRadius
	m01, m10 := 0, 0
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if dx*dx+dy*dy > r*r {
				continue
			}
			v := p.at(x+dx, y+dy)
			m10 += dx * v
			m01 += dy * v
		}
	}
	return math.Atan2(float64(m01), float64(m10))
}

func (o *ORB) describe(p plane, x, y int, angle float64) Descriptor {
	var d Descriptor
	cos, sin := math.Cos(angle), math.Sin(angle)
	for i, pt := range o.pattern {
		x1, y1 := rotate(pt[0], pt[1], cos, sin)
		x2, y2 := rotate(pt[2], pt[3], cos, sin)
		if p.at(x+x1, y+y1) < p.at(x+x2, y+y2) {
			d[i/8] |= 1 << (i % 8)
		}
	}
	return d
}

func rotate(px, py, cos, sin float64) (int, int) {
	return int(math.Round(px*cos - py*sin)), int(math.Round(px*sin + py*cos))
}
