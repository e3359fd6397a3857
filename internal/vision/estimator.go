package vision

import "image"

// Estimate is one successful localization.
type Estimate struct {
	Position  Point3
	Matches   []Match
	Keypoints int
}

// Estimator turns a frame into a planar position by averaging the image
// coordinates of live keypoints that matched any reference landmark.
type Estimator struct {
	extractor   Extractor
	landmarks   *LandmarkSet
	crossCheck  bool
	maxDistance int
}

type EstimatorOption func(*Estimator)

func WithExtractor(ex Extractor) EstimatorOption {
	return func(e *Estimator) { e.extractor = ex }
}

func WithCrossCheck(on bool) EstimatorOption {
	return func(e *Estimator) { e.crossCheck = on }
}

// WithMaxDistance drops matches farther than d bits; 0 keeps every match.
func WithMaxDistance(d int) EstimatorOption {
	return func(e *Estimator) { e.maxDistance = d }
}

func NewEstimator(landmarks *LandmarkSet, opts ...EstimatorOption) *Estimator {
	e := &Estimator{
		extractor:  NewORB(defaultMaxFeatures),
		landmarks:  landmarks,
		crossCheck: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Estimator) Landmarks() *LandmarkSet {
	return e.landmarks
}

// Estimate extracts features from img and localizes against the landmarks.
// The bool is false when nothing matched.
func (e *Estimator) Estimate(img image.Image) (Estimate, bool) {
	if img == nil || e.landmarks.Len() == 0 {
		return Estimate{}, false
	}
	kps, descs := e.extractor.Extract(Gray(img))
	return e.EstimateFeatures(kps, descs)
}

// EstimateFeatures localizes pre-extracted keypoints; kps and descs are parallel.
func (e *Estimator) EstimateFeatures(kps []Keypoint, descs []Descriptor) (Estimate, bool) {
	if e.landmarks.Len() == 0 || len(descs) == 0 || len(kps) != len(descs) {
		return Estimate{}, false
	}
	matches := MatchSets(descs, e.landmarks, e.crossCheck)
	if e.maxDistance > 0 {
		kept := matches[:0]
		for _, m := range matches {
			if m.Distance <= e.maxDistance {
				kept = append(kept, m)
			}
		}
		matches = kept
	}
	if len(matches) == 0 {
		return Estimate{}, false
	}

	var sum Point3
	for _, m := range matches {
		kp := kps[m.QueryIdx]
		sum = sum.Add(Point3{X: kp.X, Y: kp.Y})
	}
	n := float64(len(matches))
	return Estimate{
		Position:  Point3{X: sum.X / n, Y: sum.Y / n},
		Matches:   matches,
		Keypoints: len(kps),
	}, true
}
