package vision

import "sort"

// Match pairs one live descriptor with its best reference descriptor.
type Match struct {
	QueryIdx int
	TrainIdx int
	SetID    string
	Distance int
}

// BruteForce finds, for every query descriptor, the closest train
// descriptor by Hamming distance. With crossCheck set, a pair is kept only
// when each side is the other's best match.
func BruteForce(query, train []Descriptor, crossCheck bool) []Match {
	if len(query) == 0 || len(train) == 0 {
		return nil
	}
	bestTrain := nearest(query, train)
	var bestQuery []int
	if crossCheck {
		bestQuery = nearest(train, query)
	}
	out := make([]Match, 0, len(query))
	for qi, ti := range bestTrain {
		if crossCheck && bestQuery[ti] != qi {
			continue
		}
		out = append(out, Match{
			QueryIdx: qi,
			TrainIdx: ti,
			Distance: Hamming(query[qi], train[ti]),
		})
	}
	return out
}

func nearest(from, to []Descriptor) []int {
	out := make([]int, len(from))
	for i, d := range from {
		best, bestDist := 0, descriptorBits+1
		for j, t := range to {
			if dist := Hamming(d, t); dist < bestDist {
				best, bestDist = j, dist
			}
		}
		out[i] = best
	}
	return out
}

// MatchSets matches query against every set and merges the results sorted
// ascending by distance. Ties keep set id then query order.
func MatchSets(query []Descriptor, sets *LandmarkSet, crossCheck bool) []Match {
	if sets == nil || len(query) == 0 {
		return nil
	}
	var merged []Match
	for _, id := range sets.IDs() {
		for _, m := range BruteForce(query, sets.sets[id], crossCheck) {
			m.SetID = id
			merged = append(merged, m)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Distance < merged[j].Distance
	})
	return merged
}
