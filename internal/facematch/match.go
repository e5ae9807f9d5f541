package facematch

import "math"

// EuclideanDistance returns the L2 distance between two embeddings.
// Embeddings of different length are infinitely far apart.
func EuclideanDistance(a, b Embedding) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Match returns the roster identity closest to query, provided its distance is
// strictly less than threshold. On equal distances the earlier roster entry wins.
func Match(query Embedding, roster []Identity, threshold float64) (Result, bool) {
	best := -1
	minDist := threshold

	for i := range roster {
		d := EuclideanDistance(query, roster[i].Embedding)
		if d < minDist {
			minDist = d
			best = i
		}
	}

	if best < 0 {
		return Result{}, false
	}
	return Result{Identity: roster[best], Index: best, Distance: minDist}, true
}

// MatchAll matches every detection against the roster, keeping the extractor's order.
// Detections without a match are left out.
func MatchAll(detections []Detection, roster []Identity, threshold float64) []Result {
	if len(roster) == 0 {
		return nil
	}

	var results []Result
	for _, det := range detections {
		if r, ok := Match(det.Embedding, roster, threshold); ok {
			results = append(results, r)
		}
	}
	return results
}
