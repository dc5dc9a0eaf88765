package discovery

import "math"

// noiseLabel marks points that belong to no cluster.
const noiseLabel = -1

// cosineDistance is 1 minus the cosine similarity of two equal-length
// vectors. Zero vectors are treated as maximally distant from everything
// but each other.
func cosineDistance(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 && normB == 0 {
		return 0
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

// dbscan clusters feature vectors by cosine distance. Points within eps
// of at least minSamples neighbors (themselves included) seed clusters;
// unreachable points are labeled noise. Labels index into points.
func dbscan(points [][]float64, eps float64, minSamples int) []int {
	n := len(points)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = noiseLabel
	}
	visited := make([]bool, n)
	cluster := 0

	neighborsOf := func(i int) []int {
		var out []int
		for j := 0; j < n; j++ {
			if cosineDistance(points[i], points[j]) <= eps {
				out = append(out, j)
			}
		}
		return out
	}

	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}
		visited[i] = true

		neighbors := neighborsOf(i)
		if len(neighbors) < minSamples {
			continue
		}

		labels[i] = cluster
		queue := append([]int(nil), neighbors...)
		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]

			if labels[j] == noiseLabel {
				labels[j] = cluster
			}
			if visited[j] {
				continue
			}
			visited[j] = true
			labels[j] = cluster

			expanded := neighborsOf(j)
			if len(expanded) >= minSamples {
				queue = append(queue, expanded...)
			}
		}
		cluster++
	}
	return labels
}
