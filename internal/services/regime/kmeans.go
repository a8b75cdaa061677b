package regime

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

const kmeansRestarts = 10

// kmeans runs seeded k-means++ with Lloyd iterations. The RNG drives
// both the restarts and the center seeding, so a fixed source yields
// identical labels run after run.
func kmeans(data *mat.Dense, k, maxIter int, rng *rand.Rand) []int {
	rows, cols := data.Dims()
	points := make([][]float64, rows)
	for i := 0; i < rows; i++ {
		points[i] = mat.Row(nil, i, data)
	}

	bestLabels := make([]int, rows)
	bestInertia := math.Inf(1)

	for restart := 0; restart < kmeansRestarts; restart++ {
		centers := seedCenters(points, k, rng)
		labels := make([]int, rows)

		for iter := 0; iter < maxIter; iter++ {
			moved := assign(points, centers, labels)
			recenter(points, labels, centers, cols)
			if !moved {
				break
			}
		}

		inertia := 0.0
		for i, p := range points {
			inertia += sqDist(p, centers[labels[i]])
		}
		if inertia < bestInertia {
			bestInertia = inertia
			copy(bestLabels, labels)
		}
	}

	return bestLabels
}

// seedCenters implements k-means++ seeding.
func seedCenters(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	centers := make([][]float64, 0, k)
	first := append([]float64(nil), points[rng.Intn(len(points))]...)
	centers = append(centers, first)

	dists := make([]float64, len(points))
	for len(centers) < k {
		total := 0.0
		for i, p := range points {
			d := math.Inf(1)
			for _, c := range centers {
				if v := sqDist(p, c); v < d {
					d = v
				}
			}
			dists[i] = d
			total += d
		}
		if total == 0 {
			// all remaining points coincide with a center
			centers = append(centers, append([]float64(nil), points[rng.Intn(len(points))]...))
			continue
		}
		target := rng.Float64() * total
		acc := 0.0
		idx := len(points) - 1
		for i, d := range dists {
			acc += d
			if acc >= target {
				idx = i
				break
			}
		}
		centers = append(centers, append([]float64(nil), points[idx]...))
	}
	return centers
}

func assign(points, centers [][]float64, labels []int) bool {
	moved := false
	for i, p := range points {
		best, bestD := 0, math.Inf(1)
		for c, center := range centers {
			if d := sqDist(p, center); d < bestD {
				best, bestD = c, d
			}
		}
		if labels[i] != best {
			labels[i] = best
			moved = true
		}
	}
	return moved
}

func recenter(points [][]float64, labels []int, centers [][]float64, cols int) {
	counts := make([]int, len(centers))
	for c := range centers {
		for j := 0; j < cols; j++ {
			centers[c][j] = 0
		}
	}
	for i, p := range points {
		c := labels[i]
		counts[c]++
		for j, v := range p {
			centers[c][j] += v
		}
	}
	for c := range centers {
		if counts[c] == 0 {
			continue
		}
		for j := 0; j < cols; j++ {
			centers[c][j] /= float64(counts[c])
		}
	}
	// an emptied cluster reseeds from the point farthest from its
	// assigned center, the point the current partition fits worst
	for c := range centers {
		if counts[c] > 0 {
			continue
		}
		far, farD := 0, -1.0
		for i, p := range points {
			if d := sqDist(p, centers[labels[i]]); d > farD {
				far, farD = i, d
			}
		}
		copy(centers[c], points[far])
	}
}

func sqDist(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

// silhouette computes the mean silhouette coefficient over all points.
// Returns -1 when any cluster is empty or a cluster holds every point,
// which disqualifies the candidate k.
func silhouette(data *mat.Dense, labels []int, k int) float64 {
	rows, _ := data.Dims()
	counts := make([]int, k)
	for _, l := range labels {
		counts[l]++
	}
	for _, c := range counts {
		if c == 0 || c == rows {
			return -1
		}
	}

	points := make([][]float64, rows)
	for i := 0; i < rows; i++ {
		points[i] = mat.Row(nil, i, data)
	}

	sum := 0.0
	meanDist := make([]float64, k)
	for i, p := range points {
		for c := range meanDist {
			meanDist[c] = 0
		}
		for j, q := range points {
			if i == j {
				continue
			}
			meanDist[labels[j]] += math.Sqrt(sqDist(p, q))
		}

		own := labels[i]
		var a float64
		if counts[own] > 1 {
			a = meanDist[own] / float64(counts[own]-1)
		}
		b := math.Inf(1)
		for c := 0; c < k; c++ {
			if c == own {
				continue
			}
			if v := meanDist[c] / float64(counts[c]); v < b {
				b = v
			}
		}

		if counts[own] > 1 {
			if m := math.Max(a, b); m > 0 {
				sum += (b - a) / m
			}
		}
		// singleton clusters contribute 0
	}
	return sum / float64(rows)
}
