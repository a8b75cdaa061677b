package regime

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// standardize converts each column to z-scores, clipping at ±clip.
// Zero-variance columns become all zeros instead of dividing by zero.
func standardize(m *mat.Dense, clip float64) *mat.Dense {
	rows, cols := m.Dims()
	out := mat.NewDense(rows, cols, nil)
	col := make([]float64, rows)

	for j := 0; j < cols; j++ {
		mat.Col(col, j, m)
		mean, std := stat.MeanStdDev(col, nil)
		for i := 0; i < rows; i++ {
			var z float64
			if std > 0 {
				z = (col[i] - mean) / std
			}
			if clip > 0 {
				if z > clip {
					z = clip
				} else if z < -clip {
					z = -clip
				}
			}
			out.Set(i, j, z)
		}
	}
	return out
}

// projectPCA reduces the standardized matrix to the smallest number of
// principal components whose cumulative explained variance reaches the
// target ratio. At least one component is always kept.
func projectPCA(z *mat.Dense, target float64) (*mat.Dense, float64, int, error) {
	rows, cols := z.Dims()
	if rows < 2 {
		return nil, 0, 0, fmt.Errorf("pca needs at least 2 rows, got %d", rows)
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(z, nil); !ok {
		return nil, 0, 0, fmt.Errorf("principal component decomposition failed")
	}

	vars := pc.VarsTo(nil)
	total := 0.0
	for _, v := range vars {
		total += v
	}
	if total <= 0 || math.IsNaN(total) {
		return nil, 0, 0, fmt.Errorf("no variance in standardized features")
	}

	keep := 1
	cum := vars[0] / total
	for keep < len(vars) && cum < target {
		cum += vars[keep] / total
		keep++
	}

	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	proj := mat.NewDense(rows, keep, nil)
	proj.Mul(z, vecs.Slice(0, cols, 0, keep))

	return proj, cum, keep, nil
}
