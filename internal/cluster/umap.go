package cluster

import "math"

// pcaReducer is a dimensionality-reduction adapter behind the Reducer
// interface: principal component analysis via power iteration with
// deflation. Like mstDensifier, it is a deterministic, corpus-free stand-in
// for a true UMAP implementation — no UMAP binding exists anywhere in the
// reference corpus, and the design note for C10 specifies only the adapter
// contract, not the internals. PCA preserves the same "reduce to a smaller
// Euclidean space before density clustering" role UMAP would play.
type pcaReducer struct{}

// NewReducer returns the default Reducer adapter.
func NewReducer() Reducer { return pcaReducer{} }

// Reduce ignores neighbors (UMAP's neighbor graph has no PCA analogue) and
// projects x onto its top `components` principal axes.
func (pcaReducer) Reduce(x [][]float32, neighbors, components int) ([][]float32, error) {
	n := len(x)
	if n == 0 {
		return nil, nil
	}
	dim := len(x[0])
	if components <= 0 || components > dim {
		components = dim
	}

	mean := make([]float64, dim)
	for _, row := range x {
		for j, v := range row {
			mean[j] += float64(v)
		}
	}
	for j := range mean {
		mean[j] /= float64(n)
	}

	centered := make([][]float64, n)
	for i, row := range x {
		centered[i] = make([]float64, dim)
		for j, v := range row {
			centered[i][j] = float64(v) - mean[j]
		}
	}

	axes := make([][]float64, 0, components)
	working := centered
	for c := 0; c < components; c++ {
		axis := powerIterationAxis(working, dim, c)
		axes = append(axes, axis)
		working = deflate(working, axis)
	}

	out := make([][]float32, n)
	for i := range out {
		out[i] = make([]float32, components)
		for c, axis := range axes {
			out[i][c] = float32(dot(centered[i], axis))
		}
	}
	return out, nil
}

// powerIterationAxis estimates the dominant eigenvector of data's covariance
// matrix without materializing it, using a fixed number of power-iteration
// steps. seed picks a deterministic, distinct starting vector per axis so
// consecutive axes don't converge to the same direction before deflation
// takes effect.
func powerIterationAxis(data [][]float64, dim, seed int) []float64 {
	v := make([]float64, dim)
	v[seed%dim] = 1
	const iterations = 64

	for iter := 0; iter < iterations; iter++ {
		next := make([]float64, dim)
		for _, row := range data {
			proj := dot(row, v)
			for j, val := range row {
				next[j] += proj * val
			}
		}
		norm := math.Sqrt(dot(next, next))
		if norm < 1e-12 {
			return v
		}
		for j := range next {
			next[j] /= norm
		}
		v = next
	}
	return v
}

// deflate removes the component of data along axis so the next power
// iteration converges to an orthogonal direction.
func deflate(data [][]float64, axis []float64) [][]float64 {
	out := make([][]float64, len(data))
	for i, row := range data {
		proj := dot(row, axis)
		newRow := make([]float64, len(row))
		for j, v := range row {
			newRow[j] = v - proj*axis[j]
		}
		out[i] = newRow
	}
	return out
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
