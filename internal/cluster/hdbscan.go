package cluster

import (
	"math"
	"sort"
)

// mstDensifier is a density-clustering adapter behind the Densifier
// interface: it builds a minimum spanning tree over Euclidean distances,
// cuts it at the largest gap between consecutive edge weights (the
// single-linkage dendrogram's most persistent split), and discards any
// resulting component smaller than minClusterSize as noise. It is a
// deliberately simplified stand-in for a full HDBSCAN implementation — see
// the design notes for why no corpus-grounded HDBSCAN binding exists.
type mstDensifier struct{}

// NewDensifier returns the default Densifier adapter.
func NewDensifier() Densifier { return mstDensifier{} }

func (mstDensifier) Cluster(x [][]float32, minClusterSize int, minSamples *int) ([]int, error) {
	n := len(x)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}
	if n == 0 {
		return labels, nil
	}
	if n == 1 {
		return labels, nil // single point is always noise
	}
	if minClusterSize < 1 {
		minClusterSize = 1
	}

	edges := buildMST(x)
	sort.Slice(edges, func(i, j int) bool { return edges[i].weight < edges[j].weight })

	cut := largestGapIndex(edges)

	dsu := newDSU(n)
	for i, e := range edges {
		if i >= cut {
			break
		}
		dsu.union(e.u, e.v)
	}

	members := make(map[int][]int)
	for i := 0; i < n; i++ {
		root := dsu.find(i)
		members[root] = append(members[root], i)
	}

	nextLabel := 0
	// Deterministic order: iterate roots in ascending root index so label
	// assignment doesn't depend on map iteration order.
	roots := make([]int, 0, len(members))
	for r := range members {
		roots = append(roots, r)
	}
	sort.Ints(roots)
	for _, r := range roots {
		idxs := members[r]
		if len(idxs) < minClusterSize {
			continue
		}
		for _, idx := range idxs {
			labels[idx] = nextLabel
		}
		nextLabel++
	}
	return labels, nil
}

// largestGapIndex finds the edge index (1-based count of edges to keep)
// that precedes the largest gap between consecutive sorted edge weights.
// Edges at indices [0, cut) are kept; the rest are cut, splitting the
// minimum spanning tree into its most persistent components.
func largestGapIndex(edges []mstEdge) int {
	if len(edges) == 0 {
		return 0
	}
	bestGap := -1.0
	bestIdx := len(edges)
	for i := 0; i < len(edges)-1; i++ {
		gap := edges[i+1].weight - edges[i].weight
		if gap > bestGap {
			bestGap = gap
			bestIdx = i + 1
		}
	}
	return bestIdx
}

type mstEdge struct {
	u, v   int
	weight float64
}

// buildMST runs Prim's algorithm over the complete Euclidean-distance graph
// of x, which is acceptable for the point counts Scout clusters (single
// directories of media, not web-scale corpora).
func buildMST(x [][]float32) []mstEdge {
	n := len(x)
	inTree := make([]bool, n)
	minDist := make([]float64, n)
	minFrom := make([]int, n)
	for i := range minDist {
		minDist[i] = math.Inf(1)
		minFrom[i] = -1
	}
	minDist[0] = 0

	var edges []mstEdge
	for iter := 0; iter < n; iter++ {
		u := -1
		best := math.Inf(1)
		for v := 0; v < n; v++ {
			if !inTree[v] && minDist[v] < best {
				best = minDist[v]
				u = v
			}
		}
		if u == -1 {
			break
		}
		inTree[u] = true
		if minFrom[u] != -1 {
			edges = append(edges, mstEdge{u: minFrom[u], v: u, weight: minDist[u]})
		}
		for v := 0; v < n; v++ {
			if inTree[v] {
				continue
			}
			d := euclidean(x[u], x[v])
			if d < minDist[v] {
				minDist[v] = d
				minFrom[v] = u
			}
		}
	}
	return edges
}

func euclidean(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

type dsu struct {
	parent []int
	size   []int
}

func newDSU(n int) *dsu {
	d := &dsu{parent: make([]int, n), size: make([]int, n)}
	for i := range d.parent {
		d.parent[i] = i
		d.size[i] = 1
	}
	return d
}

func (d *dsu) find(x int) int {
	for d.parent[x] != x {
		d.parent[x] = d.parent[d.parent[x]]
		x = d.parent[x]
	}
	return x
}

func (d *dsu) union(a, b int) {
	ra, rb := d.find(a), d.find(b)
	if ra == rb {
		return
	}
	if d.size[ra] < d.size[rb] {
		ra, rb = rb, ra
	}
	d.parent[rb] = ra
	d.size[ra] += d.size[rb]
}
