// Package outlier computes Local Outlier Factor scores over cosine
// distance, data-parallel across points, per base spec §4.11.
package outlier

import (
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/hyphonical/scout/internal/embedding"
)

// Item is one scored point: its path and embedding.
type Item struct {
	Path      string
	Embedding embedding.Embedding
}

// Result is one outlier hit.
type Result struct {
	Path string
	LOF  float64
}

// neighborInfo holds the per-point intermediate values LOF needs.
type neighborInfo struct {
	neighbors []int
	distances []float64 // distances[j] aligned with neighbors[j]
	kDist     float64
}

// Compute runs the three-pass LOF algorithm over items and returns the top
// limit points by descending LOF. Requires len(items) >= k+1.
func Compute(items []Item, k int, limit int) ([]Result, error) {
	n := len(items)
	if n < k+1 {
		return nil, fmt.Errorf("outlier: need at least %d points for k=%d, got %d", k+1, k, n)
	}

	dist := make([][]float64, n)
	for i := 0; i < n; i++ {
		dist[i] = make([]float64, n)
	}
	g := new(errgroup.Group)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			for j := 0; j < n; j++ {
				if i == j {
					continue
				}
				dist[i][j] = float64(items[i].Embedding.Distance(items[j].Embedding))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	infos := make([]neighborInfo, n)
	g = new(errgroup.Group)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			type pair struct {
				idx int
				d   float64
			}
			pairs := make([]pair, 0, n-1)
			for j := 0; j < n; j++ {
				if i == j {
					continue
				}
				pairs = append(pairs, pair{j, dist[i][j]})
			}
			sort.Slice(pairs, func(a, b int) bool { return pairs[a].d < pairs[b].d })
			top := pairs[:k]
			neighbors := make([]int, k)
			distances := make([]float64, k)
			for idx, p := range top {
				neighbors[idx] = p.idx
				distances[idx] = p.d
			}
			infos[i] = neighborInfo{neighbors: neighbors, distances: distances, kDist: distances[len(distances)-1]}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	lrd := make([]float64, n)
	g = new(errgroup.Group)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			var sum float64
			for idx, j := range infos[i].neighbors {
				reach := infos[i].distances[idx]
				if infos[j].kDist > reach {
					reach = infos[j].kDist
				}
				sum += reach
			}
			if sum == 0 {
				lrd[i] = 1.0
				return nil
			}
			lrd[i] = float64(k) / sum
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	lof := make([]float64, n)
	g = new(errgroup.Group)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if lrd[i] == 0 || len(infos[i].neighbors) == 0 {
				lof[i] = 1.0
				return nil
			}
			var sum float64
			for _, j := range infos[i].neighbors {
				sum += lrd[j] / lrd[i]
			}
			lof[i] = sum / float64(k)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]Result, n)
	for i := range items {
		results[i] = Result{Path: items[i].Path, LOF: lof[i]}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].LOF > results[j].LOF })

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
