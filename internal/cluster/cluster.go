// Package cluster groups visually similar media by embedding, adapting the
// pipeline of base spec §4.10: an optional dimensionality-reduction pass
// (UMAP-like), a density-based clustering pass (HDBSCAN-like), then
// representative/cohesion computation and a deterministic cache.
package cluster

import (
	"fmt"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/errgroup"

	"github.com/hyphonical/scout/internal/embedding"
)

// Reducer is the adapter contract for a UMAP-like dimensionality reducer.
// No corpus-grounded Go binding for UMAP exists; this boundary lets a real
// implementation be substituted without touching the clustering pipeline.
type Reducer interface {
	Reduce(x [][]float32, neighbors, components int) ([][]float32, error)
}

// Densifier is the adapter contract for an HDBSCAN-like density clusterer.
// Labels follow the HDBSCAN convention: -1 is noise, 0..k are cluster ids.
type Densifier interface {
	Cluster(x [][]float32, minClusterSize int, minSamples *int) ([]int, error)
}

// Params are the clustering parameters from base spec §4.10, also persisted
// into the cache file so a parameter change invalidates it.
type Params struct {
	MinClusterSize int     `msgpack:"min_cluster_size"`
	MinSamples     *int    `msgpack:"min_samples,omitempty"`
	CohesionThresh float64 `msgpack:"cohesion_threshold"`
	UseUMAP        bool    `msgpack:"use_umap"`
	UMAPNeighbors  int     `msgpack:"umap_neighbors"`
	UMAPComponents int     `msgpack:"umap_components"`
}

// Cluster is one discovered group of visually similar media.
type Cluster struct {
	ID                 int      `msgpack:"id"`
	Hashes             []string `msgpack:"hashes"`
	RepresentativeHash string   `msgpack:"representative_hash"`
	Cohesion           float64  `msgpack:"cohesion"`
}

// Database is the full clustering result, persisted as the cache file.
type Database struct {
	Version     string    `msgpack:"version"`
	Timestamp   string    `msgpack:"timestamp"`
	Params      Params    `msgpack:"params"`
	Clusters    []Cluster `msgpack:"clusters"`
	Noise       []string  `msgpack:"noise"`
	TotalImages int       `msgpack:"total_images"`
	ContentHash uint64    `msgpack:"content_hash"`
}

// Item is one media point to cluster: its content hash and primary
// embedding (for a video, the first frame's embedding per base spec §4.10).
type Item struct {
	Hash      string
	Embedding embedding.Embedding
}

const version = "scout-cluster-1"

// Run executes the full pipeline against items and returns a Database.
// timestamp is supplied by the caller (clock reads happen at the process
// boundary, not inside this package, to keep the pipeline deterministic and
// testable).
func Run(items []Item, params Params, reducer Reducer, densifier Densifier, timestamp time.Time) (Database, error) {
	if len(items) == 0 {
		return Database{}, fmt.Errorf("cluster: no embeddings to cluster")
	}

	x := make([][]float32, len(items))
	for i, it := range items {
		x[i] = it.Embedding.Vec()
	}

	xPrime := x
	if params.UseUMAP && len(items) >= params.UMAPNeighbors+1 {
		if reducer == nil {
			return Database{}, fmt.Errorf("cluster: use_umap requested but no Reducer configured")
		}
		reduced, err := reducer.Reduce(x, params.UMAPNeighbors, params.UMAPComponents)
		if err != nil {
			return Database{}, fmt.Errorf("reduce: %w", err)
		}
		xPrime = reduced
	}

	labels, err := densifier.Cluster(xPrime, params.MinClusterSize, params.MinSamples)
	if err != nil {
		return Database{}, fmt.Errorf("densify: %w", err)
	}
	if len(labels) != len(items) {
		return Database{}, fmt.Errorf("cluster: labels length %d != items length %d", len(labels), len(items))
	}

	byLabel := make(map[int][]int) // label -> item indices, insertion order preserved
	var labelOrder []int
	var noiseIdx []int
	for i, label := range labels {
		if label < 0 {
			noiseIdx = append(noiseIdx, i)
			continue
		}
		if _, ok := byLabel[label]; !ok {
			labelOrder = append(labelOrder, label)
		}
		byLabel[label] = append(byLabel[label], i)
	}

	clusters := make([]Cluster, len(labelOrder))
	g := new(errgroup.Group)
	for slot, label := range labelOrder {
		slot, label := slot, label
		g.Go(func() error {
			idxs := byLabel[label]
			rep, cohesion := representativeAndCohesion(items, idxs)
			hashes := make([]string, len(idxs))
			for i, idx := range idxs {
				hashes[i] = items[idx].Hash
			}
			clusters[slot] = Cluster{
				Hashes:             hashes,
				RepresentativeHash: rep,
				Cohesion:           cohesion,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Database{}, err
	}

	// Clusters below a positive cohesion threshold are dropped; their members
	// join the noise list.
	var dropped []string
	if params.CohesionThresh > 0 {
		kept := clusters[:0]
		for _, c := range clusters {
			if c.Cohesion < params.CohesionThresh {
				dropped = append(dropped, c.Hashes...)
				continue
			}
			kept = append(kept, c)
		}
		clusters = kept
	}

	sort.SliceStable(clusters, func(i, j int) bool {
		return len(clusters[i].Hashes) > len(clusters[j].Hashes)
	})
	for i := range clusters {
		clusters[i].ID = i
	}

	noise := make([]string, len(noiseIdx))
	for i, idx := range noiseIdx {
		noise[i] = items[idx].Hash
	}
	noise = append(noise, dropped...)

	db := Database{
		Version:     version,
		Timestamp:   timestamp.UTC().Format(time.RFC3339),
		Params:      params,
		Clusters:    clusters,
		Noise:       noise,
		TotalImages: len(items),
	}
	db.ContentHash = ContentHash(db, params)
	return db, nil
}

// representativeAndCohesion finds the member closest to the cluster's
// L2-normalized centroid, and the mean pairwise cosine similarity over the
// cluster's members. Singletons default cohesion to 1.0.
func representativeAndCohesion(items []Item, idxs []int) (string, float64) {
	embs := make([]embedding.Embedding, len(idxs))
	for i, idx := range idxs {
		embs[i] = items[idx].Embedding
	}
	centroid := embedding.Centroid(embs)

	bestHash := items[idxs[0]].Hash
	bestSim := float32(-2)
	for _, idx := range idxs {
		sim := centroid.Similarity(items[idx].Embedding)
		if sim > bestSim {
			bestSim = sim
			bestHash = items[idx].Hash
		}
	}

	if len(idxs) < 2 {
		return bestHash, 1.0
	}

	var total float64
	var count int
	for i := 0; i < len(embs); i++ {
		for j := i + 1; j < len(embs); j++ {
			total += float64(embs[i].Similarity(embs[j]))
			count++
		}
	}
	cohesion := 1.0
	if count > 0 {
		cohesion = total / float64(count)
	}
	return bestHash, cohesion
}

// ContentHash hashes the sorted member+noise hashes and params so a cache
// entry can be validated cheaply (base spec §4.10 step 6).
func ContentHash(db Database, params Params) uint64 {
	var all []string
	for _, c := range db.Clusters {
		all = append(all, c.Hashes...)
	}
	all = append(all, db.Noise...)
	sort.Strings(all)

	h := xxhash.New()
	for _, s := range all {
		h.WriteString(s)
		h.Write([]byte{0})
	}
	minSamples := -1
	if params.MinSamples != nil {
		minSamples = *params.MinSamples
	}
	fmt.Fprintf(h, "%d|%d|%v", params.MinClusterSize, minSamples, params.UseUMAP)
	return h.Sum64()
}

// Load deserializes a cache file's bytes into a Database.
func Load(data []byte) (Database, error) {
	var db Database
	if err := msgpack.Unmarshal(data, &db); err != nil {
		return Database{}, fmt.Errorf("corrupt cluster cache: %w", err)
	}
	return db, nil
}

// Marshal serializes db for writing to the cache file.
func Marshal(db Database) ([]byte, error) {
	return msgpack.Marshal(&db)
}

// Valid reports whether cached matches the freshly computed content hash
// and params, i.e. whether it can be returned unchanged (base spec §4.10
// cache rule, testable property 10).
func Valid(cached Database, wantParams Params, wantContentHash uint64) bool {
	return cached.ContentHash == wantContentHash &&
		cached.Params.MinClusterSize == wantParams.MinClusterSize &&
		cached.Params.CohesionThresh == wantParams.CohesionThresh &&
		cached.Params.UseUMAP == wantParams.UseUMAP &&
		cached.Params.UMAPNeighbors == wantParams.UMAPNeighbors &&
		cached.Params.UMAPComponents == wantParams.UMAPComponents
}
