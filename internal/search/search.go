// Package search implements ranked similarity queries over a directory's
// sidecars: text/image blending, negative-query subtraction, per-frame best
// match for video, and the filtering/sorting pipeline of base spec §4.9.
package search

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/hyphonical/scout/internal/embedding"
	"github.com/hyphonical/scout/internal/sidecar"
)

// NegativeWeight is the constant W_neg applied to a negative-query
// similarity when subtracting it from the primary score.
const NegativeWeight = 0.7

// Query is the constructed search vector plus the parameters that shape
// ranking and filtering.
type Query struct {
	Vector       embedding.Embedding
	Negative     *embedding.Embedding
	MinScore     float64
	Limit        int
	IncludeRef   bool
	ExcludeVideo bool
	RefPath      string // canonical path of image_ref, used for IncludeRef exclusion
}

// Result is one ranked hit.
type Result struct {
	Path      string
	Score     float64
	Timestamp *float64 // set only for video hits
}

// BuildQuery constructs the query vector from the CLI-level inputs per base
// spec §4.9: exactly one of {text, image} must be present, or both (in
// which case they are blended by weight).
func BuildQuery(textEmb, imageEmb *embedding.Embedding, weight float64, negativeEmb *embedding.Embedding) (embedding.Embedding, error) {
	if textEmb == nil && imageEmb == nil {
		return embedding.Embedding{}, fmt.Errorf("search: at least one of text or image query is required")
	}
	if weight < 0 || weight > 1 {
		return embedding.Embedding{}, fmt.Errorf("search: weight %v out of range [0,1]", weight)
	}

	switch {
	case textEmb != nil && imageEmb != nil:
		return embedding.Blend(*textEmb, *imageEmb, float32(weight)), nil
	case textEmb != nil:
		return *textEmb, nil
	default:
		return *imageEmb, nil
	}
}

// Run scores every sidecar against q and returns filtered, sorted results.
func Run(q Query, sidecars []sidecar.Sidecar, mediaDirs []string) []Result {
	var out []Result
	for i, s := range sidecars {
		mediaDir := ""
		if i < len(mediaDirs) {
			mediaDir = mediaDirs[i]
		}
		path := filepath.Join(mediaDir, s.Filename)

		if q.ExcludeVideo && s.IsVideo() {
			continue
		}
		if !q.IncludeRef && q.RefPath != "" {
			if canonical, err := filepath.Abs(path); err == nil {
				if refCanonical, err := filepath.Abs(q.RefPath); err == nil && canonical == refCanonical {
					continue
				}
			}
		}

		var res *Result
		if s.IsVideo() {
			res = scoreVideo(q, s, path)
		} else {
			res = scoreImage(q, s, path)
		}
		if res == nil {
			continue
		}
		if res.Score < q.MinScore {
			continue
		}
		out = append(out, *res)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func negativeComponent(q Query, emb embedding.Embedding) float64 {
	if q.Negative == nil {
		return 0
	}
	return NegativeWeight * float64(q.Negative.Similarity(emb))
}

func scoreImage(q Query, s sidecar.Sidecar, path string) *Result {
	base := float64(q.Vector.Similarity(s.Embedding))
	score := base - negativeComponent(q, s.Embedding)
	return &Result{Path: path, Score: score}
}

func scoreVideo(q Query, s sidecar.Sidecar, path string) *Result {
	if len(s.Frames) == 0 {
		return nil
	}
	bestScore := float64(0)
	bestTS := s.Frames[0].Timestamp
	first := true
	for _, f := range s.Frames {
		score := float64(q.Vector.Similarity(f.Embedding)) - negativeComponent(q, f.Embedding)
		if first || score > bestScore {
			bestScore = score
			bestTS = f.Timestamp
			first = false
		}
	}
	return &Result{Path: path, Score: bestScore, Timestamp: &bestTS}
}
