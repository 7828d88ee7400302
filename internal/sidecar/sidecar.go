// Package sidecar implements the content-addressed embedding index: the
// on-disk representation of one media file's embedding(s), and the
// filesystem layout that maps a hash to its sidecar path.
//
// A Sidecar is a tagged union with two variants, Image and Video. We keep
// it a sum type — callers switch on Frames == nil rather than Scout
// modeling this as an interface with late-bound dispatch, per the design
// note that the two variants have distinct serialized shapes and iteration
// protocols (one embedding vs. a frame list).
package sidecar

import (
	"fmt"

	"github.com/hyphonical/scout/internal/embedding"
	"github.com/hyphonical/scout/internal/media"
)

// Frame is one sampled timestamp of a video and its embedding.
type Frame struct {
	Timestamp float64            `msgpack:"timestamp"`
	Embedding embedding.Embedding `msgpack:"-"`

	// RawEmbedding is the wire representation of Embedding; msgpack can't
	// serialize the embedding.Embedding wrapper type directly so we marshal
	// through this plain slice (NewVideo fills it; rehydrate below rebuilds
	// Embedding from it after Load).
	RawEmbedding []float32 `msgpack:"embedding"`
}

// Sidecar is the tagged union persisted next to a media file. Exactly one
// of Embedding (image) or Frames (video, non-nil) is meaningful; presence
// of a non-nil Frames slice is what discriminates the variant on the wire,
// per base spec §3/§6.
type Sidecar struct {
	Version  string        `msgpack:"version"`
	Filename string        `msgpack:"filename"`
	Hash     media.FileHash `msgpack:"hash"`

	// Image variant.
	Embedding embedding.Embedding `msgpack:"-"`
	RawEmbedding []float32        `msgpack:"embedding,omitempty"`

	// Video variant. Non-nil (even if empty) marks this as a video sidecar.
	Frames []Frame `msgpack:"frames,omitempty"`
}

// IsVideo reports whether this sidecar is the Video variant.
func (s Sidecar) IsVideo() bool { return s.Frames != nil }

// NewImage constructs an Image-variant sidecar.
func NewImage(version, filename string, hash media.FileHash, emb embedding.Embedding) Sidecar {
	return Sidecar{
		Version:      version,
		Filename:     filename,
		Hash:         hash,
		Embedding:    emb,
		RawEmbedding: emb.Vec(),
	}
}

// NewVideo constructs a Video-variant sidecar.
func NewVideo(version, filename string, hash media.FileHash, frames []Frame) Sidecar {
	for i := range frames {
		frames[i].RawEmbedding = frames[i].Embedding.Vec()
	}
	return Sidecar{
		Version:  version,
		Filename: filename,
		Hash:     hash,
		Frames:   frames,
	}
}

// PrimaryEmbedding returns the embedding used for directory-wide operations
// that need exactly one vector per media item (clustering, outliers): the
// image embedding, or the first frame's embedding for a video. Per base
// spec §4.10 Open Questions, an alternative (mean of frames) would change
// this; we use the first frame as specified.
func (s Sidecar) PrimaryEmbedding() embedding.Embedding {
	if s.IsVideo() {
		if len(s.Frames) == 0 {
			return embedding.Embedding{}
		}
		return s.Frames[0].Embedding
	}
	return s.Embedding
}

// rehydrate rebuilds the embedding.Embedding wrapper types from their raw
// float32 slices after a msgpack decode (see store.go Load).
func (s *Sidecar) rehydrate() {
	if s.Frames != nil {
		for i := range s.Frames {
			s.Frames[i].Embedding = embedding.Raw(s.Frames[i].RawEmbedding)
		}
		return
	}
	s.Embedding = embedding.Raw(s.RawEmbedding)
}

// Validate checks the invariants from base spec §3: filename must be a
// basename, not an absolute or parent-traversing path.
func (s Sidecar) Validate() error {
	if s.Filename == "" {
		return fmt.Errorf("sidecar: empty filename")
	}
	for _, r := range s.Filename {
		if r == '/' || r == '\\' {
			return fmt.Errorf("sidecar: filename %q is not a basename", s.Filename)
		}
	}
	if s.Filename == ".." || s.Filename == "." {
		return fmt.Errorf("sidecar: filename %q is not a valid basename", s.Filename)
	}
	return nil
}
