// Package indexer orchestrates turning a scanner.Result's to-process list
// into persisted sidecars: decode, encode, save, one file at a time (models
// are not multi-consumer), per base spec §4.8.
package indexer

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/hyphonical/scout/internal/config"
	"github.com/hyphonical/scout/internal/encoder"
	"github.com/hyphonical/scout/internal/media"
	"github.com/hyphonical/scout/internal/sidecar"
	"github.com/hyphonical/scout/internal/video"
)

// Models bundles the lazily-loaded encoders an Indexer drives. A single
// Models instance is meant to be shared (and, in the watcher, mutex-guarded)
// across many Index calls.
type Models struct {
	Vision *encoder.Vision
	Text   *encoder.Text
}

// Options carries the run-wide settings an Index call needs.
type Options struct {
	ModelDir    string
	FfmpegPath  string
	FfprobePath string
	Provider    config.Provider
	NumThreads  int
	MaxFrames   int
	SceneThresh float64
	Log         *config.Logger
}

// Summary counts per-file outcomes across a batch, per base spec §7's
// propagation policy: errors are counted, never fatal to the batch.
type Summary struct {
	Indexed int
	Errors  []error
}

// IndexAll processes every path in paths sequentially and returns a summary.
// The run continues past per-file errors.
func IndexAll(models *Models, paths []string, opts Options) Summary {
	var sum Summary
	for _, path := range paths {
		if err := IndexOne(models, path, opts); err != nil {
			sum.Errors = append(sum.Errors, fmt.Errorf("%s: %w", path, err))
			continue
		}
		sum.Indexed++
	}
	return sum
}

// IndexOne encodes and persists a sidecar for a single file.
func IndexOne(models *Models, path string, opts Options) error {
	mt := media.Detect(path)
	switch mt {
	case media.Image:
		return indexImage(models, path, opts)
	case media.Video:
		return indexVideo(models, path, opts)
	default:
		return fmt.Errorf("not a recognized media file")
	}
}

func indexImage(models *Models, path string, opts Options) error {
	hash, err := media.Compute(path)
	if err != nil {
		return fmt.Errorf("hash: %w", err)
	}

	img, err := decodeWithSniffFallback(path, opts.Log)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	emb, err := models.Vision.Embed(img, opts.ModelDir, opts.Provider, opts.Log, opts.NumThreads)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	mediaDir := filepath.Dir(path)
	s := sidecar.NewImage(sidecar.CurrentVersion, filepath.Base(path), hash, emb)
	if err := sidecar.SaveImage(s, mediaDir, hash); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	return nil
}

func indexVideo(models *Models, path string, opts Options) error {
	hash, err := media.Compute(path)
	if err != nil {
		return fmt.Errorf("hash: %w", err)
	}

	maxFrames := opts.MaxFrames
	if maxFrames <= 0 {
		maxFrames = 8
	}
	frames, err := video.Extract(opts.FfmpegPath, opts.FfprobePath, path, maxFrames, opts.SceneThresh)
	if err != nil {
		return fmt.Errorf("extract frames: %w", err)
	}

	sidecarFrames := make([]sidecar.Frame, 0, len(frames))
	for _, f := range frames {
		emb, err := models.Vision.Embed(f.Image, opts.ModelDir, opts.Provider, opts.Log, opts.NumThreads)
		if err != nil {
			if opts.Log != nil {
				opts.Log.Warnf("%s: encode frame at %.2fs: %v", path, f.Timestamp, err)
			}
			continue
		}
		sidecarFrames = append(sidecarFrames, sidecar.Frame{Timestamp: f.Timestamp, Embedding: emb})
	}
	if len(sidecarFrames) == 0 {
		return fmt.Errorf("no frames could be encoded")
	}

	mediaDir := filepath.Dir(path)
	s := sidecar.NewVideo(sidecar.CurrentVersion, filepath.Base(path), hash, sidecarFrames)
	if err := sidecar.SaveVideo(s, mediaDir, hash); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	return nil
}

// decodeWithSniffFallback decodes path with the format-agnostic decoder,
// which detects the real format from the content, and warns when that
// format does not match the file's extension, per base spec §6. When the
// content cannot be decoded at all, the sniffed content type is reported in
// the error; no second decode is attempted.
func decodeWithSniffFallback(path string, log *config.Logger) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if img, format, err := image.Decode(bytes.NewReader(data)); err == nil {
		if extMatchesFormat(path, format) {
			return img, nil
		}
		if log != nil {
			log.Warnf("%s: mismatched extension, decoded as %s", path, format)
		}
		return img, nil
	}

	sniffed := http.DetectContentType(data)
	return nil, fmt.Errorf("decode failed (sniffed content type: %s)", sniffed)
}

func extMatchesFormat(path, format string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if len(ext) > 0 {
		ext = ext[1:]
	}
	switch format {
	case "jpeg":
		return ext == "jpg" || ext == "jpeg"
	case "tiff":
		return ext == "tif" || ext == "tiff"
	default:
		return ext == format
	}
}
