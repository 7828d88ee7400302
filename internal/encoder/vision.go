// Package encoder wraps the two ONNX models Scout embeds images and text
// with: a vision encoder and a text encoder, both lazily loaded on first
// use (base spec §4.5).
package encoder

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sync"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyphonical/scout/internal/config"
	"github.com/hyphonical/scout/internal/embedding"
	"github.com/hyphonical/scout/internal/runtime"
)

// InputSize is the square resolution every image is resized to before
// inference.
const InputSize = 512

// Vision wraps the vision ONNX session. It is safe for concurrent use: ONNX
// Runtime sessions accept concurrent Run calls.
type Vision struct {
	sess *runtime.Session
	mu   sync.Mutex // guards lazy init only, not Run
}

// NewVision constructs a Vision encoder without loading the model yet. Call
// Embed to trigger the lazy load.
func NewVision(modelDir string) *Vision {
	return &Vision{sess: nil}
}

// visionModelPath is the conventional location inside modelDir.
func visionModelPath(modelDir string) string {
	return filepath.Join(modelDir, "vision.onnx")
}

func (v *Vision) ensureLoaded(modelDir string, provider config.Provider, log *config.Logger, numThreads int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.sess != nil {
		return nil
	}
	path := visionModelPath(modelDir)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("vision model not found at %s: %w", path, err)
	}
	sess, err := runtime.NewSession(path, []string{"pixel_values"}, []string{"pooler_output", "last_hidden_state"}, provider, log, numThreads)
	if err != nil {
		return fmt.Errorf("vision session: %w", err)
	}
	v.sess = sess
	return nil
}

// Embed preprocesses the already decoded img, runs inference, and returns a
// normalized Embedding.
func (v *Vision) Embed(img image.Image, modelDir string, provider config.Provider, log *config.Logger, numThreads int) (embedding.Embedding, error) {
	if err := v.ensureLoaded(modelDir, provider, log, numThreads); err != nil {
		return embedding.Embedding{}, err
	}

	tensor, err := preprocess(img)
	if err != nil {
		return embedding.Embedding{}, err
	}
	defer tensor.Destroy()

	outputs := []ort.Value{nil, nil}
	if err := v.sess.Run([]ort.Value{tensor}, outputs); err != nil {
		return embedding.Embedding{}, fmt.Errorf("vision inference: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	vec, err := poolOutput(outputs)
	if err != nil {
		return embedding.Embedding{}, err
	}
	return embedding.New(vec), nil
}

// preprocess resizes img to InputSize x InputSize with a Catmull-Rom filter,
// converts to RGB8, and builds an NCHW [1, 3, H, W] float32 tensor scaled to
// [0, 1] with no mean/std subtraction (the model absorbs it), per base
// spec §4.5.
func preprocess(img image.Image) (*ort.Tensor[float32], error) {
	resized := imaging.Resize(img, InputSize, InputSize, imaging.CatmullRom)
	bounds := resized.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	data := make([]float32, 3*h*w)
	plane := h * w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			idx := y*w + x
			data[idx] = float32(r) / 65535.0
			data[plane+idx] = float32(g) / 65535.0
			data[2*plane+idx] = float32(b) / 65535.0
		}
	}

	shape := ort.NewShape(1, 3, int64(h), int64(w))
	tensor, err := ort.NewTensor(shape, data)
	if err != nil {
		return nil, fmt.Errorf("pixel tensor: %w", err)
	}
	return tensor, nil
}

// poolOutput extracts a single embedding vector from a pooler_output (or
// fallback second-output) tensor: [1, D] returns directly, [1, N, D]
// mean-pools across N, per base spec §4.5.
func poolOutput(outputs []ort.Value) ([]float32, error) {
	var t *ort.Tensor[float32]
	for _, o := range outputs {
		if o == nil {
			continue
		}
		if candidate, ok := o.(*ort.Tensor[float32]); ok {
			t = candidate
			break
		}
	}
	if t == nil {
		return nil, fmt.Errorf("no usable float32 output tensor")
	}

	shape := t.GetShape()
	data := t.GetData()

	switch len(shape) {
	case 2:
		d := int(shape[1])
		vec := make([]float32, d)
		copy(vec, data[:d])
		return vec, nil
	case 3:
		n, d := int(shape[1]), int(shape[2])
		vec := make([]float32, d)
		for i := 0; i < n; i++ {
			base := i * d
			for j := 0; j < d; j++ {
				vec[j] += data[base+j]
			}
		}
		if n > 0 {
			inv := float32(1.0 / float64(n))
			for j := range vec {
				vec[j] *= inv
			}
		}
		return vec, nil
	default:
		return nil, fmt.Errorf("unexpected output rank %d", len(shape))
	}
}

// Close releases the underlying session, if loaded.
func (v *Vision) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.sess != nil {
		v.sess.Destroy()
		v.sess = nil
	}
}
