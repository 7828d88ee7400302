package encoder

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/daulet/tokenizers"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyphonical/scout/internal/config"
	"github.com/hyphonical/scout/internal/embedding"
	"github.com/hyphonical/scout/internal/runtime"
)

// MaxQueryTokens caps the tokenized length of any text input. Longer inputs
// are truncated with a one-time warning rather than rejected, per base
// spec §4.5.
const MaxQueryTokens = 64

// Text wraps the text ONNX session and its bundled tokenizer.
type Text struct {
	sess *runtime.Session
	tk   *tokenizers.Tokenizer
	mu   sync.Mutex
}

// NewText constructs a Text encoder without loading the model yet.
func NewText() *Text {
	return &Text{}
}

func textModelPath(modelDir string) string   { return filepath.Join(modelDir, "text.onnx") }
func textTokenizerPath(modelDir string) string { return filepath.Join(modelDir, "tokenizer.json") }

func (t *Text) ensureLoaded(modelDir string, provider config.Provider, log *config.Logger, numThreads int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sess != nil {
		return nil
	}

	modelPath := textModelPath(modelDir)
	tokPath := textTokenizerPath(modelDir)
	if _, err := os.Stat(modelPath); err != nil {
		return fmt.Errorf("text model not found at %s: %w", modelPath, err)
	}
	if _, err := os.Stat(tokPath); err != nil {
		return fmt.Errorf("tokenizer not found at %s: %w", tokPath, err)
	}

	sess, err := runtime.NewSession(modelPath, []string{"input_ids"}, []string{"pooler_output", "last_hidden_state"}, provider, log, numThreads)
	if err != nil {
		return fmt.Errorf("text session: %w", err)
	}
	tk, err := tokenizers.FromFile(tokPath)
	if err != nil {
		sess.Destroy()
		return fmt.Errorf("load tokenizer: %w", err)
	}

	t.sess = sess
	t.tk = tk
	return nil
}

// Embed tokenizes text and returns its normalized Embedding. Whitespace-only
// or empty input is rejected with a user-visible error, per base spec §4.5.
func (t *Text) Embed(text string, modelDir string, provider config.Provider, log *config.Logger, numThreads int) (embedding.Embedding, error) {
	if strings.TrimSpace(text) == "" {
		return embedding.Embedding{}, fmt.Errorf("text encoder: input is empty")
	}
	if err := t.ensureLoaded(modelDir, provider, log, numThreads); err != nil {
		return embedding.Embedding{}, err
	}

	enc := t.tk.EncodeWithOptions(text, true, tokenizers.WithReturnAttentionMask())
	ids := enc.IDs
	if len(ids) > MaxQueryTokens {
		ids = ids[:MaxQueryTokens]
		if log != nil {
			log.WarnOnce("text-truncated", "query truncated to %d tokens", MaxQueryTokens)
		}
	}

	ids64 := make([]int64, len(ids))
	for i, v := range ids {
		ids64[i] = int64(v)
	}

	shape := ort.NewShape(1, int64(len(ids64)))
	tensor, err := ort.NewTensor(shape, ids64)
	if err != nil {
		return embedding.Embedding{}, fmt.Errorf("input_ids tensor: %w", err)
	}
	defer tensor.Destroy()

	outputs := []ort.Value{nil, nil}
	if err := t.sess.Run([]ort.Value{tensor}, outputs); err != nil {
		return embedding.Embedding{}, fmt.Errorf("text inference: %w", err)
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

// Close releases the underlying session and tokenizer, if loaded.
func (t *Text) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sess != nil {
		t.sess.Destroy()
		t.sess = nil
	}
	if t.tk != nil {
		t.tk.Close()
		t.tk = nil
	}
}
