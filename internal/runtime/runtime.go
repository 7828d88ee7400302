// Package runtime wraps ONNX Runtime session creation and execution-provider
// negotiation: TensorRT, CUDA, CoreML, and XNNPACK are attempted in priority
// order before falling back to CPU, mirroring base spec §4.4.
package runtime

import (
	"fmt"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyphonical/scout/internal/config"
)

// Provider names the backend a session actually ended up running on.
type Provider = config.Provider

const (
	TensorRT = config.ProviderTensorRT
	CUDA     = config.ProviderCUDA
	CoreML   = config.ProviderCoreML
	XNNPACK  = config.ProviderXNNPACK
	CPU      = config.ProviderCPU
)

// defaultIntraOpThreads is the small fixed thread count base spec §4.4 calls
// for; it keeps inference predictable rather than contending with the host's
// full core count.
const defaultIntraOpThreads = 4

var (
	initOnce     sync.Once
	initErr      error
	selectedOnce sync.Once
	selected     Provider
)

// Init initializes the shared ONNX Runtime environment once per process.
// ortLibPath points at the shared library; empty uses the platform default
// search path.
func Init(ortLibPath string) error {
	initOnce.Do(func() {
		if ortLibPath != "" {
			ort.SetSharedLibraryPath(ortLibPath)
		}
		initErr = ort.InitializeEnvironment()
	})
	return initErr
}

// SelectedProvider returns the provider negotiated by the first successful
// NewSession call. It is the process-global record base spec §7 calls for;
// it records only that first result, and later NewSession calls still
// negotiate on their own from the provider they are given.
func SelectedProvider() Provider {
	return selected
}

// candidateList is the priority order Auto walks. CoreML is only attempted
// on darwin; runtime.GOOS gates it at negotiation time rather than build
// time, and on other OSes it is skipped without a warning.
var candidateList = []Provider{TensorRT, CUDA, CoreML, XNNPACK}

// Session wraps a DynamicAdvancedSession plus the provider it ended up
// running on, so callers can log or report it (e.g. `scout bench`).
type Session struct {
	*ort.DynamicAdvancedSession
	Provider Provider
}

// NewSession builds a session for modelPath with the given input/output
// names, negotiating an execution provider starting from want. want == Auto
// walks candidateList in priority order; any other explicit choice is
// attempted once and falls back to CPU with a warning on failure.
func NewSession(modelPath string, inputNames, outputNames []string, want Provider, log *config.Logger, numThreads int) (*Session, error) {
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
		if numThreads > defaultIntraOpThreads {
			numThreads = defaultIntraOpThreads
		}
	}

	tryList := candidateList
	if want != config.ProviderAuto {
		tryList = []Provider{want}
	}

	for _, p := range tryList {
		if p == CoreML && runtime.GOOS != "darwin" {
			continue
		}
		sess, err := buildSession(modelPath, inputNames, outputNames, p, numThreads)
		if err == nil {
			selectedOnce.Do(func() { selected = p })
			return &Session{DynamicAdvancedSession: sess, Provider: p}, nil
		}
		if log != nil {
			log.WarnOnce("provider-"+string(p), "execution provider %s unavailable: %v", p, err)
		}
	}

	sess, err := buildSession(modelPath, inputNames, outputNames, CPU, numThreads)
	if err != nil {
		return nil, fmt.Errorf("build CPU session: %w", err)
	}
	selectedOnce.Do(func() { selected = CPU })
	return &Session{DynamicAdvancedSession: sess, Provider: CPU}, nil
}

// buildSession constructs one session attempt for a single provider. Each
// attempt gets fresh SessionOptions since options can't be reused across
// a failed AppendExecutionProvider call.
func buildSession(modelPath string, inputNames, outputNames []string, p Provider, numThreads int) (*ort.DynamicAdvancedSession, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	defer opts.Destroy()

	if err := opts.SetIntraOpNumThreads(numThreads); err != nil {
		return nil, fmt.Errorf("set intra threads: %w", err)
	}
	if err := opts.SetInterOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("set inter threads: %w", err)
	}
	if err := opts.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll); err != nil {
		return nil, fmt.Errorf("set graph optimization: %w", err)
	}

	if err := appendProvider(opts, p); err != nil {
		return nil, err
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, opts)
	if err != nil {
		return nil, fmt.Errorf("create session (%s): %w", p, err)
	}
	return session, nil
}

// appendProvider registers p on opts. CPU needs no append call: it's the
// default backend onnxruntime falls back to when no provider is registered.
func appendProvider(opts *ort.SessionOptions, p Provider) error {
	switch p {
	case CPU:
		return nil
	case CUDA:
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return fmt.Errorf("cuda provider options: %w", err)
		}
		defer cudaOpts.Destroy()
		return opts.AppendExecutionProviderCUDA(cudaOpts)
	case TensorRT:
		trtOpts, err := ort.NewTensorRTProviderOptions()
		if err != nil {
			return fmt.Errorf("tensorrt provider options: %w", err)
		}
		defer trtOpts.Destroy()
		return opts.AppendExecutionProviderTensorRT(trtOpts)
	case CoreML:
		return opts.AppendExecutionProviderCoreML(0)
	case XNNPACK:
		return opts.AppendExecutionProvider("XNNPACK", map[string]string{})
	default:
		return fmt.Errorf("unknown execution provider %q", p)
	}
}
