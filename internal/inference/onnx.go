//go:build cgo
// +build cgo

package inference

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/hyperjump/fastembed/internal/tokenizer"
	"github.com/hyperjump/fastembed/pkg/models"
	"github.com/hyperjump/fastembed/pkg/utils"

	fserrors "github.com/hyperjump/fastembed/pkg/errors"
)

const (
	inputIDs      = "input_ids"
	attentionMask = "attention_mask"
	tokenTypeIDs  = "token_type_ids"
	hiddenOutput  = "last_hidden_state"
)

var envMu sync.Mutex

// initEnvironment initializes the process-wide onnxruntime environment once.
func initEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	return ort.InitializeEnvironment()
}

// ONNXRuntime runs an encoder exported to ONNX. It requires CGO and the
// onnxruntime shared library.
type ONNXRuntime struct {
	session   *ort.DynamicAdvancedSession
	inputs    []string
	output    string
	hidden    int
	pooled    bool
	logger    *zap.Logger
	closeOnce sync.Once
}

// LoadONNX is the Loader backed by onnxruntime.
func LoadONNX(path string, spec models.ModelSpec, opts Options) (Runtime, error) {
	return NewONNXRuntime(path, spec, opts)
}

// DefaultLoader loads weights with onnxruntime.
var DefaultLoader Loader = LoadONNX

// NewONNXRuntime inspects the model's inputs and outputs and opens a session.
// token_type_ids is fed only when the model declares it.
func NewONNXRuntime(path string, spec models.ModelSpec, opts Options) (*ONNXRuntime, error) {
	logger := utils.OrNop(opts.Logger)
	if err := initEnvironment(opts.SharedLibraryPath); err != nil {
		return nil, fserrors.ModelLoad("onnx.init", fmt.Errorf("failed to initialize ONNX runtime: %w", err))
	}

	inInfo, outInfo, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fserrors.ModelLoad("onnx.inspect", fmt.Errorf("read model %s: %w", path, err))
	}
	r := &ONNXRuntime{logger: logger}
	declared := make(map[string]bool, len(inInfo))
	for _, in := range inInfo {
		declared[in.Name] = true
	}
	for _, name := range []string{inputIDs, attentionMask} {
		if !declared[name] {
			return nil, fserrors.ModelLoad("onnx.inspect", fmt.Errorf("model has no %q input", name))
		}
	}
	r.inputs = []string{inputIDs, attentionMask}
	if declared[tokenTypeIDs] {
		r.inputs = append(r.inputs, tokenTypeIDs)
	}

	if len(outInfo) == 0 {
		return nil, fserrors.ModelLoad("onnx.inspect", fmt.Errorf("model has no outputs"))
	}
	out := outInfo[0]
	for _, o := range outInfo {
		if o.Name == hiddenOutput {
			out = o
			break
		}
	}
	r.output = out.Name
	dims := out.Dimensions
	switch len(dims) {
	case 3:
	case 2:
		r.pooled = true
	default:
		return nil, fserrors.ModelLoad("onnx.inspect", fmt.Errorf("output %q has rank %d, want 2 or 3", out.Name, len(dims)))
	}
	r.hidden = int(dims[len(dims)-1])
	if r.hidden <= 0 {
		r.hidden = spec.Dim
	}

	sessionOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fserrors.ModelLoad("onnx.session", err)
	}
	defer sessionOpts.Destroy()
	if opts.Threads > 0 {
		if err := sessionOpts.SetIntraOpNumThreads(opts.Threads); err != nil {
			return nil, fserrors.ModelLoad("onnx.session", fmt.Errorf("set intra-op threads: %w", err))
		}
	}
	session, err := ort.NewDynamicAdvancedSession(path, r.inputs, []string{r.output}, sessionOpts)
	if err != nil {
		return nil, fserrors.ModelLoad("onnx.session", fmt.Errorf("failed to create ONNX session: %w", err))
	}
	r.session = session
	logger.Info("onnx model loaded",
		zap.String("model", spec.ID),
		zap.Strings("inputs", r.inputs),
		zap.String("output", r.output),
		zap.Int("hidden", r.hidden),
		zap.Bool("pooled", r.pooled))
	return r, nil
}

// Run executes one forward pass. Tensors are allocated per call so concurrent
// calls never share buffers.
func (r *ONNXRuntime) Run(ctx context.Context, batch *tokenizer.Batch) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	shape := ort.NewShape(batch.Shape()...)
	var values []ort.Value
	defer func() {
		for _, v := range values {
			_ = v.Destroy()
		}
	}()
	for _, name := range r.inputs {
		var data []int64
		switch name {
		case inputIDs:
			data = batch.IDs
		case attentionMask:
			data = batch.AttentionMask
		case tokenTypeIDs:
			data = batch.TypeIDs
		}
		t, err := ort.NewTensor(shape, data)
		if err != nil {
			return nil, fmt.Errorf("create %s tensor: %w", name, err)
		}
		values = append(values, t)
	}

	outShape := ort.NewShape(int64(batch.Size), int64(batch.SeqLen), int64(r.hidden))
	if r.pooled {
		outShape = ort.NewShape(int64(batch.Size), int64(r.hidden))
	}
	out, err := ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		return nil, fmt.Errorf("create output tensor: %w", err)
	}
	defer out.Destroy()

	if err := r.session.Run(values, []ort.Value{out}); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	data := make([]float32, len(out.GetData()))
	copy(data, out.GetData())
	return &Output{
		Data:      data,
		BatchSize: batch.Size,
		SeqLen:    batch.SeqLen,
		Hidden:    r.hidden,
		Pooled:    r.pooled,
	}, nil
}

// Close destroys the session.
func (r *ONNXRuntime) Close() error {
	var err error
	r.closeOnce.Do(func() {
		if r.session != nil {
			err = r.session.Destroy()
			r.session = nil
		}
	})
	return err
}
