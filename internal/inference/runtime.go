// Package inference runs tokenized batches through an encoder and pools the
// hidden states into one vector per input.
package inference

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/fastembed/internal/tokenizer"
	"github.com/hyperjump/fastembed/pkg/models"
)

// Runtime executes forward passes of one loaded model. Implementations must be
// safe for concurrent Run calls.
type Runtime interface {
	Run(ctx context.Context, batch *tokenizer.Batch) (*Output, error)
	Close() error
}

// Output is the raw result of one forward pass, row-major.
// When Pooled is false Data holds [BatchSize, SeqLen, Hidden] token states;
// when true it holds [BatchSize, Hidden] sentence vectors and SeqLen is unused.
type Output struct {
	Data      []float32
	BatchSize int
	SeqLen    int
	Hidden    int
	Pooled    bool
}

func (o *Output) validate(batch *tokenizer.Batch) error {
	if o.BatchSize != batch.Size {
		return fmt.Errorf("runtime returned %d rows for a batch of %d", o.BatchSize, batch.Size)
	}
	if o.Hidden <= 0 {
		return fmt.Errorf("runtime returned hidden size %d", o.Hidden)
	}
	want := o.BatchSize * o.Hidden
	if !o.Pooled {
		if o.SeqLen != batch.SeqLen {
			return fmt.Errorf("runtime returned sequence length %d, want %d", o.SeqLen, batch.SeqLen)
		}
		want *= o.SeqLen
	}
	if len(o.Data) != want {
		return fmt.Errorf("runtime returned %d values, want %d", len(o.Data), want)
	}
	return nil
}

// Options configures runtime construction.
type Options struct {
	// Threads is the intra-op thread count; 0 lets the runtime decide.
	Threads int
	// SharedLibraryPath locates the onnxruntime shared library; empty uses the platform default.
	SharedLibraryPath string
	Logger            *zap.Logger
}

// Loader builds a Runtime from a weights file.
type Loader func(path string, spec models.ModelSpec, opts Options) (Runtime, error)
