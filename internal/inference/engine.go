package inference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/fastembed/internal/tokenizer"
	"github.com/hyperjump/fastembed/pkg/models"
	"github.com/hyperjump/fastembed/pkg/utils"

	fserrors "github.com/hyperjump/fastembed/pkg/errors"
)

// DefaultBatchSize is used when Embed is called with a non-positive batch size.
const DefaultBatchSize = 256

// Engine turns texts into embeddings with one tokenizer and one runtime.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	spec        models.ModelSpec
	tok         *tokenizer.Tokenizer
	rt          Runtime
	parallelism int
	logger      *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithParallelism runs up to n batches at once. Values below 1 mean sequential.
func WithParallelism(n int) EngineOption {
	return func(e *Engine) { e.parallelism = n }
}

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine composes a tokenizer and a runtime for spec.
func NewEngine(spec models.ModelSpec, tok *tokenizer.Tokenizer, rt Runtime, opts ...EngineOption) *Engine {
	e := &Engine{spec: spec, tok: tok, rt: rt, parallelism: 1}
	for _, opt := range opts {
		opt(e)
	}
	if e.parallelism < 1 {
		e.parallelism = 1
	}
	e.logger = utils.OrNop(e.logger)
	return e
}

// Spec returns the model the engine runs.
func (e *Engine) Spec() models.ModelSpec { return e.spec }

// Tokenizer returns the engine's tokenizer.
func (e *Engine) Tokenizer() *tokenizer.Tokenizer { return e.tok }

// Embed returns one vector per text, in input order. Texts are cut into
// consecutive batches of batchSize; batches may run in parallel but every
// result is written to its input position. An empty input yields an empty,
// non-nil result.
func (e *Engine) Embed(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	start := time.Now()
	batches := (len(texts) + batchSize - 1) / batchSize

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for b := 0; b < batches; b++ {
		b := b
		lo := b * batchSize
		hi := min(lo+batchSize, len(texts))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			vecs, err := e.embedBatch(gctx, texts[lo:hi])
			if err != nil {
				return fmt.Errorf("batch %d: %w", b, err)
			}
			copy(out[lo:hi], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			e.logger.Warn("embedding failed", zap.String("model", e.spec.ID), zap.Int("texts", len(texts)), zap.Error(err))
		}
		return nil, fserrors.WithModel(fserrors.Inference("engine.embed", err), e.spec.ID)
	}
	e.logger.Debug("embedded texts",
		zap.String("model", e.spec.ID),
		zap.Int("texts", len(texts)),
		zap.Int("batches", batches),
		zap.Duration("took", time.Since(start)))
	return out, nil
}

func (e *Engine) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	batch := e.tok.EncodeBatch(texts)
	o, err := e.rt.Run(ctx, batch)
	if err != nil {
		return nil, err
	}
	if err := o.validate(batch); err != nil {
		return nil, err
	}
	if o.Hidden != e.spec.Dim {
		return nil, fmt.Errorf("model produced %d dimensions, catalog says %d", o.Hidden, e.spec.Dim)
	}
	vecs, err := Pool(o, batch.AttentionMask, e.spec.Pooling)
	if err != nil {
		return nil, err
	}
	if e.spec.Normalize {
		for _, v := range vecs {
			utils.NormalizeL2(v)
		}
	}
	return vecs, nil
}

// Close releases the runtime.
func (e *Engine) Close() error {
	return e.rt.Close()
}
