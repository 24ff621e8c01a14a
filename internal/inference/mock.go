package inference

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/hyperjump/fastembed/internal/tokenizer"
	"github.com/hyperjump/fastembed/pkg/models"

	fserrors "github.com/hyperjump/fastembed/pkg/errors"
)

// MockModelMagic is the first line of a weights file accepted by MockLoader.
// Following lines are optional key=value settings:
//
//	hidden=N      hidden size (default: the model's dimension)
//	fail_token=N  fail any batch containing token id N
const MockModelMagic = "FASTEMBED-MOCK-MODEL v1"

// MockWeights returns a mock weights file with the given settings.
func MockWeights(settings ...string) []byte {
	return []byte(MockModelMagic + "\n" + strings.Join(settings, "\n"))
}

// MockRuntime produces deterministic per-token hidden states derived from the
// token id, its position and the row's other tokens, so identical rows give
// identical outputs in any batch while the first token still depends on the text.
type MockRuntime struct {
	hidden    int
	failToken int64
}

// NewMockRuntime returns a mock with the given hidden size.
func NewMockRuntime(hidden int) *MockRuntime {
	if hidden <= 0 {
		hidden = 384
	}
	return &MockRuntime{hidden: hidden, failToken: -1}
}

// MockLoader is a Loader that accepts files produced by MockWeights and
// rejects anything else with a model load error.
func MockLoader(path string, spec models.ModelSpec, _ Options) (Runtime, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fserrors.ModelLoad("mock.load", err)
	}
	sc := bufio.NewScanner(bytes.NewReader(data))
	if !sc.Scan() || strings.TrimSpace(sc.Text()) != MockModelMagic {
		return nil, fserrors.ModelLoad("mock.load", fmt.Errorf("%s is not a mock model", path))
	}
	m := NewMockRuntime(spec.Dim)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fserrors.ModelLoad("mock.load", fmt.Errorf("malformed setting %q", line))
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fserrors.ModelLoad("mock.load", fmt.Errorf("setting %s: %w", key, err))
		}
		switch key {
		case "hidden":
			m.hidden = n
		case "fail_token":
			m.failToken = int64(n)
		default:
			return nil, fserrors.ModelLoad("mock.load", fmt.Errorf("unknown setting %q", key))
		}
	}
	return m, nil
}

// Run returns [Size, SeqLen, hidden] states.
func (m *MockRuntime) Run(ctx context.Context, batch *tokenizer.Batch) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := &Output{
		Data:      make([]float32, batch.Size*batch.SeqLen*m.hidden),
		BatchSize: batch.Size,
		SeqLen:    batch.SeqLen,
		Hidden:    m.hidden,
	}
	for r := 0; r < batch.Size; r++ {
		ids, mask := batch.Row(r)
		var seed float64
		for l, id := range ids {
			if id == m.failToken {
				return nil, fmt.Errorf("mock failure on token %d", id)
			}
			if mask[l] != 0 {
				seed += float64(id+1) * float64(l+1) * 1e-3
			}
		}
		for l, id := range ids {
			start := (r*batch.SeqLen + l) * m.hidden
			state := out.Data[start : start+m.hidden]
			for h := range state {
				x := float64(id+1)*float64(h+1)*0.618 + float64(l)*0.1 + seed*float64(h+1)
				state[h] = float32(math.Sin(x)*0.5 + 0.01)
			}
		}
	}
	return out, nil
}

// Close is a no-op for MockRuntime.
func (m *MockRuntime) Close() error {
	return nil
}
