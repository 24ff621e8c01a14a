package inference

import (
	"fmt"

	"github.com/hyperjump/fastembed/pkg/models"
)

// Pool collapses out into one vector per row. mask is the batch's row-major
// attention mask and is only read for mean pooling of token states.
func Pool(out *Output, mask []int64, mode models.Pooling) ([][]float32, error) {
	vecs := make([][]float32, out.BatchSize)
	if out.Pooled {
		for b := range vecs {
			vecs[b] = append([]float32(nil), out.Data[b*out.Hidden:(b+1)*out.Hidden]...)
		}
		return vecs, nil
	}
	switch mode {
	case models.PoolingCLS:
		for b := range vecs {
			start := b * out.SeqLen * out.Hidden
			vecs[b] = append([]float32(nil), out.Data[start:start+out.Hidden]...)
		}
	case models.PoolingMean:
		if len(mask) != out.BatchSize*out.SeqLen {
			return nil, fmt.Errorf("attention mask has %d entries, want %d", len(mask), out.BatchSize*out.SeqLen)
		}
		for b := range vecs {
			vecs[b] = meanPool(out, mask[b*out.SeqLen:(b+1)*out.SeqLen], b)
		}
	default:
		return nil, fmt.Errorf("unsupported pooling %v", mode)
	}
	return vecs, nil
}

// meanPool averages the token states of row b whose mask is set. A row without
// any set mask yields the zero vector.
func meanPool(out *Output, mask []int64, b int) []float32 {
	vec := make([]float32, out.Hidden)
	var count float32
	for l, m := range mask {
		if m == 0 {
			continue
		}
		count++
		start := (b*out.SeqLen + l) * out.Hidden
		for h, v := range out.Data[start : start+out.Hidden] {
			vec[h] += v
		}
	}
	if count < 1e-9 {
		count = 1e-9
	}
	for h := range vec {
		vec[h] /= count
	}
	return vec
}
