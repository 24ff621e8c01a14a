package tokenizer

// Batch is a row-major [Size, SeqLen] block of encoded texts, laid out the way
// the encoder's input tensors expect.
type Batch struct {
	Size          int
	SeqLen        int
	IDs           []int64
	TypeIDs       []int64
	AttentionMask []int64
}

// Row returns the ids and attention mask of row i.
func (b *Batch) Row(i int) (ids, mask []int64) {
	start, end := i*b.SeqLen, (i+1)*b.SeqLen
	return b.IDs[start:end], b.AttentionMask[start:end]
}

// Shape returns the tensor shape of the batch.
func (b *Batch) Shape() []int64 {
	return []int64{int64(b.Size), int64(b.SeqLen)}
}
