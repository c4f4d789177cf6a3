package llm

// EmbedDim is the fixed dimension of all embedding vectors in the system.
// The vector collection is created with this size; changing it requires
// reindexing every stored document.
const EmbedDim = 64

// FoldEmbedding produces a deterministic fixed-dimension embedding by folding
// the text's bytes into the vector. It stands in for a real embedding API and
// keeps search functional when none is configured.
func FoldEmbedding(text string) []float32 {
	v := make([]float32, EmbedDim)
	for i := 0; i < len(text); i++ {
		v[i%EmbedDim] += float32(text[i]) / 255.0
	}
	return v
}
