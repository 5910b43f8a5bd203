package ai

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// LocalEmbedder is a deterministic, offline embedding provider. It hashes
// lowercased tokens into a fixed number of buckets and L2-normalizes the
// result, so identical texts always map to identical vectors and texts that
// share tokens land close together. It is meant for development and tests,
// not for semantic quality.
type LocalEmbedder struct {
	dimensions int
}

// NewLocalEmbedder creates a LocalEmbedder producing vectors of the given
// width.
func NewLocalEmbedder(dimensions int) *LocalEmbedder {
	return &LocalEmbedder{dimensions: dimensions}
}

func (e *LocalEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vector := make([]float32, e.dimensions)
	for _, token := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(token))
		vector[int(h.Sum32())%e.dimensions]++
	}

	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vector {
			vector[i] *= scale
		}
	}
	return vector, nil
}

func (e *LocalEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vector, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vector
	}
	return vectors, nil
}

func (e *LocalEmbedder) Dimensions() int {
	return e.dimensions
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
