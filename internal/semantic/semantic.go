// Package semantic embeds document text and scores it against topic
// keywords. Vectors come from an OpenAI-format /v1/embeddings endpoint,
// typically a local sentence-transformers server, and are stored as
// little-endian float32 blobs with precomputed norms so cosine math runs
// straight off database rows. A nil provider is the supported degraded
// mode: every consumer falls back to keyword-only behavior.
package semantic

import (
	"context"
	"encoding/binary"
	"math"
)

// Provider turns batches of text into embedding vectors.
type Provider interface {
	ModelName() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorToBlob encodes a vector as little-endian float32 bytes and returns
// it with the vector's L2 norm.
func VectorToBlob(vec []float32) ([]byte, float64) {
	blob := make([]byte, 4*len(vec))
	for i, x := range vec {
		binary.LittleEndian.PutUint32(blob[4*i:], math.Float32bits(x))
	}
	return blob, Norm(vec)
}

// BlobToVector decodes a little-endian float32 blob. Trailing bytes beyond
// the last whole float are ignored.
func BlobToVector(blob []byte) []float32 {
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[4*i:]))
	}
	return vec
}

// Norm returns the L2 norm of vec.
func Norm(vec []float32) float64 {
	sum := 0.0
	for _, x := range vec {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Cosine computes cosine similarity from raw vectors and their precomputed
// norms. A non-positive norm yields zero; extra dimensions on the longer
// vector are ignored.
func Cosine(a []float32, normA float64, b []float32, normB float64) float64 {
	if normA <= 0 || normB <= 0 {
		return 0
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	dot := 0.0
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (normA * normB)
}
