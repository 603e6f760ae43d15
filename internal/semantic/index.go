package semantic

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/model"
)

const (
	defaultChunkChars   = 2500
	defaultChunkOverlap = 250
)

// BuildChunks splits text into overlapping rune windows, embeds them in one
// provider round and returns storable chunk rows. DocID is left zero for
// the caller to fill in. A nil provider or blank text yields no chunks.
func BuildChunks(ctx context.Context, provider Provider, text string, maxChars, overlap int) ([]model.EmbeddingChunk, error) {
	if provider == nil || strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if maxChars <= 0 {
		maxChars = defaultChunkChars
	}
	if overlap < 0 || overlap >= maxChars {
		overlap = 0
	}

	type span struct{ start, end int }
	runes := []rune(text)
	var spans []span
	var texts []string
	for start := 0; start < len(runes); {
		end := min(len(runes), start+maxChars)
		spans = append(spans, span{start, end})
		texts = append(texts, string(runes[start:end]))
		if end == len(runes) {
			break
		}
		start = max(0, end-overlap)
	}

	vecs, err := provider.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(spans) {
		zap.L().Warn("embedding count mismatch",
			zap.Int("chunks", len(spans)),
			zap.Int("vectors", len(vecs)))
	}

	chunks := make([]model.EmbeddingChunk, 0, len(spans))
	for i, sp := range spans {
		if i >= len(vecs) {
			break
		}
		blob, norm := VectorToBlob(vecs[i])
		chunks = append(chunks, model.EmbeddingChunk{
			ChunkIndex:  i,
			StartOffset: sp.start,
			EndOffset:   sp.end,
			ModelName:   provider.ModelName(),
			Vector:      blob,
			Norm:        norm,
		})
	}
	return chunks, nil
}
