package reference

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flow-rag-go/internal/model"
)

func match(sourceID string, chunkIndex int, similarity float64, text string) model.SourceMatch {
	return model.SourceMatch{
		Chunk: model.ChunkRecord{
			ChunkID:    sourceID + "_chunk",
			SourceID:   sourceID,
			ChunkIndex: chunkIndex,
			FullText:   text,
		},
		Similarity: similarity,
		ChunkCount: 1,
	}
}

func TestBuildNumbersQualifiedByDescendingSimilarity(t *testing.T) {
	b := NewBuilder(500)
	resp := b.Build(model.EngineOutput{
		Qualified: []model.SourceMatch{
			match("doc-a", 2, 0.92, "alpha"),
			match("doc-b", 0, 0.81, "beta"),
			match("doc-c", 1, 0.74, "gamma"),
		},
	})

	assert.Equal(t, model.FallbackNone, resp.Fallback)
	require.Len(t, resp.References, 3)
	for i, ref := range resp.References {
		assert.Equal(t, i+1, ref.ID)
	}
	assert.Equal(t, 0.92, resp.References[0].Similarity)
	assert.Equal(t, "doc-a", resp.References[0].SourceID)
	assert.Equal(t, 2, resp.References[0].ChunkIndex)
}

func TestBuildNearMissCarriesRealSimilarity(t *testing.T) {
	b := NewBuilder(500)
	resp := b.Build(model.EngineOutput{
		NearMiss: []model.SourceMatch{
			match("doc-a", 0, 0.58, "almost relevant"),
		},
		ThresholdUsed: 0.7,
	})

	assert.Equal(t, model.FallbackLowConfidence, resp.Fallback)
	require.Len(t, resp.References, 1)
	// 近似结果必须携带真实计算值，绝不能被圆整成 0.5 之类的占位数。
	assert.Equal(t, 0.58, resp.References[0].Similarity)
}

func TestBuildEmptyOutputIsNoMatch(t *testing.T) {
	b := NewBuilder(500)
	resp := b.Build(model.EngineOutput{})

	assert.Equal(t, model.FallbackNoMatch, resp.Fallback)
	assert.Empty(t, resp.References)
	assert.NotNil(t, resp.References)
}

func TestBuildSnippetIsBoundedByRunes(t *testing.T) {
	b := NewBuilder(10)
	long := strings.Repeat("知识库检索", 20)
	resp := b.Build(model.EngineOutput{
		Qualified: []model.SourceMatch{match("doc-a", 0, 0.9, long)},
	})

	require.Len(t, resp.References, 1)
	snippet := []rune(resp.References[0].Snippet)
	assert.LessOrEqual(t, len(snippet), 11)
	assert.Equal(t, long, resp.References[0].FullText)
}

func TestBuildPrefersTextPreviewForSnippet(t *testing.T) {
	b := NewBuilder(500)
	m := match("doc-a", 0, 0.9, "full text body")
	m.Chunk.TextPreview = "preview body"
	resp := b.Build(model.EngineOutput{Qualified: []model.SourceMatch{m}})

	require.Len(t, resp.References, 1)
	assert.Equal(t, "preview body", resp.References[0].Snippet)
	assert.Equal(t, "full text body", resp.References[0].FullText)
}
