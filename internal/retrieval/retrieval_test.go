package retrieval_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/retrieval"
)

func samplePassages() []retrieval.Passage {
	return []retrieval.Passage{
		{ID: "1", Content: "Bitcoin price volatility and trading strategies", Source: "crypto.md"},
		{ID: "2", Content: "Photosynthesis converts light into chemical energy", Source: "biology.md"},
		{ID: "3", Content: "Trading desks hedge volatility with options", Source: "desk.md"},
	}
}

func TestSearchRanksAndNormalizes(t *testing.T) {
	idx := retrieval.NewIndex(samplePassages())
	require.Equal(t, 3, idx.Len())

	hits := idx.Search("trading volatility", 5)
	require.Len(t, hits, 2)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
	assert.Greater(t, hits[0].Score, hits[1].Score)
	for _, h := range hits {
		assert.NotEqual(t, "2", h.Passage.ID)
		assert.GreaterOrEqual(t, h.Score, 0.0)
		assert.LessOrEqual(t, h.Score, 1.0)
	}
}

func TestSearchLimitAndMisses(t *testing.T) {
	idx := retrieval.NewIndex(samplePassages())

	assert.Len(t, idx.Search("volatility", 1), 1)
	assert.Nil(t, idx.Search("quantum", 5))
	assert.Nil(t, idx.Search("  !!  ", 5))
	assert.Nil(t, retrieval.NewIndex(nil).Search("anything", 5))
}

func TestTokenizeUnicode(t *testing.T) {
	assert.Equal(t, []string{"에이전트", "ai", "2024"}, retrieval.Tokenize("에이전트, AI-2024!"))
	assert.Equal(t, retrieval.Tokenize("café"), retrieval.Tokenize("café"))
}

func TestChunkKeepsParagraphsTogether(t *testing.T) {
	text := "first paragraph\n\nsecond paragraph\n\nthird"
	chunks := retrieval.Chunk(text, retrieval.ChunkOptions{Size: 38})
	require.Len(t, chunks, 2)
	assert.Equal(t, "first paragraph\n\nsecond paragraph", chunks[0])
	assert.Equal(t, "third", chunks[1])
}

func TestChunkSplitsLongParagraphWithOverlap(t *testing.T) {
	words := make([]string, 50)
	for i := range words {
		words[i] = "word"
	}
	text := strings.Join(words, " ")

	chunks := retrieval.Chunk(text, retrieval.ChunkOptions{Size: 50, Overlap: 10})
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 50)
	}
	assert.Empty(t, retrieval.Chunk("   \n\n  ", retrieval.DefaultChunkOptions()))
}

func TestCacheVersioning(t *testing.T) {
	cache, err := retrieval.NewCache(2)
	require.NoError(t, err)

	v1 := time.Unix(100, 0)
	idx := retrieval.NewIndex(samplePassages())
	cache.Put("a", v1, idx)

	got, ok := cache.Get("a", v1)
	require.True(t, ok)
	assert.Same(t, idx, got)

	_, ok = cache.Get("a", v1.Add(time.Second))
	assert.False(t, ok, "stale version must miss")

	cache.Put("b", v1, idx)
	cache.Put("c", v1, idx)
	assert.Equal(t, 2, cache.Len())
	_, ok = cache.Get("a", v1)
	assert.False(t, ok, "least recently used entry is evicted")

	cache.Invalidate("b")
	assert.Equal(t, 1, cache.Len())
}
