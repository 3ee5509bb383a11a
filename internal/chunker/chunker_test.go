package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func words(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "w%d", i)
	}
	return b.String()
}

func TestNewSplitterRejectsInvalidParams(t *testing.T) {
	cases := []struct {
		maxSize int
		overlap int
	}{
		{0, 0},
		{-1, 0},
		{100, 100},
		{100, 150},
		{100, -1},
	}
	for _, c := range cases {
		_, err := NewSplitter(c.maxSize, c.overlap)
		assert.ErrorIs(t, err, ErrInvalidChunkParams, "maxSize=%d overlap=%d", c.maxSize, c.overlap)
	}
}

func TestSplitSingleChunkWhenTextFits(t *testing.T) {
	s, err := NewSplitter(500, 50)
	require.NoError(t, err)

	chunks := s.Split(words(120))
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].StartPos)
	assert.Equal(t, 120, chunks[0].EndPos)
	assert.Equal(t, 120, chunks[0].TokenCount)
}

func TestSplit1200WordsProducesThreeChunks(t *testing.T) {
	s, err := NewSplitter(500, 50)
	require.NoError(t, err)

	chunks := s.Split(words(1200))
	require.Len(t, chunks, 3)

	assert.Equal(t, 0, chunks[0].StartPos)
	assert.Equal(t, 450, chunks[1].StartPos)
	assert.Equal(t, 900, chunks[2].StartPos)
	assert.Equal(t, 500, chunks[0].TokenCount)
	assert.Equal(t, 500, chunks[1].TokenCount)
	assert.Less(t, chunks[2].TokenCount, 500)
	assert.Equal(t, 1200, chunks[2].EndPos)
}

func TestSplitOverlapInvariant(t *testing.T) {
	s, err := NewSplitter(100, 20)
	require.NoError(t, err)

	chunks := s.Split(words(730))
	require.Greater(t, len(chunks), 1)
	for i := 0; i < len(chunks)-1; i++ {
		assert.Equal(t, chunks[i].EndPos-s.Overlap(), chunks[i+1].StartPos,
			"chunk %d -> %d overlap", i, i+1)
	}
	for i, c := range chunks {
		assert.Equal(t, c.EndPos-c.StartPos, c.TokenCount, "chunk %d token count", i)
	}
}

func TestSplitIsDeterministic(t *testing.T) {
	s, err := NewSplitter(64, 8)
	require.NoError(t, err)

	text := words(333)
	first := s.Split(text)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, s.Split(text))
	}
}

func TestSplitDropsWhitespaceOnlyInput(t *testing.T) {
	s, err := NewSplitter(10, 2)
	require.NoError(t, err)

	assert.Nil(t, s.Split(""))
	assert.Nil(t, s.Split("   \n\t  "))
}
