package index

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkText_SmallContentSingleChunk(t *testing.T) {
	chunks := ChunkText("a.go", "package main\n")
	require.Len(t, chunks, 1)
	assert.Equal(t, 1, chunks[0].Total)
	assert.Equal(t, "a.go", chunks[0].FilePath)
}

func TestChunkText_LargeContentSplitsOnLineBoundaries(t *testing.T) {
	line := strings.Repeat("x", 100) + "\n"
	content := strings.Repeat(line, 30) // 3000 bytes, over ChunkSize=1500

	chunks := ChunkText("big.go", content)
	require.True(t, len(chunks) > 1)

	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, len(chunks), c.Total)
		assert.LessOrEqual(t, len(c.Content), ChunkSize+100, "no single line should push a chunk far past the budget")
		assert.True(t, strings.HasSuffix(c.Content, "\n") || c.Content == "")
	}
}

func TestChunkText_LineCountsAreContiguous(t *testing.T) {
	content := strings.Repeat("y\n", 2000)
	chunks := ChunkText("f.go", content)
	require.True(t, len(chunks) > 1)
	for i := 1; i < len(chunks); i++ {
		assert.Equal(t, chunks[i-1].EndLine+1, chunks[i].StartLine)
	}
}
