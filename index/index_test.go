package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestIndex_Build_IndexesEligibleFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main\n\nfunc main() {}\n")
	writeFile(t, dir, "readme.md", "# Hello\nThis is a readme.\n")
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0o755))
	writeFile(t, filepath.Join(dir, ".git"), "HEAD", "ref: refs/heads/main\n")

	idx := New(dir, NewHashEmbedder(32))
	stats, err := idx.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FilesIndexed, ".git contents must be excluded from the walk")
	assert.False(t, stats.TruncatedAtFileCap)
	assert.False(t, stats.TruncatedAtChunkCap)
}

func TestIndex_Build_SkipsOversizedFiles(t *testing.T) {
	dir := t.TempDir()
	big := make([]byte, MaxFileBytes+1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.bin"), big, 0o644))
	writeFile(t, dir, "small.go", "package main\n")

	idx := New(dir, NewHashEmbedder(16))
	stats, err := idx.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesIndexed)
	assert.Equal(t, 1, stats.FilesSkipped)
}

func TestIndex_Build_RejectsConcurrentBuild(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package main\n")

	idx := New(dir, NewHashEmbedder(16))
	idx.buildMu.Lock()
	idx.building = true
	idx.buildMu.Unlock()

	_, err := idx.Build(context.Background())
	require.Error(t, err)
}

func TestIndex_Search_RanksByRelevance(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "fox.go", "the quick brown fox jumps over the lazy dog\n")
	writeFile(t, dir, "unrelated.go", "completely different content about nothing at all\n")

	idx := New(dir, NewHashEmbedder(256))
	_, err := idx.Build(context.Background())
	require.NoError(t, err)

	results, err := idx.Search(context.Background(), "quick brown fox", 5)
	require.NoError(t, err)
	require.True(t, len(results) >= 1)
	assert.Equal(t, "fox.go", results[0].Chunk.FilePath)
}

func TestIndex_Search_RespectsTopK(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 5; i++ {
		writeFile(t, dir, "f"+string(rune('a'+i))+".go", "package main\n")
	}

	idx := New(dir, NewHashEmbedder(32))
	_, err := idx.Build(context.Background())
	require.NoError(t, err)

	results, err := idx.Search(context.Background(), "package", 2)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(results), 2)
}
