// Package index implements the Semantic Index: background chunk-and-embed
// of workspace files with cosine-similarity retrieval. Chunk shape and
// the line-accumulation splitting strategy are grounded on
// v2/rag/chunk.go's Chunk type and
// pkg/context/chunking/simple_chunker.go's byte-budget line accumulation;
// the Embedder interface and vector math are this package's own, since
// concrete embedding-provider HTTP implementations are out of scope
// (spec.md §1).
package index

import (
	"strings"
)

// Chunk is one retrievable unit of a workspace file.
type Chunk struct {
	FilePath  string
	Content   string
	Index     int
	Total     int
	StartLine int
	EndLine   int
}

// ChunkSize is the byte budget per chunk before a new one is started.
const ChunkSize = 1500

// ChunkText splits content into line-accumulated chunks no larger than
// ChunkSize bytes, mirroring the teacher's simple chunker: a line is never
// split mid-line, and a chunk is flushed as soon as appending the next
// line would exceed the budget.
func ChunkText(path, content string) []Chunk {
	if len(content) <= ChunkSize {
		return []Chunk{{FilePath: path, Content: content, Index: 0, Total: 1, StartLine: 1, EndLine: lineCount(content)}}
	}

	lines := strings.Split(content, "\n")
	var chunks []Chunk
	var cur strings.Builder
	startLine := 1
	curLine := 1

	flush := func() {
		if cur.Len() == 0 {
			return
		}
		chunks = append(chunks, Chunk{
			FilePath: path, Content: cur.String(), Index: len(chunks),
			StartLine: startLine, EndLine: curLine - 1,
		})
		cur.Reset()
	}

	for _, line := range lines {
		withNL := line + "\n"
		if cur.Len() > 0 && cur.Len()+len(withNL) > ChunkSize {
			flush()
			startLine = curLine
		}
		cur.WriteString(withNL)
		curLine++
	}
	flush()

	for i := range chunks {
		chunks[i].Total = len(chunks)
	}
	return chunks
}

func lineCount(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}
