// Package index (this file): the per-workspace Index that owns a build
// pipeline (walk -> cap-check -> chunk -> batch-embed) guarded by a
// per-workspace mutex and a single-build-in-flight marker, plus an
// fsnotify-driven reindex trigger. Grounded on v2/rag/search.go's
// SearchEngine.IngestDocument pipeline shape and fsnotify's documented
// watch-loop pattern, with the concurrency guards from spec.md §5.
package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
)

// Hard caps per spec.md §5 ("back-pressure"): a workspace beyond these
// limits is indexed partially, with the truncation reported in BuildStats
// rather than silently completed as if it were exhaustive.
const (
	MaxFiles        = 10_000
	MaxChunks       = 80_000
	MaxFileBytes    = 512 * 1024
	EmbedBatchSize  = 32
)

// entry is one embedded chunk held in memory for a workspace.
type entry struct {
	chunk  Chunk
	vector Vector
}

// BuildStats reports what one build pass covered and what it dropped.
type BuildStats struct {
	FilesIndexed  int
	FilesSkipped  int
	ChunksIndexed int
	TruncatedAtFileCap  bool
	TruncatedAtChunkCap bool
}

// Index is one workspace's in-memory semantic index.
type Index struct {
	Root     string
	Embedder Embedder

	mu      sync.RWMutex
	entries []entry

	buildMu  sync.Mutex
	building bool

	watcher *fsnotify.Watcher
}

// New constructs an Index for a workspace root.
func New(root string, embedder Embedder) *Index {
	return &Index{Root: root, Embedder: embedder}
}

// Build walks the workspace, chunks every eligible file, embeds chunks in
// fixed-size batches, and replaces the in-memory entry set atomically.
// Only one build may run at a time per Index; a concurrent call returns
// immediately with an error rather than blocking, so a reindex request
// racing an in-flight build never queues up unbounded work.
func (idx *Index) Build(ctx context.Context) (BuildStats, error) {
	idx.buildMu.Lock()
	if idx.building {
		idx.buildMu.Unlock()
		return BuildStats{}, fmt.Errorf("index: build already in progress for %s", idx.Root)
	}
	idx.building = true
	idx.buildMu.Unlock()
	defer func() {
		idx.buildMu.Lock()
		idx.building = false
		idx.buildMu.Unlock()
	}()

	paths, stats, err := idx.walk()
	if err != nil {
		return stats, err
	}

	var allChunks []Chunk
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			stats.FilesSkipped++
			continue
		}
		rel, _ := filepath.Rel(idx.Root, p)
		chunks := ChunkText(rel, string(data))
		if len(allChunks)+len(chunks) > MaxChunks {
			stats.TruncatedAtChunkCap = true
			remaining := MaxChunks - len(allChunks)
			if remaining > 0 {
				allChunks = append(allChunks, chunks[:remaining]...)
			}
			break
		}
		allChunks = append(allChunks, chunks...)
		stats.FilesIndexed++
	}
	stats.ChunksIndexed = len(allChunks)

	entries, err := idx.embedBatches(ctx, allChunks)
	if err != nil {
		return stats, err
	}

	idx.mu.Lock()
	idx.entries = entries
	idx.mu.Unlock()

	return stats, nil
}

// walk collects eligible file paths under Root, applying the file-count
// and per-file-size caps before any chunking is attempted.
func (idx *Index) walk() ([]string, BuildStats, error) {
	var stats BuildStats
	var paths []string

	err := filepath.WalkDir(idx.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries rather than aborting the whole walk
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == ".orchestrix" {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > MaxFileBytes {
			stats.FilesSkipped++
			return nil
		}
		if len(paths) >= MaxFiles {
			stats.TruncatedAtFileCap = true
			return filepath.SkipAll
		}
		paths = append(paths, path)
		return nil
	})
	sort.Strings(paths)
	return paths, stats, err
}

// embedBatches embeds chunks in fixed-size batches concurrently via
// errgroup, capping peak memory at one batch's worth of vectors per
// in-flight goroutine.
func (idx *Index) embedBatches(ctx context.Context, chunks []Chunk) ([]entry, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	type batchResult struct {
		offset  int
		vectors []Vector
	}

	numBatches := (len(chunks) + EmbedBatchSize - 1) / EmbedBatchSize
	results := make([]batchResult, numBatches)

	g, gctx := errgroup.WithContext(ctx)
	for b := 0; b < numBatches; b++ {
		b := b
		start := b * EmbedBatchSize
		end := start + EmbedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		g.Go(func() error {
			texts := make([]string, end-start)
			for i := start; i < end; i++ {
				texts[i-start] = chunks[i].Content
			}
			vecs, err := idx.Embedder.Embed(gctx, texts)
			if err != nil {
				return err
			}
			results[b] = batchResult{offset: start, vectors: vecs}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]entry, 0, len(chunks))
	for _, r := range results {
		for i, v := range r.vectors {
			out = append(out, entry{chunk: chunks[r.offset+i], vector: v})
		}
	}
	return out, nil
}

// SearchResult is one ranked match.
type SearchResult struct {
	Chunk Chunk
	Score float32
}

// Search embeds the query and returns the topK entries by cosine
// similarity.
func (idx *Index) Search(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	vecs, err := idx.Embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	qv := vecs[0]

	idx.mu.RLock()
	snapshot := make([]entry, len(idx.entries))
	copy(snapshot, idx.entries)
	idx.mu.RUnlock()

	scored := make([]SearchResult, len(snapshot))
	for i, e := range snapshot {
		scored[i] = SearchResult{Chunk: e.chunk, Score: CosineSimilarity(qv, e.vector)}
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// Watch starts an fsnotify watcher over Root and triggers a rebuild
// (via onChange) whenever a file under it is created, written, or
// removed. The caller owns the returned stop function's lifetime.
func (idx *Index) Watch(ctx context.Context, onChange func()) (stop func() error, err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := filepath.WalkDir(idx.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" || d.Name() == ".orchestrix" {
			return filepath.SkipDir
		}
		return w.Add(path)
	}); err != nil {
		w.Close()
		return nil, err
	}
	idx.watcher = w

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					onChange()
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return w.Close, nil
}
