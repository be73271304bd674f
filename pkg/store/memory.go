package store

import (
	"container/heap"
	"context"
	"sync"

	"github.com/xhad/repochat/internal/models"
)

// MemoryIndex is an exact nearest-neighbour index held in process memory.
// It scans every record of a namespace per query.
type MemoryIndex struct {
	dimension  int
	namespaces map[string]map[string]models.Record
	mu         sync.RWMutex
}

func NewMemoryIndex(dimension int) *MemoryIndex {
	return &MemoryIndex{
		dimension:  dimension,
		namespaces: make(map[string]map[string]models.Record),
	}
}

func (idx *MemoryIndex) Dimension() int {
	return idx.dimension
}

func (idx *MemoryIndex) Reset(_ context.Context, namespace string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	delete(idx.namespaces, namespace)
	return nil
}

// Upsert stores records by id, replacing any record with the same id.
func (idx *MemoryIndex) Upsert(_ context.Context, namespace string, records []models.Record) error {
	if err := checkDimensions(idx.dimension, records); err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	ns, ok := idx.namespaces[namespace]
	if !ok {
		ns = make(map[string]models.Record, len(records))
		idx.namespaces[namespace] = ns
	}
	for _, r := range records {
		r.Vector = append([]float32(nil), r.Vector...)
		ns[r.ID] = r
	}
	return nil
}

// Query returns the k records most similar to vector, best first.
func (idx *MemoryIndex) Query(_ context.Context, namespace string, vector []float32, k int) ([]models.Match, error) {
	if len(vector) != idx.dimension {
		return nil, checkDimensions(idx.dimension, []models.Record{{ID: "query", Vector: vector}})
	}
	if k <= 0 {
		return []models.Match{}, nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	h := &matchHeap{}
	heap.Init(h)

	for _, r := range idx.namespaces[namespace] {
		score := CosineSimilarity(vector, r.Vector)
		m := models.Match{ID: r.ID, Text: r.Text, Metadata: r.Metadata, Score: score}

		if h.Len() < k {
			heap.Push(h, m)
		} else if h.less(h.items[0], m) {
			heap.Pop(h)
			heap.Push(h, m)
		}
	}

	results := make([]models.Match, h.Len())
	for i := len(results) - 1; i >= 0; i-- {
		results[i] = heap.Pop(h).(models.Match)
	}
	return results, nil
}

func (idx *MemoryIndex) Stats(_ context.Context, namespace string) (models.IndexStats, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return models.IndexStats{
		Namespace: namespace,
		Records:   len(idx.namespaces[namespace]),
		Dimension: idx.dimension,
	}, nil
}

// matchHeap is a min-heap on score. Equal scores order by id so results
// are stable across runs.
type matchHeap struct {
	items []models.Match
}

func (h *matchHeap) less(a, b models.Match) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.ID > b.ID
}

func (h *matchHeap) Len() int           { return len(h.items) }
func (h *matchHeap) Less(i, j int) bool { return h.less(h.items[i], h.items[j]) }
func (h *matchHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *matchHeap) Push(x any) {
	h.items = append(h.items, x.(models.Match))
}

func (h *matchHeap) Pop() any {
	old := h.items
	n := len(old)
	x := old[n-1]
	h.items = old[:n-1]
	return x
}
