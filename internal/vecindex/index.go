// Package vecindex provides a persisted in-process vector index over
// dialogue unit embeddings. Search is exact brute-force cosine with a
// top-K heap, which stays comfortably fast below ~100K vectors; an ANN
// backend can replace it behind the same surface if that ceiling is hit.
package vecindex

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrUnavailable is returned by Query before any successful Build or Load.
// An empty index is a valid initial state, not a crash.
var ErrUnavailable = errors.New("vector index unavailable")

// Slot encoding: each dialogue unit owns two slots, an even one for its
// prompt embedding and an odd one for its response embedding. Decoding
// discards the distinction.

// PromptSlot returns the index slot for a unit's prompt embedding.
func PromptSlot(unitID int64) int64 { return unitID * 2 }

// ResponseSlot returns the index slot for a unit's response embedding.
func ResponseSlot(unitID int64) int64 { return unitID*2 + 1 }

// UnitID decodes a slot back to its dialogue unit id, for either parity.
func UnitID(slot int64) int64 { return slot / 2 }

// Result is one nearest-neighbor hit. Distance is angular
// (sqrt(2·(1−cosine))), so smaller means more similar.
type Result struct {
	Slot     int64
	Distance float64
}

// Index holds (slot, vector) pairs. It is immutable between builds: Add
// after Build returns an error, and a full rebuild is the only way to make
// new vectors queryable.
type Index struct {
	dim   int
	slots []int64
	vecs  [][]float32
	norms []float64
	built bool
}

// New creates an empty, unbuilt index for vectors of the given dimension.
func New(dim int) *Index {
	return &Index{dim: dim}
}

// Dim returns the vector dimension the index was created with.
func (ix *Index) Dim() int { return ix.dim }

// Len returns the number of stored vectors.
func (ix *Index) Len() int { return len(ix.slots) }

// Add stores a vector under the given slot. Only valid before Build.
func (ix *Index) Add(slot int64, vec []float32) error {
	if ix.built {
		return errors.New("index already built; rebuild from scratch to add vectors")
	}
	if len(vec) != ix.dim {
		return fmt.Errorf("vector dimension %d, index expects %d", len(vec), ix.dim)
	}
	ix.slots = append(ix.slots, slot)
	ix.vecs = append(ix.vecs, vec)
	return nil
}

// Build finalizes the index, precomputing vector norms and making it
// queryable.
func (ix *Index) Build() error {
	if ix.built {
		return errors.New("index already built")
	}
	ix.norms = make([]float64, len(ix.vecs))
	for i, v := range ix.vecs {
		ix.norms[i] = norm(v)
	}
	ix.built = true
	return nil
}

// Query returns up to k stored slots ordered by ascending angular distance
// to the query vector.
func (ix *Index) Query(vec []float32, k int) ([]Result, error) {
	if !ix.built {
		return nil, ErrUnavailable
	}
	if len(vec) != ix.dim {
		return nil, fmt.Errorf("query vector dimension %d, index expects %d", len(vec), ix.dim)
	}
	if k <= 0 || ix.Len() == 0 {
		return nil, nil
	}

	queryNorm := norm(vec)
	if queryNorm == 0 {
		return nil, nil
	}

	// Track the k most similar vectors with a min-heap on cosine score,
	// evicting the current worst when a better candidate appears.
	h := &scoreHeap{}
	heap.Init(h)
	for i, stored := range ix.vecs {
		score := cosine(vec, stored, queryNorm, ix.norms[i])
		if h.Len() < k {
			heap.Push(h, slotScore{slot: ix.slots[i], score: score})
		} else if score > (*h)[0].score {
			(*h)[0] = slotScore{slot: ix.slots[i], score: score}
			heap.Fix(h, 0)
		}
	}

	results := make([]Result, h.Len())
	for i := len(results) - 1; i >= 0; i-- {
		item := heap.Pop(h).(slotScore)
		results[i] = Result{Slot: item.slot, Distance: angular(item.score)}
	}
	// Heap pop order is by score; distances are monotone in score but ties
	// need a stable rule for deterministic output.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].Slot < results[j].Slot
	})
	return results, nil
}

// angular converts a cosine similarity into angular distance.
func angular(cos float64) float64 {
	d := 2 * (1 - cos)
	if d < 0 {
		d = 0
	}
	return math.Sqrt(d)
}

func norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

func cosine(a, b []float32, aNorm, bNorm float64) float64 {
	if aNorm == 0 || bNorm == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (aNorm * bNorm)
}

type slotScore struct {
	slot  int64
	score float64
}

// scoreHeap is a min-heap of slotScore ordered by score.
type scoreHeap []slotScore

func (h scoreHeap) Len() int           { return len(h) }
func (h scoreHeap) Less(i, j int) bool { return h[i].score < h[j].score }
func (h scoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *scoreHeap) Push(x any)        { *h = append(*h, x.(slotScore)) }
func (h *scoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
