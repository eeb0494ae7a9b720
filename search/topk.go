package search

import "container/heap"

// Hit is one ranked document.
type Hit struct {
	Docno uint64
	Score float64
}

// better orders hits for output: higher score first, ties broken by lower
// document number.
func better(a, b Hit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Docno < b.Docno
}

// topk keeps the best k hits in a min-heap so a full pass over the
// accumulators costs O(n log k).
type topk struct {
	hits []Hit
	k    int
}

func newTopk(k int) *topk {
	return &topk{k: k}
}

func (t *topk) Len() int           { return len(t.hits) }
func (t *topk) Less(i, j int) bool { return better(t.hits[j], t.hits[i]) }
func (t *topk) Swap(i, j int)      { t.hits[i], t.hits[j] = t.hits[j], t.hits[i] }
func (t *topk) Push(x interface{}) { t.hits = append(t.hits, x.(Hit)) }
func (t *topk) Pop() interface{} {
	old := t.hits
	h := old[len(old)-1]
	t.hits = old[:len(old)-1]
	return h
}

func (t *topk) add(h Hit) {
	if t.k <= 0 {
		return
	}
	if len(t.hits) < t.k {
		heap.Push(t, h)
		return
	}
	if better(h, t.hits[0]) {
		t.hits[0] = h
		heap.Fix(t, 0)
	}
}

// sorted pops everything into best-first order.
func (t *topk) sorted() []Hit {
	out := make([]Hit, len(t.hits))
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(t).(Hit)
	}
	return out
}
