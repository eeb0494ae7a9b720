package search

import (
	"container/heap"
	"sort"

	"github.com/tern-search/tern/impact"
)

// impactList is one term's impact-ordered vector during evaluation.
type impactList struct {
	r        *impact.BlockReader
	wqt      uint64
	priority uint64
	header   bool // next step is reading a block header
}

type impactHeap []*impactList

func (h impactHeap) Len() int            { return len(h) }
func (h impactHeap) Less(i, j int) bool  { return h[i].priority > h[j].priority }
func (h impactHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *impactHeap) Push(x interface{}) { *h = append(*h, x.(*impactList)) }
func (h *impactHeap) Pop() interface{} {
	old := *h
	l := old[len(old)-1]
	*h = old[:len(old)-1]
	return l
}

// headerSentinel outranks any real priority so every list's first block
// header is read before blocks start being consumed.
const headerSentinel = ^uint64(0)

// impactTerm is the input to impact-ordered evaluation.
type impactTerm struct {
	ft     uint64
	fqt    uint64
	vector []byte
}

// evalImpactOrdered scores quantized impact lists block by block, always
// consuming the block promising the largest contribution next. The query
// weight of each term is normalized and quantized onto the same scale as
// the stored impacts, with a fine against all but the two rarest terms
// taken off the term weight itself; terms the fine zeroes out are not read
// at all. A global blockfine grows once more blocks than terms have been
// consumed and comes off every contribution, and evaluation stops when the
// most promising block no longer clears it. Once the accumulator limit is
// reached, blocks only reinforce existing candidates.
func evalImpactOrdered(terms []impactTerm, stats impact.Stats, limit int) map[uint64]float64 {
	sort.SliceStable(terms, func(i, j int) bool { return terms[i].ft < terms[j].ft })

	normB := impact.NormB(stats.WqtMin, stats.WqtMax)
	h := make(impactHeap, 0, len(terms))
	for rank, t := range terms {
		wqt := impact.QueryWeight(t.fqt, t.ft, stats.AvgFt)
		wqt = impact.Normalise(wqt, stats.WqtMin, stats.WqtMax, normB, stats.Slope)
		q := impact.Quantise(wqt, stats.QuantBits, stats.WqtMin, stats.WqtMax)
		var fine uint64
		if rank >= 2 {
			fine = uint64(rank - 2)
		}
		if fine >= q {
			continue
		}
		h = append(h, &impactList{
			r:        impact.NewBlockReader(t.vector),
			wqt:      q - fine,
			priority: headerSentinel,
			header:   true,
		})
	}
	heap.Init(&h)

	accs := make(map[uint64]float64)
	used := h.Len()
	blocksRead := 0
	var blockfine uint64

	for h.Len() > 0 {
		l := h[0]

		if l.header {
			ok, err := l.r.NextBlock()
			if err != nil || !ok {
				heap.Pop(&h)
				continue
			}
			l.header = false
			l.priority = (l.r.Impact + 1) * l.wqt
			blocksRead++
			if blocksRead > used {
				blockfine++
			}
			heap.Fix(&h, 0)
			continue
		}

		if l.priority <= blockfine {
			// every block still unread promises less than the fine
			break
		}
		contrib := float64(l.priority - blockfine)
		insert := len(accs) < limit
		exhausted := false
		for l.r.Remaining > 0 {
			docno, err := l.r.NextDoc()
			if err != nil {
				exhausted = true
				break
			}
			if _, ok := accs[docno]; ok {
				accs[docno] += contrib
			} else if insert {
				accs[docno] = contrib
			}
		}
		if exhausted {
			heap.Pop(&h)
			continue
		}
		l.header = true
		l.priority = headerSentinel
		heap.Fix(&h, 0)
	}
	return accs
}
