// Package postings accumulates in-memory postings vectors for documents as
// they are parsed, and dumps them as sorted on-disk runs for merging.
//
// Within a vector the first document number is absolute and subsequent ones
// are encoded as gap minus one. Word positions are encoded as deltas with
// the first position of each document absolute.
package postings

import (
	"math"
	"sort"

	"github.com/pkg/errors"

	"github.com/tern-search/tern/util/vec"
)

var (
	ErrNotInDoc  = errors.New("no document started")
	ErrInDoc     = errors.New("document still open")
	ErrDocOrder  = errors.New("document numbers must increase")
	ErrWordOrder = errors.New("word positions must increase")
)

// DocStats summarizes one finished document.
type DocStats struct {
	// Weight is the cosine document weight sqrt(sum (1 + ln f_dt)^2).
	Weight float64
	// Words counts every indexed word occurrence.
	Words uint64
	// Distinct counts distinct terms.
	Distinct uint64
}

type node struct {
	term   string
	buf    []byte
	docs   uint64
	occurs uint64
	last   uint64 // last docno in the vector

	// per-document state, valid while the node sits on the update list
	fdt     uint64
	fdtPos  int
	lastPos uint64
	touched bool
}

// Accumulator collects postings until they are dumped. Not safe for
// concurrent use.
type Accumulator struct {
	terms     map[string]*node
	update    []*node
	docno     uint64
	inDoc     bool
	started   bool
	positions bool
	memSize   int
}

// NewAccumulator returns an empty accumulator. When positions is set the
// vectors carry word positions alongside frequencies.
func NewAccumulator(positions bool) *Accumulator {
	return &Accumulator{
		terms:     make(map[string]*node),
		positions: positions,
	}
}

// StartDoc begins accumulation for a document. Document numbers must be
// supplied in increasing order.
func (p *Accumulator) StartDoc(docno uint64) error {
	if p.inDoc {
		return ErrInDoc
	}
	if p.started && docno <= p.docno {
		return ErrDocOrder
	}
	p.docno = docno
	p.inDoc = true
	p.started = true
	return nil
}

func appendVbyte(dst []byte, n uint64) []byte {
	for n >= 0x80 {
		dst = append(dst, byte(n)|0x80)
		n >>= 7
	}
	return append(dst, byte(n))
}

func putVbyte(dst []byte, n uint64) {
	i := 0
	for n >= 0x80 {
		dst[i] = byte(n) | 0x80
		n >>= 7
		i++
	}
	dst[i] = byte(n)
}

// AddWord records one occurrence of term at the given word position within
// the current document.
func (p *Accumulator) AddWord(term string, pos uint64) error {
	if !p.inDoc {
		return ErrNotInDoc
	}
	n := p.terms[term]
	if n == nil {
		n = &node{term: term}
		p.terms[term] = n
		p.memSize += len(term) + nodeOverhead
	}

	if !n.touched {
		// first occurrence in this document
		var gap uint64
		if n.docs == 0 && n.occurs == 0 && len(n.buf) == 0 {
			gap = p.docno
		} else {
			gap = p.docno - n.last - 1
		}
		before := len(n.buf)
		n.buf = appendVbyte(n.buf, gap)
		n.fdtPos = len(n.buf)
		n.buf = append(n.buf, 1) // f_dt starts at one
		n.fdt = 1
		if p.positions {
			n.buf = appendVbyte(n.buf, pos)
			n.lastPos = pos
		}
		n.touched = true
		n.last = p.docno
		p.update = append(p.update, n)
		p.memSize += len(n.buf) - before
		return nil
	}

	// repeat occurrence, patch f_dt in place
	oldLen := vec.VbyteLen(n.fdt)
	n.fdt++
	newLen := vec.VbyteLen(n.fdt)
	if newLen > oldLen {
		grow := newLen - oldLen
		n.buf = append(n.buf, make([]byte, grow)...)
		copy(n.buf[n.fdtPos+newLen:], n.buf[n.fdtPos+oldLen:])
		p.memSize += grow
	}
	putVbyte(n.buf[n.fdtPos:], n.fdt)

	if p.positions {
		if pos <= n.lastPos {
			return ErrWordOrder
		}
		before := len(n.buf)
		n.buf = appendVbyte(n.buf, pos-n.lastPos)
		n.lastPos = pos
		p.memSize += len(n.buf) - before
	}
	return nil
}

// NeedsUpdate reports whether a started document has pending occurrences.
func (p *Accumulator) NeedsUpdate() bool {
	return p.inDoc
}

// Update finishes the current document, folding its occurrences into the
// per-term totals, and returns the document's statistics.
func (p *Accumulator) Update() (DocStats, error) {
	if !p.inDoc {
		return DocStats{}, ErrNotInDoc
	}
	var stats DocStats
	for _, n := range p.update {
		n.docs++
		n.occurs += n.fdt
		stats.Distinct++
		stats.Words += n.fdt
		w := 1 + math.Log(float64(n.fdt))
		stats.Weight += w * w
		n.touched = false
		n.fdt = 0
	}
	stats.Weight = math.Sqrt(stats.Weight)
	p.update = p.update[:0]
	p.inDoc = false
	return stats, nil
}

// Terms returns the number of distinct terms accumulated.
func (p *Accumulator) Terms() int {
	return len(p.terms)
}

// rough per-node bookkeeping cost beyond the vector itself
const nodeOverhead = 64

// MemSize estimates the memory held by the accumulator. Indexing flushes a
// run whenever this crosses the configured buffer size.
func (p *Accumulator) MemSize() int {
	return p.memSize
}

// Size returns the exact size of the run a Dump would produce.
func (p *Accumulator) Size() int {
	size := 0
	for _, n := range p.terms {
		size += recordSize(n)
	}
	return size
}

func recordSize(n *node) int {
	return vec.VbyteLen(uint64(len(n.term))) + len(n.term) +
		vec.VbyteLen(n.docs) + vec.VbyteLen(n.occurs) + vec.VbyteLen(n.last) +
		vec.VbyteLen(uint64(len(n.buf))) + len(n.buf)
}

// Dump writes the accumulated postings as a sorted run and clears the
// accumulator. The current document must be finished first.
func (p *Accumulator) Dump(w *RunWriter) error {
	if p.inDoc {
		return ErrInDoc
	}
	nodes := make([]*node, 0, len(p.terms))
	for _, n := range p.terms {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].term < nodes[j].term })
	for _, n := range nodes {
		rec := Record{
			Term:   n.term,
			Docs:   n.docs,
			Occurs: n.occurs,
			Last:   n.last,
			Vec:    n.buf,
		}
		if err := w.Write(&rec); err != nil {
			return err
		}
	}
	p.Clear()
	return nil
}

// Clear drops all accumulated postings.
func (p *Accumulator) Clear() {
	p.terms = make(map[string]*node)
	p.update = p.update[:0]
	p.inDoc = false
	p.memSize = 0
}
