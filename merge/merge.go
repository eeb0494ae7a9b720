// Package merge turns sorted postings runs into a queryable index. Runs
// from the in-memory accumulator pass through a bounded merging pyramid and
// a final k-way merge that writes the vector files and bulk-loads the
// vocabulary b-tree. Remerge folds new runs into an existing index without
// rebuilding it from scratch.
package merge

import (
	"container/heap"
	"io"

	"github.com/pkg/errors"

	"github.com/tern-search/tern/btree"
	"github.com/tern-search/tern/fileset"
	"github.com/tern-search/tern/postings"
	"github.com/tern-search/tern/util/vec"
	"github.com/tern-search/tern/vocab"
)

// source is one run feeding a merge. order fixes the tiebreak for equal
// terms: runs must combine oldest first so document numbers stay increasing
// within the merged vector.
type source struct {
	r     *postings.RunReader
	rec   *postings.Record
	order int
}

type sourceHeap []*source

func (h sourceHeap) Len() int { return len(h) }
func (h sourceHeap) Less(i, j int) bool {
	if h[i].rec.Term != h[j].rec.Term {
		return h[i].rec.Term < h[j].rec.Term
	}
	return h[i].order < h[j].order
}
func (h sourceHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *sourceHeap) Push(x interface{}) {
	*h = append(*h, x.(*source))
}
func (h *sourceHeap) Pop() interface{} {
	old := *h
	s := old[len(old)-1]
	*h = old[:len(old)-1]
	return s
}

// concat appends next's postings after dst's. next's leading absolute
// document number becomes a gap from dst's last document.
func concat(dst, next *postings.Record) error {
	if dst.Docs == 0 {
		dst.Docs = next.Docs
		dst.Occurs = next.Occurs
		dst.Last = next.Last
		dst.Vec = append(dst.Vec, next.Vec...)
		return nil
	}
	v := vec.New(next.Vec)
	first, err := v.VbyteRead()
	if err != nil {
		return errors.Wrapf(err, "merging term %q", dst.Term)
	}
	if first <= dst.Last {
		return errors.Errorf("merging term %q: document %v out of order after %v",
			dst.Term, first, dst.Last)
	}
	var gapbuf [vec.VbyteMax]byte
	gv := vec.New(gapbuf[:])
	if _, err := gv.VbyteWrite(first - dst.Last - 1); err != nil {
		return err
	}
	dst.Vec = append(dst.Vec, gapbuf[:gv.Pos]...)
	dst.Vec = append(dst.Vec, next.Vec[v.Pos:]...)
	dst.Docs += next.Docs
	dst.Occurs += next.Occurs
	dst.Last = next.Last
	return nil
}

// mergeRuns drives a k-way merge over the readers, oldest first, calling
// emit once per term with the combined record.
func mergeRuns(readers []*postings.RunReader, emit func(*postings.Record) error) error {
	h := make(sourceHeap, 0, len(readers))
	for i, r := range readers {
		rec, err := r.Next()
		if err != nil {
			if isEOF(err) {
				continue
			}
			return err
		}
		h = append(h, &source{r: r, rec: rec, order: i})
	}
	heap.Init(&h)

	for h.Len() > 0 {
		s := h[0]
		merged := &postings.Record{Term: s.rec.Term}
		for h.Len() > 0 && h[0].rec.Term == merged.Term {
			s = h[0]
			if err := concat(merged, s.rec); err != nil {
				return err
			}
			rec, err := s.r.Next()
			if err != nil {
				if !isEOF(err) {
					return err
				}
				heap.Pop(&h)
				continue
			}
			s.rec = rec
			heap.Fix(&h, 0)
		}
		if err := emit(merged); err != nil {
			return err
		}
	}
	return nil
}

func isEOF(err error) bool {
	return errors.Cause(err) == io.EOF
}

// Output is where a merge writes the resulting index.
type Output struct {
	Vectors  *fileset.Set
	Vocab    *fileset.Set
	PageSize int
}

// Result reports what a merge produced.
type Result struct {
	// DistinctTerms counts vocabulary entries.
	DistinctTerms uint64
	// Occurrences sums term occurrences over the whole index.
	Occurrences uint64
	// VocabRoot and VocabPages locate the rebuilt vocabulary.
	VocabRoot  uint64
	VocabPages uint64
	// VectorFiles is how many vector files the merge wrote.
	VectorFiles uint64
}

// vocabBuilder places merged vectors inline or in the vector files and
// bulk-loads the vocabulary.
type vocabBuilder struct {
	bulk     *btree.Bulk
	vw       *fileset.Writer
	pagesize int
	vtype    vocab.VType
	res      Result
	entbuf   []byte
}

func newVocabBuilder(out Output, vtype vocab.VType) *vocabBuilder {
	return &vocabBuilder{
		bulk:     btree.NewBulk(out.Vocab, out.PageSize, 0),
		vw:       fileset.NewWriter(out.Vectors, 0, 0),
		pagesize: out.PageSize,
		vtype:    vtype,
	}
}

func (b *vocabBuilder) add(rec *postings.Record) error {
	e := vocab.Entry{
		Type:   b.vtype,
		Size:   uint64(len(rec.Vec)),
		Docs:   rec.Docs,
		Occurs: rec.Occurs,
		Last:   rec.Last,
	}

	e.Location = vocab.LocVocab
	e.Vector = rec.Vec
	if btree.EntrySize(rec.Term, e.Len()) > b.pagesize/4 {
		// vector goes to the vector files
		e.Location = vocab.LocFile
		e.Vector = nil
		if err := b.vw.Reserve(e.Size); err != nil {
			return err
		}
		e.FileNo, e.Offset = b.vw.Loc()
		e.Capacity = e.Size
		if _, err := b.vw.Write(rec.Vec); err != nil {
			return err
		}
	}

	size := e.Len()
	if cap(b.entbuf) < size {
		b.entbuf = make([]byte, size)
	}
	v := vec.New(b.entbuf[:size])
	if err := e.Encode(v); err != nil {
		return errors.Wrapf(err, "encoding vocab entry for %q", rec.Term)
	}
	if err := b.bulk.Append(rec.Term, b.entbuf[:v.Pos]); err != nil {
		return errors.Wrapf(err, "loading vocab entry for %q", rec.Term)
	}

	b.res.DistinctTerms++
	b.res.Occurrences += rec.Occurs
	return nil
}

func (b *vocabBuilder) finish() (Result, error) {
	if err := b.vw.Flush(); err != nil {
		return Result{}, err
	}
	root, pages, err := b.bulk.Finish()
	if err != nil {
		return Result{}, err
	}
	b.res.VocabRoot = root
	b.res.VocabPages = pages
	b.res.VectorFiles = b.vw.Files()
	return b.res, nil
}

// Final merges the runs into a fresh index.
func Final(readers []*postings.RunReader, out Output, vtype vocab.VType) (Result, error) {
	b := newVocabBuilder(out, vtype)
	if err := mergeRuns(readers, b.add); err != nil {
		return Result{}, err
	}
	return b.finish()
}
