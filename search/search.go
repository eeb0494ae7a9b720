// Package search evaluates parsed queries against an index, producing
// ranked documents. Lists are decoded doc-ordered through a choice of
// ranking metrics, or impact-ordered when the index carries impact lists
// and the caller asks for them.
package search

import (
	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/pkg/errors"

	"github.com/tern-search/tern/btree"
	"github.com/tern-search/tern/fileset"
	"github.com/tern-search/tern/impact"
	"github.com/tern-search/tern/queryparse"
	"github.com/tern-search/tern/util/vec"
	"github.com/tern-search/tern/vocab"
)

const DefaultAccLimit = 20000

// Options control query evaluation.
type Options struct {
	Metric MetricOpts `yaml:"metric"`
	// AccLimit bounds how many candidate documents hold accumulators.
	AccLimit int `yaml:"acc_limit"`
	// ImpactOrdered evaluates with impact lists when the index has them.
	// Queries with phrases, groups or exclusions fall back to doc-ordered
	// evaluation.
	ImpactOrdered bool `yaml:"impact_ordered"`
	// BufSize bounds the decode buffer per disk-resident list.
	BufSize int `yaml:"buf_size"`
}

// Results are the ranked hits plus the total match count, which is an
// estimate when the accumulator limit cut evaluation short.
type Results struct {
	Hits           []Hit
	Total          float64
	TotalEstimated bool
}

// Searcher evaluates queries against one index snapshot. Each query should
// use its own Searcher; the underlying b-tree cache is not synchronized.
type Searcher struct {
	Tree    *btree.Tree
	Vectors *fileset.Set
	Stats   CollectionStats
	Docs    DocInfo
	// Impacts is non-nil when the index carries impact-ordered lists.
	Impacts *impact.Stats
	Opts    Options
	// WordHook maps query words the same way index words were mapped,
	// typically stemming. Nil leaves words alone.
	WordHook func(string) string
}

func (s *Searcher) mapWord(w string) string {
	if s.WordHook == nil {
		return w
	}
	return s.WordHook(w)
}

// lookup finds a term's entry of the wanted kind, or nil when the term is
// not in the index.
func (s *Searcher) lookup(word string, want func(vocab.VType) bool) (*vocab.Entry, error) {
	value, err := s.Tree.Find(word)
	if err == btree.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e, err := vocab.First(value, want)
	if err == vocab.End {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decoding vocab entry for %q", word)
	}
	return e, nil
}

// vector materializes an entry's whole vector.
func (s *Searcher) vector(e *vocab.Entry) ([]byte, error) {
	if e.Location == vocab.LocVocab {
		return e.Vector, nil
	}
	buf := make([]byte, e.Size)
	if err := s.Vectors.ReadAt(e.FileNo, e.Offset, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// decoderFor builds a streaming decoder over an entry's list.
func (s *Searcher) decoderFor(e *vocab.Entry) *postingDecoder {
	var src *listSource
	if e.Location == vocab.LocVocab {
		src = newMemSource(e.Vector)
	} else {
		src = newDiskSource(s.Vectors, e.FileNo, e.Offset, e.Size, s.Opts.BufSize)
	}
	return newPostingDecoder(src, e)
}

// Search evaluates a parsed query and returns count hits starting at
// offset startdoc in the ranking.
func (s *Searcher) Search(q *queryparse.Query, startdoc, count int) (*Results, error) {
	limit := s.Opts.AccLimit
	if limit <= 0 {
		limit = DefaultAccLimit
	}

	if s.Opts.ImpactOrdered && s.Impacts != nil &&
		len(q.Phrases) == 0 && len(q.Conjuncts) == 0 && len(q.Excludes) == 0 {
		return s.searchImpact(q, startdoc, count, limit)
	}
	return s.searchDocOrdered(q, startdoc, count, limit)
}

func (s *Searcher) searchImpact(q *queryparse.Query, startdoc, count, limit int) (*Results, error) {
	var terms []impactTerm
	for _, t := range q.Terms {
		e, err := s.lookup(s.mapWord(t.Word), vocab.IsImpactOrdered)
		if err != nil {
			return nil, err
		}
		if e == nil {
			continue
		}
		vector, err := s.vector(e)
		if err != nil {
			return nil, err
		}
		terms = append(terms, impactTerm{ft: e.Docs, fqt: t.Fqt, vector: vector})
	}

	accs := evalImpactOrdered(terms, *s.Impacts, limit)
	res := &Results{Total: float64(len(accs))}
	if len(accs) >= limit {
		res.TotalEstimated = true
	}
	tk := newTopk(startdoc + count)
	for docno, score := range accs {
		tk.add(Hit{Docno: docno, Score: score})
	}
	res.Hits = sliceHits(tk.sorted(), startdoc)
	return res, nil
}

func (s *Searcher) searchDocOrdered(q *queryparse.Query, startdoc, count, limit int) (*Results, error) {
	m, err := newMetric(s.Opts.Metric, s.Stats)
	if err != nil {
		return nil, err
	}

	var lists []termList
	var qTerms uint64
	for _, t := range q.Terms {
		e, err := s.lookup(s.mapWord(t.Word), vocab.IsDocOrdered)
		if err != nil {
			return nil, err
		}
		if e == nil {
			continue
		}
		qTerms += t.Fqt
		lists = append(lists, termList{
			term: termStats{ft: e.Docs, Ftotal: e.Occurs, fqt: t.Fqt},
			dec:  s.decoderFor(e),
		})
	}

	for _, phrase := range q.Phrases {
		l, err := s.phraseList(phrase)
		if err != nil {
			return nil, err
		}
		if l != nil {
			qTerms++
			lists = append(lists, *l)
		}
	}
	for _, group := range q.Conjuncts {
		l, err := s.conjunctList(group)
		if err != nil {
			return nil, err
		}
		if l != nil {
			qTerms++
			lists = append(lists, *l)
		}
	}

	ev, err := evalDocOrdered(m, s.Docs, s.Stats, lists, limit)
	if err != nil {
		return nil, err
	}

	if len(q.Excludes) > 0 {
		excluded, err := s.excludeSet(q.Excludes)
		if err != nil {
			return nil, err
		}
		for docno := range ev.accs {
			if excluded.Contains(docno) {
				delete(ev.accs, docno)
			}
		}
		if !ev.estimated {
			ev.total = float64(len(ev.accs))
		}
	}

	tk := newTopk(startdoc + count)
	for docno, score := range ev.accs {
		doc, err := s.docData(docno)
		if err != nil {
			return nil, err
		}
		tk.add(Hit{Docno: docno, Score: score + m.docNorm(qTerms, doc)})
	}

	return &Results{
		Hits:           sliceHits(tk.sorted(), startdoc),
		Total:          ev.total,
		TotalEstimated: ev.estimated,
	}, nil
}

func (s *Searcher) docData(docno uint64) (docData, error) {
	w, err := s.Docs.Weight(docno)
	if err != nil {
		return docData{}, err
	}
	l, err := s.Docs.Length(docno)
	if err != nil {
		return docData{}, err
	}
	return docData{weight: w, length: l}, nil
}

// excludeSet collects every document containing an excluded word.
func (s *Searcher) excludeSet(words []string) (*roaring64.Bitmap, error) {
	set := roaring64.New()
	for _, word := range words {
		e, err := s.lookup(s.mapWord(word), vocab.IsDocOrdered)
		if err != nil {
			return nil, err
		}
		if e == nil {
			continue
		}
		dec := s.decoderFor(e)
		if err := forEachPosting(dec, func(docno, fdt uint64) error {
			set.Add(docno)
			return nil
		}); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// synthetic turns materialized (docno, f) pairs into a term list that the
// evaluator can decode like any other.
func synthetic(docs []uint64, freqs []uint64) termList {
	var buf []byte
	var occurs uint64
	var last uint64
	for i, docno := range docs {
		var gap uint64
		if i == 0 {
			gap = docno
		} else {
			gap = docno - last - 1
		}
		buf = appendVbyteBuf(buf, gap)
		buf = appendVbyteBuf(buf, freqs[i])
		occurs += freqs[i]
		last = docno
	}
	e := &vocab.Entry{
		Type: vocab.TypeDoc,
		Size: uint64(len(buf)),
		Docs: uint64(len(docs)),
	}
	if len(docs) > 0 {
		e.Last = last
	}
	return termList{
		term: termStats{ft: uint64(len(docs)), Ftotal: occurs, fqt: 1},
		dec:  newPostingDecoder(newMemSource(buf), e),
	}
}

func appendVbyteBuf(dst []byte, n uint64) []byte {
	var tmp [vec.VbyteMax]byte
	v := vec.New(tmp[:])
	v.VbyteWrite(n)
	return append(dst, tmp[:v.Pos]...)
}

// phraseList materializes the documents where the words occur adjacently
// in order. On an index without word positions the phrase degrades to a
// conjunction.
func (s *Searcher) phraseList(words []string) (*termList, error) {
	entries := make([]*vocab.Entry, len(words))
	for i, w := range words {
		e, err := s.lookup(s.mapWord(w), vocab.IsDocOrdered)
		if err != nil {
			return nil, err
		}
		if e == nil {
			return nil, nil // a missing word empties the phrase
		}
		if e.Type != vocab.TypeDocWP {
			return s.conjunctList(words)
		}
		entries[i] = e
	}

	// positions where a prefix of the phrase ends, per candidate doc
	ends := make(map[uint64][]uint64)
	dec := s.decoderFor(entries[0])
	err := forEachPositioned(dec, func(docno uint64, positions []uint64) error {
		ends[docno] = positions
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, e := range entries[1:] {
		next := make(map[uint64][]uint64)
		dec := s.decoderFor(e)
		err := forEachPositioned(dec, func(docno uint64, positions []uint64) error {
			prev, ok := ends[docno]
			if !ok {
				return nil
			}
			var matched []uint64
			pi := 0
			for _, pos := range positions {
				for pi < len(prev) && prev[pi]+1 < pos {
					pi++
				}
				if pi < len(prev) && prev[pi]+1 == pos {
					matched = append(matched, pos)
				}
			}
			if len(matched) > 0 {
				next[docno] = matched
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		ends = next
		if len(ends) == 0 {
			break
		}
	}

	docs, freqs := collectSorted(ends)
	l := synthetic(docs, freqs)
	return &l, nil
}

// conjunctList materializes the documents containing every word of the
// group, with the smallest of the words' frequencies as the group's.
func (s *Searcher) conjunctList(words []string) (*termList, error) {
	var freqs map[uint64]uint64
	for _, w := range words {
		e, err := s.lookup(s.mapWord(w), vocab.IsDocOrdered)
		if err != nil {
			return nil, err
		}
		if e == nil {
			return nil, nil
		}
		cur := make(map[uint64]uint64)
		dec := s.decoderFor(e)
		err = forEachPosting(dec, func(docno, fdt uint64) error {
			if freqs == nil {
				cur[docno] = fdt
				return nil
			}
			if f, ok := freqs[docno]; ok {
				if f < fdt {
					cur[docno] = f
				} else {
					cur[docno] = fdt
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		freqs = cur
		if len(freqs) == 0 {
			break
		}
	}

	docs := make([]uint64, 0, len(freqs))
	for docno := range freqs {
		docs = append(docs, docno)
	}
	sortUint64(docs)
	fs := make([]uint64, len(docs))
	for i, docno := range docs {
		fs[i] = freqs[docno]
	}
	l := synthetic(docs, fs)
	return &l, nil
}

func collectSorted(m map[uint64][]uint64) (docs []uint64, freqs []uint64) {
	docs = make([]uint64, 0, len(m))
	for docno := range m {
		docs = append(docs, docno)
	}
	sortUint64(docs)
	freqs = make([]uint64, len(docs))
	for i, docno := range docs {
		freqs[i] = uint64(len(m[docno]))
	}
	return docs, freqs
}

func forEachPosting(dec *postingDecoder, visit func(docno, fdt uint64) error) error {
	for {
		docno, fdt, err := dec.next()
		if err != nil {
			if isEOF(err) {
				return nil
			}
			return err
		}
		if err := visit(docno, fdt); err != nil {
			return err
		}
	}
}

func forEachPositioned(dec *postingDecoder, visit func(docno uint64, positions []uint64) error) error {
	for {
		docno, _, err := dec.next()
		if err != nil {
			if isEOF(err) {
				return nil
			}
			return err
		}
		positions, err := dec.readPositions()
		if err != nil {
			return err
		}
		if err := visit(docno, positions); err != nil {
			return err
		}
	}
}

func sliceHits(hits []Hit, startdoc int) []Hit {
	if startdoc >= len(hits) {
		return nil
	}
	return hits[startdoc:]
}
