// Package index ties the on-disk pieces into one searchable index: a
// vocabulary b-tree, postings vector files, a document map and a parameter
// block, all living in a single directory. Documents accumulate in memory
// and spill to temporary runs; Commit merges the runs into the on-disk
// index, building it on the first commit and folding into it afterwards.
package index

import (
	"io"
	"log"
	"sync"

	"github.com/pkg/errors"
	"go4.org/syncutil"

	"github.com/tern-search/tern/btree"
	"github.com/tern-search/tern/fileset"
	"github.com/tern-search/tern/impact"
	"github.com/tern-search/tern/merge"
	"github.com/tern-search/tern/postings"
	"github.com/tern-search/tern/queryparse"
	"github.com/tern-search/tern/search"
	"github.com/tern-search/tern/stem"
	"github.com/tern-search/tern/util/vfs"
	"github.com/tern-search/tern/vocab"
)

var (
	ErrExists   = errors.New("index already exists")
	ErrNoCommit = errors.New("index has no committed data")
)

const (
	indexName = "index"
	tmpName   = "tindex"

	vocabSuffix  = "vcb"
	vectorSuffix = "vec"
)

// Index is a single-directory search index. Methods are serialized by an
// internal mutex; Search opens its own b-tree cursor per query so reads
// never share cache state with writes.
type Index struct {
	dir  vfs.Dir
	opts Options

	mu      sync.Mutex
	super   *super
	docmap  *DocMap
	acc     *postings.Accumulator
	pyramid *merge.Pyramid
	vocab   *fileset.Set
	vectors *fileset.Set
	tree    *btree.Tree
	tok     *tokenizer

	closeOnce syncutil.Once
}

func newIndex(dir vfs.Dir, opts Options) (*Index, error) {
	opts.fillDefaults()
	stemmer, err := stem.Snowball(opts.Stemmer)
	if err != nil {
		return nil, err
	}
	return &Index{
		dir:     dir,
		opts:    opts,
		acc:     postings.NewAccumulator(opts.Positions),
		pyramid: merge.NewPyramid(dir, indexName, opts.PyramidWidth, opts.CompressRuns),
		vocab:   fileset.New(dir, indexName, vocabSuffix, opts.MaxFileSize),
		vectors: fileset.New(dir, indexName, vectorSuffix, opts.MaxFileSize),
		tok:     newTokenizer(stemmer, opts.StopWords),
	}, nil
}

// Create initializes a new index in dir. It refuses to clobber an
// existing one.
func Create(dir vfs.Dir, opts Options) (*Index, error) {
	if _, err := vfs.ReadFile(dir, paramName); err == nil {
		return nil, errors.Wrapf(ErrExists, "in %v", dir.Path())
	}
	idx, err := newIndex(dir, opts)
	if err != nil {
		return nil, err
	}
	idx.docmap = NewDocMap()
	idx.super = &super{
		PageSize:    uint32(idx.opts.PageSize),
		MaxFileSize: idx.opts.MaxFileSize,
	}
	if idx.opts.Positions {
		idx.super.Flags |= flagPositions
	}
	if err := idx.super.save(dir); err != nil {
		return nil, err
	}
	if err := idx.docmap.Save(dir); err != nil {
		return nil, err
	}
	return idx, nil
}

// Open loads an existing index from dir. Storage parameters come from the
// parameter block; opts supplies everything else.
func Open(dir vfs.Dir, opts Options) (*Index, error) {
	opts.fillDefaults()
	s, err := loadSuper(dir, opts.IgnoreVersion)
	if err != nil {
		return nil, err
	}
	opts.PageSize = int(s.PageSize)
	opts.MaxFileSize = s.MaxFileSize
	opts.Positions = s.positions()
	idx, err := newIndex(dir, opts)
	if err != nil {
		return nil, err
	}
	idx.super = s
	if idx.docmap, err = LoadDocMap(dir); err != nil {
		return nil, err
	}
	if s.VocabPages > 0 {
		idx.tree = btree.Open(idx.vocab, int(s.PageSize), s.VocabRoot, s.VocabPages)
	}
	return idx, nil
}

// AddDocument indexes the text read from r under the given label and
// returns its document number. The document is not searchable until the
// next Commit.
func (i *Index) AddDocument(label string, r io.Reader) (uint64, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	docno := i.docmap.Docs() + 1
	if err := i.acc.StartDoc(docno); err != nil {
		return 0, err
	}
	err := i.tok.scan(r, func(word string, pos uint64) error {
		return i.acc.AddWord(word, pos)
	})
	if err != nil {
		return 0, errors.Wrapf(err, "indexing document %q", label)
	}
	stats, err := i.acc.Update()
	if err != nil {
		return 0, err
	}
	i.docmap.Add(label, stats)

	if i.acc.MemSize() >= i.opts.BufferSize {
		if err := i.dumpRun(false); err != nil {
			return 0, err
		}
	}
	return docno, nil
}

// dumpRun writes the accumulated postings out as a run. The final dump
// before a merge skips the pyramid's cascade; the merge reads every run
// anyway.
func (i *Index) dumpRun(final bool) error {
	log.Printf("dumping postings run terms=%d bytes=%d", i.acc.Terms(), i.acc.MemSize())
	dump := func(w *postings.RunWriter) error {
		return i.acc.Dump(w)
	}
	if final {
		return i.pyramid.AddFinalRun(dump)
	}
	return i.pyramid.AddRun(dump)
}

func (i *Index) vtype() vocab.VType {
	if i.opts.Positions {
		return vocab.TypeDocWP
	}
	return vocab.TypeDoc
}

// tmpSets returns fresh output sets under the temporary name, cleared of
// any leftovers from an aborted merge.
func (i *Index) tmpSets() (vocabSet, vectorSet *fileset.Set, err error) {
	vocabSet = fileset.New(i.dir, tmpName, vocabSuffix, i.opts.MaxFileSize)
	vectorSet = fileset.New(i.dir, tmpName, vectorSuffix, i.opts.MaxFileSize)
	if err := vocabSet.Remove(); err != nil {
		return nil, nil, err
	}
	if err := vectorSet.Remove(); err != nil {
		return nil, nil, err
	}
	return vocabSet, vectorSet, nil
}

// swapIn replaces the live vocabulary, and optionally the vector files,
// with freshly merged ones and records the result in the parameter block.
func (i *Index) swapIn(tmpVocab, tmpVectors *fileset.Set, res merge.Result) error {
	if err := i.vocab.Remove(); err != nil {
		return err
	}
	if err := tmpVocab.RenameTo(i.vocab); err != nil {
		return err
	}
	if tmpVectors != nil {
		if err := i.vectors.Remove(); err != nil {
			return err
		}
		if err := tmpVectors.RenameTo(i.vectors); err != nil {
			return err
		}
	}
	i.super.VocabRoot = res.VocabRoot
	i.super.VocabPages = res.VocabPages
	i.super.VectorFiles = res.VectorFiles
	i.super.Distinct = res.DistinctTerms
	i.super.Occurrences = res.Occurrences
	i.tree = btree.Open(i.vocab, i.opts.PageSize, res.VocabRoot, res.VocabPages)
	return nil
}

// Commit merges everything added since the last commit into the on-disk
// index and makes it searchable. On error the committed index is
// untouched; the runs already dumped remain for a retry.
func (i *Index) Commit() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.acc.Terms() > 0 {
		if err := i.dumpRun(true); err != nil {
			return err
		}
	}

	if i.pyramid.Runs() > 0 {
		tmpVocab, tmpVectors, err := i.tmpSets()
		if err != nil {
			return err
		}
		abort := func() {
			tmpVocab.Remove()
			tmpVectors.Remove()
		}
		out := merge.Output{Vectors: tmpVectors, Vocab: tmpVocab, PageSize: i.opts.PageSize}

		var res merge.Result
		if i.super.VocabPages == 0 {
			log.Printf("merging runs=%d into new index", i.pyramid.Runs())
			res, err = i.pyramid.Merge(out, i.vtype())
			if err != nil {
				abort()
				return err
			}
		} else {
			run, cleanup, err := i.pyramid.Single()
			if err != nil {
				abort()
				return err
			}
			log.Printf("folding new postings into index docs=%d", i.super.Docs)
			res, err = merge.Remerge(merge.IndexSide{Tree: i.tree, Vectors: i.vectors}, run, out, i.vtype())
			cleanup()
			if err != nil {
				abort()
				return err
			}
			// remerged lists invalidate any impact ordering
			i.super.Flags &^= flagImpacts
		}
		if err := i.swapIn(tmpVocab, tmpVectors, res); err != nil {
			return err
		}
	}

	i.super.Docs = i.docmap.Docs()
	i.super.AvgWeight = i.docmap.AvgWeight()
	i.super.AvgLength = i.docmap.AvgLength()
	if err := i.docmap.Save(i.dir); err != nil {
		return err
	}
	return i.super.save(i.dir)
}

// BuildImpacts adds an impact-ordered list for every term, enabling
// impact-ordered query evaluation. The index must be committed first.
func (i *Index) BuildImpacts() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.tree == nil {
		return ErrNoCommit
	}
	tmpVocab := fileset.New(i.dir, tmpName, vocabSuffix, i.opts.MaxFileSize)
	if err := tmpVocab.Remove(); err != nil {
		return err
	}
	b := &impact.Builder{
		Tree:     i.tree,
		Vectors:  i.vectors,
		OutVocab: tmpVocab,
		PageSize: i.opts.PageSize,
		Weights:  i.docmap,
		Params:   i.opts.Impacts,
	}
	res, err := b.Build()
	if err != nil {
		tmpVocab.Remove()
		return err
	}
	err = i.swapIn(tmpVocab, nil, merge.Result{
		DistinctTerms: i.super.Distinct,
		Occurrences:   i.super.Occurrences,
		VocabRoot:     res.VocabRoot,
		VocabPages:    res.VocabPages,
		VectorFiles:   res.VectorFiles,
	})
	if err != nil {
		return err
	}
	i.super.Flags |= flagImpacts
	i.super.setImpactStats(res.Stats)
	return i.super.save(i.dir)
}

// StripPositions rewrites the index without word positions, shrinking the
// vectors at the cost of phrase search. A no-op on an index already
// without positions.
func (i *Index) StripPositions() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.tree == nil {
		return ErrNoCommit
	}
	if !i.super.positions() {
		return nil
	}
	tmpVocab, tmpVectors, err := i.tmpSets()
	if err != nil {
		return err
	}
	out := merge.Output{Vectors: tmpVectors, Vocab: tmpVocab, PageSize: i.opts.PageSize}
	res, err := merge.Rewrite(merge.IndexSide{Tree: i.tree, Vectors: i.vectors}, out, vocab.TypeDoc,
		func(rec *postings.Record) error {
			stripped, err := postings.StripPositions(rec.Vec, rec.Docs)
			if err != nil {
				return err
			}
			rec.Vec = stripped
			return nil
		})
	if err != nil {
		tmpVocab.Remove()
		tmpVectors.Remove()
		return err
	}
	if err := i.swapIn(tmpVocab, tmpVectors, res); err != nil {
		return err
	}
	i.opts.Positions = false
	i.acc = postings.NewAccumulator(false)
	i.super.Flags &^= flagPositions | flagImpacts
	return i.super.save(i.dir)
}

// Hit is one ranked search result.
type Hit struct {
	Docno uint64
	Label string
	Score float64
}

// SearchResults carry the ranked hits plus the total match count, which
// is an estimate when evaluation hit the accumulator limit.
type SearchResults struct {
	Hits           []Hit
	Total          float64
	TotalEstimated bool
}

// Search parses and evaluates a query, returning count ranked hits
// starting at rank startdoc.
func (i *Index) Search(query string, startdoc, count int) (*SearchResults, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	q, err := queryparse.Parse(query)
	if err != nil {
		return nil, err
	}
	if q.Empty() {
		// a query with no surviving terms matches nothing
		return &SearchResults{}, nil
	}
	if i.tree == nil {
		return &SearchResults{}, nil
	}

	s := &search.Searcher{
		// each query gets its own cursor over the vocabulary
		Tree:    btree.Open(i.vocab, i.opts.PageSize, i.super.VocabRoot, i.super.VocabPages),
		Vectors: i.vectors,
		Stats: search.CollectionStats{
			Docs:        i.super.Docs,
			Occurrences: i.super.Occurrences,
			AvgWeight:   i.super.AvgWeight,
			AvgLength:   i.super.AvgLength,
		},
		Docs:     i.docmap,
		Opts:     i.opts.Search,
		WordHook: i.tok.word,
	}
	if i.super.impacts() {
		stats := i.super.impactStats()
		s.Impacts = &stats
	}

	res, err := s.Search(q, startdoc, count)
	if err != nil {
		return nil, err
	}
	out := &SearchResults{
		Hits:           make([]Hit, 0, len(res.Hits)),
		Total:          res.Total,
		TotalEstimated: res.TotalEstimated,
	}
	for _, h := range res.Hits {
		label, err := i.docmap.Label(h.Docno)
		if err != nil {
			return nil, err
		}
		out.Hits = append(out.Hits, Hit{Docno: h.Docno, Label: label, Score: h.Score})
	}
	return out, nil
}

// Stats summarize an index.
type Stats struct {
	Docs          uint64
	DistinctTerms uint64
	Occurrences   uint64
	TotalWords    uint64
	AvgWeight     float64
	AvgLength     float64
	Positions     bool
	Impacts       bool
	Uncommitted   uint64
}

func (i *Index) Stats() Stats {
	i.mu.Lock()
	defer i.mu.Unlock()
	return Stats{
		Docs:          i.super.Docs,
		DistinctTerms: i.super.Distinct,
		Occurrences:   i.super.Occurrences,
		TotalWords:    i.docmap.TotalWords(),
		AvgWeight:     i.super.AvgWeight,
		AvgLength:     i.super.AvgLength,
		Positions:     i.super.positions(),
		Impacts:       i.super.impacts(),
		Uncommitted:   i.docmap.Docs() - i.super.Docs,
	}
}

// Close releases file handles. Documents added but not committed are
// discarded along with their temporary runs.
func (i *Index) Close() error {
	return i.closeOnce.Do(func() error {
		i.mu.Lock()
		defer i.mu.Unlock()
		i.pyramid.Cleanup()
		if err := i.vocab.Close(); err != nil {
			return err
		}
		return i.vectors.Close()
	})
}

// Remove deletes every file of the index in dir, including temporaries
// left by an aborted merge.
func Remove(dir vfs.Dir) error {
	names, err := dir.ListFiles()
	if err != nil {
		return err
	}
	for _, name := range names {
		if !hasPrefix(name, indexName) && !hasPrefix(name, tmpName) {
			continue
		}
		if err := dir.RemoveFile(name); err != nil {
			return err
		}
	}
	return nil
}

func hasPrefix(name, prefix string) bool {
	return len(name) > len(prefix) && name[:len(prefix)] == prefix && name[len(prefix)] == '.'
}
