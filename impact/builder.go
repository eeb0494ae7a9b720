package impact

import (
	"context"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/tern-search/tern/btree"
	"github.com/tern-search/tern/fileset"
	"github.com/tern-search/tern/util/vec"
	"github.com/tern-search/tern/vocab"
)

// DocWeights supplies the per-document cosine weights the transform pivots
// on. The document map implements it.
type DocWeights interface {
	Weight(docno uint64) (float64, error)
	AvgWeight() float64
}

// BuildResult locates the rebuilt vocabulary and carries the calibration
// stats to persist.
type BuildResult struct {
	Stats       Stats
	VocabRoot   uint64
	VocabPages  uint64
	VectorFiles uint64
}

// Builder adds an impact-ordered list for every term of an index. The doc
// ordered lists stay where they are; impact vectors are appended after them
// and a new vocabulary carrying both entries per term is bulk-loaded.
type Builder struct {
	Tree     *btree.Tree
	Vectors  *fileset.Set
	OutVocab *fileset.Set
	PageSize int
	Weights  DocWeights
	Params   Params
	// Workers bounds the first calibration pass; zero means GOMAXPROCS.
	Workers int
}

type termList struct {
	term   string
	entry  *vocab.Entry
	vector []byte
}

func (b *Builder) fetch(e *vocab.Entry) ([]byte, error) {
	if e.Location == vocab.LocVocab {
		return e.Vector, nil
	}
	buf := make([]byte, e.Size)
	if err := b.Vectors.ReadAt(e.FileNo, e.Offset, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// decodePostings walks a doc-ordered vector calling visit for every
// posting. Word positions, when present, are skipped.
func decodePostings(e *vocab.Entry, vector []byte, visit func(docno, fdt uint64) error) error {
	v := vec.New(vector)
	var docno uint64
	for d := uint64(0); d < e.Docs; d++ {
		gap, err := v.VbyteRead()
		if err != nil {
			return err
		}
		if d == 0 {
			docno = gap
		} else {
			docno += gap + 1
		}
		fdt, err := v.VbyteRead()
		if err != nil {
			return err
		}
		if e.Type == vocab.TypeDocWP {
			if skipped := v.VbyteScan(int(fdt)); skipped != int(fdt) {
				return errors.New("truncated postings vector")
			}
		}
		if err := visit(docno, fdt); err != nil {
			return err
		}
	}
	return nil
}

// Build runs both passes and returns the new vocabulary location plus the
// calibration stats.
func (b *Builder) Build() (BuildResult, error) {
	params := b.Params
	if params.QuantBits == 0 {
		params = DefaultParams()
	}
	workers := b.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	// pass one: observe the raw weight bounds and average f_t
	var (
		mu    sync.Mutex
		min   = 0.0
		max   = 0.0
		seen  = false
		terms uint64
		sumFt uint64
		avgW  = b.Weights.AvgWeight()
		lists = make(chan termList, workers)
	)
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			lmin, lmax, lseen := 0.0, 0.0, false
			for tl := range lists {
				err := decodePostings(tl.entry, tl.vector, func(docno, fdt uint64) error {
					dw, err := b.Weights.Weight(docno)
					if err != nil {
						return err
					}
					w := Weight(fdt, params.Pivot, dw, avgW)
					if !lseen || w < lmin {
						lmin = w
					}
					if !lseen || w > lmax {
						lmax = w
					}
					lseen = true
					return nil
				})
				if err != nil {
					return errors.Wrapf(err, "calibrating %q", tl.term)
				}
			}
			mu.Lock()
			if lseen {
				if !seen || lmin < min {
					min = lmin
				}
				if !seen || lmax > max {
					max = lmax
				}
				seen = true
			}
			mu.Unlock()
			return nil
		})
	}

	g.Go(func() error {
		defer close(lists)
		it, err := b.Tree.Iterate()
		if err != nil {
			return err
		}
		for {
			term, value, ok, err := it.Next()
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			e, err := vocab.First(value, vocab.IsDocOrdered)
			if err != nil {
				return errors.Wrapf(err, "decoding vocab entry for %q", term)
			}
			vector, err := b.fetch(e)
			if err != nil {
				return err
			}
			// copy out of the page cache so workers own their bytes
			vector = append([]byte(nil), vector...)
			terms++
			sumFt += e.Docs
			select {
			case lists <- termList{term: term, entry: e, vector: vector}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
	if err := g.Wait(); err != nil {
		return BuildResult{}, err
	}
	if !seen || terms == 0 {
		return BuildResult{}, errors.New("no postings to build impacts from")
	}
	avgFt := float64(sumFt) / float64(terms)
	normB := NormB(min, max)

	stats := Stats{
		QuantBits: params.QuantBits,
		Slope:     params.Slope,
		Min:       min,
		Max:       max,
		AvgFt:     avgFt,
	}

	// pass two: transform every list and rebuild the vocabulary
	bulk := btree.NewBulk(b.OutVocab, b.PageSize, 0)
	startFile, startOffset, err := appendPoint(b.Vectors)
	if err != nil {
		return BuildResult{}, err
	}
	vw := fileset.NewWriter(b.Vectors, startFile, startOffset)

	it, err := b.Tree.Iterate()
	if err != nil {
		return BuildResult{}, err
	}
	wqtSeen := false
	for {
		term, value, ok, err := it.Next()
		if err != nil {
			return BuildResult{}, err
		}
		if !ok {
			break
		}
		e, err := vocab.First(value, vocab.IsDocOrdered)
		if err != nil {
			return BuildResult{}, errors.Wrapf(err, "decoding vocab entry for %q", term)
		}
		vector, err := b.fetch(e)
		if err != nil {
			return BuildResult{}, err
		}

		wqt := QueryWeight(1, e.Docs, avgFt)
		if !wqtSeen || wqt < stats.WqtMin {
			stats.WqtMin = wqt
		}
		if !wqtSeen || wqt > stats.WqtMax {
			stats.WqtMax = wqt
		}
		wqtSeen = true

		docs := make([]ScoredDoc, 0, e.Docs)
		err = decodePostings(e, vector, func(docno, fdt uint64) error {
			dw, err := b.Weights.Weight(docno)
			if err != nil {
				return err
			}
			w := Weight(fdt, params.Pivot, dw, avgW)
			w = Normalise(w, min, max, normB, params.Slope)
			docs = append(docs, ScoredDoc{
				Docno:  docno,
				Impact: Quantise(w, params.QuantBits, min, max),
			})
			return nil
		})
		if err != nil {
			return BuildResult{}, errors.Wrapf(err, "transforming %q", term)
		}
		Sort(docs)
		blockVec := EncodeBlocks(docs)

		if err := vw.Reserve(uint64(len(blockVec))); err != nil {
			return BuildResult{}, err
		}
		fileno, offset := vw.Loc()
		if _, err := vw.Write(blockVec); err != nil {
			return BuildResult{}, err
		}

		ie := vocab.Entry{
			Type:     vocab.TypeImpact,
			Size:     uint64(len(blockVec)),
			Docs:     e.Docs,
			Occurs:   e.Occurs,
			Last:     e.Last,
			Location: vocab.LocFile,
			FileNo:   fileno,
			Offset:   offset,
			Capacity: uint64(len(blockVec)),
		}
		// an inline doc vector may no longer fit once the impact entry
		// joins it in the same value; spill it to the vector files
		if e.Location == vocab.LocVocab &&
			btree.EntrySize(term, e.Len()+ie.Len()) > b.PageSize/4 {
			if err := vw.Reserve(e.Size); err != nil {
				return BuildResult{}, err
			}
			e.Location = vocab.LocFile
			e.FileNo, e.Offset = vw.Loc()
			e.Capacity = e.Size
			if _, err := vw.Write(vector); err != nil {
				return BuildResult{}, err
			}
			e.Vector = nil
		}

		buf := make([]byte, e.Len()+ie.Len())
		v := vec.New(buf)
		if err := e.Encode(v); err != nil {
			return BuildResult{}, err
		}
		if err := ie.Encode(v); err != nil {
			return BuildResult{}, err
		}
		if err := bulk.Append(term, buf[:v.Pos]); err != nil {
			return BuildResult{}, errors.Wrapf(err, "loading vocab entry for %q", term)
		}
	}

	if err := vw.Flush(); err != nil {
		return BuildResult{}, err
	}
	root, pages, err := bulk.Finish()
	if err != nil {
		return BuildResult{}, err
	}
	return BuildResult{
		Stats:       stats,
		VocabRoot:   root,
		VocabPages:  pages,
		VectorFiles: vw.Files(),
	}, nil
}

// appendPoint finds the end of the last vector file so impact vectors are
// appended after the doc-ordered ones.
func appendPoint(set *fileset.Set) (fileno, offset uint64, err error) {
	filenos, err := set.List()
	if err != nil {
		return 0, 0, err
	}
	if len(filenos) == 0 {
		return 0, 0, nil
	}
	last := filenos[len(filenos)-1]
	size, err := set.Size(last)
	if err != nil {
		return 0, 0, err
	}
	return last, size, nil
}
