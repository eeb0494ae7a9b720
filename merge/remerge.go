package merge

import (
	"github.com/pkg/errors"

	"github.com/tern-search/tern/btree"
	"github.com/tern-search/tern/fileset"
	"github.com/tern-search/tern/postings"
	"github.com/tern-search/tern/vocab"
)

// IndexSide is the live index an incremental merge reads from.
type IndexSide struct {
	Tree    *btree.Tree
	Vectors *fileset.Set
}

// fetch returns the postings vector for a vocabulary entry, reading from
// the vector files when it is not stored inline.
func (s IndexSide) fetch(e *vocab.Entry) ([]byte, error) {
	if e.Location == vocab.LocVocab {
		return e.Vector, nil
	}
	buf := make([]byte, e.Size)
	if err := s.Vectors.ReadAt(e.FileNo, e.Offset, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Remerge folds a run of new postings into an existing index, writing a
// fresh vocabulary and vector files to out. Vectors for unchanged terms are
// copied through verbatim; terms present on both sides get the new postings
// concatenated after the old, rebased onto the old last document number.
// Impact-ordered entries are not carried over: they are stale once the
// underlying lists change and are rebuilt on demand.
func Remerge(old IndexSide, run *postings.RunReader, out Output, vtype vocab.VType) (Result, error) {
	b := newVocabBuilder(out, vtype)

	it, err := old.Tree.Iterate()
	if err != nil {
		return Result{}, err
	}
	oldTerm, oldVal, oldOK, err := it.Next()
	if err != nil {
		return Result{}, err
	}
	newRec, err := run.Next()
	if err != nil && !isEOF(err) {
		return Result{}, err
	}

	emitOld := func(term string, value []byte) (*postings.Record, error) {
		e, err := vocab.First(value, vocab.IsDocOrdered)
		if err != nil {
			return nil, errors.Wrapf(err, "decoding vocab entry for %q", term)
		}
		v, err := old.fetch(e)
		if err != nil {
			return nil, errors.Wrapf(err, "reading vector for %q", term)
		}
		return &postings.Record{
			Term:   term,
			Docs:   e.Docs,
			Occurs: e.Occurs,
			Last:   e.Last,
			Vec:    v,
		}, nil
	}

	for oldOK || newRec != nil {
		switch {
		case newRec == nil || (oldOK && oldTerm < newRec.Term):
			rec, err := emitOld(oldTerm, oldVal)
			if err != nil {
				return Result{}, err
			}
			if err := b.add(rec); err != nil {
				return Result{}, err
			}
			if oldTerm, oldVal, oldOK, err = it.Next(); err != nil {
				return Result{}, err
			}

		case !oldOK || newRec.Term < oldTerm:
			if err := b.add(newRec); err != nil {
				return Result{}, err
			}
			if newRec, err = run.Next(); err != nil {
				if !isEOF(err) {
					return Result{}, err
				}
				newRec = nil
			}

		default: // same term on both sides
			rec, err := emitOld(oldTerm, oldVal)
			if err != nil {
				return Result{}, err
			}
			// vec in rec aliases the old vocab page when inline; copy
			// before concat appends to it
			rec.Vec = append([]byte(nil), rec.Vec...)
			if err := concat(rec, newRec); err != nil {
				return Result{}, err
			}
			if err := b.add(rec); err != nil {
				return Result{}, err
			}
			if oldTerm, oldVal, oldOK, err = it.Next(); err != nil {
				return Result{}, err
			}
			if newRec, err = run.Next(); err != nil {
				if !isEOF(err) {
					return Result{}, err
				}
				newRec = nil
			}
		}
	}
	return b.finish()
}

// Rewrite streams every doc-ordered list of an existing index through
// transform into a fresh vocabulary and vector files. Terms keep their
// order, so the new vocabulary bulk-loads. Impact-ordered entries are
// dropped the same way Remerge drops them.
func Rewrite(old IndexSide, out Output, vtype vocab.VType, transform func(rec *postings.Record) error) (Result, error) {
	b := newVocabBuilder(out, vtype)
	it, err := old.Tree.Iterate()
	if err != nil {
		return Result{}, err
	}
	for {
		term, value, ok, err := it.Next()
		if err != nil {
			return Result{}, err
		}
		if !ok {
			break
		}
		e, err := vocab.First(value, vocab.IsDocOrdered)
		if err != nil {
			return Result{}, errors.Wrapf(err, "decoding vocab entry for %q", term)
		}
		v, err := old.fetch(e)
		if err != nil {
			return Result{}, errors.Wrapf(err, "reading vector for %q", term)
		}
		rec := &postings.Record{
			Term:   term,
			Docs:   e.Docs,
			Occurs: e.Occurs,
			Last:   e.Last,
			Vec:    v,
		}
		if transform != nil {
			if err := transform(rec); err != nil {
				return Result{}, errors.Wrapf(err, "transforming %q", term)
			}
		}
		if err := b.add(rec); err != nil {
			return Result{}, err
		}
	}
	return b.finish()
}

// CopyVectors streams every byte of one vector set into another. Used when
// an index is compacted into a different directory.
func CopyVectors(src, dst *fileset.Set) error {
	filenos, err := src.List()
	if err != nil {
		return err
	}
	buf := make([]byte, 1<<16)
	for _, fileno := range filenos {
		size, err := src.Size(fileno)
		if err != nil {
			return err
		}
		var offset uint64
		for offset < size {
			n := uint64(len(buf))
			if size-offset < n {
				n = size - offset
			}
			if err := src.ReadAt(fileno, offset, buf[:n]); err != nil {
				return err
			}
			if err := dst.WriteAt(fileno, offset, buf[:n]); err != nil {
				return err
			}
			offset += n
		}
	}
	return nil
}
