package search

import (
	"io"
	"math"
	"sort"
)

const (
	// threshTolerance is how far past the accumulator limit the estimated
	// candidate count may drift before the threshold moves.
	threshTolerance = 1.2
	// threshInf caps the frequency a threshold translation will try; a
	// list whose contributions never reach the threshold admits no new
	// candidates.
	threshInf = 2000
)

// DocInfo resolves per-document data during scoring. The document map
// implements it.
type DocInfo interface {
	Weight(docno uint64) (float64, error)
	Length(docno uint64) (uint64, error)
}

// termList is one query term's postings ready for evaluation.
type termList struct {
	term termStats
	dec  *postingDecoder
}

type evalResult struct {
	accs      map[uint64]float64
	total     float64
	estimated bool
}

type evaluator struct {
	m     metric
	docs  DocInfo
	limit int
	accs  map[uint64]float64

	avgDoc docData

	threshStarted bool
	fdtThresh     uint64
	vt            float64
}

// evalDocOrdered scores doc-ordered lists into accumulators. Lists are
// processed most selective first; whole lists are decoded while the
// accumulator limit permits, then a moving frequency threshold admits only
// strong candidates, and once the limit is reached the remaining lists can
// only reinforce existing candidates.
func evalDocOrdered(m metric, docs DocInfo, stats CollectionStats,
	lists []termList, limit int) (evalResult, error) {

	sort.SliceStable(lists, func(i, j int) bool {
		if m.selectByFt() {
			return lists[i].term.ft < lists[j].term.ft
		}
		return lists[i].term.Ftotal < lists[j].term.Ftotal
	})

	ev := &evaluator{
		m:     m,
		docs:  docs,
		limit: limit,
		accs:  make(map[uint64]float64),
		avgDoc: docData{
			weight: stats.AvgWeight,
			length: uint64(stats.AvgLength + 0.5),
		},
	}
	res := evalResult{}

	for _, l := range lists {
		switch {
		case !ev.threshStarted && len(ev.accs)+int(l.term.ft) < limit:
			if err := ev.orDecode(l); err != nil {
				return res, err
			}
		case len(ev.accs) < limit:
			if err := ev.threshDecode(l); err != nil {
				return res, err
			}
		default:
			hit, decoded, err := ev.andDecode(l)
			if err != nil {
				return res, err
			}
			// extrapolate how many matches the accumulator limit hid
			if res.total == 0 {
				res.total = float64(len(ev.accs))
			}
			if decoded > 0 && len(ev.accs) > 0 {
				cooc := float64(hit) / float64(decoded) *
					res.total / float64(len(ev.accs))
				if cooc > 1 {
					cooc = 1
				}
				res.total += (1 - cooc) * float64(decoded-hit)
				res.estimated = true
			}
		}
	}

	if !res.estimated {
		res.total = float64(len(ev.accs))
	} else {
		res.total = roundSig(res.total, 3)
	}
	res.accs = ev.accs
	return res, nil
}

func (ev *evaluator) docData(docno uint64) (docData, error) {
	w, err := ev.docs.Weight(docno)
	if err != nil {
		return docData{}, err
	}
	l, err := ev.docs.Length(docno)
	if err != nil {
		return docData{}, err
	}
	return docData{weight: w, length: l}, nil
}

// orDecode adds every posting of the list to the accumulators.
func (ev *evaluator) orDecode(l termList) error {
	for {
		docno, fdt, err := l.dec.next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		doc, err := ev.docData(docno)
		if err != nil {
			return err
		}
		ev.accs[docno] += ev.m.contrib(fdt, doc, l.term)
	}
}

// translate finds the smallest frequency whose contribution against an
// average document reaches the score threshold. Returns threshInf when no
// frequency does.
func (ev *evaluator) translate(t termStats) uint64 {
	for fdt := uint64(1); fdt < threshInf; fdt++ {
		if ev.m.contrib(fdt, ev.avgDoc, t) >= ev.vt {
			return fdt
		}
	}
	return threshInf
}

// threshDecode decodes a list while holding the number of accumulators
// near the limit. Existing candidates always take the contribution; new
// candidates must clear the current frequency threshold. The threshold is
// retuned every rethresh postings against an extrapolated candidate count.
func (ev *evaluator) threshDecode(l termList) error {
	postings := l.term.ft
	rethresh := (postings + uint64(ev.limit) - 1) / uint64(ev.limit)
	if rethresh == 0 {
		rethresh = 1
	}

	if !ev.threshStarted {
		// sample the head of the first thresholded list for a starting
		// frequency threshold
		ev.threshStarted = true
		ev.fdtThresh = 0
		var sample []struct {
			docno, fdt uint64
		}
		maxFdt := uint64(0)
		for i := uint64(0); i < rethresh; i++ {
			docno, fdt, err := l.dec.next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			sample = append(sample, struct{ docno, fdt uint64 }{docno, fdt})
			if fdt > maxFdt {
				maxFdt = fdt
			}
		}
		if maxFdt > 0 {
			ev.fdtThresh = maxFdt - 1
		}
		ev.vt = ev.m.contrib(ev.fdtThresh+1, ev.avgDoc, l.term)
		for _, s := range sample {
			if err := ev.threshPosting(l, s.docno, s.fdt); err != nil {
				return err
			}
		}
	} else {
		ev.fdtThresh = ev.translate(l.term)
		if ev.fdtThresh >= threshInf {
			// nothing in this list can clear the threshold; it can only
			// reinforce existing candidates
			_, _, err := ev.andDecode(l)
			return err
		}
	}

	decoded := uint64(0)
	initial := len(ev.accs)
	step := (ev.fdtThresh + 1) / 2
	if step == 0 {
		// a zero step would freeze the threshold at zero and admit every
		// posting of an f_dt=1 list
		step = 1
	}
	for {
		docno, fdt, err := l.dec.next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := ev.threshPosting(l, docno, fdt); err != nil {
			return err
		}
		decoded++
		if decoded%rethresh != 0 || decoded == 0 {
			continue
		}

		grown := len(ev.accs) - initial
		estimate := float64(len(ev.accs)) +
			float64(postings-decoded)*float64(grown)/float64(decoded)
		switch {
		case estimate > float64(ev.limit)*threshTolerance:
			ev.fdtThresh += step
			ev.vt = ev.m.contrib(ev.fdtThresh+1, ev.avgDoc, l.term)
			ev.evict()
		case estimate < float64(ev.limit)/threshTolerance && ev.fdtThresh > 0:
			if step > ev.fdtThresh {
				ev.fdtThresh = 0
			} else {
				ev.fdtThresh -= step
			}
			ev.vt = ev.m.contrib(ev.fdtThresh+1, ev.avgDoc, l.term)
		}
		step = (step + 1) / 2
		if step == 0 {
			step = 1
		}
	}
}

func (ev *evaluator) threshPosting(l termList, docno, fdt uint64) error {
	if _, ok := ev.accs[docno]; !ok && fdt <= ev.fdtThresh {
		return nil
	}
	doc, err := ev.docData(docno)
	if err != nil {
		return err
	}
	ev.accs[docno] += ev.m.contrib(fdt, doc, l.term)
	return nil
}

// evict drops accumulators whose score fell below the score threshold.
func (ev *evaluator) evict() {
	for docno, score := range ev.accs {
		if score < ev.vt {
			delete(ev.accs, docno)
		}
	}
}

// andDecode decodes a list updating only existing accumulators, returning
// how many postings hit one.
func (ev *evaluator) andDecode(l termList) (hit, decoded uint64, err error) {
	for {
		docno, fdt, err := l.dec.next()
		if err == io.EOF {
			return hit, decoded, nil
		}
		if err != nil {
			return hit, decoded, err
		}
		decoded++
		if _, ok := ev.accs[docno]; !ok {
			continue
		}
		hit++
		doc, err := ev.docData(docno)
		if err != nil {
			return hit, decoded, err
		}
		ev.accs[docno] += ev.m.contrib(fdt, doc, l.term)
	}
}

// roundSig rounds to the given number of significant decimal digits.
// Estimated match counts are reported this way so they do not read as
// exact.
func roundSig(x float64, digits int) float64 {
	if x <= 0 {
		return x
	}
	p := math.Pow(10, float64(digits-1)-math.Floor(math.Log10(x)))
	return math.Round(x*p) / p
}
