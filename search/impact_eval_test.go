package search

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tern-search/tern/impact"
)

// uniformStats pins the query weight scale so every term quantizes onto the
// top quantum, making contributions easy to predict.
func uniformStats(bits uint) impact.Stats {
	return impact.Stats{QuantBits: bits, WqtMin: 1, WqtMax: 1, AvgFt: 2}
}

func blockVector(docs ...impact.ScoredDoc) []byte {
	impact.Sort(docs)
	return impact.EncodeBlocks(docs)
}

func TestImpactEvalContribution(t *testing.T) {
	// w_qt quantizes to 4, so a block of impact 3 contributes (3+1)*4
	terms := []impactTerm{{
		ft:  2,
		fqt: 1,
		vector: blockVector(
			impact.ScoredDoc{Docno: 1, Impact: 3},
			impact.ScoredDoc{Docno: 2, Impact: 3},
		),
	}}
	accs := evalImpactOrdered(terms, uniformStats(2), 10)
	assert.Equal(t, map[uint64]float64{1: 16, 2: 16}, accs)
}

func TestImpactEvalBlockFine(t *testing.T) {
	// with two terms, the third block read starts the blockfine, which
	// comes off every later contribution
	terms := []impactTerm{
		{ft: 1, fqt: 1, vector: blockVector(
			impact.ScoredDoc{Docno: 1, Impact: 5},
			impact.ScoredDoc{Docno: 2, Impact: 1},
		)},
		{ft: 2, fqt: 1, vector: blockVector(
			impact.ScoredDoc{Docno: 1, Impact: 3},
			impact.ScoredDoc{Docno: 3, Impact: 3},
		)},
	}
	accs := evalImpactOrdered(terms, uniformStats(2), 10)
	assert.Equal(t, map[uint64]float64{1: 39, 2: 7, 3: 15}, accs)
}

func TestImpactEvalTermFine(t *testing.T) {
	// ranks past the two rarest terms lose one quantum each off their term
	// weight; a term whose weight the fine exhausts is never read
	terms := []impactTerm{
		{ft: 1, fqt: 1, vector: blockVector(impact.ScoredDoc{Docno: 10, Impact: 1})},
		{ft: 2, fqt: 1, vector: blockVector(impact.ScoredDoc{Docno: 20, Impact: 1})},
		{ft: 3, fqt: 1, vector: blockVector(impact.ScoredDoc{Docno: 30, Impact: 1})},
		{ft: 4, fqt: 1, vector: blockVector(impact.ScoredDoc{Docno: 40, Impact: 1})},
		{ft: 5, fqt: 1, vector: blockVector(impact.ScoredDoc{Docno: 50, Impact: 1})},
	}
	accs := evalImpactOrdered(terms, uniformStats(1), 10)
	assert.Equal(t, map[uint64]float64{10: 4, 20: 4, 30: 4, 40: 2}, accs)
}

func TestImpactEvalAccLimitPerBlock(t *testing.T) {
	// the insert decision is made once per block, so a block that starts
	// under the limit decodes whole; later blocks only reinforce
	terms := []impactTerm{{
		ft:  4,
		fqt: 1,
		vector: blockVector(
			impact.ScoredDoc{Docno: 1, Impact: 2},
			impact.ScoredDoc{Docno: 2, Impact: 2},
			impact.ScoredDoc{Docno: 3, Impact: 1},
			impact.ScoredDoc{Docno: 4, Impact: 1},
		),
	}}
	accs := evalImpactOrdered(terms, uniformStats(2), 1)
	assert.Equal(t, map[uint64]float64{1: 12, 2: 12}, accs)
}
