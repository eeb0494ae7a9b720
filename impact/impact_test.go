package impact

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuantiseMonotonic(t *testing.T) {
	min, max := 0.5, 4.0
	b := NormB(min, max)
	prev := uint64(0)
	for w := min; w <= max; w += 0.01 {
		n := Normalise(w, min, max, b, 0.0)
		q := Quantise(n, 5, min, max)
		assert.GreaterOrEqual(t, q, prev, "weight %v", w)
		assert.GreaterOrEqual(t, q, uint64(1))
		assert.LessOrEqual(t, q, uint64(1<<5))
		prev = q
	}
}

func TestNormaliseClamped(t *testing.T) {
	min, max := 1.0, 3.0
	b := NormB(min, max)
	assert.Equal(t, min, Normalise(min/2, min, max, b, 0.0))
	assert.LessOrEqual(t, Normalise(max*2, min, max, b, 0.0), max)
}

func TestNormaliseSlopeBlend(t *testing.T) {
	min, max := 1.0, 3.0
	b := NormB(min, max)
	w := 2.0
	pure := Normalise(w, min, max, b, 0.0)
	raw := Normalise(w, min, max, b, 1.0)
	assert.InDelta(t, w, raw, 1e-9)
	half := Normalise(w, min, max, b, 0.5)
	assert.InDelta(t, (pure+raw)/2, half, 1e-9)
}

func TestNormaliseUniformBounds(t *testing.T) {
	// a collection where every document weighs the same leaves min == max
	min, max := 2.0, 2.0
	b := NormB(min, max)
	w := Normalise(2.0, min, max, b, 0.0)
	assert.False(t, math.IsNaN(w))
	assert.Equal(t, max, w)
	assert.Equal(t, uint64(1<<5), Quantise(w, 5, min, max))
}

func TestSortOrder(t *testing.T) {
	docs := []ScoredDoc{
		{Docno: 5, Impact: 2},
		{Docno: 1, Impact: 7},
		{Docno: 3, Impact: 2},
		{Docno: 9, Impact: 7},
	}
	Sort(docs)
	assert.Equal(t, []ScoredDoc{
		{Docno: 1, Impact: 7},
		{Docno: 9, Impact: 7},
		{Docno: 3, Impact: 2},
		{Docno: 5, Impact: 2},
	}, docs)
}

func TestBlockRoundTrip(t *testing.T) {
	docs := []ScoredDoc{
		{Docno: 2, Impact: 9},
		{Docno: 4, Impact: 9},
		{Docno: 10, Impact: 9},
		{Docno: 1, Impact: 3},
		{Docno: 7, Impact: 1},
		{Docno: 8, Impact: 1},
	}
	buf := EncodeBlocks(docs)

	r := NewBlockReader(buf)
	var got []ScoredDoc
	for {
		ok, err := r.NextBlock()
		require.NoError(t, err)
		if !ok {
			break
		}
		for r.Remaining > 0 {
			docno, err := r.NextDoc()
			require.NoError(t, err)
			got = append(got, ScoredDoc{Docno: docno, Impact: r.Impact})
		}
	}
	assert.Equal(t, docs, got)
}

func TestBlockReaderEmpty(t *testing.T) {
	r := NewBlockReader(nil)
	ok, err := r.NextBlock()
	require.NoError(t, err)
	assert.False(t, ok)
}
