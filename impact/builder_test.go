package impact

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tern-search/tern/btree"
	"github.com/tern-search/tern/fileset"
	"github.com/tern-search/tern/merge"
	"github.com/tern-search/tern/postings"
	"github.com/tern-search/tern/util/vfs"
	"github.com/tern-search/tern/vocab"
)

type fixedWeights struct {
	weights map[uint64]float64
	avg     float64
}

func (w fixedWeights) Weight(docno uint64) (float64, error) {
	return w.weights[docno], nil
}

func (w fixedWeights) AvgWeight() float64 { return w.avg }

func TestBuild(t *testing.T) {
	dir := vfs.NewMemDir()
	docs := map[uint64]string{
		1: "cat cat cat dog",
		2: "cat fish",
		3: "dog dog fish fish fish",
	}

	acc := postings.NewAccumulator(true)
	weights := fixedWeights{weights: make(map[uint64]float64)}
	for _, docno := range []uint64{1, 2, 3} {
		require.NoError(t, acc.StartDoc(docno))
		for i, w := range strings.Fields(docs[docno]) {
			require.NoError(t, acc.AddWord(w, uint64(i)))
		}
		stats, err := acc.Update()
		require.NoError(t, err)
		weights.weights[docno] = stats.Weight
		weights.avg += stats.Weight
	}
	weights.avg /= 3

	var buf bytes.Buffer
	w := postings.NewRunWriter(&buf)
	require.NoError(t, acc.Dump(w))
	require.NoError(t, w.Flush())

	out := merge.Output{
		Vectors:  fileset.New(dir, "idx", "vectors", 1 << 20),
		Vocab:    fileset.New(dir, "idx", "vocab", 1 << 20),
		PageSize: 256,
	}
	res, err := merge.Final([]*postings.RunReader{postings.NewRunReader(&buf)},
		out, vocab.TypeDocWP)
	require.NoError(t, err)

	builder := &Builder{
		Tree:     btree.Open(out.Vocab, out.PageSize, res.VocabRoot, res.VocabPages),
		Vectors:  out.Vectors,
		OutVocab: fileset.New(dir, "idx", "tvocab", 1<<20),
		PageSize: out.PageSize,
		Weights:  weights,
		Workers:  2,
	}
	built, err := builder.Build()
	require.NoError(t, err)

	assert.Equal(t, uint(DefaultQuantBits), built.Stats.QuantBits)
	assert.Less(t, built.Stats.Min, built.Stats.Max)
	assert.LessOrEqual(t, built.Stats.WqtMin, built.Stats.WqtMax)
	assert.InDelta(t, (2.0+2+2)/3, built.Stats.AvgFt, 1e-9)

	tree := btree.Open(builder.OutVocab, out.PageSize, built.VocabRoot, built.VocabPages)
	expect := map[string][]uint64{
		"cat":  {1, 2},
		"dog":  {1, 3},
		"fish": {2, 3},
	}
	for term, docnos := range expect {
		value, err := tree.Find(term)
		require.NoError(t, err, "term %v", term)

		// the doc-ordered entry survives untouched
		de, err := vocab.First(value, vocab.IsDocOrdered)
		require.NoError(t, err)
		assert.Equal(t, uint64(len(docnos)), de.Docs, "term %v", term)

		ie, err := vocab.First(value, vocab.IsImpactOrdered)
		require.NoError(t, err, "term %v", term)
		assert.Equal(t, vocab.LocFile, ie.Location)

		vecbuf := make([]byte, ie.Size)
		require.NoError(t, out.Vectors.ReadAt(ie.FileNo, ie.Offset, vecbuf))
		r := NewBlockReader(vecbuf)
		var got []uint64
		lastImpact := ^uint64(0)
		for {
			ok, err := r.NextBlock()
			require.NoError(t, err)
			if !ok {
				break
			}
			assert.Less(t, r.Impact, lastImpact, "impacts must decrease")
			assert.LessOrEqual(t, r.Impact, uint64(1)<<DefaultQuantBits)
			assert.GreaterOrEqual(t, r.Impact, uint64(1))
			lastImpact = r.Impact
			for r.Remaining > 0 {
				docno, err := r.NextDoc()
				require.NoError(t, err)
				got = append(got, docno)
			}
		}
		assert.ElementsMatch(t, docnos, got, "term %v", term)
	}

	// doc 1 has the highest cat frequency, so it should lead cat's list
	value, err := tree.Find("cat")
	require.NoError(t, err)
	ie, err := vocab.First(value, vocab.IsImpactOrdered)
	require.NoError(t, err)
	vecbuf := make([]byte, ie.Size)
	require.NoError(t, out.Vectors.ReadAt(ie.FileNo, ie.Offset, vecbuf))
	r := NewBlockReader(vecbuf)
	ok, err := r.NextBlock()
	require.NoError(t, err)
	require.True(t, ok)
	docno, err := r.NextDoc()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), docno)
}
