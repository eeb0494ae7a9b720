package search

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tern-search/tern/btree"
	"github.com/tern-search/tern/fileset"
	"github.com/tern-search/tern/impact"
	"github.com/tern-search/tern/merge"
	"github.com/tern-search/tern/postings"
	"github.com/tern-search/tern/queryparse"
	"github.com/tern-search/tern/util/vfs"
	"github.com/tern-search/tern/vocab"
)

type memDocs struct {
	weights map[uint64]float64
	lengths map[uint64]uint64
}

func (d *memDocs) Weight(docno uint64) (float64, error) { return d.weights[docno], nil }
func (d *memDocs) Length(docno uint64) (uint64, error)  { return d.lengths[docno], nil }

// buildIndex indexes the documents and returns a searcher over them.
func buildIndex(t *testing.T, docs map[uint64]string, opts Options) *Searcher {
	t.Helper()
	dir := vfs.NewMemDir()

	var docnos []uint64
	for docno := range docs {
		docnos = append(docnos, docno)
	}
	sortUint64(docnos)

	acc := postings.NewAccumulator(true)
	info := &memDocs{
		weights: make(map[uint64]float64),
		lengths: make(map[uint64]uint64),
	}
	stats := CollectionStats{Docs: uint64(len(docs))}
	for _, docno := range docnos {
		require.NoError(t, acc.StartDoc(docno))
		words := strings.Fields(docs[docno])
		for i, w := range words {
			require.NoError(t, acc.AddWord(w, uint64(i)))
		}
		ds, err := acc.Update()
		require.NoError(t, err)
		info.weights[docno] = ds.Weight
		info.lengths[docno] = ds.Words
		stats.AvgWeight += ds.Weight
		stats.AvgLength += float64(ds.Words)
		stats.Occurrences += ds.Words
	}
	stats.AvgWeight /= float64(len(docs))
	stats.AvgLength /= float64(len(docs))

	var buf bytes.Buffer
	w := postings.NewRunWriter(&buf)
	require.NoError(t, acc.Dump(w))
	require.NoError(t, w.Flush())

	out := merge.Output{
		Vectors:  fileset.New(dir, "idx", "vectors", 1 << 20),
		Vocab:    fileset.New(dir, "idx", "vocab", 1 << 20),
		PageSize: 512,
	}
	res, err := merge.Final([]*postings.RunReader{postings.NewRunReader(&buf)},
		out, vocab.TypeDocWP)
	require.NoError(t, err)

	return &Searcher{
		Tree:    btree.Open(out.Vocab, out.PageSize, res.VocabRoot, res.VocabPages),
		Vectors: out.Vectors,
		Stats:   stats,
		Docs:    info,
		Opts:    opts,
	}
}

func search(t *testing.T, s *Searcher, query string) *Results {
	t.Helper()
	q, err := queryparse.Parse(query)
	require.NoError(t, err)
	res, err := s.Search(q, 0, 10)
	require.NoError(t, err)
	return res
}

func hitDocs(res *Results) []uint64 {
	docs := make([]uint64, len(res.Hits))
	for i, h := range res.Hits {
		docs[i] = h.Docno
	}
	return docs
}

var zoo = map[uint64]string{
	1: "cat sat on the mat",
	2: "dog sat on the log",
	3: "bird flew over the dog and the dog barked",
	4: "fish swim in the sea",
	5: "cat naps all day long",
}

func TestSearchExactCount(t *testing.T) {
	s := buildIndex(t, zoo, Options{Metric: MetricOpts{Name: "cosine"}})

	res := search(t, s, "dog")
	assert.Equal(t, 2.0, res.Total)
	assert.False(t, res.TotalEstimated)
	assert.ElementsMatch(t, []uint64{2, 3}, hitDocs(res))

	res = search(t, s, "the")
	assert.Equal(t, 4.0, res.Total)

	res = search(t, s, "zebra")
	assert.Equal(t, 0.0, res.Total)
	assert.Empty(t, res.Hits)
}

func TestSearchRankingByFrequency(t *testing.T) {
	// doc 3 mentions dog twice and should outrank doc 2 under every metric
	for _, name := range []string{"cosine", "okapi", "dirichlet", "pivoted", "hawkapi"} {
		s := buildIndex(t, zoo, Options{Metric: MetricOpts{Name: name}})
		res := search(t, s, "dog dog")
		require.NotEmpty(t, res.Hits, "metric %v", name)
		assert.Equal(t, uint64(3), res.Hits[0].Docno, "metric %v", name)
	}
}

func TestSearchTieBreakByDocno(t *testing.T) {
	docs := map[uint64]string{
		4: "same words here",
		9: "same words here",
		2: "same words here",
	}
	s := buildIndex(t, docs, Options{Metric: MetricOpts{Name: "cosine"}})
	res := search(t, s, "same words")
	assert.Equal(t, []uint64{2, 4, 9}, hitDocs(res))
}

func TestSearchDeterministic(t *testing.T) {
	s := buildIndex(t, zoo, Options{})
	first := search(t, s, "the dog sat")
	for i := 0; i < 5; i++ {
		again := search(t, s, "the dog sat")
		assert.Equal(t, first.Hits, again.Hits)
		assert.Equal(t, first.Total, again.Total)
	}
}

func TestSearchStartDoc(t *testing.T) {
	s := buildIndex(t, zoo, Options{Metric: MetricOpts{Name: "cosine"}})
	q, err := queryparse.Parse("the")
	require.NoError(t, err)

	all, err := s.Search(q, 0, 10)
	require.NoError(t, err)
	require.Len(t, all.Hits, 4)

	rest, err := s.Search(q, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, all.Hits[1:], rest.Hits)

	none, err := s.Search(q, 5, 10)
	require.NoError(t, err)
	assert.Empty(t, none.Hits)
}

func TestSearchPhrase(t *testing.T) {
	docs := map[uint64]string{
		1: "the white house stands",
		2: "a white cat in a house",
		3: "white house white house",
	}
	s := buildIndex(t, docs, Options{Metric: MetricOpts{Name: "cosine"}})

	res := search(t, s, `"white house"`)
	assert.ElementsMatch(t, []uint64{1, 3}, hitDocs(res))
	assert.Equal(t, 2.0, res.Total)
}

func TestSearchConjunct(t *testing.T) {
	s := buildIndex(t, zoo, Options{Metric: MetricOpts{Name: "cosine"}})

	res := search(t, s, "[dog sat]")
	assert.Equal(t, []uint64{2}, hitDocs(res))

	res = search(t, s, "[dog flew]")
	assert.Equal(t, []uint64{3}, hitDocs(res))

	res = search(t, s, "[cat dog]")
	assert.Empty(t, res.Hits)
}

func TestSearchExclude(t *testing.T) {
	s := buildIndex(t, zoo, Options{Metric: MetricOpts{Name: "cosine"}})

	res := search(t, s, "sat -dog")
	assert.Equal(t, []uint64{1}, hitDocs(res))
	assert.Equal(t, 1.0, res.Total)
}

func TestSearchAccumulatorLimit(t *testing.T) {
	docs := make(map[uint64]string)
	for i := uint64(1); i <= 50; i++ {
		text := "filler filler common"
		if i%2 == 0 {
			text += " rare"
		}
		docs[i] = text
	}
	s := buildIndex(t, docs, Options{
		Metric:   MetricOpts{Name: "cosine"},
		AccLimit: 10,
	})

	res := search(t, s, "rare common")
	assert.NotEmpty(t, res.Hits)
	assert.LessOrEqual(t, len(res.Hits), 10)
	// the limit cut evaluation short; results stay deterministic
	again := search(t, s, "rare common")
	assert.Equal(t, res.Hits, again.Hits)
}

func TestSearchThresholdSingleFrequency(t *testing.T) {
	// every posting of "common" carries f_dt=1, so the sampled threshold
	// starts at zero; the retune step must still be able to raise it
	docs := make(map[uint64]string)
	for i := uint64(1); i <= 100; i++ {
		if i%2 == 1 {
			docs[i] = "common"
		} else {
			docs[i] = fmt.Sprintf("common a%d b%d c%d d%d e%d f%d g%d h%d",
				i, i, i, i, i, i, i, i)
		}
	}
	s := buildIndex(t, docs, Options{
		Metric:   MetricOpts{Name: "cosine"},
		AccLimit: 10,
	})

	res := search(t, s, "common")
	assert.Equal(t, 10.0, res.Total)
	assert.False(t, res.TotalEstimated)
	assert.Equal(t, []uint64{1, 3, 5, 7, 9, 11, 13, 15, 17, 19}, hitDocs(res))
}

func TestSearchWordHook(t *testing.T) {
	s := buildIndex(t, zoo, Options{Metric: MetricOpts{Name: "cosine"}})
	s.WordHook = func(w string) string { return strings.TrimSuffix(w, "s") }

	res := search(t, s, "dogs")
	assert.ElementsMatch(t, []uint64{2, 3}, hitDocs(res))
}

func TestSearchImpactOrdered(t *testing.T) {
	s := buildIndex(t, zoo, Options{ImpactOrdered: true})
	dir := s.Vectors.Dir()

	weights := &impactWeights{docs: s.Docs, avg: s.Stats.AvgWeight}
	builder := &impact.Builder{
		Tree:     s.Tree,
		Vectors:  s.Vectors,
		OutVocab: fileset.New(dir, "idx", "ivocab", 1<<20),
		PageSize: 512,
		Weights:  weights,
		Workers:  2,
	}
	built, err := builder.Build()
	require.NoError(t, err)

	s.Tree = btree.Open(builder.OutVocab, 512, built.VocabRoot, built.VocabPages)
	s.Impacts = &built.Stats

	res := search(t, s, "dog")
	assert.ElementsMatch(t, []uint64{2, 3}, hitDocs(res))
	assert.Equal(t, uint64(3), res.Hits[0].Docno)

	// phrases fall back to the doc-ordered path
	res = search(t, s, `"dog barked"`)
	assert.Equal(t, []uint64{3}, hitDocs(res))
}

type impactWeights struct {
	docs DocInfo
	avg  float64
}

func (w *impactWeights) Weight(docno uint64) (float64, error) { return w.docs.Weight(docno) }
func (w *impactWeights) AvgWeight() float64                   { return w.avg }
