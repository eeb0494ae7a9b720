package search

import (
	"math"

	"github.com/pkg/errors"
)

// CollectionStats are the collection-wide figures metrics need.
type CollectionStats struct {
	// Docs is the number of documents in the index.
	Docs uint64
	// Occurrences is the total number of word occurrences indexed.
	Occurrences uint64
	// AvgWeight is the mean cosine document weight.
	AvgWeight float64
	// AvgLength is the mean document length in words.
	AvgLength float64
}

// termStats describes one query term's list.
type termStats struct {
	ft     uint64 // documents containing the term
	Ftotal uint64 // total occurrences of the term
	fqt    uint64 // occurrences in the query
}

// docData is what metrics may read about a document.
type docData struct {
	weight float64
	length uint64
}

// metric scores postings. contrib is one posting's addition to a
// document's accumulator; docNorm is a per-document adjustment applied to
// every candidate after decoding, for metrics that need one.
type metric interface {
	contrib(fdt uint64, doc docData, t termStats) float64
	docNorm(qTerms uint64, doc docData) float64
	// selectByFt orders query terms by f_t rather than F_t when choosing
	// which lists to decode first.
	selectByFt() bool
}

// MetricOpts selects and parameterizes the ranking metric.
type MetricOpts struct {
	Name string `yaml:"name"`
	// Okapi parameters.
	K1 float64 `yaml:"k1"`
	K3 float64 `yaml:"k3"`
	B  float64 `yaml:"b"`
	// Dirichlet smoothing parameter.
	Mu float64 `yaml:"mu"`
	// Pivoted cosine slope.
	Slope float64 `yaml:"slope"`
}

const (
	DefaultK1    = 1.2
	DefaultK3    = 1e10
	DefaultB     = 0.75
	DefaultMu    = 1500.0
	DefaultSlope = 0.2
)

// newMetric builds the metric named in opts. An empty name selects
// dirichlet, the default ranking.
func newMetric(opts MetricOpts, stats CollectionStats) (metric, error) {
	switch opts.Name {
	case "", "dirichlet":
		mu := opts.Mu
		if mu <= 0 {
			mu = DefaultMu
		}
		return &dirichlet{mu: mu, stats: stats}, nil
	case "cosine":
		return &cosine{}, nil
	case "pivoted":
		slope := opts.Slope
		if slope <= 0 {
			slope = DefaultSlope
		}
		return &pivoted{slope: slope, stats: stats}, nil
	case "okapi":
		k1, k3, b := opts.K1, opts.K3, opts.B
		if k1 <= 0 {
			k1 = DefaultK1
		}
		if k3 <= 0 {
			k3 = DefaultK3
		}
		if b <= 0 {
			b = DefaultB
		}
		return &okapi{k1: k1, k3: k3, b: b, stats: stats}, nil
	case "hawkapi":
		return &hawkapi{stats: stats}, nil
	}
	return nil, errors.Errorf("unknown metric %q", opts.Name)
}

// cosine is the classic tf-idf cosine measure with document weight
// normalization.
type cosine struct{}

func (m *cosine) contrib(fdt uint64, doc docData, t termStats) float64 {
	return (1 + math.Log(float64(fdt))) * (1 + math.Log(float64(t.fqt))) / doc.weight
}

func (m *cosine) docNorm(uint64, docData) float64 { return 0 }
func (m *cosine) selectByFt() bool                { return true }

// pivoted applies pivoted document length normalization to the cosine
// measure.
type pivoted struct {
	slope float64
	stats CollectionStats
}

func (m *pivoted) contrib(fdt uint64, doc docData, t termStats) float64 {
	norm := (1 - m.slope) + m.slope*doc.weight/m.stats.AvgWeight
	idf := math.Log((float64(m.stats.Docs) + 1) / float64(t.ft))
	return (1 + math.Log(float64(fdt))) / norm * idf * float64(t.fqt)
}

func (m *pivoted) docNorm(uint64, docData) float64 { return 0 }
func (m *pivoted) selectByFt() bool                { return true }

// okapi is the BM25 measure.
type okapi struct {
	k1, k3, b float64
	stats     CollectionStats
}

func (m *okapi) contrib(fdt uint64, doc docData, t termStats) float64 {
	wt := math.Log((float64(m.stats.Docs) - float64(t.ft) + 0.5) / (float64(t.ft) + 0.5))
	if wt < 0 {
		wt = 0
	}
	k := m.k1 * ((1 - m.b) + m.b*float64(doc.length)/m.stats.AvgLength)
	return wt *
		((m.k1 + 1) * float64(fdt) / (k + float64(fdt))) *
		((m.k3 + 1) * float64(t.fqt) / (m.k3 + float64(t.fqt)))
}

func (m *okapi) docNorm(uint64, docData) float64 { return 0 }
func (m *okapi) selectByFt() bool                { return true }

// dirichlet is query likelihood with Dirichlet-smoothed language models.
// Lists are decoded in increasing F_t order, the rarest occurrences first.
type dirichlet struct {
	mu    float64
	stats CollectionStats
}

func (m *dirichlet) contrib(fdt uint64, doc docData, t termStats) float64 {
	collFreq := float64(t.Ftotal) / float64(m.stats.Occurrences)
	return float64(t.fqt) * math.Log(1+float64(fdt)/(m.mu*collFreq))
}

func (m *dirichlet) docNorm(qTerms uint64, doc docData) float64 {
	return float64(qTerms) * math.Log(m.mu/(m.mu+float64(doc.length)))
}

func (m *dirichlet) selectByFt() bool { return false }

// hawkapi scores with a saturating frequency curve against relative
// document length.
type hawkapi struct {
	stats CollectionStats
}

func (m *hawkapi) contrib(fdt uint64, doc docData, t termStats) float64 {
	rel := float64(doc.length) / m.stats.AvgLength
	return float64(t.fqt) * float64(fdt) / (float64(fdt) + rel)
}

func (m *hawkapi) docNorm(uint64, docData) float64 { return 0 }
func (m *hawkapi) selectByFt() bool                { return true }
