// Package impact builds and encodes impact-ordered postings lists. Each
// list stores documents grouped into blocks of equal quantized impact,
// highest impact first, so queries can read the most promising documents
// early and stop.
package impact

import (
	"math"
	"sort"

	"github.com/tern-search/tern/util/vec"
)

// Params controls how document weights map onto quantized impacts.
type Params struct {
	// Pivot blends document length into the weight, as in pivoted
	// document length normalization.
	Pivot float64
	// Slope blends the raw weight with its log-normalized form; zero
	// keeps the pure normalized weight.
	Slope float64
	// QuantBits is how many bits a quantized impact occupies.
	QuantBits uint
}

const (
	DefaultPivot     = 0.2
	DefaultSlope     = 0.0
	DefaultQuantBits = 5
)

func DefaultParams() Params {
	return Params{Pivot: DefaultPivot, Slope: DefaultSlope, QuantBits: DefaultQuantBits}
}

// Stats are the calibration bounds persisted with the index; queries need
// them to quantize their own term weights onto the same scale.
type Stats struct {
	QuantBits uint    `yaml:"quant_bits"`
	Slope     float64 `yaml:"slope"`
	Min       float64 `yaml:"min"`
	Max       float64 `yaml:"max"`
	WqtMin    float64 `yaml:"wqt_min"`
	WqtMax    float64 `yaml:"wqt_max"`
	AvgFt     float64 `yaml:"avg_ft"`
}

// Weight is the length-pivoted document term weight.
func Weight(fdt uint64, pivot, docWeight, avgWeight float64) float64 {
	return (1 + math.Log(float64(fdt))) / ((1 - pivot) + pivot*docWeight/avgWeight)
}

// NormB derives the base of the normalization logarithm from the observed
// weight bounds.
func NormB(min, max float64) float64 {
	return math.Pow(max/min, min/(max-min))
}

// Normalise maps a raw weight into [min, max] on a log scale with base B,
// blended with the raw weight by slope.
func Normalise(w, min, max, b, slope float64) float64 {
	if min == max {
		// uniform bounds leave nothing to rescale; log10(b) would be zero
		return max
	}
	norm := min + min*(math.Log10(w/min)/math.Log10(b))
	w = slope*w + (1-slope)*norm
	if w < min {
		w = min
	}
	if w > max {
		w = max
	}
	return w
}

// Quantise maps a normalized weight onto 1..2^bits. Uniform bounds map
// everything onto the top quantum.
func Quantise(w float64, bits uint, min, max float64) uint64 {
	if min == max {
		return uint64(1) << bits
	}
	return uint64(math.Floor(float64(uint64(1)<<bits)*(w-min)/(max-min+0.0001))) + 1
}

// QueryWeight is the query-side term weight for a term occurring fqt times
// in the query, given the term's document frequency and the collection
// average.
func QueryWeight(fqt, ft uint64, avgFt float64) float64 {
	return (1 + math.Log(float64(fqt))) * math.Log(1+avgFt/float64(ft))
}

// ScoredDoc pairs a document with its quantized impact.
type ScoredDoc struct {
	Docno  uint64
	Impact uint64
}

// Sort orders documents by decreasing impact, ties by increasing document
// number, the order blocks are laid out in.
func Sort(docs []ScoredDoc) {
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].Impact != docs[j].Impact {
			return docs[i].Impact > docs[j].Impact
		}
		return docs[i].Docno < docs[j].Docno
	})
}

func appendVbyte(dst []byte, n uint64) []byte {
	for n >= 0x80 {
		dst = append(dst, byte(n)|0x80)
		n >>= 7
	}
	return append(dst, byte(n))
}

// EncodeBlocks lays sorted documents out as blocks. Each block is a vbyte
// count, a vbyte impact, then the document numbers with the first absolute
// and the rest as gap minus one.
func EncodeBlocks(docs []ScoredDoc) []byte {
	var out []byte
	for i := 0; i < len(docs); {
		j := i
		for j < len(docs) && docs[j].Impact == docs[i].Impact {
			j++
		}
		out = appendVbyte(out, uint64(j-i))
		out = appendVbyte(out, docs[i].Impact)
		out = appendVbyte(out, docs[i].Docno)
		for k := i + 1; k < j; k++ {
			out = appendVbyte(out, docs[k].Docno-docs[k-1].Docno-1)
		}
		i = j
	}
	return out
}

// BlockReader decodes an impact-ordered vector block by block. Reads are
// resumable: a short buffer leaves the cursor on the block boundary.
type BlockReader struct {
	v *vec.Vec

	// Remaining counts documents left in the current block.
	Remaining uint64
	// Impact is the current block's quantized impact.
	Impact uint64

	docno uint64
	first bool
}

func NewBlockReader(buf []byte) *BlockReader {
	return &BlockReader{v: vec.New(buf)}
}

// NextBlock reads the next block header. Returns false at the end of the
// vector.
func (r *BlockReader) NextBlock() (bool, error) {
	if r.v.Len() == 0 {
		return false, nil
	}
	start := r.v.Pos
	count, err := r.v.VbyteRead()
	if err != nil {
		return false, err
	}
	impact, err := r.v.VbyteRead()
	if err != nil {
		r.v.Pos = start
		return false, err
	}
	r.Remaining = count
	r.Impact = impact
	r.first = true
	return true, nil
}

// NextDoc reads the next document of the current block.
func (r *BlockReader) NextDoc() (uint64, error) {
	n, err := r.v.VbyteRead()
	if err != nil {
		return 0, err
	}
	if r.first {
		r.docno = n
		r.first = false
	} else {
		r.docno += n + 1
	}
	r.Remaining--
	return r.docno, nil
}
