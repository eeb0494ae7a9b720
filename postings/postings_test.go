package postings

import (
	"bytes"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tern-search/tern/util/vec"
)

func addWords(t *testing.T, p *Accumulator, docno uint64, words ...string) DocStats {
	t.Helper()
	require.NoError(t, p.StartDoc(docno))
	for i, w := range words {
		require.NoError(t, p.AddWord(w, uint64(i)))
	}
	stats, err := p.Update()
	require.NoError(t, err)
	return stats
}

func dump(t *testing.T, p *Accumulator) []*Record {
	t.Helper()
	var buf bytes.Buffer
	w := NewRunWriter(&buf)
	require.NoError(t, p.Dump(w))
	require.NoError(t, w.Flush())
	r := NewRunReader(&buf)
	var recs []*Record
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		recs = append(recs, rec)
	}
	return recs
}

func TestAccumulateAndDump(t *testing.T) {
	p := NewAccumulator(true)

	addWords(t, p, 3, "the", "cat", "sat", "the")
	addWords(t, p, 7, "the", "dog")

	recs := dump(t, p)
	require.Len(t, recs, 4)
	// records come out in term order
	assert.Equal(t, "cat", recs[0].Term)
	assert.Equal(t, "dog", recs[1].Term)
	assert.Equal(t, "sat", recs[2].Term)
	assert.Equal(t, "the", recs[3].Term)

	the := recs[3]
	assert.Equal(t, uint64(2), the.Docs)
	assert.Equal(t, uint64(3), the.Occurs)
	assert.Equal(t, uint64(7), the.Last)

	// decode: docno 3 absolute, f_dt 2, positions 0 then +3; gap to 7 is 3
	v := vec.New(the.Vec)
	expect := []uint64{3, 2, 0, 3, 3, 1, 0}
	for i, want := range expect {
		got, err := v.VbyteRead()
		require.NoError(t, err)
		assert.Equal(t, want, got, "value %d", i)
	}
	assert.Equal(t, len(the.Vec), v.Pos)

	// accumulator is empty after a dump
	assert.Equal(t, 0, p.Terms())
	assert.Equal(t, 0, p.MemSize())
}

func TestDocStats(t *testing.T) {
	p := NewAccumulator(false)
	stats := addWords(t, p, 1, "a", "b", "a", "a", "c")

	assert.Equal(t, uint64(3), stats.Distinct)
	assert.Equal(t, uint64(5), stats.Words)
	wa := 1 + math.Log(3)
	want := math.Sqrt(wa*wa + 1 + 1)
	assert.InDelta(t, want, stats.Weight, 1e-9)
}

func TestFdtWidthGrowth(t *testing.T) {
	// push f_dt past 127 so the in-place patch has to widen the vbyte
	p := NewAccumulator(true)
	require.NoError(t, p.StartDoc(1))
	for i := 0; i < 200; i++ {
		require.NoError(t, p.AddWord("busy", uint64(i)))
	}
	require.NoError(t, p.AddWord("after", 200))
	_, err := p.Update()
	require.NoError(t, err)

	recs := dump(t, p)
	require.Len(t, recs, 2)
	busy := recs[1]
	assert.Equal(t, uint64(200), busy.Occurs)

	v := vec.New(busy.Vec)
	docno, err := v.VbyteRead()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), docno)
	fdt, err := v.VbyteRead()
	require.NoError(t, err)
	assert.Equal(t, uint64(200), fdt)
	// all 200 position gaps survive the shuffle
	assert.Equal(t, 200, v.VbyteScan(200))
	assert.Equal(t, len(busy.Vec), v.Pos)
}

func TestOrderingErrors(t *testing.T) {
	p := NewAccumulator(true)
	assert.Equal(t, ErrNotInDoc, p.AddWord("x", 0))
	_, err := p.Update()
	assert.Equal(t, ErrNotInDoc, err)

	require.NoError(t, p.StartDoc(5))
	assert.Equal(t, ErrInDoc, p.StartDoc(6))
	require.NoError(t, p.AddWord("x", 3))
	assert.Equal(t, ErrWordOrder, p.AddWord("x", 3))
	_, err = p.Update()
	require.NoError(t, err)

	assert.Equal(t, ErrDocOrder, p.StartDoc(5))
	require.NoError(t, p.StartDoc(6))
}

func TestDumpMidDocument(t *testing.T) {
	p := NewAccumulator(false)
	require.NoError(t, p.StartDoc(1))
	require.NoError(t, p.AddWord("x", 0))
	var buf bytes.Buffer
	assert.Equal(t, ErrInDoc, p.Dump(NewRunWriter(&buf)))
}

func TestSizeMatchesDump(t *testing.T) {
	p := NewAccumulator(true)
	addWords(t, p, 1, strings.Fields("a quick brown fox jumps over a lazy dog")...)
	addWords(t, p, 4, strings.Fields("the fox ran")...)

	size := p.Size()
	var buf bytes.Buffer
	w := NewRunWriter(&buf)
	require.NoError(t, p.Dump(w))
	require.NoError(t, w.Flush())
	assert.Equal(t, size, buf.Len())
}

func TestRunTruncated(t *testing.T) {
	p := NewAccumulator(false)
	addWords(t, p, 1, "alpha", "beta")
	var buf bytes.Buffer
	w := NewRunWriter(&buf)
	require.NoError(t, p.Dump(w))
	require.NoError(t, w.Flush())

	r := NewRunReader(bytes.NewReader(buf.Bytes()[:buf.Len()-1]))
	_, err := r.Next()
	require.NoError(t, err)
	_, err = r.Next()
	assert.Error(t, err)
	assert.NotEqual(t, io.EOF, err)
}

func TestRunTruncatedAfterTermLength(t *testing.T) {
	p := NewAccumulator(false)
	addWords(t, p, 1, "alpha")
	var buf bytes.Buffer
	w := NewRunWriter(&buf)
	require.NoError(t, p.Dump(w))
	require.NoError(t, w.Flush())

	// a lone term length with no term bytes behind it must not read as a
	// clean end of run
	data := append(buf.Bytes(), 4)
	r := NewRunReader(bytes.NewReader(data))
	_, err := r.Next()
	require.NoError(t, err)
	_, err = r.Next()
	assert.Equal(t, io.ErrUnexpectedEOF, errors.Cause(err))
}

func TestStripPositions(t *testing.T) {
	p := NewAccumulator(true)
	addWords(t, p, 2, "w", "x", "w")
	addWords(t, p, 9, "w")
	recs := dump(t, p)
	var w *Record
	for _, rec := range recs {
		if rec.Term == "w" {
			w = rec
		}
	}
	require.NotNil(t, w)

	stripped, err := StripPositions(w.Vec, w.Docs)
	require.NoError(t, err)
	v := vec.New(stripped)
	for _, want := range []uint64{2, 2, 6, 1} {
		got, err := v.VbyteRead()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, len(stripped), v.Pos)
}
