package index

import (
	"io"

	"github.com/pkg/errors"

	"github.com/tern-search/tern/postings"
	"github.com/tern-search/tern/util/vec"
	"github.com/tern-search/tern/util/vfs"
)

var ErrNoDoc = errors.New("no such document")

type docEntry struct {
	label    string
	weight   float32
	words    uint64
	distinct uint64
}

// DocMap records per-document statistics keyed by docno. Docnos are
// sequential starting from 1; entry i holds docno i+1.
type DocMap struct {
	entries    []docEntry
	totalWords uint64
	sumWeight  float64
}

func NewDocMap() *DocMap {
	return &DocMap{}
}

// Add registers a document and returns its docno.
func (m *DocMap) Add(label string, stats postings.DocStats) uint64 {
	m.entries = append(m.entries, docEntry{
		label:    label,
		weight:   float32(stats.Weight),
		words:    stats.Words,
		distinct: stats.Distinct,
	})
	m.totalWords += stats.Words
	m.sumWeight += stats.Weight
	return uint64(len(m.entries))
}

func (m *DocMap) Docs() uint64       { return uint64(len(m.entries)) }
func (m *DocMap) TotalWords() uint64 { return m.totalWords }

func (m *DocMap) AvgWeight() float64 {
	if len(m.entries) == 0 {
		return 0
	}
	return m.sumWeight / float64(len(m.entries))
}

func (m *DocMap) AvgLength() float64 {
	if len(m.entries) == 0 {
		return 0
	}
	return float64(m.totalWords) / float64(len(m.entries))
}

func (m *DocMap) entry(docno uint64) (*docEntry, error) {
	if docno < 1 || docno > uint64(len(m.entries)) {
		return nil, errors.Wrapf(ErrNoDoc, "docno %v", docno)
	}
	return &m.entries[docno-1], nil
}

func (m *DocMap) Weight(docno uint64) (float64, error) {
	e, err := m.entry(docno)
	if err != nil {
		return 0, err
	}
	return float64(e.weight), nil
}

func (m *DocMap) Length(docno uint64) (uint64, error) {
	e, err := m.entry(docno)
	if err != nil {
		return 0, err
	}
	return e.words, nil
}

func (m *DocMap) Label(docno uint64) (string, error) {
	e, err := m.entry(docno)
	if err != nil {
		return "", err
	}
	return e.label, nil
}

const docMapName = "index.map"

func (m *DocMap) size() int {
	n := vec.VbyteLen(uint64(len(m.entries)))
	for i := range m.entries {
		e := &m.entries[i]
		n += vec.VbyteLen(uint64(len(e.label))) + len(e.label)
		n += vec.FltLen(vec.FltFullPrecision)
		n += vec.VbyteLen(e.words) + vec.VbyteLen(e.distinct)
	}
	return n
}

// Save writes the map atomically to dir.
func (m *DocMap) Save(dir vfs.Dir) error {
	v := vec.New(make([]byte, m.size()))
	if _, err := v.VbyteWrite(uint64(len(m.entries))); err != nil {
		return err
	}
	for i := range m.entries {
		e := &m.entries[i]
		if _, err := v.VbyteWrite(uint64(len(e.label))); err != nil {
			return err
		}
		v.ByteWrite([]byte(e.label))
		if _, err := v.FltWrite(e.weight, vec.FltFullPrecision); err != nil {
			return err
		}
		if _, err := v.VbyteWrite(e.words); err != nil {
			return err
		}
		if _, err := v.VbyteWrite(e.distinct); err != nil {
			return err
		}
	}
	err := vfs.WriteFile(dir, docMapName, func(w io.Writer) error {
		_, err := w.Write(v.Buf[:v.Pos])
		return err
	})
	return errors.Wrap(err, "writing document map")
}

// LoadDocMap reads the map back from dir.
func LoadDocMap(dir vfs.Dir) (*DocMap, error) {
	data, err := vfs.ReadFile(dir, docMapName)
	if err != nil {
		return nil, errors.Wrap(err, "reading document map")
	}
	v := vec.New(data)
	n, err := v.VbyteRead()
	if err != nil {
		return nil, errors.Wrap(badDocMap(err), "document map header")
	}
	m := &DocMap{entries: make([]docEntry, 0, n)}
	for i := uint64(0); i < n; i++ {
		labelLen, err := v.VbyteRead()
		if err != nil {
			return nil, badDocMap(err)
		}
		label := make([]byte, labelLen)
		if got := v.ByteRead(label); got != int(labelLen) {
			return nil, badDocMap(vec.ErrSpace)
		}
		weight, err := v.FltRead(vec.FltFullPrecision)
		if err != nil {
			return nil, badDocMap(err)
		}
		words, err := v.VbyteRead()
		if err != nil {
			return nil, badDocMap(err)
		}
		distinct, err := v.VbyteRead()
		if err != nil {
			return nil, badDocMap(err)
		}
		m.entries = append(m.entries, docEntry{
			label:    string(label),
			weight:   weight,
			words:    words,
			distinct: distinct,
		})
		m.totalWords += words
		m.sumWeight += float64(weight)
	}
	return m, nil
}

func badDocMap(err error) error {
	if errors.Cause(err) == vec.ErrSpace {
		return errors.Wrap(io.ErrUnexpectedEOF, "truncated document map")
	}
	return err
}
