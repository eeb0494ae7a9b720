package index

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/tern-search/tern/impact"
	"github.com/tern-search/tern/util/vfs"
)

var (
	ErrNotIndex = errors.New("not an index")
	ErrVersion  = errors.New("incompatible index version")
)

const (
	paramName = "index.param"

	superMagic   = 0x6e726574 // "tern"
	endianTag    = 0x01020304
	indexVersion = 1

	flagPositions = 1 << 0
	flagImpacts   = 1 << 1
)

// super is the index parameter block. It is written whole on every commit,
// so all fields are fixed width.
type super struct {
	Magic       uint32
	Endian      uint32
	Version     uint32
	Flags       uint32
	PageSize    uint32
	MaxFileSize uint64

	VocabRoot   uint64
	VocabPages  uint64
	VectorFiles uint64

	Docs        uint64
	Distinct    uint64
	Occurrences uint64
	AvgWeight   float64
	AvgLength   float64

	ImpQuantBits uint32
	ImpSlope     float64
	ImpMin       float64
	ImpMax       float64
	ImpWqtMin    float64
	ImpWqtMax    float64
	ImpAvgFt     float64
}

func (s *super) positions() bool { return s.Flags&flagPositions != 0 }
func (s *super) impacts() bool   { return s.Flags&flagImpacts != 0 }

func (s *super) impactStats() impact.Stats {
	return impact.Stats{
		QuantBits: uint(s.ImpQuantBits),
		Slope:     s.ImpSlope,
		Min:       s.ImpMin,
		Max:       s.ImpMax,
		WqtMin:    s.ImpWqtMin,
		WqtMax:    s.ImpWqtMax,
		AvgFt:     s.ImpAvgFt,
	}
}

func (s *super) setImpactStats(st impact.Stats) {
	s.ImpQuantBits = uint32(st.QuantBits)
	s.ImpSlope = st.Slope
	s.ImpMin = st.Min
	s.ImpMax = st.Max
	s.ImpWqtMin = st.WqtMin
	s.ImpWqtMax = st.WqtMax
	s.ImpAvgFt = st.AvgFt
}

func (s *super) save(dir vfs.Dir) error {
	s.Magic = superMagic
	s.Endian = endianTag
	s.Version = indexVersion
	err := vfs.WriteFile(dir, paramName, func(w io.Writer) error {
		return binary.Write(w, binary.LittleEndian, s)
	})
	return errors.Wrap(err, "writing parameter block")
}

func loadSuper(dir vfs.Dir, ignoreVersion bool) (*super, error) {
	data, err := vfs.ReadFile(dir, paramName)
	if err != nil {
		return nil, errors.Wrap(err, "reading parameter block")
	}
	var s super
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &s); err != nil {
		return nil, errors.Wrap(ErrNotIndex, "parameter block too short")
	}
	if s.Magic != superMagic || s.Endian != endianTag {
		return nil, errors.Wrapf(ErrNotIndex, "bad magic %#x", s.Magic)
	}
	if s.Version != indexVersion && !ignoreVersion {
		return nil, errors.Wrapf(ErrVersion, "index version %v, want %v", s.Version, indexVersion)
	}
	return &s, nil
}
