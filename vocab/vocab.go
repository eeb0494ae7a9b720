// Package vocab encodes the per-term entries stored as b-tree values in the
// vocabulary. A term's value is a concatenation of one or more entries, one
// per vector type it has (document-ordered, document-ordered with word
// positions, impact-ordered); repeated Decode calls over the value yield
// them in order.
package vocab

import (
	"github.com/pkg/errors"

	"github.com/tern-search/tern/util/vec"
)

// VType is the logical encoding of a postings vector.
type VType uint8

const (
	// TypeDoc is standard document order: f_t x <d, f_dt>.
	TypeDoc VType = 0
	// TypeDocWP is document order with word positions:
	// f_t x <d, f_dt, (offsets)>.
	TypeDocWP VType = 1
	// TypeImpact is impact order: <blocksize, impact, (d)> blocks.
	TypeImpact VType = 2
)

// Location says where an entry's vector bytes live.
type Location uint8

const (
	// LocVocab means the vector bytes immediately follow the entry,
	// inline in the b-tree value.
	LocVocab Location = 0
	// LocFile means the vector lives in the vector file set.
	LocFile Location = 1
)

// Attribute flag bits; PerList and PerOcc can both be set.
const (
	AttrNone    uint8 = 0
	AttrPerList uint8 = 1
	AttrPerOcc  uint8 = 1 << 1
)

var (
	ErrSpace    = vec.ErrSpace
	ErrOverflow = vec.ErrOverflow
	ErrInvalid  = errors.New("invalid vocab entry")

	// End reports that a value holds no further entries.
	End = errors.New("no further vocab entries")
)

// Entry is one term's metadata for one vector type.
type Entry struct {
	Attr      uint8
	Attribute uint64 // per-list attribute, valid if Attr&AttrPerList

	Type VType

	Size   uint64 // size in bytes of the postings vector
	Docs   uint64 // number of documents the term occurs in
	Occurs uint64 // total occurrences of the term
	Last   uint64 // last docno in the vector

	Location Location

	// LocVocab: the inline vector bytes (aliases the decoded buffer).
	Vector []byte

	// LocFile: position in the vector file set.
	FileNo   uint64
	Offset   uint64
	Capacity uint64
}

// Len returns the encoded length of the entry in bytes.
func (e *Entry) Len() int {
	n := 1
	if e.Attr&AttrPerList != 0 {
		n += vec.VbyteLen(e.Attribute)
	}
	n += vec.VbyteLen(e.Size) + vec.VbyteLen(e.Docs) +
		vec.VbyteLen(e.Occurs) + vec.VbyteLen(e.Last)
	switch e.Location {
	case LocVocab:
		n += int(e.Size)
	case LocFile:
		n += vec.VbyteLen(e.FileNo) + vec.VbyteLen(e.Offset) +
			vec.VbyteLen(e.Capacity)
	}
	return n
}

// Encode writes the entry to v. For LocVocab entries the Vector bytes are
// copied inline when set; when Vector is nil the cursor is advanced over
// Size bytes of vector space for the caller to fill. On ErrSpace the cursor
// is unchanged.
func (e *Entry) Encode(v *vec.Vec) error {
	start := v.Pos
	if v.Len() < 1 {
		return ErrSpace
	}

	v.Buf[v.Pos] = byte(e.Type)<<4 | byte(e.Location)<<2 | e.Attr&3
	v.Pos++

	fail := func(err error) error {
		v.Pos = start
		return err
	}

	if e.Attr&AttrPerList != 0 {
		if _, err := v.VbyteWrite(e.Attribute); err != nil {
			return fail(err)
		}
	}

	for _, n := range [...]uint64{e.Size, e.Docs, e.Occurs, e.Last} {
		if _, err := v.VbyteWrite(n); err != nil {
			return fail(err)
		}
	}

	switch e.Type {
	case TypeDoc, TypeDocWP, TypeImpact:
	default:
		return fail(ErrInvalid)
	}

	switch e.Location {
	case LocVocab:
		if v.Len() < int(e.Size) {
			return fail(ErrSpace)
		}
		if e.Vector != nil {
			v.ByteWrite(e.Vector[:e.Size])
		} else {
			v.Pos += int(e.Size)
		}
	case LocFile:
		for _, n := range [...]uint64{e.FileNo, e.Offset, e.Capacity} {
			if _, err := v.VbyteWrite(n); err != nil {
				return fail(err)
			}
		}
	default:
		return fail(ErrInvalid)
	}

	return nil
}

// Decode reads the next entry from v. Returns End if the cursor is at the
// end of the value, ErrSpace/ErrOverflow/ErrInvalid (cursor unchanged) if
// the bytes do not form a complete entry. Inline vector bytes are exposed
// through Vector without copying and the cursor is advanced past them so
// successive Decode calls walk all entries of a term.
func (e *Entry) Decode(v *vec.Vec) error {
	if v.Len() == 0 {
		return End
	}

	start := v.Pos
	fail := func(err error) error {
		v.Pos = start
		return err
	}

	b := v.Buf[v.Pos]
	v.Pos++
	e.Attr = b & 3
	e.Location = Location(b >> 2 & 3)
	e.Type = VType(b >> 4)
	e.Vector = nil

	if e.Attr&AttrPerList != 0 {
		n, err := v.VbyteRead()
		if err != nil {
			return fail(err)
		}
		e.Attribute = n
	} else {
		e.Attribute = 0
	}

	var err error
	if e.Size, err = v.VbyteRead(); err != nil {
		return fail(err)
	}
	if e.Docs, err = v.VbyteRead(); err != nil {
		return fail(err)
	}
	if e.Occurs, err = v.VbyteRead(); err != nil {
		return fail(err)
	}
	if e.Last, err = v.VbyteRead(); err != nil {
		return fail(err)
	}

	switch e.Type {
	case TypeDoc, TypeDocWP, TypeImpact:
	default:
		return fail(ErrInvalid)
	}

	switch e.Location {
	case LocVocab:
		if v.Len() < int(e.Size) {
			return fail(ErrSpace)
		}
		e.Vector = v.Buf[v.Pos : v.Pos+int(e.Size)]
		v.Pos += int(e.Size)
		e.FileNo, e.Offset, e.Capacity = 0, 0, 0
	case LocFile:
		if e.FileNo, err = v.VbyteRead(); err != nil {
			return fail(err)
		}
		if e.Offset, err = v.VbyteRead(); err != nil {
			return fail(err)
		}
		if e.Capacity, err = v.VbyteRead(); err != nil {
			return fail(err)
		}
	default:
		return fail(ErrInvalid)
	}

	return nil
}

// First decodes entries from value until one of the wanted type is found.
// Callers request doc-ordered or impact-ordered lists and skip mismatched
// entries with a single forward scan.
func First(value []byte, want func(VType) bool) (*Entry, error) {
	v := vec.New(value)
	for {
		var e Entry
		if err := e.Decode(v); err != nil {
			return nil, err
		}
		if want(e.Type) {
			return &e, nil
		}
	}
}

// IsDocOrdered reports whether t carries document-ordered postings.
func IsDocOrdered(t VType) bool { return t == TypeDoc || t == TypeDocWP }

// IsImpactOrdered reports whether t carries impact-ordered postings.
func IsImpactOrdered(t VType) bool { return t == TypeImpact }
