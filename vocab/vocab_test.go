package vocab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tern-search/tern/util/vec"
)

func TestEntryRoundTrip(t *testing.T) {
	entries := []Entry{
		{
			Type: TypeDoc, Location: LocFile,
			Size: 1234, Docs: 56, Occurs: 78, Last: 90,
			FileNo: 2, Offset: 65536, Capacity: 2048,
		},
		{
			Type: TypeDocWP, Location: LocVocab,
			Size: 4, Docs: 1, Occurs: 2, Last: 3,
			Vector: []byte{0x01, 0x02, 0x03, 0x04},
		},
		{
			Type: TypeImpact, Location: LocFile,
			Attr: AttrPerList, Attribute: 42,
			Size: 9999999, Docs: 100000, Occurs: 200000, Last: 300000,
			FileNo: 0, Offset: 0, Capacity: 10000000,
		},
	}

	for _, in := range entries {
		buf := make([]byte, in.Len())
		v := vec.New(buf)
		require.NoError(t, in.Encode(v))
		require.Equal(t, in.Len(), v.Pos, "Len disagrees with Encode")

		v.Pos = 0
		var out Entry
		require.NoError(t, out.Decode(v))
		assert.Equal(t, in.Type, out.Type)
		assert.Equal(t, in.Location, out.Location)
		assert.Equal(t, in.Attr, out.Attr)
		assert.Equal(t, in.Attribute, out.Attribute)
		assert.Equal(t, in.Size, out.Size)
		assert.Equal(t, in.Docs, out.Docs)
		assert.Equal(t, in.Occurs, out.Occurs)
		assert.Equal(t, in.Last, out.Last)
		if in.Location == LocFile {
			assert.Equal(t, in.FileNo, out.FileNo)
			assert.Equal(t, in.Offset, out.Offset)
			assert.Equal(t, in.Capacity, out.Capacity)
		} else {
			assert.Equal(t, in.Vector, out.Vector)
		}
	}
}

func TestDecodeMultipleEntries(t *testing.T) {
	doc := Entry{Type: TypeDoc, Location: LocFile, Size: 100, Docs: 5, Occurs: 9, Last: 44, Capacity: 128}
	imp := Entry{Type: TypeImpact, Location: LocFile, Size: 80, Docs: 5, Occurs: 9, Last: 44, FileNo: 1, Offset: 4096, Capacity: 96}

	buf := make([]byte, doc.Len()+imp.Len())
	v := vec.New(buf)
	require.NoError(t, doc.Encode(v))
	require.NoError(t, imp.Encode(v))

	v.Pos = 0
	var e Entry
	require.NoError(t, e.Decode(v))
	assert.Equal(t, TypeDoc, e.Type)
	require.NoError(t, e.Decode(v))
	assert.Equal(t, TypeImpact, e.Type)
	assert.Equal(t, End, e.Decode(v))
}

func TestFirstSkipsMismatchedTypes(t *testing.T) {
	doc := Entry{Type: TypeDoc, Location: LocFile, Size: 100, Docs: 5, Occurs: 9, Last: 44}
	imp := Entry{Type: TypeImpact, Location: LocFile, Size: 80, Docs: 5, Occurs: 9, Last: 44}

	buf := make([]byte, doc.Len()+imp.Len())
	v := vec.New(buf)
	require.NoError(t, doc.Encode(v))
	require.NoError(t, imp.Encode(v))

	e, err := First(buf, IsImpactOrdered)
	require.NoError(t, err)
	assert.Equal(t, TypeImpact, e.Type)

	e, err = First(buf, IsDocOrdered)
	require.NoError(t, err)
	assert.Equal(t, TypeDoc, e.Type)
}

func TestDecodeTruncated(t *testing.T) {
	in := Entry{Type: TypeDoc, Location: LocFile, Size: 1000, Docs: 50, Occurs: 900, Last: 12345, FileNo: 1, Offset: 700, Capacity: 1024}
	buf := make([]byte, in.Len())
	v := vec.New(buf)
	require.NoError(t, in.Encode(v))

	for cut := 1; cut < in.Len(); cut++ {
		v := vec.New(buf[:cut])
		var e Entry
		err := e.Decode(v)
		require.Equal(t, ErrSpace, err, "cut at %d", cut)
		assert.Equal(t, 0, v.Pos, "cursor moved after failed decode at %d", cut)
	}
}
