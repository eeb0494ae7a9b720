package search

import (
	"io"

	"github.com/tern-search/tern/fileset"
	"github.com/tern-search/tern/util/vec"
	"github.com/tern-search/tern/vocab"
)

// defaultBufSize bounds how much of a disk-resident list is held in memory
// while decoding.
const defaultBufSize = 32 * 1024

// listSource feeds a postings vector to a decoder a buffer at a time.
// Decoders read through the vec cursor; when a read fails with ErrSpace
// they call refill, which slides the unread tail to the front and reads
// more bytes after it.
type listSource struct {
	v         vec.Vec
	set       *fileset.Set
	fileno    uint64
	offset    uint64 // next byte to read from the set
	remaining uint64 // bytes of the list not yet read into the buffer
}

// newMemSource wraps a fully in-memory vector.
func newMemSource(buf []byte) *listSource {
	return &listSource{v: vec.Vec{Buf: buf}}
}

// newDiskSource streams a vector of the given size from the set.
func newDiskSource(set *fileset.Set, fileno, offset, size uint64, bufsize int) *listSource {
	if bufsize <= 0 {
		bufsize = defaultBufSize
	}
	return &listSource{
		v:         vec.Vec{Buf: make([]byte, 0, bufsize)},
		set:       set,
		fileno:    fileno,
		offset:    offset,
		remaining: size,
	}
}

// refill makes more bytes readable. Returns io.EOF when the list is
// exhausted and nothing more can be added.
func (s *listSource) refill() error {
	if s.remaining == 0 {
		return io.EOF
	}
	tail := copy(s.v.Buf, s.v.Buf[s.v.Pos:])
	s.v.Buf = s.v.Buf[:tail]
	s.v.Pos = 0

	space := uint64(cap(s.v.Buf) - tail)
	if space == 0 {
		// a single value larger than the buffer; grow it
		grown := make([]byte, tail, cap(s.v.Buf)*2)
		copy(grown, s.v.Buf)
		s.v.Buf = grown
		space = uint64(cap(s.v.Buf) - tail)
	}
	if space > s.remaining {
		space = s.remaining
	}
	s.v.Buf = s.v.Buf[:tail+int(space)]
	if err := s.set.ReadAt(s.fileno, s.offset, s.v.Buf[tail:]); err != nil {
		return err
	}
	s.offset += space
	s.remaining -= space
	return nil
}

// vbyte reads one vbyte, refilling as needed.
func (s *listSource) vbyte() (uint64, error) {
	for {
		n, err := s.v.VbyteRead()
		if err == vec.ErrSpace {
			if err := s.refill(); err != nil {
				return 0, err
			}
			continue
		}
		return n, err
	}
}

// skip discards count vbytes, refilling as needed.
func (s *listSource) skip(count int) error {
	for count > 0 {
		done := s.v.VbyteScan(count)
		count -= done
		if count > 0 {
			if err := s.refill(); err != nil {
				return err
			}
		}
	}
	return nil
}

// postingDecoder iterates (docno, f_dt) pairs of a doc-ordered list.
type postingDecoder struct {
	src       *listSource
	docs      uint64
	read      uint64
	positions bool

	docno   uint64
	fdt     uint64
	pending uint64 // positions of the current document not yet consumed
	lastPos uint64
}

func newPostingDecoder(src *listSource, e *vocab.Entry) *postingDecoder {
	return &postingDecoder{
		src:       src,
		docs:      e.Docs,
		positions: e.Type == vocab.TypeDocWP,
	}
}

// next advances to the next document. io.EOF signals the end of the list.
func (d *postingDecoder) next() (docno, fdt uint64, err error) {
	if d.pending > 0 {
		if err := d.src.skip(int(d.pending)); err != nil {
			return 0, 0, err
		}
		d.pending = 0
	}
	if d.read == d.docs {
		return 0, 0, io.EOF
	}
	gap, err := d.src.vbyte()
	if err != nil {
		return 0, 0, err
	}
	if d.read == 0 {
		d.docno = gap
	} else {
		d.docno += gap + 1
	}
	if d.fdt, err = d.src.vbyte(); err != nil {
		return 0, 0, err
	}
	d.read++
	if d.positions {
		d.pending = d.fdt
		d.lastPos = 0
	}
	return d.docno, d.fdt, nil
}

// readPositions consumes the current document's word positions. Valid only
// directly after next on a list that carries positions.
func (d *postingDecoder) readPositions() ([]uint64, error) {
	positions := make([]uint64, 0, d.pending)
	first := true
	for d.pending > 0 {
		gap, err := d.src.vbyte()
		if err != nil {
			return nil, err
		}
		if first {
			d.lastPos = gap
			first = false
		} else {
			d.lastPos += gap
		}
		positions = append(positions, d.lastPos)
		d.pending--
	}
	return positions, nil
}
