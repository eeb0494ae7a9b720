package postings

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Record is one term's postings in a dumped run.
type Record struct {
	Term   string
	Docs   uint64
	Occurs uint64
	Last   uint64
	Vec    []byte
}

// RunWriter streams records to an on-disk run.
type RunWriter struct {
	w *bufio.Writer
}

func NewRunWriter(w io.Writer) *RunWriter {
	return &RunWriter{w: bufio.NewWriter(w)}
}

func (rw *RunWriter) writeVbyte(n uint64) error {
	var buf [binary.MaxVarintLen64]byte
	i := 0
	for n >= 0x80 {
		buf[i] = byte(n) | 0x80
		n >>= 7
		i++
	}
	buf[i] = byte(n)
	_, err := rw.w.Write(buf[:i+1])
	return err
}

func (rw *RunWriter) Write(rec *Record) error {
	if err := rw.writeVbyte(uint64(len(rec.Term))); err != nil {
		return err
	}
	if _, err := rw.w.WriteString(rec.Term); err != nil {
		return err
	}
	for _, n := range []uint64{rec.Docs, rec.Occurs, rec.Last, uint64(len(rec.Vec))} {
		if err := rw.writeVbyte(n); err != nil {
			return err
		}
	}
	_, err := rw.w.Write(rec.Vec)
	return err
}

func (rw *RunWriter) Flush() error {
	return rw.w.Flush()
}

// RunReader streams records back from a run. Next returns io.EOF cleanly at
// the end of the run; a run cut off mid-record fails with ErrUnexpectedEOF.
type RunReader struct {
	r *bufio.Reader
}

func NewRunReader(r io.Reader) *RunReader {
	return &RunReader{r: bufio.NewReader(r)}
}

func (rr *RunReader) readVbyte() (uint64, error) {
	var n uint64
	var shift uint
	for {
		b, err := rr.r.ReadByte()
		if err != nil {
			return 0, err
		}
		if shift >= 64 || (shift > 57 && b >= 1<<(64-shift)) {
			return 0, errors.New("vbyte overflow in run")
		}
		n |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return n, nil
		}
		shift += 7
	}
}

// Next reads the next record. The record's Term and Vec are freshly
// allocated and stay valid across calls.
func (rr *RunReader) Next() (*Record, error) {
	termlen, err := rr.readVbyte()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, err
	}
	term := make([]byte, termlen)
	if _, err := io.ReadFull(rr.r, term); err != nil {
		if err == io.EOF {
			// a record cut off after its length is not a clean end of run
			err = io.ErrUnexpectedEOF
		}
		return nil, errors.Wrap(err, "reading run term")
	}
	rec := &Record{Term: string(term)}
	fields := []*uint64{&rec.Docs, &rec.Occurs, &rec.Last}
	for _, field := range fields {
		if *field, err = rr.readVbyte(); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, errors.Wrap(err, "reading run header")
		}
	}
	vecsize, err := rr.readVbyte()
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, errors.Wrap(err, "reading run header")
	}
	rec.Vec = make([]byte, vecsize)
	if _, err := io.ReadFull(rr.r, rec.Vec); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, errors.Wrap(err, "reading run vector")
	}
	return rec, nil
}
