// Package fileset manages the numbered on-disk file sets an index is stored
// in ("name.vectors0", "name.vectors1", ...). Logical locations are
// (fileno, offset) pairs; a set rolls over to a new fileno whenever the
// configured maximum file size would be exceeded.
package fileset

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/tern-search/tern/util/vfs"
)

var ErrShortRead = errors.New("short read from file set")

// Set is one family of numbered files under a directory.
type Set struct {
	dir     vfs.Dir
	name    string
	suffix  string
	maxSize uint64
	files   map[uint64]vfs.RandomFile
}

func New(dir vfs.Dir, name, suffix string, maxSize uint64) *Set {
	return &Set{
		dir:     dir,
		name:    name,
		suffix:  suffix,
		maxSize: maxSize,
		files:   make(map[uint64]vfs.RandomFile),
	}
}

func (s *Set) Dir() vfs.Dir { return s.dir }

func (s *Set) MaxFileSize() uint64 { return s.maxSize }

// FileName returns the name of the fileno'th file of the set.
func (s *Set) FileName(fileno uint64) string {
	return fmt.Sprintf("%s.%s%d", s.name, s.suffix, fileno)
}

func (s *Set) file(fileno uint64) (vfs.RandomFile, error) {
	if f, ok := s.files[fileno]; ok {
		return f, nil
	}
	f, err := s.dir.OpenWrite(s.FileName(fileno))
	if err != nil {
		return nil, errors.Wrapf(err, "opening %v", s.FileName(fileno))
	}
	s.files[fileno] = f
	return f, nil
}

// ReadAt fills buf from the given location. A read crossing the end of the
// file fails with ErrShortRead.
func (s *Set) ReadAt(fileno, offset uint64, buf []byte) error {
	f, err := s.file(fileno)
	if err != nil {
		return err
	}
	n, err := f.ReadAt(buf, int64(offset))
	if n < len(buf) {
		if err == io.EOF || err == nil {
			return ErrShortRead
		}
		return errors.Wrapf(err, "reading %v at %v", s.FileName(fileno), offset)
	}
	return nil
}

// ReadSome fills as much of buf as the file holds at the given location,
// returning the number of bytes read. Used by streaming list sources that
// tolerate short reads.
func (s *Set) ReadSome(fileno, offset uint64, buf []byte) (int, error) {
	f, err := s.file(fileno)
	if err != nil {
		return 0, err
	}
	n, err := f.ReadAt(buf, int64(offset))
	if err == io.EOF {
		err = nil
	}
	return n, err
}

// WriteAt writes buf at the given location.
func (s *Set) WriteAt(fileno, offset uint64, buf []byte) error {
	f, err := s.file(fileno)
	if err != nil {
		return err
	}
	if _, err := f.WriteAt(buf, int64(offset)); err != nil {
		return errors.Wrapf(err, "writing %v at %v", s.FileName(fileno), offset)
	}
	return nil
}

// Size returns the current size of the fileno'th file.
func (s *Set) Size(fileno uint64) (uint64, error) {
	f, err := s.file(fileno)
	if err != nil {
		return 0, err
	}
	size, err := f.Size()
	return uint64(size), err
}

// Sync flushes all open files of the set.
func (s *Set) Sync() error {
	for fileno, f := range s.files {
		if err := f.Sync(); err != nil {
			return errors.Wrapf(err, "syncing %v", s.FileName(fileno))
		}
	}
	return nil
}

// Close closes all open files. The set can be used again afterwards; files
// reopen lazily.
func (s *Set) Close() error {
	var first error
	for fileno, f := range s.files {
		if err := f.Close(); err != nil && first == nil {
			first = errors.Wrapf(err, "closing %v", s.FileName(fileno))
		}
		delete(s.files, fileno)
	}
	return first
}

// List returns the filenos of the set present in the directory, sorted.
func (s *Set) List() ([]uint64, error) {
	names, err := s.dir.ListFiles()
	if err != nil {
		return nil, err
	}
	prefix := fmt.Sprintf("%s.%s", s.name, s.suffix)
	var filenos []uint64
	for _, name := range names {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		n, err := strconv.ParseUint(name[len(prefix):], 10, 64)
		if err != nil {
			continue
		}
		filenos = append(filenos, n)
	}
	sort.Slice(filenos, func(i, j int) bool { return filenos[i] < filenos[j] })
	return filenos, nil
}

// Remove closes and deletes every file of the set present on disk.
func (s *Set) Remove() error {
	if err := s.Close(); err != nil {
		return err
	}
	filenos, err := s.List()
	if err != nil {
		return err
	}
	for _, fileno := range filenos {
		if err := s.dir.RemoveFile(s.FileName(fileno)); err != nil {
			return err
		}
	}
	return nil
}

// RenameTo closes the set and renames each of its files into the target
// set's namespace. Renaming across several files is not atomic; a failure
// part-way leaves a mixed state the caller must surface.
func (s *Set) RenameTo(target *Set) error {
	if err := s.Close(); err != nil {
		return err
	}
	if err := target.Close(); err != nil {
		return err
	}
	filenos, err := s.List()
	if err != nil {
		return err
	}
	for _, fileno := range filenos {
		if err := s.dir.RenameFile(s.FileName(fileno), target.FileName(fileno)); err != nil {
			return errors.Wrapf(err, "renaming %v", s.FileName(fileno))
		}
	}
	return nil
}

// Writer appends sequentially to a set, rolling to the next fileno when an
// entry would cross the maximum file size.
type Writer struct {
	set    *Set
	fileno uint64
	offset uint64
	buf    []byte
}

// NewWriter starts writing at the given location.
func NewWriter(set *Set, fileno, offset uint64) *Writer {
	return &Writer{set: set, fileno: fileno, offset: offset, buf: make([]byte, 0, 1<<16)}
}

// Loc returns the location the next written byte will land at, assuming no
// rollover intervenes.
func (w *Writer) Loc() (fileno, offset uint64) {
	return w.fileno, w.offset + uint64(len(w.buf))
}

// Reserve rolls the writer over to a fresh file if an entry of size n would
// cross the set's maximum file size. Entries never straddle files.
func (w *Writer) Reserve(n uint64) error {
	_, offset := w.Loc()
	if offset > 0 && offset+n > w.set.maxSize {
		if err := w.Flush(); err != nil {
			return err
		}
		w.fileno++
		w.offset = 0
	}
	return nil
}

func (w *Writer) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	if len(w.buf) >= 1<<16 {
		if err := w.Flush(); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// Flush writes buffered bytes through to the set.
func (w *Writer) Flush() error {
	if len(w.buf) == 0 {
		return nil
	}
	if err := w.set.WriteAt(w.fileno, w.offset, w.buf); err != nil {
		return err
	}
	w.offset += uint64(len(w.buf))
	w.buf = w.buf[:0]
	return nil
}

// Files returns how many files the writer has touched (highest fileno + 1).
func (w *Writer) Files() uint64 {
	return w.fileno + 1
}
