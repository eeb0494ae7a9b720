// Package vfs abstracts a flat directory of files so that index storage can
// run against the real filesystem or an in-memory double in tests.
package vfs

import (
	"bytes"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dchest/safefile"
	"github.com/pkg/errors"
)

type FileReader interface {
	io.Reader
	io.ReaderAt
	io.Seeker
	io.Closer
}

type FileWriter interface {
	io.Writer
	io.Closer
	Commit() error
}

// Dir is a flat namespace of files. CreateFile returns a writer whose
// contents become visible atomically on Commit.
type Dir interface {
	Path() string
	OpenFile(name string) (FileReader, error)
	CreateFile(name string) (FileWriter, error)
	// OpenWrite opens an existing file (creating it if absent) for
	// read/write at arbitrary offsets. Used by page stores that update
	// files in place.
	OpenWrite(name string) (RandomFile, error)
	RemoveFile(name string) error
	RenameFile(oldname, newname string) error
	ListFiles() ([]string, error)
}

// RandomFile supports positioned reads and writes.
type RandomFile interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
	Sync() error
	Size() (int64, error)
}

var (
	ErrNotDirectory = errors.New("not a directory")
)

func IsNotExist(err error) bool {
	return os.IsNotExist(errors.Cause(err))
}

type fsDir struct {
	path string
}

// OpenDir opens a directory on the filesystem, optionally creating it if it
// does not exist.
func OpenDir(path string, create bool) (Dir, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	if stat, err := os.Stat(path); err != nil {
		if create && os.IsNotExist(err) {
			err = os.Mkdir(path, 0750)
			if err != nil {
				return nil, err
			}
		} else {
			return nil, err
		}
	} else if !stat.IsDir() {
		return nil, ErrNotDirectory
	}

	return &fsDir{path: path}, nil
}

func (d *fsDir) Path() string { return d.path }

func (d *fsDir) OpenFile(name string) (FileReader, error) {
	return os.Open(filepath.Join(d.path, name))
}

func (d *fsDir) CreateFile(name string) (FileWriter, error) {
	return safefile.Create(filepath.Join(d.path, name), 0644)
}

func (d *fsDir) OpenWrite(name string) (RandomFile, error) {
	f, err := os.OpenFile(filepath.Join(d.path, name), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	return &osRandomFile{f}, nil
}

func (d *fsDir) RemoveFile(name string) error {
	err := os.Remove(filepath.Join(d.path, name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (d *fsDir) RenameFile(oldname, newname string) error {
	return os.Rename(filepath.Join(d.path, oldname), filepath.Join(d.path, newname))
}

func (d *fsDir) ListFiles() ([]string, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

type osRandomFile struct {
	*os.File
}

func (f *osRandomFile) Size() (int64, error) {
	stat, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return stat.Size(), nil
}

// NewMemDir creates a directory that only lives in memory.
func NewMemDir() Dir {
	return &memDir{entries: make(map[string][]byte)}
}

type memDir struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func (d *memDir) Path() string { return "" }

func (d *memDir) OpenFile(name string) (FileReader, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.entries[name]
	if !ok {
		return nil, os.ErrNotExist
	}
	return &memFileReader{Reader: bytes.NewReader(entry)}, nil
}

func (d *memDir) CreateFile(name string) (FileWriter, error) {
	return &memFileWriter{dir: d, name: name}, nil
}

func (d *memDir) OpenWrite(name string) (RandomFile, error) {
	return &memRandomFile{dir: d, name: name}, nil
}

func (d *memDir) RemoveFile(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, name)
	return nil
}

func (d *memDir) RenameFile(oldname, newname string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.entries[oldname]
	if !ok {
		return os.ErrNotExist
	}
	d.entries[newname] = entry
	delete(d.entries, oldname)
	return nil
}

func (d *memDir) ListFiles() ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.entries))
	for name := range d.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

type memFileReader struct {
	*bytes.Reader
}

func (f *memFileReader) Close() error { return nil }

type memFileWriter struct {
	bytes.Buffer
	dir  *memDir
	name string
}

func (f *memFileWriter) Commit() error {
	f.dir.mu.Lock()
	defer f.dir.mu.Unlock()
	f.dir.entries[f.name] = append([]byte(nil), f.Bytes()...)
	return nil
}

func (f *memFileWriter) Close() error { return nil }

type memRandomFile struct {
	dir  *memDir
	name string
}

func (f *memRandomFile) ReadAt(p []byte, off int64) (int, error) {
	f.dir.mu.Lock()
	defer f.dir.mu.Unlock()
	entry := f.dir.entries[f.name]
	if off >= int64(len(entry)) {
		return 0, io.EOF
	}
	n := copy(p, entry[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *memRandomFile) WriteAt(p []byte, off int64) (int, error) {
	f.dir.mu.Lock()
	defer f.dir.mu.Unlock()
	entry := f.dir.entries[f.name]
	if need := off + int64(len(p)); need > int64(len(entry)) {
		grown := make([]byte, need)
		copy(grown, entry)
		entry = grown
	}
	copy(entry[off:], p)
	f.dir.entries[f.name] = entry
	return len(p), nil
}

func (f *memRandomFile) Close() error { return nil }
func (f *memRandomFile) Sync() error  { return nil }

func (f *memRandomFile) Size() (int64, error) {
	f.dir.mu.Lock()
	defer f.dir.mu.Unlock()
	return int64(len(f.dir.entries[f.name])), nil
}

// WriteFile writes a whole file through the atomic create/commit sequence.
func WriteFile(d Dir, name string, write func(w io.Writer) error) error {
	file, err := d.CreateFile(name)
	if err != nil {
		return errors.Wrap(err, "create failed")
	}
	defer file.Close()

	err = write(file)
	if err != nil {
		return errors.Wrap(err, "write failed")
	}

	err = file.Commit()
	if err != nil {
		return errors.Wrap(err, "commit failed")
	}

	return nil
}

// ReadFile reads a whole file into memory.
func ReadFile(d Dir, name string) ([]byte, error) {
	file, err := d.OpenFile(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

// RemoveAll removes the named files, logging rather than failing on
// individual errors. Used by abort-cleanup paths.
func RemoveAll(d Dir, names []string) {
	for _, name := range names {
		if err := d.RemoveFile(name); err != nil {
			log.Printf("failed to remove %v: %v", name, err)
		}
	}
}
