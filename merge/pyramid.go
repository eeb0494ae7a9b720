package merge

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/tern-search/tern/postings"
	"github.com/tern-search/tern/util/vfs"
	"github.com/tern-search/tern/vocab"
)

// Pyramid holds the temporary runs dumped while indexing and keeps the
// final merge's fan-in bounded: whenever a level accumulates width runs
// they are merged into a single run one level up. Runs within a level and
// levels themselves stay ordered oldest first so document numbers remain
// increasing through every merge.
type Pyramid struct {
	dir      vfs.Dir
	name     string
	width    int
	compress bool
	seq      int
	levels   [][]string
}

// NewPyramid creates a pyramid dumping runs named after the index into dir.
// When compress is set the runs are zstd-compressed on disk.
func NewPyramid(dir vfs.Dir, name string, width int, compress bool) *Pyramid {
	if width < 2 {
		width = 2
	}
	return &Pyramid{dir: dir, name: name, width: width, compress: compress}
}

func (p *Pyramid) nextRunName() string {
	name := fmt.Sprintf("%s.run%d", p.name, p.seq)
	p.seq++
	return name
}

// Runs returns the number of runs currently held.
func (p *Pyramid) Runs() int {
	total := 0
	for _, level := range p.levels {
		total += len(level)
	}
	return total
}

// writeRun creates a run file and streams records into it through dump.
func (p *Pyramid) writeRun(name string, dump func(*postings.RunWriter) error) error {
	file, err := p.dir.CreateFile(name)
	if err != nil {
		return errors.Wrapf(err, "creating run %v", name)
	}
	defer file.Close()

	var out io.Writer = file
	var enc *zstd.Encoder
	if p.compress {
		if enc, err = zstd.NewWriter(file); err != nil {
			return err
		}
		out = enc
	}
	w := postings.NewRunWriter(out)
	if err := dump(w); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			return err
		}
	}
	return file.Commit()
}

type runHandle struct {
	reader  *postings.RunReader
	closers []io.Closer
}

func (p *Pyramid) openRun(name string) (*runHandle, error) {
	file, err := p.dir.OpenFile(name)
	if err != nil {
		return nil, errors.Wrapf(err, "opening run %v", name)
	}
	h := &runHandle{closers: []io.Closer{file}}
	var in io.Reader = file
	if p.compress {
		dec, err := zstd.NewReader(file)
		if err != nil {
			file.Close()
			return nil, err
		}
		in = dec
		h.closers = append(h.closers, dec.IOReadCloser())
	}
	h.reader = postings.NewRunReader(in)
	return h, nil
}

func (h *runHandle) close() {
	for i := len(h.closers) - 1; i >= 0; i-- {
		h.closers[i].Close()
	}
}

// AddRun dumps a new bottom-level run and cascades intermediate merges
// while any level is full.
func (p *Pyramid) AddRun(dump func(*postings.RunWriter) error) error {
	return p.addRun(dump, true)
}

// AddFinalRun dumps a run without cascading. The last dump before a full
// merge goes straight into that merge, so an intermediate merge here would
// only be written to be read back once.
func (p *Pyramid) AddFinalRun(dump func(*postings.RunWriter) error) error {
	return p.addRun(dump, false)
}

func (p *Pyramid) addRun(dump func(*postings.RunWriter) error, cascade bool) error {
	name := p.nextRunName()
	if err := p.writeRun(name, dump); err != nil {
		return err
	}
	if len(p.levels) == 0 {
		p.levels = append(p.levels, nil)
	}
	p.levels[0] = append(p.levels[0], name)
	if !cascade {
		return nil
	}

	for level := 0; level < len(p.levels); level++ {
		if len(p.levels[level]) < p.width {
			continue
		}
		if err := p.mergeLevel(level); err != nil {
			return err
		}
	}
	return nil
}

// mergeLevel merges every run at the level into one run a level up.
func (p *Pyramid) mergeLevel(level int) error {
	names := p.levels[level]
	handles := make([]*runHandle, 0, len(names))
	defer func() {
		for _, h := range handles {
			h.close()
		}
	}()
	readers := make([]*postings.RunReader, 0, len(names))
	for _, name := range names {
		h, err := p.openRun(name)
		if err != nil {
			return err
		}
		handles = append(handles, h)
		readers = append(readers, h.reader)
	}

	merged := p.nextRunName()
	err := p.writeRun(merged, func(w *postings.RunWriter) error {
		return mergeRuns(readers, func(rec *postings.Record) error {
			return w.Write(rec)
		})
	})
	if err != nil {
		return err
	}

	for _, h := range handles {
		h.close()
	}
	handles = handles[:0]
	vfs.RemoveAll(p.dir, names)
	p.levels[level] = nil
	if level+1 == len(p.levels) {
		p.levels = append(p.levels, nil)
	}
	p.levels[level+1] = append(p.levels[level+1], merged)
	return nil
}

// Merge runs the final merge over every remaining run, oldest first, and
// removes the run files on success.
func (p *Pyramid) Merge(out Output, vtype vocab.VType) (Result, error) {
	var names []string
	for level := len(p.levels) - 1; level >= 0; level-- {
		names = append(names, p.levels[level]...)
	}
	handles := make([]*runHandle, 0, len(names))
	defer func() {
		for _, h := range handles {
			h.close()
		}
	}()
	readers := make([]*postings.RunReader, 0, len(names))
	for _, name := range names {
		h, err := p.openRun(name)
		if err != nil {
			return Result{}, err
		}
		handles = append(handles, h)
		readers = append(readers, h.reader)
	}

	res, err := Final(readers, out, vtype)
	if err != nil {
		return Result{}, err
	}
	for _, h := range handles {
		h.close()
	}
	handles = handles[:0]
	vfs.RemoveAll(p.dir, names)
	p.levels = nil
	return res, nil
}

// Single collapses every remaining run into one and returns a reader over
// it. The returned cleanup closes the reader and removes the run file;
// callers must invoke it even on error paths. Single returns a nil reader
// when the pyramid holds no runs.
func (p *Pyramid) Single() (*postings.RunReader, func(), error) {
	var names []string
	for level := len(p.levels) - 1; level >= 0; level-- {
		names = append(names, p.levels[level]...)
	}
	if len(names) == 0 {
		return nil, func() {}, nil
	}
	if len(names) > 1 {
		handles := make([]*runHandle, 0, len(names))
		readers := make([]*postings.RunReader, 0, len(names))
		for _, name := range names {
			h, err := p.openRun(name)
			if err != nil {
				for _, o := range handles {
					o.close()
				}
				return nil, func() {}, err
			}
			handles = append(handles, h)
			readers = append(readers, h.reader)
		}
		merged := p.nextRunName()
		err := p.writeRun(merged, func(w *postings.RunWriter) error {
			return mergeRuns(readers, func(rec *postings.Record) error {
				return w.Write(rec)
			})
		})
		for _, h := range handles {
			h.close()
		}
		if err != nil {
			return nil, func() {}, err
		}
		vfs.RemoveAll(p.dir, names)
		names = []string{merged}
	}
	p.levels = [][]string{{names[0]}}

	h, err := p.openRun(names[0])
	if err != nil {
		return nil, func() {}, err
	}
	cleanup := func() {
		h.close()
		vfs.RemoveAll(p.dir, names)
		p.levels = nil
	}
	return h.reader, cleanup, nil
}

// Cleanup removes any run files still on disk, for abort paths.
func (p *Pyramid) Cleanup() {
	for _, level := range p.levels {
		vfs.RemoveAll(p.dir, level)
	}
	p.levels = nil
}
