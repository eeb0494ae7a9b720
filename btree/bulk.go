package btree

import (
	"github.com/pkg/errors"

	"github.com/tern-search/tern/fileset"
)

// Bulk builds a dense tree bottom-up from terms supplied in strictly
// increasing order. Merges use it to rebuild the vocabulary without paying
// for page splits.
type Bulk struct {
	set      *fileset.Set
	pagesize int
	nextPage uint64
	levels   []*node
	lastTerm string
	started  bool
}

// NewBulk starts a bulk load writing pages from startPage upward.
func NewBulk(set *fileset.Set, pagesize int, startPage uint64) *Bulk {
	return &Bulk{set: set, pagesize: pagesize, nextPage: startPage}
}

func (b *Bulk) newNode(level uint8) *node {
	n := &node{pageno: b.nextPage, level: level, next: noPage}
	b.nextPage++
	return n
}

func (b *Bulk) writeNode(n *node) error {
	buf, err := serializeNode(n, b.pagesize)
	if err != nil {
		return err
	}
	fileno, offset := pageLoc(n.pageno, b.pagesize, b.set.MaxFileSize())
	return b.set.WriteAt(fileno, offset, buf)
}

// add places an entry at the given level. When the current node at that
// level has no room it is written out, registered with its parent, and a
// fresh node takes over. Parent levels are created lazily on first spill,
// at which point the spilled node is registered before the new one.
func (b *Bulk) add(level int, key string, val []byte, child uint64) error {
	for len(b.levels) <= level {
		b.levels = append(b.levels, b.newNode(uint8(len(b.levels))))
	}
	n := b.levels[level]

	var size int
	if level == 0 {
		size = leafEntrySize(key, len(val))
	} else {
		size = nodeEntrySize(key, child)
	}
	if len(n.keys) > 0 && n.used()+size > b.pagesize {
		next := b.newNode(uint8(level))
		if level == 0 {
			n.next = next.pageno
		}
		if err := b.writeNode(n); err != nil {
			return err
		}
		if len(b.levels) == level+1 {
			if err := b.add(level+1, n.keys[0], nil, n.pageno); err != nil {
				return err
			}
		}
		b.levels[level] = next
		if err := b.add(level+1, key, nil, next.pageno); err != nil {
			return err
		}
		n = next
	}

	n.keys = append(n.keys, key)
	if level == 0 {
		n.vals = append(n.vals, val)
	} else {
		n.children = append(n.children, child)
	}
	return nil
}

// Append adds the next term. Terms must arrive in strictly increasing order.
func (b *Bulk) Append(term string, value []byte) error {
	if b.started && term <= b.lastTerm {
		return errors.Errorf("bulk load term %q out of order after %q", term, b.lastTerm)
	}
	if leafEntrySize(term, len(value)) > b.pagesize/4 {
		return ErrTooBig
	}
	b.started = true
	b.lastTerm = term
	val := append([]byte(nil), value...)
	return b.add(0, term, val, 0)
}

// Finish flushes the partial node at every level and returns the root page
// and the page count after the load. Non-top nodes were registered with
// their parents when they were started, so only the writes remain.
func (b *Bulk) Finish() (root, pages uint64, err error) {
	if len(b.levels) == 0 {
		n := b.newNode(0)
		if err := b.writeNode(n); err != nil {
			return 0, 0, err
		}
		return n.pageno, b.nextPage, b.set.Sync()
	}
	for level := 0; level < len(b.levels)-1; level++ {
		if err := b.writeNode(b.levels[level]); err != nil {
			return 0, 0, err
		}
	}
	top := b.levels[len(b.levels)-1]
	if err := b.writeNode(top); err != nil {
		return 0, 0, err
	}
	return top.pageno, b.nextPage, b.set.Sync()
}
