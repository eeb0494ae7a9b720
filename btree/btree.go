// Package btree implements the paged B+-tree that maps terms to vocabulary
// values. Pages live in a numbered file set and are updated in place; leaves
// carry sibling links so the vocabulary can be walked in term order.
package btree

import (
	"encoding/binary"
	"sort"

	"github.com/pkg/errors"

	"github.com/tern-search/tern/fileset"
	"github.com/tern-search/tern/util/vec"
)

var (
	ErrTooBig    = errors.New("entry too large for b-tree page")
	ErrExists    = errors.New("term already in b-tree")
	ErrNotFound  = errors.New("term not in b-tree")
	ErrCorrupted = errors.New("corrupted b-tree page")
)

const (
	headerSize = 11 // level byte, uint16 count, uint64 sibling
	noPage     = ^uint64(0)

	// pages kept in memory before clean ones are dropped
	cacheLimit = 1024
)

type node struct {
	pageno   uint64
	level    uint8
	next     uint64
	keys     []string
	vals     [][]byte // leaves only
	children []uint64 // internal nodes only
	dirty    bool
}

// Tree is a single-writer B+-tree over a file set. Callers serialize
// modifications; concurrent readers need their own Tree over the same set.
type Tree struct {
	set      *fileset.Set
	pagesize int
	root     uint64
	nextPage uint64
	cache    map[uint64]*node
}

// New creates an empty tree whose first leaf is page 0.
func New(set *fileset.Set, pagesize int) *Tree {
	t := &Tree{
		set:      set,
		pagesize: pagesize,
		root:     0,
		nextPage: 1,
		cache:    make(map[uint64]*node),
	}
	t.cache[0] = &node{pageno: 0, next: noPage, dirty: true}
	return t
}

// Open attaches to an existing tree. root and pages come from the index
// superblock.
func Open(set *fileset.Set, pagesize int, root, pages uint64) *Tree {
	return &Tree{
		set:      set,
		pagesize: pagesize,
		root:     root,
		nextPage: pages,
		cache:    make(map[uint64]*node),
	}
}

func (t *Tree) Root() uint64 { return t.root }

// Pages returns the number of pages allocated so far.
func (t *Tree) Pages() uint64 { return t.nextPage }

func (t *Tree) PageSize() int { return t.pagesize }

// MaxEntrySize is the largest term-plus-value an entry may occupy. Keeping
// entries to a quarter page guarantees splits always succeed.
func (t *Tree) MaxEntrySize() int { return t.pagesize / 4 }

// EntrySize returns the bytes a leaf entry occupies for a term with a value
// of the given length. Callers use it against pagesize/4 to decide whether
// a postings vector can live inline in the vocabulary.
func EntrySize(term string, vallen int) int {
	return leafEntrySize(term, vallen)
}

func pageLoc(pageno uint64, pagesize int, maxFileSize uint64) (fileno, offset uint64) {
	perFile := maxFileSize / uint64(pagesize)
	if perFile == 0 {
		perFile = 1
	}
	return pageno / perFile, (pageno % perFile) * uint64(pagesize)
}

func (t *Tree) load(pageno uint64) (*node, error) {
	if n, ok := t.cache[pageno]; ok {
		return n, nil
	}
	buf := make([]byte, t.pagesize)
	fileno, offset := pageLoc(pageno, t.pagesize, t.set.MaxFileSize())
	if err := t.set.ReadAt(fileno, offset, buf); err != nil {
		return nil, errors.Wrapf(err, "loading b-tree page %v", pageno)
	}
	n, err := parseNode(pageno, buf)
	if err != nil {
		return nil, err
	}
	t.evict()
	t.cache[pageno] = n
	return n, nil
}

func (t *Tree) evict() {
	if len(t.cache) < cacheLimit {
		return
	}
	for pageno, n := range t.cache {
		if !n.dirty && pageno != t.root {
			delete(t.cache, pageno)
			if len(t.cache) < cacheLimit/2 {
				return
			}
		}
	}
}

func (t *Tree) newNode(level uint8) *node {
	n := &node{pageno: t.nextPage, level: level, next: noPage, dirty: true}
	t.nextPage++
	t.evict()
	t.cache[n.pageno] = n
	return n
}

func parseNode(pageno uint64, buf []byte) (*node, error) {
	n := &node{pageno: pageno}
	n.level = buf[0]
	count := int(binary.LittleEndian.Uint16(buf[1:3]))
	n.next = binary.LittleEndian.Uint64(buf[3:11])
	v := vec.New(buf)
	v.Pos = headerSize
	for i := 0; i < count; i++ {
		keylen, err := v.VbyteRead()
		if err != nil {
			return nil, ErrCorrupted
		}
		key := make([]byte, keylen)
		if v.ByteRead(key) != int(keylen) {
			return nil, ErrCorrupted
		}
		n.keys = append(n.keys, string(key))
		if n.level == 0 {
			vallen, err := v.VbyteRead()
			if err != nil {
				return nil, ErrCorrupted
			}
			val := make([]byte, vallen)
			if v.ByteRead(val) != int(vallen) {
				return nil, ErrCorrupted
			}
			n.vals = append(n.vals, val)
		} else {
			child, err := v.VbyteRead()
			if err != nil {
				return nil, ErrCorrupted
			}
			n.children = append(n.children, child)
		}
	}
	return n, nil
}

func serializeNode(n *node, pagesize int) ([]byte, error) {
	buf := make([]byte, pagesize)
	buf[0] = n.level
	binary.LittleEndian.PutUint16(buf[1:3], uint16(len(n.keys)))
	binary.LittleEndian.PutUint64(buf[3:11], n.next)
	v := vec.New(buf)
	v.Pos = headerSize
	for i, key := range n.keys {
		if _, err := v.VbyteWrite(uint64(len(key))); err != nil {
			return nil, errors.Wrapf(err, "page %v overflow", n.pageno)
		}
		if v.ByteWrite([]byte(key)) != len(key) {
			return nil, errors.Errorf("page %v overflow", n.pageno)
		}
		if n.level == 0 {
			if _, err := v.VbyteWrite(uint64(len(n.vals[i]))); err != nil {
				return nil, errors.Wrapf(err, "page %v overflow", n.pageno)
			}
			if v.ByteWrite(n.vals[i]) != len(n.vals[i]) {
				return nil, errors.Errorf("page %v overflow", n.pageno)
			}
		} else {
			if _, err := v.VbyteWrite(n.children[i]); err != nil {
				return nil, errors.Wrapf(err, "page %v overflow", n.pageno)
			}
		}
	}
	return buf, nil
}

func leafEntrySize(key string, vallen int) int {
	return vec.VbyteLen(uint64(len(key))) + len(key) + vec.VbyteLen(uint64(vallen)) + vallen
}

func nodeEntrySize(key string, childpage uint64) int {
	return vec.VbyteLen(uint64(len(key))) + len(key) + vec.VbyteLen(childpage)
}

func (n *node) used() int {
	size := headerSize
	for i, key := range n.keys {
		if n.level == 0 {
			size += leafEntrySize(key, len(n.vals[i]))
		} else {
			size += nodeEntrySize(key, n.children[i])
		}
	}
	return size
}

// childIndex picks the child subtree for term: the last entry whose key is
// not greater than the term, or the first entry when the term sorts before
// everything in the node.
func (n *node) childIndex(term string) int {
	i := sort.SearchStrings(n.keys, term)
	if i < len(n.keys) && n.keys[i] == term {
		return i
	}
	if i == 0 {
		return 0
	}
	return i - 1
}

// Find returns the value stored for term. The returned slice aliases the
// cached page and stays valid until the entry is reallocated or removed.
func (t *Tree) Find(term string) ([]byte, error) {
	n, err := t.load(t.root)
	if err != nil {
		return nil, err
	}
	for n.level > 0 {
		if len(n.children) == 0 {
			return nil, ErrCorrupted
		}
		if n, err = t.load(n.children[n.childIndex(term)]); err != nil {
			return nil, err
		}
	}
	i := sort.SearchStrings(n.keys, term)
	if i < len(n.keys) && n.keys[i] == term {
		return n.vals[i], nil
	}
	return nil, ErrNotFound
}

// Alloc inserts term with a zeroed value of the given size and returns the
// value buffer for the caller to fill. The buffer stays valid until the
// entry is reallocated or removed.
func (t *Tree) Alloc(term string, size int) ([]byte, error) {
	if leafEntrySize(term, size) > t.MaxEntrySize() {
		return nil, ErrTooBig
	}
	val := make([]byte, size)
	promKey, promPage, err := t.insert(t.root, term, val)
	if err != nil {
		return nil, err
	}
	if promPage != noPage {
		if err := t.growRoot(promKey, promPage); err != nil {
			return nil, err
		}
	}
	return val, nil
}

func (t *Tree) growRoot(promKey string, promPage uint64) error {
	old, err := t.load(t.root)
	if err != nil {
		return err
	}
	firstKey := ""
	if len(old.keys) > 0 {
		firstKey = old.keys[0]
	}
	root := t.newNode(old.level + 1)
	root.keys = []string{firstKey, promKey}
	root.children = []uint64{old.pageno, promPage}
	t.root = root.pageno
	return nil
}

// insert descends to the leaf for term and inserts there, splitting on the
// way back up. Returns the promoted separator when the visited node split.
func (t *Tree) insert(pageno uint64, term string, val []byte) (string, uint64, error) {
	n, err := t.load(pageno)
	if err != nil {
		return "", noPage, err
	}
	if n.level > 0 {
		if len(n.children) == 0 {
			return "", noPage, ErrCorrupted
		}
		i := n.childIndex(term)
		promKey, promPage, err := t.insert(n.children[i], term, val)
		if err != nil || promPage == noPage {
			return "", noPage, err
		}
		n.keys = append(n.keys, "")
		n.children = append(n.children, 0)
		copy(n.keys[i+2:], n.keys[i+1:])
		copy(n.children[i+2:], n.children[i+1:])
		n.keys[i+1] = promKey
		n.children[i+1] = promPage
		n.dirty = true
		if n.used() <= t.pagesize {
			return "", noPage, nil
		}
		return t.split(n)
	}

	i := sort.SearchStrings(n.keys, term)
	if i < len(n.keys) && n.keys[i] == term {
		return "", noPage, ErrExists
	}
	n.keys = append(n.keys, "")
	n.vals = append(n.vals, nil)
	copy(n.keys[i+1:], n.keys[i:])
	copy(n.vals[i+1:], n.vals[i:])
	n.keys[i] = term
	n.vals[i] = val
	n.dirty = true
	if n.used() <= t.pagesize {
		return "", noPage, nil
	}
	return t.split(n)
}

// split moves the upper half of n into a fresh sibling and returns the
// sibling's first key for promotion.
func (t *Tree) split(n *node) (string, uint64, error) {
	half := n.used() / 2
	size := headerSize
	cut := 0
	for i, key := range n.keys {
		if n.level == 0 {
			size += leafEntrySize(key, len(n.vals[i]))
		} else {
			size += nodeEntrySize(key, n.children[i])
		}
		if size > half {
			cut = i + 1
			break
		}
	}
	if cut == 0 || cut >= len(n.keys) {
		cut = len(n.keys) / 2
	}
	if cut == 0 {
		return "", noPage, ErrTooBig
	}

	sib := t.newNode(n.level)
	sib.keys = append(sib.keys, n.keys[cut:]...)
	n.keys = n.keys[:cut]
	if n.level == 0 {
		sib.vals = append(sib.vals, n.vals[cut:]...)
		n.vals = n.vals[:cut]
		sib.next = n.next
		n.next = sib.pageno
	} else {
		sib.children = append(sib.children, n.children[cut:]...)
		n.children = n.children[:cut]
	}
	n.dirty = true
	return sib.keys[0], sib.pageno, nil
}

// Realloc resizes the value stored for term, preserving the common prefix,
// and returns the new value buffer.
func (t *Tree) Realloc(term string, size int) ([]byte, error) {
	if leafEntrySize(term, size) > t.MaxEntrySize() {
		return nil, ErrTooBig
	}
	old, err := t.Find(term)
	if err != nil {
		return nil, err
	}
	keep := append([]byte(nil), old...)
	if err := t.Remove(term); err != nil {
		return nil, err
	}
	val, err := t.Alloc(term, size)
	if err != nil {
		return nil, err
	}
	copy(val, keep)
	return val, nil
}

// Remove deletes the entry for term. Pages are not rebalanced; the space is
// reclaimed when the vocabulary is next rebuilt by a merge.
func (t *Tree) Remove(term string) error {
	n, err := t.load(t.root)
	if err != nil {
		return err
	}
	for n.level > 0 {
		if len(n.children) == 0 {
			return ErrCorrupted
		}
		if n, err = t.load(n.children[n.childIndex(term)]); err != nil {
			return err
		}
	}
	i := sort.SearchStrings(n.keys, term)
	if i >= len(n.keys) || n.keys[i] != term {
		return ErrNotFound
	}
	n.keys = append(n.keys[:i], n.keys[i+1:]...)
	n.vals = append(n.vals[:i], n.vals[i+1:]...)
	n.dirty = true
	return nil
}

// Append inserts term with the given value. Meant for callers adding terms
// in increasing order, where inserts always land in the rightmost leaf.
func (t *Tree) Append(term string, value []byte) error {
	val, err := t.Alloc(term, len(value))
	if err != nil {
		return err
	}
	copy(val, value)
	return nil
}

// Flush writes every dirty page through to the file set and syncs it.
func (t *Tree) Flush() error {
	for _, n := range t.cache {
		if !n.dirty {
			continue
		}
		buf, err := serializeNode(n, t.pagesize)
		if err != nil {
			return err
		}
		fileno, offset := pageLoc(n.pageno, t.pagesize, t.set.MaxFileSize())
		if err := t.set.WriteAt(fileno, offset, buf); err != nil {
			return err
		}
		n.dirty = false
	}
	return t.set.Sync()
}

// Iterator walks leaf entries in term order.
type Iterator struct {
	t      *Tree
	pageno uint64
	slot   int
}

// Iterate positions an iterator before the first term.
func (t *Tree) Iterate() (*Iterator, error) {
	n, err := t.load(t.root)
	if err != nil {
		return nil, err
	}
	for n.level > 0 {
		if len(n.children) == 0 {
			return nil, ErrCorrupted
		}
		if n, err = t.load(n.children[0]); err != nil {
			return nil, err
		}
	}
	return &Iterator{t: t, pageno: n.pageno}, nil
}

// IterateFrom positions an iterator before the first term not less than the
// given term.
func (t *Tree) IterateFrom(term string) (*Iterator, error) {
	n, err := t.load(t.root)
	if err != nil {
		return nil, err
	}
	for n.level > 0 {
		if len(n.children) == 0 {
			return nil, ErrCorrupted
		}
		if n, err = t.load(n.children[n.childIndex(term)]); err != nil {
			return nil, err
		}
	}
	return &Iterator{t: t, pageno: n.pageno, slot: sort.SearchStrings(n.keys, term)}, nil
}

// Next returns the next term and its value, or ok=false at the end. The
// value aliases the cached page like Find.
func (it *Iterator) Next() (term string, value []byte, ok bool, err error) {
	for {
		if it.pageno == noPage {
			return "", nil, false, nil
		}
		n, err := it.t.load(it.pageno)
		if err != nil {
			return "", nil, false, err
		}
		if it.slot < len(n.keys) {
			term, value = n.keys[it.slot], n.vals[it.slot]
			it.slot++
			return term, value, true, nil
		}
		it.pageno = n.next
		it.slot = 0
	}
}
