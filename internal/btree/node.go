package btree

import (
	"fmt"

	"github.com/blocktar/taridx/internal/block"
	"github.com/blocktar/taridx/internal/tarerr"
)

// backing couples a block store (and optional shadow cache) with the
// tunables read from its master page. It is the B-tree's only path to
// disk; every node holds a pointer to the same backing.
type backing struct {
	store *block.Store
	cache *block.Cache // nil means every dirty node is written through immediately

	overwrite bool

	blockSize  int64
	maxItems   int64
	maxNameLen int64
	maxRecLen  int64
}

func (b *backing) readBlock(n int64) (block.NodeRecord, error) {
	if b.cache != nil {
		if rec, ok := b.cache.Get(n); ok {
			return rec, nil
		}
	}
	rec, err := b.store.ReadBlock(n)
	if err != nil {
		return block.NodeRecord{}, err
	}
	if b.cache != nil {
		if err := b.cache.Put(rec, false); err != nil {
			return block.NodeRecord{}, err
		}
	}
	return rec, nil
}

func (b *backing) setDirty(n *node) error {
	rec := n.toRecord()
	if b.cache != nil {
		return b.cache.Put(rec, true)
	}
	return b.store.WriteBlock(n.blockNo, rec)
}

func (b *backing) allocateBlock() int64 {
	return b.store.AllocateBlock()
}

// item is one (key, payload) pair. offset/size apply to leaf items;
// childBlock applies to internal items, where key is the separator: the
// smallest key reachable through that child.
type item struct {
	key        string
	offset     int64
	size       int64
	childBlock int64
}

// node is the in-memory shadow of one tree block, lazily materialized
// from disk. children mirrors items one-for-one for internal nodes and is
// nil for leaves; an unvisited child is represented by a nil entry until
// childAt first loads it.
type node struct {
	backing *backing
	parent  *node

	blockNo int64
	leaf    bool
	items   []item

	children []*node
}

func nodeFromRecord(b *backing, rec block.NodeRecord) *node {
	n := &node{backing: b, blockNo: rec.BlockNo, leaf: rec.Leaf}
	if rec.Leaf {
		n.items = make([]item, len(rec.LeafItems))
		for i, li := range rec.LeafItems {
			n.items[i] = item{key: li.Name, offset: li.Offset, size: li.Size}
		}
	} else {
		n.items = make([]item, len(rec.InternalItems))
		n.children = make([]*node, len(rec.InternalItems))
		for i, ii := range rec.InternalItems {
			n.items[i] = item{key: ii.Separator, childBlock: ii.ChildBlock}
		}
	}
	return n
}

func (n *node) toRecord() block.NodeRecord {
	rec := block.NodeRecord{BlockNo: n.blockNo, Leaf: n.leaf}
	if n.leaf {
		rec.LeafItems = make([]block.LeafItem, len(n.items))
		for i, it := range n.items {
			rec.LeafItems[i] = block.LeafItem{Name: it.key, Offset: it.offset, Size: it.size}
		}
	} else {
		rec.InternalItems = make([]block.InternalItem, len(n.items))
		for i, it := range n.items {
			rec.InternalItems[i] = block.InternalItem{Separator: it.key, ChildBlock: it.childBlock}
		}
	}
	return rec
}

func (n *node) findRoot() *node {
	p := n
	for p.parent != nil {
		p = p.parent
	}
	return p
}

// find returns the index of the first item whose key is > key (i.e. the
// insertion point, or the 1-based-minus-one child index to descend into).
// Lists shorter than 8 use linear search; longer ones use binary search.
func (n *node) find(key string) int {
	count := len(n.items)
	if count < 8 {
		for i := 0; i < count; i++ {
			if key < n.items[i].key {
				return i
			}
		}
		return count
	}

	a, b := -1, count
	for b-a > 1 {
		k := (a + b) / 2
		if key < n.items[k].key {
			b = k
		} else {
			a = k
		}
	}
	return b
}

func (n *node) childAt(idx int) (*node, error) {
	if n.children[idx] != nil {
		return n.children[idx], nil
	}
	rec, err := n.backing.readBlock(n.items[idx].childBlock)
	if err != nil {
		return nil, err
	}
	child := nodeFromRecord(n.backing, rec)
	child.parent = n
	n.children[idx] = child
	return child, nil
}

func insertItemAt(items []item, idx int, it item) []item {
	items = append(items, item{})
	copy(items[idx+1:], items[idx:])
	items[idx] = it
	return items
}

func insertChildAt(children []*node, idx int, c *node) []*node {
	children = append(children, nil)
	copy(children[idx+1:], children[idx:])
	children[idx] = c
	return children
}

// insert descends to the leaf owning key, inserts or overwrites it, and
// adjusts (splits) every node on the path back up whose footprint grew
// past budget. It returns the tree's current root, which may have changed
// if the root itself split.
func (n *node) insert(key string, offset, size int64) (*node, error) {
	idx := n.find(key)

	if n.leaf {
		dirty := []*node{n}
		overwrite := false

		if idx > 0 {
			if n.items[idx-1].key == key {
				if !n.backing.overwrite {
					return nil, fmt.Errorf("%s: %w", key, tarerr.ErrDuplicate)
				}
				overwrite = true
			}
		} else if len(n.items) > 0 {
			// The new key becomes this node's first item. Every ancestor
			// on the leftmost path down to n stores that same old
			// minimum as its own separator, so searching for the fixed
			// oldKey (not recomputed per level) finds the right slot to
			// rewrite at each level; keep walking up only while this
			// node was also the leftmost child at that level.
			p := n.parent
			oldKey := n.items[0].key
			for p != nil {
				idx2 := p.find(oldKey)
				p.items[idx2-1].key = key
				dirty = append(dirty, p)
				if idx2 != 1 {
					break
				}
				p = p.parent
			}
		}

		newItem := item{key: key, offset: offset, size: size}
		if overwrite {
			n.items[idx-1] = newItem
		} else {
			n.items = insertItemAt(n.items, idx, newItem)
		}

		for _, d := range dirty {
			if err := n.backing.setDirty(d); err != nil {
				return nil, err
			}
		}
	} else {
		if idx == 0 {
			idx = 1
		}
		child, err := n.childAt(idx - 1)
		if err != nil {
			return nil, err
		}
		if _, err := child.insert(key, offset, size); err != nil {
			return nil, err
		}
	}

	if err := n.adjust(); err != nil {
		return nil, err
	}
	return n.findRoot(), nil
}

// adjust splits n when it has reached maxitems or no longer has headroom
// for one more maximum-length record, then propagates the check upward.
func (n *node) adjust() error {
	freeSpace := n.backing.blockSize - int64(n.toRecord().StoreSize())
	if int64(len(n.items)) >= n.backing.maxItems || freeSpace < n.backing.maxRecLen {
		if err := n.split(); err != nil {
			return err
		}
		if n.parent != nil {
			return n.parent.adjust()
		}
	}
	return nil
}

// split halves n into itself (left) and a new right sibling, allocating a
// fresh block number for BOTH halves so that a concurrent reader walking
// the old block numbers still finds a consistent (if temporarily stale)
// tree. If n was the root, a new root is created above both halves;
// otherwise a separator for right is inserted into n's existing parent.
func (n *node) split() error {
	right := &node{backing: n.backing, leaf: n.leaf}

	count := len(n.items)
	mid := count / 2
	right.items = append([]item(nil), n.items[mid:count]...)
	if !n.leaf {
		right.children = append([]*node(nil), n.children[mid:count]...)
		for _, c := range right.children {
			if c != nil {
				c.parent = right
			}
		}
	}

	oldSelfBlock := n.blockNo
	n.blockNo = n.backing.allocateBlock()
	right.blockNo = n.backing.allocateBlock()

	n.items = n.items[:mid]
	if !n.leaf {
		n.children = n.children[:mid]
	}

	if n.parent == nil {
		if oldSelfBlock != 1 {
			return fmt.Errorf("split of block %d: %w: root must be block 1", oldSelfBlock, tarerr.ErrStructuralCorruption)
		}
		root := &node{
			backing: n.backing,
			leaf:    false,
			blockNo: 1,
			items: []item{
				{key: n.items[0].key, childBlock: n.blockNo},
				{key: right.items[0].key, childBlock: right.blockNo},
			},
			children: []*node{n, right},
		}
		n.parent = root
		right.parent = root
	} else {
		idx := n.parent.find(right.items[0].key)
		// n keeps its slot (idx-1) in the parent but now lives in a fresh block.
		n.parent.items[idx-1].childBlock = n.blockNo
		sep := item{key: right.items[0].key, childBlock: right.blockNo}
		n.parent.items = insertItemAt(n.parent.items, idx, sep)
		n.parent.children = insertChildAt(n.parent.children, idx, right)
		right.parent = n.parent
	}

	if err := n.backing.setDirty(n); err != nil {
		return err
	}
	if err := n.backing.setDirty(right); err != nil {
		return err
	}
	return n.backing.setDirty(n.parent)
}

func (n *node) lookup(key string) (int64, int64, error) {
	idx := n.find(key)
	if idx <= 0 {
		return 0, 0, fmt.Errorf("%s: %w", key, tarerr.ErrNotFound)
	}
	if n.leaf {
		it := n.items[idx-1]
		if it.key != key {
			return 0, 0, fmt.Errorf("%s: %w", key, tarerr.ErrNotFound)
		}
		return it.offset, it.size, nil
	}
	child, err := n.childAt(idx - 1)
	if err != nil {
		return 0, 0, err
	}
	return child.lookup(key)
}

func (n *node) last() (string, int64, int64, error) {
	p := n
	for !p.leaf {
		if len(p.items) == 0 {
			return "", 0, 0, fmt.Errorf("internal block %d: %w: no items", p.blockNo, tarerr.ErrStructuralCorruption)
		}
		child, err := p.childAt(len(p.items) - 1)
		if err != nil {
			return "", 0, 0, err
		}
		p = child
	}
	if len(p.items) == 0 {
		return "", 0, 0, fmt.Errorf("%w: tree is empty", tarerr.ErrNotFound)
	}
	it := p.items[len(p.items)-1]
	return it.key, it.offset, it.size, nil
}

// treeCheck verifies ordering within n, n's separator agreement with its
// parent, and (recursively) every subtree. When loadFromDisk is true,
// every unvisited child is paged in first, so the check covers the whole
// tree rather than just what happens to be resident in memory; nodes that
// are already resident are checked as held in memory, not re-read.
func (n *node) treeCheck(level int, loadFromDisk bool) error {
	for i := 1; i < len(n.items); i++ {
		if n.items[i-1].key >= n.items[i].key {
			return fmt.Errorf("level %d block %d: %w: items out of order", level, n.blockNo, tarerr.ErrStructuralCorruption)
		}
	}

	if n.parent != nil {
		idx := n.parent.find(n.items[0].key)
		if n.parent.items[idx-1].key != n.items[0].key {
			return fmt.Errorf("level %d block %d: %w: parent separator mismatch", level, n.blockNo, tarerr.ErrStructuralCorruption)
		}
		if idx < len(n.parent.items) && n.items[len(n.items)-1].key >= n.parent.items[idx].key {
			return fmt.Errorf("level %d block %d: %w: item exceeds next separator", level, n.blockNo, tarerr.ErrStructuralCorruption)
		}
		if n.parent.children[idx-1] != n {
			return fmt.Errorf("level %d block %d: %w: parent child pointer mismatch", level, n.blockNo, tarerr.ErrStructuralCorruption)
		}
	}

	if !n.leaf {
		if loadFromDisk {
			for i := range n.items {
				if n.children[i] == nil {
					if _, err := n.childAt(i); err != nil {
						return err
					}
				}
			}
		}
		for _, c := range n.children {
			if c != nil {
				if err := c.treeCheck(level+1, loadFromDisk); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
