package block

import (
	"fmt"
	"strconv"
)

// MasterRecord holds the immutable parameters recorded on the master page
// at block creation time. They bound every later decision: page size,
// the maximum number of items a node may hold, and the name/record length
// budgets used to reserve headroom before a node is considered full.
type MasterRecord struct {
	BlockSize  int64
	MaxItems   int64
	MaxNameLen int64
	MaxRecLen  int64
}

// Defaults returns the section-6 defaults: blocksize 1024, maxitems 100,
// maxnamelen 160, maxreclen 193 (maxnamelen+33).
func Defaults() MasterRecord {
	const maxNameLen = 160
	return MasterRecord{
		BlockSize:  1024,
		MaxItems:   100,
		MaxNameLen: maxNameLen,
		MaxRecLen:  maxNameLen + 33,
	}
}

func encodeMaster(m MasterRecord) []byte {
	w := &payloadWriter{}
	w.Int("blocksize", m.BlockSize)
	w.Int("maxitems", m.MaxItems)
	w.Int("maxnamelen", m.MaxNameLen)
	w.Int("maxreclen", m.MaxRecLen)
	return w.Bytes()
}

func parseMaster(payload []byte) (MasterRecord, error) {
	f, err := parsePayload(payload)
	if err != nil {
		return MasterRecord{}, err
	}
	m := MasterRecord{
		BlockSize:  f.ints["blocksize"],
		MaxItems:   f.ints["maxitems"],
		MaxNameLen: f.ints["maxnamelen"],
		MaxRecLen:  f.ints["maxreclen"],
	}
	if m.BlockSize <= 0 || m.MaxItems <= 0 || m.MaxNameLen <= 0 || m.MaxRecLen <= 0 {
		return MasterRecord{}, fmt.Errorf("block: master record missing required field")
	}
	return m, nil
}

// LeafItem is a leaf node record: a member name and its location in the
// tar archive.
type LeafItem struct {
	Name   string
	Offset int64
	Size   int64
}

// InternalItem is an internal node record: the smallest key reachable
// through ChildBlock (the separator), and the child's logical block number.
type InternalItem struct {
	Separator  string
	ChildBlock int64
}

// NodeRecord is the decoded form of a tree node page.
type NodeRecord struct {
	BlockNo int64
	SeqNo   int64
	Leaf    bool

	LeafItems     []LeafItem     // populated iff Leaf
	InternalItems []InternalItem // populated iff !Leaf
}

// NumItems returns len(LeafItems) or len(InternalItems), whichever applies.
func (n NodeRecord) NumItems() int {
	if n.Leaf {
		return len(n.LeafItems)
	}
	return len(n.InternalItems)
}

func leafBit(leaf bool) int64 {
	if leaf {
		return 1
	}
	return 0
}

// encodeNodeBody serializes the node. When includeSeqNo is false the
// "seqno" field is omitted entirely -- this is how StoreSize must compute
// a node's footprint, because seqno is assigned at write time and its
// decimal width would otherwise make size budgeting depend on write
// history.
func encodeNodeBody(n NodeRecord, includeSeqNo bool) []byte {
	w := &payloadWriter{}
	w.Int("blockno", n.BlockNo)
	w.Int("leaf", leafBit(n.Leaf))
	if includeSeqNo {
		w.Int("seqno", n.SeqNo)
	}
	if n.Leaf {
		rows := make([][]string, len(n.LeafItems))
		for i, it := range n.LeafItems {
			rows[i] = []string{it.Name, strconv.FormatInt(it.Offset, 10), strconv.FormatInt(it.Size, 10)}
		}
		w.List("items", rows)
	} else {
		rows := make([][]string, len(n.InternalItems))
		for i, it := range n.InternalItems {
			rows[i] = []string{it.Separator, strconv.FormatInt(it.ChildBlock, 10)}
		}
		w.List("items", rows)
	}
	return w.Bytes()
}

// StoreSize is DataOffset + len(serialize({leaf, blockno, items})), the
// quantity the B-tree budgets splits against. It intentionally excludes
// seqno; see encodeNodeBody.
func (n NodeRecord) StoreSize() int {
	return DataOffset + len(encodeNodeBody(n, false))
}

func encodeNode(n NodeRecord) []byte {
	return encodeNodeBody(n, true)
}

func parseNode(payload []byte) (NodeRecord, error) {
	f, err := parsePayload(payload)
	if err != nil {
		return NodeRecord{}, err
	}

	blockNo, ok := f.ints["blockno"]
	if !ok {
		return NodeRecord{}, fmt.Errorf("block: node record missing blockno")
	}
	seqNo, ok := f.ints["seqno"]
	if !ok {
		return NodeRecord{}, fmt.Errorf("block: node record missing seqno")
	}
	leafVal, ok := f.ints["leaf"]
	if !ok {
		return NodeRecord{}, fmt.Errorf("block: node record missing leaf flag")
	}

	n := NodeRecord{BlockNo: blockNo, SeqNo: seqNo, Leaf: leafVal != 0}
	rows := f.lists["items"]

	if n.Leaf {
		n.LeafItems = make([]LeafItem, len(rows))
		for i, row := range rows {
			if len(row) != 3 {
				return NodeRecord{}, fmt.Errorf("block: leaf item %d has %d columns, want 3", i, len(row))
			}
			offset, err := strconv.ParseInt(row[1], 10, 64)
			if err != nil {
				return NodeRecord{}, fmt.Errorf("block: leaf item %d offset: %w", i, err)
			}
			size, err := strconv.ParseInt(row[2], 10, 64)
			if err != nil {
				return NodeRecord{}, fmt.Errorf("block: leaf item %d size: %w", i, err)
			}
			n.LeafItems[i] = LeafItem{Name: row[0], Offset: offset, Size: size}
		}
	} else {
		n.InternalItems = make([]InternalItem, len(rows))
		for i, row := range rows {
			if len(row) != 2 {
				return NodeRecord{}, fmt.Errorf("block: internal item %d has %d columns, want 2", i, len(row))
			}
			child, err := strconv.ParseInt(row[1], 10, 64)
			if err != nil {
				return NodeRecord{}, fmt.Errorf("block: internal item %d child block: %w", i, err)
			}
			n.InternalItems[i] = InternalItem{Separator: row[0], ChildBlock: child}
		}
	}

	return n, nil
}
