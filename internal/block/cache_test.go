package block

import (
	"path/filepath"
	"testing"
)

func TestCacheWriteThroughFlushesImmediately(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx.pytree")
	s, err := Create(path, Defaults())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer s.Close()

	c := NewCache(s, 0, false)
	rec := NodeRecord{BlockNo: 1, Leaf: true, LeafItems: []LeafItem{{Name: "a", Offset: 0, Size: 1}}}
	if err := c.Put(rec, true); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.ReadBlock(1)
	if err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	if got.NumItems() != 1 {
		t.Fatalf("ReadBlock = %+v, want the write-through leaf", got)
	}
}

func TestCacheWriteBackRequiresFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx.pytree")
	s, err := Create(path, Defaults())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer s.Close()

	c := NewCache(s, 0, true)
	rec := NodeRecord{BlockNo: 1, Leaf: true, LeafItems: []LeafItem{{Name: "a", Offset: 0, Size: 1}}}
	if err := c.Put(rec, true); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.ReadBlock(1)
	if err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	if got.NumItems() != 0 {
		t.Fatalf("write-back Put reached the store before Flush: %+v", got)
	}

	if err := c.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	got, err = s.ReadBlock(1)
	if err != nil {
		t.Fatalf("ReadBlock after Flush: %v", err)
	}
	if got.NumItems() != 1 {
		t.Fatalf("ReadBlock after Flush = %+v, want the dirty leaf", got)
	}
	if _, ok := c.Get(1); ok {
		t.Fatal("Flush should empty the cache")
	}
}

func TestCacheFlushWritesFreshBlocksInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx.pytree")
	s, err := Create(path, Defaults())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer s.Close()

	// Accumulate three never-materialized blocks in write-back mode; Flush
	// must extend the file one block at a time regardless of map order.
	c := NewCache(s, 0, true)
	for i := 0; i < 3; i++ {
		n := s.AllocateBlock()
		if err := c.Put(NodeRecord{BlockNo: n, Leaf: true}, true); err != nil {
			t.Fatalf("Put(%d): %v", n, err)
		}
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	for n := int64(2); n <= 4; n++ {
		if _, err := s.ReadBlock(n); err != nil {
			t.Fatalf("ReadBlock(%d) after Flush: %v", n, err)
		}
	}
}

func TestCacheGetReturnsShadowWithoutStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx.pytree")
	s, err := Create(path, Defaults())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer s.Close()

	c := NewCache(s, 0, false)
	if _, ok := c.Get(1); ok {
		t.Fatal("Get found an entry before any Put")
	}

	rec := NodeRecord{BlockNo: 1, Leaf: true}
	if err := c.Put(rec, false); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok := c.Get(1); !ok {
		t.Fatal("Get missed a clean shadow entry that was just Put")
	}
}

func TestCacheEvictsLRUAndFlushesDirty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx.pytree")
	s, err := Create(path, Defaults())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer s.Close()
	for i := int64(2); i <= 3; i++ {
		if got := s.AllocateBlock(); got != i {
			t.Fatalf("AllocateBlock = %d, want %d", got, i)
		}
		if err := s.WriteBlock(i, NodeRecord{BlockNo: i, Leaf: true}); err != nil {
			t.Fatalf("WriteBlock(%d): %v", i, err)
		}
	}

	c := NewCache(s, 2, true)
	if err := c.Put(NodeRecord{BlockNo: 1, Leaf: true, LeafItems: []LeafItem{{Name: "a", Offset: 0, Size: 1}}}, true); err != nil {
		t.Fatalf("Put(1): %v", err)
	}
	if err := c.Put(NodeRecord{BlockNo: 2, Leaf: true}, false); err != nil {
		t.Fatalf("Put(2): %v", err)
	}
	// Capacity is 2; inserting a third distinct block evicts the LRU
	// entry (block 1, still dirty) and must flush it to the store first.
	if err := c.Put(NodeRecord{BlockNo: 3, Leaf: true}, false); err != nil {
		t.Fatalf("Put(3): %v", err)
	}

	if _, ok := c.Get(1); ok {
		t.Fatal("block 1 should have been evicted")
	}
	got, err := s.ReadBlock(1)
	if err != nil {
		t.Fatalf("ReadBlock(1) after eviction: %v", err)
	}
	if got.NumItems() != 1 {
		t.Fatalf("ReadBlock(1) = %+v, eviction did not flush the dirty shadow", got)
	}
}
