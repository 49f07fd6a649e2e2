package block

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/blocktar/taridx/internal/tarerr"
)

// masterBlockSize is the fixed size of the master page, independent of the
// data blocksize chosen for a given store.
const masterBlockSize = 512

// Store is a paged file divided into fixed-size blocks. Every logical
// block number B >= 1 is backed by two physical slots -- at block-unit
// offsets 2B-1 and 2B -- so a torn write to one copy is recoverable from
// the other. Block unit 0 holds the master page (padded out to one full
// blocksize-sized unit).
type Store struct {
	mu       sync.RWMutex
	f        *os.File
	readOnly bool

	Master MasterRecord

	lastBlock int64 // highest logical block number materialized on disk
	freeBlock int64 // next logical block number AllocateBlock will hand out
}

// Create initializes a new block store file: a master page followed by
// two identical copies of an empty leaf root at logical block 1.
func Create(path string, m MasterRecord) (*Store, error) {
	if masterBlockSize > m.BlockSize {
		return nil, fmt.Errorf("block: blocksize %d smaller than master block size %d", m.BlockSize, masterBlockSize)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("block: create %s: %w", path, err)
	}

	masterPage, err := encodePage(masterBlockSize, encodeMaster(m))
	if err != nil {
		f.Close()
		return nil, err
	}
	unit := make([]byte, m.BlockSize)
	copy(unit, masterPage)
	if _, err := f.WriteAt(unit, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("block: write master page: %w", err)
	}

	root := NodeRecord{BlockNo: 1, SeqNo: 1, Leaf: true}
	rootPage, err := encodePage(int(m.BlockSize), encodeNode(root))
	if err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.WriteAt(rootPage, m.BlockSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("block: write root slot 1: %w", err)
	}
	if _, err := f.WriteAt(rootPage, 2*m.BlockSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("block: write root slot 2: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, fmt.Errorf("block: sync after create: %w", err)
	}

	return &Store{f: f, Master: m, lastBlock: 1, freeBlock: 2}, nil
}

// Open opens an existing block store file for reading (readOnly) or
// reading and appending.
func Open(path string, readOnly bool) (*Store, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("block: open %s: %w", path, err)
	}

	masterBuf := make([]byte, masterBlockSize)
	if _, err := f.ReadAt(masterBuf, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("block: read master page of %s: %w", path, err)
	}
	payload, valid := decodePage(masterBuf)
	if !valid {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, tarerr.ErrMasterInvalid)
	}
	m, err := parseMaster(payload)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w: %v", path, tarerr.ErrMasterInvalid, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("block: stat %s: %w", path, err)
	}
	size := info.Size()
	if size%m.BlockSize != 0 {
		f.Close()
		return nil, fmt.Errorf("block: size of %s (%d) is not a multiple of blocksize %d", path, size, m.BlockSize)
	}
	freeUnit := size / m.BlockSize
	lastBlock := (freeUnit - 1) / 2

	return &Store{
		f:         f,
		readOnly:  readOnly,
		Master:    m,
		lastBlock: lastBlock,
		freeBlock: lastBlock + 1,
	}, nil
}

// Close closes the underlying file.
func (s *Store) Close() error {
	return s.f.Close()
}

func (s *Store) readSlot(unit int64) (NodeRecord, bool) {
	buf := make([]byte, s.Master.BlockSize)
	n, err := s.f.ReadAt(buf, unit*s.Master.BlockSize)
	if err != nil && n < len(buf) {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return NodeRecord{}, false
		}
		return NodeRecord{}, false
	}
	payload, valid := decodePage(buf)
	if !valid {
		return NodeRecord{}, false
	}
	rec, err := parseNode(payload)
	if err != nil {
		return NodeRecord{}, false
	}
	return rec, true
}

// ReadBlock returns the parsed payload of the higher-seqno valid slot for
// logical block n.
func (s *Store) ReadBlock(n int64) (NodeRecord, error) {
	if n <= 0 {
		return NodeRecord{}, fmt.Errorf("block: invalid block number %d", n)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	r1, v1 := s.readSlot(2*n - 1)
	r2, v2 := s.readSlot(2 * n)

	var winner NodeRecord
	switch {
	case v1 && v2:
		if r1.SeqNo >= r2.SeqNo {
			winner = r1
		} else {
			winner = r2
		}
	case v1:
		winner = r1
	case v2:
		winner = r2
	default:
		return NodeRecord{}, fmt.Errorf("block %d: %w", n, tarerr.ErrBlockInvalid)
	}

	if winner.BlockNo != n || winner.SeqNo <= 0 {
		return NodeRecord{}, fmt.Errorf(
			"block %d reports blockno=%d seqno=%d: %w", n, winner.BlockNo, winner.SeqNo, tarerr.ErrStructuralCorruption,
		)
	}
	return winner, nil
}

// WriteBlock writes rec as logical block n. If n is already materialized,
// the current loser slot is overwritten with seqno+1 and fsynced, leaving
// the old winner as fallback until that fsync completes. If n is exactly
// one past the current last block, both slots are written with seqno 1,
// extending the file. Any other n is out of range.
func (s *Store) WriteBlock(n int64, rec NodeRecord) error {
	if s.readOnly {
		return fmt.Errorf("block: write to read-only store")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec.BlockNo = n

	switch {
	case n == s.lastBlock+1:
		rec.SeqNo = 1
		page, err := encodePage(int(s.Master.BlockSize), encodeNode(rec))
		if err != nil {
			return err
		}
		if _, err := s.f.WriteAt(page, (2*n-1)*s.Master.BlockSize); err != nil {
			return fmt.Errorf("block: write block %d slot 1: %w", n, err)
		}
		if _, err := s.f.WriteAt(page, (2*n)*s.Master.BlockSize); err != nil {
			return fmt.Errorf("block: write block %d slot 2: %w", n, err)
		}
		if err := s.f.Sync(); err != nil {
			return fmt.Errorf("block: sync block %d: %w", n, err)
		}
		s.lastBlock = n
		return nil

	case n <= s.lastBlock:
		r1, v1 := s.readSlot(2*n - 1)
		r2, v2 := s.readSlot(2 * n)

		var curSeq, loserUnit int64
		switch {
		case v1 && v2:
			if r1.SeqNo >= r2.SeqNo {
				curSeq, loserUnit = r1.SeqNo, 2*n
			} else {
				curSeq, loserUnit = r2.SeqNo, 2*n-1
			}
		case v1:
			curSeq, loserUnit = r1.SeqNo, 2*n
		case v2:
			curSeq, loserUnit = r2.SeqNo, 2*n-1
		default:
			return fmt.Errorf("block %d: %w", n, tarerr.ErrBlockInvalid)
		}

		rec.SeqNo = curSeq + 1
		page, err := encodePage(int(s.Master.BlockSize), encodeNode(rec))
		if err != nil {
			return err
		}
		if _, err := s.f.WriteAt(page, loserUnit*s.Master.BlockSize); err != nil {
			return fmt.Errorf("block: write block %d: %w", n, err)
		}
		return s.f.Sync()

	default:
		return fmt.Errorf("block %d beyond free block %d: %w", n, s.lastBlock+1, tarerr.ErrWriteOutOfRange)
	}
}

// AllocateBlock returns the next free logical block number. The block is
// not materialized on disk until its first WriteBlock.
func (s *Store) AllocateBlock() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.freeBlock
	s.freeBlock++
	return n
}
