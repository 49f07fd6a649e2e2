package index

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/blocktar/taridx/internal/escape"
	"github.com/blocktar/taridx/internal/tarerr"
)

// TailLog is the append-only sibling of the B-tree: one line per insert,
// "name,offset,size\n" with name comma/backslash escaped. It exists
// because finding "the last member added" by walking the tree is
// expensive, while the tail of an append-only file is cheap to read even
// while concurrent readers hold it open.
type TailLog struct {
	f         *os.File
	readOnly  bool
	maxRecLen int64
}

// OpenTailLog opens (creating if necessary and writable) the tail log at
// path. maxRecLen bounds how far from the end of file Last needs to seek.
func OpenTailLog(path string, readOnly bool, maxRecLen int64) (*TailLog, error) {
	flag := os.O_RDONLY
	if !readOnly {
		flag = os.O_RDWR | os.O_CREATE | os.O_APPEND
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("index: open tail log %s: %w", path, err)
	}
	return &TailLog{f: f, readOnly: readOnly, maxRecLen: maxRecLen}, nil
}

// Close closes the underlying file.
func (t *TailLog) Close() error {
	return t.f.Close()
}

// Append writes one record and fsyncs it before returning, so a crash
// right after Append cannot leave the log ahead of what's durable.
func (t *TailLog) Append(name string, offset, size int64) error {
	if t.readOnly {
		return fmt.Errorf("index: append to read-only tail log")
	}
	line := fmt.Sprintf("%s,%d,%d\n", escape.Escape(name), offset, size)
	if _, err := t.f.Write([]byte(line)); err != nil {
		return fmt.Errorf("index: append to tail log: %w", err)
	}
	return t.f.Sync()
}

// Last returns the name, offset and size from the final record in the
// log. It seeks back only 2*maxRecLen+1 bytes rather than reading the
// whole file, and if the very last line fails to parse -- because a
// concurrent writer's append was caught mid-write -- falls back to the
// second-to-last line. tarerr.ErrNotFound is returned for an empty log.
func (t *TailLog) Last() (name string, offset, size int64, err error) {
	info, err := t.f.Stat()
	if err != nil {
		return "", 0, 0, fmt.Errorf("index: stat tail log: %w", err)
	}
	fileSize := info.Size()
	if fileSize == 0 {
		return "", 0, 0, tarerr.ErrNotFound
	}

	want := 2*t.maxRecLen + 1
	start := fileSize - want
	if start < 0 {
		start = 0
	}
	buf := make([]byte, fileSize-start)
	if _, err := t.f.ReadAt(buf, start); err != nil {
		return "", 0, 0, fmt.Errorf("index: read tail of log: %w", err)
	}

	lines := splitLogLines(buf)
	for _, idx := range []int{len(lines) - 1, len(lines) - 2} {
		if idx < 0 {
			continue
		}
		fields := escape.SplitEscaped(lines[idx])
		if len(fields) != 3 {
			continue
		}
		off, errOff := strconv.ParseInt(fields[1], 10, 64)
		sz, errSize := strconv.ParseInt(fields[2], 10, 64)
		if errOff != nil || errSize != nil {
			continue
		}
		return fields[0], off, sz, nil
	}

	return "", 0, 0, fmt.Errorf("index: could not parse trailing lines of tail log: %w", tarerr.ErrStructuralCorruption)
}

// splitLogLines splits on '\n' and drops the trailing empty element left
// by a file that (as it always should) ends in a newline.
func splitLogLines(buf []byte) []string {
	lines := strings.Split(string(buf), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
