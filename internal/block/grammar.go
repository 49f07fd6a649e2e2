package block

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/blocktar/taridx/internal/escape"
)

// payloadWriter builds the line-oriented ASCII grammar used by every block
// payload: lines of "key = <int>" or "key = {" followed by one escaped,
// comma-delimited row per line and a closing "}" line, terminated overall
// by a line "end".
type payloadWriter struct {
	b strings.Builder
}

func (w *payloadWriter) Int(key string, v int64) {
	fmt.Fprintf(&w.b, "%s = %d\n", key, v)
}

func (w *payloadWriter) List(key string, rows [][]string) {
	fmt.Fprintf(&w.b, "%s = {\n", key)
	for _, row := range rows {
		cols := make([]string, len(row))
		for i, c := range row {
			cols[i] = escape.Escape(c)
		}
		w.b.WriteString(strings.Join(cols, ","))
		w.b.WriteByte('\n')
	}
	w.b.WriteString("}\n")
}

// Bytes terminates the payload with "end\n" and returns it.
func (w *payloadWriter) Bytes() []byte {
	w.b.WriteString("end\n")
	return []byte(w.b.String())
}

// fields is the parsed form of a payload: scalar integer fields and list
// fields (each row already split into unescaped columns).
type fields struct {
	ints  map[string]int64
	lists map[string][][]string
}

// parsePayload reads lines until "end", recognizing "key = <int>" and
// "key = {"..."}" list blocks. Parsing never reads past the page's true
// payload length because "end" always terminates it before the NUL
// padding is reached.
func parsePayload(payload []byte) (fields, error) {
	lines := strings.Split(string(payload), "\n")
	f := fields{ints: map[string]int64{}, lists: map[string][][]string{}}

	i := 0
	for i < len(lines) {
		line := lines[i]
		if line == "end" {
			return f, nil
		}
		if line == "" {
			i++
			continue
		}

		key, rhs, ok := strings.Cut(line, " = ")
		if !ok {
			return fields{}, fmt.Errorf("block: malformed line %q", line)
		}

		if rhs == "{" {
			var rows [][]string
			i++
			for i < len(lines) && lines[i] != "}" {
				rows = append(rows, escape.SplitEscaped(lines[i]))
				i++
			}
			if i >= len(lines) {
				return fields{}, fmt.Errorf("block: unterminated list field %q", key)
			}
			f.lists[key] = rows
		} else {
			n, err := strconv.ParseInt(rhs, 10, 64)
			if err != nil {
				return fields{}, fmt.Errorf("block: field %q is not an integer: %w", key, err)
			}
			f.ints[key] = n
		}
		i++
	}

	return fields{}, fmt.Errorf("block: payload missing \"end\" terminator")
}
