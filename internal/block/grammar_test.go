package block

import "testing"

func TestPayloadWriterAndParserRoundTrip(t *testing.T) {
	w := &payloadWriter{}
	w.Int("blocksize", 1024)
	w.List("items", [][]string{
		{"plain", "10", "20"},
		{"has,comma", "0", "5"},
		{`back\slash`, "1", "1"},
	})
	payload := w.Bytes()

	f, err := parsePayload(payload)
	if err != nil {
		t.Fatalf("parsePayload: %v", err)
	}
	if f.ints["blocksize"] != 1024 {
		t.Fatalf("blocksize = %d, want 1024", f.ints["blocksize"])
	}
	rows := f.lists["items"]
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	if rows[1][0] != "has,comma" {
		t.Fatalf("row 1 col 0 = %q, want %q", rows[1][0], "has,comma")
	}
	if rows[2][0] != `back\slash` {
		t.Fatalf("row 2 col 0 = %q, want %q", rows[2][0], `back\slash`)
	}
}

func TestParsePayloadMissingEnd(t *testing.T) {
	if _, err := parsePayload([]byte("blocksize = 1024\n")); err == nil {
		t.Fatal("parsePayload accepted a payload with no \"end\" terminator")
	}
}

func TestParsePayloadUnterminatedList(t *testing.T) {
	if _, err := parsePayload([]byte("items = {\nrow\nend\n")); err == nil {
		t.Fatal("parsePayload accepted a list field with no closing brace")
	}
}

func TestParsePayloadMalformedLine(t *testing.T) {
	if _, err := parsePayload([]byte("not a valid line\nend\n")); err == nil {
		t.Fatal("parsePayload accepted a line with no \" = \"")
	}
}
