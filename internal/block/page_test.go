package block

import (
	"bytes"
	"testing"
)

func TestEncodeDecodePageRoundTrip(t *testing.T) {
	payload := []byte("blockno = 1\nseqno = 1\nleaf = 1\nitems = {\n}\nend\n")
	page, err := encodePage(256, payload)
	if err != nil {
		t.Fatalf("encodePage: %v", err)
	}
	if len(page) != 256 {
		t.Fatalf("page length = %d, want 256", len(page))
	}

	got, valid := decodePage(page)
	if !valid {
		t.Fatal("decodePage reported an invalid page right after encoding it")
	}
	if !bytes.HasPrefix(got, payload) {
		t.Fatalf("decoded payload = %q, want prefix %q", got, payload)
	}
}

func TestDecodePageRejectsCorruption(t *testing.T) {
	payload := []byte("blockno = 1\nseqno = 1\nleaf = 1\nitems = {\n}\nend\n")
	page, err := encodePage(256, payload)
	if err != nil {
		t.Fatalf("encodePage: %v", err)
	}

	page[DataOffset] ^= 0xff
	if _, valid := decodePage(page); valid {
		t.Fatal("decodePage accepted a page with a flipped payload byte")
	}
}

func TestEncodePageRejectsOversizedPayload(t *testing.T) {
	payload := make([]byte, 300)
	if _, err := encodePage(256, payload); err == nil {
		t.Fatal("encodePage accepted a payload larger than the page")
	}
}
