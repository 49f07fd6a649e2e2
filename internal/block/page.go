// Package block implements the on-disk block store: fixed-size,
// self-hashing, duplicated pages that back the B-tree above it.
//
// A page is laid out as:
//
//	offset 0..6   literal "hash = "
//	offset 7..70  64 ASCII hex digits (SHA-256 of the page with this
//	              range blanked to spaces)
//	offset 71     '\n'
//	offset 72..   payload text, terminated by a line "end\n"
//	remainder     NUL padding to the page size
//
// A page is valid iff recomputing SHA-256 over it with the hash field
// blanked matches the stored hex digest.
package block

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const (
	headerPrefix = "hash = "
	hashHexLen   = sha256.Size * 2

	// hashOffset is where the hex digest begins (byte 7).
	hashOffset = len(headerPrefix)

	// DataOffset is where payload text begins (byte 72): the header
	// line "hash = " + 64 hex digits + '\n'.
	DataOffset = hashOffset + hashHexLen + 1
)

// encodePage renders a complete page of exactly size bytes: the hash
// header, the given payload (which must already end in "end\n"), and NUL
// padding out to size. size must be at least DataOffset+len(payload).
func encodePage(size int, payload []byte) ([]byte, error) {
	if DataOffset+len(payload) > size {
		return nil, fmt.Errorf("block: payload of %d bytes does not fit in a %d byte page", len(payload), size)
	}
	buf := make([]byte, size)
	copy(buf, headerPrefix)
	for i := 0; i < hashHexLen; i++ {
		buf[hashOffset+i] = ' '
	}
	buf[hashOffset+hashHexLen] = '\n'
	copy(buf[DataOffset:], payload)

	sum := sha256.Sum256(buf)
	hex.Encode(buf[hashOffset:hashOffset+hashHexLen], sum[:])
	return buf, nil
}

// decodePage validates a page's hash and, if valid, returns the payload
// region (DataOffset through the page's end, still NUL-padded; callers
// parse up to the "end\n" line themselves).
func decodePage(data []byte) (payload []byte, valid bool) {
	if len(data) < DataOffset {
		return nil, false
	}

	work := make([]byte, len(data))
	copy(work, data)

	stored := make([]byte, hashHexLen)
	copy(stored, work[hashOffset:hashOffset+hashHexLen])
	for i := 0; i < hashHexLen; i++ {
		work[hashOffset+i] = ' '
	}

	sum := sha256.Sum256(work)
	var computed [hashHexLen]byte
	hex.Encode(computed[:], sum[:])

	if !bytes.Equal(stored, computed[:]) {
		return nil, false
	}
	return data[DataOffset:], true
}
