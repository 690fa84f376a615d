// Package hash provides Forge's content-hashing primitives: streaming BLAKE3
// of files and byte buffers, and a stable digest over structured records.
//
// This mirrors the teacher's internal/core/hasher.go (ComputeHash) and
// internal/dag/taskdef_hash.go (computeTaskDefHash), generalized into a
// standalone, reusable hasher shared by the CAS, the cache index, and the
// fingerprint engine.
package hash

import (
	"encoding/binary"
	"encoding/hex"
	"io"
	"os"

	"github.com/zeebo/blake3"

	"github.com/forgebuild/forge/internal/forgeerr"
)

// Sum is a 32-byte BLAKE3 digest, rendered in lowercase hex for filesystem
// use (§3 ContentHash).
type Sum [32]byte

// String renders the digest as lowercase hex.
func (s Sum) String() string { return hex.EncodeToString(s[:]) }

// IsZero reports whether s is the zero digest (never a valid hash output,
// used as a sentinel for "not computed").
func (s Sum) IsZero() bool { return s == Sum{} }

// ParseSum parses a lowercase hex digest produced by Sum.String.
func ParseSum(hexStr string) (Sum, error) {
	var s Sum
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return s, forgeerr.New(forgeerr.KindIO, "", "parsing content hash %q: %v", hexStr, err)
	}
	if len(b) != len(s) {
		return s, forgeerr.New(forgeerr.KindIO, "", "content hash %q has wrong length %d", hexStr, len(b))
	}
	copy(s[:], b)
	return s, nil
}

// chunkSize is the minimum streaming read size per §4.1 ("at least 64 KiB").
const chunkSize = 64 * 1024

// File streams the content of path through BLAKE3 in chunkSize reads.
func File(path string) (Sum, error) {
	f, err := os.Open(path)
	if err != nil {
		return Sum{}, forgeerr.New(forgeerr.KindIO, "", "hashing %q: %v", path, err)
	}
	defer f.Close()

	h := blake3.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return Sum{}, forgeerr.New(forgeerr.KindIO, "", "hashing %q: %v", path, err)
	}

	var out Sum
	copy(out[:], h.Sum(nil))
	return out, nil
}

// Bytes hashes an in-memory buffer.
func Bytes(b []byte) Sum {
	h := blake3.New()
	h.Write(b)
	var out Sum
	copy(out[:], h.Sum(nil))
	return out
}

// Record computes a digest over a canonical encoding of fields: each field
// is an 8-byte little-endian length prefix followed by its bytes, producing
// a collision-resistant, order-sensitive digest over the field sequence.
//
// This is the generalized form of the teacher's writeField helper, lifted
// out of hasher.go/taskdef_hash.go into a single reusable primitive so every
// component that needs a structured digest (CAS naming aside) uses the same
// encoding.
func Record(fields ...[]byte) Sum {
	h := blake3.New()
	var lenBuf [8]byte
	for _, f := range fields {
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(f)))
		h.Write(lenBuf[:])
		h.Write(f)
	}
	var out Sum
	copy(out[:], h.Sum(nil))
	return out
}

// Field is a convenience wrapper turning a string into the []byte form
// Record expects, kept separate so callers can't accidentally pass an
// unprefixed buffer and silently break field separation.
func Field(s string) []byte { return []byte(s) }
