// Package fingerprint computes the digests the daemon uses to decide whether
// a rebuild is needed.
//
// Two digests are produced:
//
//  1. Options: compile options plus output settings, canonically encoded with
//     deterministic CBOR and hashed with BLAKE3
//  2. Source: the ordered (path, content hash) pairs of every file the
//     backend could read, hashed with BLAKE3
//
// File contents are hashed with XXH3-128. A Scanner reuses a file's previous
// content hash while its size and modification time are unchanged.
package fingerprint

import "encoding/hex"

// Digest is a 32-byte BLAKE3 digest
type Digest [32]byte

// String returns the hex encoding
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Short returns the first 12 hex characters, for log output
func (d Digest) Short() string {
	return d.String()[:12]
}
