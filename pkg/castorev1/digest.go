// Package castorev1 implements the content-addressed data model shared by
// all tvix store backends: blobs, Merkle directories and the node union
// that ties them together.
package castorev1

import (
	"fmt"

	"github.com/nix-community/go-nix/pkg/nixbase32"
	"lukechampine.com/blake3"
)

// DigestSize is the length in bytes of a BLAKE3 digest as used throughout
// castore: the identity of both blobs and directories.
const DigestSize = 32

// Digest is a 32-byte BLAKE3 hash, identifying a Blob or a Directory.
type Digest [DigestSize]byte

// BlobDigest returns the Digest of b, i.e. blake3(b).
func BlobDigest(b []byte) Digest {
	var d Digest
	sum := blake3.Sum256(b)
	copy(d[:], sum[:])
	return d
}

// ParseDigest validates that b is exactly DigestSize bytes and returns it as
// a Digest. The bytes are copied into the returned array, so later changes
// to b do not affect it.
func ParseDigest(b []byte) (Digest, error) {
	var d Digest
	if len(b) != DigestSize {
		return d, fmt.Errorf("invalid digest length: expected %d, got %d", DigestSize, len(b))
	}
	copy(d[:], b)
	return d, nil
}

// Bytes returns the raw 32 bytes of the digest.
func (d Digest) Bytes() []byte {
	out := make([]byte, DigestSize)
	copy(out, d[:])
	return out
}

// String renders the digest in unpadded base32, the form used throughout
// Nix store paths and narinfo fields.
func (d Digest) String() string {
	return nixbase32.EncodeToString(d[:])
}

// SRIString renders the digest in BLAKE3 SRI form, e.g. "blake3-<base64>".
func (d Digest) SRIString() string {
	return "blake3-" + sriBase64(d[:])
}

func (d Digest) IsZero() bool {
	return d == Digest{}
}
