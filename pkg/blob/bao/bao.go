// Package bao implements the verified-streaming metadata described in
// spec.md §3 ("BlobStat") and §4.1: a BLAKE3-keyed Merkle tree over a
// blob's logical chunks, letting a reader authenticate an arbitrary byte
// range against the tree's root hash without re-hashing the whole blob.
// That root is not the blob's BLAKE3 digest (see Tree).
//
// No outboard-tree (BAO) library is present anywhere in the example pack
// (see DESIGN.md); this is core domain algorithm called out explicitly by
// spec.md §4.1, so it is implemented directly on top of
// lukechampine.com/blake3, the same hash library the teacher uses for
// blob/directory digests.
package bao

import (
	"fmt"

	"lukechampine.com/blake3"
)

// domain-separation prefixes so a leaf hash and an interior-node hash of
// the same bytes never collide.
const (
	leafTag = 0x00
	nodeTag = 0x01
)

// LeafSize returns the logical chunk size for a given bao_shift, per
// spec.md §3: 1024 << shift.
func LeafSize(shift uint8) int {
	return 1024 << shift
}

// Tree is the outboard hash tree over a blob's logical chunks, built
// bottom-up as a left-balanced binary tree (the last level may be
// ragged if the leaf count isn't a power of two).
type Tree struct {
	Shift     uint8
	LeafCount int
	// Levels[0] holds leaf hashes; each subsequent level holds the parent
	// hashes of the level below; the single entry of the last level is the
	// root. Leaf and node hashes carry the leafTag/nodeTag prefixes, so the
	// root differs from the blob's Digest (blake3 of its bytes), and a Tree
	// authenticates leaves against its own root only.
	Levels [][][32]byte
}

func leafHash(b []byte) [32]byte {
	h := blake3.New(32, nil)
	h.Write([]byte{leafTag})
	h.Write(b)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func nodeHash(l, r [32]byte) [32]byte {
	h := blake3.New(32, nil)
	h.Write([]byte{nodeTag})
	h.Write(l[:])
	h.Write(r[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Build constructs the full tree over data at the given bao_shift. The
// returned tree's root (Levels[len(Levels)-1][0], as returned by Root()) is
// derived with leafTag/nodeTag domain separation and is not equal to the
// blob's castorev1.Digest.
func Build(data []byte, shift uint8) (*Tree, error) {
	leafSize := LeafSize(shift)
	if leafSize <= 0 {
		return nil, fmt.Errorf("invalid bao_shift %d", shift)
	}

	leafCount := 1
	if len(data) > 0 {
		leafCount = (len(data) + leafSize - 1) / leafSize
	}

	leaves := make([][32]byte, leafCount)
	for i := 0; i < leafCount; i++ {
		start := i * leafSize
		end := start + leafSize
		if end > len(data) {
			end = len(data)
		}
		leaves[i] = leafHash(data[start:end])
	}

	t := &Tree{Shift: shift, LeafCount: leafCount, Levels: [][][32]byte{leaves}}
	level := leaves
	for len(level) > 1 {
		next := make([][32]byte, (len(level)+1)/2)
		for i := range next {
			l := level[2*i]
			if 2*i+1 < len(level) {
				next[i] = nodeHash(l, level[2*i+1])
			} else {
				// odd node out: promoted unchanged, matching a standard
				// left-balanced Merkle tree's handling of a ragged level.
				next[i] = l
			}
		}
		t.Levels = append(t.Levels, next)
		level = next
	}
	return t, nil
}

// Root returns the top hash of the tree.
func (t *Tree) Root() [32]byte {
	top := t.Levels[len(t.Levels)-1]
	return top[0]
}

// Chunk is one logical leaf's authentication data.
type Chunk struct {
	Index int
	Bytes []byte
}

// sibling is one level's authentication step: either a real sibling hash
// to combine with, or, for the odd node out in a ragged level, no sibling
// at all (the current hash is simply promoted unchanged).
type sibling struct {
	Hash    [32]byte
	Present bool
}

// Proof is the minimal set of sibling hashes needed to authenticate a
// single leaf against the tree root: exactly one entry per tree level
// above the leaves, ordered leaf-to-root, so Verify can mirror Build's
// odd-node-out promotion rule level by level.
type Proof struct {
	LeafIndex int
	siblings  []sibling
}

// ProveLeaf returns the authentication path for leaf i.
func (t *Tree) ProveLeaf(i int) (Proof, error) {
	if i < 0 || i >= t.LeafCount {
		return Proof{}, fmt.Errorf("leaf index %d out of range [0,%d)", i, t.LeafCount)
	}
	p := Proof{LeafIndex: i}
	idx := i
	for lvl := 0; lvl < len(t.Levels)-1; lvl++ {
		level := t.Levels[lvl]
		var sibIdx int
		if idx%2 == 0 {
			sibIdx = idx + 1
		} else {
			sibIdx = idx - 1
		}
		if sibIdx < len(level) {
			p.siblings = append(p.siblings, sibling{Hash: level[sibIdx], Present: true})
		} else {
			p.siblings = append(p.siblings, sibling{Present: false})
		}
		idx /= 2
	}
	return p, nil
}

// VerifyLeaf checks that leafBytes, combined with proof, authenticates
// against root. It returns an error (wrapping no particular sentinel —
// pkg/rpc's verifiedReader wraps it as store.ErrIntegrity) if verification
// fails, matching spec.md §8's tampering property: a single bit flip in any
// chunk or any intermediate node must be caught before bytes are yielded.
func VerifyLeaf(root [32]byte, leafBytes []byte, proof Proof) error {
	cur := leafHash(leafBytes)
	idx := proof.LeafIndex
	for _, sib := range proof.siblings {
		if sib.Present {
			if idx%2 == 0 {
				cur = nodeHash(cur, sib.Hash)
			} else {
				cur = nodeHash(sib.Hash, cur)
			}
		}
		idx /= 2
	}
	if cur != root {
		return fmt.Errorf("bao: leaf %d failed to authenticate against root", proof.LeafIndex)
	}
	return nil
}
