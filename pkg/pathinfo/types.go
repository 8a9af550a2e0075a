// Package pathinfo implements spec.md §4.3's PathInfoService: the mapping
// from a store-path output-hash fingerprint to a root castorev1.Node plus
// legacy archive metadata.
package pathinfo

import (
	"bytes"
	"fmt"

	"github.com/nix-community/go-nix/pkg/storepath"

	castorev1 "github.com/tvixio/tvix/pkg/castorev1"
)

// Signature is a single narinfo signature, per spec.md §3.
type Signature struct {
	Name string
	Data []byte
}

// NarInfo is the legacy archive metadata carried alongside a PathInfo's
// root node, per spec.md §3.
type NarInfo struct {
	NarSha256      [32]byte
	NarSize        uint64
	Signatures     []Signature
	ReferenceNames []string
	Deriver        string // optional; empty if absent
	CA             string // optional content-addressing descriptor; empty if absent
}

// PathInfo is the tuple spec.md §3 describes: a root node into castore,
// an ordered list of referenced store-path output-hash digests, and the
// legacy narinfo metadata.
type PathInfo struct {
	Node       *castorev1.Node
	References [][]byte // each storepath.PathHashSize bytes
	Narinfo    *NarInfo
}

// Validate performs the cross-checks spec.md §3 requires: References and
// Narinfo.ReferenceNames have identical length and order (each name's
// digest matching the corresponding References entry), and the root node's
// name parses as a store path. It returns that store path on success.
//
// Grounded closely on store/protos/pathinfo.go's Validate.
func (p *PathInfo) Validate() (*storepath.StorePath, error) {
	for i, ref := range p.References {
		if len(ref) != storepath.PathHashSize {
			return nil, fmt.Errorf("invalid length of digest at position %d, expected %d, got %d", i, storepath.PathHashSize, len(ref))
		}
	}

	if p.Narinfo != nil {
		if len(p.Narinfo.ReferenceNames) != len(p.References) {
			return nil, fmt.Errorf("inconsistent number of references: %d (references) vs %d (narinfo)", len(p.References), len(p.Narinfo.ReferenceNames))
		}
		for i, name := range p.Narinfo.ReferenceNames {
			sp, err := storepath.FromString(name)
			if err != nil {
				return nil, fmt.Errorf("invalid reference name at position %d: %w", i, err)
			}
			if !bytes.Equal(p.References[i], sp.Digest) {
				return nil, fmt.Errorf("digest in reference name at position %d does not match References[%d]", i, i)
			}
		}
	}

	if p.Node == nil {
		return nil, fmt.Errorf("root node must be set")
	}

	name := p.Node.GetName()
	if name == nil {
		return nil, fmt.Errorf("root node has no name")
	}
	sp, err := storepath.FromString(string(name))
	if err != nil {
		return nil, fmt.Errorf("unable to parse %q as store path: %w", name, err)
	}

	switch {
	case p.Node.Directory != nil:
		if p.Node.Directory.Digest.IsZero() {
			return nil, fmt.Errorf("zero digest for directory root %q", name)
		}
	case p.Node.File != nil:
		if p.Node.File.Digest.IsZero() && p.Node.File.Size != 0 {
			return nil, fmt.Errorf("zero digest for non-empty file root %q", name)
		}
	case p.Node.Symlink != nil:
		// no digest to check
	default:
		return nil, fmt.Errorf("root node has no variant set")
	}

	return sp, nil
}
