package castorev1

import (
	"bytes"
	"fmt"
)

// Directory is an unordered logical set of directory, file and symlink
// children, each carrying a name unique across all three lists. See
// spec.md §3 for the invariants a well-formed Directory must hold.
type Directory struct {
	Directories []*DirectoryNode
	Files       []*FileNode
	Symlinks    []*SymlinkNode
}

// Size computes the inode-count hint described in spec.md §3: the sum of
// file and symlink children, plus 1+child.Size for every child directory.
func (d *Directory) Size() uint32 {
	size := uint32(len(d.Files) + len(d.Symlinks))
	for _, c := range d.Directories {
		size += 1 + c.Size
	}
	return size
}

// Digest returns the BLAKE3 hash of the canonical serialization of d. Two
// Directory values representing the same logical content (same children,
// same order — well-formed Directories are sorted, so equal content implies
// equal order) always produce the same Digest.
func (d *Directory) Digest() (Digest, error) {
	b, err := MarshalDirectory(d)
	if err != nil {
		return Digest{}, fmt.Errorf("marshalling directory: %w", err)
	}
	return BlobDigest(b), nil
}

// isValidName checks a child name for validity: non-empty, no NUL or '/',
// and not "." or "..".
func isValidName(n []byte) bool {
	if len(n) == 0 {
		return false
	}
	if bytes.Equal(n, []byte(".")) || bytes.Equal(n, []byte("..")) {
		return false
	}
	if bytes.ContainsRune(n, 0) || bytes.ContainsRune(n, '/') {
		return false
	}
	return true
}

// Validate checks d for the load-time invariants spec.md §3 requires: valid
// names, unique names across all three lists, and each list sorted
// ascending by name. It also rejects a zero digest on any DirectoryNode and
// on any FileNode of non-zero size, and an empty symlink target.
func (d *Directory) Validate() error {
	seen := make(map[string]struct{}, len(d.Directories)+len(d.Files)+len(d.Symlinks))

	insertOnce := func(name []byte) error {
		key := string(name)
		if _, ok := seen[key]; ok {
			return fmt.Errorf("duplicate name: %q", name)
		}
		seen[key] = struct{}{}
		return nil
	}

	var lastDirectory, lastFile, lastSymlink []byte
	ensureSorted := func(last *[]byte, name []byte) error {
		if bytes.Compare(name, *last) <= 0 && *last != nil {
			return fmt.Errorf("%q is not in sorted order", name)
		}
		*last = name
		return nil
	}

	for _, c := range d.Directories {
		if !isValidName(c.Name) {
			return fmt.Errorf("invalid name for DirectoryNode: %q", c.Name)
		}
		if c.Digest.IsZero() {
			return fmt.Errorf("zero digest for DirectoryNode %q", c.Name)
		}
		if err := ensureSorted(&lastDirectory, c.Name); err != nil {
			return err
		}
		if err := insertOnce(c.Name); err != nil {
			return err
		}
	}

	for _, c := range d.Files {
		if !isValidName(c.Name) {
			return fmt.Errorf("invalid name for FileNode: %q", c.Name)
		}
		if c.Digest.IsZero() && c.Size != 0 {
			return fmt.Errorf("zero digest for non-empty FileNode %q", c.Name)
		}
		if err := ensureSorted(&lastFile, c.Name); err != nil {
			return err
		}
		if err := insertOnce(c.Name); err != nil {
			return err
		}
	}

	for _, c := range d.Symlinks {
		if !isValidName(c.Name) {
			return fmt.Errorf("invalid name for SymlinkNode: %q", c.Name)
		}
		if len(c.Target) == 0 {
			return fmt.Errorf("empty target for SymlinkNode %q", c.Name)
		}
		if err := ensureSorted(&lastSymlink, c.Name); err != nil {
			return err
		}
		if err := insertOnce(c.Name); err != nil {
			return err
		}
	}

	return nil
}

// Equal reports whether d and o have byte-identical content. Used by
// round-trip tests; not load-bearing for digest equality (Digest already
// covers that via canonical serialization).
func (d *Directory) Equal(o *Directory) bool {
	if d == nil || o == nil {
		return d == o
	}
	if len(d.Directories) != len(o.Directories) || len(d.Files) != len(o.Files) || len(d.Symlinks) != len(o.Symlinks) {
		return false
	}
	for i, c := range d.Directories {
		oc := o.Directories[i]
		if !bytes.Equal(c.Name, oc.Name) || c.Digest != oc.Digest || c.Size != oc.Size {
			return false
		}
	}
	for i, c := range d.Files {
		oc := o.Files[i]
		if !bytes.Equal(c.Name, oc.Name) || c.Digest != oc.Digest || c.Size != oc.Size || c.Executable != oc.Executable {
			return false
		}
	}
	for i, c := range d.Symlinks {
		oc := o.Symlinks[i]
		if !bytes.Equal(c.Name, oc.Name) || !bytes.Equal(c.Target, oc.Target) {
			return false
		}
	}
	return true
}
