package castorev1

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Canonical wire encoding of Directory.
//
// This mirrors the field layout of tvix's castore.v1.Directory protobuf
// message (directories=1, files=2, symlinks=3; each child message has
// name=1, digest=2, size=3, and FileNode additionally executable=4,
// SymlinkNode instead has target=2) and is built directly on
// google.golang.org/protobuf/encoding/protowire rather than full
// protoc-gen-go reflection — see DESIGN.md for why. Because Directory's
// child lists are already required to be sorted (Validate enforces it),
// encoding them in list order is deterministic, matching what
// proto.MarshalOptions{Deterministic: true} would produce for the
// equivalent generated message.

const (
	fieldDirectories = protowire.Number(1)
	fieldFiles       = protowire.Number(2)
	fieldSymlinks    = protowire.Number(3)

	fieldNodeName   = protowire.Number(1)
	fieldNodeDigest = protowire.Number(2)
	fieldNodeSize   = protowire.Number(3)
	fieldFileExec   = protowire.Number(4)
	fieldSymTarget  = protowire.Number(2)
)

func directoryNodeBytes(n *DirectoryNode) []byte {
	var child []byte
	child = protowire.AppendTag(child, fieldNodeName, protowire.BytesType)
	child = protowire.AppendBytes(child, n.Name)
	child = protowire.AppendTag(child, fieldNodeDigest, protowire.BytesType)
	child = protowire.AppendBytes(child, n.Digest.Bytes())
	if n.Size != 0 {
		child = protowire.AppendTag(child, fieldNodeSize, protowire.VarintType)
		child = protowire.AppendVarint(child, uint64(n.Size))
	}
	return child
}

func fileNodeBytes(n *FileNode) []byte {
	var child []byte
	child = protowire.AppendTag(child, fieldNodeName, protowire.BytesType)
	child = protowire.AppendBytes(child, n.Name)
	child = protowire.AppendTag(child, fieldNodeDigest, protowire.BytesType)
	child = protowire.AppendBytes(child, n.Digest.Bytes())
	if n.Size != 0 {
		child = protowire.AppendTag(child, fieldNodeSize, protowire.VarintType)
		child = protowire.AppendVarint(child, n.Size)
	}
	if n.Executable {
		child = protowire.AppendTag(child, fieldFileExec, protowire.VarintType)
		child = protowire.AppendVarint(child, 1)
	}
	return child
}

func symlinkNodeBytes(n *SymlinkNode) []byte {
	var child []byte
	child = protowire.AppendTag(child, fieldNodeName, protowire.BytesType)
	child = protowire.AppendBytes(child, n.Name)
	child = protowire.AppendTag(child, fieldSymTarget, protowire.BytesType)
	child = protowire.AppendBytes(child, n.Target)
	return child
}

func appendDirectoryNode(b []byte, n *DirectoryNode) []byte {
	b = protowire.AppendTag(b, fieldDirectories, protowire.BytesType)
	b = protowire.AppendBytes(b, directoryNodeBytes(n))
	return b
}

func appendFileNode(b []byte, n *FileNode) []byte {
	b = protowire.AppendTag(b, fieldFiles, protowire.BytesType)
	b = protowire.AppendBytes(b, fileNodeBytes(n))
	return b
}

func appendSymlinkNode(b []byte, n *SymlinkNode) []byte {
	b = protowire.AppendTag(b, fieldSymlinks, protowire.BytesType)
	b = protowire.AppendBytes(b, symlinkNodeBytes(n))
	return b
}

// Field numbers for the Node tagged union (castore.v1.Node's oneof).
const (
	fieldNodeDirectory = protowire.Number(1)
	fieldNodeFile      = protowire.Number(2)
	fieldNodeSymlink   = protowire.Number(3)
)

// MarshalNode renders a Node in the canonical wire encoding used wherever a
// Node crosses a service boundary (e.g. PathInfo.node).
func MarshalNode(n *Node) ([]byte, error) {
	var b []byte
	switch {
	case n.Directory != nil:
		b = protowire.AppendTag(b, fieldNodeDirectory, protowire.BytesType)
		b = protowire.AppendBytes(b, directoryNodeBytes(n.Directory))
	case n.File != nil:
		b = protowire.AppendTag(b, fieldNodeFile, protowire.BytesType)
		b = protowire.AppendBytes(b, fileNodeBytes(n.File))
	case n.Symlink != nil:
		b = protowire.AppendTag(b, fieldNodeSymlink, protowire.BytesType)
		b = protowire.AppendBytes(b, symlinkNodeBytes(n.Symlink))
	default:
		return nil, fmt.Errorf("node has no variant set")
	}
	return b, nil
}

// UnmarshalNode parses the canonical wire encoding of a Node.
func UnmarshalNode(b []byte) (*Node, error) {
	n := &Node{}
	for len(b) > 0 {
		num, typ, sz := protowire.ConsumeTag(b)
		if sz < 0 || typ != protowire.BytesType {
			return nil, fmt.Errorf("invalid tag in Node: %w", protowire.ParseError(sz))
		}
		b = b[sz:]
		payload, sz := protowire.ConsumeBytes(b)
		if sz < 0 {
			return nil, fmt.Errorf("invalid field in Node: %w", protowire.ParseError(sz))
		}
		b = b[sz:]

		switch num {
		case fieldNodeDirectory:
			d, err := parseDirectoryNode(payload)
			if err != nil {
				return nil, err
			}
			n.Directory = d
		case fieldNodeFile:
			f, err := parseFileNode(payload)
			if err != nil {
				return nil, err
			}
			n.File = f
		case fieldNodeSymlink:
			s, err := parseSymlinkNode(payload)
			if err != nil {
				return nil, err
			}
			n.Symlink = s
		default:
			return nil, fmt.Errorf("unknown field number %d in Node", num)
		}
	}
	return n, nil
}

// MarshalDirectory renders d in the canonical wire encoding whose BLAKE3
// hash is d's identity. Callers MUST have already validated d (or trust its
// children are sorted); MarshalDirectory does not re-sort.
func MarshalDirectory(d *Directory) ([]byte, error) {
	var b []byte
	for _, c := range d.Directories {
		b = appendDirectoryNode(b, c)
	}
	for _, c := range d.Files {
		b = appendFileNode(b, c)
	}
	for _, c := range d.Symlinks {
		b = appendSymlinkNode(b, c)
	}
	return b, nil
}

// UnmarshalDirectory parses the canonical wire encoding back into a
// Directory. It does not call Validate; callers that need the load-time
// guarantees of spec.md §3 must call Validate themselves (DirectoryService
// implementations are required to, per spec §4.2).
func UnmarshalDirectory(b []byte) (*Directory, error) {
	d := &Directory{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("invalid tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		if typ != protowire.BytesType {
			return nil, fmt.Errorf("unexpected wire type %v for field %d", typ, num)
		}
		payload, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, fmt.Errorf("invalid length-delimited field: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldDirectories:
			node, err := parseDirectoryNode(payload)
			if err != nil {
				return nil, err
			}
			d.Directories = append(d.Directories, node)
		case fieldFiles:
			node, err := parseFileNode(payload)
			if err != nil {
				return nil, err
			}
			d.Files = append(d.Files, node)
		case fieldSymlinks:
			node, err := parseSymlinkNode(payload)
			if err != nil {
				return nil, err
			}
			d.Symlinks = append(d.Symlinks, node)
		default:
			return nil, fmt.Errorf("unknown field number %d in Directory", num)
		}
	}
	return d, nil
}

func parseDirectoryNode(b []byte) (*DirectoryNode, error) {
	n := &DirectoryNode{}
	for len(b) > 0 {
		num, typ, sz := protowire.ConsumeTag(b)
		if sz < 0 {
			return nil, fmt.Errorf("invalid tag in DirectoryNode: %w", protowire.ParseError(sz))
		}
		b = b[sz:]
		switch num {
		case fieldNodeName:
			v, sz := protowire.ConsumeBytes(b)
			if sz < 0 || typ != protowire.BytesType {
				return nil, fmt.Errorf("invalid name in DirectoryNode")
			}
			n.Name = append([]byte(nil), v...)
			b = b[sz:]
		case fieldNodeDigest:
			v, sz := protowire.ConsumeBytes(b)
			if sz < 0 || typ != protowire.BytesType {
				return nil, fmt.Errorf("invalid digest in DirectoryNode")
			}
			d, err := ParseDigest(v)
			if err != nil {
				return nil, fmt.Errorf("digest in DirectoryNode: %w", err)
			}
			n.Digest = d
			b = b[sz:]
		case fieldNodeSize:
			v, sz := protowire.ConsumeVarint(b)
			if sz < 0 || typ != protowire.VarintType {
				return nil, fmt.Errorf("invalid size in DirectoryNode")
			}
			n.Size = uint32(v)
			b = b[sz:]
		default:
			sz := protowire.ConsumeFieldValue(num, typ, b)
			if sz < 0 {
				return nil, fmt.Errorf("invalid field in DirectoryNode")
			}
			b = b[sz:]
		}
	}
	return n, nil
}

func parseFileNode(b []byte) (*FileNode, error) {
	n := &FileNode{}
	for len(b) > 0 {
		num, typ, sz := protowire.ConsumeTag(b)
		if sz < 0 {
			return nil, fmt.Errorf("invalid tag in FileNode: %w", protowire.ParseError(sz))
		}
		b = b[sz:]
		switch num {
		case fieldNodeName:
			v, sz := protowire.ConsumeBytes(b)
			if sz < 0 {
				return nil, fmt.Errorf("invalid name in FileNode")
			}
			n.Name = append([]byte(nil), v...)
			b = b[sz:]
		case fieldNodeDigest:
			v, sz := protowire.ConsumeBytes(b)
			if sz < 0 {
				return nil, fmt.Errorf("invalid digest in FileNode")
			}
			d, err := ParseDigest(v)
			if err != nil {
				return nil, fmt.Errorf("digest in FileNode: %w", err)
			}
			n.Digest = d
			b = b[sz:]
		case fieldNodeSize:
			v, sz := protowire.ConsumeVarint(b)
			if sz < 0 || typ != protowire.VarintType {
				return nil, fmt.Errorf("invalid size in FileNode")
			}
			n.Size = v
			b = b[sz:]
		case fieldFileExec:
			v, sz := protowire.ConsumeVarint(b)
			if sz < 0 {
				return nil, fmt.Errorf("invalid executable flag in FileNode")
			}
			n.Executable = v != 0
			b = b[sz:]
		default:
			sz := protowire.ConsumeFieldValue(num, typ, b)
			if sz < 0 {
				return nil, fmt.Errorf("invalid field in FileNode")
			}
			b = b[sz:]
		}
	}
	return n, nil
}

func parseSymlinkNode(b []byte) (*SymlinkNode, error) {
	n := &SymlinkNode{}
	for len(b) > 0 {
		num, typ, sz := protowire.ConsumeTag(b)
		if sz < 0 {
			return nil, fmt.Errorf("invalid tag in SymlinkNode: %w", protowire.ParseError(sz))
		}
		b = b[sz:]
		switch num {
		case fieldNodeName:
			v, sz := protowire.ConsumeBytes(b)
			if sz < 0 {
				return nil, fmt.Errorf("invalid name in SymlinkNode")
			}
			n.Name = append([]byte(nil), v...)
			b = b[sz:]
		case fieldSymTarget:
			v, sz := protowire.ConsumeBytes(b)
			if sz < 0 {
				return nil, fmt.Errorf("invalid target in SymlinkNode")
			}
			n.Target = append([]byte(nil), v...)
			b = b[sz:]
		default:
			sz := protowire.ConsumeFieldValue(num, typ, b)
			if sz < 0 {
				return nil, fmt.Errorf("invalid field in SymlinkNode")
			}
			b = b[sz:]
		}
	}
	return n, nil
}
