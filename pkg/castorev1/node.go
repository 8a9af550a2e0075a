package castorev1

// DirectoryNode is a reference to a Directory from within a parent
// Directory, or as the root of a Node.
type DirectoryNode struct {
	Name   []byte
	Digest Digest
	// Size is the inode-count hint described in spec.md §3, as computed by
	// Directory.Size: the count of the referenced Directory's file and
	// symlink children, plus 1+child.Size for each of its child directories
	// (an empty directory has size 0). It is opaque outside of that invariant.
	Size uint32
}

func (n *DirectoryNode) GetName() []byte { return n.Name }

// FileNode is a reference to a Blob from within a parent Directory, or as
// the root of a Node.
type FileNode struct {
	Name       []byte
	Digest     Digest
	Size       uint64
	Executable bool
}

func (n *FileNode) GetName() []byte { return n.Name }

// SymlinkNode is a symbolic link entry. It carries no digest: its only
// payload is the link target.
type SymlinkNode struct {
	Name   []byte
	Target []byte
}

func (n *SymlinkNode) GetName() []byte { return n.Name }

// Node is a tagged union of {DirectoryNode, FileNode, SymlinkNode}. Exactly
// one of Directory, File, Symlink is non-nil.
type Node struct {
	Directory *DirectoryNode
	File      *FileNode
	Symlink   *SymlinkNode
}

// GetName returns the name carried by whichever variant is set, or nil if
// the Node is the zero value.
func (n *Node) GetName() []byte {
	switch {
	case n == nil:
		return nil
	case n.Directory != nil:
		return n.Directory.Name
	case n.File != nil:
		return n.File.Name
	case n.Symlink != nil:
		return n.Symlink.Name
	default:
		return nil
	}
}

// WithName returns a shallow copy of n with its name replaced. Useful when
// lifting a child node to the root of a PathInfo, which carries the
// store-path basename instead of the name it had inside its parent
// Directory. Adapted from the teacher's RenameNode.
func (n *Node) WithName(name []byte) *Node {
	switch {
	case n.Directory != nil:
		d := *n.Directory
		d.Name = name
		return &Node{Directory: &d}
	case n.File != nil:
		f := *n.File
		f.Name = name
		return &Node{File: &f}
	case n.Symlink != nil:
		s := *n.Symlink
		s.Name = name
		return &Node{Symlink: &s}
	default:
		return n
	}
}
