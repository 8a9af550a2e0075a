package archive

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/nix-community/go-nix/pkg/nar"

	"github.com/tvixio/tvix/pkg/blob"
	castorev1 "github.com/tvixio/tvix/pkg/castorev1"
	"github.com/tvixio/tvix/pkg/directory"
)

// Export walks root and writes it to w as a NAR, fetching directories and
// blob contents from dirSvc/blobSvc as it goes, and draining each
// in-progress directory node-by-node in lexicographic name order so the
// output is byte-identical for a given tree regardless of storage order.
//
// Grounded on store-go/export.go's drainNextNode/smallestNode/smallerNode
// stack-based merge walk, retargeted from protobuf-generated types to
// pkg/castorev1 and from inline lookup closures to the directory.Service
// and blob.Service interfaces.
func Export(
	ctx context.Context,
	w io.Writer,
	root *castorev1.Node,
	dirSvc directory.Service,
	blobSvc blob.Service,
) error {
	narWriter, err := nar.NewWriter(w)
	if err != nil {
		return fmt.Errorf("initializing nar writer: %w", err)
	}
	defer narWriter.Close()

	switch {
	case root.File != nil:
		return exportFile(ctx, narWriter, "/", root.File, blobSvc)
	case root.Symlink != nil:
		if err := narWriter.WriteHeader(&nar.Header{
			Path:       "/",
			Type:       nar.TypeSymlink,
			LinkTarget: string(root.Symlink.Target),
		}); err != nil {
			return fmt.Errorf("writing root symlink header: %w", err)
		}
		return narWriter.Close()
	case root.Directory != nil:
		d, err := dirSvc.Get(ctx, root.Directory.Digest)
		if err != nil {
			return fmt.Errorf("looking up root directory %s: %w", root.Directory.Digest, err)
		}
		if err := narWriter.WriteHeader(&nar.Header{Path: "/", Type: nar.TypeDirectory}); err != nil {
			return fmt.Errorf("writing root directory header: %w", err)
		}
		return exportDirectoryTree(ctx, narWriter, "/", cloneDirectory(d), dirSvc, blobSvc)
	default:
		return fmt.Errorf("export: node has no variant set")
	}
}

func exportFile(ctx context.Context, narWriter *nar.Writer, p string, f *castorev1.FileNode, blobSvc blob.Service) error {
	if err := narWriter.WriteHeader(&nar.Header{
		Path:       p,
		Type:       nar.TypeRegular,
		Size:       int64(f.Size),
		Executable: f.Executable,
	}); err != nil {
		return fmt.Errorf("writing file header for %s: %w", p, err)
	}

	r, err := blobSvc.Open(ctx, f.Digest)
	if err != nil {
		return fmt.Errorf("opening blob %s: %w", f.Digest, err)
	}
	defer r.Close()

	if _, err := io.Copy(narWriter, r); err != nil {
		return fmt.Errorf("copying blob contents for %s: %w", p, err)
	}
	return r.Close()
}

type exportStackFrame struct {
	path string
	dir  *castorev1.Directory
}

// exportDirectoryTree drains dir (and the directories it references,
// recursively) node by node in lexicographic order, per the same stack
// merge-walk store-go/export.go uses: at each step we peek the
// alphabetically-smallest not-yet-emitted child across all three lists,
// emit it, and drain it from the in-memory Directory so the next peek
// sees the remaining children.
func exportDirectoryTree(
	ctx context.Context,
	narWriter *nar.Writer,
	rootPath string,
	root *castorev1.Directory,
	dirSvc directory.Service,
	blobSvc blob.Service,
) error {
	stack := []exportStackFrame{{path: rootPath, dir: root}}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]

		next := drainNextNode(top.dir)
		if next == nil {
			stack = stack[:len(stack)-1]
			continue
		}

		switch n := next.(type) {
		case *castorev1.DirectoryNode:
			childPath := path.Join(top.path, string(n.Name))
			if err := narWriter.WriteHeader(&nar.Header{Path: childPath, Type: nar.TypeDirectory}); err != nil {
				return fmt.Errorf("writing directory header for %s: %w", childPath, err)
			}
			child, err := dirSvc.Get(ctx, n.Digest)
			if err != nil {
				return fmt.Errorf("looking up directory %s at %s: %w", n.Digest, childPath, err)
			}
			stack = append(stack, exportStackFrame{path: childPath, dir: cloneDirectory(child)})
		case *castorev1.FileNode:
			childPath := path.Join(top.path, string(n.Name))
			if err := exportFile(ctx, narWriter, childPath, n, blobSvc); err != nil {
				return err
			}
		case *castorev1.SymlinkNode:
			childPath := path.Join(top.path, string(n.Name))
			if err := narWriter.WriteHeader(&nar.Header{
				Path:       childPath,
				Type:       nar.TypeSymlink,
				LinkTarget: string(n.Target),
			}); err != nil {
				return fmt.Errorf("writing symlink header for %s: %w", childPath, err)
			}
		}
	}
	return nil
}

// cloneDirectory shallow-copies d's three node slices so drainNextNode can
// destructively re-slice them without mutating a backend's stored copy:
// Service.Get is free to return a live pointer (as Memory does) rather than
// a defensive copy.
func cloneDirectory(d *castorev1.Directory) *castorev1.Directory {
	return &castorev1.Directory{
		Directories: append([]*castorev1.DirectoryNode(nil), d.Directories...),
		Files:       append([]*castorev1.FileNode(nil), d.Files...),
		Symlinks:    append([]*castorev1.SymlinkNode(nil), d.Symlinks...),
	}
}

// drainNextNode returns the alphabetically-smallest not-yet-emitted child of
// d, removing it from d's lists. Returns nil once d is empty.
func drainNextNode(d *castorev1.Directory) interface{} {
	switch v := smallestNode(d).(type) {
	case *castorev1.DirectoryNode:
		d.Directories = d.Directories[1:]
		return v
	case *castorev1.FileNode:
		d.Files = d.Files[1:]
		return v
	case *castorev1.SymlinkNode:
		d.Symlinks = d.Symlinks[1:]
		return v
	default:
		return nil
	}
}

func smallestNode(d *castorev1.Directory) interface{} {
	var best interface{ GetName() []byte }

	consider := func(n interface{ GetName() []byte }) {
		if best == nil || string(n.GetName()) < string(best.GetName()) {
			best = n
		}
	}

	if len(d.Directories) > 0 {
		consider(d.Directories[0])
	}
	if len(d.Files) > 0 {
		consider(d.Files[0])
	}
	if len(d.Symlinks) > 0 {
		consider(d.Symlinks[0])
	}
	if best == nil {
		return nil
	}
	return best
}
