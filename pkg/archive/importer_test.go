package archive_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/nix-community/go-nix/pkg/nar"
	"github.com/stretchr/testify/require"

	"github.com/tvixio/tvix/pkg/archive"
	"github.com/tvixio/tvix/pkg/blob"
	castorev1 "github.com/tvixio/tvix/pkg/castorev1"
	"github.com/tvixio/tvix/pkg/directory"
)

// buildNAR assembles a NAR archive from a sequence of nar.Header/content
// pairs, in the same way store-go/export.go drives a nar.Writer.
type narEntry struct {
	hdr     nar.Header
	content []byte
}

func buildNAR(t *testing.T, entries []narEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := nar.NewWriter(&buf)
	require.NoError(t, err)
	for _, e := range entries {
		require.NoError(t, w.WriteHeader(&e.hdr))
		if len(e.content) > 0 {
			_, err := w.Write(e.content)
			require.NoError(t, err)
		}
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// Scenario 1: empty directory, per spec.md §8.1.
func TestImportEmptyDirectory(t *testing.T) {
	raw := buildNAR(t, []narEntry{
		{hdr: nar.Header{Path: "/", Type: nar.TypeDirectory}},
	})

	blobSvc := blob.NewMemory()
	dirSvc := directory.NewMemory()

	res, err := archive.Import(context.Background(), bytes.NewReader(raw), blobSvc, dirSvc, nil)
	require.NoError(t, err)

	require.NotNil(t, res.Root.Directory)
	require.Equal(t, uint32(0), res.Root.Directory.Size)

	wantDigest := castorev1.BlobDigest(mustMarshalEmptyDirectory(t))
	require.Equal(t, wantDigest, res.Root.Directory.Digest)

	wantSha256 := sha256.Sum256(raw)
	require.Equal(t, wantSha256, res.NarSha256)
	require.Equal(t, uint64(len(raw)), res.NarSize)
}

func mustMarshalEmptyDirectory(t *testing.T) []byte {
	t.Helper()
	b, err := castorev1.MarshalDirectory(&castorev1.Directory{})
	require.NoError(t, err)
	return b
}

// Scenario 2: single executable byte, per spec.md §8.2.
func TestImportSingleExecutableByte(t *testing.T) {
	raw := buildNAR(t, []narEntry{
		{hdr: nar.Header{Path: "/", Type: nar.TypeRegular, Size: 1, Executable: true}, content: []byte{0x01}},
	})

	blobSvc := blob.NewMemory()
	dirSvc := directory.NewMemory()

	res, err := archive.Import(context.Background(), bytes.NewReader(raw), blobSvc, dirSvc, nil)
	require.NoError(t, err)

	require.NotNil(t, res.Root.File)
	require.Equal(t, uint64(1), res.Root.File.Size)
	require.True(t, res.Root.File.Executable)
	require.Equal(t, "48fc721fbbc172e0925fa27af1671de225ba9271348029"+"98b10a1568a188652b", hex.EncodeToString(res.Root.File.Digest.Bytes()))
}

// Scenario 3: symlink, per spec.md §8.3.
func TestImportSymlink(t *testing.T) {
	raw := buildNAR(t, []narEntry{
		{hdr: nar.Header{Path: "/", Type: nar.TypeSymlink, LinkTarget: "/nix/store/somewhereelse"}},
	})

	blobSvc := blob.NewMemory()
	dirSvc := directory.NewMemory()

	res, err := archive.Import(context.Background(), bytes.NewReader(raw), blobSvc, dirSvc, nil)
	require.NoError(t, err)

	require.NotNil(t, res.Root.Symlink)
	require.Equal(t, "/nix/store/somewhereelse", string(res.Root.Symlink.Target))
}

// Scenario 4: two-level tree, per spec.md §8.4.
func TestImportTwoLevelTree(t *testing.T) {
	raw := buildNAR(t, []narEntry{
		{hdr: nar.Header{Path: "/", Type: nar.TypeDirectory}},
		{hdr: nar.Header{Path: "/file-1.txt", Type: nar.TypeRegular, Size: 5}, content: []byte("one12")},
		{hdr: nar.Header{Path: "/nested", Type: nar.TypeDirectory}},
		{hdr: nar.Header{Path: "/nested/file-2.txt", Type: nar.TypeRegular, Size: 5}, content: []byte("two12")},
	})

	blobSvc := blob.NewMemory()
	dirSvc := directory.NewMemory()

	res, err := archive.Import(context.Background(), bytes.NewReader(raw), blobSvc, dirSvc, nil)
	require.NoError(t, err)

	require.NotNil(t, res.Root.Directory)
	rootDir, err := dirSvc.Get(context.Background(), res.Root.Directory.Digest)
	require.NoError(t, err)

	require.Len(t, rootDir.Directories, 1)
	require.Equal(t, "nested", string(rootDir.Directories[0].Name))
	require.Equal(t, uint32(1), rootDir.Directories[0].Size)

	require.Len(t, rootDir.Files, 1)
	require.Equal(t, "file-1.txt", string(rootDir.Files[0].Name))
}
