package archive_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/nix-community/go-nix/pkg/nar"
	"github.com/stretchr/testify/require"

	"github.com/tvixio/tvix/pkg/archive"
	"github.com/tvixio/tvix/pkg/blob"
	"github.com/tvixio/tvix/pkg/directory"
)

func importExportRoundTrip(t *testing.T, raw []byte) []byte {
	t.Helper()
	blobSvc := blob.NewMemory()
	dirSvc := directory.NewMemory()

	res, err := archive.Import(context.Background(), bytes.NewReader(raw), blobSvc, dirSvc, nil)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, archive.Export(context.Background(), &out, res.Root, dirSvc, blobSvc))
	return out.Bytes()
}

// Round-trips per spec.md §8's "export(import(A)) == A byte-for-byte" and
// "sha256(export(import(A))) == sha256(A)" invariants.

func TestExportEmptyDirectoryRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w, err := nar.NewWriter(&buf)
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader(&nar.Header{Path: "/", Type: nar.TypeDirectory}))
	require.NoError(t, w.Close())
	raw := buf.Bytes()

	got := importExportRoundTrip(t, raw)
	require.Equal(t, raw, got)
}

func TestExportSingleExecutableByteRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w, err := nar.NewWriter(&buf)
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader(&nar.Header{Path: "/", Type: nar.TypeRegular, Size: 1, Executable: true}))
	_, err = w.Write([]byte{0x01})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	raw := buf.Bytes()

	got := importExportRoundTrip(t, raw)
	require.Equal(t, raw, got)
}

func TestExportSymlinkRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w, err := nar.NewWriter(&buf)
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader(&nar.Header{Path: "/", Type: nar.TypeSymlink, LinkTarget: "/nix/store/somewhereelse"}))
	require.NoError(t, w.Close())
	raw := buf.Bytes()

	got := importExportRoundTrip(t, raw)
	require.Equal(t, raw, got)
}

func TestExportTwoLevelTreeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w, err := nar.NewWriter(&buf)
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader(&nar.Header{Path: "/", Type: nar.TypeDirectory}))
	require.NoError(t, w.WriteHeader(&nar.Header{Path: "/file-1.txt", Type: nar.TypeRegular, Size: 5}))
	_, err = w.Write([]byte("one12"))
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader(&nar.Header{Path: "/nested", Type: nar.TypeDirectory}))
	require.NoError(t, w.WriteHeader(&nar.Header{Path: "/nested/file-2.txt", Type: nar.TypeRegular, Size: 5}))
	_, err = w.Write([]byte("two12"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	raw := buf.Bytes()

	got := importExportRoundTrip(t, raw)
	require.Equal(t, raw, got)
}
