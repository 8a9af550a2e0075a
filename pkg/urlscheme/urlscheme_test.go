package urlscheme_test

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	castorev1 "github.com/tvixio/tvix/pkg/castorev1"
	"github.com/tvixio/tvix/pkg/urlscheme"
)

func TestOpenBlobMemory(t *testing.T) {
	svc, err := urlscheme.OpenBlob(context.Background(), "memory://")
	require.NoError(t, err)

	w, err := svc.OpenWrite(context.Background())
	require.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	ok, err := svc.Has(context.Background(), w.Digest())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestOpenBlobSled(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "blobs.db")
	svc, err := urlscheme.OpenBlob(context.Background(), "sled://"+dbPath)
	require.NoError(t, err)

	w, err := svc.OpenWrite(context.Background())
	require.NoError(t, err)
	_, err = w.Write([]byte("world"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	ok, err := svc.Has(context.Background(), w.Digest())
	require.NoError(t, err)
	require.True(t, ok)

	_, err = os.Stat(dbPath)
	require.NoError(t, err)
}

func TestOpenDirectoryMemory(t *testing.T) {
	svc, err := urlscheme.OpenDirectory(context.Background(), "memory://")
	require.NoError(t, err)

	d := &castorev1.Directory{}
	digest, err := svc.Put(context.Background(), d)
	require.NoError(t, err)

	got, err := svc.Get(context.Background(), digest)
	require.NoError(t, err)
	require.Equal(t, d, got)
}

func TestOpenBlobCacheComposition(t *testing.T) {
	fast := "memory://"
	slow := "memory://"
	raw := "cache://" + url.QueryEscape(fast) + "?next=" + url.QueryEscape(slow)

	svc, err := urlscheme.OpenBlob(context.Background(), raw)
	require.NoError(t, err)

	w, err := svc.OpenWrite(context.Background())
	require.NoError(t, err)
	_, err = w.Write([]byte("cached"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	ok, err := svc.Has(context.Background(), w.Digest())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestOpenBlobUnsupportedScheme(t *testing.T) {
	_, err := urlscheme.OpenBlob(context.Background(), "ftp://nope")
	require.Error(t, err)
}
