package blob_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tvixio/tvix/pkg/blob"
	castorev1 "github.com/tvixio/tvix/pkg/castorev1"
	"github.com/tvixio/tvix/pkg/store"
)

func TestComposerFallbackAndBackfill(t *testing.T) {
	ctx := context.Background()
	cache := blob.NewMemory()
	remote := blob.NewMemory()

	w, err := remote.OpenWrite(ctx)
	require.NoError(t, err)
	_, err = w.Write([]byte("hello world"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	digest := w.Digest()

	composed, err := blob.NewComposer(
		blob.Tier{Service: cache},
		blob.Tier{Service: remote},
	)
	require.NoError(t, err)

	ok, err := cache.Has(ctx, digest)
	require.NoError(t, err)
	require.False(t, ok)

	rc, err := composed.Open(ctx, digest)
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, "hello world", string(b))

	ok, err = cache.Has(ctx, digest)
	require.NoError(t, err)
	require.True(t, ok, "composer should have backfilled the cache tier")
}

// tamperedTier is a stand-in for a verifying lower tier (e.g. pkg/rpc's
// Client) whose stream fails mid-read once the tampered byte is reached —
// the same failure shape a corrupted BAO leaf produces.
type tamperedTier struct {
	blob.Service
	digest castorev1.Digest
}

func (t tamperedTier) Open(ctx context.Context, digest castorev1.Digest) (io.ReadCloser, error) {
	return t.OpenRange(ctx, digest, 0, 0)
}

func (t tamperedTier) OpenRange(ctx context.Context, digest castorev1.Digest, start, end int64) (io.ReadCloser, error) {
	if digest != t.digest {
		return nil, store.ErrNotFound
	}
	return io.NopCloser(&failingReader{err: fmt.Errorf("bao leaf mismatch: %w", store.ErrIntegrity)}), nil
}

func (t tamperedTier) Has(ctx context.Context, digest castorev1.Digest) (bool, error) {
	return digest == t.digest, nil
}

// failingReader yields a few bytes and then fails, mimicking a
// verifiedReader that authenticated a leading leaf but hit a tampered one.
type failingReader struct {
	sent bool
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.sent {
		r.sent = true
		n := copy(p, []byte("partial"))
		return n, nil
	}
	return 0, r.err
}

func TestComposerTamperedTierNotBackfilled(t *testing.T) {
	ctx := context.Background()
	cache := blob.NewMemory()

	w, err := cache.OpenWrite(ctx)
	require.NoError(t, err)
	_, err = w.Write([]byte("hello world"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	// Use a digest the cache does NOT have, so the composer must fall
	// through to the tampered remote tier.
	digest := castorev1.BlobDigest([]byte("tampered-blob"))

	remote := tamperedTier{Service: blob.NewMemory(), digest: digest}

	composed, err := blob.NewComposer(
		blob.Tier{Service: cache},
		blob.Tier{Service: remote},
	)
	require.NoError(t, err)

	rc, err := composed.Open(ctx, digest)
	if err == nil {
		_, err = io.ReadAll(rc)
		_ = rc.Close()
	}
	require.Error(t, err)
	require.True(t, errors.Is(err, store.ErrIntegrity), "composer must surface ErrIntegrity for a tampered tier, got %v", err)

	ok, hasErr := cache.Has(ctx, digest)
	require.NoError(t, hasErr)
	require.False(t, ok, "composer must not backfill bytes from a tier that failed verification")
}

func TestComposerCollapsesNotFound(t *testing.T) {
	ctx := context.Background()
	a := blob.NewMemory()
	b := blob.NewMemory()
	composed, err := blob.NewComposer(blob.Tier{Service: a}, blob.Tier{Service: b})
	require.NoError(t, err)

	_, err = composed.Open(ctx, castorev1.BlobDigest([]byte("missing")))
	require.Error(t, err)
}
