package directory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	castorev1 "github.com/tvixio/tvix/pkg/castorev1"
	"github.com/tvixio/tvix/pkg/directory"
)

func TestGetRecursiveClosureCompleteness(t *testing.T) {
	ctx := context.Background()
	svc := directory.NewMemory()

	leaf := &castorev1.Directory{}
	leafDigest, err := svc.Put(ctx, leaf)
	require.NoError(t, err)

	mid := &castorev1.Directory{
		Directories: []*castorev1.DirectoryNode{{Name: []byte("leaf"), Digest: leafDigest, Size: 0}},
	}
	midDigest, err := svc.Put(ctx, mid)
	require.NoError(t, err)

	root := &castorev1.Directory{
		Directories: []*castorev1.DirectoryNode{{Name: []byte("mid"), Digest: midDigest, Size: mid.Size()}},
	}
	rootDigest, err := svc.Put(ctx, root)
	require.NoError(t, err)

	seen := map[castorev1.Digest]bool{}
	iter := svc.GetRecursive(ctx, rootDigest)
	for {
		d, ok, err := iter()
		require.NoError(t, err)
		if !ok {
			break
		}
		digest, err := d.Digest()
		require.NoError(t, err)
		seen[digest] = true
	}

	require.True(t, seen[rootDigest])
	require.True(t, seen[midDigest])
	require.True(t, seen[leafDigest])
	require.Len(t, seen, 3)
}

func TestPutRejectsInvalidDirectory(t *testing.T) {
	ctx := context.Background()
	svc := directory.NewMemory()
	bad := &castorev1.Directory{
		Directories: []*castorev1.DirectoryNode{{Name: []byte(".."), Digest: castorev1.Digest{}}},
	}
	_, err := svc.Put(ctx, bad)
	require.Error(t, err)
}
