package castorev1_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	castorev1 "github.com/tvixio/tvix/pkg/castorev1"
)

// dummyDigest is an arbitrary non-zero digest: Validate rejects zero ones.
var dummyDigest = castorev1.BlobDigest([]byte("dummy"))

func TestDirectorySize(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		d := castorev1.Directory{}
		assert.Equal(t, uint32(0), d.Size())
	})

	t.Run("containing single empty directory", func(t *testing.T) {
		d := castorev1.Directory{
			Directories: []*castorev1.DirectoryNode{{
				Name:   []byte("foo"),
				Digest: dummyDigest,
				Size:   0,
			}},
		}
		assert.Equal(t, uint32(1), d.Size())
	})

	t.Run("containing single non-empty directory", func(t *testing.T) {
		d := castorev1.Directory{
			Directories: []*castorev1.DirectoryNode{{
				Name:   []byte("foo"),
				Digest: dummyDigest,
				Size:   4,
			}},
		}
		assert.Equal(t, uint32(5), d.Size())
	})

	t.Run("containing single file", func(t *testing.T) {
		d := castorev1.Directory{
			Files: []*castorev1.FileNode{{
				Name:       []byte("foo"),
				Digest:     dummyDigest,
				Size:       42,
				Executable: false,
			}},
		}
		assert.Equal(t, uint32(1), d.Size())
	})

	t.Run("containing single symlink", func(t *testing.T) {
		d := castorev1.Directory{
			Symlinks: []*castorev1.SymlinkNode{{
				Name:   []byte("foo"),
				Target: []byte("bar"),
			}},
		}
		assert.Equal(t, uint32(1), d.Size())
	})
}

func TestDirectoryValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		d := castorev1.Directory{
			Directories: []*castorev1.DirectoryNode{{Name: []byte("a_dir"), Digest: dummyDigest}},
			Files:       []*castorev1.FileNode{{Name: []byte("b_file"), Digest: dummyDigest, Size: 1}},
			Symlinks:    []*castorev1.SymlinkNode{{Name: []byte("c_link"), Target: []byte("/nix/store/somewhereelse")}},
		}
		require.NoError(t, d.Validate())
	})

	t.Run("invalid name", func(t *testing.T) {
		d := castorev1.Directory{
			Directories: []*castorev1.DirectoryNode{{Name: []byte(".."), Digest: dummyDigest}},
		}
		require.Error(t, d.Validate())
	})

	t.Run("unsorted", func(t *testing.T) {
		d := castorev1.Directory{
			Directories: []*castorev1.DirectoryNode{
				{Name: []byte("z"), Digest: dummyDigest},
				{Name: []byte("a"), Digest: dummyDigest},
			},
		}
		require.Error(t, d.Validate())
	})

	t.Run("duplicate name across lists", func(t *testing.T) {
		d := castorev1.Directory{
			Directories: []*castorev1.DirectoryNode{{Name: []byte("foo"), Digest: dummyDigest}},
			Files:       []*castorev1.FileNode{{Name: []byte("foo"), Digest: dummyDigest, Size: 1}},
		}
		require.Error(t, d.Validate())
	})
}

func TestDirectoryDigestRoundTrip(t *testing.T) {
	d := &castorev1.Directory{
		Directories: []*castorev1.DirectoryNode{{Name: []byte("nested"), Digest: dummyDigest, Size: 1}},
		Files:       []*castorev1.FileNode{{Name: []byte("file-1.txt"), Digest: dummyDigest, Size: 3}},
	}
	require.NoError(t, d.Validate())

	digest1, err := d.Digest()
	require.NoError(t, err)

	b, err := castorev1.MarshalDirectory(d)
	require.NoError(t, err)

	back, err := castorev1.UnmarshalDirectory(b)
	require.NoError(t, err)
	require.NoError(t, back.Validate())
	assert.True(t, d.Equal(back))

	digest2, err := back.Digest()
	require.NoError(t, err)
	assert.Equal(t, digest1, digest2)
}

func TestEmptyDirectoryDigest(t *testing.T) {
	d := &castorev1.Directory{}
	digest, err := d.Digest()
	require.NoError(t, err)
	b, err := castorev1.MarshalDirectory(d)
	require.NoError(t, err)
	assert.Empty(t, b)
	assert.Equal(t, castorev1.BlobDigest(nil), digest)
}
