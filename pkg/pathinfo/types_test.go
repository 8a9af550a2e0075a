package pathinfo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	castorev1 "github.com/tvixio/tvix/pkg/castorev1"
	"github.com/tvixio/tvix/pkg/pathinfo"
)

const exampleStorePath = "00bgd045z0d4icpbc2yyz4gx48ak44la-net-tools-1.60_p2017022118243"

var exampleStorePathDigest = []byte{
	0x8a, 0x12, 0x32, 0x15, 0x22, 0xfd, 0x91, 0xef, 0xbd, 0x60, 0xeb, 0xb2, 0x48, 0x1a, 0xf8, 0x85,
	0x80, 0xf6, 0x16, 0x00,
}

func genPathInfoSymlink() *pathinfo.PathInfo {
	return &pathinfo.PathInfo{
		Node: &castorev1.Node{
			Symlink: &castorev1.SymlinkNode{
				Name:   []byte("00000000000000000000000000000000-dummy"),
				Target: []byte("/nix/store/somewhereelse"),
			},
		},
		References: [][]byte{exampleStorePathDigest},
		Narinfo: &pathinfo.NarInfo{
			ReferenceNames: []string{exampleStorePath},
		},
	}
}

func TestPathInfoValidate(t *testing.T) {
	t.Run("happy symlink", func(t *testing.T) {
		sp, err := genPathInfoSymlink().Validate()
		require.NoError(t, err)
		assert.Equal(t, "00000000000000000000000000000000-dummy", sp.String())
	})

	t.Run("happy symlink without narinfo", func(t *testing.T) {
		pi := genPathInfoSymlink()
		pi.Narinfo = nil
		_, err := pi.Validate()
		require.NoError(t, err)
	})

	t.Run("invalid reference digest length", func(t *testing.T) {
		pi := genPathInfoSymlink()
		pi.References = append(pi.References, []byte{0x00})
		_, err := pi.Validate()
		require.Error(t, err)
	})

	t.Run("invalid reference name", func(t *testing.T) {
		pi := genPathInfoSymlink()
		pi.Narinfo.ReferenceNames[0] = "00000000000000000000000000000000-"
		_, err := pi.Validate()
		require.Error(t, err)
	})

	t.Run("reference name digest mismatch", func(t *testing.T) {
		pi := genPathInfoSymlink()
		pi.Narinfo.ReferenceNames[0] = "11111111111111111111111111111111-dummy"
		_, err := pi.Validate()
		require.Error(t, err)
	})

	t.Run("nil root node", func(t *testing.T) {
		pi := genPathInfoSymlink()
		pi.Node = nil
		_, err := pi.Validate()
		require.Error(t, err)
	})

	t.Run("invalid root node name", func(t *testing.T) {
		pi := genPathInfoSymlink()
		pi.Node.Symlink.Name = []byte("/nix/store/00000000000000000000000000000000-dummy")
		_, err := pi.Validate()
		require.Error(t, err)
	})

	t.Run("inconsistent reference count", func(t *testing.T) {
		pi := genPathInfoSymlink()
		pi.Narinfo.ReferenceNames = append(pi.Narinfo.ReferenceNames, exampleStorePath)
		_, err := pi.Validate()
		require.Error(t, err)
	})
}
