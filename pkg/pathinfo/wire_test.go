package pathinfo_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tvixio/tvix/pkg/pathinfo"
)

func TestPathInfoWireRoundTrip(t *testing.T) {
	pi := genPathInfoSymlink()
	pi.Narinfo.NarSha256 = [32]byte{1, 2, 3}
	pi.Narinfo.NarSize = 4096
	pi.Narinfo.Signatures = []pathinfo.Signature{{Name: "cache.example.org-1", Data: []byte("sigbytes")}}
	pi.Narinfo.Deriver = "00000000000000000000000000000000-dummy.drv"

	raw, err := pathinfo.MarshalPathInfo(pi)
	require.NoError(t, err)

	got, err := pathinfo.UnmarshalPathInfo(raw)
	require.NoError(t, err)

	require.Equal(t, pi.Node.Symlink.Name, got.Node.Symlink.Name)
	require.Equal(t, pi.Node.Symlink.Target, got.Node.Symlink.Target)
	require.Equal(t, pi.References, got.References)
	require.Equal(t, pi.Narinfo.NarSha256, got.Narinfo.NarSha256)
	require.Equal(t, pi.Narinfo.NarSize, got.Narinfo.NarSize)
	require.Equal(t, pi.Narinfo.Signatures, got.Narinfo.Signatures)
	require.Equal(t, pi.Narinfo.Deriver, got.Narinfo.Deriver)
}
