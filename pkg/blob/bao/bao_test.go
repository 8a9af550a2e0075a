package bao_test

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tvixio/tvix/pkg/blob/bao"
)

func TestBuildAndVerifyAllLeaves(t *testing.T) {
	data := make([]byte, 14*1024) // 14 KiB, per spec.md §8 scenario 5
	rand.New(rand.NewSource(1)).Read(data)

	shift := uint8(2) // 4 KiB leaves
	tree, err := bao.Build(data, shift)
	require.NoError(t, err)
	require.Equal(t, 4, tree.LeafCount) // ceil(14/4) == 4

	leafSize := bao.LeafSize(shift)
	root := tree.Root()
	for i := 0; i < tree.LeafCount; i++ {
		start := i * leafSize
		end := start + leafSize
		if end > len(data) {
			end = len(data)
		}
		proof, err := tree.ProveLeaf(i)
		require.NoError(t, err)
		require.NoError(t, bao.VerifyLeaf(root, data[start:end], proof))
	}
}

func TestVerifyLeafRejectsTampering(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 5000)
	tree, err := bao.Build(data, 2)
	require.NoError(t, err)
	root := tree.Root()

	proof, err := tree.ProveLeaf(0)
	require.NoError(t, err)

	tampered := append([]byte(nil), data[:bao.LeafSize(2)]...)
	tampered[0] ^= 0x01
	require.Error(t, bao.VerifyLeaf(root, tampered, proof))

	proof.LeafIndex = 0
	require.NoError(t, bao.VerifyLeaf(root, data[:bao.LeafSize(2)], proof))
}

func TestSingleLeafBlob(t *testing.T) {
	data := []byte{0x01}
	tree, err := bao.Build(data, 0)
	require.NoError(t, err)
	require.Equal(t, 1, tree.LeafCount)

	proof, err := tree.ProveLeaf(0)
	require.NoError(t, err)
	require.NoError(t, bao.VerifyLeaf(tree.Root(), data, proof))
}
