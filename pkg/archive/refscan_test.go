package archive_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tvixio/tvix/pkg/archive"
)

func TestScannerFindsNeedlesInOrderOfFirstOccurrence(t *testing.T) {
	needleA := bytes.Repeat([]byte("a"), 32)
	needleB := bytes.Repeat([]byte("b"), 32)
	needleC := bytes.Repeat([]byte("c"), 32)

	s := archive.NewScanner([][]byte{needleA, needleB, needleC})

	var data bytes.Buffer
	data.WriteString("prefix ")
	data.Write(needleB)
	data.WriteString(" middle ")
	data.Write(needleA)
	data.WriteString(" suffix, no C here")

	_, err := io.Copy(s, &data)
	require.NoError(t, err)

	refs := s.References()
	require.Len(t, refs, 2)
	require.Equal(t, needleB, refs[0])
	require.Equal(t, needleA, refs[1])
}

func TestScannerCatchesMatchSpanningWriteBoundary(t *testing.T) {
	needle := []byte("0123456789abcdef0123456789abcdef")

	s := archive.NewScanner([][]byte{needle})

	half := len(needle) / 2
	_, err := s.Write(needle[:half])
	require.NoError(t, err)
	_, err = s.Write(needle[half:])
	require.NoError(t, err)

	refs := s.References()
	require.Len(t, refs, 1)
	require.Equal(t, needle, refs[0])
}
