package rpc

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	castorev1 "github.com/tvixio/tvix/pkg/castorev1"
	"github.com/tvixio/tvix/pkg/pathinfo"
)

// Wire messages for the three services. Field numbering mirrors the
// *.proto layout implied by castore-go/rpc_blobstore_grpc.pb.go and
// store/protos/rpc_pathinfo_grpc.pb.go; there is no vendored .proto in the
// pack, so field numbers here are this module's own, stable by convention
// (1-based, in struct declaration order, except StatBlobResponse, whose
// ChunkDigests/ChunkSizes pairs share field 1 as nested entries) rather
// than copied from a file we don't have.

// --- BlobService ---

type StatBlobRequest struct {
	Digest   castorev1.Digest
	SendBao  bool
	BaoShift uint8
}

func (m *StatBlobRequest) MarshalWire() ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, m.Digest.Bytes())
	if m.SendBao {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	if m.BaoShift != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.BaoShift))
	}
	return b, nil
}

func (m *StatBlobRequest) UnmarshalWire(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("consume tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("consume digest: %w", protowire.ParseError(n))
			}
			d, err := castorev1.ParseDigest(v)
			if err != nil {
				return err
			}
			m.Digest = d
			b = b[n:]
		case 2:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("consume send_bao: %w", protowire.ParseError(n))
			}
			m.SendBao = v != 0
			b = b[n:]
		case 3:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("consume bao_shift: %w", protowire.ParseError(n))
			}
			m.BaoShift = uint8(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("skip field: %w", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

// StatBlobResponse carries the physical chunk list and (optionally) a flat
// encoding of the BAO tree nodes, per spec.md §3/§6. BaoNodes is level-major
// (leaf level first) but flat; BaoLevelCounts records how many nodes belong
// to each level, in the same order, so the tree's level boundaries survive
// the wire round trip instead of collapsing into one flat level.
type StatBlobResponse struct {
	ChunkDigests   [][]byte
	ChunkSizes     []uint64
	BaoNodes       [][]byte // one 32-byte hash per entry, level-major; empty if not requested
	BaoLevelCounts []uint64 // number of BaoNodes entries in each level, leaf level first
}

func (m *StatBlobResponse) MarshalWire() ([]byte, error) {
	var b []byte
	for i := range m.ChunkDigests {
		var entry []byte
		entry = protowire.AppendTag(entry, 1, protowire.BytesType)
		entry = protowire.AppendBytes(entry, m.ChunkDigests[i])
		entry = protowire.AppendTag(entry, 2, protowire.VarintType)
		entry = protowire.AppendVarint(entry, m.ChunkSizes[i])

		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}
	for _, node := range m.BaoNodes {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, node)
	}
	for _, count := range m.BaoLevelCounts {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, count)
	}
	return b, nil
}

func (m *StatBlobResponse) UnmarshalWire(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("consume tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("consume chunk: %w", protowire.ParseError(n))
			}
			digest, size, err := parseChunkEntry(v)
			if err != nil {
				return err
			}
			m.ChunkDigests = append(m.ChunkDigests, digest)
			m.ChunkSizes = append(m.ChunkSizes, size)
			b = b[n:]
		case 2:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("consume bao node: %w", protowire.ParseError(n))
			}
			m.BaoNodes = append(m.BaoNodes, append([]byte(nil), v...))
			b = b[n:]
		case 3:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("consume bao level count: %w", protowire.ParseError(n))
			}
			m.BaoLevelCounts = append(m.BaoLevelCounts, v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("skip field: %w", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

func parseChunkEntry(b []byte) (digest []byte, size uint64, err error) {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, 0, fmt.Errorf("consume chunk tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, 0, fmt.Errorf("consume chunk digest: %w", protowire.ParseError(n))
			}
			digest = append([]byte(nil), v...)
			b = b[n:]
		case 2:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, 0, fmt.Errorf("consume chunk size: %w", protowire.ParseError(n))
			}
			size = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, 0, fmt.Errorf("skip field: %w", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return digest, size, nil
}

type ReadBlobRequest struct {
	Digest castorev1.Digest
	Start  int64
	End    int64 // 0, together with Start 0, means the whole blob
}

func (m *ReadBlobRequest) MarshalWire() ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, m.Digest.Bytes())
	if m.Start != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.Start))
	}
	if m.End != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.End))
	}
	return b, nil
}

func (m *ReadBlobRequest) UnmarshalWire(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("consume tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("consume digest: %w", protowire.ParseError(n))
			}
			d, err := castorev1.ParseDigest(v)
			if err != nil {
				return err
			}
			m.Digest = d
			b = b[n:]
		case 2:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("consume start: %w", protowire.ParseError(n))
			}
			m.Start = int64(v)
			b = b[n:]
		case 3:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("consume end: %w", protowire.ParseError(n))
			}
			m.End = int64(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("skip field: %w", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

// BlobChunk is the streamed unit for both Read and Put, per
// castore-go/rpc_blobstore_grpc.pb.go.
type BlobChunk struct {
	Data []byte
}

func (m *BlobChunk) MarshalWire() ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, m.Data)
	return b, nil
}

func (m *BlobChunk) UnmarshalWire(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("consume tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("consume data: %w", protowire.ParseError(n))
			}
			m.Data = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("skip field: %w", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

type PutBlobResponse struct {
	Digest castorev1.Digest
}

func (m *PutBlobResponse) MarshalWire() ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, m.Digest.Bytes())
	return b, nil
}

func (m *PutBlobResponse) UnmarshalWire(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("consume tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("consume digest: %w", protowire.ParseError(n))
			}
			d, err := castorev1.ParseDigest(v)
			if err != nil {
				return err
			}
			m.Digest = d
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("skip field: %w", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

// --- DirectoryService ---

type GetDirectoryRequest struct {
	Digest    castorev1.Digest
	Recursive bool
}

func (m *GetDirectoryRequest) MarshalWire() ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, m.Digest.Bytes())
	if m.Recursive {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	return b, nil
}

func (m *GetDirectoryRequest) UnmarshalWire(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("consume tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("consume digest: %w", protowire.ParseError(n))
			}
			d, err := castorev1.ParseDigest(v)
			if err != nil {
				return err
			}
			m.Digest = d
			b = b[n:]
		case 2:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("consume recursive: %w", protowire.ParseError(n))
			}
			m.Recursive = v != 0
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("skip field: %w", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

// DirectoryMsg wraps a castorev1.Directory so it can flow over a wireMessage
// stream (DirectoryService's Get is server-streaming for the recursive
// case).
type DirectoryMsg struct {
	Directory *castorev1.Directory
}

func (m *DirectoryMsg) MarshalWire() ([]byte, error) {
	return castorev1.MarshalDirectory(m.Directory)
}

func (m *DirectoryMsg) UnmarshalWire(b []byte) error {
	d, err := castorev1.UnmarshalDirectory(b)
	if err != nil {
		return err
	}
	m.Directory = d
	return nil
}

type PutDirectoryResponse struct {
	Digest castorev1.Digest
}

func (m *PutDirectoryResponse) MarshalWire() ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, m.Digest.Bytes())
	return b, nil
}

func (m *PutDirectoryResponse) UnmarshalWire(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("consume tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("consume digest: %w", protowire.ParseError(n))
			}
			d, err := castorev1.ParseDigest(v)
			if err != nil {
				return err
			}
			m.Digest = d
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("skip field: %w", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

// --- PathInfoService ---

type GetPathInfoRequest struct {
	OutputHash []byte
}

func (m *GetPathInfoRequest) MarshalWire() ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, m.OutputHash)
	return b, nil
}

func (m *GetPathInfoRequest) UnmarshalWire(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("consume tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("consume output_hash: %w", protowire.ParseError(n))
			}
			m.OutputHash = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("skip field: %w", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

// PathInfoMsg wraps a pathinfo.PathInfo for wire transport.
type PathInfoMsg struct {
	PathInfo *pathinfo.PathInfo
}

func (m *PathInfoMsg) MarshalWire() ([]byte, error) {
	return pathinfo.MarshalPathInfo(m.PathInfo)
}

func (m *PathInfoMsg) UnmarshalWire(b []byte) error {
	p, err := pathinfo.UnmarshalPathInfo(b)
	if err != nil {
		return err
	}
	m.PathInfo = p
	return nil
}

// CalculateNARResponse carries the result of PathInfoService's
// CalculateNAR, per spec.md §4.3.
type CalculateNARResponse struct {
	NarSha256 [32]byte
	NarSize   uint64
}

func (m *CalculateNARResponse) MarshalWire() ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, m.NarSha256[:])
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, m.NarSize)
	return b, nil
}

func (m *CalculateNARResponse) UnmarshalWire(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("consume tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 || len(v) != 32 {
				return fmt.Errorf("consume nar_sha256: %w", protowire.ParseError(n))
			}
			copy(m.NarSha256[:], v)
			b = b[n:]
		case 2:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("consume nar_size: %w", protowire.ParseError(n))
			}
			m.NarSize = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("skip field: %w", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}
