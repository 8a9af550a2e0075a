package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tvixio/tvix/pkg/blob"
	"github.com/tvixio/tvix/pkg/blob/bao"
	castorev1 "github.com/tvixio/tvix/pkg/castorev1"
	"github.com/tvixio/tvix/pkg/store"
)

// Method names and ServiceDesc, grounded on
// castore-go/rpc_blobstore_grpc.pb.go's BlobService_ServiceDesc.
const (
	blobServiceName = "tvix.castore.v1.BlobService"
	blobStatMethod  = "/" + blobServiceName + "/Stat"
	blobReadMethod  = "/" + blobServiceName + "/Read"
	blobPutMethod   = "/" + blobServiceName + "/Put"
)

func callOpts() []grpc.CallOption {
	return []grpc.CallOption{grpc.CallContentSubtype(codecName)}
}

// BlobServiceClient is the client-side RPC surface, mirroring
// castore-go/rpc_blobstore_grpc.pb.go's BlobServiceClient.
type BlobServiceClient interface {
	Stat(ctx context.Context, in *StatBlobRequest) (*StatBlobResponse, error)
	Read(ctx context.Context, in *ReadBlobRequest) (BlobReadClient, error)
	Put(ctx context.Context) (BlobPutClient, error)
}

type BlobReadClient interface {
	Recv() (*BlobChunk, error)
}

type BlobPutClient interface {
	Send(*BlobChunk) error
	CloseAndRecv() (*PutBlobResponse, error)
}

type blobServiceClient struct{ cc grpc.ClientConnInterface }

func NewBlobServiceClient(cc grpc.ClientConnInterface) BlobServiceClient {
	return &blobServiceClient{cc: cc}
}

func (c *blobServiceClient) Stat(ctx context.Context, in *StatBlobRequest) (*StatBlobResponse, error) {
	out := new(StatBlobResponse)
	if err := c.cc.Invoke(ctx, blobStatMethod, in, out, callOpts()...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *blobServiceClient) Read(ctx context.Context, in *ReadBlobRequest) (BlobReadClient, error) {
	stream, err := c.cc.NewStream(ctx, &grpc.StreamDesc{StreamName: "Read", ServerStreams: true}, blobReadMethod, callOpts()...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &blobReadClient{stream}, nil
}

type blobReadClient struct{ grpc.ClientStream }

func (x *blobReadClient) Recv() (*BlobChunk, error) {
	m := new(BlobChunk)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *blobServiceClient) Put(ctx context.Context) (BlobPutClient, error) {
	stream, err := c.cc.NewStream(ctx, &grpc.StreamDesc{StreamName: "Put", ClientStreams: true}, blobPutMethod, callOpts()...)
	if err != nil {
		return nil, err
	}
	return &blobPutClient{stream}, nil
}

type blobPutClient struct{ grpc.ClientStream }

func (x *blobPutClient) Send(m *BlobChunk) error { return x.ClientStream.SendMsg(m) }

func (x *blobPutClient) CloseAndRecv() (*PutBlobResponse, error) {
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	m := new(PutBlobResponse)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// BlobServiceServer is the server-side RPC surface.
type BlobServiceServer interface {
	Stat(context.Context, *StatBlobRequest) (*StatBlobResponse, error)
	Read(*ReadBlobRequest, BlobReadServer) error
	Put(BlobPutServer) error
}

type BlobReadServer interface {
	Send(*BlobChunk) error
}

type BlobPutServer interface {
	Recv() (*BlobChunk, error)
	SendAndClose(*PutBlobResponse) error
}

func RegisterBlobServiceServer(s grpc.ServiceRegistrar, srv BlobServiceServer) {
	s.RegisterService(&blobServiceDesc, srv)
}

var blobServiceDesc = grpc.ServiceDesc{
	ServiceName: blobServiceName,
	HandlerType: (*BlobServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Stat",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				in := new(StatBlobRequest)
				if err := dec(in); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(BlobServiceServer).Stat(ctx, in)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: blobStatMethod}
				handler := func(ctx context.Context, req interface{}) (interface{}, error) {
					return srv.(BlobServiceServer).Stat(ctx, req.(*StatBlobRequest))
				}
				return interceptor(ctx, in, info, handler)
			},
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName: "Read",
			Handler: func(srv interface{}, stream grpc.ServerStream) error {
				m := new(ReadBlobRequest)
				if err := stream.RecvMsg(m); err != nil {
					return err
				}
				return srv.(BlobServiceServer).Read(m, &blobReadServer{stream})
			},
			ServerStreams: true,
		},
		{
			StreamName: "Put",
			Handler: func(srv interface{}, stream grpc.ServerStream) error {
				return srv.(BlobServiceServer).Put(&blobPutServer{stream})
			},
			ClientStreams: true,
		},
	},
}

type blobReadServer struct{ grpc.ServerStream }

func (x *blobReadServer) Send(m *BlobChunk) error { return x.ServerStream.SendMsg(m) }

type blobPutServer struct{ grpc.ServerStream }

func (x *blobPutServer) Recv() (*BlobChunk, error) {
	m := new(BlobChunk)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (x *blobPutServer) SendAndClose(m *PutBlobResponse) error { return x.ServerStream.SendMsg(m) }

// --- server adapter: exposes a local blob.Service over gRPC ---

const blobStreamChunkSize = 1 << 20 // 1 MiB per BlobChunk, as castore-go's docs recommend

// Server wraps a blob.Service to satisfy BlobServiceServer, translating
// store.Err* sentinels to grpc status codes per spec.md §7.
type Server struct {
	Blob blob.Service
}

var _ BlobServiceServer = (*Server)(nil)

func (s *Server) Stat(ctx context.Context, in *StatBlobRequest) (*StatBlobResponse, error) {
	st, err := s.Blob.Stat(ctx, in.Digest, blob.StatOptions{SendBao: in.SendBao, BaoShift: in.BaoShift})
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &StatBlobResponse{}
	for _, c := range st.Chunks {
		resp.ChunkDigests = append(resp.ChunkDigests, c.Digest.Bytes())
		resp.ChunkSizes = append(resp.ChunkSizes, c.Size)
	}
	if st.Tree != nil {
		for _, level := range st.Tree.Levels {
			resp.BaoLevelCounts = append(resp.BaoLevelCounts, uint64(len(level)))
			for _, h := range level {
				hCopy := h
				resp.BaoNodes = append(resp.BaoNodes, hCopy[:])
			}
		}
	}
	return resp, nil
}

func (s *Server) Read(in *ReadBlobRequest, stream BlobReadServer) error {
	var r io.ReadCloser
	var err error
	if in.End == 0 && in.Start == 0 {
		r, err = s.Blob.Open(context.Background(), in.Digest)
	} else {
		r, err = s.Blob.OpenRange(context.Background(), in.Digest, in.Start, in.End)
	}
	if err != nil {
		return toStatus(err)
	}
	defer r.Close()

	buf := make([]byte, blobStreamChunkSize)
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			if sendErr := stream.Send(&BlobChunk{Data: append([]byte(nil), buf[:n]...)}); sendErr != nil {
				return sendErr
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return toStatus(readErr)
		}
	}
}

func (s *Server) Put(stream BlobPutServer) error {
	w, err := s.Blob.OpenWrite(context.Background())
	if err != nil {
		return toStatus(err)
	}
	for {
		chunk, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		if _, err := w.Write(chunk.Data); err != nil {
			return toStatus(err)
		}
	}
	if err := w.Close(); err != nil {
		return toStatus(err)
	}
	return stream.SendAndClose(&PutBlobResponse{Digest: w.Digest()})
}

// --- client adapter: makes a remote BlobService usable as a blob.Service tier ---

// Client adapts a BlobServiceClient to blob.Service, for use as a composer
// tier per spec.md §4.7.
type Client struct {
	c BlobServiceClient
}

var _ blob.Service = (*Client)(nil)

func NewClient(c BlobServiceClient) *Client { return &Client{c: c} }

func (c *Client) Has(ctx context.Context, digest castorev1.Digest) (bool, error) {
	_, err := c.c.Stat(ctx, &StatBlobRequest{Digest: digest})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, fromStatus(err)
	}
	return true, nil
}

// defaultReadShift is the bao_shift a Client requests when authenticating a
// read: 0 means 1 KiB leaves, the smallest (and thus strictest) logical
// verification unit spec.md §3 defines.
const defaultReadShift uint8 = 0

func (c *Client) Open(ctx context.Context, digest castorev1.Digest) (io.ReadCloser, error) {
	return c.openVerified(ctx, digest, 0, 0)
}

func (c *Client) OpenRange(ctx context.Context, digest castorev1.Digest, start, end int64) (io.ReadCloser, error) {
	return c.openVerified(ctx, digest, start, end)
}

// openVerified authenticates every BAO leaf covering [start, end) against
// the tree the remote's own Stat call returns before handing any of its
// bytes to the caller, per spec.md §4.1 ("a byte MUST NOT be yielded ...
// before the enclosing verified leaf has been authenticated") and the
// tampering property in spec.md §8. end==0 (with start==0) means "to the
// end of the blob", matching ReadBlobRequest's own convention.
func (c *Client) openVerified(ctx context.Context, digest castorev1.Digest, start, end int64) (io.ReadCloser, error) {
	st, err := c.Stat(ctx, digest, blob.StatOptions{SendBao: true, BaoShift: defaultReadShift})
	if err != nil {
		return nil, err
	}
	if st.Tree == nil {
		return nil, fmt.Errorf("remote returned no bao tree to authenticate reads against: %w", store.ErrIntegrity)
	}

	var totalLen int64
	for _, ch := range st.Chunks {
		totalLen += int64(ch.Size)
	}
	if start == 0 && end == 0 {
		end = totalLen
	}
	if start < 0 || end > totalLen || start > end {
		return nil, fmt.Errorf("range [%d,%d) out of bounds for %d-byte blob: %w", start, end, totalLen, store.ErrInvalid)
	}

	leafSize := bao.LeafSize(defaultReadShift)
	startLeaf := int(start) / leafSize
	endLeaf := startLeaf
	if end > 0 {
		endLeaf = int(end-1) / leafSize
	}
	windowStart := int64(startLeaf) * int64(leafSize)
	windowEnd := int64(endLeaf+1) * int64(leafSize)
	if windowEnd > totalLen {
		windowEnd = totalLen
	}

	readStart, readEnd := windowStart, windowEnd
	if windowStart == 0 && windowEnd == totalLen {
		readStart, readEnd = 0, 0
	}

	stream, err := c.c.Read(ctx, &ReadBlobRequest{Digest: digest, Start: readStart, End: readEnd})
	if err != nil {
		return nil, fromStatus(err)
	}

	return &verifiedReader{
		stream:    stream,
		tree:      st.Tree,
		totalLen:  totalLen,
		leafSize:  leafSize,
		leafIndex: startLeaf,
		skip:      int(start - windowStart),
		remaining: end - start,
	}, nil
}

// verifiedReader authenticates each BAO leaf pulled off a BlobReadClient
// stream against tree before exposing its bytes through Read, so a tampered
// chunk anywhere in the remote's response surfaces as store.ErrIntegrity
// instead of silently reaching the caller (spec.md §4.1, §8).
type verifiedReader struct {
	stream    BlobReadClient
	tree      *bao.Tree
	totalLen  int64
	leafSize  int
	leafIndex int
	skip      int   // bytes to drop from the first authenticated leaf
	remaining int64 // bytes still owed to the caller

	pending []byte // raw stream bytes not yet grouped into a leaf
	out     []byte // authenticated bytes not yet returned to the caller
}

func (r *verifiedReader) Read(p []byte) (int, error) {
	for len(r.out) == 0 {
		if r.remaining <= 0 {
			return 0, io.EOF
		}
		if err := r.fillLeaf(); err != nil {
			return 0, err
		}
	}
	n := copy(p, r.out)
	r.out = r.out[n:]
	return n, nil
}

func (r *verifiedReader) leafWant(i int) int {
	start := i * r.leafSize
	end := start + r.leafSize
	if end > int(r.totalLen) {
		end = int(r.totalLen)
	}
	if end < start {
		end = start
	}
	return end - start
}

// fillLeaf pulls exactly one more leaf's worth of bytes off the stream
// (buffering across BlobChunk boundaries, since those carry no relation to
// leaf boundaries), authenticates it against r.tree, and appends whatever
// of it the caller actually asked for to r.out.
func (r *verifiedReader) fillLeaf() error {
	want := r.leafWant(r.leafIndex)
	for len(r.pending) < want {
		chunk, err := r.stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fromStatus(err)
		}
		r.pending = append(r.pending, chunk.Data...)
	}
	if len(r.pending) < want {
		return fmt.Errorf("leaf %d: stream ended after %d of %d bytes: %w", r.leafIndex, len(r.pending), want, store.ErrIntegrity)
	}
	leafBytes := r.pending[:want]
	r.pending = r.pending[want:]

	proof, err := r.tree.ProveLeaf(r.leafIndex)
	if err != nil {
		return fmt.Errorf("%s: %w", err.Error(), store.ErrIntegrity)
	}
	if err := bao.VerifyLeaf(r.tree.Root(), leafBytes, proof); err != nil {
		return fmt.Errorf("%s: %w", err.Error(), store.ErrIntegrity)
	}
	r.leafIndex++

	if r.skip > 0 {
		if r.skip >= len(leafBytes) {
			r.skip -= len(leafBytes)
			return nil
		}
		leafBytes = leafBytes[r.skip:]
		r.skip = 0
	}
	if int64(len(leafBytes)) > r.remaining {
		leafBytes = leafBytes[:r.remaining]
	}
	r.remaining -= int64(len(leafBytes))
	r.out = append(r.out, leafBytes...)
	return nil
}

func (r *verifiedReader) Close() error { return nil }

type clientWriter struct {
	stream BlobPutClient
	digest castorev1.Digest
}

func (w *clientWriter) Write(p []byte) (int, error) {
	if err := w.stream.Send(&BlobChunk{Data: p}); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *clientWriter) Close() error {
	resp, err := w.stream.CloseAndRecv()
	if err != nil {
		return fromStatus(err)
	}
	w.digest = resp.Digest
	return nil
}

func (w *clientWriter) Digest() castorev1.Digest { return w.digest }

func (c *Client) OpenWrite(ctx context.Context) (blob.Writer, error) {
	stream, err := c.c.Put(ctx)
	if err != nil {
		return nil, fromStatus(err)
	}
	return &clientWriter{stream: stream}, nil
}

func (c *Client) Stat(ctx context.Context, digest castorev1.Digest, opts blob.StatOptions) (*blob.Stat, error) {
	resp, err := c.c.Stat(ctx, &StatBlobRequest{Digest: digest, SendBao: opts.SendBao, BaoShift: opts.BaoShift})
	if err != nil {
		return nil, fromStatus(err)
	}
	st := &blob.Stat{BaoShift: opts.BaoShift}
	for i := range resp.ChunkDigests {
		d, err := castorev1.ParseDigest(resp.ChunkDigests[i])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrIntegrity, err)
		}
		st.Chunks = append(st.Chunks, blob.PhysicalChunk{Digest: d, Size: resp.ChunkSizes[i]})
	}
	if len(resp.BaoNodes) > 0 {
		tree, err := reconstructTree(opts.BaoShift, resp.BaoNodes, resp.BaoLevelCounts)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", err.Error(), store.ErrIntegrity)
		}
		st.Tree = tree
	}
	return st, nil
}

// reconstructTree rebuilds a *bao.Tree from StatBlobResponse's flat
// level-major BaoNodes, using levelCounts to restore the level boundaries
// Server.Stat recorded — without them every node would collapse into a
// single Levels[0], and ProveLeaf/VerifyLeaf could not walk the tree.
func reconstructTree(shift uint8, nodes [][]byte, levelCounts []uint64) (*bao.Tree, error) {
	if len(levelCounts) == 0 {
		return nil, fmt.Errorf("bao tree response carries nodes but no level counts")
	}
	tree := &bao.Tree{Shift: shift}
	var offset int
	for _, count := range levelCounts {
		n := int(count)
		if offset+n > len(nodes) {
			return nil, fmt.Errorf("bao level count %d exceeds remaining nodes", n)
		}
		level := make([][32]byte, n)
		for i := 0; i < n; i++ {
			if len(nodes[offset+i]) != 32 {
				return nil, fmt.Errorf("bao node %d is %d bytes, want 32", offset+i, len(nodes[offset+i]))
			}
			copy(level[i][:], nodes[offset+i])
		}
		tree.Levels = append(tree.Levels, level)
		offset += n
	}
	if offset != len(nodes) {
		return nil, fmt.Errorf("bao level counts cover %d nodes, response carries %d", offset, len(nodes))
	}
	tree.LeafCount = len(tree.Levels[0])
	return tree, nil
}

// toStatus translates a store.Err* sentinel into a grpc status error, per
// spec.md §7's error taxonomy.
func toStatus(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, store.ErrIntegrity):
		return status.Error(codes.DataLoss, err.Error())
	case errors.Is(err, store.ErrInvalid):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, store.ErrUnimplemented):
		return status.Error(codes.Unimplemented, err.Error())
	case errors.Is(err, store.ErrPermissionDenied):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, store.ErrIO):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, store.ErrCancelled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Unknown, err.Error())
	}
}

// fromStatus is toStatus's inverse, used by client adapters so composer
// tiers see the same sentinel errors regardless of backend kind.
func fromStatus(err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%s: %w", err.Error(), store.ErrNotFound)
	case codes.DataLoss:
		return fmt.Errorf("%s: %w", err.Error(), store.ErrIntegrity)
	case codes.InvalidArgument:
		return fmt.Errorf("%s: %w", err.Error(), store.ErrInvalid)
	case codes.Unimplemented:
		return fmt.Errorf("%s: %w", err.Error(), store.ErrUnimplemented)
	case codes.PermissionDenied:
		return fmt.Errorf("%s: %w", err.Error(), store.ErrPermissionDenied)
	case codes.Unavailable:
		return fmt.Errorf("%s: %w", err.Error(), store.ErrIO)
	case codes.Canceled:
		return fmt.Errorf("%s: %w", err.Error(), store.ErrCancelled)
	default:
		return err
	}
}
