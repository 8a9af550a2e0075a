package rpc

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"

	castorev1 "github.com/tvixio/tvix/pkg/castorev1"
	"github.com/tvixio/tvix/pkg/directory"
)

// No rpc_directorystore_grpc.pb.go exists anywhere in the example pack (only
// rpc_blobstore and rpc_pathinfo do); this service's shape is grounded on
// the same Get/Put/streaming pattern those two demonstrate, generalized
// to DirectoryService's Get (server-streaming, to carry GetRecursive) and
// Put (unary, mirroring PathInfoService.Put) per spec.md §4.2/§6.
const (
	directoryServiceName = "tvix.castore.v1.DirectoryService"
	directoryGetMethod   = "/" + directoryServiceName + "/Get"
	directoryPutMethod   = "/" + directoryServiceName + "/Put"
)

type DirectoryServiceClient interface {
	Get(ctx context.Context, in *GetDirectoryRequest) (DirectoryGetClient, error)
	Put(ctx context.Context, in *DirectoryMsg) (*PutDirectoryResponse, error)
}

type DirectoryGetClient interface {
	Recv() (*DirectoryMsg, error)
}

type directoryServiceClient struct{ cc grpc.ClientConnInterface }

func NewDirectoryServiceClient(cc grpc.ClientConnInterface) DirectoryServiceClient {
	return &directoryServiceClient{cc: cc}
}

func (c *directoryServiceClient) Get(ctx context.Context, in *GetDirectoryRequest) (DirectoryGetClient, error) {
	stream, err := c.cc.NewStream(ctx, &grpc.StreamDesc{StreamName: "Get", ServerStreams: true}, directoryGetMethod, callOpts()...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &directoryGetClient{stream}, nil
}

type directoryGetClient struct{ grpc.ClientStream }

func (x *directoryGetClient) Recv() (*DirectoryMsg, error) {
	m := new(DirectoryMsg)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *directoryServiceClient) Put(ctx context.Context, in *DirectoryMsg) (*PutDirectoryResponse, error) {
	out := new(PutDirectoryResponse)
	if err := c.cc.Invoke(ctx, directoryPutMethod, in, out, callOpts()...); err != nil {
		return nil, err
	}
	return out, nil
}

type DirectoryServiceServer interface {
	Get(*GetDirectoryRequest, DirectoryGetServer) error
	Put(context.Context, *DirectoryMsg) (*PutDirectoryResponse, error)
}

type DirectoryGetServer interface {
	Send(*DirectoryMsg) error
}

func RegisterDirectoryServiceServer(s grpc.ServiceRegistrar, srv DirectoryServiceServer) {
	s.RegisterService(&directoryServiceDesc, srv)
}

var directoryServiceDesc = grpc.ServiceDesc{
	ServiceName: directoryServiceName,
	HandlerType: (*DirectoryServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Put",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				in := new(DirectoryMsg)
				if err := dec(in); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(DirectoryServiceServer).Put(ctx, in)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: directoryPutMethod}
				handler := func(ctx context.Context, req interface{}) (interface{}, error) {
					return srv.(DirectoryServiceServer).Put(ctx, req.(*DirectoryMsg))
				}
				return interceptor(ctx, in, info, handler)
			},
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName: "Get",
			Handler: func(srv interface{}, stream grpc.ServerStream) error {
				m := new(GetDirectoryRequest)
				if err := stream.RecvMsg(m); err != nil {
					return err
				}
				return srv.(DirectoryServiceServer).Get(m, &directoryGetServer{stream})
			},
			ServerStreams: true,
		},
	},
}

type directoryGetServer struct{ grpc.ServerStream }

func (x *directoryGetServer) Send(m *DirectoryMsg) error { return x.ServerStream.SendMsg(m) }

// DirServer wraps a local directory.Service to satisfy DirectoryServiceServer.
type DirServer struct {
	Directory directory.Service
}

var _ DirectoryServiceServer = (*DirServer)(nil)

func (s *DirServer) Get(in *GetDirectoryRequest, stream DirectoryGetServer) error {
	ctx := context.Background()
	if !in.Recursive {
		d, err := s.Directory.Get(ctx, in.Digest)
		if err != nil {
			return toStatus(err)
		}
		return stream.Send(&DirectoryMsg{Directory: d})
	}

	it := s.Directory.GetRecursive(ctx, in.Digest)
	for {
		d, ok, err := it()
		if err != nil {
			return toStatus(err)
		}
		if !ok {
			return nil
		}
		if err := stream.Send(&DirectoryMsg{Directory: d}); err != nil {
			return err
		}
	}
}

func (s *DirServer) Put(ctx context.Context, in *DirectoryMsg) (*PutDirectoryResponse, error) {
	digest, err := s.Directory.Put(ctx, in.Directory)
	if err != nil {
		return nil, toStatus(err)
	}
	return &PutDirectoryResponse{Digest: digest}, nil
}

// DirClient adapts a DirectoryServiceClient to directory.Service, for use
// as a composer tier per spec.md §4.7.
type DirClient struct {
	c DirectoryServiceClient
}

var _ directory.Service = (*DirClient)(nil)

func NewDirClient(c DirectoryServiceClient) *DirClient { return &DirClient{c: c} }

func (c *DirClient) Get(ctx context.Context, digest castorev1.Digest) (*castorev1.Directory, error) {
	stream, err := c.c.Get(ctx, &GetDirectoryRequest{Digest: digest})
	if err != nil {
		return nil, fromStatus(err)
	}
	m, err := stream.Recv()
	if err != nil {
		return nil, fromStatus(err)
	}
	return m.Directory, nil
}

func (c *DirClient) Put(ctx context.Context, d *castorev1.Directory) (castorev1.Digest, error) {
	resp, err := c.c.Put(ctx, &DirectoryMsg{Directory: d})
	if err != nil {
		return castorev1.Digest{}, fromStatus(err)
	}
	return resp.Digest, nil
}

func (c *DirClient) GetRecursive(ctx context.Context, root castorev1.Digest) directory.Iter {
	stream, err := c.c.Get(ctx, &GetDirectoryRequest{Digest: root, Recursive: true})
	if err != nil {
		wrapped := fromStatus(err)
		return func() (*castorev1.Directory, bool, error) { return nil, false, wrapped }
	}
	return func() (*castorev1.Directory, bool, error) {
		m, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, false, nil
			}
			return nil, false, fromStatus(err)
		}
		return m.Directory, true, nil
	}
}
