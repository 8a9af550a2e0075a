package rpc

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"

	castorev1 "github.com/tvixio/tvix/pkg/castorev1"
	"github.com/tvixio/tvix/pkg/pathinfo"
)

// Method shapes grounded on store/protos/rpc_pathinfo_grpc.pb.go's
// PathInfoServiceClient/Server (unary Get/Put), with List and CalculateNAR
// added per spec.md §4.3/§6 (List server-streams, CalculateNAR is unary).
const (
	pathInfoServiceName   = "tvix.store.v1.PathInfoService"
	pathInfoGetMethod     = "/" + pathInfoServiceName + "/Get"
	pathInfoPutMethod     = "/" + pathInfoServiceName + "/Put"
	pathInfoListMethod    = "/" + pathInfoServiceName + "/List"
	pathInfoCalcNARMethod = "/" + pathInfoServiceName + "/CalculateNAR"
)

type PathInfoServiceClient interface {
	Get(ctx context.Context, in *GetPathInfoRequest) (*PathInfoMsg, error)
	Put(ctx context.Context, in *PathInfoMsg) (*PathInfoMsg, error)
	List(ctx context.Context) (PathInfoListClient, error)
	CalculateNAR(ctx context.Context, in *castorev1.Node) (*CalculateNARResponse, error)
}

type PathInfoListClient interface {
	Recv() (*PathInfoMsg, error)
}

type pathInfoServiceClient struct{ cc grpc.ClientConnInterface }

func NewPathInfoServiceClient(cc grpc.ClientConnInterface) PathInfoServiceClient {
	return &pathInfoServiceClient{cc: cc}
}

func (c *pathInfoServiceClient) Get(ctx context.Context, in *GetPathInfoRequest) (*PathInfoMsg, error) {
	out := new(PathInfoMsg)
	if err := c.cc.Invoke(ctx, pathInfoGetMethod, in, out, callOpts()...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *pathInfoServiceClient) Put(ctx context.Context, in *PathInfoMsg) (*PathInfoMsg, error) {
	out := new(PathInfoMsg)
	if err := c.cc.Invoke(ctx, pathInfoPutMethod, in, out, callOpts()...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *pathInfoServiceClient) List(ctx context.Context) (PathInfoListClient, error) {
	stream, err := c.cc.NewStream(ctx, &grpc.StreamDesc{StreamName: "List", ServerStreams: true}, pathInfoListMethod, callOpts()...)
	if err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &pathInfoListClient{stream}, nil
}

type pathInfoListClient struct{ grpc.ClientStream }

func (x *pathInfoListClient) Recv() (*PathInfoMsg, error) {
	m := new(PathInfoMsg)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *pathInfoServiceClient) CalculateNAR(ctx context.Context, in *castorev1.Node) (*CalculateNARResponse, error) {
	out := new(CalculateNARResponse)
	nodeMsg := &nodeRequest{Node: in}
	if err := c.cc.Invoke(ctx, pathInfoCalcNARMethod, nodeMsg, out, callOpts()...); err != nil {
		return nil, err
	}
	return out, nil
}

// nodeRequest wraps a castorev1.Node as a wireMessage for the
// CalculateNAR request body.
type nodeRequest struct{ Node *castorev1.Node }

func (m *nodeRequest) MarshalWire() ([]byte, error) { return castorev1.MarshalNode(m.Node) }
func (m *nodeRequest) UnmarshalWire(b []byte) error {
	n, err := castorev1.UnmarshalNode(b)
	if err != nil {
		return err
	}
	m.Node = n
	return nil
}

type PathInfoServiceServer interface {
	Get(context.Context, *GetPathInfoRequest) (*PathInfoMsg, error)
	Put(context.Context, *PathInfoMsg) (*PathInfoMsg, error)
	List(PathInfoListServer) error
	CalculateNAR(context.Context, *castorev1.Node) (*CalculateNARResponse, error)
}

type PathInfoListServer interface {
	Send(*PathInfoMsg) error
}

func RegisterPathInfoServiceServer(s grpc.ServiceRegistrar, srv PathInfoServiceServer) {
	s.RegisterService(&pathInfoServiceDesc, srv)
}

var pathInfoServiceDesc = grpc.ServiceDesc{
	ServiceName: pathInfoServiceName,
	HandlerType: (*PathInfoServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Get",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				in := new(GetPathInfoRequest)
				if err := dec(in); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(PathInfoServiceServer).Get(ctx, in)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: pathInfoGetMethod}
				handler := func(ctx context.Context, req interface{}) (interface{}, error) {
					return srv.(PathInfoServiceServer).Get(ctx, req.(*GetPathInfoRequest))
				}
				return interceptor(ctx, in, info, handler)
			},
		},
		{
			MethodName: "Put",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				in := new(PathInfoMsg)
				if err := dec(in); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(PathInfoServiceServer).Put(ctx, in)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: pathInfoPutMethod}
				handler := func(ctx context.Context, req interface{}) (interface{}, error) {
					return srv.(PathInfoServiceServer).Put(ctx, req.(*PathInfoMsg))
				}
				return interceptor(ctx, in, info, handler)
			},
		},
		{
			MethodName: "CalculateNAR",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				in := new(nodeRequest)
				if err := dec(in); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(PathInfoServiceServer).CalculateNAR(ctx, in.Node)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: pathInfoCalcNARMethod}
				handler := func(ctx context.Context, req interface{}) (interface{}, error) {
					return srv.(PathInfoServiceServer).CalculateNAR(ctx, req.(*nodeRequest).Node)
				}
				return interceptor(ctx, in, info, handler)
			},
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName: "List",
			Handler: func(srv interface{}, stream grpc.ServerStream) error {
				return srv.(PathInfoServiceServer).List(&pathInfoListServer{stream})
			},
			ServerStreams: true,
		},
	},
}

type pathInfoListServer struct{ grpc.ServerStream }

func (x *pathInfoListServer) Send(m *PathInfoMsg) error { return x.ServerStream.SendMsg(m) }

// PathInfoServer wraps a local pathinfo.Service to satisfy
// PathInfoServiceServer.
type PathInfoServer struct {
	PathInfo pathinfo.Service
}

var _ PathInfoServiceServer = (*PathInfoServer)(nil)

func (s *PathInfoServer) Get(ctx context.Context, in *GetPathInfoRequest) (*PathInfoMsg, error) {
	p, err := s.PathInfo.Get(ctx, in.OutputHash)
	if err != nil {
		return nil, toStatus(err)
	}
	return &PathInfoMsg{PathInfo: p}, nil
}

func (s *PathInfoServer) Put(ctx context.Context, in *PathInfoMsg) (*PathInfoMsg, error) {
	p, err := s.PathInfo.Put(ctx, in.PathInfo)
	if err != nil {
		return nil, toStatus(err)
	}
	return &PathInfoMsg{PathInfo: p}, nil
}

func (s *PathInfoServer) List(stream PathInfoListServer) error {
	it := s.PathInfo.List(context.Background())
	for {
		p, ok, err := it()
		if err != nil {
			return toStatus(err)
		}
		if !ok {
			return nil
		}
		if err := stream.Send(&PathInfoMsg{PathInfo: p}); err != nil {
			return err
		}
	}
}

func (s *PathInfoServer) CalculateNAR(ctx context.Context, node *castorev1.Node) (*CalculateNARResponse, error) {
	sha, size, err := s.PathInfo.CalculateNAR(ctx, node)
	if err != nil {
		return nil, toStatus(err)
	}
	return &CalculateNARResponse{NarSha256: sha, NarSize: size}, nil
}

// PathInfoClient adapts a PathInfoServiceClient to pathinfo.Service, for
// use as a composer tier.
type PathInfoClient struct {
	c PathInfoServiceClient
}

var _ pathinfo.Service = (*PathInfoClient)(nil)

func NewPathInfoClient(c PathInfoServiceClient) *PathInfoClient { return &PathInfoClient{c: c} }

func (c *PathInfoClient) Get(ctx context.Context, outputHash []byte) (*pathinfo.PathInfo, error) {
	resp, err := c.c.Get(ctx, &GetPathInfoRequest{OutputHash: outputHash})
	if err != nil {
		return nil, fromStatus(err)
	}
	return resp.PathInfo, nil
}

func (c *PathInfoClient) Put(ctx context.Context, p *pathinfo.PathInfo) (*pathinfo.PathInfo, error) {
	resp, err := c.c.Put(ctx, &PathInfoMsg{PathInfo: p})
	if err != nil {
		return nil, fromStatus(err)
	}
	return resp.PathInfo, nil
}

func (c *PathInfoClient) List(ctx context.Context) pathinfo.Iter {
	stream, err := c.c.List(ctx)
	if err != nil {
		wrapped := fromStatus(err)
		return func() (*pathinfo.PathInfo, bool, error) { return nil, false, wrapped }
	}
	return func() (*pathinfo.PathInfo, bool, error) {
		m, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, false, nil
			}
			return nil, false, fromStatus(err)
		}
		return m.PathInfo, true, nil
	}
}

func (c *PathInfoClient) CalculateNAR(ctx context.Context, node *castorev1.Node) ([32]byte, uint64, error) {
	resp, err := c.c.CalculateNAR(ctx, node)
	if err != nil {
		return [32]byte{}, 0, fromStatus(err)
	}
	return resp.NarSha256, resp.NarSize, nil
}
