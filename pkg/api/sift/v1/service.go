package siftv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully qualified grpc service name.
const ServiceName = "sift.v1.SiftDaemon"

// Full method names.
const (
	SiftDaemon_Analyze_FullMethodName       = "/" + ServiceName + "/Analyze"
	SiftDaemon_Rebuild_FullMethodName       = "/" + ServiceName + "/Rebuild"
	SiftDaemon_Duplicates_FullMethodName    = "/" + ServiceName + "/Duplicates"
	SiftDaemon_Find_FullMethodName          = "/" + ServiceName + "/Find"
	SiftDaemon_Status_FullMethodName        = "/" + ServiceName + "/Status"
	SiftDaemon_WatchProgress_FullMethodName = "/" + ServiceName + "/WatchProgress"
	SiftDaemon_Clear_FullMethodName         = "/" + ServiceName + "/Clear"
	SiftDaemon_Shutdown_FullMethodName      = "/" + ServiceName + "/Shutdown"
)

// SiftDaemonClient is the client API of the daemon.
type SiftDaemonClient interface {
	Analyze(ctx context.Context, in *AnalyzeRequest, opts ...grpc.CallOption) (*AnalyzeResponse, error)
	Rebuild(ctx context.Context, in *RebuildRequest, opts ...grpc.CallOption) (*RebuildResponse, error)
	Duplicates(ctx context.Context, in *DuplicatesRequest, opts ...grpc.CallOption) (*DuplicatesResponse, error)
	Find(ctx context.Context, in *FindRequest, opts ...grpc.CallOption) (*FindResponse, error)
	Status(ctx context.Context, in *StatusRequest, opts ...grpc.CallOption) (*StatusResponse, error)
	WatchProgress(ctx context.Context, in *WatchProgressRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[ProgressEvent], error)
	Clear(ctx context.Context, in *ClearRequest, opts ...grpc.CallOption) (*ClearResponse, error)
	Shutdown(ctx context.Context, in *ShutdownRequest, opts ...grpc.CallOption) (*ShutdownResponse, error)
}

type siftDaemonClient struct {
	cc grpc.ClientConnInterface
}

// NewSiftDaemonClient returns a client whose calls use the JSON codec.
func NewSiftDaemonClient(cc grpc.ClientConnInterface) SiftDaemonClient {
	return &siftDaemonClient{cc: cc}
}

func callOptions(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, method, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *siftDaemonClient) Analyze(ctx context.Context, in *AnalyzeRequest, opts ...grpc.CallOption) (*AnalyzeResponse, error) {
	return invoke[AnalyzeResponse](ctx, c.cc, SiftDaemon_Analyze_FullMethodName, in, opts)
}

func (c *siftDaemonClient) Rebuild(ctx context.Context, in *RebuildRequest, opts ...grpc.CallOption) (*RebuildResponse, error) {
	return invoke[RebuildResponse](ctx, c.cc, SiftDaemon_Rebuild_FullMethodName, in, opts)
}

func (c *siftDaemonClient) Duplicates(ctx context.Context, in *DuplicatesRequest, opts ...grpc.CallOption) (*DuplicatesResponse, error) {
	return invoke[DuplicatesResponse](ctx, c.cc, SiftDaemon_Duplicates_FullMethodName, in, opts)
}

func (c *siftDaemonClient) Find(ctx context.Context, in *FindRequest, opts ...grpc.CallOption) (*FindResponse, error) {
	return invoke[FindResponse](ctx, c.cc, SiftDaemon_Find_FullMethodName, in, opts)
}

func (c *siftDaemonClient) Status(ctx context.Context, in *StatusRequest, opts ...grpc.CallOption) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c.cc, SiftDaemon_Status_FullMethodName, in, opts)
}

func (c *siftDaemonClient) Clear(ctx context.Context, in *ClearRequest, opts ...grpc.CallOption) (*ClearResponse, error) {
	return invoke[ClearResponse](ctx, c.cc, SiftDaemon_Clear_FullMethodName, in, opts)
}

func (c *siftDaemonClient) Shutdown(ctx context.Context, in *ShutdownRequest, opts ...grpc.CallOption) (*ShutdownResponse, error) {
	return invoke[ShutdownResponse](ctx, c.cc, SiftDaemon_Shutdown_FullMethodName, in, opts)
}

func (c *siftDaemonClient) WatchProgress(ctx context.Context, in *WatchProgressRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[ProgressEvent], error) {
	stream, err := c.cc.NewStream(ctx, &SiftDaemon_ServiceDesc.Streams[0], SiftDaemon_WatchProgress_FullMethodName, callOptions(opts)...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[WatchProgressRequest, ProgressEvent]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// SiftDaemonServer is the server API of the daemon.
type SiftDaemonServer interface {
	Analyze(context.Context, *AnalyzeRequest) (*AnalyzeResponse, error)
	Rebuild(context.Context, *RebuildRequest) (*RebuildResponse, error)
	Duplicates(context.Context, *DuplicatesRequest) (*DuplicatesResponse, error)
	Find(context.Context, *FindRequest) (*FindResponse, error)
	Status(context.Context, *StatusRequest) (*StatusResponse, error)
	WatchProgress(*WatchProgressRequest, grpc.ServerStreamingServer[ProgressEvent]) error
	Clear(context.Context, *ClearRequest) (*ClearResponse, error)
	Shutdown(context.Context, *ShutdownRequest) (*ShutdownResponse, error)
}

// UnimplementedSiftDaemonServer answers every call with codes.Unimplemented.
// Embed it to stay forward compatible.
type UnimplementedSiftDaemonServer struct{}

func (UnimplementedSiftDaemonServer) Analyze(context.Context, *AnalyzeRequest) (*AnalyzeResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Analyze not implemented")
}

func (UnimplementedSiftDaemonServer) Rebuild(context.Context, *RebuildRequest) (*RebuildResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Rebuild not implemented")
}

func (UnimplementedSiftDaemonServer) Duplicates(context.Context, *DuplicatesRequest) (*DuplicatesResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Duplicates not implemented")
}

func (UnimplementedSiftDaemonServer) Find(context.Context, *FindRequest) (*FindResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Find not implemented")
}

func (UnimplementedSiftDaemonServer) Status(context.Context, *StatusRequest) (*StatusResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Status not implemented")
}

func (UnimplementedSiftDaemonServer) WatchProgress(*WatchProgressRequest, grpc.ServerStreamingServer[ProgressEvent]) error {
	return status.Error(codes.Unimplemented, "method WatchProgress not implemented")
}

func (UnimplementedSiftDaemonServer) Clear(context.Context, *ClearRequest) (*ClearResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Clear not implemented")
}

func (UnimplementedSiftDaemonServer) Shutdown(context.Context, *ShutdownRequest) (*ShutdownResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Shutdown not implemented")
}

// RegisterSiftDaemonServer registers srv with s.
func RegisterSiftDaemonServer(s grpc.ServiceRegistrar, srv SiftDaemonServer) {
	s.RegisterService(&SiftDaemon_ServiceDesc, srv)
}

// unary adapts a typed server method to a grpc method handler.
func unary[Req any, Resp any](method string, call func(SiftDaemonServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SiftDaemonServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(SiftDaemonServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchProgressHandler(srv any, stream grpc.ServerStream) error {
	m := new(WatchProgressRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(SiftDaemonServer).WatchProgress(m, &grpc.GenericServerStream[WatchProgressRequest, ProgressEvent]{ServerStream: stream})
}

// SiftDaemon_ServiceDesc describes the service for grpc.
var SiftDaemon_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SiftDaemonServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Analyze", Handler: unary(SiftDaemon_Analyze_FullMethodName, SiftDaemonServer.Analyze)},
		{MethodName: "Rebuild", Handler: unary(SiftDaemon_Rebuild_FullMethodName, SiftDaemonServer.Rebuild)},
		{MethodName: "Duplicates", Handler: unary(SiftDaemon_Duplicates_FullMethodName, SiftDaemonServer.Duplicates)},
		{MethodName: "Find", Handler: unary(SiftDaemon_Find_FullMethodName, SiftDaemonServer.Find)},
		{MethodName: "Status", Handler: unary(SiftDaemon_Status_FullMethodName, SiftDaemonServer.Status)},
		{MethodName: "Clear", Handler: unary(SiftDaemon_Clear_FullMethodName, SiftDaemonServer.Clear)},
		{MethodName: "Shutdown", Handler: unary(SiftDaemon_Shutdown_FullMethodName, SiftDaemonServer.Shutdown)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchProgress",
			Handler:       watchProgressHandler,
			ServerStreams: true,
		},
	},
}
