package rpcengine

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Dispatch is the single RPC this runtime needs: hand a serialized task
// (internal/serialize's OutputArchive bytes) to a remote node and get back
// its serialized reply. There is no .proto/protoc-gen-go-grpc step in this
// module, so the service is described by hand below; the wire messages
// reuse google.golang.org/protobuf's BytesValue well-known type rather than
// a hand-rolled pb.go, since the payload is already framed by our own
// archive format (grounded in the original's Thallium RPC, which likewise
// carries a pre-serialized byte buffer rather than typed RPC arguments).
const serviceName = "labstor.Remote"

// DispatchHandler processes one incoming serialized task and returns its
// serialized reply, or an error.
type DispatchHandler func(ctx context.Context, req []byte) ([]byte, error)

// dispatchServer adapts a DispatchHandler to the grpc.ServiceDesc machinery.
type dispatchServer struct {
	handler DispatchHandler
}

func dispatchUnaryHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	s := srv.(*dispatchServer)
	if interceptor == nil {
		return dispatchInvoke(s, ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Dispatch"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return dispatchInvoke(s, ctx, req.(*wrapperspb.BytesValue))
	})
}

func dispatchInvoke(s *dispatchServer, ctx context.Context, in *wrapperspb.BytesValue) (interface{}, error) {
	out, err := s.handler(ctx, in.GetValue())
	if err != nil {
		return nil, err
	}
	return wrapperspb.Bytes(out), nil
}

// serviceDesc is the hand-written equivalent of what protoc-gen-go-grpc
// would otherwise emit for a one-method service.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*dispatchServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Dispatch",
			Handler:    dispatchUnaryHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/rpcengine/service.go",
}

// RegisterDispatchServer binds handler to the Dispatch RPC on s.
func RegisterDispatchServer(s *grpc.Server, handler DispatchHandler) {
	s.RegisterService(&serviceDesc, &dispatchServer{handler: handler})
}

// DispatchClient invokes the Dispatch RPC on an established connection.
type DispatchClient struct {
	cc *grpc.ClientConn
}

// NewDispatchClient wraps an already-dialed connection.
func NewDispatchClient(cc *grpc.ClientConn) *DispatchClient {
	return &DispatchClient{cc: cc}
}

// Dispatch sends req and returns the remote's reply bytes.
func (c *DispatchClient) Dispatch(ctx context.Context, req []byte) ([]byte, error) {
	out := new(wrapperspb.BytesValue)
	err := c.cc.Invoke(ctx, "/"+serviceName+"/Dispatch", wrapperspb.Bytes(req), out)
	if err != nil {
		return nil, err
	}
	return out.GetValue(), nil
}
