// Package grpcnet exposes a network.Network over gRPC and implements
// network.Network as a gRPC client.
//
// The service uses protobuf well-known wrapper types so no protoc toolchain is
// needed: every request and reply is a JSON document carried in a BytesValue.
package grpcnet

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const serviceName = "routeplane.network.v1.Network"

// NetworkServer is the server API for the Network gRPC service.
type NetworkServer interface {
	Info(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	Predict(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	StageBatch(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	CodeHash(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	ChunkAt(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	Commit(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	Apply(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	Activate(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	Status(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	Lookup(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

// UnimplementedNetworkServer can be embedded to have forward compatible implementations.
type UnimplementedNetworkServer struct{}

func unimplemented(method string) error {
	return status.Errorf(codes.Unimplemented, "method %s not implemented", method)
}

func (UnimplementedNetworkServer) Info(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, unimplemented("Info")
}
func (UnimplementedNetworkServer) Predict(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, unimplemented("Predict")
}
func (UnimplementedNetworkServer) StageBatch(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, unimplemented("StageBatch")
}
func (UnimplementedNetworkServer) CodeHash(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, unimplemented("CodeHash")
}
func (UnimplementedNetworkServer) ChunkAt(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, unimplemented("ChunkAt")
}
func (UnimplementedNetworkServer) Commit(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, unimplemented("Commit")
}
func (UnimplementedNetworkServer) Apply(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, unimplemented("Apply")
}
func (UnimplementedNetworkServer) Activate(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, unimplemented("Activate")
}
func (UnimplementedNetworkServer) Status(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, unimplemented("Status")
}
func (UnimplementedNetworkServer) Lookup(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, unimplemented("Lookup")
}

// RegisterNetworkServer registers the Network service on a gRPC server.
func RegisterNetworkServer(s grpc.ServiceRegistrar, srv NetworkServer) {
	s.RegisterService(&Network_ServiceDesc, srv)
}

// NetworkClient is the client API for the Network gRPC service.
type NetworkClient interface {
	Call(ctx context.Context, method string, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
}

type networkClient struct{ cc grpc.ClientConnInterface }

func NewNetworkClient(cc grpc.ClientConnInterface) NetworkClient { return &networkClient{cc: cc} }

func (c *networkClient) Call(ctx context.Context, method string, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	err := c.cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

type unaryMethod func(NetworkServer, context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)

func handler(name string, call unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(wrapperspb.BytesValue)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(NetworkServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + name}
			h := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(NetworkServer), ctx, req.(*wrapperspb.BytesValue))
			}
			return interceptor(ctx, in, info, h)
		},
	}
}

// Network_ServiceDesc is the grpc.ServiceDesc for the Network service.
var Network_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*NetworkServer)(nil),
	Methods: []grpc.MethodDesc{
		handler("Info", NetworkServer.Info),
		handler("Predict", NetworkServer.Predict),
		handler("StageBatch", NetworkServer.StageBatch),
		handler("CodeHash", NetworkServer.CodeHash),
		handler("ChunkAt", NetworkServer.ChunkAt),
		handler("Commit", NetworkServer.Commit),
		handler("Apply", NetworkServer.Apply),
		handler("Activate", NetworkServer.Activate),
		handler("Status", NetworkServer.Status),
		handler("Lookup", NetworkServer.Lookup),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "network.proto",
}
