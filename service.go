package replmap

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	groupServiceName  = "replmap.Group"
	deliverMethod     = "/replmap.Group/Deliver"
	stateMethod       = "/replmap.Group/State"
	currentViewMethod = "/replmap.Group/CurrentView"

	// The metadata key carrying the name of the group a call is meant for.
	groupMetadataKey = "replmap-group"
)

// groupServer is the server API of the replmap.Group service.
type groupServer interface {
	// Deliver delivers a multicast message to the member.
	Deliver(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)

	// State returns the state of the member.
	State(context.Context, *emptypb.Empty) (*wrapperspb.BytesValue, error)

	// CurrentView returns the encoded view the member has installed.
	CurrentView(context.Context, *emptypb.Empty) (*wrapperspb.BytesValue, error)
}

var groupServiceDesc = grpc.ServiceDesc{
	ServiceName: groupServiceName,
	HandlerType: (*groupServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Deliver", Handler: deliverHandler},
		{MethodName: "State", Handler: stateHandler},
		{MethodName: "CurrentView", Handler: currentViewHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "replmap/group.proto",
}

func deliverHandler(
	srv interface{},
	ctx context.Context,
	dec func(interface{}) error,
	interceptor grpc.UnaryServerInterceptor,
) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(groupServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: deliverMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(groupServer).Deliver(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func stateHandler(
	srv interface{},
	ctx context.Context,
	dec func(interface{}) error,
	interceptor grpc.UnaryServerInterceptor,
) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(groupServer).State(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: stateMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(groupServer).State(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func currentViewHandler(
	srv interface{},
	ctx context.Context,
	dec func(interface{}) error,
	interceptor grpc.UnaryServerInterceptor,
) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(groupServer).CurrentView(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: currentViewMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(groupServer).CurrentView(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// groupNameInterceptor rejects calls addressed to a group other than the one
// returned by name. While name is empty the member has not joined a group
// yet and reports itself unavailable.
func groupNameInterceptor(name func() string) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		name := name()
		if name == "" {
			return nil, status.Error(codes.Unavailable, "member is not connected")
		}
		md, _ := metadata.FromIncomingContext(ctx)
		names := md.Get(groupMetadataKey)
		if len(names) != 1 || names[0] != name {
			return nil, status.Errorf(codes.FailedPrecondition, "member serves group %q", name)
		}
		return handler(ctx, req)
	}
}

// groupService adapts a GRPCGroup to the groupServer interface.
type groupService struct {
	group *GRPCGroup
}

func (s *groupService) Deliver(ctx context.Context, request *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	if err := s.group.deliver(request.GetValue()); err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	return &emptypb.Empty{}, nil
}

func (s *groupService) State(ctx context.Context, request *emptypb.Empty) (*wrapperspb.BytesValue, error) {
	data, err := s.group.state()
	if err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	return wrapperspb.Bytes(data), nil
}

func (s *groupService) CurrentView(ctx context.Context, request *emptypb.Empty) (*wrapperspb.BytesValue, error) {
	return wrapperspb.Bytes(encodeViewInfo(s.group.currentViewInfo())), nil
}
