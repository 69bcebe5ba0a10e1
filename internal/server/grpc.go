package server

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/alfredjeanlab/depgraph/internal/api"
	"github.com/alfredjeanlab/depgraph/internal/model"
)

// GraphService is the set of RPCs served under api.ServiceName. Messages
// travel through the JSON codec registered by package api.
type GraphService interface {
	Health(context.Context, *api.HealthRequest) (*api.HealthResponse, error)
	CreateNode(context.Context, *api.CreateNodeRequest) (*model.Node, error)
	GetNode(context.Context, *api.NodeRequest) (*model.Node, error)
	ResolveNode(context.Context, *api.NodeRequest) (*api.StateChangeResponse, error)
	ReopenNode(context.Context, *api.NodeRequest) (*api.StateChangeResponse, error)
	DeleteNode(context.Context, *api.NodeRequest) (*api.DeleteNodeResponse, error)
	BlockedBy(context.Context, *api.NodeRequest) (*api.NodesResponse, error)
	Blocking(context.Context, *api.NodeRequest) (*api.NodesResponse, error)
	Dependencies(context.Context, *api.NodeRequest) (*model.DependencySummary, error)
	AddEdge(context.Context, *api.AddEdgeRequest) (*model.Edge, error)
	GetEdge(context.Context, *api.EdgeRequest) (*model.Edge, error)
	RemoveEdge(context.Context, *api.EdgeRequest) (*model.Edge, error)
	CheckEdge(context.Context, *api.EdgeRequest) (*model.CycleCheck, error)
	GetGraph(context.Context, *api.GraphRequest) (*model.GraphSnapshot, error)
}

var _ GraphService = (*GraphServer)(nil)

// graphServiceDesc describes GraphService for grpc.Server.RegisterService.
var graphServiceDesc = grpc.ServiceDesc{
	ServiceName: api.ServiceName,
	HandlerType: (*GraphService)(nil),
	Methods: []grpc.MethodDesc{
		unary(api.MethodHealth, GraphService.Health),
		unary(api.MethodCreateNode, GraphService.CreateNode),
		unary(api.MethodGetNode, GraphService.GetNode),
		unary(api.MethodResolveNode, GraphService.ResolveNode),
		unary(api.MethodReopenNode, GraphService.ReopenNode),
		unary(api.MethodDeleteNode, GraphService.DeleteNode),
		unary(api.MethodBlockedBy, GraphService.BlockedBy),
		unary(api.MethodBlocking, GraphService.Blocking),
		unary(api.MethodDependencies, GraphService.Dependencies),
		unary(api.MethodAddEdge, GraphService.AddEdge),
		unary(api.MethodGetEdge, GraphService.GetEdge),
		unary(api.MethodRemoveEdge, GraphService.RemoveEdge),
		unary(api.MethodCheckEdge, GraphService.CheckEdge),
		unary(api.MethodGetGraph, GraphService.GetGraph),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "depgraph/v1/graph.json",
}

// unary adapts a GraphService method to a grpc.MethodDesc. Errors leave the
// handler already converted by toStatus, so interceptors see status errors.
func unary[Req, Resp any](name string, call func(GraphService, context.Context, *Req) (Resp, error)) grpc.MethodDesc {
	fullMethod := api.FullMethod(name)
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "%s: %v", model.CodeInvalidArgument, err)
			}
			handler := func(ctx context.Context, req any) (any, error) {
				resp, err := call(srv.(GraphService), ctx, req.(*Req))
				if err != nil {
					return nil, toStatus(err)
				}
				return resp, nil
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// grpcCode maps an engine error to its gRPC status code.
func grpcCode(err error) codes.Code {
	switch model.Code(err) {
	case model.CodeNodeNotFound, model.CodeEdgeNotFound:
		return codes.NotFound
	case model.CodeDuplicateID, model.CodeDuplicateEdge:
		return codes.AlreadyExists
	case model.CodeWouldCreateCycle, model.CodeTicketHasTasks:
		return codes.FailedPrecondition
	case model.CodeInvalidParent, model.CodeCrossProjectEdge, model.CodeSelfLoop, model.CodeInvalidArgument:
		return codes.InvalidArgument
	case model.CodeStoreUnavailable:
		return codes.Unavailable
	}
	return codes.Internal
}

// toStatus converts an engine error to a gRPC status. The message is
// prefixed with the taxonomy code ("node_not_found: ...") so clients can
// restore the typed error.
func toStatus(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	}
	return status.Errorf(grpcCode(err), "%s: %s", model.Code(err), err.Error())
}

// NewGRPCServer creates a gRPC server with standard interceptors and
// registers the GraphService, the standard health service and reflection.
func NewGRPCServer(gs *GraphServer, authToken string) *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor,
			LoggingInterceptor,
			AuthInterceptor(authToken),
		),
	)

	srv.RegisterService(&graphServiceDesc, gs)
	healthpb.RegisterHealthServer(srv, health.NewServer())
	reflection.Register(srv)

	return srv
}
