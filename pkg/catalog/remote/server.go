// Package remote exposes an item store over gRPC and consumes it as a
// catalog.Store from the client side
package remote

import (
	"context"
	"errors"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nainya/catalogops/pkg/catalog"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "catalogops.v1.ItemService"

const (
	methodList            = "List"
	methodSetActive       = "SetActive"
	methodDelete          = "Delete"
	methodUpdateSortOrder = "UpdateSortOrder"
	methodStats           = "Stats"
)

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// ItemServiceServer is the server API for the item service
type ItemServiceServer interface {
	List(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	SetActive(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Delete(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	UpdateSortOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Stats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// Server implements ItemServiceServer on top of a catalog.Store
type Server struct {
	store catalog.Store

	startTime time.Time
	mu        sync.Mutex
	opCounts  map[string]int64
}

// NewServer wraps store for serving
func NewServer(store catalog.Store) *Server {
	return &Server{
		store:     store,
		startTime: time.Now(),
		opCounts:  make(map[string]int64),
	}
}

// Register exposes store on grpcServer and returns the service implementation
func Register(grpcServer grpc.ServiceRegistrar, store catalog.Store) *Server {
	srv := NewServer(store)
	grpcServer.RegisterService(&ServiceDesc, srv)
	return srv
}

func (s *Server) count(method string) {
	s.mu.Lock()
	s.opCounts[method]++
	s.mu.Unlock()
}

// ========== Item Operations ==========

func (s *Server) List(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	s.count(methodList)

	records, err := s.store.List(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	if records == nil {
		records = []catalog.Record{}
	}

	out, err := encode(listResponse{Items: records})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *Server) SetActive(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	s.count(methodSetActive)

	var in setActiveRequest
	if err := decode(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if in.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}

	if err := s.store.SetActive(ctx, in.ID, in.Active); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) Delete(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	s.count(methodDelete)

	var in deleteRequest
	if err := decode(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if in.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}

	if err := s.store.Delete(ctx, in.ID); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// UpdateSortOrder reports per-id failures in the response, not as an RPC error
func (s *Server) UpdateSortOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	s.count(methodUpdateSortOrder)

	var in sortOrderRequest
	if err := decode(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	var resp sortOrderResponse
	if err := s.store.UpdateSortOrder(ctx, in.Deltas); err != nil {
		var be *catalog.BatchError
		if !errors.As(err, &be) {
			return nil, toStatus(err)
		}
		resp.Failed = toWireFailures(be.Failed)
	}

	out, err := encode(resp)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// Stats reports uptime and per-method call counts
func (s *Server) Stats(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	s.count(methodStats)

	s.mu.Lock()
	ops := make(map[string]int64, len(s.opCounts))
	for k, v := range s.opCounts {
		ops[k] = v
	}
	s.mu.Unlock()

	out, err := encode(statsResponse{
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Operations:    ops,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// ServiceDesc describes the item service for grpc.ServiceRegistrar
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ItemServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodList, Handler: listHandler},
		{MethodName: methodSetActive, Handler: setActiveHandler},
		{MethodName: methodDelete, Handler: deleteHandler},
		{MethodName: methodUpdateSortOrder, Handler: updateSortOrderHandler},
		{MethodName: methodStats, Handler: statsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "catalogops/v1/items.proto",
}

func listHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ItemServiceServer).List(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(methodList)}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ItemServiceServer).List(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func setActiveHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ItemServiceServer).SetActive(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(methodSetActive)}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ItemServiceServer).SetActive(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func deleteHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ItemServiceServer).Delete(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(methodDelete)}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ItemServiceServer).Delete(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func updateSortOrderHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ItemServiceServer).UpdateSortOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(methodUpdateSortOrder)}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ItemServiceServer).UpdateSortOrder(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func statsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ItemServiceServer).Stats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(methodStats)}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ItemServiceServer).Stats(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}
