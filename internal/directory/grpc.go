package directory

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// The service below is maintained by hand against api/citybuilder/v1/directory.proto.
// It uses only well-known message types, so there is no generated message code;
// TestServiceDescMatchesProto keeps the descriptor and the contract in step.

// ServiceName is the fully qualified gRPC service name of the directory.
const ServiceName = "citybuilder.v1.Directory"

const listRoomsMethod = "/" + ServiceName + "/ListRooms"

// DirectoryServer is the server API for the directory service.
type DirectoryServer interface {
	ListRooms(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
}

// DirectoryClient is the client API for the directory service.
type DirectoryClient interface {
	ListRooms(ctx context.Context, req *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type directoryClient struct {
	cc grpc.ClientConnInterface
}

// NewDirectoryClient creates a client for the directory service.
func NewDirectoryClient(cc grpc.ClientConnInterface) DirectoryClient {
	return &directoryClient{cc: cc}
}

func (c *directoryClient) ListRooms(ctx context.Context, req *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, listRoomsMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func listRoomsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DirectoryServer).ListRooms(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: listRoomsMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DirectoryServer).ListRooms(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// DirectoryServiceDesc describes the directory service for grpc.Server registration.
var DirectoryServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DirectoryServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ListRooms",
			Handler:    listRoomsHandler,
		},
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterDirectoryServer registers srv with s.
func RegisterDirectoryServer(s grpc.ServiceRegistrar, srv DirectoryServer) {
	s.RegisterService(&DirectoryServiceDesc, srv)
}

// Service implements DirectoryServer over a Source.
type Service struct {
	source Source
	logger *zap.Logger
}

// NewService creates the gRPC directory service.
//
// Precondition: source and logger must be non-nil.
func NewService(source Source, logger *zap.Logger) *Service {
	return &Service{source: source, logger: logger}
}

// ListRooms returns every live room (full ones included) with the server counters.
//
// Postcondition: Returns codes.Unavailable once the game loop has stopped.
func (s *Service) ListRooms(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	rooms, err := s.source.Rooms(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "listing rooms: %v", err)
	}
	st, err := s.source.Stats(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "reading stats: %v", err)
	}

	entries := make([]any, 0, len(rooms))
	for _, r := range rooms {
		var name any
		if r.Name != "" {
			name = r.Name
		}
		entries = append(entries, map[string]any{
			"id":             r.ID,
			"citySize":       r.CitySize,
			"roomName":       name,
			"currentPlayers": r.CurrentPlayers,
			"maxPlayers":     r.MaxPlayers,
			"createdAt":      r.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}

	out, err := structpb.NewStruct(map[string]any{
		"rooms":   entries,
		"clients": st.Clients,
	})
	if err != nil {
		s.logger.Error("encoding room listing", zap.Error(err))
		return nil, status.Errorf(codes.Internal, "encoding room listing: %v", err)
	}
	return out, nil
}

// NewGRPCServer builds a grpc.Server carrying the directory, health and
// reflection services. The health status of the directory is SERVING.
//
// Postcondition: Returns the server and its health registry.
func NewGRPCServer(svc DirectoryServer) (*grpc.Server, *health.Server) {
	srv := grpc.NewServer()
	RegisterDirectoryServer(srv, svc)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	reflection.Register(srv)
	return srv, hs
}
