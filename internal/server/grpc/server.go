// Package grpc exposes the record and auth services of the development
// server over gRPC. Messages are google.protobuf.Struct values; the service
// descriptors are built by hand from the method names in package common.
package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/server/records"
	"github.com/dmitrijs2005/fieldsync/internal/server/users"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"
)

type GRPCServer struct {
	address   string
	users     *users.Service
	records   *records.Service
	logger    logging.Logger
	jwtSecret []byte
	health    *health.Server
}

func NewGRPCServer(a string, l logging.Logger, us *users.Service, rs *records.Service, secretKey string) (*GRPCServer, error) {
	return &GRPCServer{
		address:   a,
		logger:    logging.Module(l, "grpc_server"),
		users:     us,
		records:   rs,
		jwtSecret: []byte(secretKey),
		health:    health.NewServer(),
	}, nil
}

type structHandler func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

func structMethod(service, name string, h structHandler) grpc.MethodDesc {
	fullMethod := "/" + service + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := &structpb.Struct{}
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return h(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return h(ctx, req.(*structpb.Struct))
			})
		},
	}
}

func (s *GRPCServer) recordService() *grpc.ServiceDesc {
	name := common.RecordServiceName
	return &grpc.ServiceDesc{
		ServiceName: name,
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			structMethod(name, "Insert", s.Insert),
			structMethod(name, "Update", s.Update),
			structMethod(name, "Delete", s.Delete),
			structMethod(name, "Fetch", s.Fetch),
		},
	}
}

func (s *GRPCServer) authService() *grpc.ServiceDesc {
	name := common.AuthServiceName
	return &grpc.ServiceDesc{
		ServiceName: name,
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			structMethod(name, "SignIn", s.SignIn),
			structMethod(name, "GetSession", s.GetSession),
			structMethod(name, "RefreshToken", s.RefreshToken),
			structMethod(name, "SignOut", s.SignOut),
		},
	}
}

// NewServer builds a grpc.Server with the interceptors and every service
// registered. Health reports SERVING until Shutdown.
func (s *GRPCServer) NewServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(s.recoveryInterceptor, s.accessTokenInterceptor))
	srv := grpc.NewServer(opts...)

	srv.RegisterService(s.recordService(), struct{}{})
	srv.RegisterService(s.authService(), struct{}{})
	healthpb.RegisterHealthServer(srv, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is done, then stops gracefully.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.NewServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil {
		return err
	}
	return nil
}
