// Package rpc exposes the user commands over gRPC as service
// identity.v1.Identity. Every method takes and returns a
// google.protobuf.StringValue carrying the JSON payload of the command.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/ovaphlow/pitchfork/service-identity/internal/user"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/apperr"
)

const ServiceName = "identity.v1.Identity"

// Dispatcher runs a named command; *user.Handler implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, command string, payload []byte) ([]byte, error)
}

var _ Dispatcher = (*user.Handler)(nil)

// methods maps gRPC method names to command names.
var methods = []struct{ method, command string }{
	{"CreateUser", user.CommandCreateUser},
	{"GetUser", user.CommandGetUser},
	{"GetUserByID", user.CommandGetUserByID},
	{"GetUsers", user.CommandGetUsers},
	{"UpdateUser", user.CommandUpdateUser},
	{"UpdateUserStatus", user.CommandUpdateUserStatus},
}

// ServiceDesc describes identity.v1.Identity for grpc.Server.RegisterService.
var ServiceDesc = newServiceDesc()

func newServiceDesc() grpc.ServiceDesc {
	desc := grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*Dispatcher)(nil),
		Streams:     []grpc.StreamDesc{},
		Metadata:    "identity/v1/identity.proto",
	}
	for _, m := range methods {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: m.method,
			Handler:    commandHandler(m.method, m.command),
		})
	}
	return desc
}

func commandHandler(method, command string) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(wrapperspb.StringValue)
		if err := dec(in); err != nil {
			return nil, err
		}
		call := func(ctx context.Context, req any) (any, error) {
			return dispatch(ctx, srv.(Dispatcher), command, req.(*wrapperspb.StringValue))
		}
		if interceptor == nil {
			return call(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
		return interceptor(ctx, in, info, call)
	}
}

func dispatch(ctx context.Context, d Dispatcher, command string, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	out, err := d.Dispatch(ctx, command, []byte(in.GetValue()))
	if err != nil {
		e := apperr.As(err)
		return nil, status.Error(e.Code.GRPCCode(), e.Public())
	}
	return wrapperspb.String(string(out)), nil
}

// Server serves identity.v1.Identity and the standard health service.
type Server struct {
	listener   net.Listener
	grpcServer *grpc.Server
	health     *health.Server
	logger     *zap.SugaredLogger
}

func NewServer(listener net.Listener, d Dispatcher, logger *zap.SugaredLogger) *Server {
	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	grpcServer.RegisterService(&ServiceDesc, d)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	return &Server{listener: listener, grpcServer: grpcServer, health: healthServer, logger: logger}
}

// Addr returns the listener address for the server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve runs the gRPC server until ctx is cancelled, then stops it gracefully.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Infow("grpc server listening", "addr", s.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpcServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
		return serveResult(<-serveErr)
	case err := <-serveErr:
		return serveResult(err)
	}
}

func serveResult(err error) error {
	if err == nil || errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return fmt.Errorf("serve gRPC: %w", err)
}
