// Package grpcapi exposes the verification API over gRPC.  Requests and
// responses are google.protobuf.Struct values with the same fields as the
// JSON API; business failures come back inside the envelope with an OK
// status, exactly as over HTTP.
package grpcapi

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/cardkey/internal/cardkey/service"
	"github.com/BrandonDHaskell/cardkey/internal/wire"
)

const ServiceName = "cardkey.v1.CardKey"

type CardKeyService interface {
	Verify(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Query(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type Server struct {
	gateway *service.Gateway
}

func NewServer(gw *service.Gateway) *Server {
	return &Server{gateway: gw}
}

// NewGRPCServer builds a grpc.Server with the CardKey and health services
// registered and a logging interceptor installed.
func NewGRPCServer(gw *service.Gateway, logger logrus.FieldLogger) (*grpc.Server, *health.Server) {
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(logger)))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	Register(gs, NewServer(gw))
	return gs, hs
}

func Register(server grpc.ServiceRegistrar, svc CardKeyService) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*CardKeyService)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "Verify", Handler: unaryHandler("Verify", svc.Verify)},
			{MethodName: "Query", Handler: unaryHandler("Query", svc.Query)},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "cardkey/v1/cardkey.proto",
	}, svc)
}

func (s *Server) Verify(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	started := time.Now()
	env := s.gateway.Verify(ctx, wire.VerifyRequestFromStruct(req), callFor(ctx, "Verify", started))
	return wire.EnvelopeStruct(env), nil
}

func (s *Server) Query(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	started := time.Now()
	env := s.gateway.Query(ctx, wire.QueryRequestFromStruct(req), callFor(ctx, "Query", started))
	return wire.EnvelopeStruct(env), nil
}

type unaryFunc func(context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, fn unaryFunc) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + ServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := &structpb.Struct{}
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return fn(ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			typed, ok := req.(*structpb.Struct)
			if !ok {
				return nil, status.Error(codes.InvalidArgument, "invalid request type")
			}
			return fn(ctx, typed)
		}
		return interceptor(ctx, req, info, handler)
	}
}

func callFor(ctx context.Context, method string, started time.Time) service.Call {
	c := service.Call{
		Endpoint: "/" + ServiceName + "/" + method,
		Method:   "GRPC",
		Started:  started,
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		c.Meta.IPAddress = p.Addr.String()
		if host, _, err := net.SplitHostPort(c.Meta.IPAddress); err == nil {
			c.Meta.IPAddress = host
		}
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		c.Meta.UserAgent = strings.Join(md.Get("user-agent"), " ")
	}
	return c
}

func loggingInterceptor(logger logrus.FieldLogger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		entry := logger.WithFields(logrus.Fields{
			"method": info.FullMethod,
			"code":   status.Code(err).String(),
			"dur":    time.Since(start).String(),
		})
		if err != nil {
			entry.WithError(err).Warn("grpc request failed")
		} else {
			entry.Info("grpc request")
		}
		return resp, err
	}
}
