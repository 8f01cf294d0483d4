package host

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmerrifield20/herbledger/internal/contract"
	"github.com/jmerrifield20/herbledger/internal/identity"
	"github.com/jmerrifield20/herbledger/internal/state"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name of the contract host.
const ServiceName = "herbledger.v1.ContractHost"

const (
	submitMethod   = "/" + ServiceName + "/Submit"
	evaluateMethod = "/" + ServiceName + "/Evaluate"
)

// ContractHostServer is the server API of the ContractHost service.
//
// An invocation request is a Struct {"function": string, "args": [string...]};
// the response carries the contract's raw result bytes.
type ContractHostServer interface {
	Submit(context.Context, *structpb.Struct) (*wrapperspb.BytesValue, error)
	Evaluate(context.Context, *structpb.Struct) (*wrapperspb.BytesValue, error)
}

// ServiceDesc describes the ContractHost service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ContractHostServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: unaryHandler(submitMethod, ContractHostServer.Submit)},
		{MethodName: "Evaluate", Handler: unaryHandler(evaluateMethod, ContractHostServer.Evaluate)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "herbledger/v1/contract_host.proto",
}

func unaryHandler(
	fullMethod string,
	call func(ContractHostServer, context.Context, *structpb.Struct) (*wrapperspb.BytesValue, error),
) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ContractHostServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ContractHostServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// EncodeInvocation builds the wire request for fn(args...).
func EncodeInvocation(fn string, args []string) (*structpb.Struct, error) {
	list := make([]any, len(args))
	for i, a := range args {
		list[i] = a
	}
	return structpb.NewStruct(map[string]any{"function": fn, "args": list})
}

// DecodeInvocation is the inverse of EncodeInvocation.
func DecodeInvocation(req *structpb.Struct) (string, []string, error) {
	fields := req.GetFields()
	fn := fields["function"].GetStringValue()
	if fn == "" {
		return "", nil, errors.New("invocation: function is required")
	}
	var args []string
	for i, v := range fields["args"].GetListValue().GetValues() {
		s, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return "", nil, fmt.Errorf("invocation: argument %d is not a string", i)
		}
		args = append(args, s.StringValue)
	}
	return fn, args, nil
}

// Server adapts a Host to the ContractHost gRPC service.
type Server struct {
	host   *Host
	logger *zap.Logger
}

// NewServer returns a ContractHostServer backed by h.
func NewServer(h *Host, logger *zap.Logger) *Server {
	return &Server{host: h, logger: logger}
}

// Submit implements ContractHostServer.
func (s *Server) Submit(ctx context.Context, req *structpb.Struct) (*wrapperspb.BytesValue, error) {
	fn, args, err := DecodeInvocation(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	out, err := s.host.Submit(ctx, fn, args)
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Bytes(out), nil
}

// Evaluate implements ContractHostServer.
func (s *Server) Evaluate(ctx context.Context, req *structpb.Struct) (*wrapperspb.BytesValue, error) {
	fn, args, err := DecodeInvocation(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	out, err := s.host.Evaluate(ctx, fn, args)
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Bytes(out), nil
}

// toStatus maps contract and host errors onto gRPC codes. The message is
// always the full error text.
func toStatus(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, contract.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, contract.ErrUnauthorized):
		code = codes.PermissionDenied
	case errors.Is(err, contract.ErrUnknownFunction),
		errors.Is(err, contract.ErrArgCount),
		errors.Is(err, state.ErrInvalidKey):
		code = codes.InvalidArgument
	case errors.Is(err, ErrClosed), errors.Is(err, state.ErrClosed):
		code = codes.Unavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

// NewGRPCServer builds a gRPC server exposing h as the ContractHost service,
// plus the standard health and reflection services. When verifier is non-nil
// every ContractHost call must carry a valid org credential.
func NewGRPCServer(h *Host, verifier *identity.Verifier, logger *zap.Logger) (*grpc.Server, *health.Server) {
	interceptors := []grpc.UnaryServerInterceptor{loggingInterceptor(logger)}
	if verifier != nil {
		interceptors = append(interceptors, identity.UnaryAuth(verifier,
			"/grpc.health.v1.Health/Check",
			"/grpc.health.v1.Health/List",
		))
	}
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...))
	srv.RegisterService(&ServiceDesc, NewServer(h, logger))

	healthSvc := health.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, healthSvc)
	healthSvc.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	reflection.Register(srv)
	return srv, healthSvc
}

// loggingInterceptor returns a gRPC unary server interceptor that logs each call.
func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Info("grpc",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("latency", time.Since(start)),
		)
		return resp, err
	}
}

// Client calls a remote contract host. It is safe for concurrent use; all
// calls share one underlying connection.
type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a Client for addr. The connection is established lazily; use
// Ping to confirm the host is reachable.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial contract host %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Ping checks that the host serves the ContractHost service.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := grpc_health_v1.NewHealthClient(c.conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		return fmt.Errorf("contract host status %s", resp.GetStatus())
	}
	return nil
}

// Submit implements Invoker.
func (c *Client) Submit(ctx context.Context, fn string, args []string) ([]byte, error) {
	return c.invoke(ctx, submitMethod, fn, args)
}

// Evaluate implements Invoker.
func (c *Client) Evaluate(ctx context.Context, fn string, args []string) ([]byte, error) {
	return c.invoke(ctx, evaluateMethod, fn, args)
}

func (c *Client) invoke(ctx context.Context, method, fn string, args []string) ([]byte, error) {
	req, err := EncodeInvocation(fn, args)
	if err != nil {
		return nil, err
	}
	resp := new(wrapperspb.BytesValue)
	if err := c.conn.Invoke(ctx, method, req, resp); err != nil {
		return nil, err
	}
	return resp.GetValue(), nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
