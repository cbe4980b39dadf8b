package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"HookLedger/internal/observability"
	"HookLedger/internal/query"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

const serviceName = "hookledger.v1.Ledger"

// unary builds a method descriptor the way protoc-gen-go-grpc would, for a
// message pair that travels as JSON.
func unary[Req, Resp any](name string, call func(LedgerServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LedgerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(LedgerServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// LedgerServiceDesc describes the ledger RPC service.
var LedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetPool", LedgerServer.GetPool),
		unary("GetPosition", LedgerServer.GetPosition),
		unary("GetStake", LedgerServer.GetStake),
		unary("GetBalance", LedgerServer.GetBalance),
		unary("ListJournal", LedgerServer.ListJournal),
		unary("GetPendingFees", LedgerServer.GetPendingFees),
		unary("CheckLiquidation", LedgerServer.CheckLiquidation),
		unary("VerifyIntegrity", LedgerServer.VerifyIntegrity),
		unary("SubmitOperation", LedgerServer.SubmitOperation),
	},
	Metadata: "hookledger/v1/ledger",
}

// GRPCServer wraps the gRPC server.
type GRPCServer struct {
	grpcServer *grpc.Server
	health     *health.Server
	addr       string
	logger     zerolog.Logger
}

func NewGRPCServer(addr string, svc LedgerServer, metrics *observability.Metrics, logger zerolog.Logger) *GRPCServer {
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(observeUnary(metrics, logger)))
	grpcServer.RegisterService(&LedgerServiceDesc, svc)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	return &GRPCServer{
		grpcServer: grpcServer,
		health:     healthServer,
		addr:       addr,
		logger:     logger,
	}
}

// Serve serves on lis until ctx is done.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// Start listens on the configured address and serves (blocking).
func (s *GRPCServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.Serve(ctx, lis)
}

func observeUnary(metrics *observability.Metrics, logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		if metrics != nil {
			metrics.QueryRequests.WithLabelValues(info.FullMethod, code.String()).Inc()
		}
		logger.Debug().
			Str("method", info.FullMethod).
			Str("code", code.String()).
			Dur("took", time.Since(start)).
			Msg("rpc")
		return resp, err
	}
}

// LedgerClient calls the ledger service over a gRPC connection.
type LedgerClient struct {
	cc grpc.ClientConnInterface
}

func NewLedgerClient(cc grpc.ClientConnInterface) *LedgerClient {
	return &LedgerClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, c *LedgerClient, method string, in any, opts ...grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LedgerClient) GetPool(ctx context.Context, in *PoolRequest, opts ...grpc.CallOption) (*query.PoolResponse, error) {
	return invoke[query.PoolResponse](ctx, c, "GetPool", in, opts...)
}

func (c *LedgerClient) GetPosition(ctx context.Context, in *AccountRequest, opts ...grpc.CallOption) (*query.PositionResponse, error) {
	return invoke[query.PositionResponse](ctx, c, "GetPosition", in, opts...)
}

func (c *LedgerClient) GetStake(ctx context.Context, in *AccountRequest, opts ...grpc.CallOption) (*query.StakeResponse, error) {
	return invoke[query.StakeResponse](ctx, c, "GetStake", in, opts...)
}

func (c *LedgerClient) GetBalance(ctx context.Context, in *AccountRequest, opts ...grpc.CallOption) (*query.BalanceResponse, error) {
	return invoke[query.BalanceResponse](ctx, c, "GetBalance", in, opts...)
}

func (c *LedgerClient) ListJournal(ctx context.Context, in *JournalRequest, opts ...grpc.CallOption) (*JournalResponse, error) {
	return invoke[JournalResponse](ctx, c, "ListJournal", in, opts...)
}

func (c *LedgerClient) GetPendingFees(ctx context.Context, in *LiveRequest, opts ...grpc.CallOption) (*PendingFeesResponse, error) {
	return invoke[PendingFeesResponse](ctx, c, "GetPendingFees", in, opts...)
}

func (c *LedgerClient) CheckLiquidation(ctx context.Context, in *LiveRequest, opts ...grpc.CallOption) (*LiquidationCheckResponse, error) {
	return invoke[LiquidationCheckResponse](ctx, c, "CheckLiquidation", in, opts...)
}

func (c *LedgerClient) VerifyIntegrity(ctx context.Context, opts ...grpc.CallOption) (*query.IntegrityReport, error) {
	return invoke[query.IntegrityReport](ctx, c, "VerifyIntegrity", &Empty{}, opts...)
}

func (c *LedgerClient) SubmitOperation(ctx context.Context, in *SubmitRequest, opts ...grpc.CallOption) (*SubmitResponse, error) {
	return invoke[SubmitResponse](ctx, c, "SubmitOperation", in, opts...)
}
