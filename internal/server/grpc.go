package server

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"path"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"LiftoffLedger/internal/errs"
	"LiftoffLedger/internal/ingestion"
	"LiftoffLedger/internal/observability"
	"LiftoffLedger/internal/persistence"
	"LiftoffLedger/internal/query"
)

const serviceName = "liftoff.ledger.v1.LedgerService"

// GRPCServer wraps the gRPC server and the HTTP/JSON gateway.
type GRPCServer struct {
	grpcServer   *grpc.Server
	healthServer *health.Server
	httpServer   *http.Server
	grpcAddr     string
	httpAddr     string
	svc          *ledgerService
	deps         *ServerDeps
	logger       zerolog.Logger
}

// ServerDeps holds all dependencies needed by the RPC services.
type ServerDeps struct {
	DB            *sql.DB
	QueryService  *query.QueryService
	IngestService *ingestion.GRPCIngestService
	SnapshotMgr   *persistence.SnapshotManager
	StartTime     time.Time
	HealthChecker *observability.HealthChecker
	Snapshot      SnapshotFunc
	Metrics       *observability.Metrics
}

// NewGRPCServer creates a gRPC server with the ledger, health and
// reflection services registered.
func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps, logger zerolog.Logger) *GRPCServer {
	s := &GRPCServer{
		grpcAddr: grpcAddr,
		httpAddr: httpAddr,
		svc:      &ledgerService{deps: deps, now: time.Now},
		deps:     deps,
		logger:   observability.Subsystem(logger, "server"),
	}

	s.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(s.unaryInterceptor))
	s.grpcServer.RegisterService(&ledgerServiceDesc, s.svc)

	s.healthServer = health.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.healthServer)
	s.healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)

	// Reflection for grpcurl
	reflection.Register(s.grpcServer)

	return s
}

// StartGRPC starts the gRPC server (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.healthServer.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTPGateway serves the HTTP/JSON routes, health probes and
// Prometheus metrics (blocking).
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	handler, err := s.HTTPHandler()
	if err != nil {
		return err
	}
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn().Err(err).Msg("HTTP shutdown")
		}
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// unaryInterceptor records request metrics and converts domain errors
// into gRPC statuses.
func (s *GRPCServer) unaryInterceptor(
	ctx context.Context,
	req any,
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (any, error) {
	method := path.Base(info.FullMethod)
	resp, err := handler(ctx, req)
	s.record(method, err)
	if err != nil {
		return nil, toStatus(err)
	}
	return resp, nil
}

func (s *GRPCServer) record(endpoint string, err error) {
	code := codes.OK
	if err != nil {
		code = codeFor(err)
		if code == codes.Internal {
			s.logger.Error().Err(err).Str("endpoint", endpoint).Msg("request failed")
		}
	}
	m := s.deps.Metrics
	if m == nil {
		return
	}
	m.QueryRequests.WithLabelValues(endpoint, code.String()).Inc()
	if err != nil {
		m.QueryErrors.WithLabelValues(endpoint, errs.CodeOf(err)).Inc()
	}
}

// --- Service descriptor ---

// ledgerServiceDesc is written by hand; messages travel as JSON, see
// jsonCodec.
var ledgerServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Submit", LedgerServer.Submit),
		unary("GetSale", LedgerServer.GetSale),
		unary("ListSales", LedgerServer.ListSales),
		unary("GetContribution", LedgerServer.GetContribution),
		unary("GetInsurance", LedgerServer.GetInsurance),
		unary("GetRedeemValue", LedgerServer.GetRedeemValue),
		unary("GetWalletBalances", LedgerServer.GetWalletBalances),
		unary("GetAccountBalance", LedgerServer.GetAccountBalance),
		unary("ListJournals", LedgerServer.ListJournals),
		unary("VerifyIntegrity", LedgerServer.VerifyIntegrity),
		unary("GetEventLogInfo", LedgerServer.GetEventLogInfo),
		unary("TakeSnapshot", LedgerServer.TakeSnapshot),
		unary("RebuildProjections", LedgerServer.RebuildProjections),
	},
	Streams: []grpc.StreamDesc{},
}

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
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + serviceName + "/" + name,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(LedgerServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}
