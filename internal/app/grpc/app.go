package grpcapp

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	authgrpc "tokenauth/internal/grpc/auth"
)

type App struct {
	logger     *slog.Logger
	gRPCServer *grpc.Server
	health     *health.Server
	port       int
}

func New(
	logger *slog.Logger,
	authService authgrpc.Auth,
	port int,
	timeout time.Duration,
) *App {
	gRPCServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		authgrpc.LoggingInterceptor(logger),
		authgrpc.TimeoutInterceptor(timeout),
		authgrpc.AuthInterceptor(logger, authService),
	))
	authgrpc.Register(gRPCServer, logger, authService)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(gRPCServer, healthServer)
	healthServer.SetServingStatus(authgrpc.ServiceName, healthpb.HealthCheckResponse_SERVING)

	return &App{
		logger:     logger,
		gRPCServer: gRPCServer,
		health:     healthServer,
		port:       port,
	}
}

func (a *App) MustRun() {
	if err := a.Run(); err != nil {
		panic(err)
	}
}

func (a *App) Run() error {
	const op = "grpcapp.Run"

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", a.port))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return a.Serve(listener)
}

// Serve accepts connections on lis until Stop is called.
func (a *App) Serve(lis net.Listener) error {
	const op = "grpcapp.Serve"

	log := a.logger.With(
		slog.String("op", op),
		slog.Int("port", a.port),
	)

	log.Info("gRPC server is running", slog.String("address", lis.Addr().String()))

	if err := a.gRPCServer.Serve(lis); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (a *App) Stop() {
	const op = "grpcapp.Stop"
	log := a.logger.With(slog.String("op", op))
	log.Info("stopping gRPC server", slog.Int("port", a.port))

	a.health.Shutdown()
	a.gRPCServer.GracefulStop()
}
