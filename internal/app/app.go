package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	grpcapp "tokenauth/internal/app/grpc"
	"tokenauth/internal/config"
	"tokenauth/internal/events"
	"tokenauth/internal/lib/clock"
	"tokenauth/internal/lib/jwt"
	"tokenauth/internal/lib/mailer"
	"tokenauth/internal/lib/password"
	"tokenauth/internal/services/auth"
	"tokenauth/internal/services/token"
	"tokenauth/internal/storage/memory"
	"tokenauth/internal/storage/mongodb"
	"tokenauth/internal/storage/redis"
	"tokenauth/internal/storage/sqlite"
)

type App struct {
	GRPCSrv *grpcapp.App

	log     *slog.Logger
	events  *events.Dispatcher
	closers []closer
}

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

type userStorage interface {
	auth.UserSaver
	auth.UserProvider
	auth.UserUpdater
	StampLastLogin(ctx context.Context, username string, at time.Time) error
}

type revocationCache interface {
	token.RevocationCache
	Ping(ctx context.Context) error
}

// New wires storage, the revocation cache and the services from cfg.
// An unreachable backend at startup is a configuration error.
func New(ctx context.Context, log *slog.Logger, cfg *config.Config) (*App, error) {
	const op = "app.New"

	a := &App{log: log}
	clk := clock.Real()

	users, mongo, err := a.userStorage(ctx, cfg.Storage)
	if err != nil {
		a.closeQuietly()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cache, err := a.revocationCache(ctx, cfg.Revocation, mongo, clk)
	if err != nil {
		a.closeQuietly()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Revocation.Timeout)
	defer cancel()
	if err := cache.Ping(pingCtx); err != nil {
		a.closeQuietly()
		return nil, fmt.Errorf("%s: revocation cache: %w", op, err)
	}

	codec, err := jwt.New(cfg.Auth.SigningSecret, cfg.Auth.Issuer, clk)
	if err != nil {
		a.closeQuietly()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	hasher, err := password.New(cfg.Auth.BcryptCost)
	if err != nil {
		a.closeQuietly()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	failMode, err := token.ParseFailMode(cfg.Revocation.FailMode)
	if err != nil {
		a.closeQuietly()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	tokenService := token.New(log, codec, cache, clk, token.Options{
		KeyPrefix:    cfg.Revocation.KeyPrefix,
		FailMode:     failMode,
		CacheTimeout: cfg.Revocation.Timeout,
	})

	a.events = events.NewDispatcher(log, cfg.Events.HandlerTimeout)

	authService := auth.New(
		log,
		cfg.Auth,
		cfg.Storage.Timeout,
		users,
		users,
		users,
		tokenService,
		hasher,
		a.events,
		clk,
	)

	subscribeHandlers(a.events, log, mailer.NewLogSender(log), users, authService)

	a.GRPCSrv = grpcapp.New(log, authService, cfg.Grpc.Port, cfg.Grpc.Timeout)

	log.Info("application wired",
		slog.String("storage", cfg.Storage.Driver),
		slog.String("revocation", cfg.Revocation.Driver),
		slog.String("fail_mode", failMode.String()),
	)

	return a, nil
}

func (a *App) userStorage(ctx context.Context, cfg config.StorageConfig) (userStorage, *mongodb.Storage, error) {
	switch cfg.Driver {
	case config.StorageMongo:
		connectCtx, cancel := context.WithTimeout(ctx, 10*cfg.Timeout)
		defer cancel()

		s, err := mongodb.New(connectCtx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		a.addCloser("mongodb", s.Close)
		return s, s, nil

	case config.StorageSQLite:
		s, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		a.addCloser("sqlite", func(context.Context) error { return s.Close() })
		return s, nil, nil
	}

	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

func (a *App) revocationCache(
	ctx context.Context,
	cfg config.RevocationConfig,
	mongo *mongodb.Storage,
	clk clock.Clock,
) (revocationCache, error) {
	switch cfg.Driver {
	case config.RevocationRedis:
		connectCtx, cancel := context.WithTimeout(ctx, 10*cfg.Timeout)
		defer cancel()

		c, err := redis.New(connectCtx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.addCloser("redis", func(context.Context) error { return c.Close() })
		return c, nil

	case config.RevocationMongo:
		if mongo == nil {
			return nil, errors.New("mongo revocation cache needs mongo storage")
		}
		return mongo, nil

	case config.RevocationMemory:
		c := memory.New(clk)
		sweepCtx, stop := context.WithCancel(context.Background())
		go c.Run(sweepCtx, cfg.SweepInterval)
		a.addCloser("memory sweeper", func(context.Context) error {
			stop()
			return nil
		})
		return c, nil
	}

	return nil, fmt.Errorf("unknown revocation driver %q", cfg.Driver)
}

func (a *App) addCloser(name string, fn func(ctx context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Close waits for pending event handlers, then releases backends in
// reverse order of creation. The gRPC server must be stopped first.
func (a *App) Close(ctx context.Context) error {
	const op = "app.Close"
	log := a.log.With(slog.String("op", op))

	var errs []error

	if a.events != nil {
		if err := a.events.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("events: %w", err))
		}
	}

	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
			continue
		}
		log.Debug("closed", slog.String("resource", c.name))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (a *App) closeQuietly() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.Close(ctx)
}
