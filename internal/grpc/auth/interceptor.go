package auth

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"tokenauth/internal/domain/models"
	"tokenauth/internal/lib/sl"
)

const (
	authorizationHeader = "authorization"
	bearerPrefix        = "Bearer "
	RequestIDHeader     = "x-request-id"
)

type ctxKey string

const identityKey ctxKey = "identity"

// protectedMethods need a valid access token.
var protectedMethods = map[string]bool{
	MeMethod:                       true,
	ChangePasswordMethod:           true,
	RequestEmailVerificationMethod: true,
}

type Authorizer interface {
	Authorize(ctx context.Context, accessToken string) (*models.Identity, error)
}

// AuthInterceptor checks the bearer token of protected methods and puts
// the caller's identity into the context.
func AuthInterceptor(log *slog.Logger, authorizer Authorizer) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !protectedMethods[info.FullMethod] {
			return handler(ctx, req)
		}

		accessToken, ok := bearerToken(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing token")
		}

		identity, err := authorizer.Authorize(ctx, accessToken)
		if err != nil {
			log.Debug("authorization failed",
				slog.String("op", "grpc.AuthInterceptor"),
				slog.String("method", info.FullMethod),
				sl.Err(err),
			)
			return nil, toStatus(log, info.FullMethod, err)
		}

		return handler(WithIdentity(ctx, identity), req)
	}
}

// LoggingInterceptor tags every call with a ULID request id, returned
// in the x-request-id header, and logs its status code and latency.
func LoggingInterceptor(log *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		requestID := ulid.Make().String()
		_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDHeader, requestID))

		resp, err := handler(ctx, req)

		log.Info("grpc call",
			slog.String("request_id", requestID),
			slog.String("method", info.FullMethod),
			slog.String("code", status.Code(err).String()),
			slog.Duration("duration", time.Since(start)),
		)

		return resp, err
	}
}

// TimeoutInterceptor bounds every call by timeout unless the client
// asked for a shorter deadline. A non-positive timeout disables it.
func TimeoutInterceptor(timeout time.Duration) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if timeout <= 0 {
			return handler(ctx, req)
		}

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		return handler(ctx, req)
	}
}

func bearerToken(ctx context.Context) (string, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false
	}

	for _, v := range md.Get(authorizationHeader) {
		if len(v) > len(bearerPrefix) && strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
			return strings.TrimSpace(v[len(bearerPrefix):]), true
		}
	}
	return "", false
}

func WithIdentity(ctx context.Context, identity *models.Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

func IdentityFromContext(ctx context.Context) (*models.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(*models.Identity)
	return identity, ok && identity != nil
}

// WithBearer returns a context that sends accessToken to the server.
func WithBearer(ctx context.Context, accessToken string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, authorizationHeader, bearerPrefix+accessToken)
}
