package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"tokenauth/internal/domain/models"
	"tokenauth/internal/lib/password"
	"tokenauth/internal/lib/sl"
	"tokenauth/internal/services/auth"
)

type Auth interface {
	Register(ctx context.Context, in models.NewUser) (userID int64, err error)
	Login(ctx context.Context, login, password string) (models.TokenPair, error)
	Authorize(ctx context.Context, accessToken string) (*models.Identity, error)
	Logout(ctx context.Context, accessToken, refreshToken string) (accessRevoked, refreshRevoked bool, err error)
	Refresh(ctx context.Context, refreshToken string) (models.TokenPair, error)
	ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error
	RequestPasswordReset(ctx context.Context, login string) error
	ResetPassword(ctx context.Context, resetToken, newPassword string) error
	RequestEmailVerification(ctx context.Context, login string) error
	VerifyEmail(ctx context.Context, verifyToken string) error
}

type serverAPI struct {
	UnimplementedAuthServer
	log  *slog.Logger
	auth Auth
}

func Register(gRPC *grpc.Server, log *slog.Logger, auth Auth) {
	RegisterAuthServer(gRPC, &serverAPI{log: log, auth: auth})
}

func (s *serverAPI) Register(
	ctx context.Context,
	req *RegisterRequest,
) (*RegisterResponse, error) {
	if req.Username == "" {
		return nil, status.Error(codes.InvalidArgument, "username is required")
	}

	if req.Email == "" {
		return nil, status.Error(codes.InvalidArgument, "email is required")
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return nil, status.Error(codes.InvalidArgument, "email is invalid")
	}

	if err := validatePassword(req.Password); err != nil {
		return nil, err
	}

	userID, err := s.auth.Register(ctx, models.NewUser{
		Username:  req.Username,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Password:  req.Password,
	})
	if err != nil {
		return nil, toStatus(s.log, RegisterMethod, err)
	}

	return &RegisterResponse{UserID: userID}, nil
}

func (s *serverAPI) Login(
	ctx context.Context,
	req *LoginRequest,
) (*TokenResponse, error) {
	if req.Login == "" {
		return nil, status.Error(codes.InvalidArgument, "login is required")
	}

	if req.Password == "" {
		return nil, status.Error(codes.InvalidArgument, "password is required")
	}

	pair, err := s.auth.Login(ctx, req.Login, req.Password)
	if err != nil {
		return nil, toStatus(s.log, LoginMethod, err)
	}

	return tokenResponse(pair), nil
}

func (s *serverAPI) Refresh(
	ctx context.Context,
	req *RefreshRequest,
) (*TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, status.Error(codes.InvalidArgument, "refresh token is required")
	}

	pair, err := s.auth.Refresh(ctx, req.RefreshToken)
	if err != nil {
		return nil, toStatus(s.log, RefreshMethod, err)
	}

	return tokenResponse(pair), nil
}

func (s *serverAPI) Logout(
	ctx context.Context,
	req *LogoutRequest,
) (*LogoutResponse, error) {
	if req.AccessToken == "" && req.RefreshToken == "" {
		return nil, status.Error(codes.InvalidArgument, "access or refresh token is required")
	}

	accessRevoked, refreshRevoked, err := s.auth.Logout(ctx, req.AccessToken, req.RefreshToken)
	if err != nil {
		return nil, toStatus(s.log, LogoutMethod, err)
	}

	return &LogoutResponse{
		AccessRevoked:  accessRevoked,
		RefreshRevoked: refreshRevoked,
	}, nil
}

func (s *serverAPI) Me(
	ctx context.Context,
	_ *MeRequest,
) (*MeResponse, error) {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	return &MeResponse{
		UserID:        identity.UserID,
		Username:      identity.Username,
		Email:         identity.Email,
		FirstName:     identity.FirstName,
		LastName:      identity.LastName,
		VerifiedEmail: identity.VerifiedEmail,
	}, nil
}

func (s *serverAPI) ChangePassword(
	ctx context.Context,
	req *ChangePasswordRequest,
) (*Empty, error) {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	if req.OldPassword == "" {
		return nil, status.Error(codes.InvalidArgument, "old password is required")
	}
	if err := validatePassword(req.NewPassword); err != nil {
		return nil, err
	}

	if err := s.auth.ChangePassword(ctx, identity.Username, req.OldPassword, req.NewPassword); err != nil {
		return nil, toStatus(s.log, ChangePasswordMethod, err)
	}

	return &Empty{}, nil
}

func (s *serverAPI) RequestPasswordReset(
	ctx context.Context,
	req *RequestPasswordResetRequest,
) (*Empty, error) {
	if req.Login == "" {
		return nil, status.Error(codes.InvalidArgument, "login is required")
	}

	if err := s.auth.RequestPasswordReset(ctx, req.Login); err != nil {
		return nil, toStatus(s.log, RequestPasswordResetMethod, err)
	}

	return &Empty{}, nil
}

func (s *serverAPI) ResetPassword(
	ctx context.Context,
	req *ResetPasswordRequest,
) (*Empty, error) {
	if req.Token == "" {
		return nil, status.Error(codes.InvalidArgument, "token is required")
	}
	if err := validatePassword(req.NewPassword); err != nil {
		return nil, err
	}

	if err := s.auth.ResetPassword(ctx, req.Token, req.NewPassword); err != nil {
		return nil, toStatus(s.log, ResetPasswordMethod, err)
	}

	return &Empty{}, nil
}

func (s *serverAPI) RequestEmailVerification(
	ctx context.Context,
	_ *RequestEmailVerificationRequest,
) (*Empty, error) {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	if err := s.auth.RequestEmailVerification(ctx, identity.Username); err != nil {
		return nil, toStatus(s.log, RequestEmailVerificationMethod, err)
	}

	return &Empty{}, nil
}

func (s *serverAPI) VerifyEmail(
	ctx context.Context,
	req *VerifyEmailRequest,
) (*Empty, error) {
	if req.Token == "" {
		return nil, status.Error(codes.InvalidArgument, "token is required")
	}

	if err := s.auth.VerifyEmail(ctx, req.Token); err != nil {
		return nil, toStatus(s.log, VerifyEmailMethod, err)
	}

	return &Empty{}, nil
}

func validatePassword(p string) error {
	if p == "" {
		return status.Error(codes.InvalidArgument, "password is required")
	}
	if len(p) > password.MaxLength {
		return status.Error(codes.InvalidArgument, "password is too long")
	}
	return nil
}

func tokenResponse(pair models.TokenPair) *TokenResponse {
	return &TokenResponse{
		TokenType:        pair.TokenType,
		AccessToken:      pair.AccessToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshToken:     pair.RefreshToken,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}
}

// toStatus maps service errors to status codes with fixed messages so
// nothing about the cause leaks to the caller.
func toStatus(log *slog.Logger, method string, err error) error {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return status.Error(codes.Unauthenticated, "invalid login or password")
	case errors.Is(err, auth.ErrInvalidToken):
		return status.Error(codes.Unauthenticated, "invalid token")
	case errors.Is(err, auth.ErrAccountDisabled):
		return status.Error(codes.PermissionDenied, "account disabled")
	case errors.Is(err, auth.ErrUserAlreadyExists):
		return status.Error(codes.AlreadyExists, "user already exists")
	case errors.Is(err, auth.ErrInvalidPassword):
		return status.Error(codes.InvalidArgument, "invalid password")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	}

	log.Error("internal error", slog.String("method", method), sl.Err(err))
	return status.Error(codes.Internal, "internal server error")
}
