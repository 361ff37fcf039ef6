package auth

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ServiceName = "auth.v1.Auth"

const (
	RegisterMethod                 = "/" + ServiceName + "/Register"
	LoginMethod                    = "/" + ServiceName + "/Login"
	RefreshMethod                  = "/" + ServiceName + "/Refresh"
	LogoutMethod                   = "/" + ServiceName + "/Logout"
	MeMethod                       = "/" + ServiceName + "/Me"
	ChangePasswordMethod           = "/" + ServiceName + "/ChangePassword"
	RequestPasswordResetMethod     = "/" + ServiceName + "/RequestPasswordReset"
	ResetPasswordMethod            = "/" + ServiceName + "/ResetPassword"
	RequestEmailVerificationMethod = "/" + ServiceName + "/RequestEmailVerification"
	VerifyEmailMethod              = "/" + ServiceName + "/VerifyEmail"
)

type RegisterRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Password  string `json:"password"`
}

type RegisterResponse struct {
	UserID int64 `json:"user_id"`
}

type LoginRequest struct {
	// Login is a username or an e-mail address.
	Login    string `json:"login"`
	Password string `json:"password"`
}

type TokenResponse struct {
	TokenType        string    `json:"token_type"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type LogoutRequest struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

type LogoutResponse struct {
	AccessRevoked  bool `json:"access_revoked"`
	RefreshRevoked bool `json:"refresh_revoked"`
}

type MeRequest struct{}

type MeResponse struct {
	UserID        int64  `json:"user_id"`
	Username      string `json:"username"`
	Email         string `json:"email"`
	FirstName     string `json:"first_name,omitempty"`
	LastName      string `json:"last_name,omitempty"`
	VerifiedEmail string `json:"verified_email,omitempty"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type RequestPasswordResetRequest struct {
	Login string `json:"login"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type RequestEmailVerificationRequest struct{}

type VerifyEmailRequest struct {
	Token string `json:"token"`
}

type Empty struct{}

// AuthServer is the server API for the auth.v1.Auth service.
type AuthServer interface {
	Register(context.Context, *RegisterRequest) (*RegisterResponse, error)
	Login(context.Context, *LoginRequest) (*TokenResponse, error)
	Refresh(context.Context, *RefreshRequest) (*TokenResponse, error)
	Logout(context.Context, *LogoutRequest) (*LogoutResponse, error)
	Me(context.Context, *MeRequest) (*MeResponse, error)
	ChangePassword(context.Context, *ChangePasswordRequest) (*Empty, error)
	RequestPasswordReset(context.Context, *RequestPasswordResetRequest) (*Empty, error)
	ResetPassword(context.Context, *ResetPasswordRequest) (*Empty, error)
	RequestEmailVerification(context.Context, *RequestEmailVerificationRequest) (*Empty, error)
	VerifyEmail(context.Context, *VerifyEmailRequest) (*Empty, error)
}

// UnimplementedAuthServer can be embedded to satisfy AuthServer.
type UnimplementedAuthServer struct{}

func (UnimplementedAuthServer) Register(context.Context, *RegisterRequest) (*RegisterResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Register not implemented")
}

func (UnimplementedAuthServer) Login(context.Context, *LoginRequest) (*TokenResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Login not implemented")
}

func (UnimplementedAuthServer) Refresh(context.Context, *RefreshRequest) (*TokenResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Refresh not implemented")
}

func (UnimplementedAuthServer) Logout(context.Context, *LogoutRequest) (*LogoutResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Logout not implemented")
}

func (UnimplementedAuthServer) Me(context.Context, *MeRequest) (*MeResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Me not implemented")
}

func (UnimplementedAuthServer) ChangePassword(context.Context, *ChangePasswordRequest) (*Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method ChangePassword not implemented")
}

func (UnimplementedAuthServer) RequestPasswordReset(context.Context, *RequestPasswordResetRequest) (*Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method RequestPasswordReset not implemented")
}

func (UnimplementedAuthServer) ResetPassword(context.Context, *ResetPasswordRequest) (*Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method ResetPassword not implemented")
}

func (UnimplementedAuthServer) RequestEmailVerification(context.Context, *RequestEmailVerificationRequest) (*Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method RequestEmailVerification not implemented")
}

func (UnimplementedAuthServer) VerifyEmail(context.Context, *VerifyEmailRequest) (*Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method VerifyEmail not implemented")
}

// unary adapts a typed method to a grpc.MethodHandler.
func unary[Req, Resp any](method string, call func(AuthServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AuthServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: method,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AuthServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// AuthServiceDesc is the grpc.ServiceDesc for the auth.v1.Auth service.
var AuthServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuthServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Register", Handler: unary(RegisterMethod, AuthServer.Register)},
		{MethodName: "Login", Handler: unary(LoginMethod, AuthServer.Login)},
		{MethodName: "Refresh", Handler: unary(RefreshMethod, AuthServer.Refresh)},
		{MethodName: "Logout", Handler: unary(LogoutMethod, AuthServer.Logout)},
		{MethodName: "Me", Handler: unary(MeMethod, AuthServer.Me)},
		{MethodName: "ChangePassword", Handler: unary(ChangePasswordMethod, AuthServer.ChangePassword)},
		{MethodName: "RequestPasswordReset", Handler: unary(RequestPasswordResetMethod, AuthServer.RequestPasswordReset)},
		{MethodName: "ResetPassword", Handler: unary(ResetPasswordMethod, AuthServer.ResetPassword)},
		{MethodName: "RequestEmailVerification", Handler: unary(RequestEmailVerificationMethod, AuthServer.RequestEmailVerification)},
		{MethodName: "VerifyEmail", Handler: unary(VerifyEmailMethod, AuthServer.VerifyEmail)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "auth/v1/auth.proto",
}

func RegisterAuthServer(s grpc.ServiceRegistrar, srv AuthServer) {
	s.RegisterService(&AuthServiceDesc, srv)
}

// AuthClient calls the auth.v1.Auth service using the JSON codec.
type AuthClient struct {
	cc grpc.ClientConnInterface
}

func NewAuthClient(cc grpc.ClientConnInterface) *AuthClient {
	return &AuthClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AuthClient) Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*RegisterResponse, error) {
	return invoke[RegisterResponse](ctx, c.cc, RegisterMethod, in, opts)
}

func (c *AuthClient) Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*TokenResponse, error) {
	return invoke[TokenResponse](ctx, c.cc, LoginMethod, in, opts)
}

func (c *AuthClient) Refresh(ctx context.Context, in *RefreshRequest, opts ...grpc.CallOption) (*TokenResponse, error) {
	return invoke[TokenResponse](ctx, c.cc, RefreshMethod, in, opts)
}

func (c *AuthClient) Logout(ctx context.Context, in *LogoutRequest, opts ...grpc.CallOption) (*LogoutResponse, error) {
	return invoke[LogoutResponse](ctx, c.cc, LogoutMethod, in, opts)
}

func (c *AuthClient) Me(ctx context.Context, in *MeRequest, opts ...grpc.CallOption) (*MeResponse, error) {
	return invoke[MeResponse](ctx, c.cc, MeMethod, in, opts)
}

func (c *AuthClient) ChangePassword(ctx context.Context, in *ChangePasswordRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, ChangePasswordMethod, in, opts)
}

func (c *AuthClient) RequestPasswordReset(ctx context.Context, in *RequestPasswordResetRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, RequestPasswordResetMethod, in, opts)
}

func (c *AuthClient) ResetPassword(ctx context.Context, in *ResetPasswordRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, ResetPasswordMethod, in, opts)
}

func (c *AuthClient) RequestEmailVerification(ctx context.Context, in *RequestEmailVerificationRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, RequestEmailVerificationMethod, in, opts)
}

func (c *AuthClient) VerifyEmail(ctx context.Context, in *VerifyEmailRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, VerifyEmailMethod, in, opts)
}
