package devbackend

// APIPrefix is where the API is mounted, matching the gateway's default base URL.
const APIPrefix = "/api"

// Route path constants, relative to APIPrefix.
const (
	RouteAuthLogin              = "/auth/login"
	RouteAuthRegister           = "/auth/register"
	RouteAuthLogout             = "/auth/logout"
	RouteAuthRefresh            = "/auth/refresh-token"
	RouteAuthProfile            = "/auth/profile"
	RouteAuthChangePassword     = "/auth/change-password"
	RouteAuthPasswordReset      = "/auth/password-reset-request"
	RouteAuthResetPassword      = "/auth/reset-password"
	RouteAuthVerifyEmail        = "/auth/verify-email"
	RouteAuthResendVerification = "/auth/resend-verification"

	RouteWallet       = "/wallet"
	RouteUploadAvatar = "/upload/avatar"
	RouteAdminStats   = "/admin/stats"
	RouteAdminUsers   = "/admin/users"
)

func (s *Server) initRoutes() {
	public := s.APIMiddleware()
	authed := s.APIMiddleware(s.RequireAuth())
	admin := s.APIMiddleware(s.RequireAuth(), s.RequireAdmin())

	s.RegisterRouteFunc("POST "+RouteAuthLogin, ChainMiddleware(s.LoginHandler(), public...))
	s.RegisterRouteFunc("POST "+RouteAuthRegister, ChainMiddleware(s.RegisterHandler(), public...))
	s.RegisterRouteFunc("POST "+RouteAuthLogout, ChainMiddleware(s.LogoutHandler(), public...))
	s.RegisterRouteFunc("POST "+RouteAuthRefresh, ChainMiddleware(s.RefreshHandler(), public...))
	s.RegisterRouteFunc("POST "+RouteAuthPasswordReset, ChainMiddleware(s.PasswordResetRequestHandler(), public...))
	s.RegisterRouteFunc("POST "+RouteAuthResetPassword, ChainMiddleware(s.ResetPasswordHandler(), public...))
	s.RegisterRouteFunc("POST "+RouteAuthVerifyEmail, ChainMiddleware(s.VerifyEmailHandler(), public...))

	s.RegisterRouteFunc("GET "+RouteAuthProfile, ChainMiddleware(s.ProfileHandler(), authed...))
	s.RegisterRouteFunc("PUT "+RouteAuthProfile, ChainMiddleware(s.UpdateProfileHandler(), authed...))
	s.RegisterRouteFunc("POST "+RouteAuthChangePassword, ChainMiddleware(s.ChangePasswordHandler(), authed...))
	s.RegisterRouteFunc("POST "+RouteAuthResendVerification, ChainMiddleware(s.ResendVerificationHandler(), authed...))
	s.RegisterRouteFunc("GET "+RouteWallet, ChainMiddleware(s.WalletHandler(), authed...))
	s.RegisterRouteFunc("POST "+RouteUploadAvatar, ChainMiddleware(s.UploadAvatarHandler(), authed...))

	s.RegisterRouteFunc("GET "+RouteAdminStats, ChainMiddleware(s.AdminStatsHandler(), admin...))
	s.RegisterRouteFunc("GET "+RouteAdminUsers, ChainMiddleware(s.AdminUsersHandler(), admin...))
}
