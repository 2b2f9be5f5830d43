package config

import "time"

type Config interface {
	APIConfig
	SessionConfig
	StorageConfig
	LogConfig
	DevBackendConfig
}

type APIConfig interface {
	GetAPIBaseURL() string
	GetRequestTimeout() time.Duration
}

type SessionConfig interface {
	GetAppName() string
	GetLocale() string
	GetNotificationDuration() time.Duration
	GetLoginPath() string
	GetHomePath() string
}

type StorageConfig interface {
	GetStorageDriver() string
	GetStoragePath() string
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetRedisKeyPrefix() string
}

type LogConfig interface {
	GetLogLevel() string
	GetLogFormat() string
}

type DevBackendConfig interface {
	GetDevBackendAddr() string
	GetSigningSecret() string
	GetAccessTokenExpiry() time.Duration
	GetRefreshTokenExpiry() time.Duration
	GetRefreshTokenLength() int
	GetRevocationRedisAddr() string
	CorsConfig
}

// Storage drivers.
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageRedis  = "redis"
)

type API struct {
	BaseURL string        `mapstructure:"base_url" validate:"required,url"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

type Session struct {
	AppName              string        `mapstructure:"app_name" validate:"required"`
	Locale               string        `mapstructure:"locale" validate:"required"`
	NotificationDuration time.Duration `mapstructure:"notification_duration" validate:"gt=0"`
	LoginPath            string        `mapstructure:"login_path" validate:"required,startswith=/"`
	HomePath             string        `mapstructure:"home_path" validate:"required,startswith=/"`
}

type Storage struct {
	Driver         string `mapstructure:"driver" validate:"oneof=memory file redis"`
	Path           string `mapstructure:"path" validate:"required_if=Driver file"`
	RedisAddr      string `mapstructure:"redis_addr" validate:"required_if=Driver redis"`
	RedisPassword  string `mapstructure:"redis_password"`
	RedisDB        int    `mapstructure:"redis_db" validate:"gte=0"`
	RedisKeyPrefix string `mapstructure:"redis_key_prefix"`
}

type Log struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

type DevBackend struct {
	Addr               string        `mapstructure:"addr" validate:"required"`
	SigningSecret      string        `mapstructure:"signing_secret" validate:"required,min=16"`
	AccessTokenExpiry  time.Duration `mapstructure:"access_token_expiry" validate:"gt=0"`
	RefreshTokenExpiry time.Duration `mapstructure:"refresh_token_expiry" validate:"gt=0"`
	RefreshTokenLength int           `mapstructure:"refresh_token_length" validate:"gte=16"`
	AllowedOrigins     []string      `mapstructure:"allowed_origins"`
	// RevocationRedisAddr shares logouts between dev backend instances. Empty keeps them in memory.
	RevocationRedisAddr string `mapstructure:"revocation_redis_addr"`
}

// Settings is the loaded configuration.
type Settings struct {
	API        API        `mapstructure:"api"`
	Session    Session    `mapstructure:"session"`
	Storage    Storage    `mapstructure:"storage"`
	Log        Log        `mapstructure:"log"`
	DevBackend DevBackend `mapstructure:"dev_backend"`
}

var _ Config = (*Settings)(nil)

func (s *Settings) GetAPIBaseURL() string            { return s.API.BaseURL }
func (s *Settings) GetRequestTimeout() time.Duration { return s.API.Timeout }

func (s *Settings) GetAppName() string                     { return s.Session.AppName }
func (s *Settings) GetLocale() string                      { return s.Session.Locale }
func (s *Settings) GetNotificationDuration() time.Duration { return s.Session.NotificationDuration }
func (s *Settings) GetLoginPath() string                   { return s.Session.LoginPath }
func (s *Settings) GetHomePath() string                    { return s.Session.HomePath }

func (s *Settings) GetStorageDriver() string  { return s.Storage.Driver }
func (s *Settings) GetStoragePath() string    { return s.Storage.Path }
func (s *Settings) GetRedisAddr() string      { return s.Storage.RedisAddr }
func (s *Settings) GetRedisPassword() string  { return s.Storage.RedisPassword }
func (s *Settings) GetRedisDB() int           { return s.Storage.RedisDB }
func (s *Settings) GetRedisKeyPrefix() string { return s.Storage.RedisKeyPrefix }

func (s *Settings) GetLogLevel() string  { return s.Log.Level }
func (s *Settings) GetLogFormat() string { return s.Log.Format }

func (s *Settings) GetDevBackendAddr() string            { return s.DevBackend.Addr }
func (s *Settings) GetSigningSecret() string             { return s.DevBackend.SigningSecret }
func (s *Settings) GetAccessTokenExpiry() time.Duration  { return s.DevBackend.AccessTokenExpiry }
func (s *Settings) GetRefreshTokenExpiry() time.Duration { return s.DevBackend.RefreshTokenExpiry }
func (s *Settings) GetRefreshTokenLength() int           { return s.DevBackend.RefreshTokenLength }
func (s *Settings) GetRevocationRedisAddr() string       { return s.DevBackend.RevocationRedisAddr }
func (s *Settings) GetAllowedOrigins() AllowedOrigins {
	return NewAllowedOrigins(s.DevBackend.AllowedOrigins...)
}
func (s *Settings) GetAllowedMethods() string { return "GET, POST, PUT, PATCH, DELETE" }
func (s *Settings) GetAllowedHeaders() string { return "Content-Type, Authorization, X-Request-ID" }
