package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	StorageSQLite = "sqlite"
	StorageMongo  = "mongo"

	RevocationRedis  = "redis"
	RevocationMongo  = "mongo"
	RevocationMemory = "memory"

	FailClosed = "closed"
	FailOpen   = "open"
)

// MinSecretLength mirrors the codec's HMAC secret requirement.
const MinSecretLength = 32

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Env        string           `yaml:"env" env:"ENV" env-default:"local"`
	Storage    StorageConfig    `yaml:"storage"`
	Grpc       GRPCConfig       `yaml:"grpc"`
	Auth       AuthConfig       `yaml:"auth"`
	Revocation RevocationConfig `yaml:"revocation"`
	Events     EventsConfig     `yaml:"events"`
}

type StorageConfig struct {
	Driver        string        `yaml:"driver" env:"STORAGE_DRIVER" env-default:"sqlite"`
	Path          string        `yaml:"path" env:"STORAGE_PATH" env-default:"./storage/auth.db"`
	MongoURI      string        `yaml:"mongo_uri" env:"MONGO_URI" env-default:"mongodb://localhost:27017"`
	MongoDatabase string        `yaml:"mongo_database" env:"MONGO_DATABASE" env-default:"auth"`
	Timeout       time.Duration `yaml:"timeout" env:"STORAGE_TIMEOUT" env-default:"3s"`
}

type GRPCConfig struct {
	Port    int           `yaml:"port" env:"GRPC_PORT" env-default:"44044"`
	Timeout time.Duration `yaml:"timeout" env:"GRPC_TIMEOUT" env-default:"5s"`
}

// AuthConfig holds everything the token and auth services need. It is
// built once at startup and handed to constructors.
type AuthConfig struct {
	SigningSecret   string        `yaml:"signing_secret" env:"AUTH_SIGNING_SECRET" env-required:"true"`
	Issuer          string        `yaml:"issuer" env:"AUTH_ISSUER" env-default:"tokenauth"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl" env:"AUTH_ACCESS_TOKEN_TTL" env-default:"15m"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl" env:"AUTH_REFRESH_TOKEN_TTL" env-default:"720h"`
	ResetTokenTTL   time.Duration `yaml:"reset_token_ttl" env:"AUTH_RESET_TOKEN_TTL" env-default:"30m"`
	VerifyTokenTTL  time.Duration `yaml:"verify_token_ttl" env:"AUTH_VERIFY_TOKEN_TTL" env-default:"24h"`
	BcryptCost      int           `yaml:"bcrypt_cost" env:"AUTH_BCRYPT_COST" env-default:"10"`

	RotateRefreshTokens            bool `yaml:"rotate_refresh_tokens" env:"AUTH_ROTATE_REFRESH_TOKENS" env-default:"false"`
	RevokeSessionsOnPasswordChange bool `yaml:"revoke_sessions_on_password_change" env:"AUTH_REVOKE_SESSIONS_ON_PASSWORD_CHANGE" env-default:"true"`
}

// MaxTokenTTL returns the longest configured token lifetime.
func (c AuthConfig) MaxTokenTTL() time.Duration {
	longest := c.AccessTokenTTL
	for _, ttl := range []time.Duration{c.RefreshTokenTTL, c.ResetTokenTTL, c.VerifyTokenTTL} {
		if ttl > longest {
			longest = ttl
		}
	}
	return longest
}

type RevocationConfig struct {
	Driver        string        `yaml:"driver" env:"REVOCATION_DRIVER" env-default:"redis"`
	RedisURL      string        `yaml:"redis_url" env:"REVOCATION_REDIS_URL" env-default:"redis://localhost:6379/0"`
	KeyPrefix     string        `yaml:"key_prefix" env:"REVOCATION_KEY_PREFIX" env-default:"REVOKED_TOKEN"`
	FailMode      string        `yaml:"fail_mode" env:"REVOCATION_FAIL_MODE" env-default:"closed"`
	Timeout       time.Duration `yaml:"timeout" env:"REVOCATION_TIMEOUT" env-default:"500ms"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"REVOCATION_SWEEP_INTERVAL" env-default:"1m"`
}

type EventsConfig struct {
	HandlerTimeout time.Duration `yaml:"handler_timeout" env:"EVENTS_HANDLER_TIMEOUT" env-default:"10s"`
}

// MustLoad reads the config from the path given by --config or
// CONFIG_PATH and panics if it is missing or invalid.
func MustLoad() *Config {
	path := fetchConfigPath()
	if path == "" {
		panic("config path is empty")
	}

	return MustLoadPath(path)
}

func MustLoadPath(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate reports configuration errors that would make the service
// unsafe or unable to start.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Auth.SigningSecret) < MinSecretLength {
		errs = append(errs, fmt.Errorf("auth.signing_secret must be at least %d bytes", MinSecretLength))
	}

	ttls := map[string]time.Duration{
		"auth.access_token_ttl":  c.Auth.AccessTokenTTL,
		"auth.refresh_token_ttl": c.Auth.RefreshTokenTTL,
		"auth.reset_token_ttl":   c.Auth.ResetTokenTTL,
		"auth.verify_token_ttl":  c.Auth.VerifyTokenTTL,
	}
	for name, ttl := range ttls {
		if ttl <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	intervals := map[string]time.Duration{
		"storage.timeout":           c.Storage.Timeout,
		"grpc.timeout":              c.Grpc.Timeout,
		"revocation.timeout":        c.Revocation.Timeout,
		"revocation.sweep_interval": c.Revocation.SweepInterval,
		"events.handler_timeout":    c.Events.HandlerTimeout,
	}
	for name, d := range intervals {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	switch c.Storage.Driver {
	case StorageSQLite, StorageMongo:
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}

	switch c.Revocation.Driver {
	case RevocationRedis, RevocationMongo, RevocationMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown revocation.driver %q", c.Revocation.Driver))
	}

	if c.Revocation.Driver == RevocationMongo && c.Storage.Driver != StorageMongo {
		errs = append(errs, errors.New("revocation.driver mongo requires storage.driver mongo"))
	}

	switch c.Revocation.FailMode {
	case FailClosed, FailOpen:
	default:
		errs = append(errs, fmt.Errorf("unknown revocation.fail_mode %q", c.Revocation.FailMode))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// fetchConfigPath fetches config path from command line flag or environment variable.
// Priority: flag > env > default.
func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	return res
}
