package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete gateway configuration, loadable from environment
// variables (GATEWAY_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"Gateway listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (GATEWAY_DATABASE_URL or DATABASE_URL)" flag:"database-url"`

	GatewaySecret string        `usage:"Static perimeter secret for service-to-service calls" flag:"gateway-secret"`
	KeySecret     string        `usage:"HMAC secret for signed API keys" flag:"key-secret"`
	KeyMaxAge     time.Duration `default:"720h" usage:"Max age of signed API keys" flag:"key-max-age"`
	JWTSecret     string        `usage:"HMAC secret for session tokens" flag:"jwt-secret"`
	JWTTTL        time.Duration `default:"24h" usage:"Session token lifetime" flag:"jwt-ttl"`
	InternalKey   string        `usage:"Credential attached to proxied calls into internal services" flag:"internal-key"`

	Services  ServicesConfig
	Proxy     ProxyConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// ServicesConfig holds the base URLs of the internal services behind the
// gateway.
type ServicesConfig struct {
	RecipeURL   string `default:"http://recipe-service:8080" usage:"Recipe service base URL" flag:"recipe-url"`
	UserURL     string `default:"http://user-service:8080" usage:"User service base URL" flag:"user-url"`
	MediaURL    string `default:"http://media-service:8080" usage:"Media service base URL" flag:"media-url"`
	MailURL     string `default:"http://mail-service:8080" usage:"Mail service base URL" flag:"mail-url"`
	RealtimeURL string `default:"http://realtime-service:8080" usage:"Realtime service base URL" flag:"realtime-url"`
}

// ProxyConfig controls outbound calls to the internal services.
type ProxyConfig struct {
	Timeout     time.Duration `default:"30s" usage:"Timeout for proxied calls"`
	MailTimeout time.Duration `default:"10s" usage:"Timeout for mail dispatch" flag:"mail-timeout"`
}

// RateLimitConfig holds the two request classes of the perimeter limiter:
// strict guards credential endpoints, moderate guards token churn.
type RateLimitConfig struct {
	Strict   StrictWindowConfig
	Moderate ModerateWindowConfig
}

// StrictWindowConfig is the sliding-window class for credential endpoints.
type StrictWindowConfig struct {
	Max    int           `default:"15" usage:"Max requests per window"`
	Window time.Duration `default:"1m" usage:"Rate limit window duration"`
}

// ModerateWindowConfig is the sliding-window class for token churn endpoints.
type ModerateWindowConfig struct {
	Max    int           `default:"20" usage:"Max requests per window"`
	Window time.Duration `default:"1m" usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"true" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "GATEWAY",
		Files:     []string{"config.yaml", "/etc/gateway/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set GATEWAY_DATABASE_URL or DATABASE_URL")
	}
	if cfg.GatewaySecret == "" || cfg.KeySecret == "" || cfg.JWTSecret == "" {
		return nil, errors.New("perimeter secrets are required: set GATEWAY_GATEWAY_SECRET, GATEWAY_KEY_SECRET and GATEWAY_JWT_SECRET")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// gateway's GATEWAY_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
