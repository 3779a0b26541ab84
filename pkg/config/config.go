package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	Environment string
	ServerPort  int
	LogLevel    string

	// SharedToken is the bearer secret callers must present. Empty means the
	// server is misconfigured and every provisioning call fails with 500.
	SharedToken        string
	NetworkURL         string
	CORSAllowedOrigins []string
	// TrustProxyHeaders lets X-Client-IP and X-Forwarded-For name the client
	TrustProxyHeaders  bool

	StorageBackend string
	RedisURL       string
	DatabaseURL    string

	PlatformAPIURL    string
	PlatformAPISecret string
	PlatformTimeout   time.Duration

	SMTPHost     string
	SMTPPort     int
	SMTPFrom     string
	SMTPPassword string
	MailTimeout  time.Duration

	RateLimit RateLimit
	Burst     Burst

	SlugMaxAttempts         int
	UsernameMaxAttempts     int
	MaxConcurrentProvisions int
	MaxPayloadBytes         int64

	AuditLogDir            string
	AuditMaxBytes          int64
	AuditCompressAfterDays int
	AuditRetentionDays     int
	BlocklistRetentionDays int
	MaintenanceInterval    time.Duration
	StuckTenantAfter       time.Duration

	BlueprintDir string
}

// RateLimit is the per-client quota window
type RateLimit struct {
	MaxRequests int
	Window      time.Duration
}

// Burst tunes the burst heuristic of the abuse detector
type Burst struct {
	Window    time.Duration
	Threshold int
	MinGap    time.Duration
}

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Load reads configuration from environment variables
func Load() (*Config, error) {
	var errs []string
	intVar := func(key string, def int) int {
		v, err := strconv.Atoi(getEnv(key, strconv.Itoa(def)))
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", key, err))
			return def
		}
		return v
	}
	boolVar := func(key string, def bool) bool {
		v, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(def)))
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", key, err))
			return def
		}
		return v
	}

	cfg := &Config{
		Environment:        getEnv("ENVIRONMENT", "development"),
		ServerPort:         intVar("SERVER_PORT", 8080),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		SharedToken:        os.Getenv("SITE_FACTORY_TOKEN"),
		NetworkURL:         strings.TrimRight(getEnv("NETWORK_URL", "http://localhost:8000"), "/"),
		CORSAllowedOrigins: parseCSVEnv("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),
		TrustProxyHeaders:  boolVar("TRUST_PROXY_HEADERS", true),

		StorageBackend: strings.ToLower(getEnv("STORAGE_BACKEND", BackendMemory)),
		RedisURL:       os.Getenv("REDIS_URL"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),

		PlatformAPIURL:    strings.TrimRight(os.Getenv("PLATFORM_API_URL"), "/"),
		PlatformAPISecret: os.Getenv("PLATFORM_API_SECRET"),
		PlatformTimeout:   time.Duration(intVar("PLATFORM_TIMEOUT_SECONDS", 20)) * time.Second,

		SMTPHost:     os.Getenv("SMTP_HOST"),
		SMTPPort:     intVar("SMTP_PORT", 587),
		SMTPFrom:     getEnv("SMTP_FROM", "noreply@localhost"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		MailTimeout:  time.Duration(intVar("MAIL_TIMEOUT_SECONDS", 15)) * time.Second,

		RateLimit: RateLimit{
			MaxRequests: intVar("RATE_LIMIT_MAX_REQUESTS", 10),
			Window:      time.Duration(intVar("RATE_LIMIT_WINDOW_MINUTES", 60)) * time.Minute,
		},
		Burst: Burst{
			Window:    time.Duration(intVar("BURST_WINDOW_SECONDS", 60)) * time.Second,
			Threshold: intVar("BURST_THRESHOLD", 5),
			MinGap:    time.Duration(intVar("BURST_MIN_GAP_SECONDS", 10)) * time.Second,
		},

		SlugMaxAttempts:         intVar("SLUG_MAX_ATTEMPTS", 1000),
		UsernameMaxAttempts:     intVar("USERNAME_MAX_ATTEMPTS", 1000),
		MaxConcurrentProvisions: intVar("MAX_CONCURRENT_PROVISIONS", 8),
		MaxPayloadBytes:         int64(intVar("MAX_PAYLOAD_BYTES", 1<<20)),

		AuditLogDir:            getEnv("AUDIT_LOG_DIR", "./data/audit"),
		AuditMaxBytes:          int64(intVar("AUDIT_MAX_BYTES", 10<<20)),
		AuditCompressAfterDays: intVar("AUDIT_COMPRESS_AFTER_DAYS", 7),
		AuditRetentionDays:     intVar("AUDIT_RETENTION_DAYS", 30),
		BlocklistRetentionDays: intVar("BLOCKLIST_RETENTION_DAYS", 30),
		MaintenanceInterval:    time.Duration(intVar("MAINTENANCE_INTERVAL_MINUTES", 60)) * time.Minute,
		StuckTenantAfter:       time.Duration(intVar("STUCK_TENANT_MINUTES", 30)) * time.Minute,

		BlueprintDir: os.Getenv("BLUEPRINT_DIR"),
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORAGE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("invalid STORAGE_BACKEND %q", c.StorageBackend)
	}
	if c.RateLimit.MaxRequests < 1 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit must allow at least one request per positive window")
	}
	if c.SlugMaxAttempts < 1 || c.UsernameMaxAttempts < 1 {
		return fmt.Errorf("SLUG_MAX_ATTEMPTS and USERNAME_MAX_ATTEMPTS must be positive")
	}
	if c.MaxConcurrentProvisions < 1 {
		return fmt.Errorf("MAX_CONCURRENT_PROVISIONS must be positive")
	}
	return nil
}

// SiteURL returns the public URL of the tenant at slug
func (c *Config) SiteURL(slug string) string {
	return c.NetworkURL + "/" + slug + "/"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseCSVEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
