package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Sandbox  SandboxConfig
	Otel     OtelConfig
}

type ServerConfig struct {
	Host             string
	Port             int
	AllowedOrigins   []string
	AllowEmptyOrigin bool
	DataDir          string
}

type DatabaseConfig struct {
	URL      string
	MaxConns int
}

type AuthConfig struct {
	// JWTSecret signs access and container tokens.
	JWTSecret string
	// EncryptionKey is the hex-encoded 32-byte AES key for provider API keys.
	EncryptionKey   string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	// ContainerTokenTTL bounds the handshake window of a starting container.
	ContainerTokenTTL time.Duration
}

type SandboxConfig struct {
	DockerSock string
	Image      string
	// BackendWSURL is the URL containers dial back to, as seen from inside
	// the container network (host-gateway).
	BackendWSURL  string
	IdleTimeout   time.Duration
	ReapInterval  time.Duration
	MemoryBytes   int64
	NanoCPUs      int64
	StopGraceSecs int
	HistoryLimit  int
}

type OtelConfig struct {
	Enabled bool
}

// Load reads configuration from the environment, consulting a .env file if
// present. CRUCIBLE_-prefixed names win over the generic fallbacks.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Host:             getEnvWithFallback("CRUCIBLE_SERVER_HOST", "HOST", "0.0.0.0"),
			Port:             getEnvIntWithFallback("CRUCIBLE_SERVER_PORT", "PORT", 8080),
			AllowedOrigins:   getEnvSlice("CRUCIBLE_ALLOWED_ORIGINS", []string{"*"}),
			AllowEmptyOrigin: getEnvBool("CRUCIBLE_ALLOW_EMPTY_ORIGIN", false),
			DataDir:          getEnvWithFallback("CRUCIBLE_DATA_DIR", "DATA_DIR", "./data"),
		},
		Database: DatabaseConfig{
			URL:      getEnvWithFallback("CRUCIBLE_POSTGRES_URL", "DATABASE_URL", "postgres://localhost:5432/crucible?sslmode=disable"),
			MaxConns: getEnvInt("CRUCIBLE_DB_MAX_CONNS", 5),
		},
		Auth: AuthConfig{
			JWTSecret:         getEnvWithFallback("CRUCIBLE_JWT_SECRET", "JWT_SECRET", ""),
			EncryptionKey:     getEnvWithFallback("CRUCIBLE_ENCRYPTION_KEY", "ENCRYPTION_KEY", ""),
			AccessTokenTTL:    getEnvDuration("CRUCIBLE_ACCESS_TOKEN_TTL", 15*time.Minute),
			RefreshTokenTTL:   getEnvDuration("CRUCIBLE_REFRESH_TOKEN_TTL", 30*24*time.Hour),
			ContainerTokenTTL: getEnvDuration("CRUCIBLE_CONTAINER_TOKEN_TTL", 5*time.Minute),
		},
		Sandbox: SandboxConfig{
			DockerSock:    getEnvWithFallback("CRUCIBLE_DOCKER_SOCK", "DOCKER_SOCK", "/var/run/docker.sock"),
			Image:         getEnvWithFallback("CRUCIBLE_SANDBOX_IMAGE", "SANDBOX_IMAGE", "crucible-agent:latest"),
			BackendWSURL:  getEnvWithFallback("CRUCIBLE_BACKEND_WS_URL", "BACKEND_WS_URL", "ws://host.docker.internal:8080/internal/ws"),
			IdleTimeout:   getEnvDuration("CRUCIBLE_SANDBOX_IDLE_TIMEOUT", 30*time.Minute),
			ReapInterval:  getEnvDuration("CRUCIBLE_SANDBOX_REAP_INTERVAL", time.Minute),
			MemoryBytes:   512 * 1024 * 1024,
			NanoCPUs:      1_000_000_000,
			StopGraceSecs: 10,
			HistoryLimit:  getEnvInt("CRUCIBLE_INIT_HISTORY_LIMIT", 50),
		},
		Otel: OtelConfig{
			Enabled: getEnvBool("CRUCIBLE_OTEL_ENABLED", false),
		},
	}
}

// MustSecrets fatally exits when the secrets a production deployment cannot
// run without are missing.
func (c *Config) MustSecrets() {
	if c.Auth.JWTSecret == "" {
		log.Fatal("CRUCIBLE_JWT_SECRET is required")
	}
	if c.Auth.EncryptionKey == "" {
		log.Fatal("CRUCIBLE_ENCRYPTION_KEY is required")
	}
}

func getEnvWithFallback(primary, fallback, defaultValue string) string {
	for _, key := range []string{primary, fallback} {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvIntWithFallback(primary, fallback string, defaultValue int) int {
	for _, key := range []string{primary, fallback} {
		if value := os.Getenv(key); value != "" {
			if i, err := strconv.Atoi(value); err == nil {
				return i
			}
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
