// Package config loads OARS platform configuration from the process
// environment into a single struct, the way core/pkg/config does for its
// predecessor: flat fields, os.Getenv with sane local defaults, no
// framework.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
)

// Config holds every environment-driven setting a PlatformContext needs to
// assemble its services. It is read once at startup and passed down; no
// package reaches back into the environment after Load returns.
type Config struct {
	Port     string
	LogLevel string

	Store       string // file | postgres
	DatabaseURL string

	BackplaneMode         string // inline | queue
	BackplaneDriver       string // file | postgres
	BackplaneRetryDelay   int
	BackplaneLockTimeout  int
	BackplaneMaxAttempts  int
	BackplanePollInterval int
	BackplaneClaimLimit   int

	SiemTargets           []SiemTargetConfig
	SiemRetryInterval     int
	SiemRetryMaxAttempts  int
	SiemRetryMaxQueueSize int
	SiemRetryQueuePath    string
	SiemRetryAutoStart    bool

	ImmutableLedgerPath    string
	LedgerRetentionDefault int

	DataEncryptionKey string

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	TrustedJWKS string

	MTLSEnabled               bool
	MTLSTrustedIdentities     []string
	MTLSTrustedIdentitiesFile string
	MTLSAttestationSecret     string
	MTLSMaxClockSkewSeconds   int

	AllowDevTokensInProduction bool
	DisableDevTokens           bool
}

// SiemTargetConfig is one entry of the SIEM_TARGETS JSON array.
type SiemTargetConfig struct {
	TargetID string `json:"targetId"`
	Kind     string `json:"kind"`
	Endpoint string `json:"endpoint"`
}

// Load reads configuration from the environment, applying the defaults
// documented for local/dev use.
func Load() *Config {
	c := &Config{
		Port:     getenv("PORT", "8080"),
		LogLevel: getenv("LOG_LEVEL", "INFO"),

		Store:       getenv("STORE", "file"),
		DatabaseURL: getenv("DATABASE_URL", "postgres://oars@localhost:5432/oars?sslmode=disable"),

		BackplaneMode:         getenv("BACKPLANE_MODE", "inline"),
		BackplaneDriver:       getenv("BACKPLANE_DRIVER", "file"),
		BackplaneRetryDelay:   getenvInt("BACKPLANE_RETRY_DELAY_SECONDS", 30),
		BackplaneLockTimeout:  getenvInt("BACKPLANE_LOCK_TIMEOUT_SECONDS", 60),
		BackplaneMaxAttempts:  getenvInt("BACKPLANE_MAX_ATTEMPTS", 5),
		BackplanePollInterval: getenvInt("BACKPLANE_POLL_INTERVAL_MS", 500),
		BackplaneClaimLimit:   getenvInt("BACKPLANE_CLAIM_LIMIT", 10),

		SiemRetryInterval:     getenvInt("SIEM_RETRY_INTERVAL_SECONDS", 30),
		SiemRetryMaxAttempts:  getenvInt("SIEM_RETRY_MAX_ATTEMPTS", 5),
		SiemRetryMaxQueueSize: getenvInt("SIEM_RETRY_MAX_QUEUE_SIZE", 10000),
		SiemRetryQueuePath:    getenv("SIEM_RETRY_QUEUE_PATH", "./data/siem-retry-queue.ndjson"),
		SiemRetryAutoStart:    getenvBool("SIEM_RETRY_AUTO_START", true),

		ImmutableLedgerPath:    getenv("IMMUTABLE_LEDGER_PATH", "./data/ledger.ndjson"),
		LedgerRetentionDefault: getenvInt("LEDGER_RETENTION_DAYS", 365),

		DataEncryptionKey: os.Getenv("DATA_ENCRYPTION_KEY"),

		JWTSecret:   os.Getenv("JWT_SECRET"),
		JWTIssuer:   getenv("JWT_ISSUER", "oars"),
		JWTAudience: getenv("JWT_AUDIENCE", "oars-api"),
		TrustedJWKS: os.Getenv("TRUSTED_JWKS"),

		MTLSEnabled:               getenvBool("MTLS_ENABLED", false),
		MTLSTrustedIdentitiesFile: os.Getenv("MTLS_TRUSTED_IDENTITIES_FILE"),
		MTLSAttestationSecret:     os.Getenv("MTLS_ATTESTATION_SECRET"),
		MTLSMaxClockSkewSeconds:   getenvInt("MTLS_MAX_CLOCK_SKEW_SECONDS", 300),

		AllowDevTokensInProduction: getenvBool("ALLOW_DEV_TOKENS_IN_PRODUCTION", false),
		DisableDevTokens:           getenvBool("DISABLE_DEV_TOKENS", false),
	}

	if raw := os.Getenv("MTLS_TRUSTED_IDENTITIES"); raw != "" {
		c.MTLSTrustedIdentities = splitCSV(raw)
	}

	if raw := os.Getenv("SIEM_TARGETS"); raw != "" {
		var targets []SiemTargetConfig
		if err := json.Unmarshal([]byte(raw), &targets); err == nil {
			c.SiemTargets = targets
		}
	}

	return c
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "true" || v == "1"
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
