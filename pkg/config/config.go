// Package config loads Proofwork's runtime configuration the way the
// reference service loads its own: defaults, then an optional YAML file,
// then environment variables layered on top via envdecode, with
// godotenv populating the process environment from a local .env first.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string `json:"host" env:"SERVER_HOST"`
	Port int    `json:"port" env:"SERVER_PORT"`
}

// DatabaseConfig controls persistence.
type DatabaseConfig struct {
	Driver          string `json:"driver" env:"DATABASE_DRIVER"`
	DSN             string `json:"dsn" env:"DATABASE_DSN"`
	Host            string `json:"host" env:"DATABASE_HOST"`
	Port            int    `json:"port" env:"DATABASE_PORT"`
	User            string `json:"user" env:"DATABASE_USER"`
	Password        string `json:"password" env:"DATABASE_PASSWORD"`
	Name            string `json:"name" env:"DATABASE_NAME"`
	SSLMode         string `json:"sslmode" env:"DATABASE_SSLMODE"`
	MaxOpenConns    int    `json:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `json:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `json:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	MigrateOnStart  bool   `json:"migrate_on_start" yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level      string `json:"level" env:"LOG_LEVEL"`
	Format     string `json:"format" env:"LOG_FORMAT"`
	Output     string `json:"output" env:"LOG_OUTPUT"`
	FilePrefix string `json:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// AuthConfig controls bearer-token authentication for the four principal
// kinds described in the data model: buyers authenticate with a hashed API
// key looked up in the store, workers carry a self-verifying JWT signed
// with WorkerJWTSecret, and verifiers/admins present a static shared
// secret compared in constant time.
type AuthConfig struct {
	AdminToken      string `json:"admin_token" env:"ADMIN_TOKEN"`
	VerifierToken   string `json:"verifier_token" env:"VERIFIER_TOKEN"`
	WorkerJWTSecret string `json:"worker_jwt_secret" env:"WORKER_JWT_SECRET"`
}

// MarketplaceConfig holds the control-plane policy knobs named in the
// external interface: payout floors, descriptor strictness, the
// universal worker-facing kill switch, outbox-backpressure threshold,
// buyer CORS allowlist, and blocked upload content types.
type MarketplaceConfig struct {
	MinPayoutCents           int64    `json:"min_payout_cents" env:"MIN_PAYOUT_CENTS"`
	EnableTaskDescriptor     bool     `json:"enable_task_descriptor" env:"ENABLE_TASK_DESCRIPTOR"`
	UniversalWorkerPause     bool     `json:"universal_worker_pause" env:"UNIVERSAL_WORKER_PAUSE"`
	MaxOutboxPendingAgeSec   int      `json:"max_outbox_pending_age_sec" env:"MAX_OUTBOX_PENDING_AGE_SEC"`
	CORSAllowOrigins         []string `json:"cors_allow_origins" env:"CORS_ALLOW_ORIGINS"`
	StripeWebhookSecret      string   `json:"stripe_webhook_secret" env:"STRIPE_WEBHOOK_SECRET"`
	BlockedUploadContentType []string `json:"blocked_upload_content_types" env:"BLOCKED_UPLOAD_CONTENT_TYPES"`
}

// ChainConfig wires the Base/USDC settlement rail: the JSON-RPC endpoint,
// the token and splitter contracts, the confirmation depth required
// before a payout is considered settled, the platform's own take (capped
// at MaxProofworkFeeBps so the pipeline refuses to start misconfigured),
// and the KMS key id the signer driver resolves its key through.
type ChainConfig struct {
	BaseRPCURL               string `json:"base_rpc_url" env:"BASE_RPC_URL"`
	BaseUSDCAddress          string `json:"base_usdc_address" env:"BASE_USDC_ADDRESS"`
	BasePayoutSplitterAddr   string `json:"base_payout_splitter_address" env:"BASE_PAYOUT_SPLITTER_ADDRESS"`
	BaseConfirmationsNeeded  int    `json:"base_confirmations_required" env:"BASE_CONFIRMATIONS_REQUIRED"`
	ProofworkFeeBps          int    `json:"proofwork_fee_bps" env:"PROOFWORK_FEE_BPS"`
	MaxProofworkFeeBps       int    `json:"max_proofwork_fee_bps" env:"MAX_PROOFWORK_FEE_BPS"`
	ProofworkFeeWalletBase   string `json:"proofwork_fee_wallet_base" env:"PROOFWORK_FEE_WALLET_BASE"`
	KMSPayoutKeyID           string `json:"kms_payout_key_id" env:"KMS_PAYOUT_KEY_ID"`
	// PayoutSignerHexKey is a local-dev-only substitute for a real KMS key
	// source: it resolves KMSPayoutKeyID to a hex-encoded secp256k1 key so
	// the payout pipeline can sign without a live AWS KMS endpoint.
	PayoutSignerHexKey string `json:"payout_signer_hex_key" env:"PAYOUT_SIGNER_HEX_KEY"`
	// ArtifactScannerURL points at the HTTP sidecar backing the artifact
	// scan outbox handler's platform.ContentDriver.
	ArtifactScannerURL string `json:"artifact_scanner_url" env:"ARTIFACT_SCANNER_URL"`
}

// RateLimitConfig selects the keyed-limiter backend. Redis is optional;
// when RedisURL is unset every instance enforces its own ceiling locally.
type RateLimitConfig struct {
	RedisURL string `json:"redis_url" env:"RATE_LIMIT_REDIS_URL"`
}

// Config is the top-level configuration structure.
type Config struct {
	Server      ServerConfig      `json:"server"`
	Database    DatabaseConfig    `json:"database"`
	Logging     LoggingConfig     `json:"logging"`
	Auth        AuthConfig        `json:"auth"`
	Marketplace MarketplaceConfig `json:"marketplace"`
	Chain       ChainConfig       `json:"chain"`
	RateLimit   RateLimitConfig   `json:"rate_limit"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
			MigrateOnStart:  true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			FilePrefix: "proofwork",
		},
		Marketplace: MarketplaceConfig{
			MinPayoutCents:         100,
			MaxOutboxPendingAgeSec: 120,
		},
		Chain: ChainConfig{
			BaseConfirmationsNeeded: 3,
			ProofworkFeeBps:         100,
			MaxProofworkFeeBps:      500,
		},
	}
}

// ConnectionString builds a PostgreSQL connection string using host parameters.
func (c DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Load loads configuration from file (if present) and environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/config.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode returns an error when no tagged fields are present in the
		// environment; treat that case as "no overrides" so local runs work
		// without exporting vars.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	applyDatabaseURLOverride(cfg)
	applyCommaSeparatedOverrides(cfg)

	return cfg, nil
}

// LoadFile reads configuration from a YAML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	applyDatabaseURLOverride(cfg)
	applyCommaSeparatedOverrides(cfg)
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	return nil
}

// LoadConfig is a helper used by tests to load JSON config snippets.
func LoadConfig(path string) (*Config, error) {
	cfg := New()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	applyDatabaseURLOverride(cfg)
	applyCommaSeparatedOverrides(cfg)
	return cfg, nil
}

// applyDatabaseURLOverride aligns config loading with cmd/appserver: DATABASE_URL
// overrides any file-based DSN to reduce setup friction across environments.
func applyDatabaseURLOverride(cfg *Config) {
	if cfg == nil {
		return
	}
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		cfg.Database.DSN = dsn
	}
}

// applyCommaSeparatedOverrides handles env vars envdecode can't decode
// directly into a []string (it only splits on its own struct tag for a
// small set of kinds), keeping CORS_ALLOW_ORIGINS and
// BLOCKED_UPLOAD_CONTENT_TYPES as plain comma-separated strings in the
// environment the way the rest of the marketplace config is expressed.
func applyCommaSeparatedOverrides(cfg *Config) {
	if cfg == nil {
		return
	}
	if v := strings.TrimSpace(os.Getenv("CORS_ALLOW_ORIGINS")); v != "" {
		cfg.Marketplace.CORSAllowOrigins = splitTrim(v)
	}
	if v := strings.TrimSpace(os.Getenv("BLOCKED_UPLOAD_CONTENT_TYPES")); v != "" {
		cfg.Marketplace.BlockedUploadContentType = splitTrim(v)
	}
}

func splitTrim(raw string) []string {
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

// Validate rejects configuration the pipeline must never start under,
// chiefly a misconfigured platform fee that would exceed its own cap.
func (c *Config) Validate() error {
	if c.Chain.ProofworkFeeBps > c.Chain.MaxProofworkFeeBps {
		return fmt.Errorf("config: proofwork_fee_bps (%d) exceeds max_proofwork_fee_bps (%d)",
			c.Chain.ProofworkFeeBps, c.Chain.MaxProofworkFeeBps)
	}
	if c.Marketplace.MinPayoutCents < 0 {
		return fmt.Errorf("config: min_payout_cents must be >= 0, got %d", c.Marketplace.MinPayoutCents)
	}
	return nil
}

// String renders a config summary safe for startup logs: it omits
// secrets (tokens, DSN credentials, webhook/JWT secrets) entirely.
func (c *Config) String() string {
	return fmt.Sprintf(
		"server=%s:%d db_driver=%s min_payout_cents=%d max_proofwork_fee_bps=%d base_confirmations=%d",
		c.Server.Host, c.Server.Port, c.Database.Driver,
		c.Marketplace.MinPayoutCents, c.Chain.MaxProofworkFeeBps, c.Chain.BaseConfirmationsNeeded,
	)
}
