package config

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all Gateway configuration, loaded from environment variables.
type Config struct {
	// GatewayID is stamped as sender_id on every outbound ControlMessage.
	GatewayID string `env:"GATEWAY_ID,required"`

	// Cloud control channel.
	CloudAddress string `env:"CLOUD_ADDRESS,required"`
	CloudTLSCert string `env:"CLOUD_TLS_CERT_FILE"`
	CloudTLSKey  string `env:"CLOUD_TLS_KEY_FILE"`
	CloudTLSCA   string `env:"CLOUD_TLS_CA_FILE"`

	// Device-facing transport.
	DeviceListenPort   int           `env:"DEVICE_LISTEN_PORT" envDefault:"5000"`
	DeviceConnectPort  int           `env:"DEVICE_CONNECT_PORT" envDefault:"6000"`
	DeviceNetworkIface string        `env:"DEVICE_NETWORK_INTERFACE"`
	DeviceTLSCert      string        `env:"DEVICE_TLS_CERT_FILE"`
	DeviceTLSKey       string        `env:"DEVICE_TLS_KEY_FILE"`
	DeviceTLSCA        string        `env:"DEVICE_TLS_CA_FILE"`
	SessionIdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"5m"`
	DeviceReadTimeout  time.Duration `env:"DEVICE_READ_TIMEOUT" envDefault:"30s"`

	// License / update policy.
	LicenseCheckIntervalMin int    `env:"LICENSE_CHECK_INTERVAL_MIN" envDefault:"60"`
	UpdateMaxRetries        int    `env:"UPDATE_MAX_RETRIES" envDefault:"3"`
	MaxPendingPackageBytes  int64  `env:"MAX_PENDING_PACKAGE_BYTES" envDefault:"536870912"`
	UpdateSigningPublicKey  string `env:"UPDATE_SIGNING_PUBLIC_KEY,required"`

	// Filesystem locations.
	LogsDirectory          string `env:"LOGS_DIRECTORY,required"`
	UpdatePackageDirectory string `env:"UPDATE_PACKAGE_DIRECTORY,required"`

	// Recommender bridge.
	RecommenderAddress string `env:"RECOMMENDER_ADDRESS"`

	// Legacy aggregation path (explicitly not core; kept only so the
	// interval isn't silently dropped if an operator still sets it).
	DataAggregationIntervalS int `env:"DATA_AGGREGATION_INTERVAL_S" envDefault:"300"`

	// Infrastructure.
	DatabaseURL   string `env:"DATABASE_URL,required"`
	RedisURL      string `env:"REDIS_URL,required"`
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`

	// Logging.
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Ops HTTP surface.
	MetricsListenAddr string `env:"METRICS_LISTEN_ADDR" envDefault:":9090"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}
	return cfg, nil
}

// DeviceListenAddr returns the address the device TCP listener binds to.
func (c *Config) DeviceListenAddr() string {
	return fmt.Sprintf("0.0.0.0:%d", c.DeviceListenPort)
}

// DeviceTLSEnabled reports whether mTLS material was configured for the
// device-facing listener and dialer.
func (c *Config) DeviceTLSEnabled() bool {
	return c.DeviceTLSCert != "" && c.DeviceTLSKey != ""
}

// CloudTLSEnabled reports whether mTLS material was configured for the
// cloud control channel.
func (c *Config) CloudTLSEnabled() bool {
	return c.CloudTLSCert != "" && c.CloudTLSKey != ""
}

// ParseUpdateSigningPublicKey decodes the hex-encoded ed25519 public key
// used to verify update package signatures.
func (c *Config) ParseUpdateSigningPublicKey() (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(c.UpdateSigningPublicKey)
	if err != nil {
		return nil, fmt.Errorf("decoding update signing public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("update signing public key has %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}
