package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aussiebroadwan/hostedauth/internal/domain"
	"github.com/aussiebroadwan/hostedauth/internal/reachability"
)

// ErrInvalidConfiguration is returned by Validate. The application does not
// start with an invalid configuration.
var ErrInvalidConfiguration = errors.New("app: invalid configuration")

// KeyringBackendSQLite keeps credentials in the sealed sqlite table instead
// of the OS keychain.
const KeyringBackendSQLite = "sqlite"

// Config holds the application settings, usually read from the environment
// by LoadConfig.
type Config struct {
	// Regions is the deployment. A single region may be given with
	// HOSTEDAUTH_BASE_URL and HOSTEDAUTH_CLIENT_ID instead of a list.
	Regions domain.Regions

	BundleID       string // Required: app identifier, also the keychain service name
	CallbackScheme string // Optional: redirect URI scheme (default: lowercased bundle id)
	Platform       string // Optional: redirect URI platform segment (default: ios)
	StepUpACR      string // Optional: acr value requested and checked for step-up

	DataDir         string // Optional: settings database and master key (default: ./.hostedauth)
	MasterKeyPath   string // Optional: sealing key file (default: <data dir>/master.key)
	KeyringBackend  string // Optional: keyring backend or "sqlite" (default: OS choice)
	KeyringFileDir  string // Optional: directory for the "file" keyring backend
	KeyringPassword string // Optional: password for the "file" keyring backend

	RequestTimeoutSec int // Optional: per-call identity service timeout in seconds (default: 10)

	ProbeURL             string        // Optional: reachability probe (default: first region base url)
	ReachabilityInterval time.Duration // Optional: probe interval (default: 10s)
	ProbeTimeout         time.Duration // Optional: probe timeout (default: 5s)
	ShutdownGracePeriod  time.Duration // Optional: shutdown timeout (default: 5s)

	Env       string // Environment (dev, staging, prod) (default: dev)
	LogLevel  string // Log level (debug, info, warn, error) (default: info)
	LogFormat string // Log format (json, text) (default: text)
}

// LoadConfig reads the configuration from HOSTEDAUTH_* environment variables.
func LoadConfig() Config {
	dataDir := getEnvOrDefault("HOSTEDAUTH_DATA_DIR", ".hostedauth")

	cfg := Config{
		BundleID:             os.Getenv("HOSTEDAUTH_BUNDLE_ID"),
		CallbackScheme:       os.Getenv("HOSTEDAUTH_CALLBACK_SCHEME"),
		Platform:             getEnvOrDefault("HOSTEDAUTH_PLATFORM", "ios"),
		StepUpACR:            os.Getenv("HOSTEDAUTH_STEP_UP_ACR"),
		DataDir:              dataDir,
		MasterKeyPath:        getEnvOrDefault("HOSTEDAUTH_MASTER_KEY_PATH", filepath.Join(dataDir, "master.key")),
		KeyringBackend:       os.Getenv("HOSTEDAUTH_KEYRING_BACKEND"),
		KeyringFileDir:       getEnvOrDefault("HOSTEDAUTH_KEYRING_FILE_DIR", filepath.Join(dataDir, "keyring")),
		RequestTimeoutSec:    getEnvIntOrDefault("HOSTEDAUTH_REQUEST_TIMEOUT_SEC", 10),
		KeyringPassword:      os.Getenv("HOSTEDAUTH_KEYRING_PASSWORD"),
		ProbeURL:             os.Getenv("HOSTEDAUTH_PROBE_URL"),
		ReachabilityInterval: getEnvDurationOrDefault("HOSTEDAUTH_REACHABILITY_INTERVAL", reachability.DefaultInterval),
		ProbeTimeout:         getEnvDurationOrDefault("HOSTEDAUTH_PROBE_TIMEOUT", reachability.DefaultProbeTimeout),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 5*time.Second),
		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "text"),
	}

	cfg.Regions = loadRegions()

	return cfg
}

// loadRegions prefers the HOSTEDAUTH_REGIONS JSON list. A list that does not
// parse yields no regions so Validate reports it.
func loadRegions() domain.Regions {
	if raw := os.Getenv("HOSTEDAUTH_REGIONS"); raw != "" {
		var regions domain.Regions
		if err := json.Unmarshal([]byte(raw), &regions); err != nil {
			return nil
		}
		return regions
	}

	baseURL := os.Getenv("HOSTEDAUTH_BASE_URL")
	if baseURL == "" {
		return nil
	}
	return domain.Regions{{
		Key:           getEnvOrDefault("HOSTEDAUTH_REGION", "default"),
		BaseURL:       baseURL,
		ClientID:      os.Getenv("HOSTEDAUTH_CLIENT_ID"),
		ApplicationID: os.Getenv("HOSTEDAUTH_APPLICATION_ID"),
	}}
}

// Validate reports the first problem with cfg.
func (cfg Config) Validate() error {
	if err := cfg.Regions.Validate(); err != nil {
		return fmt.Errorf("%w: regions: %w", ErrInvalidConfiguration, err)
	}
	if cfg.BundleID == "" && cfg.CallbackScheme == "" {
		return fmt.Errorf("%w: HOSTEDAUTH_BUNDLE_ID is required", ErrInvalidConfiguration)
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("%w: HOSTEDAUTH_DATA_DIR is empty", ErrInvalidConfiguration)
	}
	if cfg.ReachabilityInterval <= 0 {
		return fmt.Errorf("%w: reachability interval must be positive", ErrInvalidConfiguration)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are seconds.
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}
