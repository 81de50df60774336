package config

import (
	"encoding/hex"
	"fmt"
	"time"
)

// ControlPlaneConfig configures the operator REST API server.
type ControlPlaneConfig struct {
	Port              string        `envconfig:"PORT" default:"8080"`
	Host              string        `envconfig:"HOST" default:"0.0.0.0"`
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"5s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes    int           `envconfig:"MAX_HEADER_BYTES" default:"524288" validate:"min=1"` // 512KB

	// DefaultPageSize and MaxPageSize bound notification listing.
	DefaultPageSize int `envconfig:"DEFAULT_PAGE_SIZE" default:"20" validate:"min=1"`
	MaxPageSize     int `envconfig:"MAX_PAGE_SIZE" default:"100" validate:"min=1"`

	// Bootstrap provisions a first tenant at startup when both fields are set.
	// Only the SHA-256 hex digest of the key is ever configured.
	BootstrapAccountName string `envconfig:"BOOTSTRAP_ACCOUNT_NAME"`
	BootstrapAPIKeyHash  string `envconfig:"BOOTSTRAP_API_KEY_HASH"`

	// Security
	TLSEnabled bool   `envconfig:"TLS_ENABLED" default:"false"`
	TLSCert    string `envconfig:"TLS_CERT_FILE"`
	TLSKey     string `envconfig:"TLS_KEY_FILE"`
}

// Validate performs validation on the ControlPlaneConfig.
func (c *ControlPlaneConfig) Validate(environment string) error {
	if err := validatePort(c.Port, "control plane"); err != nil {
		return err
	}

	if err := validateHost(c.Host, "control plane"); err != nil {
		return err
	}

	if c.DefaultPageSize > c.MaxPageSize {
		return fmt.Errorf("default page size (%d) cannot be greater than max page size (%d)", c.DefaultPageSize, c.MaxPageSize)
	}

	if c.BootstrapAPIKeyHash != "" {
		if err := validateSHA256Hash(c.BootstrapAPIKeyHash); err != nil {
			return fmt.Errorf("invalid bootstrap API key hash: %w", err)
		}
		if c.BootstrapAccountName == "" {
			return fmt.Errorf("bootstrap account name is required when a bootstrap API key hash is set")
		}
	}

	if environment == EnvironmentProduction && !c.TLSEnabled {
		return fmt.Errorf("TLS must be enabled in production environment")
	}

	if c.TLSEnabled && (c.TLSCert == "" || c.TLSKey == "") {
		return fmt.Errorf("TLS enabled but cert or key file not specified")
	}

	return nil
}

// HasBootstrap reports whether a bootstrap tenant is configured.
func (c *ControlPlaneConfig) HasBootstrap() bool {
	return c.BootstrapAPIKeyHash != ""
}

// validateSHA256Hash checks if the hash is a valid SHA-256 hex string (64 hex characters)
func validateSHA256Hash(hash string) error {
	if len(hash) != 64 {
		return fmt.Errorf("SHA-256 hash must be 64 characters, got %d", len(hash))
	}
	if _, err := hex.DecodeString(hash); err != nil {
		return fmt.Errorf("hash must be valid hexadecimal: %w", err)
	}
	return nil
}
