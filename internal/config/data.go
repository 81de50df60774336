package config

import (
	"fmt"
	"time"
)

// DataPlaneConfig configures the SDK-facing servers: HTTP for browsers, gRPC for backends.
type DataPlaneConfig struct {
	Host     string `envconfig:"HOST" default:"0.0.0.0"`
	HTTPPort string `envconfig:"HTTP_PORT" default:"8081"`
	GRPCPort string `envconfig:"GRPC_PORT" default:"50051"`

	// HTTP specific
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"5s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"5s"`
	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"2s"`
	MaxBodyBytes      int64         `envconfig:"MAX_BODY_BYTES" default:"65536" validate:"min=1024"` // 64KB

	// AllowedOrigins feeds the CORS middleware. The SDK is embedded on customer sites, hence "*".
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"*"`

	// DeliveryTimeout bounds a delivery request; on expiry the SDK receives an empty list.
	DeliveryTimeout time.Duration `envconfig:"DELIVERY_TIMEOUT" default:"2s" validate:"gt=0"`

	// gRPC specific
	MaxConcurrentStreams uint32        `envconfig:"MAX_CONCURRENT_STREAMS" default:"100"`
	KeepaliveTime        time.Duration `envconfig:"KEEPALIVE_TIME" default:"120s"`
	KeepaliveTimeout     time.Duration `envconfig:"KEEPALIVE_TIMEOUT" default:"20s"`
	MaxConnectionAge     time.Duration `envconfig:"MAX_CONNECTION_AGE" default:"300s"`
}

// Validate performs validation on the DataPlaneConfig.
func (c *DataPlaneConfig) Validate() error {
	if err := validateHost(c.Host, "data plane"); err != nil {
		return err
	}

	if err := validatePort(c.HTTPPort, "data plane http"); err != nil {
		return err
	}

	if err := validatePort(c.GRPCPort, "data plane grpc"); err != nil {
		return err
	}

	if c.HTTPPort == c.GRPCPort {
		return fmt.Errorf("data plane http and grpc ports must differ, both are %s", c.HTTPPort)
	}

	if len(c.AllowedOrigins) == 0 {
		return fmt.Errorf("data plane requires at least one allowed origin")
	}

	return nil
}
