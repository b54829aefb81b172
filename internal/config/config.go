// Package config holds the device link's runtime configuration, following
// the zero-value-plus-applyDefaults style of server.Config.
package config

import "time"

// Config bundles the options a running device link needs: protocol
// behavior switches, OTA defaults, and ambient logging/listener settings.
type Config struct {
	ListenAddr string
	LogLevel   string

	// ProtocolBufferSize is the datagram size negotiated at HELLO; the
	// original enforces a floor of 640 bytes (the smallest buffer that can
	// hold a maximal DESCRIBE response).
	ProtocolBufferSize int

	// RequireHelloResponse mirrors Protocol::INIT waiting on a HELLO ack
	// before moving to HANDSHAKE complete; disabling it is only valid
	// against test harnesses that never reply.
	RequireHelloResponse bool

	// DeviceInitiatedDescribe controls whether this device sends its
	// DESCRIBE unprompted after HELLO (true) or waits for the cloud to ask
	// for it (false), matching spark_protocol.cpp's DESCRIBE_SYSTEM /
	// DESCRIBE_APPLICATION flag handling.
	DeviceInitiatedDescribe bool

	// CompressedOTA sets the COMPRESSED_OTA bit (0x40) in the Hello flags
	// byte. The chunked transfer has no decompression path: chunks are
	// handed to the storage driver exactly as received.
	CompressedOTA bool

	// FastOTADefault is not read by any package in this module: the
	// fast-OTA flag in UpdateReady comes from the UPDATE_BEGIN flags byte,
	// or from chunked.Transfer.SetFastOTA when that override is set.
	FastOTADefault bool

	// SessionStorePath is where the session persistence record is saved;
	// empty disables persistence (session.NewMemStore is used instead).
	SessionStorePath string

	// KeepaliveInterval and KeepaliveTimeout are filled in by ApplyDefaults
	// but not read by the keepalive package, which uses its own
	// PingThreshold (15s) and AckThreshold (10s) constants.
	KeepaliveInterval time.Duration
	KeepaliveTimeout  time.Duration

	// UpdateDropDir is watched by the cmd/devicesim CLI for firmware
	// images to offer as simulated UPDATE_BEGIN transfers.
	UpdateDropDir string

	// MetricsAddr serves the Prometheus registry, if non-empty.
	MetricsAddr string
}

// minProtocolBufferSize is SparkProtocol::MAX_OPTION_DELTA_LENGTH's
// practical floor: the smallest buffer that can still carry a maximal
// DESCRIBE response without fragmentation.
const minProtocolBufferSize = 640

// ApplyDefaults fills zero values with sensible defaults, mirroring
// server.Config.applyDefaults.
func (c *Config) ApplyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":5683"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ProtocolBufferSize < minProtocolBufferSize {
		c.ProtocolBufferSize = minProtocolBufferSize
	}
	if c.KeepaliveInterval == 0 {
		c.KeepaliveInterval = 30 * time.Second
	}
	if c.KeepaliveTimeout == 0 {
		c.KeepaliveTimeout = 3 * c.KeepaliveInterval
	}
}

// New builds a Config with defaults applied, for callers that don't parse
// flags (tests, library embedders).
func New() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}
