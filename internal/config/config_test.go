package config

import "testing"

func TestApplyDefaultsFillsZeroValues(t *testing.T) {
	c := &Config{}
	c.ApplyDefaults()

	if c.ListenAddr == "" {
		t.Fatalf("expected a default listen address")
	}
	if c.ProtocolBufferSize != minProtocolBufferSize {
		t.Fatalf("expected buffer size floor %d, got %d", minProtocolBufferSize, c.ProtocolBufferSize)
	}
	if c.KeepaliveInterval == 0 || c.KeepaliveTimeout == 0 {
		t.Fatalf("expected keepalive defaults to be set")
	}
}

func TestApplyDefaultsEnforcesBufferFloor(t *testing.T) {
	c := &Config{ProtocolBufferSize: 64}
	c.ApplyDefaults()
	if c.ProtocolBufferSize != minProtocolBufferSize {
		t.Fatalf("expected undersized buffer raised to the floor, got %d", c.ProtocolBufferSize)
	}
}

func TestApplyDefaultsPreservesExplicitValues(t *testing.T) {
	c := &Config{ProtocolBufferSize: 1024, ListenAddr: "127.0.0.1:9999", LogLevel: "debug"}
	c.ApplyDefaults()
	if c.ProtocolBufferSize != 1024 || c.ListenAddr != "127.0.0.1:9999" || c.LogLevel != "debug" {
		t.Fatalf("expected explicit values preserved, got %+v", c)
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	c := New()
	if c.ListenAddr == "" || c.ProtocolBufferSize < minProtocolBufferSize {
		t.Fatalf("expected New() to apply defaults, got %+v", c)
	}
}
