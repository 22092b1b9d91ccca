package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFlagsOverrideOnlyWhenSet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := []byte("server:\n  port: 9000\necho:\n  quiet: true\n  size_body_bytes: 64\n")
	if err := os.WriteFile(path, yaml, 0o600); err != nil {
		t.Fatal(err)
	}

	cmd, f := newRootCmd()
	if err := cmd.ParseFlags([]string{"-c", path, "--delay-body", "250"}); err != nil {
		t.Fatal(err)
	}
	cfg, err := resolveConfig(cmd, f)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != 9000 {
		t.Fatalf("expected port from file, got %d", cfg.Server.Port)
	}
	if !cfg.Echo.Quiet {
		t.Fatal("expected quiet from file")
	}
	if cfg.Echo.SizeBodyBytes == nil || *cfg.Echo.SizeBodyBytes != 64 {
		t.Fatalf("expected size_body_bytes 64, got %v", cfg.Echo.SizeBodyBytes)
	}
	if cfg.Echo.DelayBodyMs == nil || *cfg.Echo.DelayBodyMs != 250 {
		t.Fatalf("expected delay_body_ms 250, got %v", cfg.Echo.DelayBodyMs)
	}
	if cfg.Echo.DelayHeadersMs != nil {
		t.Fatal("expected unset header delay to stay nil")
	}
}

func TestRateLimitFlagEnables(t *testing.T) {
	cmd, f := newRootCmd()
	if err := cmd.ParseFlags([]string{"--rate-limit-rps", "5"}); err != nil {
		t.Fatal(err)
	}
	cfg, err := resolveConfig(cmd, f)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.RateLimit.Enabled || cfg.RateLimit.RPS != 5 || cfg.RateLimit.Burst != 5 {
		t.Fatalf("unexpected rate limit config: %+v", cfg.RateLimit)
	}
}

func TestInvalidOverrideFailsValidation(t *testing.T) {
	cmd, f := newRootCmd()
	if err := cmd.ParseFlags([]string{"--log-format", "xml"}); err != nil {
		t.Fatal(err)
	}
	if _, err := resolveConfig(cmd, f); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestValidateConfigExitsWithoutServing(t *testing.T) {
	cmd, _ := newRootCmd()
	cmd.SetArgs([]string{"--validate-config", "--log-level", "error"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
