package config

import "testing"

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := LoadWithPath(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8085 {
		t.Errorf("expected default port 8085, got %d", cfg.Server.Port)
	}
	if cfg.Dispatch.MaxPendingQueue != 100 {
		t.Errorf("expected default maxPendingQueue 100, got %d", cfg.Dispatch.MaxPendingQueue)
	}
	if cfg.Dispatch.AuthRequired() {
		t.Error("expected auth to not be required with no secret/token configured")
	}
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	t.Setenv("DISPATCHD_SERVER_PORT", "9999")
	t.Setenv("DISPATCHD_DISPATCH_AUTH_SECRET", "s3cret")
	t.Setenv("DISPATCHD_DISPATCH_EXPECTED_TOKEN", "tok")

	cfg, err := LoadWithPath(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("expected env override for port, got %d", cfg.Server.Port)
	}
	if !cfg.Dispatch.AuthRequired() {
		t.Error("expected auth to be required once secret and token are set")
	}
}

func TestLoadDevModeOverridesAuthRequired(t *testing.T) {
	t.Setenv("DISPATCHD_DISPATCH_AUTH_SECRET", "s3cret")
	t.Setenv("DISPATCHD_DISPATCH_EXPECTED_TOKEN", "tok")
	t.Setenv("DISPATCHD_DISPATCH_DEV_MODE", "true")

	cfg, err := LoadWithPath(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Dispatch.AuthRequired() {
		t.Error("expected dev mode to disable auth regardless of secret/token")
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := &Config{
		Server:   ServerConfig{Port: 0},
		Dispatch: DispatchConfig{MaxPendingQueue: 1, CompletedMaxSize: 1},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
	}
	if err := validate(cfg); err == nil {
		t.Fatal("expected validate to reject a non-positive port")
	}
}
