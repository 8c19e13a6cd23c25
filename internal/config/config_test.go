package config

import "testing"

func TestLoadDefaultsAndFlag(t *testing.T) {
	cfg, err := Load([]string{"-jwt-secret", "shh", "-max-room-size", "12"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxRoomSize != 12 {
		t.Fatalf("expected max room size 12, got %d", cfg.MaxRoomSize)
	}
	if cfg.ListenAddr != ":8443" {
		t.Fatalf("expected default listen addr, got %q", cfg.ListenAddr)
	}
}

func TestLoadRequiresSecret(t *testing.T) {
	if _, err := Load(nil); err == nil {
		t.Fatal("expected error when JWT secret is missing")
	}
}

func TestEnvOverridesFlag(t *testing.T) {
	t.Setenv("MAX_ROOM_SIZE", "7")
	t.Setenv("JWT_SECRET", "from-env")
	cfg, err := Load([]string{"-max-room-size", "12"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxRoomSize != 7 {
		t.Fatalf("expected env override to win, got %d", cfg.MaxRoomSize)
	}
	if string(cfg.JWTSecret) != "from-env" {
		t.Fatalf("expected JWT secret from env, got %q", cfg.JWTSecret)
	}
}

func TestInvalidEnvNumberErrors(t *testing.T) {
	t.Setenv("JWT_SECRET", "shh")
	t.Setenv("MAX_ROOM_SIZE", "not-a-number")
	if _, err := Load(nil); err == nil {
		t.Fatal("expected error for malformed MAX_ROOM_SIZE")
	}
}
