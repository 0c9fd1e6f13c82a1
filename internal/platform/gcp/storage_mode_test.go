package gcp

import (
	"errors"
	"testing"
)

func TestResolveObjectStorageConfigFromEnv_DefaultsToGCS(t *testing.T) {
	t.Setenv("STORAGE_EMULATOR_HOST", "")
	t.Setenv("OBJECT_STORAGE_MODE", "")

	cfg, err := ResolveObjectStorageConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Mode != ObjectStorageModeGCS {
		t.Fatalf("expected gcs mode, got %q", cfg.Mode)
	}
	if cfg.IsEmulatorMode() {
		t.Fatalf("expected non-emulator mode")
	}
}

func TestResolveObjectStorageConfigFromEnv_EmulatorHostImpliesEmulatorMode(t *testing.T) {
	t.Setenv("STORAGE_EMULATOR_HOST", "http://localhost:4443")
	t.Setenv("OBJECT_STORAGE_MODE", "")

	cfg, err := ResolveObjectStorageConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Mode != ObjectStorageModeGCSEmulator {
		t.Fatalf("expected emulator mode, got %q", cfg.Mode)
	}
	if !cfg.CompatibilityFallback {
		t.Fatalf("expected compatibility fallback to be recorded")
	}
}

func TestResolveObjectStorageConfigFromEnv_InvalidMode(t *testing.T) {
	t.Setenv("OBJECT_STORAGE_MODE", "bogus")

	_, err := ResolveObjectStorageConfigFromEnv()
	if err == nil {
		t.Fatalf("expected error for invalid mode")
	}
	var cfgErr *ObjectStorageConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ObjectStorageConfigError, got %T", err)
	}
	if cfgErr.Code != ObjectStorageConfigErrorInvalidMode {
		t.Fatalf("expected invalid_mode code, got %q", cfgErr.Code)
	}
}

func TestResolveObjectStorageConfigFromEnv_EmulatorModeRequiresHost(t *testing.T) {
	t.Setenv("STORAGE_EMULATOR_HOST", "")
	t.Setenv("OBJECT_STORAGE_MODE", string(ObjectStorageModeGCSEmulator))

	_, err := ResolveObjectStorageConfigFromEnv()
	if err == nil {
		t.Fatalf("expected error when emulator mode set without host")
	}
}
