package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GIN_MODE", "debug")
	t.Setenv("MAX_PAGES", "")
	t.Setenv("THUMBNAIL_ZOOM", "")
	t.Setenv("RENDER_CONCURRENCY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.MaxPages != 200 {
		t.Fatalf("MaxPages = %d, want 200", cfg.MaxPages)
	}
	if cfg.ThumbnailZoom != 0.5 {
		t.Fatalf("ThumbnailZoom = %v, want 0.5", cfg.ThumbnailZoom)
	}
	if cfg.RenderConcurrency != 8 {
		t.Fatalf("RenderConcurrency = %d, want 8", cfg.RenderConcurrency)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GIN_MODE", "debug")
	t.Setenv("MAX_FILE_SIZE", "2048")
	t.Setenv("EDITOR_ZOOM", "2.25")
	t.Setenv("ASYNC_THRESHOLD_PAGES", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.MaxFileSize != 2048 {
		t.Fatalf("MaxFileSize = %d, want 2048", cfg.MaxFileSize)
	}
	if cfg.EditorZoom != 2.25 {
		t.Fatalf("EditorZoom = %v, want 2.25", cfg.EditorZoom)
	}
	if cfg.AsyncThresholdPages != 120 {
		t.Fatalf("AsyncThresholdPages = %d, want fallback 120", cfg.AsyncThresholdPages)
	}
}

func TestValidateReleaseMode(t *testing.T) {
	cfg := &Config{GinMode: "release", RenderConcurrency: 1, ThumbnailZoom: 1, EditorZoom: 1, QueueRedisURL: "redis://x"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error without SESSION_SECRET")
	}
	cfg.SessionSecret = "short"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for short SESSION_SECRET")
	}
	cfg.SessionSecret = "0123456789abcdef0123456789abcdef"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
}

func TestValidateRenderSettings(t *testing.T) {
	cfg := &Config{RenderConcurrency: 0, ThumbnailZoom: 1, EditorZoom: 1}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero concurrency")
	}
}
