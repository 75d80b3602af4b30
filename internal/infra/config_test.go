package infra

import (
	"testing"
	"time"

	"vidgen/internal/domain"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("STORAGE_BASE_URL", "")
	t.Setenv("BUDGET_DAILY_LIMIT_USD", "")
	t.Setenv("BUDGET_TIMEZONE", "")
	t.Setenv("QUEUE_WORKERS", "")
	t.Setenv("TRANSCODER", "")
	t.Setenv("FFMPEG_PATH", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StorageBaseURL != "http://localhost:8080/static" {
		t.Fatalf("StorageBaseURL mismatch: got %q", cfg.StorageBaseURL)
	}
	if cfg.Budget.DailyLimit != domain.MustMoney("10.00") {
		t.Fatalf("DailyLimit = %s, want 10.00", cfg.Budget.DailyLimit)
	}
	if cfg.Budget.OverageTolerance != domain.MustMoney("0.10") {
		t.Fatalf("OverageTolerance = %s, want 0.10", cfg.Budget.OverageTolerance)
	}
	if cfg.Budget.Location != time.UTC {
		t.Fatalf("Location = %v, want UTC", cfg.Budget.Location)
	}
	if cfg.Transcoder != "auto" || cfg.FFmpegPath != "ffmpeg" {
		t.Fatalf("transcoder defaults = %q/%q", cfg.Transcoder, cfg.FFmpegPath)
	}
	if cfg.QueueWorkers != 3 || cfg.QueueMaxAttempts != 3 {
		t.Fatalf("queue defaults = %d/%d", cfg.QueueWorkers, cfg.QueueMaxAttempts)
	}
	if cfg.PollTimeout != 300*time.Second {
		t.Fatalf("PollTimeout = %v", cfg.PollTimeout)
	}
}

func TestLoadConfigInheritsPortInStorageBaseURL(t *testing.T) {
	t.Setenv("PORT", "1919")
	t.Setenv("STORAGE_BASE_URL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StorageBaseURL != "http://localhost:1919/static" {
		t.Fatalf("StorageBaseURL mismatch: got %q", cfg.StorageBaseURL)
	}
}

func TestLoadConfigRejectsBadMoney(t *testing.T) {
	t.Setenv("BUDGET_DAILY_LIMIT_USD", "ten")
	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error for malformed budget")
	}
}

func TestLoadConfigRejectsBadTimezone(t *testing.T) {
	t.Setenv("BUDGET_TIMEZONE", "Mars/Olympus")
	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error for unknown timezone")
	}
}

func TestLoadConfigSplitsOrigins(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example.com, ,https://b.example.com ")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example.com" {
		t.Fatalf("CORSOrigins = %q", cfg.CORSOrigins)
	}
}
