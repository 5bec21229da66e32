package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("completion:\n  model: gpt-4o-mini\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("completion:\n  model: gpt-4o-mini\n"), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("completion:\n  model: gpt-4o-mini\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("redis.addr = %q, want localhost:6379", cfg.Redis.Addr)
	}
	if cfg.Clarification.MaxAttempts != 2 {
		t.Errorf("clarification.max_attempts = %d, want 2", cfg.Clarification.MaxAttempts)
	}
	if cfg.Clarification.TTL != 10*time.Minute {
		t.Errorf("clarification.ttl = %v, want 10m", cfg.Clarification.TTL)
	}
	if cfg.History.TTL != 6*time.Hour {
		t.Errorf("history.ttl = %v, want 6h", cfg.History.TTL)
	}
	if cfg.History.Limit != 5 {
		t.Errorf("history.limit = %d, want 5", cfg.History.Limit)
	}
	if cfg.Completion.MaxTokens != 1024 {
		t.Errorf("completion.max_tokens = %d, want 1024", cfg.Completion.MaxTokens)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log_level = %q, want info", cfg.LogLevel)
	}
}

func TestLoad_MissingModel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("redis:\n  addr: localhost:6380\n"), 0600)

	if _, err := Load(path); err == nil {
		t.Fatal("Load without completion.model should error")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("completion:\n  model: gpt-4o-mini\n  api_key: ${ATENDE_TEST_KEY}\n"), 0600)
	os.Setenv("ATENDE_TEST_KEY", "secret123")
	defer os.Unsetenv("ATENDE_TEST_KEY")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Completion.APIKey != "secret123" {
		t.Errorf("api_key = %q, want %q", cfg.Completion.APIKey, "secret123")
	}
}

func TestLoad_Durations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("completion:\n  model: gpt-4o-mini\nclarification:\n  max_attempts: 3\n  ttl: 5m\nhistory:\n  ttl: 12h\n  limit: 10\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Clarification.MaxAttempts != 3 {
		t.Errorf("clarification.max_attempts = %d, want 3", cfg.Clarification.MaxAttempts)
	}
	if cfg.Clarification.TTL != 5*time.Minute {
		t.Errorf("clarification.ttl = %v, want 5m", cfg.Clarification.TTL)
	}
	if cfg.History.TTL != 12*time.Hour {
		t.Errorf("history.ttl = %v, want 12h", cfg.History.TTL)
	}
	if cfg.History.Limit != 10 {
		t.Errorf("history.limit = %d, want 10", cfg.History.Limit)
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"info", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{"trace", LevelTrace, false},
		{"debug", slog.LevelDebug, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{" debug ", slog.LevelDebug, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tc := range cases {
		got, err := ParseLogLevel(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseLogLevel(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseLogLevel(%q) error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestReplaceLogLevelNames(t *testing.T) {
	a := slog.Attr{Key: slog.LevelKey, Value: slog.AnyValue(LevelTrace)}
	got := ReplaceLogLevelNames(nil, a)
	if got.Value.String() != "TRACE" {
		t.Errorf("trace level rendered as %q, want TRACE", got.Value.String())
	}

	b := slog.Attr{Key: slog.LevelKey, Value: slog.AnyValue(slog.LevelInfo)}
	got = ReplaceLogLevelNames(nil, b)
	if got.Value.Any().(slog.Level) != slog.LevelInfo {
		t.Errorf("info level altered: %v", got.Value)
	}
}
