package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimal = `
telegram:
  token: "123:abc"
storage:
  path: /tmp/relaycast.db
`

func TestLoadMinimal(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimal))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if loc := cfg.Location(); loc != time.UTC {
		t.Fatalf("default zone = %v, want UTC", loc)
	}
}

func TestLoadFull(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
log:
  level: debug
  console: true
telegram:
  token: "123:abc"
  source_chat: -1001234567890
  admin_chat: 42
storage:
  path: /tmp/relaycast.db
  busy_timeout: 5s
timezone: Asia/Kolkata
poller:
  tick: 15s
  batch_limit: 200
  sweep_every: 2
  retention: 24h
broadcast:
  group_size: 20
  retry_max: 5
  retry_base: 2s
  alert_threshold: 0.3
channels:
  - "@alpha"
  - "@beta"
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Location().String() != "Asia/Kolkata" {
		t.Fatalf("zone = %v", cfg.Location())
	}
	if d, _ := ParseDurationOrDefault("poller.tick", cfg.Poller.Tick, time.Minute); d != 15*time.Second {
		t.Fatalf("tick = %v", d)
	}
	if len(cfg.Channels) != 2 {
		t.Fatalf("channels = %v", cfg.Channels)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, minimal+"\nshceduler:\n  tick: 1s\n"))
	if err == nil || !strings.Contains(err.Error(), "unknown field") {
		t.Fatalf("err = %v, want unknown-field rejection", err)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	_, err := Load(writeConfig(t, minimal+"\npoller:\n  tick: soon\n"))
	if err == nil || !strings.Contains(err.Error(), "poller.tick") {
		t.Fatalf("err = %v, want poller.tick duration error", err)
	}
}

func TestLoadRejectsBadThreshold(t *testing.T) {
	_, err := Load(writeConfig(t, minimal+"\nbroadcast:\n  alert_threshold: 1.5\n"))
	if err == nil {
		t.Fatal("want threshold range error")
	}
}

func TestLoadRejectsInvertedPauseWindow(t *testing.T) {
	_, err := Load(writeConfig(t, minimal+"\nbroadcast:\n  group_pause_min: 3s\n  group_pause_max: 1s\n"))
	if err == nil || !strings.Contains(err.Error(), "group_pause_max") {
		t.Fatalf("err = %v, want pause window rejection", err)
	}
}

func TestTokenFromEnv(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "env:token")
	cfg, err := Load(writeConfig(t, "storage:\n  path: /tmp/x.db\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "env:token" {
		t.Fatalf("token = %q, want env fallback", cfg.Telegram.Token)
	}
}

func TestMissingTokenFails(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "")
	_, err := Load(writeConfig(t, "storage:\n  path: /tmp/x.db\n"))
	if err == nil {
		t.Fatal("want missing-token error")
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	tests := []struct {
		raw  string
		def  time.Duration
		want time.Duration
	}{
		{raw: "", def: time.Minute, want: time.Minute},
		{raw: "30s", def: time.Minute, want: 30 * time.Second},
		{raw: "0s", def: time.Minute, want: time.Minute},
	}
	for _, tt := range tests {
		got, err := ParseDurationOrDefault("x", tt.raw, tt.def)
		if err != nil {
			t.Fatalf("ParseDurationOrDefault(%q): %v", tt.raw, err)
		}
		if got != tt.want {
			t.Fatalf("ParseDurationOrDefault(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}
