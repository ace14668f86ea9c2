package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := New()

	if cfg.Server.Addr != ":8080" {
		t.Errorf("expected default addr :8080, got %q", cfg.Server.Addr)
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("expected default backend memory, got %q", cfg.Store.Backend)
	}
	if cfg.PollTimeout() != 8*time.Second {
		t.Errorf("expected 8s poll timeout, got %v", cfg.PollTimeout())
	}
	if cfg.PollMaxWait() != 25*time.Second {
		t.Errorf("expected 25s poll cap, got %v", cfg.PollMaxWait())
	}
	if cfg.ReadTimeout() != 30*time.Second {
		t.Errorf("expected 30s read timeout, got %v", cfg.ReadTimeout())
	}
}

func TestParseOverrides(t *testing.T) {
	cfg, err := Parse(`
[server]
addr = ":9090"

[store]
backend = "sqlite"
path = "/var/lib/agentdo/board.db"

[log]
level = "debug"

[poll]
timeout_seconds = 5
max_wait_seconds = 20
interval_seconds = 1
`)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("expected :9090, got %q", cfg.Server.Addr)
	}
	if cfg.Store.Backend != "sqlite" || cfg.Store.Path != "/var/lib/agentdo/board.db" {
		t.Errorf("store override not applied: %+v", cfg.Store)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected debug, got %q", cfg.Log.Level)
	}
	if cfg.PollInterval() != time.Second {
		t.Errorf("expected 1s interval, got %v", cfg.PollInterval())
	}
}

func TestParsePartialKeepsDefaults(t *testing.T) {
	cfg, err := Parse(`
[log]
level = "warn"
`)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("expected warn, got %q", cfg.Log.Level)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("unset sections must keep defaults, got %q", cfg.Server.Addr)
	}
}

func TestPoliciesOverride(t *testing.T) {
	cfg, err := Parse(`
[limits.task_create]
limit = 5
window_seconds = 60
`)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	set := cfg.Policies()
	if set.TaskCreate.Limit != 5 || set.TaskCreate.Window != time.Minute {
		t.Errorf("override not applied: %+v", set.TaskCreate)
	}
	if set.Read.Limit != 120 || set.Read.Window != time.Minute {
		t.Errorf("untouched policies must keep defaults: %+v", set.Read)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "unknown backend",
			content: "[store]\nbackend = \"postgres\"\n",
			wantErr: "unknown store backend",
		},
		{
			name:    "sqlite without path",
			content: "[store]\nbackend = \"sqlite\"\npath = \"\"\n",
			wantErr: "store.path is required",
		},
		{
			name:    "timeout above cap",
			content: "[poll]\ntimeout_seconds = 30\nmax_wait_seconds = 25\n",
			wantErr: "cannot exceed",
		},
		{
			name:    "bad toml",
			content: "server = [",
			wantErr: "failed to parse",
		},
		{
			name:    "limit without window",
			content: "[limits.read]\nlimit = 50\n",
			wantErr: "needs both limit and window_seconds",
		},
		{
			name:    "negative limit",
			content: "[limits.poll]\nlimit = -1\nwindow_seconds = 60\n",
			wantErr: "cannot be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.content)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
