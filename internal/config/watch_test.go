package config

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/xdg/opsgate/internal/clog"
)

func TestMain(m *testing.M) {
	clog.Discard()
	os.Exit(m.Run())
}

func startWatcher(t *testing.T, path string) <-chan *Config {
	t.Helper()
	current, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	reloads := make(chan *Config, 4)
	w, err := NewWatcher(path, current, func(c *Config) { reloads <- c })
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	w.debounce = 20 * time.Millisecond
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(w.Stop)
	return reloads
}

func TestWatcher_Reloads(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "config.yaml")
	writeFile(t, path, "safety:\n  denylist: [rm]\n")
	reloads := startWatcher(t, path)

	writeFile(t, path, "safety:\n  denylist: [rm, shutdown]\n")

	select {
	case cfg := <-reloads:
		if !slices.Equal(cfg.Safety.Denylist, []string{"rm", "shutdown"}) {
			t.Errorf("reloaded denylist = %v", cfg.Safety.Denylist)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatcher_KeepsCurrentOnInvalid(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "config.yaml")
	writeFile(t, path, "safety:\n  denylist: [rm]\n")
	reloads := startWatcher(t, path)

	writeFile(t, path, "safety:\n  denylist: [rm\n")

	select {
	case cfg := <-reloads:
		t.Fatalf("invalid file should not reload, got %+v", cfg.Safety)
	case <-time.After(200 * time.Millisecond):
	}

	writeFile(t, path, "safety:\n  denylist: [sudo]\n")
	select {
	case cfg := <-reloads:
		if !slices.Equal(cfg.Safety.Denylist, []string{"sudo"}) {
			t.Errorf("reloaded denylist = %v", cfg.Safety.Denylist)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload after fix")
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "config.yaml")
	writeFile(t, path, "")
	reloads := startWatcher(t, path)

	writeFile(t, filepath.Join(home, "other.yaml"), "x: 1\n")

	select {
	case <-reloads:
		t.Fatal("unrelated file triggered a reload")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	home := isolate(t)
	w, err := NewWatcher(filepath.Join(home, "config.yaml"), nil, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	w.Stop()
	w.Stop()
}

func TestRestartRequired(t *testing.T) {
	base := DefaultConfig()

	tests := []struct {
		name   string
		modify func(*Config)
		want   []string
	}{
		{"no change", func(*Config) {}, nil},
		{"denylist is hot", func(c *Config) { c.Safety.Denylist = []string{"x"} }, nil},
		{"tokens are hot", func(c *Config) { c.Server.Tokens = []TokenEntry{{Token: "t", User: "u"}} }, nil},
		{"listen", func(c *Config) { c.Server.Listen = ":1" }, []string{"server"}},
		{"operator and log", func(c *Config) { c.Operator.ID = "x"; c.Log.Level = "debug" }, []string{"operator", "log"}},
		{"limits", func(c *Config) { c.Limits.MaxOutput = 10 }, []string{"limits"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := DefaultConfig()
			tt.modify(next)
			if got := RestartRequired(base, next); !slices.Equal(got, tt.want) {
				t.Errorf("RestartRequired() = %v, want %v", got, tt.want)
			}
		})
	}
}
