package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	want := &Config{
		DefaultProfile: "work",
		SelfUserID:     "u1",
		Server: Server{
			BaseURL: "https://chat.example.com/v1",
			WSURL:   "wss://chat.example.com/v1/ws",
		},
		Sync: Sync{RetryIntervalSecs: 30},
	}
	if err := Save(path, want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.DefaultProfile != "work" || got.SelfUserID != "u1" {
		t.Errorf("identity fields = %+v", got)
	}
	if got.Server != want.Server {
		t.Errorf("server = %+v, want %+v", got.Server, want.Server)
	}
	if got.Sync.RetryIntervalSecs != 30 {
		t.Errorf("retry interval = %d, want 30", got.Sync.RetryIntervalSecs)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("default_profile = \"p\"\n"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.BaseURL != DefaultBaseURL {
		t.Errorf("base url = %q, want default", cfg.Server.BaseURL)
	}
	if cfg.Server.WSURL != DefaultWSURL {
		t.Errorf("ws url = %q, want default", cfg.Server.WSURL)
	}
	if cfg.Sync.RetryIntervalSecs != DefaultRetryInterval {
		t.Errorf("retry interval = %d, want default", cfg.Sync.RetryIntervalSecs)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml"))
	if cfg.Server.BaseURL != DefaultBaseURL {
		t.Errorf("base url = %q, want default", cfg.Server.BaseURL)
	}
}

func TestSavePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file modes not enforced on windows")
	}
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := Save(path, &Config{}); err != nil {
		t.Fatalf("save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("perm = %o, want 600", perm)
	}
}
