package profile

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"default", true},
		{"work-account", true},
		{"user_2", true},
		{"a", true},
		{strings.Repeat("a", 64), true},
		{strings.Repeat("a", 65), false},
		{"", false},
		{"Has-Upper", false},
		{"with space", false},
		{"dots.bad", false},
		{"../escape", false},
	}
	for _, tt := range tests {
		err := ValidateName(tt.name)
		if tt.valid && err != nil {
			t.Errorf("ValidateName(%q) = %v, want nil", tt.name, err)
		}
		if !tt.valid && err == nil {
			t.Errorf("ValidateName(%q) = nil, want error", tt.name)
		}
	}
}

func TestPaths(t *testing.T) {
	name := "testprofile"
	dir := Dir(name)

	if filepath.Base(dir) != name {
		t.Errorf("profile dir %q does not end in profile name", dir)
	}
	if !strings.Contains(dir, filepath.Join(".chatroom", "profiles")) {
		t.Errorf("profile dir %q outside profiles tree", dir)
	}
	if got := DBPath(name); got != filepath.Join(dir, "chatroom.db") {
		t.Errorf("db path = %q", got)
	}
	if got := TokenPath(name); got != filepath.Join(dir, "token") {
		t.Errorf("token path = %q", got)
	}
	if got := LockPath(name); got != filepath.Join(dir, "LOCK") {
		t.Errorf("lock path = %q", got)
	}
	if got := LogPath(name); got != filepath.Join(dir, "logs", "chatroomd.log") {
		t.Errorf("log path = %q", got)
	}
}

func TestResolveFlagWins(t *testing.T) {
	if got := Resolve("explicit"); got != "explicit" {
		t.Errorf("resolve = %q, want explicit", got)
	}
}
