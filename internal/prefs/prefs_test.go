package prefs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFile(t *testing.T) {
	p, err := Load(filepath.Join(t.TempDir(), "state.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.AppUserID != "" || p.SavedSessionCode != "" {
		t.Errorf("expected empty prefs, got %+v", p)
	}
}

func TestEnsureUserIDIsStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.yaml")

	first, err := EnsureUserID(path)
	if err != nil {
		t.Fatalf("EnsureUserID: %v", err)
	}
	if first == "" {
		t.Fatal("expected a generated id")
	}
	second, err := EnsureUserID(path)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("id changed between runs: %q -> %q", first, second)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("expected 0600 permissions, got %o", perm)
	}
}

func TestSessionCodeRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	id, err := EnsureUserID(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := SaveSessionCode(path, "  OurTrip2026 \n"); err != nil {
		t.Fatalf("SaveSessionCode: %v", err)
	}
	p, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if p.SavedSessionCode != "OurTrip2026" || p.AppUserID != id {
		t.Errorf("unexpected prefs %+v", p)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"app_user_id:", "saved_session_code:"} {
		if !strings.Contains(string(data), key) {
			t.Errorf("expected key %s in %q", key, data)
		}
	}

	if err := SaveSessionCode(path, ""); err != nil {
		t.Fatal(err)
	}
	if p, _ = Load(path); p.SavedSessionCode != "" {
		t.Errorf("expected session code to be cleared, got %q", p.SavedSessionCode)
	}
}

func TestResetIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	old, err := EnsureUserID(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := SaveSessionCode(path, "room"); err != nil {
		t.Fatal(err)
	}

	fresh, err := ResetIdentity(path)
	if err != nil {
		t.Fatalf("ResetIdentity: %v", err)
	}
	if fresh == old {
		t.Error("expected a new id")
	}
	p, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if p.AppUserID != fresh || p.SavedSessionCode != "" {
		t.Errorf("unexpected prefs after reset %+v", p)
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	if err := os.WriteFile(path, []byte("app_user_id: [unterminated"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
