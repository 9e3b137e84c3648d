package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadUnconfigured(t *testing.T) {
	s := New("")
	got := s.Read()
	if got.Configured {
		t.Error("expected unconfigured store")
	}
	if got.URL != "" || got.APIKeyPublic != "" {
		t.Errorf("unconfigured read leaked data: %+v", got)
	}
}

func TestWriteThenRead(t *testing.T) {
	s := New("")
	if err := s.Write("wss://stage.example", "key-pub", "key-secret"); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := s.Read()
	if !got.Configured {
		t.Fatal("expected configured")
	}
	if got.URL != "wss://stage.example" || got.APIKeyPublic != "key-pub" {
		t.Errorf("read mismatch: %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("expected updated_at to be set")
	}
}

func TestReadNeverReturnsSecret(t *testing.T) {
	s := New("")
	if err := s.Write("wss://stage.example", "key-pub", "key-secret"); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := json.Marshal(s.Read())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), "key-secret") {
		t.Error("secret leaked through the read view")
	}
	if s.Secret() != "key-secret" {
		t.Error("server-internal secret accessor broken")
	}
}

func TestWriteValidation(t *testing.T) {
	s := New("")
	if err := s.Write("", "k", "s"); !errors.Is(err, ErrURLRequired) {
		t.Errorf("expected ErrURLRequired, got %v", err)
	}
	if err := s.Write("u", "", "s"); !errors.Is(err, ErrKeyRequired) {
		t.Errorf("expected ErrKeyRequired, got %v", err)
	}
	if err := s.Write("u", "k", ""); !errors.Is(err, ErrSecretRequired) {
		t.Errorf("expected ErrSecretRequired, got %v", err)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	s := New(path)
	if err := s.Write("wss://stage.example", "key-pub", "key-secret"); err != nil {
		t.Fatalf("write: %v", err)
	}

	reloaded := New(path)
	got := reloaded.Read()
	if !got.Configured || got.URL != "wss://stage.example" {
		t.Errorf("reload mismatch: %+v", got)
	}
	if reloaded.Secret() != "key-secret" {
		t.Error("secret not persisted")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("settings file should be 0600, got %v", info.Mode().Perm())
	}
}
