// Package store is the configuration store collaborator: it persists the
// transport endpoint and credentials. The secret is write-only; no read path
// ever returns it.
package store

import (
	"encoding/json"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	ErrURLRequired    = errors.New("url required")
	ErrKeyRequired    = errors.New("api key required")
	ErrSecretRequired = errors.New("api secret required")
)

// Settings is the read view. Secret material never appears here.
type Settings struct {
	Configured   bool      `json:"configured"`
	URL          string    `json:"url,omitempty"`
	APIKeyPublic string    `json:"api_key_public,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

type persisted struct {
	URL          string    `json:"url"`
	APIKeyPublic string    `json:"api_key_public"`
	APISecret    string    `json:"api_secret"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store keeps the current settings in memory, optionally backed by a JSON
// file so they survive restarts.
type Store struct {
	path string

	mu   sync.RWMutex
	cur  persisted
	init bool
}

// New loads the backing file if path is non-empty and the file exists.
func New(path string) *Store {
	s := &Store{path: path}
	if path == "" {
		return s
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("module", "store").Str("path", path).Msg("read settings file")
		}
		return s
	}
	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "store").Str("path", path).Msg("parse settings file")
		return s
	}
	s.cur = p
	s.init = p.URL != ""
	return s
}

// Read returns the public view.
func (s *Store) Read() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.init {
		return Settings{}
	}
	return Settings{
		Configured:   true,
		URL:          s.cur.URL,
		APIKeyPublic: s.cur.APIKeyPublic,
		UpdatedAt:    s.cur.UpdatedAt,
	}
}

// Secret is for server-internal use only (token signing); it is never
// exposed over the read API.
func (s *Store) Secret() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.APISecret
}

// Write replaces the settings. All three fields are required.
func (s *Store) Write(url, apiKey, apiSecret string) error {
	if url == "" {
		return ErrURLRequired
	}
	if apiKey == "" {
		return ErrKeyRequired
	}
	if apiSecret == "" {
		return ErrSecretRequired
	}

	s.mu.Lock()
	s.cur = persisted{
		URL:          url,
		APIKeyPublic: apiKey,
		APISecret:    apiSecret,
		UpdatedAt:    time.Now().UTC(),
	}
	s.init = true
	cur := s.cur
	s.mu.Unlock()

	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(cur, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		log.Error().Err(err).Str("module", "store").Str("path", s.path).Msg("persist settings")
		return err
	}
	return nil
}
