// Package settings persists host-level preferences as a single JSON document
// next to the database file.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/events"
)

// Settings is the whole document; zero values fall back to the built-in
// defaults at wiring time.
type Settings struct {
	DefaultHost string `json:"default_host"`
	// CallbackTimeoutSecs overrides the dispatcher's per-attempt timeout.
	CallbackTimeoutSecs int `json:"callback_timeout_secs"`
	CallbackMaxAttempts int `json:"callback_max_attempts"`
	// StkSafetyWindowMs pads the realistic-mode prompt wait.
	StkSafetyWindowMs int `json:"stk_safety_window_ms"`
}

// Store guards the document and its on-disk copy. Writes go through a temp
// file and a rename so a crash never leaves a half-written document.
type Store struct {
	path    string
	emitter events.Emitter

	mu       sync.RWMutex
	settings Settings
}

func NewStore(path string, emitter events.Emitter) (*Store, error) {
	if emitter == nil {
		emitter = events.LogEmitter{}
	}
	s := &Store{path: path, emitter: emitter}

	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// First run; defaults stand until the first Update.
	case err != nil:
		return nil, fmt.Errorf("reading settings file %s: %w", path, err)
	default:
		if err := json.Unmarshal(raw, &s.settings); err != nil {
			return nil, fmt.Errorf("parsing settings file %s: %w", path, err)
		}
	}
	return s, nil
}

func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Update applies fn to the current document, persists the result and emits
// settings_updated.
func (s *Store) Update(fn func(*Settings)) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := s.settings
	fn(&updated)

	if err := s.persist(updated); err != nil {
		return s.settings, err
	}
	s.settings = updated

	if err := s.emitter.EmitAll(events.SettingsUpdatedEvent, updated); err != nil {
		logrus.Errorf("emitting %s: %s", events.SettingsUpdatedEvent, err)
	}
	return updated, nil
}

func (s *Store) persist(settings Settings) error {
	raw, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling settings: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".settings-*.json")
	if err != nil {
		return fmt.Errorf("creating temp settings file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err = tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp settings file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing temp settings file: %w", err)
	}
	if err = os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing settings file: %w", err)
	}
	return nil
}
