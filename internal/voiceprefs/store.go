// Package voiceprefs persists per-organization default voice choices,
// keyed by canonical locale, in a single JSON file.
package voiceprefs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/exaudilabs/exaudi-core/internal/langtag"
)

// Pref is one organization's default voice for one language.
type Pref struct {
	Tier      string `json:"tier"`
	VoiceID   string `json:"voice_id"`
	VoiceName string `json:"voice_name"`
}

// Store mirrors org → locale → preference to disk. Writes replace the
// whole file via temp-file-plus-rename so readers never observe a
// partial document.
type Store struct {
	mu    sync.RWMutex
	path  string
	prefs map[string]map[string]Pref
}

// Open loads the defaults file at path, creating the parent directory
// if needed. A missing file yields an empty store; a corrupt file is
// an error.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("voiceprefs: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("voiceprefs: create dir: %w", err)
	}
	s := &Store{path: path, prefs: make(map[string]map[string]Pref)}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("voiceprefs: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.prefs); err != nil {
		return nil, fmt.Errorf("voiceprefs: parse %s: %w", path, err)
	}
	return s, nil
}

// Get returns the stored preference for (orgID, language).
func (s *Store) Get(orgID, language string) (Pref, bool) {
	tag, err := langtag.Normalize(language)
	if err != nil {
		return Pref{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	pref, ok := s.prefs[orgID][tag.Full]
	return pref, ok
}

// All returns a copy of one organization's preferences by locale.
func (s *Store) All(orgID string) map[string]Pref {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Pref, len(s.prefs[orgID]))
	for lang, pref := range s.prefs[orgID] {
		out[lang] = pref
	}
	return out
}

// Set records a preference and persists the file.
func (s *Store) Set(orgID, language string, pref Pref) error {
	tag, err := langtag.Normalize(language)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prefs[orgID] == nil {
		s.prefs[orgID] = make(map[string]Pref)
	}
	s.prefs[orgID][tag.Full] = pref
	return s.persistLocked()
}

// Remove deletes a preference and persists the file. Removing a
// missing entry is a no-op.
func (s *Store) Remove(orgID, language string) error {
	tag, err := langtag.Normalize(language)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	langs, ok := s.prefs[orgID]
	if !ok {
		return nil
	}
	if _, ok := langs[tag.Full]; !ok {
		return nil
	}
	delete(langs, tag.Full)
	if len(langs) == 0 {
		delete(s.prefs, orgID)
	}
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.prefs, "", "  ")
	if err != nil {
		return fmt.Errorf("voiceprefs: marshal: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".ttsdefaults-*")
	if err != nil {
		return fmt.Errorf("voiceprefs: temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("voiceprefs: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("voiceprefs: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("voiceprefs: rename: %w", err)
	}
	return nil
}
