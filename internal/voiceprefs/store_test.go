package voiceprefs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestOpenMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ttsDefaults.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := s.Get("org-1", "en"); ok {
		t.Fatal("expected empty store")
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ttsDefaults.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	pref := Pref{Tier: "chirp3_hd", VoiceID: "google:chirp3-hd:es-ES:Aoede", VoiceName: "es-ES-Chirp3-HD-Aoede"}
	if err := s.Set("org-1", "es", pref); err != nil {
		t.Fatalf("set: %v", err)
	}

	// Lookup keys are canonical: "es" and "es-ES" hit the same entry.
	got, ok := s.Get("org-1", "es-ES")
	if !ok || got != pref {
		t.Fatalf("expected %+v, got %+v (ok=%v)", pref, got, ok)
	}

	reloaded, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, ok = reloaded.Get("org-1", "es")
	if !ok || got != pref {
		t.Fatalf("expected persisted pref after reopen, got %+v (ok=%v)", got, ok)
	}
}

func TestFileLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ttsDefaults.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Set("org-1", "pt", Pref{Tier: "neural2", VoiceID: "google:neural2:pt-BR:A", VoiceName: "pt-BR-Neural2-A"}); err != nil {
		t.Fatalf("set: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	var raw map[string]map[string]map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("file is not valid JSON: %v", err)
	}
	if raw["org-1"]["pt-BR"]["voice_name"] != "pt-BR-Neural2-A" {
		t.Fatalf("unexpected layout: %s", data)
	}
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ttsDefaults.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Set("org-1", "fr", Pref{Tier: "standard", VoiceName: "fr-FR-Standard-A"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Remove("org-1", "fr-FR"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := s.Get("org-1", "fr"); ok {
		t.Fatal("expected pref removed")
	}
	if err := s.Remove("org-1", "fr"); err != nil {
		t.Fatalf("remove missing entry: %v", err)
	}
	if len(s.All("org-1")) != 0 {
		t.Fatal("expected org cleared")
	}
}

func TestOpenRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ttsDefaults.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := Open(path); err == nil {
		t.Fatal("expected parse error")
	}
}
