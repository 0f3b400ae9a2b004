package commands

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/exaudilabs/exaudi-core/internal/config"
	"github.com/exaudilabs/exaudi-core/internal/store"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "exaudi.yaml")
	body := fmt.Sprintf("tts:\n  defaults_path: %s\nstore:\n  path: %s\n",
		filepath.Join(dir, "ttsDefaults.json"), filepath.Join(dir, "exaudi.db"))
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCmd(t *testing.T, args ...string) (stdout, stderr string, exitCode int) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	rOut, wOut, _ := os.Pipe()
	rErr, wErr, _ := os.Pipe()
	os.Stdout = wOut
	os.Stderr = wErr

	// Flag values live in package vars and survive across Execute
	// calls, so every invocation starts from defaults.
	cfgPath = ""
	serverURL = "http://localhost:8080"
	outputJSON = false
	voicesLanguage, voicesTier = "", ""
	resolveOrg, resolveVoice, resolveTier = "", "", ""
	routeLanguage, routeTier, routeVoice, routeMode = "", "", "", ""
	defaultsOrg, defaultsLanguage, defaultsVoice, defaultsTier = "", "", "", ""
	usageMetric, usageLimit = "listening_seconds", 20

	rootCmd.SetArgs(args)
	err := rootCmd.Execute()

	wOut.Close()
	wErr.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	var outBuf, errBuf bytes.Buffer
	outBuf.ReadFrom(rOut)
	errBuf.ReadFrom(rErr)

	stdout = outBuf.String()
	stderr = errBuf.String()
	if err != nil {
		exitCode = 1
	}
	return stdout, stderr, exitCode
}

func TestVoicesListShowsCatalogVoices(t *testing.T) {
	cfgFile := writeTestConfig(t)

	stdout, _, code := runCmd(t, "voices", "list", "--language", "es-ES", "--config", cfgFile)
	if code != 0 {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(stdout, "es-ES-Neural2-A") {
		t.Fatalf("expected es-ES voices, got: %s", stdout)
	}
}

func TestVoicesListRequiresLanguage(t *testing.T) {
	cfgFile := writeTestConfig(t)

	_, _, code := runCmd(t, "voices", "list", "--config", cfgFile)
	if code == 0 {
		t.Fatal("expected failure without --language")
	}
}

func TestVoicesResolveCatalogDefault(t *testing.T) {
	cfgFile := writeTestConfig(t)

	stdout, _, code := runCmd(t, "voices", "resolve", "--language", "es-ES", "--config", cfgFile)
	if code != 0 {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(stdout, "catalog_default") {
		t.Fatalf("expected catalog_default reason, got: %s", stdout)
	}
}

func TestDefaultsSetGetRemove(t *testing.T) {
	cfgFile := writeTestConfig(t)

	_, _, code := runCmd(t, "defaults", "set",
		"--org", "acme", "--language", "de-DE", "--voice", "de-DE-Chirp3-HD-Aoede",
		"--config", cfgFile)
	if code != 0 {
		t.Fatalf("set exit %d", code)
	}

	stdout, _, code := runCmd(t, "defaults", "get", "--org", "acme", "--language", "de-DE", "--config", cfgFile)
	if code != 0 {
		t.Fatalf("get exit %d", code)
	}
	if !strings.Contains(stdout, "de-DE-Chirp3-HD-Aoede") {
		t.Fatalf("expected pinned voice, got: %s", stdout)
	}

	stdout, _, code = runCmd(t, "voices", "resolve", "--org", "acme", "--language", "de-DE", "--config", cfgFile)
	if code != 0 {
		t.Fatalf("resolve exit %d", code)
	}
	if !strings.Contains(stdout, "org_default") {
		t.Fatalf("expected org_default reason, got: %s", stdout)
	}

	_, _, code = runCmd(t, "defaults", "remove", "--org", "acme", "--language", "de-DE", "--config", cfgFile)
	if code != 0 {
		t.Fatalf("remove exit %d", code)
	}

	_, _, code = runCmd(t, "defaults", "get", "--org", "acme", "--language", "de-DE", "--config", cfgFile)
	if code == 0 {
		t.Fatal("expected get to fail after remove")
	}
}

func TestDefaultsSetRejectsUnknownVoice(t *testing.T) {
	cfgFile := writeTestConfig(t)

	_, _, code := runCmd(t, "defaults", "set",
		"--org", "acme", "--language", "de-DE", "--voice", "no-such-voice",
		"--config", cfgFile)
	if code == 0 {
		t.Fatal("expected failure for unknown voice")
	}
}

func TestRouteExplain(t *testing.T) {
	cfgFile := writeTestConfig(t)

	stdout, _, code := runCmd(t, "route", "explain", "--language", "es-ES", "--config", cfgFile)
	if code != 0 {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(stdout, "Provider: google") {
		t.Fatalf("expected google route, got: %s", stdout)
	}
	if !strings.Contains(stdout, "es-ES") {
		t.Fatalf("expected es-ES language, got: %s", stdout)
	}
}

func TestCatalogValidateEmbedded(t *testing.T) {
	cfgFile := writeTestConfig(t)

	stdout, _, code := runCmd(t, "catalog", "validate", "--config", cfgFile)
	if code != 0 {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(stdout, "All configured locales covered") {
		t.Fatalf("expected full coverage, got: %s", stdout)
	}
}

func TestSessionsListFromServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sessions" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"id":"evt-9","org_id":"acme","source_lang":"en-US","created_at":"2026-01-02T15:04:05Z","last_seen_at":"2026-01-02T15:05:05Z","listeners":3}]`)
	}))
	defer srv.Close()

	stdout, _, code := runCmd(t, "sessions", "list", "--server", srv.URL)
	if code != 0 {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(stdout, "evt-9") || !strings.Contains(stdout, "acme") {
		t.Fatalf("expected session row, got: %s", stdout)
	}
}

func TestUsageReadsStore(t *testing.T) {
	cfgFile := writeTestConfig(t)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if _, err := st.RecordUsageEvent(ctx, "listening:ls-7", "listening_seconds", 42.5,
		map[string]string{"org_id": "acme"}); err != nil {
		t.Fatalf("record usage: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	stdout, _, code := runCmd(t, "usage", "--config", cfgFile)
	if code != 0 {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(stdout, "listening:ls-7") {
		t.Fatalf("expected usage event, got: %s", stdout)
	}
}
