package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleCatalog = `
base_image: idle.png
sounds:
  - name: squawk
    duration_ms: 1200
  - name: chirp
sequences:
  - name: hey
    auto_play: true
    events:
      - at: 500
        actions:
          - text: hello chat
      - at: 0
        actions:
          - image: talk.png
          - sound: squawk
`

func writeCatalog(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newCmd(&Config{})
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestLint(t *testing.T) {
	path := writeCatalog(t, sampleCatalog)
	out, err := execute(t, "lint", "--catalog", path)
	if err != nil {
		t.Fatalf("lint: %v", err)
	}
	for _, want := range []string{"1 sequences, 2 sounds", "hey", "1.2s", "[auto]", "[chirp]"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestLintRejectsInvalidCatalog(t *testing.T) {
	path := writeCatalog(t, "sequences:\n  - name: bad\n    events:\n      - at: 0\n        actions:\n          - sound: missing\n")
	if _, err := execute(t, "lint", "-c", path); err == nil {
		t.Fatal("expected error for undeclared sound")
	}
}

func TestCatalogFromEnv(t *testing.T) {
	t.Setenv("FLUXCTL_CATALOG", writeCatalog(t, sampleCatalog))
	if _, err := execute(t, "lint"); err != nil {
		t.Fatalf("lint with env catalog: %v", err)
	}
}

func TestMissingCatalog(t *testing.T) {
	t.Setenv("FLUXCTL_CATALOG", "")
	if _, err := execute(t, "lint"); err == nil || !strings.Contains(err.Error(), "--catalog") {
		t.Fatalf("err = %v", err)
	}
}

func TestSimulate(t *testing.T) {
	path := writeCatalog(t, sampleCatalog)
	out, err := execute(t, "simulate", "-c", path, "--runs", "2")
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	want := []string{
		"== hey (2 events, 1.2s)",
		"+0s  image talk.png",
		"+0s  sound squawk (1.2s)",
		`+500ms  text  "hello chat"`,
		"+1.2s  run 1 finished",
		"+1.2s  image talk.png",
		"+2.4s  run 2 finished",
	}
	for _, line := range want {
		if !strings.Contains(out, line) {
			t.Errorf("output missing %q:\n%s", line, out)
		}
	}
}

func TestSimulateOverlappingRuns(t *testing.T) {
	path := writeCatalog(t, sampleCatalog)
	out, err := execute(t, "simulate", "-c", path, "-s", "hey", "-n", "2", "--gap", "300ms")
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if !strings.Contains(out, "+1.2s  run 1 finished") || !strings.Contains(out, "+1.5s  run 2 finished") {
		t.Fatalf("unexpected schedule:\n%s", out)
	}
}

func TestSimulateUnknownSequence(t *testing.T) {
	path := writeCatalog(t, sampleCatalog)
	if _, err := execute(t, "simulate", "-c", path, "-s", "nope"); err == nil {
		t.Fatal("expected error for unknown sequence")
	}
}

func TestSimulateRejectsBadRuns(t *testing.T) {
	path := writeCatalog(t, sampleCatalog)
	if _, err := execute(t, "simulate", "-c", path, "-n", "0"); err == nil {
		t.Fatal("expected error for zero runs")
	}
}
