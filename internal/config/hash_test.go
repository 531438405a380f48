package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestComputeBlake3HashDeterministic(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "warden.yaml")
	if err := os.WriteFile(path, []byte("policy:\n  enabled: true\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	h1, err := ComputeBlake3Hash(path)
	if err != nil {
		t.Fatalf("ComputeBlake3Hash: %v", err)
	}
	h2, err := ComputeBlake3Hash(path)
	if err != nil {
		t.Fatalf("ComputeBlake3Hash: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("hash not deterministic: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(h1))
	}

	if err := VerifyFileHash(path, h1); err != nil {
		t.Fatalf("VerifyFileHash: %v", err)
	}
	if err := VerifyFileHash(path, strings.Repeat("0", 64)); err == nil {
		t.Fatal("expected mismatch error")
	}
}

func TestLockAndVerifyIntegrity(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "warden.yaml")
	if err := os.WriteFile(path, []byte("policy:\n  enabled: true\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Before locking: warning, no error.
	warning, err := VerifyIntegrity(path)
	if err != nil {
		t.Fatalf("VerifyIntegrity before lock: %v", err)
	}
	if !strings.Contains(warning, "no .checksums manifest") {
		t.Fatalf("expected missing-manifest warning, got %q", warning)
	}

	if err := Lock(path); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	warning, err = VerifyIntegrity(path)
	if err != nil {
		t.Fatalf("VerifyIntegrity after lock: %v", err)
	}
	if warning != "" {
		t.Fatalf("unexpected warning: %q", warning)
	}

	// Tampering must be detected.
	if err := os.WriteFile(path, []byte("policy:\n  enabled: false\n"), 0o600); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	_, err = VerifyIntegrity(path)
	if err == nil || !strings.Contains(err.Error(), "hash mismatch") {
		t.Fatalf("expected hash mismatch, got %v", err)
	}
}

func TestVerifyIntegrityFileNotInManifest(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	locked := filepath.Join(dir, "warden.yaml")
	other := filepath.Join(dir, "other.yaml")
	for _, p := range []string{locked, other} {
		if err := os.WriteFile(p, []byte("x: 1\n"), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := Lock(locked); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	_, err := VerifyIntegrity(other)
	if err == nil || !strings.Contains(err.Error(), "not in .checksums manifest") {
		t.Fatalf("expected manifest-miss error, got %v", err)
	}
}
