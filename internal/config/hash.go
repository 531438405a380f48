package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumManifest is the on-disk .checksums file written next to the config.
type ChecksumManifest struct {
	Version   int               `yaml:"version"`
	UpdatedAt string            `yaml:"updated_at"`
	Hashes    map[string]string `yaml:"hashes"`
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// VerifyFileHash verifies a file against an expected BLAKE3 hash.
func VerifyFileHash(filePath, expectedHash string) error {
	actualHash, err := ComputeBlake3Hash(filePath)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}

	if actualHash != expectedHash {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s",
			filepath.Base(filePath), expectedHash, actualHash)
	}

	return nil
}

func checksumPath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), ".checksums")
}

// Lock computes the checksum of the config file and writes the .checksums
// manifest alongside it, authorizing the current content.
func Lock(configPath string) error {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	hash, err := ComputeBlake3Hash(absPath)
	if err != nil {
		return err
	}

	manifest := ChecksumManifest{
		Version:   1,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
		Hashes:    map[string]string{filepath.Base(absPath): hash},
	}

	data, err := yaml.Marshal(&manifest)
	if err != nil {
		return fmt.Errorf("marshal checksums: %w", err)
	}
	if err := os.WriteFile(checksumPath(absPath), data, 0o644); err != nil {
		return fmt.Errorf("write checksums: %w", err)
	}
	return nil
}

// VerifyIntegrity checks the config file against the .checksums manifest.
// A missing manifest is a warning, not an error, so fresh installs work
// before the first 'warden config lock'.
func VerifyIntegrity(configPath string) (warning string, err error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(checksumPath(absPath))
	if err != nil {
		return fmt.Sprintf("no .checksums manifest found at %s; run 'warden config lock' to enable integrity verification",
			checksumPath(absPath)), nil
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return "", fmt.Errorf("parse checksums manifest: %w", err)
	}

	expected, ok := manifest.Hashes[filepath.Base(absPath)]
	if !ok {
		return "", fmt.Errorf("config file %s not in .checksums manifest; run 'warden config lock'", filepath.Base(absPath))
	}
	if err := VerifyFileHash(absPath, expected); err != nil {
		return "", err
	}
	return "", nil
}
