package config

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumsFilename holds the BLAKE3 hashes of locked config files.
const ChecksumsFilename = ".checksums"

const checksumsVersion = 1

// ErrHashMismatch reports a locked file whose content changed since
// `vkore config lock`.
var ErrHashMismatch = errors.New("hash mismatch")

// HashFile returns the hex BLAKE3-256 digest of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyFile compares the file at path with a digest from HashFile.
func VerifyFile(path, want string) error {
	got, err := HashFile(path)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w for %s: locked %s, now %s", ErrHashMismatch, filepath.Base(path), short(want), short(got))
	}
	return nil
}

// Lock records the digest of configDir/config.yaml in configDir/.checksums.
func Lock(configDir string) (*ChecksumManifest, error) {
	digest, err := HashFile(filepath.Join(configDir, ConfigFilename))
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", ConfigFilename, err)
	}

	m := &ChecksumManifest{
		Version:     checksumsVersion,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Hashes:      map[string]string{ConfigFilename: digest},
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("encode checksums: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode checksums: %w", err)
	}

	if err := os.WriteFile(filepath.Join(configDir, ChecksumsFilename), buf.Bytes(), 0o600); err != nil {
		return nil, fmt.Errorf("write checksums: %w", err)
	}
	return m, nil
}

// LoadChecksums reads configDir/.checksums. A missing file wraps
// fs.ErrNotExist.
func LoadChecksums(configDir string) (*ChecksumManifest, error) {
	path := filepath.Join(configDir, ChecksumsFilename)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var m ChecksumManifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if m.Version != checksumsVersion {
		return nil, fmt.Errorf("%s: version %d not supported", path, m.Version)
	}
	return &m, nil
}

// verifyConfigHash enforces the lock when configPath's directory has one.
func verifyConfigHash(configPath string) error {
	dir := filepath.Dir(configPath)
	m, err := LoadChecksums(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return err
	}

	name := filepath.Base(configPath)
	want, ok := m.Hashes[name]
	if !ok {
		return fmt.Errorf("%s is not covered by %s; run: vkore config lock --config %s", name, ChecksumsFilename, dir)
	}
	if err := VerifyFile(configPath, want); err != nil {
		return fmt.Errorf("%w; if the edit was intended, run: vkore config lock --config %s", err, dir)
	}
	return nil
}

func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
