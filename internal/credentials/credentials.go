// Package credentials loads Weaviate connect credentials from bundle files.
//
// A bundle is a small YAML document holding the deployment name, the
// Weaviate URL, and the API key for one backend. Bundles are stored
// age-encrypted so keys never sit on disk in plaintext; decryption happens
// entirely in memory. Plaintext YAML is accepted only when explicitly
// allowed, for development setups.
//
// The bundle format is versioned for future compatibility.
package credentials

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"gopkg.in/yaml.v3"
)

// BundleVersion is the current bundle format version.
const BundleVersion = 1

// Bundle describes decrypted connect credentials.
type Bundle struct {
	Version        int               `yaml:"version"`
	Deployment     string            `yaml:"deployment,omitempty"`
	WeaviateURL    string            `yaml:"weaviate_url,omitempty"`
	WeaviateAPIKey string            `yaml:"weaviate_api_key,omitempty"`
	Metadata       map[string]string `yaml:"metadata,omitempty"`
}

// Store locates and decrypts credential bundles.
//
// Bundles are found by name in Dir or by explicit path. Files ending in
// .age are decrypted with the X25519 identities in IdentityPath; plaintext
// .yaml/.yml files are accepted only when AllowPlaintext is set.
type Store struct {
	Dir            string
	IdentityPath   string
	AllowPlaintext bool
}

// Load locates, decrypts, and parses the bundle by name or path.
//
// The name can be a bundle name (searched in Dir), an absolute path, or a
// relative path. Names without an extension try <name>.age first, then the
// plaintext candidates when allowed.
func (s Store) Load(name string) (Bundle, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Bundle{}, errors.New("bundle name is required")
	}
	path, err := s.resolvePath(name)
	if err != nil {
		return Bundle{}, err
	}
	payload, err := s.decrypt(path)
	if err != nil {
		return Bundle{}, err
	}
	bundle, err := parseBundle(payload)
	if err != nil {
		return Bundle{}, fmt.Errorf("parse bundle %s: %w", path, err)
	}
	return bundle, nil
}

func (s Store) resolvePath(name string) (string, error) {
	candidates := []string{}
	if filepath.IsAbs(name) {
		candidates = append(candidates, name)
	} else {
		if s.Dir != "" {
			candidates = append(candidates, filepath.Join(s.Dir, name))
		}
		candidates = append(candidates, name)
	}
	if filepath.Ext(name) != "" {
		for _, candidate := range candidates {
			if fileExists(candidate) {
				return candidate, nil
			}
		}
		return "", fmt.Errorf("bundle %s not found", name)
	}
	for _, candidate := range candidates {
		if path, ok := findBundleFile(candidate, s.AllowPlaintext); ok {
			return path, nil
		}
	}
	return "", fmt.Errorf("bundle %s not found", name)
}

func (s Store) decrypt(path string) ([]byte, error) {
	lower := strings.ToLower(filepath.Base(path))
	if strings.HasSuffix(lower, ".age") {
		return decryptAge(path, s.IdentityPath)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bundle %s: %w", path, err)
	}
	if s.AllowPlaintext {
		return data, nil
	}
	return nil, fmt.Errorf("bundle %s is not encrypted (.age)", path)
}

func findBundleFile(base string, allowPlain bool) (string, bool) {
	candidates := []string{base + ".age"}
	if allowPlain {
		candidates = append(candidates, base+".yaml", base+".yml")
	}
	for _, candidate := range candidates {
		if fileExists(candidate) {
			return candidate, true
		}
	}
	return "", false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func parseBundle(data []byte) (Bundle, error) {
	var bundle Bundle
	if err := yaml.Unmarshal(data, &bundle); err != nil {
		return Bundle{}, err
	}
	if bundle.Version == 0 {
		bundle.Version = BundleVersion
	}
	if bundle.Version != BundleVersion {
		return Bundle{}, fmt.Errorf("unsupported bundle version %d", bundle.Version)
	}
	return bundle, nil
}

func decryptAge(path, identityPath string) ([]byte, error) {
	if strings.TrimSpace(identityPath) == "" {
		return nil, errors.New("identity path is required for .age bundles")
	}
	keyData, err := os.ReadFile(identityPath)
	if err != nil {
		return nil, fmt.Errorf("read identity %s: %w", identityPath, err)
	}
	identities, err := parseIdentities(keyData)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bundle %s: %w", path, err)
	}
	defer file.Close()
	reader, err := age.Decrypt(file, identities...)
	if err != nil {
		return nil, fmt.Errorf("decrypt bundle %s: %w", path, err)
	}
	payload, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read bundle %s: %w", path, err)
	}
	return payload, nil
}

func parseIdentities(data []byte) ([]age.Identity, error) {
	var identities []age.Identity
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.HasPrefix(line, "AGE-SECRET-KEY-") {
			continue
		}
		identity, err := age.ParseX25519Identity(line)
		if err != nil {
			return nil, fmt.Errorf("parse age identity: %w", err)
		}
		identities = append(identities, identity)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read identity file: %w", err)
	}
	if len(identities) == 0 {
		return nil, errors.New("no age identities found")
	}
	return identities, nil
}
