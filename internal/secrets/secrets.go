// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets reads credentials from a directory of plain-text files.
// The filename is the key and the trimmed contents are the value, so a
// deployment can mount API keys without putting them in the config file or
// the environment.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Key file names the engine looks for.
const (
	OpenAIKey          = "openai-api-key"
	AnthropicKey       = "anthropic-api-key"
	NCBIKey            = "ncbi-api-key"
	SemanticScholarKey = "semantic-scholar-api-key"
	SerpAPIKey         = "serpapi-api-key"
	OpenAlexEmail      = "openalex-email"
)

// Set is the credentials found in one secrets directory. A nil *Set is
// valid and empty.
type Set struct {
	values  map[string]string
	skipped []string
}

// Load reads every regular, non-hidden file in dir. A missing directory
// yields an empty set. Files that cannot be read are recorded in Skipped
// rather than failing the load.
func Load(dir string) (*Set, error) {
	s := &Set{values: map[string]string{}}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			s.skipped = append(s.skipped, name)
			continue
		}
		if v := strings.TrimSpace(string(data)); v != "" {
			s.values[name] = v
		}
	}
	return s, nil
}

// Get returns the secret stored under key, or "".
func (s *Set) Get(key string) string {
	if s == nil {
		return ""
	}
	return s.values[key]
}

// Or returns value when it is set and the secret under key otherwise.
// Explicit configuration always wins over the secrets directory.
func (s *Set) Or(key, value string) string {
	if value != "" {
		return value
	}
	return s.Get(key)
}

// Keys lists the loaded key names in sorted order. Values are never exposed
// through it so the result is safe to log.
func (s *Set) Keys() []string {
	if s == nil {
		return nil
	}
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Skipped lists files that existed but could not be read.
func (s *Set) Skipped() []string {
	if s == nil {
		return nil
	}
	return s.skipped
}
