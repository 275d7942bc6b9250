package config

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Loader reads and caches the structured configuration document from disk.
// Grounded on the teacher's ai/configloader.Loader: read-relative-to-base-dir
// with an executable-relative fallback, and a cache keyed by resolved path so
// repeated Load calls during a single process lifetime are free.
type Loader struct {
	baseDir string
	cache   sync.Map
}

// NewLoader creates a Loader rooted at baseDir (typically the profile's data directory or cwd).
func NewLoader(baseDir string) *Loader {
	return &Loader{baseDir: baseDir}
}

// Load reads path (relative to the loader's base directory, falling back to the
// executable's directory) and unmarshals it as YAML into a new Document.
func (l *Loader) Load(path string) (*Document, error) {
	if cached, ok := l.cache.Load(path); ok {
		return cached.(*Document), nil
	}

	data, err := l.readFileWithFallback(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	doc := Default()
	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, errors.Wrapf(err, "unmarshal config %s", path)
	}

	l.cache.Store(path, doc)
	return doc, nil
}

// ClearCache drops every cached document, forcing the next Load to re-read from disk.
func (l *Loader) ClearCache() {
	l.cache = sync.Map{}
}

func (l *Loader) readFileWithFallback(path string) ([]byte, error) {
	absPath := filepath.Join(l.baseDir, path)
	if data, err := os.ReadFile(absPath); err == nil {
		return data, nil
	}

	execPath, err := os.Executable()
	if err != nil {
		return nil, err
	}
	execDir := filepath.Dir(execPath)
	return os.ReadFile(filepath.Join(execDir, l.baseDir, path))
}
