package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/apipulse/pulsed/pkg/definition"
	"github.com/apipulse/pulsed/pkg/pulseerr"
)

// Repository performs name-keyed file operations under a single definitions
// root. Caller-supplied names are reduced to their file-name component, so a
// name like "../../etc/passwd" can never escape the root.
type Repository struct {
	root string
}

// NewRepository creates a repository rooted at the given directory, creating
// it if necessary.
func NewRepository(root string) (*Repository, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, pulseerr.FileSystem(fmt.Sprintf("failed to create definitions directory %s", root), err)
	}
	return &Repository{root: root}, nil
}

// Root returns the definitions root directory.
func (r *Repository) Root() string { return r.root }

// resolve maps a service name to its file path, stripping any directory
// components the caller supplied.
func (r *Repository) resolve(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	if !strings.HasSuffix(base, ".yaml") && !strings.HasSuffix(base, ".yml") {
		base += ".yaml"
	}
	return filepath.Join(r.root, base)
}

// Save writes a definition as YAML, keyed by its service name.
func (r *Repository) Save(def *definition.ServiceDefinition) error {
	if result := def.Validate(); !result.IsValid() {
		return result.Err()
	}
	data, err := yaml.Marshal(def)
	if err != nil {
		return pulseerr.Wrap(pulseerr.KindConfiguration, "failed to encode definition", err)
	}
	path := r.resolve(def.Name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return pulseerr.FileSystem(fmt.Sprintf("failed to write %s", path), err)
	}
	return nil
}

// Read loads the definition stored under the given service name.
func (r *Repository) Read(name string) (*definition.ServiceDefinition, error) {
	path := r.resolve(name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, pulseerr.NotFound(fmt.Sprintf("definition %q", name))
	}
	return LoadDefinition(path)
}

// Delete removes the definition stored under the given service name.
func (r *Repository) Delete(name string) error {
	path := r.resolve(name)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return pulseerr.NotFound(fmt.Sprintf("definition %q", name))
		}
		return pulseerr.FileSystem(fmt.Sprintf("failed to delete %s", path), err)
	}
	return nil
}

// List returns the service names of all definitions in the root (top level
// only; the repository writes flat files).
func (r *Repository) List() ([]string, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil, pulseerr.FileSystem("failed to read definitions directory", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, strings.TrimSuffix(e.Name(), ext))
		}
	}
	return names, nil
}
