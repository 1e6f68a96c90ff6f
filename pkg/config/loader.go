// Package config discovers, parses, and validates service definition files.
//
// Loading is resilient: one malformed file never aborts a directory load.
// Each file's outcome is classified into a LoadSummary so front ends can
// report exactly which definitions were rejected and why.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/apipulse/pulsed/pkg/definition"
	"github.com/apipulse/pulsed/pkg/pulseerr"
)

// skippedDirs are directories never descended into while discovering
// definition files: hidden trees and common build artifacts.
var skippedDirs = map[string]bool{
	"node_modules": true,
	"target":       true,
	"dist":         true,
	"build":        true,
	"vendor":       true,
	"__pycache__":  true,
}

// FileStatus classifies the outcome of loading one definition file.
type FileStatus string

const (
	StatusValid         FileStatus = "valid"
	StatusParseInvalid  FileStatus = "parse_invalid"
	StatusSchemaInvalid FileStatus = "schema_invalid"
	StatusDuplicate     FileStatus = "duplicate"
)

// FileResult records the outcome for one discovered file.
type FileResult struct {
	Path   string     `json:"path"`
	Status FileStatus `json:"status"`
	Err    error      `json:"-"`

	// Error is the display form of Err, for JSON consumers.
	Error string `json:"error,omitempty"`
}

// LoadSummary aggregates the outcome of loading a definitions directory.
type LoadSummary struct {
	TotalFiles   int                             `json:"total_files"`
	ValidCount   int                             `json:"valid_count"`
	InvalidCount int                             `json:"invalid_count"`
	Services     []*definition.ServiceDefinition `json:"-"`
	FileResults  []FileResult                    `json:"files"`
}

// ListDefinitionFiles recursively enumerates definition files under root,
// skipping hidden directories and build artifacts. Files are returned in
// walk order (lexical within each directory), which fixes duplicate-name
// resolution: the first file wins.
func ListDefinitionFiles(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, pulseerr.FileSystem(fmt.Sprintf("definitions directory not found: %s", root), err)
		}
		return nil, pulseerr.FileSystem("failed to access definitions directory", err)
	}
	if !info.IsDir() {
		return nil, pulseerr.FileSystem(fmt.Sprintf("not a directory: %s", root), nil)
	}

	var files []string
	walkFn := func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries, keep walking
		}
		name := d.Name()
		if d.IsDir() {
			if path != root && (strings.HasPrefix(name, ".") || skippedDirs[name]) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		switch strings.ToLower(filepath.Ext(name)) {
		case ".yaml", ".yml", ".json":
			files = append(files, path)
		}
		return nil
	}
	if err := filepath.WalkDir(root, walkFn); err != nil {
		return nil, pulseerr.FileSystem("failed to scan definitions directory", err)
	}
	return files, nil
}

// LoadDefinition parses one definition file. Malformed input yields a
// Parsing error; the file's schema is NOT validated here.
func LoadDefinition(path string) (*definition.ServiceDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pulseerr.FileSystem(fmt.Sprintf("failed to read %s", path), err)
	}

	var def definition.ServiceDefinition
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		err = json.Unmarshal(data, &def)
	} else {
		err = yaml.Unmarshal(data, &def)
	}
	if err != nil {
		return nil, pulseerr.Parsing(path, err)
	}
	return &def, nil
}

// ValidateUniqueName fails with a DuplicateName error when the definition's
// name was already seen, and records it otherwise.
func ValidateUniqueName(def *definition.ServiceDefinition, seen map[string]bool) error {
	if seen[def.Name] {
		return pulseerr.DuplicateName(def.Name)
	}
	seen[def.Name] = true
	return nil
}

// LoadAllWithSummary loads every discovered definition file under root,
// classifying each outcome. Individual failures never abort the load.
func LoadAllWithSummary(root string) (*LoadSummary, error) {
	files, err := ListDefinitionFiles(root)
	if err != nil {
		return nil, err
	}

	summary := &LoadSummary{TotalFiles: len(files)}
	seen := make(map[string]bool)

	for _, path := range files {
		def, err := LoadDefinition(path)
		if err != nil {
			summary.record(path, StatusParseInvalid, err)
			continue
		}
		if result := def.Validate(); !result.IsValid() {
			summary.record(path, StatusSchemaInvalid, result.Err())
			continue
		}
		if err := ValidateUniqueName(def, seen); err != nil {
			summary.record(path, StatusDuplicate, err)
			continue
		}
		summary.record(path, StatusValid, nil)
		summary.Services = append(summary.Services, def)
	}

	return summary, nil
}

// LoadAll loads all valid definitions under root. It fails only when the
// directory cannot be scanned or no valid service results at all.
func LoadAll(root string) ([]*definition.ServiceDefinition, error) {
	summary, err := LoadAllWithSummary(root)
	if err != nil {
		return nil, err
	}
	if len(summary.Services) == 0 {
		return nil, pulseerr.Config(
			fmt.Sprintf("no valid service definitions found in %s", root),
			"check the per-file errors with the validate command")
	}
	return summary.Services, nil
}

func (s *LoadSummary) record(path string, status FileStatus, err error) {
	fr := FileResult{Path: path, Status: status, Err: err}
	if err != nil {
		fr.Error = err.Error()
	}
	s.FileResults = append(s.FileResults, fr)
	if status == StatusValid {
		s.ValidCount++
	} else {
		s.InvalidCount++
	}
}
