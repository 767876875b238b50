package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/policy"
)

// Document is the on-disk policy file format.
//
//	policies:
//	  - id: global-default
//	    name: Global default
//	    target: {type: global}
//	    ...
type Document struct {
	Policies []*policy.Definition `yaml:"policies"`
}

// FileSource loads policy definitions from YAML files on disk.
type FileSource struct {
	path       string
	extensions []string
	logger     *slog.Logger
}

// NewFileSource creates a file-based policy source. The path can be a single
// file or a directory; directories are walked for .yaml and .yml files in
// lexical order, skipping hidden entries.
func NewFileSource(path string, logger *slog.Logger) *FileSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSource{
		path:       path,
		extensions: []string{".yaml", ".yml"},
		logger:     logger.With("component", "policy.source"),
	}
}

// Path returns the configured file or directory.
func (s *FileSource) Path() string {
	return s.path
}

// Load reads every policy file. Any unreadable or malformed file fails the
// whole load so a partial policy set never replaces a complete one.
func (s *FileSource) Load(ctx context.Context) ([]*policy.Definition, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path %q: %w", s.path, err)
	}

	files := []string{s.path}
	if info.IsDir() {
		files, err = s.listDirectory()
		if err != nil {
			return nil, err
		}
	}

	var defs []*policy.Definition
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := ReadFile(path)
		if err != nil {
			return nil, err
		}
		s.logger.Debug("loaded policy file", "path", path, "policy_count", len(doc.Policies))
		defs = append(defs, doc.Policies...)
	}

	s.logger.Info("loaded policies from source",
		"path", s.path,
		"file_count", len(files),
		"policy_count", len(defs),
	)
	return defs, nil
}

func (s *FileSource) listDirectory() ([]string, error) {
	var files []string
	err := filepath.WalkDir(s.path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != s.path && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !hasExtension(path, s.extensions) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory %q: %w", s.path, err)
	}
	sort.Strings(files)
	return files, nil
}

// ReadFile parses a single policy document.
func ReadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %q: %w", path, err)
	}
	return Parse(data, path)
}

// Parse decodes a policy document. Unknown fields are rejected.
func Parse(data []byte, name string) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse policy file %q: %w", name, err)
	}
	for i, def := range doc.Policies {
		if def == nil {
			return nil, fmt.Errorf("policy file %q: policies[%d] is empty", name, i)
		}
	}
	return &doc, nil
}

func hasExtension(path string, extensions []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range extensions {
		if ext == e {
			return true
		}
	}
	return false
}
