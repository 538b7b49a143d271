// Package configstore manages the directory of workflow configuration files.
//
// Configurations are YAML files addressed by their file name. The store
// never looks at what the workflow does with a file; it only checks that
// saved content is well-formed YAML.
package configstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Sentinel errors.
var (
	ErrConfigNotFound = errors.New("configuration not found")
	ErrAlreadyExists  = errors.New("configuration already exists")
	ErrInvalidName    = errors.New("invalid configuration name")
	ErrInvalidYAML    = errors.New("invalid YAML")
)

// namePattern matches a plain file name: no separators, no leading dot.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9 ._-]*$`)

// Info describes one configuration file.
type Info struct {
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	Modified   time.Time `json:"modified"`
	Size       int64     `json:"size"`
	Valid      bool      `json:"valid"`
	ParseError string    `json:"parse_error,omitempty"`
}

// Store is a directory of YAML configuration files.
type Store struct {
	dir string
}

// New opens the store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("creating config dir: %w", err)
	}
	return &Store{dir: abs}, nil
}

// Dir returns the absolute directory of the store.
func (s *Store) Dir() string { return s.dir }

// IsConfigName reports whether name is a YAML file name without path parts.
func IsConfigName(name string) bool {
	if len(name) == 0 || len(name) > 200 || !namePattern.MatchString(name) {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// NormalizeName trims name and adds a .yaml extension when it has none.
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	lower := strings.ToLower(name)
	if !strings.HasSuffix(lower, ".yaml") && !strings.HasSuffix(lower, ".yml") {
		name += ".yaml"
	}
	return name
}

// Validate checks that content parses as YAML.
func Validate(content []byte) error {
	var node yaml.Node
	if err := yaml.Unmarshal(content, &node); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return nil
}

// path returns the location of name inside the store after validating it.
func (s *Store) path(name string) (string, error) {
	if !IsConfigName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	p := filepath.Join(s.dir, name)
	// Joined names must not leave the store.
	if filepath.Dir(p) != s.dir {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return p, nil
}

// Resolve returns the path of an existing configuration.
func (s *Store) Resolve(name string) (string, error) {
	p, err := s.path(name)
	if err != nil {
		return "", err
	}
	fi, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrConfigNotFound, name)
		}
		return "", fmt.Errorf("stat %s: %w", name, err)
	}
	if !fi.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrConfigNotFound, name)
	}
	return p, nil
}

// Names returns the sorted names of all configurations.
func (s *Store) Names() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading config dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && IsConfigName(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// List returns details of every configuration, sorted by name.
func (s *Store) List() ([]Info, error) {
	names, err := s.Names()
	if err != nil {
		return nil, err
	}
	infos := make([]Info, 0, len(names))
	for _, name := range names {
		info, err := s.Info(name)
		if err != nil {
			// Deleted between listing and stat.
			if errors.Is(err, ErrConfigNotFound) {
				continue
			}
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Info returns details of one configuration.
func (s *Store) Info(name string) (Info, error) {
	p, err := s.Resolve(name)
	if err != nil {
		return Info{}, err
	}
	fi, err := os.Stat(p)
	if err != nil {
		return Info{}, fmt.Errorf("stat %s: %w", name, err)
	}
	info := Info{
		Name:     name,
		Path:     p,
		Modified: fi.ModTime(),
		Size:     fi.Size(),
		Valid:    true,
	}
	data, err := os.ReadFile(p) //nolint:gosec // G304: path confined to the store
	if err != nil {
		return Info{}, fmt.Errorf("reading %s: %w", name, err)
	}
	if err := Validate(data); err != nil {
		info.Valid = false
		info.ParseError = err.Error()
	}
	return info, nil
}

// Read returns the content of a configuration.
func (s *Store) Read(name string) (string, error) {
	p, err := s.Resolve(name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(p) //nolint:gosec // G304: path confined to the store
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", name, err)
	}
	return string(data), nil
}

// Save replaces the content of an existing configuration.
func (s *Store) Save(name, content string) error {
	p, err := s.Resolve(name)
	if err != nil {
		return err
	}
	return writeConfig(p, content)
}

// Create writes content under a new name and returns the normalized name.
// Existing configurations are never overwritten.
func (s *Store) Create(name, content string) (string, error) {
	name = NormalizeName(name)
	p, err := s.path(name)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(p); err == nil {
		return "", fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	}
	if err := writeConfig(p, content); err != nil {
		return "", err
	}
	return name, nil
}

// Copy creates a new configuration from the content of base.
func (s *Store) Copy(base, name string) (string, error) {
	src, err := s.Resolve(base)
	if err != nil {
		return "", err
	}
	f, err := os.Open(src) //nolint:gosec // G304: path confined to the store
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", base, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", base, err)
	}
	return s.Create(name, string(data))
}

// Delete removes a configuration.
func (s *Store) Delete(name string) error {
	p, err := s.Resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return fmt.Errorf("deleting %s: %w", name, err)
	}
	return nil
}

// writeConfig stores content with Unix line endings after checking it is
// valid YAML. The file is written to a temp file and renamed into place.
func writeConfig(p, content string) error {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	if err := Validate([]byte(content)); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", filepath.Base(p), err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", filepath.Base(p), err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", filepath.Base(p), err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", filepath.Base(p), err)
	}
	return nil
}
