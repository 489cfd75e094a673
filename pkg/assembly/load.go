package assembly

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/3FT-io/sidecar/pkg/cas"
)

// moduleNamespace scopes module ids derived from assembly contents.
var moduleNamespace = uuid.MustParse("8f0a6f6e-5b1d-4c7a-9a51-2d3c1f4e7b90")

// ManifestError reports a manifest that could not be read or expanded.
type ManifestError struct {
	Path string
	Err  error
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("manifest %s: %v", e.Path, e.Err)
}

func (e *ManifestError) Unwrap() error {
	return e.Err
}

// Manifest lists assembly descriptions by path or doublestar pattern,
// relative to the manifest file.
type Manifest struct {
	Assemblies []string `yaml:"assemblies"`
}

// LoadAssembly reads an assembly description. A relative Location is
// resolved against the description's directory.
func LoadAssembly(path string) (*Assembly, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var a Assembly
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&a); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if a.Location != "" && !filepath.IsAbs(a.Location) {
		a.Location = filepath.Join(filepath.Dir(path), a.Location)
	}
	if a.Location != "" {
		if abs, err := filepath.Abs(a.Location); err == nil {
			a.Location = abs
		}
	}

	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	a.prepare()

	return &a, nil
}

// LoadManifest loads every assembly description the manifest names, in
// path order. A literal path that does not exist is an error; a pattern
// that matches nothing is not.
func LoadManifest(path string) ([]*Assembly, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ManifestError{Path: path, Err: err}
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &ManifestError{Path: path, Err: err}
	}

	base := filepath.Dir(path)
	seen := make(map[string]bool)
	var files []string

	for _, entry := range m.Assemblies {
		pattern := entry
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(base, pattern)
		}

		if !doublestar.ValidatePathPattern(pattern) {
			return nil, &ManifestError{Path: path, Err: fmt.Errorf("bad pattern %q: %w", entry, doublestar.ErrBadPattern)}
		}

		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, &ManifestError{Path: path, Err: fmt.Errorf("expanding %q: %w", entry, err)}
		}
		if len(matches) == 0 && !hasMeta(entry) {
			return nil, &ManifestError{Path: path, Err: fmt.Errorf("%s: %w", entry, os.ErrNotExist)}
		}

		sort.Strings(matches)
		for _, match := range matches {
			if !seen[match] {
				seen[match] = true
				files = append(files, match)
			}
		}
	}

	assemblies := make([]*Assembly, 0, len(files))
	for _, file := range files {
		a, err := LoadAssembly(file)
		if err != nil {
			return nil, &ManifestError{Path: path, Err: err}
		}
		assemblies = append(assemblies, a)
	}

	return assemblies, nil
}

func hasMeta(pattern string) bool {
	for _, c := range pattern {
		switch c {
		case '*', '?', '[', '{':
			return true
		}
	}
	return false
}

// deriveModuleID hashes the assembly name, the binary when it can be read
// and the described types. Proxies are generated from the description, so
// editing it yields a new id.
func deriveModuleID(a *Assembly) uuid.UUID {
	var content bytes.Buffer
	content.WriteString(a.Name)
	content.WriteByte(0)
	if a.Location != "" {
		if data, err := os.ReadFile(a.Location); err == nil {
			content.WriteString(cas.Blake3HashHex(data))
		}
	}
	content.WriteByte(0)
	if types, err := yaml.Marshal(a.Types); err == nil {
		content.Write(types)
	}
	return uuid.NewSHA1(moduleNamespace, content.Bytes())
}
