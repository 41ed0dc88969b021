// Package plugin loads the game library manifest into an immutable Catalog
// of module factories, validating every entry eagerly at startup.
package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var requiredFields = []string{"path", "class", "ref", "title"}

type manifest struct {
	Library struct {
		Path string `json:"path" yaml:"path"`
	} `json:"library" yaml:"library"`
	Games []map[string]any `json:"games" yaml:"games"`
}

// Loader turns a manifest file into a Catalog.
type Loader struct {
	providers []Provider
	logger    *zap.Logger
}

// NewLoader creates a Loader that consults providers in order.
//
// Precondition: logger must be non-nil.
func NewLoader(logger *zap.Logger, providers ...Provider) *Loader {
	return &Loader{providers: providers, logger: logger}
}

// Load reads, validates and resolves every entry of the manifest at path.
//
// Postcondition: Returns a complete Catalog, or nil and a *ManifestError that
// joins every failure found. No partial catalog is ever returned.
func (l *Loader) Load(path string) (*Catalog, error) {
	fail := func(err error) (*Catalog, error) {
		return nil, &ManifestError{Path: path, Err: err}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fail(fmt.Errorf("%w: %w", ErrInvalidManifest, err))
	}
	m, err := decodeManifest(path, data)
	if err != nil {
		return fail(fmt.Errorf("%w: %w", ErrInvalidManifest, err))
	}

	var errs []error
	root, rootErr := libraryRoot(path, m.Library.Path)
	if rootErr != nil {
		errs = append(errs, rootErr)
	}

	entries := make(map[string]LibraryEntry, len(m.Games))
	for i, raw := range m.Games {
		entry, err := l.resolveEntry(i, raw, root, rootErr == nil)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if prev, dup := entries[entry.Ref]; dup {
			l.logger.Warn("duplicate game ref; later entry wins",
				zap.String("ref", entry.Ref),
				zap.String("replaced_path", prev.Path),
				zap.String("path", entry.Path),
			)
		}
		entries[entry.Ref] = entry
	}

	if len(errs) > 0 {
		return fail(errors.Join(errs...))
	}

	l.logger.Info("game library loaded",
		zap.String("manifest", path),
		zap.String("root", root),
		zap.Int("games", len(entries)),
	)
	return &Catalog{root: root, entries: entries}, nil
}

func decodeManifest(path string, data []byte) (manifest, error) {
	var m manifest
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return manifest{}, fmt.Errorf("parsing yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &m); err != nil {
			return manifest{}, fmt.Errorf("parsing json: %w", err)
		}
	}
	return m, nil
}

func libraryRoot(manifestPath, libPath string) (string, error) {
	if libPath == "" {
		return "", fmt.Errorf("%w: library.path is required", ErrInvalidManifest)
	}
	root := libPath
	if !filepath.IsAbs(root) {
		root = filepath.Join(filepath.Dir(manifestPath), root)
	}
	info, err := os.Stat(root)
	if err != nil {
		return "", fmt.Errorf("%w: library.path %s: %w", ErrInvalidManifest, libPath, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: library.path %s is not a directory", ErrInvalidManifest, libPath)
	}
	return root, nil
}

func (l *Loader) resolveEntry(index int, raw map[string]any, root string, rootOK bool) (LibraryEntry, error) {
	fields := make(map[string]string, len(requiredFields))
	var missing []string
	for _, name := range requiredFields {
		s, ok := raw[name].(string)
		if !ok || strings.TrimSpace(s) == "" {
			missing = append(missing, name)
			continue
		}
		fields[name] = s
	}
	ref := fields["ref"]
	if len(missing) > 0 {
		sort.Strings(missing)
		return LibraryEntry{}, &EntryError{Index: index, Ref: ref, Missing: missing, Err: ErrMissingField}
	}

	meta := make(map[string]any)
	for k, v := range raw {
		switch k {
		case "path", "class", "ref", "title":
		default:
			meta[k] = v
		}
	}

	modulePath := fields["path"]
	if !strings.HasPrefix(modulePath, BuiltinScheme) {
		if !rootOK {
			// Library root already reported; nothing to resolve against.
			return LibraryEntry{}, &EntryError{Index: index, Ref: ref, Err: ErrModulePathNotFound}
		}
		full, err := underRoot(root, modulePath)
		if err != nil {
			return LibraryEntry{}, &EntryError{Index: index, Ref: ref, Err: err}
		}
		modulePath = full
	}

	provider := l.providerFor(modulePath)
	if provider == nil {
		return LibraryEntry{}, &EntryError{Index: index, Ref: ref, Err: fmt.Errorf("%w: %s", ErrUnsupportedModule, fields["path"])}
	}
	factory, err := provider.Resolve(modulePath, fields["class"])
	if err != nil {
		return LibraryEntry{}, &EntryError{Index: index, Ref: ref, Err: err}
	}

	return LibraryEntry{
		Ref:     ref,
		Path:    modulePath,
		Class:   fields["class"],
		Title:   fields["title"],
		Meta:    meta,
		Factory: factory,
	}, nil
}

// underRoot joins rel under root and checks the result exists and does not
// escape root.
func underRoot(root, rel string) (string, error) {
	full := filepath.Join(root, rel)
	r, err := filepath.Rel(root, full)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s escapes the library root", ErrModulePathNotFound, rel)
	}
	if _, err := os.Stat(full); err != nil {
		return "", fmt.Errorf("%w: %s", ErrModulePathNotFound, rel)
	}
	return full, nil
}

func (l *Loader) providerFor(path string) Provider {
	for _, p := range l.providers {
		if p.Handles(path) {
			return p
		}
	}
	return nil
}
