package plugin

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidManifest reports a manifest that cannot be read or whose
	// library section is unusable.
	ErrInvalidManifest = errors.New("plugin: invalid manifest")
	// ErrMissingField reports a game entry without one of its required fields.
	ErrMissingField = errors.New("plugin: missing required field")
	// ErrModulePathNotFound reports a module path that does not resolve.
	ErrModulePathNotFound = errors.New("plugin: module path not found")
	// ErrClassNotFound reports a module that loads but lacks the named class.
	ErrClassNotFound = errors.New("plugin: class not found")
	// ErrUnsupportedModule reports a module no provider can load.
	ErrUnsupportedModule = errors.New("plugin: unsupported module")
)

// EntryError describes why one manifest entry was rejected.
type EntryError struct {
	// Index is the entry's position in the games list.
	Index int
	// Ref is empty when the entry has no ref.
	Ref string
	// Missing lists absent required fields, sorted.
	Missing []string
	Err     error
}

func (e *EntryError) Error() string {
	name := e.Ref
	if name == "" {
		name = fmt.Sprintf("#%d", e.Index)
	}
	if len(e.Missing) > 0 {
		return fmt.Sprintf("game %s: %v: %s", name, e.Err, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("game %s: %v", name, e.Err)
}

func (e *EntryError) Unwrap() error { return e.Err }

// ManifestError aggregates every failure found while loading one manifest.
type ManifestError struct {
	Path string
	Err  error
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("loading game library %s: %v", e.Path, e.Err)
}

func (e *ManifestError) Unwrap() error { return e.Err }
