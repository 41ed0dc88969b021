// Package access decides which communities the host serves.
package access

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Whitelist is an immutable set of community ids.
//
// A nil *Whitelist allows every community.
type Whitelist struct {
	ids map[string]struct{}
}

// LoadWhitelist reads one community id per line. Blank lines and lines
// starting with '#' are ignored.
//
// Postcondition: A missing or unreadable file is an error.
func LoadWhitelist(path string) (*Whitelist, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening whitelist %s: %w", path, err)
	}
	defer f.Close()

	w := &Whitelist{ids: make(map[string]struct{})}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		w.ids[line] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading whitelist %s: %w", path, err)
	}
	return w, nil
}

// Allows reports whether community may use the host.
func (w *Whitelist) Allows(community string) bool {
	if w == nil {
		return true
	}
	_, ok := w.ids[community]
	return ok
}

// IDs returns the whitelisted ids, sorted.
func (w *Whitelist) IDs() []string {
	if w == nil {
		return nil
	}
	out := make([]string, 0, len(w.ids))
	for id := range w.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
