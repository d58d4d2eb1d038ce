package validation

import (
	"fmt"
	"sort"
	"strings"
)

// ExtensionSet is the allow-list of lower-case file extensions, stored
// without the leading dot.
type ExtensionSet map[string]struct{}

// NewExtensionSet normalises each entry ("MKV", ".mkv", " mkv ") to "mkv".
// Empty entries are ignored.
func NewExtensionSet(exts ...string) ExtensionSet {
	set := make(ExtensionSet, len(exts))
	for _, ext := range exts {
		ext = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
		if ext == "" {
			continue
		}
		set[ext] = struct{}{}
	}
	return set
}

// Allows reports whether filename ends in an allowed extension. The
// comparison is case-insensitive and a name without a dot never matches.
func (s ExtensionSet) Allows(filename string) bool {
	i := strings.LastIndexByte(filename, '.')
	if i < 0 {
		return false
	}
	_, ok := s[strings.ToLower(filename[i+1:])]
	return ok
}

// Check is Allows returning ErrDisallowedFileType.
func (s ExtensionSet) Check(filename string) error {
	if s.Allows(filename) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrDisallowedFileType, filename)
}

// Sorted lists the extensions alphabetically.
func (s ExtensionSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for ext := range s {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}
