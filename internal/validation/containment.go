// containment.go - Destination path containment.
//
// Target directories come from the client, so they are resolved against the
// canonical (absolute, symlink-free) root and accepted only when the result
// is the root itself or one of its descendants. Prefix matching on the raw
// input is never used.
package validation

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
)

// Canonical returns the absolute, symlink-resolved form of p.
func Canonical(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

// ResolveWithin resolves dir relative to root and returns the canonical
// target. Absolute input, ".." escapes and symlinks pointing outside the
// root all yield ErrPathTraversal. Components that do not exist yet are
// appended lexically after the deepest existing ancestor is resolved.
func ResolveWithin(root, dir string) (string, error) {
	if isAbsoluteInput(dir) {
		return "", fmt.Errorf("%w: absolute path %q", ErrPathTraversal, dir)
	}

	canonRoot, err := Canonical(root)
	if err != nil {
		return "", fmt.Errorf("resolve destination root: %w", err)
	}

	resolved, err := resolveExisting(filepath.Join(canonRoot, dir))
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", dir, err)
	}

	if !IsWithin(canonRoot, resolved) {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, dir)
	}
	return resolved, nil
}

// IsWithin reports whether p equals root or lies beneath it. Both paths
// must already be canonical.
func IsWithin(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// ObjectKeyWithin is the object-store counterpart of ResolveWithin: keys
// have no symlinks, so containment under prefix is checked lexically on
// the cleaned key.
func ObjectKeyWithin(prefix, dir string) (string, error) {
	dir = strings.ReplaceAll(dir, `\`, "/")
	if isAbsoluteInput(dir) {
		return "", fmt.Errorf("%w: absolute path %q", ErrPathTraversal, dir)
	}

	base := strings.Trim(path.Clean("/"+strings.ReplaceAll(prefix, `\`, "/")), "/")
	key := path.Clean(path.Join(base, dir))
	if key == ".." || strings.HasPrefix(key, "../") {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, dir)
	}
	if base != "" && key != base && !strings.HasPrefix(key, base+"/") {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, dir)
	}
	if key == "." {
		key = ""
	}
	return key, nil
}

func isAbsoluteInput(dir string) bool {
	return filepath.IsAbs(dir) || strings.HasPrefix(dir, "/") || strings.HasPrefix(dir, `\`) || filepath.VolumeName(dir) != ""
}

// resolveExisting walks up from p to the deepest ancestor that exists,
// resolves its symlinks and re-appends the missing tail.
func resolveExisting(p string) (string, error) {
	var tail []string
	cur := p
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			parts := append([]string{resolved}, tail...)
			return filepath.Join(parts...), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", err
		}
		tail = append([]string{filepath.Base(cur)}, tail...)
		cur = parent
	}
}
