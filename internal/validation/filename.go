// filename.go - Filename and upload id sanitisation
package validation

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

const maxFilenameLength = 255

var uploadIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// SanitizeFilename reduces a client supplied name to a single safe path
// component. Directory parts are dropped, spaces become underscores and
// anything outside [A-Za-z0-9._-] is removed.
func SanitizeFilename(name string) (string, error) {
	// Keep only the final component, whichever separator the client used.
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r == ' ':
			b.WriteByte('_')
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		}
	}

	// Leading dots would make hidden files, trailing ones an empty extension.
	name = strings.Trim(b.String(), "._")

	if len(name) > maxFilenameLength {
		ext := filepath.Ext(name)
		if len(ext) >= maxFilenameLength {
			ext = ""
		}
		name = name[:maxFilenameLength-len(ext)] + ext
	}

	if name == "" {
		return "", ErrInvalidFilename
	}
	return name, nil
}

// ValidateUploadID checks that the client token is usable inside a
// holding-area file name.
func ValidateUploadID(id string) error {
	if !uploadIDPattern.MatchString(id) {
		return fmt.Errorf("%w: must be 1-128 characters of [A-Za-z0-9_-]", ErrInvalidUploadID)
	}
	return nil
}
