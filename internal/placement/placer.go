// Package placement moves a verified artifact from the holding area into
// its final destination without ever overwriting an existing file.
package placement

import (
	"context"
	"errors"

	"media-uploader/internal/chunkstore"
)

// ErrDestinationExists is returned when a file already occupies the final
// destination. The existing file is left untouched.
var ErrDestinationExists = errors.New("destination already exists")

// Placement methods, also used as metric labels.
const (
	MethodRename = "rename"
	MethodLink   = "link"
	// MethodReserve claims the name with an exclusive create and renames
	// over it, for filesystems without hard links.
	MethodReserve = "reserve"
	MethodCopy   = "copy"
	MethodObject = "object"
)

// Placement describes where an artifact ended up.
type Placement struct {
	Location string
	Size     int64
	Method   string
}

// Placer resolves client-supplied target directories and places artifacts
// into them.
type Placer interface {
	// Resolve maps a client-supplied relative directory to a target inside
	// the destination root. Escapes yield validation.ErrPathTraversal.
	Resolve(dir string) (string, error)
	// Place moves the artifact into target under filename. On success the
	// artifact no longer exists in the holding area.
	Place(ctx context.Context, a chunkstore.Artifact, target, filename string) (Placement, error)
}
