// Package chunkstore is the holding area for in-flight uploads: the chunks
// received so far and the transient artifact produced when they are
// reassembled. The filesystem is the only synchronisation point, so several
// server processes may share one holding directory.
package chunkstore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
)

// ErrMissingChunk is returned when an ordinal expected during reassembly is
// not present in the holding area.
var ErrMissingChunk = errors.New("chunk missing from holding area")

// incomingPattern names chunk writes that have not been renamed into place.
const incomingPattern = ".incoming-*"

// namePattern matches both chunk names and artifact names. Upload ids cannot
// contain dots, so the greedy filename group always stops at the last
// ".chunkN-" / ".assembled-" marker.
var namePattern = regexp.MustCompile(`^(.+)\.(?:chunk(\d+)|assembled)-([A-Za-z0-9_-]+)$`)

// Key identifies one in-progress reassembly. Two uploads with the same
// filename but different upload ids never share a holding-area entry.
type Key struct {
	Filename string
	UploadID string
}

// ChunkName is the holding-area name of one chunk:
// {filename}.chunk{ordinal}-{uploadId}.
func (k Key) ChunkName(ordinal int) string {
	return fmt.Sprintf("%s.chunk%d-%s", k.Filename, ordinal, k.UploadID)
}

// ArtifactName is the holding-area name of the reassembled file.
func (k Key) ArtifactName() string {
	return fmt.Sprintf("%s.assembled-%s", k.Filename, k.UploadID)
}

// maxEntryName is the NAME_MAX of common filesystems.
const maxEntryName = 255

// Fits reports whether every holding-area name of an upload with total
// chunks stays within the filesystem name limit. The ordinal and the
// upload id both lengthen the name, so a filename that is valid on its own
// may still not fit.
func (k Key) Fits(total int) bool {
	if total < 1 {
		total = 1
	}
	return len(k.ChunkName(total-1)) <= maxEntryName &&
		len(k.ArtifactName()) <= maxEntryName
}

func (k Key) String() string {
	return k.UploadID + "/" + k.Filename
}

// ParseName recovers the key from a chunk or artifact name. ordinal is -1
// for artifacts.
func ParseName(name string) (key Key, ordinal int, ok bool) {
	m := namePattern.FindStringSubmatch(name)
	if m == nil {
		return Key{}, 0, false
	}
	ordinal = -1
	if m[2] != "" {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return Key{}, 0, false
		}
		ordinal = n
	}
	return Key{Filename: m[1], UploadID: m[3]}, ordinal, true
}

// Store is a holding area rooted at one directory.
type Store struct {
	dir string
}

// New returns a store rooted at dir. The directory is created lazily.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the holding-area directory.
func (s *Store) Dir() string {
	return s.dir
}

// Ensure creates the holding area if it does not exist.
func (s *Store) Ensure() error {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("create holding area: %w", err)
	}
	return nil
}

// ChunkPath is the on-disk location of one chunk.
func (s *Store) ChunkPath(k Key, ordinal int) string {
	return filepath.Join(s.dir, k.ChunkName(ordinal))
}

// ArtifactPath is the on-disk location of the reassembled file for k.
func (s *Store) ArtifactPath(k Key) string {
	return filepath.Join(s.dir, k.ArtifactName())
}

// WriteChunk stores the chunk bytes under their composite name. The bytes
// land in a temporary file first and are renamed over the final name, so a
// retransmitted ordinal replaces the earlier copy and a failed write never
// leaves a truncated chunk behind.
func (s *Store) WriteChunk(k Key, ordinal int, r io.Reader) (int64, error) {
	if err := s.Ensure(); err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(s.dir, incomingPattern)
	if err != nil {
		return 0, fmt.Errorf("create chunk file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	n, err := io.Copy(tmp, r)
	if err != nil {
		return 0, fmt.Errorf("write chunk %d: %w", ordinal, err)
	}
	if err := tmp.Sync(); err != nil {
		return 0, fmt.Errorf("sync chunk %d: %w", ordinal, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close chunk %d: %w", ordinal, err)
	}
	if err := os.Rename(tmpPath, s.ChunkPath(k, ordinal)); err != nil {
		return 0, fmt.Errorf("commit chunk %d: %w", ordinal, err)
	}
	committed = true
	return n, nil
}

// HasChunk reports whether the chunk with the given ordinal is present.
func (s *Store) HasChunk(k Key, ordinal int) (bool, error) {
	_, err := os.Stat(s.ChunkPath(k, ordinal))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Discard removes a transient artifact. Removing one that is already gone
// is not an error.
func (s *Store) Discard(a Artifact) error {
	if a.Path == "" {
		return nil
	}
	if err := os.Remove(a.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("discard artifact: %w", err)
	}
	return nil
}

// StoredSize sums the sizes of the chunks of k with ordinals below total
// that are currently present.
func (s *Store) StoredSize(k Key, total int) (int64, error) {
	var size int64
	for i := 0; i < total; i++ {
		fi, err := os.Stat(s.ChunkPath(k, i))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("stat chunk %d: %w", i, err)
		}
		size += fi.Size()
	}
	return size, nil
}

// DiscardChunks removes every chunk of k with an ordinal below total.
func (s *Store) DiscardChunks(k Key, total int) error {
	var errs []error
	for i := 0; i < total; i++ {
		if err := os.Remove(s.ChunkPath(k, i)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
