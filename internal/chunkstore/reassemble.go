package chunkstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// Artifact is a reassembled upload still inside the holding area.
type Artifact struct {
	Path   string
	Size   int64
	SHA256 string
}

// Reassemble concatenates chunks 0..total-1 of k into the artifact file,
// deleting each chunk as soon as it has been appended. The digest and size
// are computed over the same bytes while they are written.
//
// Every ordinal is checked before the first chunk is consumed, so a missing
// chunk fails with ErrMissingChunk and leaves the others in place for a
// retry. The artifact is created exclusively; on any failure it is removed
// and no partial artifact is left behind.
func (s *Store) Reassemble(k Key, total int) (Artifact, error) {
	if total <= 0 {
		return Artifact{}, fmt.Errorf("reassemble %s: invalid chunk count %d", k, total)
	}

	for i := 0; i < total; i++ {
		ok, err := s.HasChunk(k, i)
		if err != nil {
			return Artifact{}, fmt.Errorf("stat chunk %d: %w", i, err)
		}
		if !ok {
			return Artifact{}, fmt.Errorf("%w: ordinal %d of %d for %s", ErrMissingChunk, i, total, k)
		}
	}

	path := s.ArtifactPath(k)
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return Artifact{}, fmt.Errorf("create artifact: %w", err)
	}

	fail := func(err error) (Artifact, error) {
		_ = out.Close()
		_ = os.Remove(path)
		return Artifact{}, err
	}

	h := sha256.New()
	w := io.MultiWriter(out, h)
	var size int64
	for i := 0; i < total; i++ {
		chunkPath := s.ChunkPath(k, i)
		n, err := appendFile(w, chunkPath)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				err = fmt.Errorf("%w: ordinal %d of %d for %s", ErrMissingChunk, i, total, k)
			}
			return fail(fmt.Errorf("append chunk %d: %w", i, err))
		}
		size += n
		if err := os.Remove(chunkPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fail(fmt.Errorf("remove chunk %d: %w", i, err))
		}
	}

	if err := out.Sync(); err != nil {
		return fail(fmt.Errorf("sync artifact: %w", err))
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(path)
		return Artifact{}, fmt.Errorf("close artifact: %w", err)
	}

	return Artifact{
		Path:   path,
		Size:   size,
		SHA256: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

func appendFile(w io.Writer, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()
	return io.Copy(w, f)
}
