package placement

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"media-uploader/internal/chunkstore"
	"media-uploader/internal/validation"
)

// FS places artifacts into a directory tree on a local or mounted
// filesystem.
type FS struct {
	root   string
	logger zerolog.Logger
}

// NewFS returns a placer rooted at root. The root must exist.
func NewFS(root string, logger zerolog.Logger) (*FS, error) {
	canon, err := validation.Canonical(root)
	if err != nil {
		return nil, fmt.Errorf("destination root: %w", err)
	}
	info, err := os.Stat(canon)
	if err != nil {
		return nil, fmt.Errorf("destination root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("destination root %s is not a directory", canon)
	}
	return &FS{root: canon, logger: logger}, nil
}

// Root returns the canonical destination root.
func (p *FS) Root() string {
	return p.root
}

// Resolve returns the canonical target directory for dir. The directory
// must already exist; the placer never creates directories on behalf of a
// client.
func (p *FS) Resolve(dir string) (string, error) {
	target, err := validation.ResolveWithin(p.root, dir)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %q", validation.ErrDirectoryNotFound, dir)
		}
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %q is not a directory", validation.ErrDirectoryNotFound, dir)
	}
	return target, nil
}

// Place moves a into target/filename. A same-filesystem move is a single
// no-replace rename; across filesystems the bytes are copied, verified and
// linked into place.
func (p *FS) Place(ctx context.Context, a chunkstore.Artifact, target, filename string) (Placement, error) {
	dst := filepath.Join(target, filename)
	if !validation.IsWithin(p.root, dst) {
		return Placement{}, fmt.Errorf("%w: %q", validation.ErrPathTraversal, dst)
	}

	method, err := renameNoReplace(a.Path, dst)
	switch {
	case err == nil:
		return Placement{Location: dst, Size: a.Size, Method: method}, nil
	case errors.Is(err, fs.ErrExist):
		return Placement{}, fmt.Errorf("%w: %s", ErrDestinationExists, dst)
	case errors.Is(err, syscall.EXDEV):
		p.logger.Debug().Str("src", a.Path).Str("dst", dst).Msg("cross-device placement, copying")
		if err := p.copyAcross(ctx, a, dst); err != nil {
			return Placement{}, err
		}
		return Placement{Location: dst, Size: a.Size, Method: MethodCopy}, nil
	default:
		return Placement{}, fmt.Errorf("place %s: %w", dst, err)
	}
}

// copyAcross copies a into a staging file beside dst, re-hashes it, and
// hard-links it to dst so an existing file is never replaced. Where the
// destination has no hard links, dst is reserved and the staging file is
// renamed over the reservation.
func (p *FS) copyAcross(ctx context.Context, a chunkstore.Artifact, dst string) error {
	// Cheap early exit; the link below is the authoritative check.
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("%w: %s", ErrDestinationExists, dst)
	}

	// The staging name does not embed the filename so it stays within
	// NAME_MAX for any accepted filename.
	staging := filepath.Join(filepath.Dir(dst), "."+uuid.NewString()+".partial")
	defer func() { _ = os.Remove(staging) }()

	if err := copyFile(ctx, a.Path, staging); err != nil {
		return fmt.Errorf("copy to destination filesystem: %w", err)
	}

	sum, n, err := validation.FileSHA256(staging)
	if err != nil {
		return fmt.Errorf("verify copy: %w", err)
	}
	if n != a.Size || sum != a.SHA256 {
		return fmt.Errorf("verify copy: got %d bytes sha256 %s, want %d bytes sha256 %s", n, sum, a.Size, a.SHA256)
	}

	if err := link(staging, dst); err != nil {
		if linkUnsupported(err) {
			p.logger.Debug().Str("dst", dst).Msg("destination has no hard links, reserving name")
			err = reserveRename(staging, dst)
		}
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrDestinationExists, dst)
		}
		if err != nil {
			return fmt.Errorf("link into place: %w", err)
		}
	}

	if err := os.Remove(a.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		p.logger.Warn().Err(err).Str("artifact", a.Path).Msg("placed but could not remove artifact")
	}
	return nil
}

func copyFile(ctx context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, &ctxReader{ctx: ctx, r: in}); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// ctxReader stops a long copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// link is os.Link; tests swap it to simulate filesystems without hard
// links.
var link = os.Link

// linkUnsupported reports whether err means the filesystem cannot create
// hard links at all (vfat, exFAT, many SMB mounts).
func linkUnsupported(err error) bool {
	return errors.Is(err, syscall.EPERM) ||
		errors.Is(err, syscall.ENOTSUP) ||
		errors.Is(err, syscall.EOPNOTSUPP)
}

// reserveRename claims dst with an exclusive create, then renames src over
// the empty placeholder it owns. A concurrent placer loses the create and
// gets EEXIST.
func reserveRename(src, dst string) error {
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return err
	}
	_ = f.Close()
	if err := os.Rename(src, dst); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return nil
}

// linkRename is the portable no-replace move: link fails if dst exists,
// then the source name is dropped. Without hard links the name is
// reserved first instead.
func linkRename(src, dst string) (string, error) {
	if err := link(src, dst); err != nil {
		if linkUnsupported(err) {
			if err := reserveRename(src, dst); err != nil {
				return "", unwrapPathErr(err)
			}
			return MethodReserve, nil
		}
		return "", unwrapPathErr(err)
	}
	if err := os.Remove(src); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("remove source after link: %w", err)
	}
	return MethodLink, nil
}

func unwrapPathErr(err error) error {
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return linkErr.Err
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return pathErr.Err
	}
	return err
}
