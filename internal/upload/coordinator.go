// Package upload turns chunk requests into placed files: it stores each
// chunk, and on the last one reassembles, validates and places the result.
package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"media-uploader/internal/activity"
	"media-uploader/internal/chunkstore"
	"media-uploader/internal/metrics"
	"media-uploader/internal/placement"
	"media-uploader/internal/validation"
)

// Outcome is the result of a successful chunk request.
type Outcome int

const (
	ChunkAccepted Outcome = iota + 1
	UploadComplete
)

func (o Outcome) String() string {
	switch o {
	case ChunkAccepted:
		return "ChunkAccepted"
	case UploadComplete:
		return "UploadComplete"
	default:
		return "Unknown"
	}
}

// Result describes a successful chunk request. Location, Size and Method
// are only set for UploadComplete.
type Result struct {
	Outcome  Outcome
	Location string
	Size     int64
	Method   string
}

// Options configures a Coordinator. Store, Placer and Allowed are required.
type Options struct {
	Store   *chunkstore.Store
	Placer  placement.Placer
	Allowed validation.ExtensionSet
	// MaxFileSize bounds the reassembled file; 0 means unlimited.
	MaxFileSize int64
	Tracker     activity.Tracker
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
	Now         func() time.Time
}

// Coordinator handles chunk requests. It holds no per-upload state; the
// holding area and the activity ledger are the only shared state, so any
// number of requests may run concurrently.
type Coordinator struct {
	store       *chunkstore.Store
	placer      placement.Placer
	allowed     validation.ExtensionSet
	maxFileSize int64
	tracker     activity.Tracker
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	now         func() time.Time
}

func NewCoordinator(opts Options) *Coordinator {
	c := &Coordinator{
		store:       opts.Store,
		placer:      opts.Placer,
		allowed:     opts.Allowed,
		maxFileSize: opts.MaxFileSize,
		tracker:     opts.Tracker,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		now:         opts.Now,
	}
	if c.tracker == nil {
		c.tracker = activity.Nop{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// HandleChunk processes one chunk request. Failures are always *Error.
func (c *Coordinator) HandleChunk(ctx context.Context, req *ChunkRequest) (Result, error) {
	res, err := c.handle(ctx, req)
	if err != nil {
		var ue *Error
		if !errors.As(err, &ue) {
			ue = newError(ChunkIOError, "failed to store chunk", err)
		}
		c.metrics.RecordUploadError(ue.Kind.String())

		log := c.log(ctx)
		ev := log.Warn()
		if !ue.Kind.IsClientError() {
			ev = log.Error()
		}
		ev.Err(ue.Err).
			Str("kind", ue.Kind.String()).
			Str("filename", req.Filename).
			Str("upload_id", req.UploadID).
			Int("chunk", req.Ordinal).
			Int("total_chunks", req.TotalChunks).
			Msg(ue.Msg)
		return Result{}, ue
	}
	return res, nil
}

func (c *Coordinator) handle(ctx context.Context, req *ChunkRequest) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	key := chunkstore.Key{Filename: req.Filename, UploadID: req.UploadID}
	akey := activity.Key{UploadID: req.UploadID, Filename: req.Filename}

	if err := c.tracker.Touch(ctx, akey, req.TotalChunks, c.now()); err != nil {
		if errors.Is(err, activity.ErrTotalMismatch) {
			return Result{}, newError(MissingOrInvalidField, "total_chunks differs from earlier chunks", err)
		}
		// The ledger only protects against early sweeping; the upload can proceed.
		c.log(ctx).Warn().Err(err).Str("upload_id", req.UploadID).Msg("activity ledger unavailable")
	}

	n, err := c.store.WriteChunk(key, req.Ordinal, req.Payload)
	if err != nil {
		return Result{}, newError(ChunkIOError, "failed to store chunk", err)
	}
	c.metrics.RecordChunk(n)

	if !req.IsLast() {
		if err := c.checkStoredSize(ctx, key, akey, req.TotalChunks); err != nil {
			return Result{}, err
		}
		c.log(ctx).Debug().
			Str("upload_id", req.UploadID).
			Str("filename", req.Filename).
			Int("chunk", req.Ordinal).
			Int64("bytes", n).
			Msg("chunk stored")
		return Result{Outcome: ChunkAccepted}, nil
	}

	return c.complete(ctx, req, key, akey)
}

// checkStoredSize rejects an upload whose chunks already exceed the size
// limit, removing them instead of waiting for the last chunk. The final
// chunk is left to complete so the checksum is still reported first.
func (c *Coordinator) checkStoredSize(ctx context.Context, key chunkstore.Key, akey activity.Key, total int) error {
	if c.maxFileSize <= 0 {
		return nil
	}
	size, err := c.store.StoredSize(key, total)
	if err != nil {
		c.log(ctx).Warn().Err(err).Str("upload_id", key.UploadID).Msg("could not total stored chunks")
		return nil
	}
	if size <= c.maxFileSize {
		return nil
	}

	if err := c.store.DiscardChunks(key, total); err != nil {
		c.log(ctx).Error().Err(err).Str("upload_id", key.UploadID).Msg("failed to discard chunks")
	}
	if err := c.tracker.Forget(context.WithoutCancel(ctx), akey); err != nil {
		c.log(ctx).Warn().Err(err).Str("upload_id", akey.UploadID).Msg("failed to clear activity entry")
	}
	return c.tooLarge(fmt.Errorf("stored chunks hold %d bytes", size))
}

func (c *Coordinator) tooLarge(err error) error {
	return newError(FileTooLarge, "file exceeds the maximum size of "+humanize.Bytes(uint64(c.maxFileSize)), err)
}

// complete reassembles, validates and places the upload. The artifact is
// discarded on every path that does not place it.
func (c *Coordinator) complete(ctx context.Context, req *ChunkRequest, key chunkstore.Key, akey activity.Key) (res Result, err error) {
	start := c.now()

	artifact, err := c.store.Reassemble(key, req.TotalChunks)
	if err != nil {
		if errors.Is(err, chunkstore.ErrMissingChunk) {
			// Chunks already present stay for a resend; keep the ledger entry too.
			return Result{}, newError(ReassemblyIOError, "upload is missing chunks", err)
		}
		return Result{}, newError(ReassemblyIOError, "failed to reassemble upload", err)
	}

	placed := false
	defer func() {
		if !placed {
			if derr := c.store.Discard(artifact); derr != nil {
				c.log(ctx).Error().Err(derr).Str("artifact", artifact.Path).Msg("failed to discard artifact")
			}
		}
		if ferr := c.tracker.Forget(context.WithoutCancel(ctx), akey); ferr != nil {
			c.log(ctx).Warn().Err(ferr).Str("upload_id", akey.UploadID).Msg("failed to clear activity entry")
		}
	}()

	if err := validation.VerifyChecksum(req.Checksum, artifact.SHA256); err != nil {
		return Result{}, newError(ChecksumMismatch, "checksum mismatch", err)
	}
	if err := c.allowed.Check(req.Filename); err != nil {
		return Result{}, newError(DisallowedFileType, "file type not allowed", err)
	}
	if c.maxFileSize > 0 && artifact.Size > c.maxFileSize {
		return Result{}, c.tooLarge(fmt.Errorf("reassembled %d bytes", artifact.Size))
	}

	target, err := c.placer.Resolve(req.Directory)
	if err != nil {
		return Result{}, classifyResolve(err)
	}

	p, err := c.placer.Place(ctx, artifact, target, req.Filename)
	if err != nil {
		return Result{}, classifyPlace(err)
	}
	placed = true

	elapsed := c.now().Sub(start)
	c.metrics.RecordUpload(p.Size, p.Method, elapsed)
	c.log(ctx).Info().
		Str("upload_id", req.UploadID).
		Str("filename", req.Filename).
		Str("location", p.Location).
		Str("method", p.Method).
		Int64("bytes", p.Size).
		Dur("finalize", elapsed).
		Msg("upload complete")

	return Result{Outcome: UploadComplete, Location: p.Location, Size: p.Size, Method: p.Method}, nil
}

func classifyResolve(err error) error {
	switch {
	case errors.Is(err, validation.ErrPathTraversal):
		return newError(PathTraversalRejected, "directory is outside the destination root", err)
	case errors.Is(err, validation.ErrDirectoryNotFound):
		return newError(MissingOrInvalidField, "target directory does not exist", err)
	default:
		return newError(PlacementIOError, "failed to resolve target directory", err)
	}
}

func classifyPlace(err error) error {
	switch {
	case errors.Is(err, placement.ErrDestinationExists):
		return newError(DestinationAlreadyExists, "a file with this name already exists", err)
	case errors.Is(err, validation.ErrPathTraversal):
		return newError(PathTraversalRejected, "directory is outside the destination root", err)
	default:
		return newError(PlacementIOError, "failed to place file", err)
	}
}

// log prefers the request-scoped logger carried in ctx.
func (c *Coordinator) log(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &c.logger
}
