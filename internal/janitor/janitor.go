// Package janitor reclaims abandoned uploads from the holding area.
//
// A sweep deletes every regular entry whose modification time is older than
// the staleness threshold. Entries belonging to an upload the activity
// ledger has seen within the threshold are kept even when their own mtime
// is old, which covers slow uploads whose early chunks age out before the
// last one arrives. Entries whose name cannot be mapped back to an upload,
// or any entry when the ledger is disabled, fall back to mtime alone, so a
// stalled reassembly can still lose chunks to a sweep.
package janitor

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"media-uploader/internal/activity"
	"media-uploader/internal/chunkstore"
	"media-uploader/internal/metrics"
)

// Result summarises one sweep.
type Result struct {
	Scanned  int
	Deleted  int
	Failed   int
	Exempt   int
	Pruned   int
	Duration time.Duration
}

// Options configures a Janitor. Dir and Threshold are required.
type Options struct {
	Dir       string
	Threshold time.Duration
	Tracker   activity.Tracker
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Janitor sweeps one holding area.
type Janitor struct {
	dir       string
	threshold time.Duration
	tracker   activity.Tracker
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	now       func() time.Time
	remove    func(string) error
}

func New(opts Options) *Janitor {
	j := &Janitor{
		dir:       opts.Dir,
		threshold: opts.Threshold,
		tracker:   opts.Tracker,
		metrics:   opts.Metrics,
		logger:    opts.Logger.With().Str("service", "janitor").Logger(),
		now:       opts.Now,
		remove:    os.Remove,
	}
	if j.tracker == nil {
		j.tracker = activity.Nop{}
	}
	if j.now == nil {
		j.now = time.Now
	}
	return j
}

// Run sweeps immediately and then on every interval until ctx is done.
func (j *Janitor) Run(ctx context.Context, interval time.Duration) error {
	j.logger.Info().
		Dur("interval", interval).
		Dur("threshold", j.threshold).
		Str("dir", j.dir).
		Msg("starting")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info().Msg("shutting down")
			return nil
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *Janitor) runOnce(ctx context.Context) {
	if _, err := j.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
		j.logger.Error().Err(err).Msg("sweep failed")
	}
}

// Sweep makes one pass over the holding area. Per-entry failures are
// logged and counted; only a failure to list the directory is returned.
func (j *Janitor) Sweep(ctx context.Context) (Result, error) {
	start := j.now()
	var res Result

	entries, err := os.ReadDir(j.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return res, nil
		}
		return res, err
	}

	cutoff := start.Add(-j.threshold)
	active, err := j.tracker.ActiveSince(ctx, cutoff)
	if err != nil {
		j.logger.Warn().Err(err).Msg("activity ledger unavailable, sweeping by mtime only")
		active = nil
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if e.IsDir() {
			continue
		}
		res.Scanned++

		info, err := e.Info()
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				res.Failed++
				j.logger.Warn().Err(err).Str("entry", e.Name()).Msg("stat failed")
			}
			continue
		}

		age := start.Sub(info.ModTime())
		if age <= j.threshold {
			continue
		}

		if key, _, ok := chunkstore.ParseName(e.Name()); ok {
			if _, live := active[activity.Key{UploadID: key.UploadID, Filename: key.Filename}]; live {
				res.Exempt++
				continue
			}
		}

		path := filepath.Join(j.dir, e.Name())
		if err := j.remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			res.Failed++
			j.logger.Warn().Err(err).Str("entry", e.Name()).Msg("delete failed")
			continue
		}
		res.Deleted++
		j.logger.Debug().Str("entry", e.Name()).Dur("age", age).Msg("deleted stale entry")
	}

	if n, err := j.tracker.Prune(ctx, cutoff); err != nil {
		j.logger.Warn().Err(err).Msg("ledger prune failed")
	} else {
		res.Pruned = n
	}

	res.Duration = j.now().Sub(start)
	j.metrics.RecordSweep(res.Deleted, res.Failed, res.Exempt, res.Duration, start)
	j.logger.Info().
		Int("scanned", res.Scanned).
		Int("deleted", res.Deleted).
		Int("failed", res.Failed).
		Int("exempt", res.Exempt).
		Int("pruned", res.Pruned).
		Int64("duration_ms", res.Duration.Milliseconds()).
		Msg("sweep complete")
	return res, nil
}
