// Package activity records which uploads are still in progress so the
// janitor can leave their holding-area entries alone. Each chunk touches the
// (upload id, filename) key; a completed upload forgets it.
package activity

import (
	"context"
	"errors"
	"time"
)

// ErrTotalMismatch is returned by Touch when a key is already recorded with a
// different total chunk count.
var ErrTotalMismatch = errors.New("total chunk count differs from earlier chunks")

// Key identifies one upload in the ledger.
type Key struct {
	UploadID string
	Filename string
}

// Tracker is the upload activity ledger.
type Tracker interface {
	// Touch records that a chunk for key arrived at time at. The first
	// touch fixes the total chunk count for the key.
	Touch(ctx context.Context, key Key, total int, at time.Time) error
	// ActiveSince returns every key touched at or after cutoff.
	ActiveSince(ctx context.Context, cutoff time.Time) (map[Key]struct{}, error)
	// Forget removes key. Forgetting an unknown key is not an error.
	Forget(ctx context.Context, key Key) error
	// Prune drops keys last touched before cutoff and returns how many
	// were removed.
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}

// Nop is a Tracker that records nothing. With it, the janitor relies on
// file modification times alone.
type Nop struct{}

func (Nop) Touch(context.Context, Key, int, time.Time) error { return nil }

func (Nop) ActiveSince(context.Context, time.Time) (map[Key]struct{}, error) {
	return map[Key]struct{}{}, nil
}

func (Nop) Forget(context.Context, Key) error { return nil }

func (Nop) Prune(context.Context, time.Time) (int, error) { return 0, nil }
