package activity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Postgres is a Tracker backed by the upload_activity table, shared by every
// instance pointed at the same database.
type Postgres struct {
	db *sql.DB
}

// NewPostgres returns a ledger on db. The schema must already be migrated.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const touchSQL = `
INSERT INTO upload_activity (upload_id, filename, total_chunks, first_seen, last_seen)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (upload_id, filename) DO UPDATE
   SET last_seen = GREATEST(upload_activity.last_seen, EXCLUDED.last_seen)
 WHERE upload_activity.total_chunks = EXCLUDED.total_chunks
RETURNING total_chunks`

func (p *Postgres) Touch(ctx context.Context, key Key, total int, at time.Time) error {
	var got int
	err := p.db.QueryRowContext(ctx, touchSQL, key.UploadID, key.Filename, total, at.UTC()).Scan(&got)
	if errors.Is(err, sql.ErrNoRows) {
		// The conflict WHERE clause filtered the update out.
		return ErrTotalMismatch
	}
	if err != nil {
		return fmt.Errorf("touch upload activity: %w", err)
	}
	return nil
}

func (p *Postgres) ActiveSince(ctx context.Context, cutoff time.Time) (map[Key]struct{}, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT upload_id, filename FROM upload_activity WHERE last_seen >= $1`, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("query upload activity: %w", err)
	}
	defer func() { _ = rows.Close() }()

	active := make(map[Key]struct{})
	for rows.Next() {
		var k Key
		if err := rows.Scan(&k.UploadID, &k.Filename); err != nil {
			return nil, fmt.Errorf("scan upload activity: %w", err)
		}
		active[k] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read upload activity: %w", err)
	}
	return active, nil
}

func (p *Postgres) Forget(ctx context.Context, key Key) error {
	if _, err := p.db.ExecContext(ctx,
		`DELETE FROM upload_activity WHERE upload_id = $1 AND filename = $2`,
		key.UploadID, key.Filename); err != nil {
		return fmt.Errorf("forget upload activity: %w", err)
	}
	return nil
}

func (p *Postgres) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM upload_activity WHERE last_seen < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune upload activity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune upload activity: %w", err)
	}
	return int(n), nil
}

// Ping checks that the database is reachable.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}
