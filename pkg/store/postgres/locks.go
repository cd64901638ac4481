package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rmax-ai/psyflow/pkg/store"
)

// LockCompile takes the lock when free or expired, and extends it when
// holder already owns it.
func (s *Store) LockCompile(ctx context.Context, experimentID, holder string, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO compile_locks (experiment_id, holder, expires_at)
		VALUES ($1, $2, now() + $3::bigint * interval '1 millisecond')
		ON CONFLICT (experiment_id) DO UPDATE
		SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
		WHERE compile_locks.holder = EXCLUDED.holder OR compile_locks.expires_at <= now()
	`, experimentID, holder, ttl.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("failed to lock compile of %s: %w", experimentID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) UnlockCompile(ctx context.Context, experimentID, holder string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM compile_locks WHERE experiment_id = $1 AND holder = $2`, experimentID, holder); err != nil {
		return fmt.Errorf("failed to unlock compile of %s: %w", experimentID, err)
	}
	return nil
}

func (s *Store) CompileLockOf(ctx context.Context, experimentID string) (*store.CompileLock, error) {
	lock := store.CompileLock{ExperimentID: experimentID}
	err := s.pool.QueryRow(ctx, `
		SELECT holder, expires_at FROM compile_locks
		WHERE experiment_id = $1 AND expires_at > now()
	`, experimentID).Scan(&lock.Holder, &lock.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read compile lock of %s: %w", experimentID, err)
	}
	return &lock, nil
}
