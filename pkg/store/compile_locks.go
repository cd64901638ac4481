package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Expiry is kept as unix milliseconds so the takeover check compares
// integers rather than formatted timestamps.

// LockCompile takes or extends the compile lock of experimentID.
func (s *Store) LockCompile(ctx context.Context, experimentID, holder string, ttl time.Duration) (bool, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO compile_locks (experiment_id, holder, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT (experiment_id) DO UPDATE
		SET holder = excluded.holder, expires_at = excluded.expires_at
		WHERE compile_locks.holder = excluded.holder OR compile_locks.expires_at <= ?
	`, experimentID, holder, now.Add(ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("failed to lock compile of %s: %w", experimentID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return n > 0, nil
}

// UnlockCompile removes the lock if holder owns it.
func (s *Store) UnlockCompile(ctx context.Context, experimentID, holder string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM compile_locks WHERE experiment_id = ? AND holder = ?`, experimentID, holder)
	if err != nil {
		return fmt.Errorf("failed to unlock compile of %s: %w", experimentID, err)
	}
	return nil
}

// CompileLockOf returns the unexpired lock on experimentID, or nil.
func (s *Store) CompileLockOf(ctx context.Context, experimentID string) (*CompileLock, error) {
	var (
		lock      = CompileLock{ExperimentID: experimentID}
		expiresMs int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT holder, expires_at FROM compile_locks
		WHERE experiment_id = ? AND expires_at > ?
	`, experimentID, time.Now().UnixMilli()).Scan(&lock.Holder, &expiresMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read compile lock of %s: %w", experimentID, err)
	}
	lock.ExpiresAt = time.UnixMilli(expiresMs)
	return &lock, nil
}
