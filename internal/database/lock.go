package database

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/smukkama/airquality-pipeline/internal/lock"
)

// TryLock takes a named run lock without waiting. On Postgres it is a
// session advisory lock held on a dedicated connection; on SQLite it is a
// lease row that expires after ttl.
func (db *DB) TryLock(ctx context.Context, name string, ttl time.Duration) (lock.Lease, bool, error) {
	if db.Driver == Postgres {
		return db.tryAdvisoryLock(ctx, name)
	}
	return db.tryLeaseLock(ctx, name, ttl)
}

func advisoryKey(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return int64(h.Sum64())
}

func (db *DB) tryAdvisoryLock(ctx context.Context, name string) (lock.Lease, bool, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to reserve lock connection: %w", err)
	}

	key := advisoryKey(name)
	var ok bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&ok); err != nil {
		conn.Close()
		return nil, false, fmt.Errorf("failed to acquire advisory lock %s: %w", name, err)
	}
	if !ok {
		conn.Close()
		return nil, false, nil
	}
	return &advisoryLease{conn: conn, key: key}, true, nil
}

type advisoryLease struct {
	conn *sql.Conn
	key  int64
}

func (l *advisoryLease) Release(ctx context.Context) error {
	defer l.conn.Close()
	if _, err := l.conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, l.key); err != nil {
		return fmt.Errorf("failed to release advisory lock: %w", err)
	}
	return nil
}

func (db *DB) tryLeaseLock(ctx context.Context, name string, ttl time.Duration) (lock.Lease, bool, error) {
	holder := uuid.NewString()
	now := time.Now().UTC()

	query := db.Rebind(`
		INSERT INTO run_locks (name, holder, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE
		SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
		WHERE run_locks.expires_at < $4
	`)
	res, err := db.ExecContext(ctx, query, name, holder, now.Add(ttl), now)
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lease %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, false, nil
	}
	return &leaseLock{db: db, name: name, holder: holder}, true, nil
}

type leaseLock struct {
	db     *DB
	name   string
	holder string
}

func (l *leaseLock) Release(ctx context.Context) error {
	query := l.db.Rebind(`DELETE FROM run_locks WHERE name = $1 AND holder = $2`)
	if _, err := l.db.ExecContext(ctx, query, l.name, l.holder); err != nil {
		return fmt.Errorf("failed to release lease %s: %w", l.name, err)
	}
	return nil
}
