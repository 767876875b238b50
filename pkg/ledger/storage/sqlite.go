package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteBackend persists buckets in SQLite. Increments are single upsert
// statements and reservations run in one transaction, so both are atomic
// per bucket. It suits single-instance deployments that need budgets to
// survive restarts.
type SQLiteBackend struct {
	db                 *sql.DB
	checkpointInterval time.Duration
	done               chan struct{}
	wg                 sync.WaitGroup
	closeOnce          sync.Once

	getStmt    *sql.Stmt
	addStmt    *sql.Stmt
	listStmt   *sql.Stmt
	listAll    *sql.Stmt
	expireStmt *sql.Stmt
}

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	// Path is the database file.
	Path string

	// CheckpointInterval is how often the WAL is checkpointed (default: 5m).
	CheckpointInterval time.Duration

	// BusyTimeout is how long to wait on a locked database (default: 5s).
	BusyTimeout time.Duration
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS budget_buckets (
	bucket_key        TEXT PRIMARY KEY,
	target            TEXT NOT NULL,
	period            TEXT NOT NULL,
	period_start      INTEGER NOT NULL,
	period_end        INTEGER NOT NULL,
	feature           TEXT NOT NULL DEFAULT '',
	action            TEXT NOT NULL DEFAULT '',
	actions           INTEGER NOT NULL DEFAULT 0,
	spend             INTEGER NOT NULL DEFAULT 0,
	db_writes         INTEGER NOT NULL DEFAULT 0,
	content_mutations INTEGER NOT NULL DEFAULT 0,
	updated_at        INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_budget_buckets_target ON budget_buckets(target);
CREATE INDEX IF NOT EXISTS idx_budget_buckets_period_end ON budget_buckets(period_end);
`

const bucketColumns = `bucket_key, target, period, period_start, period_end, feature, action,
	actions, spend, db_writes, content_mutations, updated_at`

// NewSQLiteBackend opens (or creates) a SQLite ledger database.
func NewSQLiteBackend(cfg SQLiteConfig) (*SQLiteBackend, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has a single writer; one connection also serialises reservations.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &SQLiteBackend{
		db:                 db,
		checkpointInterval: cfg.CheckpointInterval,
		done:               make(chan struct{}),
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	s.wg.Add(1)
	go s.checkpointLoop()

	return s, nil
}

func (s *SQLiteBackend) prepareStatements() error {
	var err error

	s.getStmt, err = s.db.Prepare(`SELECT ` + bucketColumns + ` FROM budget_buckets WHERE bucket_key = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare get statement: %w", err)
	}

	s.addStmt, err = s.db.Prepare(`
		INSERT INTO budget_buckets (` + bucketColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, max(?, 0), max(?, 0), max(?, 0), max(?, 0), ?)
		ON CONFLICT (bucket_key) DO UPDATE SET
			actions           = max(actions + ?, 0),
			spend             = max(spend + ?, 0),
			db_writes         = max(db_writes + ?, 0),
			content_mutations = max(content_mutations + ?, 0),
			feature           = CASE WHEN excluded.feature = '' THEN feature ELSE excluded.feature END,
			action            = CASE WHEN excluded.action = '' THEN action ELSE excluded.action END,
			updated_at        = excluded.updated_at
		RETURNING ` + bucketColumns)
	if err != nil {
		return fmt.Errorf("failed to prepare add statement: %w", err)
	}

	s.listStmt, err = s.db.Prepare(`SELECT ` + bucketColumns + ` FROM budget_buckets WHERE target = ? ORDER BY bucket_key`)
	if err != nil {
		return fmt.Errorf("failed to prepare list statement: %w", err)
	}

	s.listAll, err = s.db.Prepare(`SELECT ` + bucketColumns + ` FROM budget_buckets ORDER BY bucket_key`)
	if err != nil {
		return fmt.Errorf("failed to prepare list-all statement: %w", err)
	}

	s.expireStmt, err = s.db.Prepare(`DELETE FROM budget_buckets WHERE period_end < ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare expire statement: %w", err)
	}

	return nil
}

// Get returns the bucket for key.
func (s *SQLiteBackend) Get(ctx context.Context, key string) (*Bucket, error) {
	b, err := scanBucket(s.getStmt.QueryRowContext(ctx, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load bucket: %w", err)
	}
	return b, nil
}

// Add applies delta with a single upsert.
func (s *SQLiteBackend) Add(ctx context.Context, b *Bucket, delta Counters) (*Bucket, error) {
	if err := validateBucket(b); err != nil {
		return nil, err
	}
	out, err := scanBucket(s.addStmt.QueryRowContext(ctx, addArgs(b, delta)...))
	if err != nil {
		return nil, fmt.Errorf("failed to add to bucket: %w", err)
	}
	return out, nil
}

// Reserve checks and applies the reservation inside one transaction.
func (s *SQLiteBackend) Reserve(ctx context.Context, reservations []Reservation, delta Counters) (*ReserveResult, error) {
	for _, r := range reservations {
		if err := validateBucket(r.Bucket); err != nil {
			return nil, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	getStmt := tx.StmtContext(ctx, s.getStmt)
	current := make([]*Bucket, len(reservations))
	result := &ReserveResult{Denied: -1}

	for i, r := range reservations {
		b, err := scanBucket(getStmt.QueryRowContext(ctx, r.Bucket.Key))
		switch {
		case errors.Is(err, sql.ErrNoRows):
			empty := *r.Bucket
			empty.Counters = Counters{}
			b = &empty
		case err != nil:
			return nil, fmt.Errorf("failed to load bucket: %w", err)
		}
		current[i] = b

		if r.Limit != nil && result.Denied == -1 {
			if exceeded := b.Counters.Exceeds(delta, *r.Limit); len(exceeded) > 0 {
				result.Denied = i
				result.Exceeded = exceeded
			}
		}
	}

	if result.Denied != -1 {
		result.Buckets = current
		return result, nil
	}

	addStmt := tx.StmtContext(ctx, s.addStmt)
	result.Buckets = make([]*Bucket, len(reservations))
	for i, r := range reservations {
		b, err := scanBucket(addStmt.QueryRowContext(ctx, addArgs(r.Bucket, delta)...))
		if err != nil {
			return nil, fmt.Errorf("failed to add to bucket: %w", err)
		}
		result.Buckets[i] = b
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reservation: %w", err)
	}
	result.Granted = true
	return result, nil
}

// List returns the buckets for target, or all buckets when target is empty.
func (s *SQLiteBackend) List(ctx context.Context, target string) ([]*Bucket, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if target == "" {
		rows, err = s.listAll.QueryContext(ctx)
	} else {
		rows, err = s.listStmt.QueryContext(ctx, target)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list buckets: %w", err)
	}
	defer rows.Close()

	var out []*Bucket
	for rows.Next() {
		b, err := scanBucket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

// DeleteExpired removes ended buckets.
func (s *SQLiteBackend) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	res, err := s.expireStmt.ExecContext(ctx, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired buckets: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// Close stops the checkpoint loop and closes the database. It is safe to call
// more than once.
func (s *SQLiteBackend) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()

		for _, stmt := range []*sql.Stmt{s.getStmt, s.addStmt, s.listStmt, s.listAll, s.expireStmt} {
			if stmt != nil {
				stmt.Close()
			}
		}

		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		closeErr = s.db.Close()
	})
	return closeErr
}

func (s *SQLiteBackend) checkpointLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
		case <-s.done:
			return
		}
	}
}

func addArgs(b *Bucket, delta Counters) []any {
	updated := b.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	return []any{
		b.Key, b.Target, b.Period, b.PeriodStart.Unix(), b.PeriodEnd.Unix(), b.Feature, b.Action,
		delta.Actions, delta.Spend, delta.DBWrites, delta.ContentMutations, updated.UnixNano(),
		delta.Actions, delta.Spend, delta.DBWrites, delta.ContentMutations,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBucket(row rowScanner) (*Bucket, error) {
	var (
		b              Bucket
		start, end, up int64
	)
	err := row.Scan(
		&b.Key, &b.Target, &b.Period, &start, &end, &b.Feature, &b.Action,
		&b.Actions, &b.Spend, &b.DBWrites, &b.ContentMutations, &up,
	)
	if err != nil {
		return nil, err
	}
	b.PeriodStart = time.Unix(start, 0)
	b.PeriodEnd = time.Unix(end, 0)
	b.UpdatedAt = time.Unix(0, up)
	return &b, nil
}
