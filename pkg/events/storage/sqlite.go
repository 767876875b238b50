package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/events"
)

// SQLiteConfig contains configuration for the SQLite event store.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections.
	// Default: 10
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int

	// WALMode enables Write-Ahead Logging.
	// Default: true
	WALMode bool

	// BusyTimeout is how long to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:         "data/events.db",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// SQLiteStorage implements events.Store on SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	config *SQLiteConfig
	logger *slog.Logger
}

// NewSQLiteStorage opens the database and creates the schema.
func NewSQLiteStorage(config *SQLiteConfig) (*SQLiteStorage, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}

	logger := slog.Default().With("component", "events.storage.sqlite")

	db, err := sql.Open("sqlite3", dsn(config))
	if err != nil {
		return nil, events.NewStorageError("sqlite", "open", err)
	}
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}

	s := &SQLiteStorage{db: db, config: config, logger: logger}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("SQLite event store initialized",
		"path", config.Path,
		"wal_mode", config.WALMode,
		"max_open_conns", config.MaxOpenConns,
	)
	return s, nil
}

// dsn carries the pragmas in the connection string so every pooled
// connection gets them.
func dsn(config *SQLiteConfig) string {
	params := fmt.Sprintf("_busy_timeout=%d", config.BusyTimeout.Milliseconds())
	if config.WALMode {
		params += "&_journal_mode=WAL"
	}
	return fmt.Sprintf("file:%s?%s", config.Path, params)
}

func (s *SQLiteStorage) initialize() error {
	if _, err := s.db.Exec(Schema); err != nil {
		return events.NewStorageError("sqlite", "create_schema", err)
	}
	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return events.NewStorageError("sqlite", "insert_schema_version", err)
	}

	var version int
	if err := s.db.QueryRow(GetSchemaVersion).Scan(&version); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return events.NewStorageError("sqlite", "get_schema_version", err)
	}
	if version != SchemaVersion {
		return events.NewStorageError("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}
	return nil
}

// Append inserts a new event.
func (s *SQLiteStorage) Append(ctx context.Context, e *events.Event) error {
	data, err := marshalNullable(e.Data)
	if err != nil {
		return events.NewStorageError("sqlite", "append", err)
	}
	var outcome any
	if e.Outcome != nil {
		if outcome, err = marshalNullable(e.Outcome); err != nil {
			return events.NewStorageError("sqlite", "append", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO governance_events (id, type, ts, source, feature, action, team, data, outcome, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Type), e.Timestamp.UnixNano(), string(e.Source), e.Feature,
		nullString(e.Action), nullString(e.Team), data, outcome, e.Version,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return events.NewStorageError("sqlite", "append", events.ErrDuplicateID)
		}
		return events.NewStorageError("sqlite", "append", err)
	}
	return nil
}

// Get returns a single event.
func (s *SQLiteStorage) Get(ctx context.Context, id string) (*events.Event, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, events.ErrNotFound
	}
	if err != nil {
		return nil, events.NewStorageError("sqlite", "get", err)
	}
	return e, nil
}

const selectColumns = `SELECT id, type, ts, source, feature, action, team, data, outcome, version FROM governance_events`

// Query returns events matching q.
func (s *SQLiteStorage) Query(ctx context.Context, q *events.Query) ([]*events.Event, error) {
	where, args := buildWhereClause(q)

	sqlQuery := selectColumns
	if where != "" {
		sqlQuery += " WHERE " + where
	}

	order := "ASC"
	if q != nil && q.Descending {
		order = "DESC"
	}
	sqlQuery += fmt.Sprintf(" ORDER BY ts %s, id %s", order, order)

	if q != nil && q.Limit > 0 {
		sqlQuery += fmt.Sprintf(" LIMIT %d", q.Limit)
		if q.Offset > 0 {
			sqlQuery += fmt.Sprintf(" OFFSET %d", q.Offset)
		}
	} else if q != nil && q.Offset > 0 {
		sqlQuery += fmt.Sprintf(" LIMIT -1 OFFSET %d", q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, events.NewStorageError("sqlite", "query", err)
	}
	defer rows.Close()

	results := []*events.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, events.NewStorageError("sqlite", "scan", err)
		}
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, events.NewStorageError("sqlite", "query", err)
	}
	return results, nil
}

// Count returns the number of matching events.
func (s *SQLiteStorage) Count(ctx context.Context, q *events.Query) (int64, error) {
	where, args := buildWhereClause(q)
	sqlQuery := "SELECT COUNT(*) FROM governance_events"
	if where != "" {
		sqlQuery += " WHERE " + where
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, sqlQuery, args...).Scan(&n); err != nil {
		return 0, events.NewStorageError("sqlite", "count", err)
	}
	return n, nil
}

// UpdateOutcome replaces the outcome with a compare-and-set on version.
func (s *SQLiteStorage) UpdateOutcome(ctx context.Context, id string, outcome *events.Outcome, expectedVersion int64) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return events.NewStorageError("sqlite", "update_outcome", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE governance_events SET outcome = ?, version = version + 1 WHERE id = ? AND version = ?`,
		string(data), id, expectedVersion,
	)
	if err != nil {
		return events.NewStorageError("sqlite", "update_outcome", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return events.NewStorageError("sqlite", "update_outcome", err)
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM governance_events WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return events.ErrNotFound
	}
	if err != nil {
		return events.NewStorageError("sqlite", "update_outcome", err)
	}
	return events.ErrVersionConflict
}

// DeleteBefore removes events older than before.
func (s *SQLiteStorage) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM governance_events WHERE ts < ?`, before.UnixNano())
	if err != nil {
		return 0, events.NewStorageError("sqlite", "delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, events.NewStorageError("sqlite", "delete", err)
	}
	return n, nil
}

// Ping checks the database connection.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	if err := s.db.Close(); err != nil {
		return events.NewStorageError("sqlite", "close", err)
	}
	s.logger.Info("SQLite event store closed")
	return nil
}

// buildWhereClause builds a WHERE clause (without the keyword) from q.
func buildWhereClause(q *events.Query) (string, []any) {
	if q == nil {
		return "", nil
	}

	var conditions []string
	var args []any

	if len(q.IDs) > 0 {
		conditions = append(conditions, "id IN ("+placeholders(len(q.IDs))+")")
		for _, id := range q.IDs {
			args = append(args, id)
		}
	}
	if len(q.Types) > 0 {
		conditions = append(conditions, "type IN ("+placeholders(len(q.Types))+")")
		for _, t := range q.Types {
			args = append(args, string(t))
		}
	}
	if q.Feature != "" {
		conditions = append(conditions, "feature = ?")
		args = append(args, q.Feature)
	}
	if q.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, q.Action)
	}
	if q.Team != "" {
		conditions = append(conditions, "team = ?")
		args = append(args, q.Team)
	}
	if !q.Since.IsZero() {
		conditions = append(conditions, "ts >= ?")
		args = append(args, q.Since.UnixNano())
	}
	if !q.Until.IsZero() {
		conditions = append(conditions, "ts < ?")
		args = append(args, q.Until.UnixNano())
	}
	if q.OnlyWithOutcome {
		conditions = append(conditions, "outcome IS NOT NULL")
	}

	return strings.Join(conditions, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*events.Event, error) {
	var (
		e             events.Event
		typ, source   string
		ts            int64
		action, team  sql.NullString
		data, outcome sql.NullString
	)
	if err := row.Scan(&e.ID, &typ, &ts, &source, &e.Feature, &action, &team, &data, &outcome, &e.Version); err != nil {
		return nil, err
	}

	e.Type = events.EventType(typ)
	e.Source = events.Source(source)
	e.Timestamp = time.Unix(0, ts).UTC()
	e.Action = action.String
	e.Team = team.String

	if data.Valid && data.String != "" {
		dec := json.NewDecoder(strings.NewReader(data.String))
		dec.UseNumber()
		if err := dec.Decode(&e.Data); err != nil {
			return nil, fmt.Errorf("decode data: %w", err)
		}
	}
	if outcome.Valid && outcome.String != "" {
		e.Outcome = &events.Outcome{}
		if err := json.Unmarshal([]byte(outcome.String), e.Outcome); err != nil {
			return nil, fmt.Errorf("decode outcome: %w", err)
		}
	}
	return &e, nil
}

func marshalNullable(v any) (any, error) {
	if m, ok := v.(map[string]any); ok && len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
