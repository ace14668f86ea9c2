package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/wrannaman/agentdo/auth"
	"github.com/wrannaman/agentdo/board"
)

// SQLiteStore implements board.Store and auth.KeyStore over SQLite.
// The optimistic lock is the database's own row-level conditional update:
// every transition runs as UPDATE ... WHERE id = ? AND status = ?, and a
// zero RowsAffected is the verdict that the precondition no longer held.
type SQLiteStore struct {
	db      *sql.DB
	nowFunc func() time.Time
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	id              TEXT PRIMARY KEY,
	title           TEXT NOT NULL,
	description     TEXT NOT NULL DEFAULT '',
	input           TEXT,
	tags            TEXT NOT NULL DEFAULT '[]',
	requires_human  INTEGER NOT NULL DEFAULT 0,
	posted_by       TEXT NOT NULL DEFAULT '',
	budget_cents    INTEGER NOT NULL DEFAULT 0,
	callback_url    TEXT NOT NULL DEFAULT '',
	output_schema   TEXT,
	timeout_minutes INTEGER NOT NULL DEFAULT 60,
	status          TEXT NOT NULL DEFAULT 'open',
	claimed_by      TEXT NOT NULL DEFAULT '',
	claimed_at      TIMESTAMP,
	expires_at      TIMESTAMP,
	delivered_at    TIMESTAMP,
	result          TEXT,
	result_url      TEXT NOT NULL DEFAULT '',
	attempts        INTEGER NOT NULL DEFAULT 0,
	max_attempts    INTEGER NOT NULL DEFAULT 3,
	created_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_status_created ON tasks(status, created_at);
CREATE INDEX IF NOT EXISTS idx_tasks_expires ON tasks(status, expires_at);

CREATE TABLE IF NOT EXISTS api_keys (
	id         TEXT PRIMARY KEY,
	key        TEXT NOT NULL UNIQUE,
	email      TEXT NOT NULL DEFAULT '',
	ip_address TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
`

// NewSQLiteStore opens (creating if needed) a store at path.
// Use ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	// Serialized access sidesteps SQLITE_BUSY under concurrent writers;
	// the conditional updates stay correct regardless.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, nowFunc: time.Now}, nil
}

const taskColumns = `id, title, description, input, tags, requires_human, posted_by,
	budget_cents, callback_url, output_schema, timeout_minutes, status,
	claimed_by, claimed_at, expires_at, delivered_at, result, result_url,
	attempts, max_attempts, created_at, updated_at`

// Get retrieves a task by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*board.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, board.ErrNotFound
	}
	return task, err
}

// Insert stores a new task.
func (s *SQLiteStore) Insert(ctx context.Context, task *board.Task) error {
	tags, err := json.Marshal(task.Tags)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Title, task.Description, nullableJSON(task.Input),
		string(tags), boolToInt(task.RequiresHuman), task.PostedBy,
		task.BudgetCents, task.CallbackURL, nullableJSON(task.OutputSchema),
		task.TimeoutMinutes, string(task.Status),
		task.ClaimedBy, nullableTime(task.ClaimedAt), nullableTime(task.ExpiresAt),
		nullableTime(task.DeliveredAt), nullableJSON(task.Result), task.ResultURL,
		task.Attempts, task.MaxAttempts, task.CreatedAt.UTC(), task.UpdatedAt.UTC())
	return err
}

// UpdateWhere applies patch iff the row's status still equals expected.
func (s *SQLiteStore) UpdateWhere(ctx context.Context, id string, expected board.Status, patch board.Patch) (*board.Task, error) {
	sets := []string{"status = ?", "updated_at = ?"}
	args := []interface{}{string(patch.Status), s.nowFunc().UTC()}

	if patch.Attempts != nil {
		sets = append(sets, "attempts = ?")
		args = append(args, *patch.Attempts)
	}
	if patch.ClaimedBy != nil {
		sets = append(sets, "claimed_by = ?")
		args = append(args, *patch.ClaimedBy)
	}
	if patch.ClaimedAt != nil {
		sets = append(sets, "claimed_at = ?")
		args = append(args, patch.ClaimedAt.UTC())
	}
	if patch.ExpiresAt != nil {
		sets = append(sets, "expires_at = ?")
		args = append(args, patch.ExpiresAt.UTC())
	}
	if patch.DeliveredAt != nil {
		sets = append(sets, "delivered_at = ?")
		args = append(args, patch.DeliveredAt.UTC())
	}
	if patch.Result != nil {
		sets = append(sets, "result = ?")
		args = append(args, string(patch.Result))
	}
	if patch.ResultURL != nil {
		sets = append(sets, "result_url = ?")
		args = append(args, *patch.ResultURL)
	}
	if patch.ClearClaim {
		sets = append(sets, "claimed_by = ''", "claimed_at = NULL", "expires_at = NULL")
	}
	if patch.ClearDelivery {
		sets = append(sets, "delivered_at = NULL", "result = NULL", "result_url = ''")
	}
	if patch.ClearExpiry {
		sets = append(sets, "expires_at = NULL")
	}

	args = append(args, id, string(expected))
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ? AND status = ?`,
		args...)
	if err != nil {
		return nil, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// Distinguish a lost race from a missing row.
		var exists int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM tasks WHERE id = ?`, id).Scan(&exists); err != nil {
			return nil, err
		}
		if exists == 0 {
			return nil, board.ErrNotFound
		}
		return nil, board.ErrPreconditionFailed
	}

	return s.Get(ctx, id)
}

// List returns a page of matching tasks, newest first, plus the total.
// Tag overlap is filtered in Go after the status-filtered scan: tags live
// in a JSON column and the board's discovery is simple exact matching.
func (s *SQLiteStore) List(ctx context.Context, filter board.ListFilter) ([]*board.Task, int, error) {
	where := []string{"1=1"}
	var args []interface{}

	if filter.Status != "" && filter.Status != "all" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.RequiresHuman != nil {
		where = append(where, "requires_human = ?")
		args = append(args, boolToInt(*filter.RequiresHuman))
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE `+strings.Join(where, " AND ")+
			` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var matched []*board.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		if !task.HasTag(filter.Tags) {
			continue
		}
		matched = append(matched, task)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	total := len(matched)
	if filter.Offset >= total {
		return []*board.Task{}, total, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

// NextOpen returns the oldest open task matching the filter, or nil.
func (s *SQLiteStore) NextOpen(ctx context.Context, filter board.WorkFilter) (*board.Task, error) {
	where := []string{"status = 'open'"}
	var args []interface{}

	if filter.RequiresHuman != nil {
		where = append(where, "requires_human = ?")
		args = append(args, boolToInt(*filter.RequiresHuman))
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE `+strings.Join(where, " AND ")+
			` ORDER BY created_at ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		if task.HasTag(filter.Tags) {
			return task, nil
		}
	}
	return nil, rows.Err()
}

// ListExpired returns claimed tasks whose expires_at is at or before now.
func (s *SQLiteStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*board.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE status = 'claimed' AND expires_at IS NOT NULL AND expires_at <= ?
		 ORDER BY expires_at ASC LIMIT ?`, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stale []*board.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		stale = append(stale, task)
	}
	return stale, rows.Err()
}

// InsertKey stores a minted API key.
func (s *SQLiteStore) InsertKey(ctx context.Context, key *auth.Key) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, key, email, ip_address, created_at) VALUES (?, ?, ?, ?, ?)`,
		key.ID, key.Key, key.Email, key.IPAddress, key.CreatedAt.UTC())
	return err
}

// LookupKey resolves a presented API key.
func (s *SQLiteStore) LookupKey(ctx context.Context, key string) (*auth.Key, error) {
	var k auth.Key
	err := s.db.QueryRowContext(ctx,
		`SELECT id, key, email, ip_address, created_at FROM api_keys WHERE key = ?`,
		key).Scan(&k.ID, &k.Key, &k.Email, &k.IPAddress, &k.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, auth.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// Close shuts down the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanTask reads one task row.
func scanTask(row scanner) (*board.Task, error) {
	var (
		task                            board.Task
		input, outputSchema, result     sql.NullString
		tags                            string
		requiresHuman                   int
		claimedAt, expiresAt, delivered sql.NullTime
		status                          string
	)

	err := row.Scan(&task.ID, &task.Title, &task.Description, &input, &tags,
		&requiresHuman, &task.PostedBy, &task.BudgetCents, &task.CallbackURL,
		&outputSchema, &task.TimeoutMinutes, &status, &task.ClaimedBy,
		&claimedAt, &expiresAt, &delivered, &result, &task.ResultURL,
		&task.Attempts, &task.MaxAttempts, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return nil, err
	}

	task.Status = board.Status(status)
	task.RequiresHuman = requiresHuman != 0
	if err := json.Unmarshal([]byte(tags), &task.Tags); err != nil {
		return nil, fmt.Errorf("corrupt tags for task %s: %w", task.ID, err)
	}
	if input.Valid {
		task.Input = json.RawMessage(input.String)
	}
	if outputSchema.Valid {
		task.OutputSchema = json.RawMessage(outputSchema.String)
	}
	if result.Valid {
		task.Result = json.RawMessage(result.String)
	}
	if claimedAt.Valid {
		t := claimedAt.Time
		task.ClaimedAt = &t
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		task.ExpiresAt = &t
	}
	if delivered.Valid {
		t := delivered.Time
		task.DeliveredAt = &t
	}

	return &task, nil
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Ensure SQLiteStore satisfies both contracts.
var (
	_ board.Store   = (*SQLiteStore)(nil)
	_ auth.KeyStore = (*SQLiteStore)(nil)
)
