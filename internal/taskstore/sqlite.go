package taskstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/ArthurVigier/Cerastes-Public-API/pkg/types"
)

// SQLiteStore is the durable Store backed by SQLite in WAL mode.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite creates or opens the task database at dir/tasks.db.
// Enables WAL mode and a 5-second busy timeout.
func OpenSQLite(dir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dsn := filepath.Join(dir, "tasks.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	// SQLite is single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id                TEXT PRIMARY KEY,
			kind              TEXT NOT NULL,
			owner             TEXT NOT NULL,
			state             TEXT NOT NULL,
			payload           TEXT,
			result            TEXT,
			error             TEXT,
			plain_explanation TEXT NOT NULL DEFAULT '',
			progress          REAL NOT NULL DEFAULT 0,
			message           TEXT NOT NULL DEFAULT '',
			created_at        INTEGER NOT NULL,
			started_at        INTEGER,
			completed_at      INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_owner_created ON tasks(owner, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_state ON tasks(state)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, kind types.TaskKind, owner string, payload json.RawMessage) (types.Task, error) {
	t := types.Task{
		ID:        uuid.NewString(),
		Kind:      kind,
		Owner:     owner,
		State:     types.StatePending,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, kind, owner, state, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, string(t.Kind), t.Owner, string(t.State), nullableJSON(t.Payload), t.CreatedAt.UnixNano(),
	)
	if err != nil {
		return types.Task{}, fmt.Errorf("insert task: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (types.Task, error) {
	row := s.db.QueryRowContext(ctx, selectCols+` WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return types.Task{}, notFoundError{id: id}
	}
	return t, err
}

// Update applies the patch inside one transaction: read, validate against the
// state machine, write back. MaxOpenConns(1) keeps writers serialized.
func (s *SQLiteStore) Update(ctx context.Context, id string, p Patch) (types.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Task{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, selectCols+` WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return types.Task{}, notFoundError{id: id}
	}
	if err != nil {
		return types.Task{}, err
	}
	if err := applyPatch(&t, p, time.Now()); err != nil {
		return types.Task{}, err
	}

	var errJSON any
	if t.Error != nil {
		b, err := json.Marshal(t.Error)
		if err != nil {
			return types.Task{}, fmt.Errorf("marshal error field: %w", err)
		}
		errJSON = string(b)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE tasks SET state = ?, result = ?, error = ?, plain_explanation = ?,
		 progress = ?, message = ?, started_at = ?, completed_at = ? WHERE id = ?`,
		string(t.State), nullableJSON(t.Result), errJSON, t.PlainExplanation,
		t.Progress, t.Message, nullableTime(t.StartedAt), nullableTime(t.CompletedAt), id,
	)
	if err != nil {
		return types.Task{}, fmt.Errorf("update task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return types.Task{}, fmt.Errorf("commit: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) List(ctx context.Context, owner string, f Filter) ([]types.Task, string, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	q := selectCols + ` WHERE 1=1`
	args := []any{}
	if owner != "" {
		q += ` AND owner = ?`
		args = append(args, owner)
	}
	if f.Kind != "" {
		q += ` AND kind = ?`
		args = append(args, string(f.Kind))
	}
	if f.State != "" {
		q += ` AND state = ?`
		args = append(args, string(f.State))
	}
	if f.Cursor != "" {
		nano, id, err := decodeCursor(f.Cursor)
		if err != nil {
			return nil, "", err
		}
		q += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
		args = append(args, nano, nano, id)
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, "", err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	next := ""
	if len(tasks) > limit {
		tasks = tasks[:limit]
		last := tasks[len(tasks)-1]
		next = encodeCursor(last.CreatedAt, last.ID)
	}
	return tasks, next, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id, owner string) error {
	q := `DELETE FROM tasks WHERE id = ?`
	args := []any{id}
	if owner != "" {
		q += ` AND owner = ?`
		args = append(args, owner)
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFoundError{id: id}
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

const selectCols = `SELECT id, kind, owner, state, payload, result, error,
	plain_explanation, progress, message, created_at, started_at, completed_at FROM tasks`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (types.Task, error) {
	var (
		t                  types.Task
		kind, owner, state string
		payload, result    sql.NullString
		errJSON            sql.NullString
		createdNano        int64
		startedNano        sql.NullInt64
		completedNano      sql.NullInt64
	)
	err := row.Scan(&t.ID, &kind, &owner, &state, &payload, &result, &errJSON,
		&t.PlainExplanation, &t.Progress, &t.Message, &createdNano, &startedNano, &completedNano)
	if err == sql.ErrNoRows {
		return types.Task{}, err
	}
	if err != nil {
		return types.Task{}, fmt.Errorf("scan task: %w", err)
	}
	t.Kind = types.TaskKind(kind)
	t.Owner = owner
	t.State = types.TaskState(state)
	if payload.Valid {
		t.Payload = json.RawMessage(payload.String)
	}
	if result.Valid {
		t.Result = json.RawMessage(result.String)
	}
	if errJSON.Valid && errJSON.String != "" {
		var te types.TaskError
		if err := json.Unmarshal([]byte(errJSON.String), &te); err != nil {
			return types.Task{}, fmt.Errorf("unmarshal error field: %w", err)
		}
		t.Error = &te
	}
	t.CreatedAt = time.Unix(0, createdNano)
	if startedNano.Valid {
		ts := time.Unix(0, startedNano.Int64)
		t.StartedAt = &ts
	}
	if completedNano.Valid {
		ts := time.Unix(0, completedNano.Int64)
		t.CompletedAt = &ts
	}
	return t, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}
