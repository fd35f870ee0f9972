package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			task_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			priority INTEGER NOT NULL,
			status INTEGER NOT NULL,
			tags TEXT[] NOT NULL DEFAULT '{}',
			is_favorite BOOLEAN NOT NULL DEFAULT FALSE,
			due_date TIMESTAMPTZ NULL,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (user_id, task_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_user_created ON tasks (user_id, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS queue_entries (
			user_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			task_id TEXT NOT NULL,
			added_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (user_id, position)
		);`,
		`CREATE TABLE IF NOT EXISTS undo_operations (
			user_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			task_id TEXT NOT NULL,
			previous_state JSONB NULL,
			new_state JSONB NULL,
			recorded_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (user_id, seq)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveTask(ctx context.Context, task Task) error {
	tags := task.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tasks (
			task_id, user_id, title, description, priority, status, tags, is_favorite, due_date, created_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
		)
		ON CONFLICT (user_id, task_id) DO UPDATE SET
			title=EXCLUDED.title,
			description=EXCLUDED.description,
			priority=EXCLUDED.priority,
			status=EXCLUDED.status,
			tags=EXCLUDED.tags,
			is_favorite=EXCLUDED.is_favorite,
			due_date=EXCLUDED.due_date,
			created_at=EXCLUDED.created_at`,
		task.ID,
		task.UserID,
		task.Title,
		task.Description,
		int(task.Priority),
		int(task.Status),
		tags,
		task.IsFavorite,
		task.DueDate,
		task.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, userID, taskID string) (Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT task_id, user_id, title, description, priority, status, tags, is_favorite, due_date, created_at
		   FROM tasks WHERE user_id=$1 AND task_id=$2`,
		userID, taskID,
	)
	task, err := scanTask(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Task{}, ErrStoreNotFound
		}
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

func (s *PostgresStore) DeleteTask(ctx context.Context, userID, taskID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM tasks WHERE user_id=$1 AND task_id=$2`, userID, taskID,
	); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, userID string) ([]Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT task_id, user_id, title, description, priority, status, tags, is_favorite, due_date, created_at
		   FROM tasks WHERE user_id=$1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	out := make([]Task, 0, 16)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) LoadQueue(ctx context.Context, userID string) ([]QueueEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT position, task_id, added_at
		   FROM queue_entries WHERE user_id=$1 ORDER BY position ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	defer rows.Close()

	out := make([]QueueEntry, 0, 8)
	for rows.Next() {
		var entry QueueEntry
		if err := rows.Scan(&entry.Position, &entry.TaskID, &entry.AddedAt); err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue entries: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SaveQueue(ctx context.Context, userID string, entries []QueueEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM queue_entries WHERE user_id=$1`, userID); err != nil {
		return fmt.Errorf("delete prior queue: %w", err)
	}
	for _, entry := range entries {
		if _, err := tx.Exec(ctx,
			`INSERT INTO queue_entries (user_id, position, task_id, added_at) VALUES ($1,$2,$3,$4)`,
			userID, entry.Position, entry.TaskID, entry.AddedAt,
		); err != nil {
			return fmt.Errorf("insert queue entry: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) QueueOwners(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT user_id FROM queue_entries`)
	if err != nil {
		return nil, fmt.Errorf("list queue owners: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0, 8)
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan queue owner: %w", err)
		}
		out = append(out, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue owners: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) LoadHistory(ctx context.Context, userID string) ([]Operation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT kind, task_id, previous_state, new_state, recorded_at
		   FROM undo_operations WHERE user_id=$1 ORDER BY seq ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	out := make([]Operation, 0, 8)
	for rows.Next() {
		var (
			op       Operation
			kind     string
			prevJSON []byte
			newJSON  []byte
		)
		if err := rows.Scan(&kind, &op.TaskID, &prevJSON, &newJSON, &op.Timestamp); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		op.Kind = OperationKind(kind)
		if op.PreviousState, err = decodeSnapshot(prevJSON); err != nil {
			return nil, err
		}
		if op.NewState, err = decodeSnapshot(newJSON); err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SaveHistory(ctx context.Context, userID string, ops []Operation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM undo_operations WHERE user_id=$1`, userID); err != nil {
		return fmt.Errorf("delete prior history: %w", err)
	}
	for i, op := range ops {
		prevJSON, err := encodeSnapshot(op.PreviousState)
		if err != nil {
			return err
		}
		newJSON, err := encodeSnapshot(op.NewState)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO undo_operations (user_id, seq, kind, task_id, previous_state, new_state, recorded_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			userID, i+1, string(op.Kind), op.TaskID, prevJSON, newJSON, op.Timestamp,
		); err != nil {
			return fmt.Errorf("insert operation: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanTask(row pgx.Row) (Task, error) {
	var (
		task        Task
		priority    int
		status      int
		tags        []string
		dueNullable *time.Time
	)
	if err := row.Scan(
		&task.ID,
		&task.UserID,
		&task.Title,
		&task.Description,
		&priority,
		&status,
		&tags,
		&task.IsFavorite,
		&dueNullable,
		&task.CreatedAt,
	); err != nil {
		return Task{}, err
	}
	task.Priority = Priority(priority)
	task.Status = Status(status)
	task.Tags = tags
	task.DueDate = dueNullable
	return task, nil
}

func encodeSnapshot(t *Task) ([]byte, error) {
	if t == nil {
		return nil, nil
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return raw, nil
}

func decodeSnapshot(raw []byte) (*Task, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var t Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &t, nil
}
