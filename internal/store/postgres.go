package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/relayq/relayq/internal/data/database"
	"github.com/relayq/relayq/internal/data/pgxutil"
	"github.com/relayq/relayq/internal/domain"
	"github.com/relayq/relayq/internal/domain/model"
)

const tasksTable = "tasks"

// uniqueViolation is the Postgres SQLSTATE for a unique_violation.
const uniqueViolation = "23505"

// PostgresStore implements Store against a Postgres "tasks" table, for
// deployments that need the task record to survive a monitor restart
// (spec §4.2, "must be implementable by in-memory or external backend").
type PostgresStore struct {
	db    *sql.DB
	hooks Hooks
}

// NewPostgresStore wraps db. db should be opened against the pgx stdlib
// driver (github.com/jackc/pgx/v5/stdlib).
func NewPostgresStore(db *sql.DB, hooks Hooks) *PostgresStore {
	return &PostgresStore{db: db, hooks: hooks}
}

func (s *PostgresStore) Create(ctx context.Context, t *model.Task) error {
	argsJSON, err := json.Marshal(t.Args)
	if err != nil {
		return fmt.Errorf("store: marshal args: %w", err)
	}
	kwargsJSON, err := json.Marshal(t.Kwargs)
	if err != nil {
		return fmt.Errorf("store: marshal kwargs: %w", err)
	}

	err = pgxutil.WithSQLTx(ctx, s.db, pgxutil.SQLTxConfig{Fn: func(tx *sql.Tx) error {
		_, execErr := tx.ExecContext(ctx, `
			INSERT INTO tasks (
				id, name, args, kwargs, status, time_executed, expiry,
				timeout_seconds, from_task, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			t.ID, t.Name, argsJSON, kwargsJSON, string(t.Status), t.TimeExecuted, t.Expiry,
			int(t.Timeout/time.Second), t.FromTask, t.CreatedAt, t.UpdatedAt,
		)
		return execErr
	}})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("store: create %s: %w", t.ID, model.ErrDuplicate)
		}
		return fmt.Errorf("store: create %s: %w", t.ID, err)
	}

	s.hooks.fireCreated(ctx, t)
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: get %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", id, err)
	}
	return t, nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, patch Patch) (*model.Task, error) {
	var result *model.Task

	err := pgxutil.WithSQLTx(ctx, s.db, pgxutil.SQLTxConfig{Fn: func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, selectColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, id)
		existing, scanErr := scanTask(row)
		if errors.Is(scanErr, sql.ErrNoRows) {
			return fmt.Errorf("store: update %s: %w", id, model.ErrNotFound)
		}
		if scanErr != nil {
			return scanErr
		}

		if existing.Status.IsTerminal() {
			return fmt.Errorf("store: update %s: terminal task is immutable: %w", id, model.ErrIllegalTransition)
		}
		if patch.IfStatus != "" && existing.Status != patch.IfStatus {
			return fmt.Errorf("store: update %s: expected status %s, found %s: %w", id, patch.IfStatus, existing.Status, model.ErrIllegalTransition)
		}
		if patch.Status != "" && patch.Status != existing.Status {
			if err := domain.Validate(existing.Status, patch.Status); err != nil {
				return fmt.Errorf("store: update %s: %w", id, err)
			}
		}

		now := time.Now()
		applyPatch(existing, patch)
		if existing.Status.IsTerminal() && existing.TimeEnd == nil {
			existing.TimeEnd = &now
		}
		existing.UpdatedAt = now

		resultJSON, err := json.Marshal(existing.Result)
		if err != nil {
			return fmt.Errorf("store: marshal result: %w", err)
		}

		_, execErr := tx.ExecContext(ctx, `
			UPDATE tasks SET
				status = $1, time_start = $2, time_end = $3, result = $4,
				revoke_reason = $5, last_error = $6, retry_count = $7, updated_at = $8
			WHERE id = $9`,
			string(existing.Status), existing.TimeStart, existing.TimeEnd, resultJSON,
			nullableString(string(existing.RevokeReason)), nullableString(existing.LastError),
			existing.RetryCount, existing.UpdatedAt, id,
		)
		if execErr != nil {
			return execErr
		}

		result = existing
		return nil
	}})
	if err != nil {
		return nil, err
	}

	switch patch.Status {
	case model.StatusReceived:
		s.hooks.fireReceived(ctx, result)
	case model.StatusStarted:
		s.hooks.fireStart(ctx, result)
	}
	if result.Status.IsTerminal() {
		s.hooks.fireFinish(ctx, result)
	}

	return result, nil
}

func applyPatch(t *model.Task, patch Patch) {
	if patch.Status != "" {
		t.Status = patch.Status
	}
	if patch.TimeStart != nil {
		t.TimeStart = patch.TimeStart
	}
	if patch.TimeEnd != nil {
		t.TimeEnd = patch.TimeEnd
	}
	if patch.Result != nil {
		t.Result = *patch.Result
	}
	if patch.RevokeReason != nil {
		t.RevokeReason = *patch.RevokeReason
	}
	if patch.LastError != nil {
		t.LastError = *patch.LastError
	}
	if patch.RetryCount != nil {
		t.RetryCount = *patch.RetryCount
	}
}

// Filter lists tasks matching f's non-zero attribute-equality predicates,
// built via the generic query_builder rather than hand-written SQL, the way
// the teacher's repositories assemble admin list queries.
func (s *PostgresStore) Filter(ctx context.Context, f Filter) ([]*model.Task, error) {
	opts := []database.ListQueryOption{
		database.WithColumns(taskColumns...),
		database.WithOrderBy("created_at", "ASC"),
	}
	var conds []database.Condition
	if f.Name != "" {
		conds = append(conds, database.WhereCond("name", database.Equal, f.Name))
	}
	if f.Status != "" {
		conds = append(conds, database.WhereCond("status", database.Equal, string(f.Status)))
	}
	if f.FromTask != "" {
		conds = append(conds, database.WhereCond("from_task", database.Equal, f.FromTask))
	}
	if len(conds) > 0 {
		opts = append(opts, database.WithConditions(conds...))
	}

	query, args := database.BuildListQuery(database.NewListQueryOptions(tasksTable, opts...))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: filter: %w", err)
	}
	defer rows.Close()

	var out []*model.Task
	for rows.Next() {
		t, scanErr := scanTaskRows(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("store: filter scan: %w", scanErr)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := fmt.Sprintf(`DELETE FROM tasks WHERE id IN (%s)`, strings.Join(placeholders, ", "))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("store: delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: delete: %w", err)
	}
	return int(n), nil
}

// pollInterval governs WaitForTerminal's polling cadence against an
// out-of-process store, per spec §5's "awaiting a store update round-trip
// when the store is out-of-process" suspension point.
const pollInterval = 100 * time.Millisecond

func (s *PostgresStore) WaitForTerminal(ctx context.Context, id string, timeout time.Duration) (*model.Task, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		t, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if t.Status.IsTerminal() {
			return t, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("store: wait_for_terminal %s: %w", id, model.ErrTimeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// taskColumns is the tasks table's column list, in scan order. Filter feeds
// it to database.WithColumns so its generated SELECT matches selectColumns
// below rather than relying on a default "SELECT *" sliced apart by hand.
var taskColumns = []string{
	"id", "name", "args", "kwargs", "status", "time_executed", "time_start", "time_end",
	"expiry", "timeout_seconds", "result", "revoke_reason", "last_error", "retry_count",
	"from_task", "created_at", "updated_at",
}

const selectColumns = `SELECT id, name, args, kwargs, status, time_executed, time_start, time_end,
	expiry, timeout_seconds, result, revoke_reason, last_error, retry_count, from_task, created_at, updated_at`

type scannable interface {
	Scan(dest ...any) error
}

func scanTask(row scannable) (*model.Task, error) {
	return scanTaskRows(row)
}

func scanTaskRows(row scannable) (*model.Task, error) {
	var (
		t              model.Task
		argsJSON       []byte
		kwargsJSON     []byte
		status         string
		timeoutSeconds int
		resultJSON     []byte
		timeStart      sql.NullTime
		timeEnd        sql.NullTime
		revokeReason   sql.NullString
		lastError      sql.NullString
		fromTask       sql.NullString
	)

	if err := row.Scan(
		&t.ID, &t.Name, &argsJSON, &kwargsJSON, &status, &t.TimeExecuted, &timeStart, &timeEnd,
		&t.Expiry, &timeoutSeconds, &resultJSON, &revokeReason, &lastError, &t.RetryCount, &fromTask,
		&t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}

	t.Status = model.Status(status)
	t.Timeout = time.Duration(timeoutSeconds) * time.Second
	t.Result = resultJSON
	if timeStart.Valid {
		t.TimeStart = &timeStart.Time
	}
	if timeEnd.Valid {
		t.TimeEnd = &timeEnd.Time
	}
	if revokeReason.Valid {
		t.RevokeReason = model.RevokeReason(revokeReason.String)
	}
	if lastError.Valid {
		t.LastError = lastError.String
	}
	if fromTask.Valid {
		ft := fromTask.String
		t.FromTask = &ft
	}
	if len(argsJSON) > 0 {
		if err := json.Unmarshal(argsJSON, &t.Args); err != nil {
			return nil, fmt.Errorf("unmarshal args: %w", err)
		}
	}
	if len(kwargsJSON) > 0 {
		if err := json.Unmarshal(kwargsJSON, &t.Kwargs); err != nil {
			return nil, fmt.Errorf("unmarshal kwargs: %w", err)
		}
	}
	return &t, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ Store = (*PostgresStore)(nil)
