package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sudosu4pp/multi-chain-zk-back/internal/op"
)

const entryColumns = `id, parent_id, position, revision, op, state, tag, not_before, fail_kind, last_error, created_at, updated_at`

// SQLite is a Store backed by the op_queue table.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite wraps a database opened with storage.OpenSQLite.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db, now: time.Now}
}

func (s *SQLite) Insert(ctx context.Context, e *Entry) (*Entry, bool, error) {
	if e.ID == "" {
		return nil, false, fmt.Errorf("entry id is empty")
	}
	in := prepareInsert(e, s.now().UTC())
	opJSON, err := json.Marshal(in.Op)
	if err != nil {
		return nil, false, fmt.Errorf("encode op: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
INSERT INTO op_queue(`+entryColumns+`)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING;
`, in.ID, nullString(string(in.ParentID)), in.Position, in.Revision, string(opJSON), in.State,
		nullString(in.Tag), nullTime(in.NotBefore), nullString(string(in.FailKind)), nullString(in.LastError),
		formatTime(in.CreatedAt), formatTime(in.UpdatedAt))
	if err != nil {
		return nil, false, fmt.Errorf("insert entry %s: %w", in.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("insert entry %s: %w", in.ID, err)
	}

	stored, err := s.Get(ctx, in.ID)
	if err != nil {
		return nil, false, err
	}
	return stored, n == 1, nil
}

func (s *SQLite) Get(ctx context.Context, id op.ID) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM op_queue WHERE id = ?;`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get entry %s: %w", id, err)
	}
	return e, nil
}

func (s *SQLite) CompareAndSwap(ctx context.Context, e *Entry, expected uint64) (*Entry, error) {
	opJSON, err := json.Marshal(e.Op)
	if err != nil {
		return nil, fmt.Errorf("encode op: %w", err)
	}
	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
UPDATE op_queue
SET parent_id = ?, position = ?, revision = revision + 1, op = ?, state = ?, tag = ?,
    not_before = ?, fail_kind = ?, last_error = ?, updated_at = ?
WHERE id = ? AND revision = ?
RETURNING `+entryColumns+`;
`, nullString(string(e.ParentID)), e.Position, string(opJSON), e.State, nullString(e.Tag),
		nullTime(e.NotBefore), nullString(string(e.FailKind)), nullString(e.LastError), formatTime(now),
		e.ID, expected)

	out, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		var cur uint64
		switch err := tx.QueryRowContext(ctx, `SELECT revision FROM op_queue WHERE id = ?;`, e.ID).Scan(&cur); {
		case errors.Is(err, sql.ErrNoRows):
			return nil, fmt.Errorf("%w: %s", ErrNotFound, e.ID)
		case err != nil:
			return nil, fmt.Errorf("load revision %s: %w", e.ID, err)
		}
		return nil, fmt.Errorf("%w: %s at %d, expected %d", op.ErrStaleRevision, e.ID, cur, expected)
	}
	if err != nil {
		return nil, fmt.Errorf("swap entry %s: %w", e.ID, err)
	}

	if out.State.Terminal() {
		_, err = tx.ExecContext(ctx, `
INSERT INTO op_log(id, revision, state, fail_kind, last_error, settled_at)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(id, revision) DO NOTHING;
`, out.ID, out.Revision, out.State, nullString(string(out.FailKind)), nullString(out.LastError), formatTime(now))
		if err != nil {
			return nil, fmt.Errorf("insert op_log: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return out, nil
}

func (s *SQLite) ListByState(ctx context.Context, state State, now time.Time, limit int) ([]*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM op_queue WHERE state = ?`
	args := []any{state}
	if !now.IsZero() {
		query += ` AND (not_before IS NULL OR not_before <= ?)`
		args = append(args, formatTime(now))
	}
	query += ` ORDER BY created_at ASC, rowid ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.query(ctx, query+";", args...)
}

func (s *SQLite) ListTagged(ctx context.Context) ([]*Entry, error) {
	return s.query(ctx, `SELECT `+entryColumns+` FROM op_queue WHERE tag IS NOT NULL ORDER BY created_at ASC, rowid ASC;`)
}

func (s *SQLite) Children(ctx context.Context, parent op.ID) ([]*Entry, error) {
	return s.query(ctx, `SELECT `+entryColumns+` FROM op_queue WHERE parent_id = ? ORDER BY position ASC, created_at ASC, rowid ASC;`, parent)
}

func (s *SQLite) Depth(ctx context.Context) (map[State]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM op_queue GROUP BY state;`)
	if err != nil {
		return nil, fmt.Errorf("queue depth: %w", err)
	}
	defer rows.Close()

	out := make(map[State]int)
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan depth: %w", err)
		}
		out[State(state)] = n
	}
	return out, rows.Err()
}

func (s *SQLite) PruneTerminal(ctx context.Context, cutoff time.Time) (int, error) {
	terminal := `'` + strings.Join([]string{string(StateSucceeded), string(StateFailed), string(StateSuperseded)}, `','`) + `'`
	res, err := s.db.ExecContext(ctx, `
DELETE FROM op_queue
WHERE state IN (`+terminal+`)
  AND updated_at < ?
  AND (parent_id IS NULL OR parent_id NOT IN (SELECT id FROM op_queue WHERE state NOT IN (`+terminal+`)));
`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune terminal entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune terminal entries: %w", err)
	}
	return int(n), nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) query(ctx context.Context, query string, args ...any) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e          Entry
		parentID   sql.NullString
		opJSON     string
		state      string
		tag        sql.NullString
		notBefore  sql.NullString
		failKind   sql.NullString
		lastError  sql.NullString
		createdAtS string
		updatedAtS string
	)
	if err := row.Scan(
		&e.ID, &parentID, &e.Position, &e.Revision, &opJSON, &state, &tag,
		&notBefore, &failKind, &lastError, &createdAtS, &updatedAtS,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(opJSON), &e.Op); err != nil {
		return nil, fmt.Errorf("decode op for %s: %w", e.ID, err)
	}

	e.State = State(state)
	if parentID.Valid {
		e.ParentID = op.ID(parentID.String)
	}
	if tag.Valid {
		e.Tag = tag.String
	}
	if notBefore.Valid {
		e.NotBefore = parseTime(notBefore.String)
	}
	if failKind.Valid {
		e.FailKind = FailKind(failKind.String)
	}
	if lastError.Valid {
		e.LastError = lastError.String
	}
	e.CreatedAt = parseTime(createdAtS)
	e.UpdatedAt = parseTime(updatedAtS)
	return &e, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}
