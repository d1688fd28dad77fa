// Package audit records every write dispatched to an adapter in the
// audit_logs table and reads the trail back.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultLimit = 50
	maxLimit     = 500

	// timeLayout sorts lexically in the same order as the instants.
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// Entry is one audited write.
type Entry struct {
	ID        string        `json:"id"`
	RequestID string        `json:"request_id,omitempty"`
	Adapter   string        `json:"adapter"`
	Path      string        `json:"path"`
	Method    string        `json:"method"`
	Source    string        `json:"source"`
	Status    int           `json:"status"`
	Error     string        `json:"error,omitempty"`
	Body      any           `json:"body,omitempty"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}

// Filter selects entries for List. Zero fields match everything.
type Filter struct {
	Adapter string
	Source  string
	Since   time.Time

	// FailedOnly keeps entries with a status of 400 or above.
	FailedOnly bool

	Limit  int // default 50, max 500
	Offset int
}

// ListResult is one page of entries, most recent first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Reader reads the audit trail.
type Reader interface {
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// Repository reads and writes the audit trail.
type Repository interface {
	Reader
	Create(ctx context.Context, e *Entry) error
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteRepository stores entries in SQLite.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a repository over db. The audit_logs table
// must exist.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Create inserts e, assigning ID and CreatedAt when empty.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now()
	}
	e.CreatedAt = e.CreatedAt.UTC()

	var body *string
	if e.Body != nil {
		b, err := json.Marshal(e.Body)
		if err != nil {
			return fmt.Errorf("marshalling audit body: %w", err)
		}
		s := string(b)
		body = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, request_id, adapter, path, method, source, status, error, body, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, nullableString(e.RequestID), e.Adapter, e.Path, e.Method, e.Source,
		e.Status, nullableString(e.Error), body, e.Duration.Milliseconds(),
		e.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting audit log: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	filter.Limit = min(filter.Limit, maxLimit)
	filter.Offset = max(filter.Offset, 0)

	var conditions []string
	var args []any
	if filter.Adapter != "" {
		conditions = append(conditions, "adapter = ?")
		args = append(args, filter.Adapter)
	}
	if filter.Source != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, filter.Source)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.Since.UTC().Format(timeLayout))
	}
	if filter.FailedOnly {
		conditions = append(conditions, "status >= 400")
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM audit_logs " + where //nolint:gosec // WHERE built from parameterised conditions
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit logs: %w", err)
	}

	query := `SELECT id, request_id, adapter, path, method, source, status, error, body, duration_ms, created_at
		FROM audit_logs ` + where + ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?` //nolint:gosec // WHERE built from parameterised conditions
	rows, err := r.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying audit logs: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit logs: %w", err)
	}

	return &ListResult{Entries: entries, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var e Entry
	var requestID, errMsg, body sql.NullString
	var durationMS int64
	var createdAt string

	if err := rows.Scan(&e.ID, &requestID, &e.Adapter, &e.Path, &e.Method, &e.Source,
		&e.Status, &errMsg, &body, &durationMS, &createdAt); err != nil {
		return Entry{}, fmt.Errorf("scanning audit log: %w", err)
	}
	e.RequestID = requestID.String
	e.Error = errMsg.String
	e.Duration = time.Duration(durationMS) * time.Millisecond
	if body.Valid && body.String != "" {
		var v any
		if json.Unmarshal([]byte(body.String), &v) == nil {
			e.Body = v
		}
	}

	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing audit log timestamp %q: %w", createdAt, err)
	}
	e.CreatedAt = t
	return e, nil
}

// Prune deletes entries created before the given instant and reports how
// many were removed.
func (r *SQLiteRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM audit_logs WHERE created_at < ?", before.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("pruning audit logs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning audit logs: %w", err)
	}
	return n, nil
}
