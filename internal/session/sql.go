package session

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"gamgui/internal/backend"
	"gamgui/internal/gamerr"
)

// sqlRepo implements Repository over database/sql. The SQLite and Postgres
// constructors share it; only the driver and placeholder style differ.
type sqlRepo struct {
	db       *sql.DB
	postgres bool
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id             TEXT PRIMARY KEY,
	owner_id       TEXT NOT NULL,
	name           TEXT NOT NULL,
	status         TEXT NOT NULL,
	handle_kind    TEXT NOT NULL DEFAULT '',
	handle_id      TEXT NOT NULL DEFAULT '',
	credential_ref TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMP NOT NULL,
	last_active_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_owner ON sessions(owner_id);
`

func (r *sqlRepo) migrate() error {
	_, err := r.db.Exec(schema)
	return err
}

// q rewrites ? placeholders to $n for Postgres.
func (r *sqlRepo) q(query string) string {
	if !r.postgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			fmt.Fprintf(&sb, "$%d", n)
		} else {
			sb.WriteRune(c)
		}
	}
	return sb.String()
}

func (r *sqlRepo) Close() error { return r.db.Close() }

func (r *sqlRepo) Create(ctx context.Context, s *Session) error {
	_, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO sessions (id, owner_id, name, status, handle_kind, handle_id, credential_ref, created_at, last_active_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		s.ID, s.OwnerID, s.Name, string(s.Status),
		string(s.Handle.Kind), s.Handle.ID, s.CredentialRef,
		s.CreatedAt.UTC(), s.LastActiveAt.UTC(),
	)
	if err != nil && isDuplicateKey(err) {
		return gamerr.Newf(gamerr.KindSessionConflict, "session %s already exists", s.ID)
	}
	return err
}

// isDuplicateKey matches the primary-key violation text of both drivers.
func isDuplicateKey(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || // modernc sqlite
		strings.Contains(msg, "duplicate key value") // lib/pq
}

func (r *sqlRepo) Get(ctx context.Context, id string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, r.q(`
		SELECT id, owner_id, name, status, handle_kind, handle_id, credential_ref, created_at, last_active_at
		FROM sessions WHERE id = ?`), id)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, gamerr.Newf(gamerr.KindSessionNotFound, "session %s not found", id)
	}
	return s, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var s Session
	var status, handleKind string
	if err := row.Scan(&s.ID, &s.OwnerID, &s.Name, &status,
		&handleKind, &s.Handle.ID, &s.CredentialRef,
		&s.CreatedAt, &s.LastActiveAt); err != nil {
		return nil, err
	}
	s.Status = Status(status)
	s.Handle.Kind = backend.HandleKind(handleKind)
	return &s, nil
}

func (r *sqlRepo) List(ctx context.Context) ([]*Session, error) {
	return r.listWhere(ctx, "", nil)
}

func (r *sqlRepo) ListByOwner(ctx context.Context, ownerID string) ([]*Session, error) {
	return r.listWhere(ctx, "WHERE owner_id = ?", []any{ownerID})
}

func (r *sqlRepo) listWhere(ctx context.Context, where string, args []any) ([]*Session, error) {
	query := fmt.Sprintf(`
		SELECT id, owner_id, name, status, handle_kind, handle_id, credential_ref, created_at, last_active_at
		FROM sessions %s ORDER BY created_at ASC`, where)
	rows, err := r.db.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *sqlRepo) Update(ctx context.Context, s *Session) error {
	res, err := r.db.ExecContext(ctx, r.q(`
		UPDATE sessions SET owner_id = ?, name = ?, status = ?, handle_kind = ?, handle_id = ?,
			credential_ref = ?, last_active_at = ?
		WHERE id = ?`),
		s.OwnerID, s.Name, string(s.Status),
		string(s.Handle.Kind), s.Handle.ID, s.CredentialRef,
		s.LastActiveAt.UTC(), s.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return gamerr.Newf(gamerr.KindSessionNotFound, "session %s not found", s.ID)
	}
	return nil
}

func (r *sqlRepo) UpdateStatusIf(ctx context.Context, id string, from []Status, to Status) (bool, error) {
	placeholders := make([]string, len(from))
	args := []any{string(to), id}
	for i, f := range from {
		placeholders[i] = "?"
		args = append(args, string(f))
	}
	query := fmt.Sprintf(`UPDATE sessions SET status = ? WHERE id = ? AND status IN (%s)`,
		strings.Join(placeholders, ", "))
	res, err := r.db.ExecContext(ctx, r.q(query), args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *sqlRepo) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		r.q(`UPDATE sessions SET last_active_at = ? WHERE id = ?`), at.UTC(), id)
	return err
}

func (r *sqlRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, r.q(`DELETE FROM sessions WHERE id = ?`), id)
	return err
}
