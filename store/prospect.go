package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/dbflow/audit"
	"github.com/BaSui01/dbflow/pool"
	"github.com/BaSui01/dbflow/tx"
)

// timeFmt is the storage format for all timestamp columns: RFC 3339
// with a fixed-width nine-digit fraction, so lexicographic order equals
// chronological order. RFC3339Nano is not used for writes because
// Format trims trailing zeros, which breaks string ordering; reads stay
// on RFC3339Nano since its parse accepts any fraction width.
const timeFmt = "2006-01-02T15:04:05.000000000Z07:00"

// Prospect is one sales prospect row.
type Prospect struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email,omitempty"`
	Phone     string     `json:"phone,omitempty"`
	Status    string     `json:"status"`
	OwnerID   string     `json:"owner_id,omitempty"`
	Notes     string     `json:"notes,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Store exposes the domain CRUD operations. All writes go through the
// transaction executor and emit audit records on the same connection,
// so the audit entry commits or rolls back together with the change.
type Store struct {
	pool   *pool.Pool
	exec   *tx.Executor
	audit  *audit.Logger
	logger *zap.Logger
	now    func() time.Time
}

// New creates a store over an initialized pool.
func New(p *pool.Pool, exec *tx.Executor, auditLog *audit.Logger, logger *zap.Logger) *Store {
	return &Store{
		pool:   p,
		exec:   exec,
		audit:  auditLog,
		logger: logger.With(zap.String("component", "store")),
		now:    time.Now,
	}
}

// updatableColumns whitelists the prospect fields UpdateProspect accepts.
var updatableColumns = map[string]struct{}{
	"name":     {},
	"email":    {},
	"phone":    {},
	"status":   {},
	"owner_id": {},
	"notes":    {},
}

// CreateProspect inserts a prospect and audits the creation. Fills in
// ID and timestamps when empty.
func (s *Store) CreateProspect(ctx context.Context, p *Prospect, actorID, origin string) error {
	if strings.TrimSpace(p.Name) == "" {
		return tx.Domainf("prospect name is required")
	}
	if p.ID == "" {
		p.ID = "pro-" + uuid.NewString()[:8]
	}
	if p.Status == "" {
		p.Status = "new"
	}

	now := s.now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.exec.Run(ctx, func(ctx context.Context, conn *pool.Conn) (any, error) {
		_, err := conn.ExecContext(ctx,
			`INSERT INTO prospects (id, name, email, phone, status, owner_id, notes, deleted_at, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)`,
			p.ID, p.Name, p.Email, p.Phone, p.Status, p.OwnerID, p.Notes,
			now.Format(timeFmt), now.Format(timeFmt),
		)
		if err != nil {
			return nil, fmt.Errorf("inserting prospect: %w", err)
		}

		s.audit.LogCreate(ctx, conn, "prospects", p.ID, actorID, prospectValues(p), origin)
		return nil, nil
	})
	return err
}

// UpdateProspect locks the prospect row, applies the whitelisted field
// changes and audits a field-by-field diff. Unknown fields are rejected
// as a domain failure.
func (s *Store) UpdateProspect(ctx context.Context, id string, fields map[string]any, actorID, origin string) error {
	if len(fields) == 0 {
		return tx.Domainf("no fields to update")
	}

	cols := make([]string, 0, len(fields))
	for col := range fields {
		if _, ok := updatableColumns[col]; !ok {
			return tx.Domainf("field %q is not updatable", col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	_, err := s.exec.RunWithLock(ctx, "prospects", id, func(ctx context.Context, conn *pool.Conn, row map[string]any) (any, error) {
		if row["deleted_at"] != nil {
			return nil, tx.Domainf("prospect %s is deleted", id)
		}

		now := s.now().UTC()
		setParts := make([]string, 0, len(cols)+1)
		args := make([]any, 0, len(cols)+2)
		oldValues := make(map[string]any, len(cols))
		newValues := make(map[string]any, len(cols))

		for _, col := range cols {
			setParts = append(setParts, col+" = ?")
			args = append(args, fields[col])
			oldValues[col] = row[col]
			newValues[col] = fields[col]
		}
		setParts = append(setParts, "updated_at = ?")
		args = append(args, now.Format(timeFmt), id)

		query := "UPDATE prospects SET " + strings.Join(setParts, ", ") + " WHERE id = ?"
		if _, err := conn.ExecContext(ctx, query, args...); err != nil {
			return nil, fmt.Errorf("updating prospect: %w", err)
		}

		s.audit.LogUpdate(ctx, conn, "prospects", id, actorID, oldValues, newValues, origin)
		return nil, nil
	})
	return err
}

// SoftDeleteProspect marks the prospect deleted and audits the deletion
// with the last known field values.
func (s *Store) SoftDeleteProspect(ctx context.Context, id, actorID, origin string) error {
	_, err := s.exec.RunWithLock(ctx, "prospects", id, func(ctx context.Context, conn *pool.Conn, row map[string]any) (any, error) {
		if row["deleted_at"] != nil {
			return nil, tx.Domainf("prospect %s is already deleted", id)
		}

		now := s.now().UTC()
		if _, err := conn.ExecContext(ctx,
			`UPDATE prospects SET deleted_at = ?, updated_at = ? WHERE id = ?`,
			now.Format(timeFmt), now.Format(timeFmt), id,
		); err != nil {
			return nil, fmt.Errorf("soft-deleting prospect: %w", err)
		}

		s.audit.LogDelete(ctx, conn, "prospects", id, actorID, row, origin)
		return nil, nil
	})
	return err
}

// GetProspect returns a prospect by id, excluding soft-deleted rows.
func (s *Store) GetProspect(ctx context.Context, id string) (*Prospect, error) {
	var p *Prospect
	err := s.pool.WithConn(ctx, func(conn *pool.Conn) error {
		rows, err := conn.QueryContext(ctx,
			`SELECT id, name, email, phone, status, owner_id, notes, deleted_at, created_at, updated_at
			 FROM prospects WHERE id = ? AND deleted_at IS NULL`,
			id,
		)
		if err != nil {
			return fmt.Errorf("querying prospect: %w", err)
		}
		defer rows.Close()

		if !rows.Next() {
			if err := rows.Err(); err != nil {
				return fmt.Errorf("querying prospect: %w", err)
			}
			return fmt.Errorf("%w: prospects/%s", tx.ErrRecordNotFound, id)
		}

		p, err = scanProspect(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListProspects returns non-deleted prospects ordered by creation time,
// newest first.
func (s *Store) ListProspects(ctx context.Context, limit, offset int) ([]Prospect, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var prospects []Prospect
	err := s.pool.WithConn(ctx, func(conn *pool.Conn) error {
		rows, err := conn.QueryContext(ctx,
			`SELECT id, name, email, phone, status, owner_id, notes, deleted_at, created_at, updated_at
			 FROM prospects WHERE deleted_at IS NULL
			 ORDER BY created_at DESC LIMIT ? OFFSET ?`,
			limit, offset,
		)
		if err != nil {
			return fmt.Errorf("listing prospects: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			p, err := scanProspect(rows)
			if err != nil {
				return err
			}
			prospects = append(prospects, *p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	if prospects == nil {
		prospects = []Prospect{}
	}
	return prospects, nil
}

// prospectValues snapshots a prospect for audit records.
func prospectValues(p *Prospect) map[string]any {
	return map[string]any{
		"name":     p.Name,
		"email":    p.Email,
		"phone":    p.Phone,
		"status":   p.Status,
		"owner_id": p.OwnerID,
		"notes":    p.Notes,
	}
}

func scanProspect(rows *sql.Rows) (*Prospect, error) {
	var p Prospect
	var email, phone, ownerID, notes, deletedAt sql.NullString
	var createdAt, updatedAt string

	if err := rows.Scan(&p.ID, &p.Name, &email, &phone, &p.Status,
		&ownerID, &notes, &deletedAt, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("scanning prospect: %w", err)
	}

	p.Email = email.String
	p.Phone = phone.String
	p.OwnerID = ownerID.String
	p.Notes = notes.String

	var err error
	if p.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing prospect created_at %q: %w", createdAt, err)
	}
	if p.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing prospect updated_at %q: %w", updatedAt, err)
	}
	if deletedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, deletedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing prospect deleted_at %q: %w", deletedAt.String, err)
		}
		p.DeletedAt = &t
	}

	return &p, nil
}
