package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/dbflow/pool"
	"github.com/BaSui01/dbflow/tx"
)

// Interaction is one contact event with a prospect (call, email, meeting).
type Interaction struct {
	ID         string    `json:"id"`
	ProspectID string    `json:"prospect_id"`
	Kind       string    `json:"kind"`
	Summary    string    `json:"summary,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// interactionKinds is the accepted set of interaction types.
var interactionKinds = map[string]struct{}{
	"call":    {},
	"email":   {},
	"meeting": {},
	"note":    {},
}

// AddInteraction records a contact event against a live prospect. The
// prospect existence check and the insert share one transaction so a
// concurrent soft-delete cannot slip between them.
func (s *Store) AddInteraction(ctx context.Context, it *Interaction, actorID, origin string) error {
	if it.ProspectID == "" {
		return tx.Domainf("interaction requires a prospect id")
	}
	if _, ok := interactionKinds[it.Kind]; !ok {
		return tx.Domainf("unknown interaction kind %q", it.Kind)
	}
	if it.ID == "" {
		it.ID = "int-" + uuid.NewString()[:8]
	}

	now := s.now().UTC()
	if it.OccurredAt.IsZero() {
		it.OccurredAt = now
	}
	it.CreatedAt = now

	_, err := s.exec.Run(ctx, func(ctx context.Context, conn *pool.Conn) (any, error) {
		rows, err := conn.QueryContext(ctx,
			`SELECT 1 FROM prospects WHERE id = ? AND deleted_at IS NULL`, it.ProspectID)
		if err != nil {
			return nil, fmt.Errorf("checking prospect: %w", err)
		}
		exists := rows.Next()
		closeErr := rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("checking prospect: %w", err)
		}
		if closeErr != nil {
			return nil, fmt.Errorf("checking prospect: %w", closeErr)
		}
		if !exists {
			return nil, tx.Domainf("prospect %s not found", it.ProspectID)
		}

		if _, err := conn.ExecContext(ctx,
			`INSERT INTO interactions (id, prospect_id, kind, summary, occurred_at, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			it.ID, it.ProspectID, it.Kind, it.Summary,
			it.OccurredAt.UTC().Format(timeFmt), now.Format(timeFmt),
		); err != nil {
			return nil, fmt.Errorf("inserting interaction: %w", err)
		}

		s.audit.LogCreate(ctx, conn, "interactions", it.ID, actorID, map[string]any{
			"prospect_id": it.ProspectID,
			"kind":        it.Kind,
			"summary":     it.Summary,
			"occurred_at": it.OccurredAt.UTC().Format(timeFmt),
		}, origin)
		return nil, nil
	})
	return err
}

// ListInteractions returns a prospect's interactions, most recent first.
func (s *Store) ListInteractions(ctx context.Context, prospectID string, limit int) ([]Interaction, error) {
	if limit <= 0 {
		limit = 50
	}

	var items []Interaction
	err := s.pool.WithConn(ctx, func(conn *pool.Conn) error {
		rows, err := conn.QueryContext(ctx,
			`SELECT id, prospect_id, kind, summary, occurred_at, created_at
			 FROM interactions WHERE prospect_id = ?
			 ORDER BY occurred_at DESC LIMIT ?`,
			prospectID, limit,
		)
		if err != nil {
			return fmt.Errorf("listing interactions: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var it Interaction
			var summary sql.NullString
			var occurredAt, createdAt string
			if err := rows.Scan(&it.ID, &it.ProspectID, &it.Kind, &summary, &occurredAt, &createdAt); err != nil {
				return fmt.Errorf("scanning interaction: %w", err)
			}
			it.Summary = summary.String
			if it.OccurredAt, err = time.Parse(time.RFC3339Nano, occurredAt); err != nil {
				return fmt.Errorf("parsing interaction occurred_at %q: %w", occurredAt, err)
			}
			if it.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
				return fmt.Errorf("parsing interaction created_at %q: %w", createdAt, err)
			}
			items = append(items, it)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	if items == nil {
		items = []Interaction{}
	}
	return items, nil
}
