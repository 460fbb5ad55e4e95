package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/dbflow/pool"
	"github.com/BaSui01/dbflow/tx"
)

// Account holds a prospect's balance in minor currency units.
type Account struct {
	ID         string    `json:"id"`
	ProspectID string    `json:"prospect_id,omitempty"`
	Balance    int64     `json:"balance"`
	Currency   string    `json:"currency"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// CreateAccount opens an account, optionally tied to a prospect.
func (s *Store) CreateAccount(ctx context.Context, a *Account, actorID, origin string) error {
	if a.Balance < 0 {
		return tx.Domainf("initial balance must not be negative")
	}
	if a.ID == "" {
		a.ID = "acc-" + uuid.NewString()[:8]
	}
	if a.Currency == "" {
		a.Currency = "USD"
	}

	now := s.now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err := s.exec.Run(ctx, func(ctx context.Context, conn *pool.Conn) (any, error) {
		prospectID := any(nil)
		if a.ProspectID != "" {
			prospectID = a.ProspectID
		}
		if _, err := conn.ExecContext(ctx,
			`INSERT INTO accounts (id, prospect_id, balance, currency, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			a.ID, prospectID, a.Balance, a.Currency,
			now.Format(timeFmt), now.Format(timeFmt),
		); err != nil {
			return nil, fmt.Errorf("inserting account: %w", err)
		}

		s.audit.LogCreate(ctx, conn, "accounts", a.ID, actorID, map[string]any{
			"prospect_id": a.ProspectID,
			"balance":     a.Balance,
			"currency":    a.Currency,
		}, origin)
		return nil, nil
	})
	return err
}

// GetAccount returns an account by id.
func (s *Store) GetAccount(ctx context.Context, id string) (*Account, error) {
	var a *Account
	err := s.pool.WithConn(ctx, func(conn *pool.Conn) error {
		rows, err := conn.QueryContext(ctx,
			`SELECT id, prospect_id, balance, currency, created_at, updated_at
			 FROM accounts WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("querying account: %w", err)
		}
		defer rows.Close()

		if !rows.Next() {
			if err := rows.Err(); err != nil {
				return fmt.Errorf("querying account: %w", err)
			}
			return fmt.Errorf("%w: accounts/%s", tx.ErrRecordNotFound, id)
		}

		a, err = scanAccount(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Transfer moves amount between two accounts inside one transaction.
// Rows are locked in ascending id order so two concurrent transfers over
// the same pair cannot deadlock against each other; insufficient funds
// is a domain failure and is never retried.
func (s *Store) Transfer(ctx context.Context, fromID, toID string, amount int64, actorID, origin string) error {
	if amount <= 0 {
		return tx.Domainf("transfer amount must be positive")
	}
	if fromID == toID {
		return tx.Domainf("cannot transfer an account to itself")
	}

	_, err := s.exec.Run(ctx, func(ctx context.Context, conn *pool.Conn) (any, error) {
		first, second := fromID, toID
		if second < first {
			first, second = second, first
		}

		balances := make(map[string]int64, 2)
		for _, id := range []string{first, second} {
			bal, err := s.lockAccountBalance(ctx, conn, id)
			if err != nil {
				return nil, err
			}
			balances[id] = bal
		}

		if balances[fromID] < amount {
			return nil, tx.Domainf("insufficient funds: account %s has %d, needs %d",
				fromID, balances[fromID], amount)
		}

		now := s.now().UTC().Format(timeFmt)
		updates := []struct {
			id      string
			balance int64
		}{
			{fromID, balances[fromID] - amount},
			{toID, balances[toID] + amount},
		}
		for _, u := range updates {
			if _, err := conn.ExecContext(ctx,
				`UPDATE accounts SET balance = ?, updated_at = ? WHERE id = ?`,
				u.balance, now, u.id,
			); err != nil {
				return nil, fmt.Errorf("updating account %s: %w", u.id, err)
			}

			s.audit.LogUpdate(ctx, conn, "accounts", u.id, actorID,
				map[string]any{"balance": balances[u.id]},
				map[string]any{"balance": u.balance},
				origin)
		}

		s.logger.Info("transfer completed",
			zap.String("from", fromID),
			zap.String("to", toID),
			zap.Int64("amount", amount))
		return nil, nil
	})
	return err
}

// lockAccountBalance reads an account balance under the dialect's row
// lock (FOR UPDATE, or the transaction-wide write lock on SQLite).
func (s *Store) lockAccountBalance(ctx context.Context, conn *pool.Conn, id string) (int64, error) {
	rows, err := conn.QueryContext(ctx,
		`SELECT balance FROM accounts WHERE id = ?`+s.pool.Dialect().RowLockSuffix(), id)
	if err != nil {
		return 0, fmt.Errorf("locking account %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, fmt.Errorf("locking account %s: %w", id, err)
		}
		return 0, tx.Domainf("account %s not found", id)
	}

	var balance int64
	if err := rows.Scan(&balance); err != nil {
		return 0, fmt.Errorf("scanning account %s balance: %w", id, err)
	}
	return balance, rows.Err()
}

func scanAccount(rows *sql.Rows) (*Account, error) {
	var a Account
	var prospectID sql.NullString
	var createdAt, updatedAt string

	if err := rows.Scan(&a.ID, &prospectID, &a.Balance, &a.Currency, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("scanning account: %w", err)
	}
	a.ProspectID = prospectID.String

	var err error
	if a.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing account created_at %q: %w", createdAt, err)
	}
	if a.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing account updated_at %q: %w", updatedAt, err)
	}
	return &a, nil
}
