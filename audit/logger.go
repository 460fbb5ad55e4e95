// Package audit persists structured records of state-changing actions
// to the audit_log table. Writes are best-effort by policy: a failed
// audit insert is logged and swallowed so it can never fail the
// business operation that triggered it. Reads (History, ExportJSON) and
// the retention purge report their errors normally.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/dbflow/internal/metrics"
	"github.com/BaSui01/dbflow/pool"
)

// exportCap bounds how many records ExportJSON materializes.
const exportCap = 1000

// timeFmt is the storage format for created_at: RFC 3339 with a
// fixed-width nine-digit fraction, so ORDER BY and the purge cutoff
// compare strings in chronological order. RFC3339Nano trims trailing
// zeros on Format and would break that; reads stay on RFC3339Nano
// since its parse accepts any fraction width.
const timeFmt = "2006-01-02T15:04:05.000000000Z07:00"

// Logger writes and reads audit records over a caller-supplied pooled
// connection, often the one inside an active transaction. It keeps no
// connection state of its own.
type Logger struct {
	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

// Option customizes a Logger.
type Option func(*Logger)

// WithMetrics attaches a metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(l *Logger) {
		l.metrics = c
	}
}

// WithClock overrides the timestamp source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		l.now = now
	}
}

// New creates an audit logger.
func New(logger *zap.Logger, opts ...Option) *Logger {
	l := &Logger{
		logger: logger.With(zap.String("component", "audit")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Log inserts one audit record. Any failure is logged and swallowed;
// the call always returns normally.
func (l *Logger) Log(ctx context.Context, conn *pool.Conn, e Entry) {
	if err := l.insert(ctx, conn, e); err != nil {
		l.logger.Warn("audit write failed, swallowing",
			zap.String("table", e.TableName),
			zap.String("record_id", e.RecordID),
			zap.String("action", string(e.Action)),
			zap.Error(err),
		)
		if l.metrics != nil {
			l.metrics.RecordAuditFailure()
		}
		return
	}
	if l.metrics != nil {
		l.metrics.RecordAuditRecord(string(e.Action))
	}
}

// LogCreate records a creation with the new field values.
func (l *Logger) LogCreate(ctx context.Context, conn *pool.Conn, table, recordID, userID string, newValues map[string]any, origin string) {
	l.Log(ctx, conn, Entry{
		TableName:   table,
		RecordID:    recordID,
		Action:      ActionInsert,
		UserID:      userID,
		NewValues:   newValues,
		Description: "record created",
		Origin:      origin,
	})
}

// LogUpdate records an update with a field-by-field diff description.
func (l *Logger) LogUpdate(ctx context.Context, conn *pool.Conn, table, recordID, userID string, oldValues, newValues map[string]any, origin string) {
	l.Log(ctx, conn, Entry{
		TableName:   table,
		RecordID:    recordID,
		Action:      ActionUpdate,
		UserID:      userID,
		OldValues:   oldValues,
		NewValues:   newValues,
		Description: DiffDescription(oldValues, newValues),
		Origin:      origin,
	})
}

// LogDelete records a soft deletion with the last known field values.
func (l *Logger) LogDelete(ctx context.Context, conn *pool.Conn, table, recordID, userID string, oldValues map[string]any, origin string) {
	l.Log(ctx, conn, Entry{
		TableName:   table,
		RecordID:    recordID,
		Action:      ActionDelete,
		UserID:      userID,
		OldValues:   oldValues,
		Description: "record deleted",
		Origin:      origin,
	})
}

func (l *Logger) insert(ctx context.Context, conn *pool.Conn, e Entry) error {
	oldJSON, err := marshalValues(e.OldValues)
	if err != nil {
		return fmt.Errorf("encoding old values: %w", err)
	}
	newJSON, err := marshalValues(e.NewValues)
	if err != nil {
		return fmt.Errorf("encoding new values: %w", err)
	}

	id := "aud-" + uuid.NewString()
	createdAt := l.now().UTC()

	_, err = conn.ExecContext(ctx,
		`INSERT INTO audit_log (id, table_name, record_id, action, user_id, old_values, new_values, description, origin, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, e.TableName, e.RecordID, string(e.Action),
		nullableString(e.UserID), oldJSON, newJSON,
		nullableString(e.Description), nullableString(e.Origin),
		createdAt.Format(timeFmt),
	)
	if err != nil {
		return fmt.Errorf("inserting audit record: %w", err)
	}
	return nil
}

// History returns the most recent limit records for a table/record
// pair, newest first.
func (l *Logger) History(ctx context.Context, conn *pool.Conn, table, recordID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := conn.QueryContext(ctx,
		`SELECT id, table_name, record_id, action, user_id, old_values, new_values, description, origin, created_at
		 FROM audit_log
		 WHERE table_name = ? AND record_id = ?
		 ORDER BY created_at DESC
		 LIMIT ?`,
		table, recordID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit history: %w", err)
	}

	if records == nil {
		records = []Record{}
	}
	return records, nil
}

// Export is the document produced by ExportJSON.
type Export struct {
	TableName  string    `json:"table_name"`
	RecordID   string    `json:"record_id"`
	ExportedAt time.Time `json:"exported_at"`
	Records    []Record  `json:"records"`
}

// ExportJSON materializes the full history of a table/record pair
// (capped at exportCap records) into a single JSON document.
func (l *Logger) ExportJSON(ctx context.Context, conn *pool.Conn, table, recordID string) ([]byte, error) {
	records, err := l.History(ctx, conn, table, recordID, exportCap)
	if err != nil {
		return nil, err
	}

	doc := Export{
		TableName:  table,
		RecordID:   recordID,
		ExportedAt: l.now().UTC(),
		Records:    records,
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding audit export: %w", err)
	}
	return out, nil
}

// PurgeOlderThan bulk-deletes records older than the given age in days
// and returns the count removed. This is the only mutation path after
// initial insert.
func (l *Logger) PurgeOlderThan(ctx context.Context, conn *pool.Conn, days int) (int64, error) {
	if days < 0 {
		return 0, fmt.Errorf("purge age must be non-negative, got %d", days)
	}

	cutoff := l.now().UTC().AddDate(0, 0, -days)
	res, err := conn.ExecContext(ctx,
		`DELETE FROM audit_log WHERE created_at < ?`,
		cutoff.Format(timeFmt),
	)
	if err != nil {
		return 0, fmt.Errorf("purging audit records: %w", err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting purged audit records: %w", err)
	}

	l.logger.Info("audit records purged",
		zap.Int("older_than_days", days),
		zap.Int64("removed", removed),
	)
	return removed, nil
}

// marshalValues encodes a snapshot map to JSON, nil in nil out.
func marshalValues(values map[string]any) (any, error) {
	if values == nil {
		return nil, nil
	}
	b, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// nullableString returns nil for empty strings, for nullable TEXT columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var rec Record
	var action string
	var userID, oldJSON, newJSON, description, origin sql.NullString
	var createdAt string

	if err := rows.Scan(&rec.ID, &rec.TableName, &rec.RecordID, &action,
		&userID, &oldJSON, &newJSON, &description, &origin, &createdAt); err != nil {
		return Record{}, fmt.Errorf("scanning audit record: %w", err)
	}

	rec.Action = Action(action)
	if userID.Valid {
		rec.UserID = userID.String
	}
	if description.Valid {
		rec.Description = description.String
	}
	if origin.Valid {
		rec.Origin = origin.String
	}
	if oldJSON.Valid && oldJSON.String != "" {
		if err := json.Unmarshal([]byte(oldJSON.String), &rec.OldValues); err != nil {
			return Record{}, fmt.Errorf("decoding old values: %w", err)
		}
	}
	if newJSON.Valid && newJSON.String != "" {
		if err := json.Unmarshal([]byte(newJSON.String), &rec.NewValues); err != nil {
			return Record{}, fmt.Errorf("decoding new values: %w", err)
		}
	}

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Record{}, fmt.Errorf("parsing audit timestamp %q: %w", createdAt, err)
	}
	rec.CreatedAt = t

	return rec, nil
}
