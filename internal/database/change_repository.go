package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/celebrum-correlation/internal/models"
	"github.com/irfndi/celebrum-correlation/internal/utils"
)

const createChangesTable = `
	CREATE TABLE IF NOT EXISTS correlation_changes (
		id BIGSERIAL PRIMARY KEY,
		cycle_id TEXT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		coin1 TEXT NOT NULL,
		coin2 TEXT NOT NULL,
		previous_correlation DOUBLE PRECISION,
		previous_abs_correlation DOUBLE PRECISION,
		current_correlation DOUBLE PRECISION,
		current_abs_correlation DOUBLE PRECISION,
		change_amount DOUBLE PRECISION,
		abs_change_amount DOUBLE PRECISION,
		change_type TEXT NOT NULL,
		status TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_correlation_changes_timestamp ON correlation_changes (timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_correlation_changes_pair ON correlation_changes (coin1, coin2)
`

const changeColumns = "timestamp, coin1, coin2, previous_correlation, previous_abs_correlation, " +
	"current_correlation, current_abs_correlation, change_amount, abs_change_amount, change_type, status"

// columnsPerChange is the number of bind parameters per inserted row.
const columnsPerChange = 12

// ChangeRepository stores the correlation change history in PostgreSQL.
type ChangeRepository struct {
	pool   DatabasePool
	logger *logrus.Logger
}

// NewChangeRepository creates a new change repository.
func NewChangeRepository(pool DatabasePool, logger *logrus.Logger) *ChangeRepository {
	if logger == nil {
		logger = logrus.New()
	}
	return &ChangeRepository{pool: pool, logger: logger}
}

// Name identifies the sink in logs.
func (r *ChangeRepository) Name() string {
	return "postgres"
}

// Migrate creates the change table and its indexes.
func (r *ChangeRepository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, createChangesTable); err != nil {
		return fmt.Errorf("failed to create correlation_changes: %w", err)
	}
	return nil
}

// Persist inserts the cycle's realtime changes.
func (r *ChangeRepository) Persist(ctx context.Context, out *models.AnalysisOutput) error {
	if out.Prefix != "" && out.Prefix != models.PrefixRealtime {
		return nil
	}
	_, err := r.InsertChanges(ctx, out.CycleID, out.Changes)
	return err
}

// InsertChanges writes changes in one multi-row INSERT and returns the row count.
func (r *ChangeRepository) InsertChanges(ctx context.Context, cycleID string, changes []models.ChangeRecord) (int64, error) {
	if len(changes) == 0 {
		return 0, nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO correlation_changes (cycle_id, ")
	sb.WriteString(changeColumns)
	sb.WriteString(") VALUES ")

	args := make([]interface{}, 0, len(changes)*columnsPerChange)
	for i, c := range changes {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * columnsPerChange
		sb.WriteString("(")
		for j := 1; j <= columnsPerChange; j++ {
			if j > 1 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", base+j)
		}
		sb.WriteString(")")
		args = append(args,
			cycleID, c.Timestamp, c.Coin1, c.Coin2,
			c.PreviousCorrelation, c.PreviousAbsCorrelation,
			c.CurrentCorrelation, c.CurrentAbsCorrelation,
			c.ChangeAmount, c.AbsChangeAmount,
			string(c.ChangeType), c.Status,
		)
	}

	tag, err := r.pool.Exec(ctx, sb.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert %d correlation changes: %v: %w", len(changes), err, utils.ErrPersistence)
	}

	r.logger.WithFields(logrus.Fields{
		"cycle_id": cycleID,
		"rows":     tag.RowsAffected(),
	}).Debug("Stored correlation changes")
	return tag.RowsAffected(), nil
}

// RecentChanges returns up to limit changes, newest first.
func (r *ChangeRepository) RecentChanges(ctx context.Context, limit int) ([]models.ChangeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := "SELECT " + changeColumns + " FROM correlation_changes ORDER BY timestamp DESC, id DESC LIMIT $1"

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query correlation changes: %v: %w", err, utils.ErrTransient)
	}
	defer rows.Close()

	out := make([]models.ChangeRecord, 0, limit)
	for rows.Next() {
		var (
			c          models.ChangeRecord
			changeType string
			prev       sql.NullFloat64
			prevAbs    sql.NullFloat64
			cur        sql.NullFloat64
			curAbs     sql.NullFloat64
			amount     sql.NullFloat64
			absAmount  sql.NullFloat64
		)
		if err := rows.Scan(&c.Timestamp, &c.Coin1, &c.Coin2, &prev, &prevAbs, &cur, &curAbs, &amount, &absAmount, &changeType, &c.Status); err != nil {
			return nil, fmt.Errorf("failed to scan correlation change: %v: %w", err, utils.ErrMalformedInput)
		}
		c.ChangeType = models.ChangeType(changeType)
		c.PreviousCorrelation = nullable(prev)
		c.PreviousAbsCorrelation = nullable(prevAbs)
		c.CurrentCorrelation = nullable(cur)
		c.CurrentAbsCorrelation = nullable(curAbs)
		c.ChangeAmount = nullable(amount)
		c.AbsChangeAmount = nullable(absAmount)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate correlation changes: %v: %w", err, utils.ErrTransient)
	}
	return out, nil
}

// CountPairChanges returns how many changes were stored for one pair.
func (r *ChangeRepository) CountPairChanges(ctx context.Context, a, b string) (int, error) {
	coin1, coin2 := a, b
	if coin2 < coin1 {
		coin1, coin2 = coin2, coin1
	}
	var count int
	err := r.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM correlation_changes WHERE coin1 = $1 AND coin2 = $2",
		coin1, coin2,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count changes for %s: %v: %w", models.PairKey(a, b), err, utils.ErrTransient)
	}
	return count, nil
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
