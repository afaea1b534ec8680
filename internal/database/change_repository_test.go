package database

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/celebrum-correlation/internal/config"
	"github.com/irfndi/celebrum-correlation/internal/models"
	"github.com/irfndi/celebrum-correlation/internal/utils"
)

var testNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func newMockRepository(t *testing.T) (pgxmock.PgxPoolIface, *ChangeRepository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return mock, NewChangeRepository(NewTracedPool(mock), logger)
}

func floatPtr(v float64) *float64 { return &v }

func TestChangeRepository_Migrate(t *testing.T) {
	mock, repo := newMockRepository(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS correlation_changes").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, repo.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeRepository_InsertChanges(t *testing.T) {
	mock, repo := newMockRepository(t)
	changes := []models.ChangeRecord{
		{Timestamp: testNow, Coin1: "A", Coin2: "B", CurrentCorrelation: floatPtr(0.8), CurrentAbsCorrelation: floatPtr(0.8), ChangeType: models.ChangeNewHigh, Status: "New high correlation"},
		{Timestamp: testNow, Coin1: "C", Coin2: "D", PreviousCorrelation: floatPtr(0.9), PreviousAbsCorrelation: floatPtr(0.9), AbsChangeAmount: floatPtr(0.9), ChangeType: models.ChangeLostHigh, Status: "High correlation lost"},
	}

	mock.ExpectExec(`INSERT INTO correlation_changes \(cycle_id, timestamp, .*\) VALUES \(\$1, .*\$12\), \(\$13, .*\$24\)`).
		WithArgs(
			"cycle-1", testNow, "A", "B", (*float64)(nil), (*float64)(nil), floatPtr(0.8), floatPtr(0.8), (*float64)(nil), (*float64)(nil), "NEW_HIGH_CORRELATION", "New high correlation",
			"cycle-1", testNow, "C", "D", floatPtr(0.9), floatPtr(0.9), (*float64)(nil), (*float64)(nil), (*float64)(nil), floatPtr(0.9), "LOST_HIGH_CORRELATION", "High correlation lost",
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	n, err := repo.InsertChanges(context.Background(), "cycle-1", changes)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeRepository_InsertNothing(t *testing.T) {
	mock, repo := newMockRepository(t)

	n, err := repo.InsertChanges(context.Background(), "cycle-1", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeRepository_InsertFailureIsPersistence(t *testing.T) {
	mock, repo := newMockRepository(t)
	mock.ExpectExec("INSERT INTO correlation_changes").WillReturnError(errors.New("connection reset"))

	_, err := repo.InsertChanges(context.Background(), "cycle-1", []models.ChangeRecord{{Coin1: "A", Coin2: "B"}})
	assert.ErrorIs(t, err, utils.ErrPersistence)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeRepository_PersistSkipsHistorical(t *testing.T) {
	mock, repo := newMockRepository(t)

	err := repo.Persist(context.Background(), &models.AnalysisOutput{
		Prefix:  models.PrefixHistorical,
		Changes: []models.ChangeRecord{{Coin1: "A", Coin2: "B"}},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeRepository_RecentChanges(t *testing.T) {
	mock, repo := newMockRepository(t)
	columns := []string{"timestamp", "coin1", "coin2", "previous_correlation", "previous_abs_correlation",
		"current_correlation", "current_abs_correlation", "change_amount", "abs_change_amount", "change_type", "status"}

	rows := pgxmock.NewRows(columns).
		AddRow(testNow.Add(time.Minute), "A", "B", 0.75, 0.75, 0.9, 0.9, 0.15, 0.15, "INCREASED", "Correlation strengthened").
		AddRow(testNow, "A", "B", nil, nil, 0.75, 0.75, nil, nil, "NEW_HIGH_CORRELATION", "New high correlation")
	mock.ExpectQuery("SELECT timestamp, coin1, coin2, .* FROM correlation_changes ORDER BY timestamp DESC").
		WithArgs(2).
		WillReturnRows(rows)

	changes, err := repo.RecentChanges(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, changes, 2)

	assert.Equal(t, models.ChangeIncreased, changes[0].ChangeType)
	require.NotNil(t, changes[0].ChangeAmount)
	assert.Equal(t, 0.15, *changes[0].ChangeAmount)
	assert.Nil(t, changes[1].PreviousCorrelation)
	assert.Nil(t, changes[1].ChangeAmount)
	assert.Equal(t, 0.75, *changes[1].CurrentCorrelation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeRepository_CountPairChanges(t *testing.T) {
	mock, repo := newMockRepository(t)
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("A", "B").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	n, err := repo.CountPairChanges(context.Background(), "B", "A")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatementVerb(t *testing.T) {
	assert.Equal(t, "INSERT", statementVerb("  insert into x values (1)"))
	assert.Equal(t, "", statementVerb("   "))
}

func TestDSN(t *testing.T) {
	assert.Contains(t, DSN(config.DatabaseConfig{Host: "db", Port: 5432, User: "app", DBName: "corr", SSLMode: "disable"}), "host=db port=5432 user=app")
	assert.Equal(t, "postgres://u@h/db", DSN(config.DatabaseConfig{DatabaseURL: "postgres://u@h/db"}))
}
