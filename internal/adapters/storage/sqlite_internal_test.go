package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/candlerush/internal/domain"
)

func newMockStorage(t *testing.T) (*SQLiteStorage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &SQLiteStorage{db: db}, mock
}

func TestSaveSnapshot_RollsBackOnInsertError(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ledger_state")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM wagers")).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO wagers")).
		ExpectExec().
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	placed := time.Date(2025, 3, 1, 12, 0, 3, 0, time.UTC)
	err := s.SaveSnapshot(context.Background(), domain.Snapshot{
		Balance: decimal.NewFromInt(999000),
		Wagers: []domain.Wager{{
			ID: "w1", Symbol: "BTCUSDT", Direction: domain.DirectionUp,
			Stake: decimal.NewFromInt(1000), Leverage: 1,
			PlacedAt: placed, IntervalKey: domain.IntervalKey(placed, time.Minute),
			Status: domain.StatusPending,
		}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert w1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveSnapshot_CommitError(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ledger_state")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM wagers")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit().WillReturnError(errors.New("database is locked"))

	err := s.SaveSnapshot(context.Background(), domain.Snapshot{Balance: decimal.NewFromInt(1000000)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadSnapshot_CorruptBalance(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT balance, updated_at FROM ledger_state")).
		WillReturnRows(sqlmock.NewRows([]string{"balance", "updated_at"}).AddRow("not-a-number", int64(0)))

	_, found, err := s.LoadSnapshot(context.Background())
	require.Error(t, err)
	assert.False(t, found)
	assert.NoError(t, mock.ExpectationsWereMet())
}
