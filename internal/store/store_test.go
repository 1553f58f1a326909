package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"lpbf-planner/internal/errs"
)

// A helper function to create a mock database connection.
func newTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func TestGormStore_ErrorMapping(t *testing.T) {
	testCases := []struct {
		name             string
		mockExpectations func(mock sqlmock.Sqlmock)
		call             func(s Store) error
		expectedKind     error
	}{
		{
			name: "Missing part maps to not found",
			mockExpectations: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "part_requests"`)).
					WillReturnRows(sqlmock.NewRows([]string{"id"}))
			},
			call: func(s Store) error {
				_, err := s.GetPart(context.Background(), 7)
				return err
			},
			expectedKind: errs.ErrNotFound,
		},
		{
			name: "Missing run maps to not found",
			mockExpectations: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "production_runs"`)).
					WillReturnRows(sqlmock.NewRows([]string{"id"}))
			},
			call: func(s Store) error {
				_, err := s.GetRun(context.Background(), 3)
				return err
			},
			expectedKind: errs.ErrNotFound,
		},
		{
			name: "Failing a drafted or unknown request reports not found",
			mockExpectations: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(`UPDATE "notification_requests" SET`)).
					WithArgs("timeout", Any{}, Any{}, 11, Any{}).
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectCommit()
			},
			call: func(s Store) error {
				return s.MarkRequestFailed(context.Background(), 11, "timeout")
			},
			expectedKind: errs.ErrNotFound,
		},
		{
			name: "Driver failure is not classified",
			mockExpectations: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "production_runs"`)).
					WillReturnError(errors.New("connection reset"))
			},
			call: func(s Store) error {
				_, err := s.ListRuns(context.Background(), RunFilter{MaterialGroup: "IN718_IN625"})
				return err
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gormDB, mock := newTestDB(t)
			store := NewGormStore(gormDB)

			tc.mockExpectations(mock)

			err := tc.call(store)
			require.Error(t, err)
			if tc.expectedKind != nil {
				assert.True(t, errors.Is(err, tc.expectedKind), err.Error())
			} else {
				assert.False(t, errors.Is(err, errs.ErrNotFound))
			}

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

// Any is a helper for sqlmock to match any argument.
type Any struct{}

// Match satisfies the sqlmock.Argument interface
func (a Any) Match(v driver.Value) bool {
	return true
}
