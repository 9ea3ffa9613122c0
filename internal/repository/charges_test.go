package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"chargeline/internal/model"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type DBMock struct {
	mock.Mock
}

func (m *DBMock) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	ret := m.Called(ctx, sql, args)
	return pgconn.NewCommandTag("INSERT 0 1"), ret.Error(0)
}

func TestChargeLog_RecordCharge(t *testing.T) {
	ctx := context.Background()
	createdAt := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	event := model.ChargeEvent{
		ID:               "5b1f3c1e-8f0e-4d5e-9a55-0d2f3c7e9b11",
		Backend:          "redis",
		AccountKey:       "account1/balance",
		ServiceType:      "sms",
		Charges:          10,
		RemainingBalance: 90,
		CreatedAt:        createdAt,
	}
	dbErr := errors.New("connection reset")

	var tests = []struct {
		name        string
		event       model.ChargeEvent
		db          func() *DBMock
		expectedErr error
	}{
		{
			name:  "missing id",
			event: model.ChargeEvent{Backend: "redis"},
			db: func() *DBMock {
				return new(DBMock)
			},
			expectedErr: ErrInvalidEvent,
		},
		{
			name:  "exec error",
			event: event,
			db: func() *DBMock {
				db := new(DBMock)
				db.On("Exec", ctx, mock.Anything, mock.Anything).Return(dbErr)
				return db
			},
			expectedErr: dbErr,
		},
		{
			name:  "success",
			event: event,
			db: func() *DBMock {
				db := new(DBMock)
				db.On("Exec", ctx, mock.AnythingOfType("string"), []any{
					event.ID, "redis", "account1/balance", "sms", int64(10), int64(90), createdAt,
				}).Return(nil)
				return db
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := tt.db()
			err := NewChargeLog(db).RecordCharge(ctx, tt.event)
			if tt.expectedErr != nil {
				require.ErrorIs(t, err, tt.expectedErr)
			} else {
				require.NoError(t, err)
			}
			db.AssertExpectations(t)
		})
	}
}

func TestNopBus(t *testing.T) {
	var bus MessageBus = NopBus{}
	assert.NoError(t, bus.Publish(TopicChargeAuthorized, []byte("{}")))
}
