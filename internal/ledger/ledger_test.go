package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resellbot/internal/models"
	"resellbot/internal/pkg/testdb"
)

func newTestLedger(t *testing.T, balance int64) *Ledger {
	t.Helper()
	db := testdb.Open(t)
	require.NoError(t, db.Create(&models.User{ID: "u1", Balance: balance, Status: "active"}).Error)
	return New(db, nil)
}

func TestDebitAndCredit(t *testing.T) {
	l := newTestLedger(t, 10000)
	ctx := context.Background()

	bal, err := l.Debit(ctx, "u1", 8000, Ref{Reason: ReasonPurchase, ID: "ORD-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(2000), bal)

	bal, err = l.Credit(ctx, "u1", 8000, Ref{Reason: ReasonRefund, ID: "ORD-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(10000), bal)

	var entries []models.LedgerEntry
	require.NoError(t, l.db.Where("user_id = ?", "u1").Order("id").Find(&entries).Error)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(-8000), entries[0].Delta)
	assert.Equal(t, int64(2000), entries[0].BalanceAfter)
	assert.Equal(t, ReasonRefund, entries[1].Reason)
	assert.Equal(t, "ORD-1", entries[1].Reference)
}

func TestDebitInsufficientLeavesBalance(t *testing.T) {
	l := newTestLedger(t, 500)
	ctx := context.Background()

	_, err := l.Debit(ctx, "u1", 501, Ref{Reason: ReasonPurchase})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	bal, err := l.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), bal)

	var count int64
	l.db.Model(&models.LedgerEntry{}).Count(&count)
	assert.Zero(t, count)
}

func TestInvalidAmountAndUnknownUser(t *testing.T) {
	l := newTestLedger(t, 500)
	ctx := context.Background()

	_, err := l.Debit(ctx, "u1", 0, Ref{})
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = l.Credit(ctx, "u1", -5, Ref{})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = l.Debit(ctx, "ghost", 10, Ref{})
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = l.Credit(ctx, "ghost", 10, Ref{})
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = l.Balance(ctx, "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	l := newTestLedger(t, 10000)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, rejected := 0, 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Debit(ctx, "u1", 3000, Ref{Reason: ReasonPurchase})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrInsufficientFunds):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	assert.Equal(t, 7, rejected)
	bal, err := l.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), bal)
}
