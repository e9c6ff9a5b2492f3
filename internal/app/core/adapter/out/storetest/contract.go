// Package storetest 提供所有 AtomicLedgerStore 實作共用的行為測試
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

// Factory 每次呼叫回傳一個乾淨的 store
type Factory func(t *testing.T) usecase.AtomicLedgerStore

func newAccountID() string {
	return "acct-" + uuid.NewString()
}

func commitOf(accountID string, expected uint64, balance, amount string) usecase.Commit {
	return usecase.Commit{
		AccountID:       accountID,
		ExpectedVersion: expected,
		NewBalance:      decimal.RequireFromString(balance),
		Record: domain.TransactionRecord{
			ID:           uuid.New(),
			AccountID:    accountID,
			Sequence:     expected + 1,
			Kind:         domain.TransactionKindDeposit,
			Amount:       decimal.RequireFromString(amount),
			Counterparty: domain.DepositCounterparty,
			CreatedAt:    time.Now().UTC().Truncate(time.Millisecond),
		},
	}
}

// Run 執行整組行為測試
func Run(t *testing.T, newStore Factory) {
	t.Run("ReadMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Read(context.Background(), newAccountID())
		assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	})

	t.Run("CreateIfAbsentIsIdempotent", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		id := newAccountID()

		created, err := s.CreateIfAbsent(ctx, id, decimal.Zero)
		require.NoError(t, err)
		assert.True(t, created)

		created, err = s.CreateIfAbsent(ctx, id, decimal.NewFromInt(99))
		require.NoError(t, err)
		assert.False(t, created)

		acc, err := s.Read(ctx, id)
		require.NoError(t, err)
		assert.True(t, acc.Balance.IsZero())
		assert.Equal(t, uint64(0), acc.Version)
	})

	t.Run("CommitAndMismatch", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		id := newAccountID()
		_, err := s.CreateIfAbsent(ctx, id, decimal.Zero)
		require.NoError(t, err)

		first := commitOf(id, 0, "100.00", "100.00")
		require.NoError(t, s.ConditionalCommit(ctx, first))
		require.ErrorIs(t, s.ConditionalCommit(ctx, commitOf(id, 0, "5.00", "5.00")), domain.ErrFingerprintMismatch)

		acc, err := s.Read(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), acc.Version)
		assert.Equal(t, "100.00", domain.FormatMoney(acc.Balance))

		records, err := s.ListByAccount(ctx, id, 0)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, first.Record.ID, records[0].ID)
		assert.Equal(t, uint64(1), records[0].Sequence)
		assert.Equal(t, domain.TransactionKindDeposit, records[0].Kind)
		assert.Equal(t, "100.00", domain.FormatMoney(records[0].Amount))
	})

	t.Run("CommitMissingAccount", func(t *testing.T) {
		err := newStore(t).ConditionalCommit(context.Background(), commitOf(newAccountID(), 0, "1", "1"))
		assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	})

	t.Run("ListNewestFirstWithLimit", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		id := newAccountID()
		_, err := s.CreateIfAbsent(ctx, id, decimal.Zero)
		require.NoError(t, err)
		for i := uint64(0); i < 4; i++ {
			bal := decimal.NewFromInt(int64(i + 1)).String()
			require.NoError(t, s.ConditionalCommit(ctx, commitOf(id, i, bal, "1")))
		}

		records, err := s.ListByAccount(ctx, id, 2)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, uint64(4), records[0].Sequence)
		assert.Equal(t, uint64(3), records[1].Sequence)

		all, err := s.ListByAccount(ctx, id, 0)
		require.NoError(t, err)
		assert.Len(t, all, 4)
	})

	t.Run("RacingCommitsOnlyOneWins", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		id := newAccountID()
		_, err := s.CreateIfAbsent(ctx, id, decimal.Zero)
		require.NoError(t, err)

		const racers = 8
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.ConditionalCommit(ctx, commitOf(id, 0, "1.00", "1.00"))
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
					return
				}
				if !errors.Is(err, domain.ErrFingerprintMismatch) {
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)

		records, err := s.ListByAccount(ctx, id, 0)
		require.NoError(t, err)
		assert.Len(t, records, 1)
	})

	t.Run("LedgerCoreInvariant", func(t *testing.T) {
		ctx := context.Background()
		l := usecase.NewLedgerCore(newStore(t))
		id := newAccountID()

		_, err := l.ApplyDeposit(ctx, id, decimal.RequireFromString("100.00"), "")
		require.NoError(t, err)
		res, err := l.ApplyTransfer(ctx, id, "Alice", decimal.RequireFromString("12.50"))
		require.NoError(t, err)
		assert.Equal(t, "87.50", domain.FormatMoney(res.Balance))
		_, err = l.ApplyWithdrawal(ctx, id, decimal.RequireFromString("87.51"))
		assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

		require.NoError(t, l.VerifyAccount(ctx, id))
	})
}
