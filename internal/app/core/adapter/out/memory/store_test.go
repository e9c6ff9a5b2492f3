package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/storetest"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-bank-ledger/pkg/wal"
)

func commitOf(accountID string, expected uint64, balance, amount string) usecase.Commit {
	return usecase.Commit{
		AccountID:       accountID,
		ExpectedVersion: expected,
		NewBalance:      decimal.RequireFromString(balance),
		Record: domain.TransactionRecord{
			ID:           uuid.New(),
			Kind:         domain.TransactionKindDeposit,
			Amount:       decimal.RequireFromString(amount),
			Counterparty: domain.DepositCounterparty,
			CreatedAt:    time.Now().UTC(),
		},
	}
}

func TestStoreConditionalCommit(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore()
	require.NoError(t, err)

	_, err = s.Read(ctx, "u1")
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
	require.ErrorIs(t, s.ConditionalCommit(ctx, commitOf("u1", 0, "1", "1")), domain.ErrAccountNotFound)

	created, err := s.CreateIfAbsent(ctx, "u1", decimal.Zero)
	require.NoError(t, err)
	assert.True(t, created)
	created, err = s.CreateIfAbsent(ctx, "u1", decimal.Zero)
	require.NoError(t, err)
	assert.False(t, created)

	require.NoError(t, s.ConditionalCommit(ctx, commitOf("u1", 0, "10", "10")))
	// 同一個版本再提交一次必須失敗，且不留下任何變更
	require.ErrorIs(t, s.ConditionalCommit(ctx, commitOf("u1", 0, "20", "20")), domain.ErrFingerprintMismatch)

	acc, err := s.Read(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), acc.Version)
	assert.Equal(t, "10.00", domain.FormatMoney(acc.Balance))

	records, err := s.ListByAccount(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, uint64(1), records[0].Sequence)
	assert.Equal(t, "u1", records[0].AccountID)
}

func TestStoreListOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore()
	require.NoError(t, err)
	_, err = s.CreateIfAbsent(ctx, "u1", decimal.Zero)
	require.NoError(t, err)
	for i := uint64(0); i < 5; i++ {
		bal := decimal.NewFromInt(int64(i + 1)).String()
		require.NoError(t, s.ConditionalCommit(ctx, commitOf("u1", i, bal, "1")))
	}

	records, err := s.ListByAccount(ctx, "u1", 3)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []uint64{5, 4, 3}, []uint64{records[0].Sequence, records[1].Sequence, records[2].Sequence})

	none, err := s.ListByAccount(ctx, "nobody", 3)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStoreRecoversFromWAL(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.wal")

	w, err := wal.NewWAL(path)
	require.NoError(t, err)
	s, err := NewStore(WithWAL(w))
	require.NoError(t, err)

	_, err = s.CreateIfAbsent(ctx, "u1", decimal.Zero)
	require.NoError(t, err)
	require.NoError(t, s.ConditionalCommit(ctx, commitOf("u1", 0, "100", "100")))
	require.NoError(t, s.ConditionalCommit(ctx, commitOf("u1", 1, "87.5", "-12.5")))
	// 失敗的提交不寫入 WAL
	require.ErrorIs(t, s.ConditionalCommit(ctx, commitOf("u1", 0, "1", "1")), domain.ErrFingerprintMismatch)
	require.NoError(t, w.Close())

	w, err = wal.NewWAL(path)
	require.NoError(t, err)
	defer w.Close()
	recovered, err := NewStore(WithWAL(w))
	require.NoError(t, err)

	acc, err := recovered.Read(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), acc.Version)
	assert.Equal(t, "87.50", domain.FormatMoney(acc.Balance))

	records, err := recovered.ListByAccount(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "-12.50", domain.FormatMoney(records[0].Amount))
	assert.True(t, domain.SumAmounts(records).Equal(acc.Balance))
}

func TestStoreFailedWALWriteIsNotReplayed(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.wal")

	var failSync atomic.Bool
	w, err := wal.NewWAL(path, wal.WithSyncFunc(func(f *os.File) error {
		if failSync.CompareAndSwap(true, false) {
			return errors.New("fsync: input/output error")
		}
		return f.Sync()
	}))
	require.NoError(t, err)
	s, err := NewStore(WithWAL(w))
	require.NoError(t, err)

	_, err = s.CreateIfAbsent(ctx, "u1", decimal.Zero)
	require.NoError(t, err)
	require.NoError(t, s.ConditionalCommit(ctx, commitOf("u1", 0, "100", "100")))

	// 提款 60 落地失敗，呼叫端收到錯誤，記憶體不變
	failSync.Store(true)
	err = s.ConditionalCommit(ctx, commitOf("u1", 1, "40", "-60"))
	require.ErrorIs(t, err, domain.ErrWALWriteFailed)
	acc, err := s.Read(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), acc.Version)

	// 下一筆以同一個版本提交成功
	require.NoError(t, s.ConditionalCommit(ctx, commitOf("u1", 1, "90", "-10")))
	require.NoError(t, w.Close())

	w, err = wal.NewWAL(path)
	require.NoError(t, err)
	defer w.Close()
	recovered, err := NewStore(WithWAL(w))
	require.NoError(t, err)

	acc, err = recovered.Read(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), acc.Version)
	assert.Equal(t, "90.00", domain.FormatMoney(acc.Balance))
	records, err := recovered.ListByAccount(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "-10.00", domain.FormatMoney(records[0].Amount))
	assert.True(t, domain.SumAmounts(records).Equal(acc.Balance))
}

func TestStoreRecoversFromTornWALTail(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.wal")

	w, err := wal.NewWAL(path)
	require.NoError(t, err)
	s, err := NewStore(WithWAL(w))
	require.NoError(t, err)
	_, err = s.CreateIfAbsent(ctx, "u1", decimal.Zero)
	require.NoError(t, err)
	require.NoError(t, s.ConditionalCommit(ctx, commitOf("u1", 0, "50", "50")))
	require.NoError(t, w.Close())

	// 寫到一半 (例如磁碟滿) 的最後一行
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, wal.FileModePrivate)
	require.NoError(t, err)
	_, err = f.WriteString(`{"op":"commit","account_id":"u1","bala`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	w, err = wal.NewWAL(path)
	require.NoError(t, err)
	defer w.Close()
	recovered, err := NewStore(WithWAL(w))
	require.NoError(t, err)

	acc, err := recovered.Read(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), acc.Version)
	assert.Equal(t, "50.00", domain.FormatMoney(acc.Balance))
	require.NoError(t, recovered.ConditionalCommit(ctx, commitOf("u1", 1, "45", "-5")))
}

func TestStoreStopsWritingWhenWALIsBroken(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.wal")

	var breakDisk atomic.Bool
	w, err := wal.NewWAL(path, wal.WithSyncFunc(func(f *os.File) error {
		if breakDisk.Load() {
			_ = f.Close()
			return errors.New("disk gone")
		}
		return f.Sync()
	}))
	require.NoError(t, err)
	s, err := NewStore(WithWAL(w))
	require.NoError(t, err)
	_, err = s.CreateIfAbsent(ctx, "u1", decimal.Zero)
	require.NoError(t, err)

	breakDisk.Store(true)
	err = s.ConditionalCommit(ctx, commitOf("u1", 0, "10", "10"))
	require.ErrorIs(t, err, domain.ErrWALWriteFailed)
	require.ErrorIs(t, err, wal.ErrBroken)

	breakDisk.Store(false)
	require.ErrorIs(t, s.ConditionalCommit(ctx, commitOf("u1", 0, "10", "10")), wal.ErrBroken)
	_, err = s.CreateIfAbsent(ctx, "u2", decimal.Zero)
	require.ErrorIs(t, err, wal.ErrBroken)

	acc, err := s.Read(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), acc.Version)
}

func TestStoreCancelledCommit(t *testing.T) {
	s, err := NewStore()
	require.NoError(t, err)
	_, err = s.CreateIfAbsent(context.Background(), "u1", decimal.Zero)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, s.ConditionalCommit(ctx, commitOf("u1", 0, "1", "1")), context.Canceled)

	acc, err := s.Read(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), acc.Version)
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) usecase.AtomicLedgerStore {
		s, err := NewStore()
		require.NoError(t, err)
		return s
	})
}
