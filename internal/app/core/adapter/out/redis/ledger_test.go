package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/storetest"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	rdsclient "github.com/JoeShih716/go-bank-ledger/pkg/redis"
)

func TestKeysShareHashSlot(t *testing.T) {
	s := NewRedisLedgerStore(nil, "")
	assert.Equal(t, "ledger:{u1}:account", s.accountKey("u1"))
	assert.Equal(t, "ledger:{u1}:history", s.historyKey("u1"))
}

func TestParseAccount(t *testing.T) {
	acc, err := parseAccount("u1", map[string]string{
		fieldBalance:   "87.5",
		fieldVersion:   "2",
		fieldUpdatedAt: "1700000000000",
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), acc.Version)
	assert.Equal(t, "87.50", acc.Balance.StringFixed(2))

	_, err = parseAccount("u1", map[string]string{fieldBalance: "x", fieldVersion: "1"})
	assert.Error(t, err)
}

func TestRedisLedgerStoreContract(t *testing.T) {
	addr := os.Getenv("LEDGER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LEDGER_TEST_REDIS_ADDR not set")
	}
	rdb, err := rdsclient.NewClient(context.Background(), rdsclient.Config{Addrs: []string{addr}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	storetest.Run(t, func(t *testing.T) usecase.AtomicLedgerStore {
		return NewRedisLedgerStore(rdb, "ledger-test")
	})
}

// newMiniredis 啟動記憶體內的 redis server
func newMiniredis(t *testing.T) redis.UniversalClient {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisLedgerStoreContractMiniredis(t *testing.T) {
	rdb := newMiniredis(t)
	storetest.Run(t, func(t *testing.T) usecase.AtomicLedgerStore {
		return NewRedisLedgerStore(rdb, "ledger-test")
	})
}

func depositCommit(accountID string, expected uint64, balance string) usecase.Commit {
	return usecase.Commit{
		AccountID:       accountID,
		ExpectedVersion: expected,
		NewBalance:      decimal.RequireFromString(balance),
		Record: domain.TransactionRecord{
			ID:           uuid.New(),
			Kind:         domain.TransactionKindDeposit,
			Amount:       decimal.RequireFromString(balance),
			Counterparty: domain.DepositCounterparty,
			CreatedAt:    time.Now().UTC(),
		},
	}
}

func TestRedisWatchedKeyChangedBeforeExec(t *testing.T) {
	ctx := context.Background()
	rdb := newMiniredis(t)
	s := NewRedisLedgerStore(rdb, "")

	_, err := s.CreateIfAbsent(ctx, "u1", decimal.Zero)
	require.NoError(t, err)

	// 版本比對通過之後，另一條連線改動了帳戶文件，EXEC 會被放棄
	fired := false
	s.beforeExec = func(ctx context.Context, accountID string) {
		if fired {
			return
		}
		fired = true
		require.NoError(t, rdb.HSet(ctx, s.accountKey(accountID), fieldUpdatedAt, 1).Err())
	}

	err = s.ConditionalCommit(ctx, depositCommit("u1", 0, "10"))
	require.ErrorIs(t, err, domain.ErrFingerprintMismatch)
	assert.True(t, fired)

	acc, err := s.Read(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), acc.Version)
	records, err := s.ListByAccount(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Empty(t, records)

	// 重新讀取後再提交即可成功
	require.NoError(t, s.ConditionalCommit(ctx, depositCommit("u1", 0, "10")))
	acc, err = s.Read(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), acc.Version)
	assert.Equal(t, "10.00", acc.Balance.StringFixed(2))
}

func TestRedisCommitMissingAccount(t *testing.T) {
	s := NewRedisLedgerStore(newMiniredis(t), "")
	err := s.ConditionalCommit(context.Background(), depositCommit("ghost", 0, "1"))
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}
