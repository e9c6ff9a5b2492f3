package mysql

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/storetest"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-bank-ledger/pkg/mysql"
)

// 需要真的 MySQL：LEDGER_TEST_MYSQL_HOST=127.0.0.1 LEDGER_TEST_MYSQL_PORT=3306 ...
func testConfig(t *testing.T) mysql.Config {
	host := os.Getenv("LEDGER_TEST_MYSQL_HOST")
	if host == "" {
		t.Skip("LEDGER_TEST_MYSQL_HOST not set")
	}
	port, _ := strconv.Atoi(os.Getenv("LEDGER_TEST_MYSQL_PORT"))
	if port == 0 {
		port = 3306
	}
	return mysql.Config{
		Host:           host,
		Port:           port,
		User:           os.Getenv("LEDGER_TEST_MYSQL_USER"),
		Password:       os.Getenv("LEDGER_TEST_MYSQL_PASSWORD"),
		DBName:         os.Getenv("LEDGER_TEST_MYSQL_DB"),
		MaxOpenConns:   20,
		MaxIdleConns:   5,
		ConnectRetries: 1,
		LogLevel:       "silent",
	}
}

func TestMySQLLedgerStoreContract(t *testing.T) {
	cfg := testConfig(t)
	client, err := mysql.NewClient(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store := NewMySQLLedgerStore(client)
	require.NoError(t, store.AutoMigrate(context.Background()))

	// 每個子測試使用不同的帳戶 ID，共用同一組資料表
	storetest.Run(t, func(t *testing.T) usecase.AtomicLedgerStore {
		return store
	})
}

func TestInsertError(t *testing.T) {
	assert.NoError(t, insertError(nil))
	assert.ErrorIs(t, insertError(gorm.ErrDuplicatedKey), domain.ErrFingerprintMismatch)
	assert.ErrorIs(t, insertError(fmt.Errorf("create: %w", gorm.ErrDuplicatedKey)), domain.ErrFingerprintMismatch)

	other := errors.New("connection reset")
	err := insertError(other)
	assert.ErrorIs(t, err, other)
	assert.NotErrorIs(t, err, domain.ErrFingerprintMismatch)
}
