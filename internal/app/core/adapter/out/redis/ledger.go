package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

const (
	fieldBalance   = "balance"
	fieldVersion   = "version"
	fieldUpdatedAt = "updated_at"
)

// RedisLedgerStore 把每個帳戶存成一份 hash 文件，交易紀錄存成 list (新的在前)
//
// 條件提交使用 WATCH/MULTI：WATCH 帳戶文件後比對 version，
// 在 EXEC 之前文件若被改動，整個 MULTI 會被放棄 (redis.TxFailedErr)。
type RedisLedgerStore struct {
	rdb    redis.UniversalClient
	prefix string

	// beforeExec 測試用：版本比對通過後、EXEC 之前呼叫
	beforeExec func(ctx context.Context, accountID string)
}

func NewRedisLedgerStore(rdb redis.UniversalClient, prefix string) *RedisLedgerStore {
	if prefix == "" {
		prefix = "ledger"
	}
	return &RedisLedgerStore{
		rdb:    rdb,
		prefix: prefix,
	}
}

// accountKey / historyKey 用 {id} hash tag，cluster 下兩個 key 落在同一個 slot
func (s *RedisLedgerStore) accountKey(accountID string) string {
	return s.prefix + ":{" + accountID + "}:account"
}

func (s *RedisLedgerStore) historyKey(accountID string) string {
	return s.prefix + ":{" + accountID + "}:history"
}

func (s *RedisLedgerStore) Read(ctx context.Context, accountID string) (domain.Account, error) {
	fields, err := s.rdb.HGetAll(ctx, s.accountKey(accountID)).Result()
	if err != nil {
		return domain.Account{}, err
	}
	if len(fields) == 0 {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return parseAccount(accountID, fields)
}

func parseAccount(accountID string, fields map[string]string) (domain.Account, error) {
	balance, err := decimal.NewFromString(fields[fieldBalance])
	if err != nil {
		return domain.Account{}, fmt.Errorf("account %s: bad balance: %w", accountID, err)
	}
	version, err := strconv.ParseUint(fields[fieldVersion], 10, 64)
	if err != nil {
		return domain.Account{}, fmt.Errorf("account %s: bad version: %w", accountID, err)
	}
	updatedAt, _ := strconv.ParseInt(fields[fieldUpdatedAt], 10, 64)
	return domain.Account{
		ID:        accountID,
		Balance:   balance,
		Version:   version,
		UpdatedAt: time.UnixMilli(updatedAt).UTC(),
	}, nil
}

func (s *RedisLedgerStore) CreateIfAbsent(ctx context.Context, accountID string, initialBalance decimal.Decimal) (bool, error) {
	key := s.accountKey(accountID)
	created := false
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				fieldBalance, initialBalance.String(),
				fieldVersion, 0,
				fieldUpdatedAt, time.Now().UnixMilli(),
			)
			return nil
		})
		if err == nil {
			created = true
		}
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		// 同時有人建立，帳戶已存在
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return created, nil
}

func (s *RedisLedgerStore) ConditionalCommit(ctx context.Context, commit usecase.Commit) error {
	key := s.accountKey(commit.AccountID)
	rec := commit.Record
	rec.AccountID = commit.AccountID
	rec.Sequence = commit.ExpectedVersion + 1
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, key, fieldVersion).Result()
		if errors.Is(err, redis.Nil) {
			return domain.ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		version, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("account %s: bad version: %w", commit.AccountID, err)
		}
		if version != commit.ExpectedVersion {
			return domain.ErrFingerprintMismatch
		}
		if s.beforeExec != nil {
			s.beforeExec(ctx, commit.AccountID)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				fieldBalance, commit.NewBalance.String(),
				fieldVersion, rec.Sequence,
				fieldUpdatedAt, time.Now().UnixMilli(),
			)
			pipe.LPush(ctx, s.historyKey(commit.AccountID), data)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return domain.ErrFingerprintMismatch
	}
	return err
}

func (s *RedisLedgerStore) ListByAccount(ctx context.Context, accountID string, limit int) ([]domain.TransactionRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	items, err := s.rdb.LRange(ctx, s.historyKey(accountID), 0, stop).Result()
	if err != nil {
		return nil, err
	}
	records := make([]domain.TransactionRecord, 0, len(items))
	for _, item := range items {
		var rec domain.TransactionRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("account %s: bad history entry: %w", accountID, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

var _ usecase.AtomicLedgerStore = (*RedisLedgerStore)(nil)
