package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-bank-ledger/pkg/mysql"
)

// sqlAccount 對應資料庫的 accounts 表
// version 即為條件提交用的指紋
type sqlAccount struct {
	ID        string          `gorm:"primaryKey;size:128"`
	Balance   decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	Version   uint64          `gorm:"not null;default:0"`
	UpdatedAt int64           `gorm:"autoUpdateTime:milli"` // 自動更新時間
}

func (*sqlAccount) TableName() string {
	return "accounts"
}

// sqlTransaction 對應資料庫的 transactions 表 (append-only)
type sqlTransaction struct {
	ID           int64           `gorm:"primaryKey;autoIncrement"`
	RefID        []byte          `gorm:"column:ref_id;type:binary(16);uniqueIndex"` // 對應 domain.TransactionRecord.ID
	AccountID    string          `gorm:"size:128;not null;uniqueIndex:idx_account_sequence,priority:1"`
	Sequence     uint64          `gorm:"not null;uniqueIndex:idx_account_sequence,priority:2"`
	Kind         string          `gorm:"size:16;not null"`
	Amount       decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	Counterparty string          `gorm:"size:255;not null"`
	CreatedAt    time.Time       `gorm:"not null"`
}

func (*sqlTransaction) TableName() string {
	return "transactions"
}

// MySQLLedgerStore 以 gorm/MySQL 實作 AtomicLedgerStore
type MySQLLedgerStore struct {
	client *mysql.Client
}

func NewMySQLLedgerStore(client *mysql.Client) *MySQLLedgerStore {
	return &MySQLLedgerStore{
		client: client,
	}
}

// AutoMigrate 建立 / 更新資料表
func (s *MySQLLedgerStore) AutoMigrate(ctx context.Context) error {
	return s.client.DB().WithContext(ctx).AutoMigrate(&sqlAccount{}, &sqlTransaction{})
}

// Read 取得帳戶餘額與版本
func (s *MySQLLedgerStore) Read(ctx context.Context, accountID string) (domain.Account, error) {
	var row sqlAccount
	err := s.client.DB().WithContext(ctx).Where("id = ?", accountID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Account{}, domain.ErrAccountNotFound
		}
		return domain.Account{}, err
	}
	return domain.Account{
		ID:        row.ID,
		Balance:   row.Balance,
		Version:   row.Version,
		UpdatedAt: time.UnixMilli(row.UpdatedAt),
	}, nil
}

// CreateIfAbsent INSERT ... ON DUPLICATE KEY 不做任何事
func (s *MySQLLedgerStore) CreateIfAbsent(ctx context.Context, accountID string, initialBalance decimal.Decimal) (bool, error) {
	row := sqlAccount{ID: accountID, Balance: initialBalance}
	res := s.client.DB().WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ConditionalCommit 在同一個 DB transaction 內：
// 以 version 為條件更新餘額 (樂觀鎖)，0 筆受影響代表已被其他提交改變；成功才寫入交易紀錄。
func (s *MySQLLedgerStore) ConditionalCommit(ctx context.Context, commit usecase.Commit) error {
	return s.client.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&sqlAccount{}).
			Where("id = ? AND version = ?", commit.AccountID, commit.ExpectedVersion).
			Updates(map[string]any{
				"balance": commit.NewBalance,
				"version": gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return s.missOrMismatch(tx, commit.AccountID)
		}

		rec := commit.Record
		row := sqlTransaction{
			RefID:        rec.ID[:],
			AccountID:    commit.AccountID,
			Sequence:     commit.ExpectedVersion + 1,
			Kind:         rec.Kind.String(),
			Amount:       rec.Amount,
			Counterparty: rec.Counterparty,
			CreatedAt:    rec.CreatedAt,
		}
		return insertError(tx.Create(&row).Error)
	})
}

// insertError 同一個 (account_id, sequence) 已被寫入，代表另一筆提交搶先
func insertError(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrFingerprintMismatch
	}
	return err
}

// missOrMismatch 區分帳戶不存在與版本不符
func (s *MySQLLedgerStore) missOrMismatch(tx *gorm.DB, accountID string) error {
	var count int64
	if err := tx.Model(&sqlAccount{}).Where("id = ?", accountID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrAccountNotFound
	}
	return domain.ErrFingerprintMismatch
}

// ListByAccount 依 sequence 由新到舊
func (s *MySQLLedgerStore) ListByAccount(ctx context.Context, accountID string, limit int) ([]domain.TransactionRecord, error) {
	q := s.client.DB().WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("sequence DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []sqlTransaction
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.TransactionRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (row sqlTransaction) toDomain() (domain.TransactionRecord, error) {
	id, err := uuid.FromBytes(row.RefID)
	if err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("transaction %d: bad ref_id: %w", row.ID, err)
	}
	kind, err := domain.ParseTransactionKind(row.Kind)
	if err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("transaction %d: %w", row.ID, err)
	}
	return domain.TransactionRecord{
		ID:           id,
		AccountID:    row.AccountID,
		Sequence:     row.Sequence,
		Kind:         kind,
		Amount:       row.Amount,
		Counterparty: row.Counterparty,
		CreatedAt:    row.CreatedAt.UTC(),
	}, nil
}

var _ usecase.AtomicLedgerStore = (*MySQLLedgerStore)(nil)
