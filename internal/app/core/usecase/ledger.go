package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// Ledger 是對外 (gRPC / HTTP) 提供的帳本操作
type Ledger interface {
	// GetAccountSnapshot 取得餘額與最近的交易紀錄，帳戶不存在時以餘額 0 建立
	GetAccountSnapshot(ctx context.Context, accountID string, limit int) (domain.AccountSnapshot, error)
	// ApplyDeposit 存款
	ApplyDeposit(ctx context.Context, accountID string, amount decimal.Decimal, source string) (domain.OperationResult, error)
	// ApplyWithdrawal 提款
	ApplyWithdrawal(ctx context.Context, accountID string, amount decimal.Decimal) (domain.OperationResult, error)
	// ApplyTransfer 轉帳
	ApplyTransfer(ctx context.Context, accountID, recipientName string, amount decimal.Decimal) (domain.OperationResult, error)
}

// LedgerCore 是帳本核心業務邏輯層
//
// 不持有任何長時間的鎖，也不快取餘額；每一次操作都在儲存層的條件提交內
// 重新讀取餘額、檢查、寫入。不同帳戶之間互不阻塞。
type LedgerCore struct {
	store     AtomicLedgerStore
	publisher EventPublisher
	retry     RetryPolicy
	logger    *zap.Logger
	now       func() time.Time
	newID     func() uuid.UUID
}

// Option 設定 LedgerCore
type Option func(*LedgerCore)

// WithPublisher 設定提交後的事件出口
func WithPublisher(p EventPublisher) Option {
	return func(l *LedgerCore) {
		l.publisher = p
	}
}

// WithRetryPolicy 設定指紋不符時的重試策略
func WithRetryPolicy(p RetryPolicy) Option {
	return func(l *LedgerCore) {
		l.retry = p.normalize()
	}
}

// WithLogger 設定 logger
func WithLogger(logger *zap.Logger) Option {
	return func(l *LedgerCore) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock 設定時間來源 (測試用)
func WithClock(now func() time.Time) Option {
	return func(l *LedgerCore) {
		l.now = now
	}
}

// WithIDGenerator 設定交易紀錄 ID 產生器 (測試用)
func WithIDGenerator(gen func() uuid.UUID) Option {
	return func(l *LedgerCore) {
		l.newID = gen
	}
}

// NewLedgerCore 建立帳本核心
//
// 參數:
//
//	store: 提供條件提交能力的儲存層
//	opts: 其他選項
//
// 回傳:
//
//	*LedgerCore: 帳本核心實例
func NewLedgerCore(store AtomicLedgerStore, opts ...Option) *LedgerCore {
	l := &LedgerCore{
		store:  store,
		retry:  DefaultRetryPolicy(),
		logger: zap.NewNop(),
		now:    time.Now,
		newID:  uuid.New,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// mutation 一次餘額變動的描述
type mutation struct {
	op           string
	kind         domain.TransactionKind
	amount       decimal.Decimal
	counterparty string
}

// signed 寫入紀錄時的帶號金額
func (m mutation) signed() decimal.Decimal {
	if m.kind == domain.TransactionKindDeposit {
		return m.amount
	}
	return m.amount.Neg()
}

// next 依目前帳戶狀態算出新餘額
func (m mutation) next(acc domain.Account) (decimal.Decimal, error) {
	if m.kind == domain.TransactionKindDeposit {
		return acc.Credit(m.amount)
	}
	return acc.Debit(m.amount)
}

// GetAccountSnapshot 取得帳戶餘額與交易紀錄 (新的在前)
//
// 帳戶不存在時會以餘額 0 建立，重複呼叫結果相同。
// limit <= 0 表示全部紀錄。
func (l *LedgerCore) GetAccountSnapshot(ctx context.Context, accountID string, limit int) (domain.AccountSnapshot, error) {
	if err := validateAccountID(accountID); err != nil {
		return domain.AccountSnapshot{}, err
	}
	acc, err := l.loadOrCreate(ctx, accountID)
	if err != nil {
		return domain.AccountSnapshot{}, storeError(err)
	}

	history, err := l.historyAt(ctx, acc, limit)
	if err != nil {
		return domain.AccountSnapshot{}, storeError(err)
	}
	return domain.AccountSnapshot{
		AccountID: acc.ID,
		Balance:   acc.Balance,
		Version:   acc.Version,
		History:   history,
	}, nil
}

// historyAt 只回傳 Sequence <= acc.Version 的紀錄，
// 讓餘額與紀錄對應同一個提交點 (讀取期間新提交的紀錄會被略過)。
func (l *LedgerCore) historyAt(ctx context.Context, acc domain.Account, limit int) ([]domain.TransactionRecord, error) {
	fetch := limit
	for i := 0; ; i++ {
		records, err := l.store.ListByAccount(ctx, acc.ID, fetch)
		if err != nil {
			return nil, err
		}
		kept := make([]domain.TransactionRecord, 0, len(records))
		for _, r := range records {
			if r.Sequence <= acc.Version {
				kept = append(kept, r)
			}
		}
		if limit <= 0 {
			return kept, nil
		}
		skipped := len(records) - len(kept)
		if len(kept) >= limit || len(records) < fetch || skipped == 0 || i >= l.retry.MaxAttempts {
			if len(kept) > limit {
				kept = kept[:limit]
			}
			return kept, nil
		}
		fetch = limit + skipped
	}
}

// ApplyDeposit 存款；source 為空時對手方記為 "Deposit"
func (l *LedgerCore) ApplyDeposit(ctx context.Context, accountID string, amount decimal.Decimal, source string) (domain.OperationResult, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		source = domain.DepositCounterparty
	}
	return l.apply(ctx, accountID, mutation{
		op:           "deposit",
		kind:         domain.TransactionKindDeposit,
		amount:       amount,
		counterparty: source,
	})
}

// ApplyWithdrawal 提款，對手方固定為 ATM
func (l *LedgerCore) ApplyWithdrawal(ctx context.Context, accountID string, amount decimal.Decimal) (domain.OperationResult, error) {
	return l.apply(ctx, accountID, mutation{
		op:           "withdrawal",
		kind:         domain.TransactionKindWithdrawal,
		amount:       amount,
		counterparty: domain.WithdrawalCounterparty,
	})
}

// ApplyTransfer 轉帳給 recipientName
//
// 只記錄付款方這一邊 (單邊記帳)，收款方不會有對應的入帳。
func (l *LedgerCore) ApplyTransfer(ctx context.Context, accountID, recipientName string, amount decimal.Decimal) (domain.OperationResult, error) {
	recipientName = strings.TrimSpace(recipientName)
	if recipientName == "" {
		return domain.OperationResult{}, l.reject("transfer", accountID, 0, domain.ErrInvalidRecipient)
	}
	return l.apply(ctx, accountID, mutation{
		op:           "transfer",
		kind:         domain.TransactionKindTransfer,
		amount:       amount,
		counterparty: recipientName,
	})
}

// apply 讀取 → 檢查 → 條件提交，指紋不符時整段重來
func (l *LedgerCore) apply(ctx context.Context, accountID string, m mutation) (domain.OperationResult, error) {
	// Validating: 格式錯誤在碰到儲存層之前就拒絕
	if err := validateAccountID(accountID); err != nil {
		return domain.OperationResult{}, l.reject(m.op, accountID, 0, err)
	}
	if err := domain.ValidateAmount(m.amount); err != nil {
		return domain.OperationResult{}, l.reject(m.op, accountID, 0, err)
	}

	policy := l.retry
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.OperationResult{}, l.abort(m.op, accountID, attempt-1, err)
		}

		acc, err := l.loadOrCreate(ctx, accountID)
		if err != nil {
			return domain.OperationResult{}, l.abort(m.op, accountID, attempt, storeError(err))
		}

		newBalance, err := m.next(acc)
		if err != nil {
			return domain.OperationResult{}, l.reject(m.op, accountID, attempt, err)
		}

		rec := domain.TransactionRecord{
			ID:           l.newID(),
			AccountID:    accountID,
			Sequence:     acc.Version + 1,
			Kind:         m.kind,
			Amount:       m.signed(),
			Counterparty: m.counterparty,
			CreatedAt:    l.now().UTC(),
		}

		// Committing
		err = l.store.ConditionalCommit(ctx, Commit{
			AccountID:       accountID,
			ExpectedVersion: acc.Version,
			NewBalance:      newBalance,
			Record:          rec,
		})
		switch {
		case err == nil:
			l.logger.Debug("ledger operation committed",
				zap.String("op", m.op),
				zap.String("account_id", accountID),
				zap.Uint64("sequence", rec.Sequence),
				zap.String("amount", domain.FormatMoney(rec.Amount)),
				zap.String("balance", domain.FormatMoney(newBalance)),
				zap.Int("attempts", attempt),
			)
			l.publish(ctx, domain.NewTransactionCommitted(rec, newBalance))
			return domain.OperationResult{
				Balance:  newBalance,
				Record:   rec,
				Attempts: attempt,
				State:    domain.OperationCommitted,
			}, nil

		case errors.Is(err, domain.ErrFingerprintMismatch):
			// Retrying
			l.logger.Debug("ledger commit lost race, retrying",
				zap.String("op", m.op),
				zap.String("account_id", accountID),
				zap.Uint64("expected_version", acc.Version),
				zap.Int("attempt", attempt),
			)
			if attempt < policy.MaxAttempts {
				if err := sleepContext(ctx, policy.Backoff(attempt)); err != nil {
					return domain.OperationResult{}, l.abort(m.op, accountID, attempt, err)
				}
			}

		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return domain.OperationResult{}, l.abort(m.op, accountID, attempt, err)

		default:
			return domain.OperationResult{}, l.abort(m.op, accountID, attempt, storeError(err))
		}
	}

	l.logger.Warn("ledger operation aborted by contention",
		zap.String("op", m.op),
		zap.String("account_id", accountID),
		zap.Int("attempts", policy.MaxAttempts),
	)
	return domain.OperationResult{}, &domain.OperationError{
		Op:        m.op,
		AccountID: accountID,
		State:     domain.OperationAborted,
		Attempts:  policy.MaxAttempts,
		Err:       domain.ErrContention,
	}
}

// VerifyAccount 檢查 0 + 所有紀錄金額 == 餘額，且紀錄數 == Version
func (l *LedgerCore) VerifyAccount(ctx context.Context, accountID string) error {
	acc, err := l.store.Read(ctx, accountID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return err
		}
		return storeError(err)
	}
	history, err := l.historyAt(ctx, acc, 0)
	if err != nil {
		return storeError(err)
	}
	sum := domain.SumAmounts(history)
	if !sum.Equal(acc.Balance) {
		return fmt.Errorf("%w: account %s balance %s, history sums to %s",
			domain.ErrLedgerCorrupted, accountID, domain.FormatMoney(acc.Balance), domain.FormatMoney(sum))
	}
	if uint64(len(history)) != acc.Version {
		return fmt.Errorf("%w: account %s version %d, %d records",
			domain.ErrLedgerCorrupted, accountID, acc.Version, len(history))
	}
	for i, r := range history {
		if want := acc.Version - uint64(i); r.Sequence != want {
			return fmt.Errorf("%w: account %s record %d has sequence %d, want %d",
				domain.ErrLedgerCorrupted, accountID, i, r.Sequence, want)
		}
	}
	return nil
}

// loadOrCreate 讀取帳戶，不存在則以餘額 0 建立後再讀一次
func (l *LedgerCore) loadOrCreate(ctx context.Context, accountID string) (domain.Account, error) {
	acc, err := l.store.Read(ctx, accountID)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, domain.ErrAccountNotFound) {
		return domain.Account{}, err
	}
	created, err := l.store.CreateIfAbsent(ctx, accountID, decimal.Zero)
	if err != nil {
		return domain.Account{}, err
	}
	if created {
		l.logger.Info("account created", zap.String("account_id", accountID))
	}
	return l.store.Read(ctx, accountID)
}

func (l *LedgerCore) publish(ctx context.Context, event domain.TransactionCommitted) {
	if l.publisher == nil {
		return
	}
	// 已經過了提交點，呼叫端取消也不影響事件
	if err := l.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		l.logger.Warn("publish transaction committed event failed",
			zap.String("account_id", event.AccountID),
			zap.Uint64("sequence", event.Sequence),
			zap.Error(err),
		)
	}
}

func (l *LedgerCore) reject(op, accountID string, attempts int, err error) error {
	l.logger.Debug("ledger operation rejected",
		zap.String("op", op),
		zap.String("account_id", accountID),
		zap.Error(err),
	)
	return &domain.OperationError{
		Op:        op,
		AccountID: accountID,
		State:     domain.OperationRejected,
		Attempts:  attempts,
		Err:       err,
	}
}

func (l *LedgerCore) abort(op, accountID string, attempts int, err error) error {
	if errors.Is(err, domain.ErrStoreUnavailable) {
		l.logger.Error("ledger store failure",
			zap.String("op", op),
			zap.String("account_id", accountID),
			zap.Error(err),
		)
	}
	return &domain.OperationError{
		Op:        op,
		AccountID: accountID,
		State:     domain.OperationAborted,
		Attempts:  attempts,
		Err:       err,
	}
}

func validateAccountID(accountID string) error {
	if strings.TrimSpace(accountID) == "" {
		return domain.ErrInvalidAccountID
	}
	return nil
}

// storeError 把儲存層錯誤歸類為 ErrStoreUnavailable (保留原始錯誤)
func storeError(err error) error {
	if err == nil || errors.Is(err, domain.ErrStoreUnavailable) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
}

var _ Ledger = (*LedgerCore)(nil)
