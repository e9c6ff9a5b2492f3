package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-bank-ledger/pkg/wal"
)

const (
	walOpCreate = "create"
	walOpCommit = "commit"
)

// walEntry WAL 中的一行
type walEntry struct {
	Op        string                    `json:"op"`
	AccountID string                    `json:"account_id"`
	Balance   decimal.Decimal           `json:"balance"`
	Expected  uint64                    `json:"expected_version,omitempty"`
	Record    *domain.TransactionRecord `json:"record,omitempty"`
	At        time.Time                 `json:"at"`
}

// Store 是一個使用 RWMutex 實現的 AtomicLedgerStore
//
// 結構:
//
//	accounts: 帳戶餘額文件
//	history: 每個帳戶的交易紀錄 (依提交順序，舊的在前)
//	wal: Write-Ahead Log 實例，nil 表示純記憶體
//	beforeCommit: 測試用，在條件提交取得鎖之前呼叫，用來模擬併發提交
//	beforeList: 測試用，在讀取交易紀錄取得鎖之前呼叫
type Store struct {
	mu       sync.RWMutex
	accounts map[string]*domain.Account
	history  map[string][]domain.TransactionRecord
	wal      *wal.WAL
	now      func() time.Time

	beforeCommit atomic.Pointer[func(usecase.Commit)]
	beforeList   atomic.Pointer[func(accountID string)]
	failure      atomic.Pointer[error]
	writes       atomic.Int64
}

// Option 設定 Store
type Option func(*Store)

// WithWAL 每次寫入先落地到 WAL，啟動時從 WAL 恢復
func WithWAL(w *wal.WAL) Option {
	return func(s *Store) {
		s.wal = w
	}
}

// WithClock 設定時間來源
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore 建立一個新的記憶體帳本儲存
//
// 參數:
//
//	opts: WAL / 時間來源
//
// 回傳:
//
//	*Store: Store 實例
//	error: 初始化錯誤 (如 WAL 恢復失敗)
func NewStore(opts ...Option) (*Store, error) {
	s := &Store{
		accounts: make(map[string]*domain.Account),
		history:  make(map[string][]domain.TransactionRecord),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.wal != nil {
		if err := s.recoverFromWAL(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// recoverFromWAL 從 WAL 檔案恢復帳本狀態
// 只有 NewStore 呼叫，無需 Lock (單執行緒)
func (s *Store) recoverFromWAL() error {
	return s.wal.ReadAll(func(jsonRaw []byte) error {
		var entry walEntry
		if err := json.Unmarshal(jsonRaw, &entry); err != nil {
			return err
		}
		switch entry.Op {
		case walOpCreate:
			if _, ok := s.accounts[entry.AccountID]; ok {
				return nil
			}
			acc := domain.NewAccount(entry.AccountID, entry.At)
			acc.Balance = entry.Balance
			s.accounts[entry.AccountID] = acc
		case walOpCommit:
			if entry.Record == nil {
				return fmt.Errorf("memory: wal commit entry for %s without record", entry.AccountID)
			}
			acc, ok := s.accounts[entry.AccountID]
			if !ok {
				return fmt.Errorf("memory: wal commit for unknown account %s", entry.AccountID)
			}
			if acc.Version != entry.Expected {
				return fmt.Errorf("memory: wal commit for %s expects version %d, have %d",
					entry.AccountID, entry.Expected, acc.Version)
			}
			s.applyCommit(acc, entry.Balance, *entry.Record, entry.At)
		default:
			return fmt.Errorf("memory: unknown wal op %q", entry.Op)
		}
		return nil
	})
}

// SetBeforeCommit 設定提交前 hook (nil 取消)
//
// hook 在取得鎖之前執行，所以可以在裡面再呼叫 ConditionalCommit，
// 模擬「讀取之後、提交之前」有另一筆交易先提交。
func (s *Store) SetBeforeCommit(hook func(usecase.Commit)) {
	if hook == nil {
		s.beforeCommit.Store(nil)
		return
	}
	s.beforeCommit.Store(&hook)
}

// SetBeforeList 設定讀取交易紀錄前的 hook (nil 取消)
// 用來模擬「讀到餘額之後、讀紀錄之前」有新的提交。
func (s *Store) SetBeforeList(hook func(accountID string)) {
	if hook == nil {
		s.beforeList.Store(nil)
		return
	}
	s.beforeList.Store(&hook)
}

// SetFailure 之後所有操作都回傳 err (nil 恢復正常)，用來模擬儲存層無回應
func (s *Store) SetFailure(err error) {
	if err == nil {
		s.failure.Store(nil)
		return
	}
	s.failure.Store(&err)
}

// Writes 收到的寫入請求次數 (CreateIfAbsent + ConditionalCommit)
func (s *Store) Writes() int64 {
	return s.writes.Load()
}

func (s *Store) failed() error {
	if p := s.failure.Load(); p != nil {
		return *p
	}
	return nil
}

// Read 讀取帳戶餘額與版本
func (s *Store) Read(ctx context.Context, accountID string) (domain.Account, error) {
	if err := s.failed(); err != nil {
		return domain.Account{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[accountID]
	if !ok {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return *acc, nil
}

// CreateIfAbsent 帳戶不存在才建立
func (s *Store) CreateIfAbsent(ctx context.Context, accountID string, initialBalance decimal.Decimal) (bool, error) {
	s.writes.Add(1)
	if err := s.failed(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[accountID]; ok {
		return false, nil
	}
	now := s.now()
	if s.wal != nil {
		if err := s.wal.Write(walEntry{Op: walOpCreate, AccountID: accountID, Balance: initialBalance, At: now}); err != nil {
			return false, fmt.Errorf("%w: %w", domain.ErrWALWriteFailed, err)
		}
	}
	acc := domain.NewAccount(accountID, now)
	acc.Balance = initialBalance
	s.accounts[accountID] = acc
	return true, nil
}

// ConditionalCommit 版本相符才寫入餘額並追加紀錄
func (s *Store) ConditionalCommit(ctx context.Context, commit usecase.Commit) error {
	s.writes.Add(1)
	if hook := s.beforeCommit.Load(); hook != nil {
		(*hook)(commit)
	}
	if err := s.failed(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[commit.AccountID]
	if !ok {
		return domain.ErrAccountNotFound
	}
	if acc.Version != commit.ExpectedVersion {
		return domain.ErrFingerprintMismatch
	}

	rec := commit.Record
	rec.AccountID = commit.AccountID
	rec.Sequence = acc.Version + 1
	now := s.now()

	// 1. 寫入 WAL (Critical Path)；失敗時 WAL 已截回原狀，記憶體不套用
	if s.wal != nil {
		err := s.wal.Write(walEntry{
			Op:        walOpCommit,
			AccountID: commit.AccountID,
			Balance:   commit.NewBalance,
			Expected:  commit.ExpectedVersion,
			Record:    &rec,
			At:        now,
		})
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrWALWriteFailed, err)
		}
	}

	// 2. 套用到記憶體
	s.applyCommit(acc, commit.NewBalance, rec, now)
	return nil
}

// applyCommit 呼叫端需持有寫鎖 (或在恢復階段)
func (s *Store) applyCommit(acc *domain.Account, balance decimal.Decimal, rec domain.TransactionRecord, now time.Time) {
	acc.Balance = balance
	acc.Version++
	acc.UpdatedAt = now
	s.history[acc.ID] = append(s.history[acc.ID], rec)
}

// ListByAccount 由新到舊回傳紀錄
func (s *Store) ListByAccount(ctx context.Context, accountID string, limit int) ([]domain.TransactionRecord, error) {
	if hook := s.beforeList.Load(); hook != nil {
		(*hook)(accountID)
	}
	if err := s.failed(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.history[accountID]
	n := len(records)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.TransactionRecord, 0, n)
	for i := len(records) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, records[i])
	}
	return out, nil
}

var _ usecase.AtomicLedgerStore = (*Store)(nil)
