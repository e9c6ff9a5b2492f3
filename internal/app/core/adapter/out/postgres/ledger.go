package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

// uniqueViolation PostgreSQL unique_violation
const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id         TEXT PRIMARY KEY,
	balance    NUMERIC(20,2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
	version    BIGINT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS transactions (
	id           UUID PRIMARY KEY,
	account_id   TEXT NOT NULL REFERENCES accounts(id),
	sequence     BIGINT NOT NULL,
	kind         TEXT NOT NULL,
	amount       NUMERIC(20,2) NOT NULL,
	counterparty TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	UNIQUE (account_id, sequence)
);`

// PostgresLedgerStore 以 pgx 實作 AtomicLedgerStore
type PostgresLedgerStore struct {
	db *pgxpool.Pool
}

func NewPostgresLedgerStore(db *pgxpool.Pool) *PostgresLedgerStore {
	return &PostgresLedgerStore{
		db: db,
	}
}

// Migrate 建立資料表
func (p *PostgresLedgerStore) Migrate(ctx context.Context) error {
	_, err := p.db.Exec(ctx, schema)
	return err
}

func (p *PostgresLedgerStore) Read(ctx context.Context, accountID string) (domain.Account, error) {
	const query = `SELECT balance::text, version, updated_at FROM accounts WHERE id = $1`

	var (
		balance string
		acc     = domain.Account{ID: accountID}
	)
	err := p.db.QueryRow(ctx, query, accountID).Scan(&balance, &acc.Version, &acc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, domain.ErrAccountNotFound
		}
		return domain.Account{}, err
	}
	acc.Balance, err = decimal.NewFromString(balance)
	if err != nil {
		return domain.Account{}, fmt.Errorf("account %s: bad balance %q: %w", accountID, balance, err)
	}
	return acc, nil
}

func (p *PostgresLedgerStore) CreateIfAbsent(ctx context.Context, accountID string, initialBalance decimal.Decimal) (bool, error) {
	const query = `INSERT INTO accounts (id, balance, version, updated_at)
	VALUES ($1, $2::numeric, 0, now())
	ON CONFLICT (id) DO NOTHING`

	tag, err := p.db.Exec(ctx, query, accountID, initialBalance.String())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ConditionalCommit 以 version 做樂觀鎖：
// UPDATE ... WHERE version = $expected RETURNING version，沒有回傳列代表版本不符或帳戶不存在。
func (p *PostgresLedgerStore) ConditionalCommit(ctx context.Context, commit usecase.Commit) (err error) {
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	const update = `UPDATE accounts
		SET balance = $1::numeric, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4
		RETURNING version`

	var newVersion uint64
	err = tx.QueryRow(ctx, update,
		commit.NewBalance.String(),
		time.Now().UTC(),
		commit.AccountID,
		commit.ExpectedVersion,
	).Scan(&newVersion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return p.missOrMismatch(ctx, tx, commit.AccountID)
		}
		return fmt.Errorf("update balance optimistically: %w", err)
	}

	const insert = `INSERT INTO transactions (id, account_id, sequence, kind, amount, counterparty, created_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)`

	rec := commit.Record
	_, err = tx.Exec(ctx, insert,
		rec.ID.String(),
		commit.AccountID,
		newVersion,
		rec.Kind.String(),
		rec.Amount.String(),
		rec.Counterparty,
		rec.CreatedAt,
	)
	if err != nil {
		return insertError(err)
	}
	return tx.Commit(ctx)
}

// insertError (account_id, sequence) 重複代表另一筆提交搶先
func insertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return domain.ErrFingerprintMismatch
	}
	return fmt.Errorf("insert transaction: %w", err)
}

func (p *PostgresLedgerStore) missOrMismatch(ctx context.Context, tx pgx.Tx, accountID string) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return domain.ErrAccountNotFound
	}
	return domain.ErrFingerprintMismatch
}

func (p *PostgresLedgerStore) ListByAccount(ctx context.Context, accountID string, limit int) ([]domain.TransactionRecord, error) {
	query := `SELECT id::text, sequence, kind, amount::text, counterparty, created_at
		FROM transactions WHERE account_id = $1 ORDER BY sequence DESC`
	args := []any{accountID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.TransactionRecord
	for rows.Next() {
		var (
			id, kind, amount string
			rec              = domain.TransactionRecord{AccountID: accountID}
		)
		if err := rows.Scan(&id, &rec.Sequence, &kind, &amount, &rec.Counterparty, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if rec.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if rec.Kind, err = domain.ParseTransactionKind(kind); err != nil {
			return nil, err
		}
		if rec.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		rec.CreatedAt = rec.CreatedAt.UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

var _ usecase.AtomicLedgerStore = (*PostgresLedgerStore)(nil)
