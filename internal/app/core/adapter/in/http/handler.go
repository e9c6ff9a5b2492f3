package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-bank-ledger/pkg/auth"
)

// maxBodyBytes 請求內容上限
const maxBodyBytes = 1 << 16

// statusClientClosedRequest 用戶端在回應前斷線 (nginx 慣例)
const statusClientClosedRequest = 499

type Handler struct {
	ledger       usecase.Ledger
	historyLimit int
	logger       *zap.Logger
}

func NewHandler(ledger usecase.Ledger, historyLimit int, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		ledger:       ledger,
		historyLimit: historyLimit,
		logger:       logger,
	}
}

type recordJSON struct {
	ID           string    `json:"id"`
	Sequence     uint64    `json:"sequence"`
	Kind         string    `json:"kind"`
	Amount       string    `json:"amount"`
	Counterparty string    `json:"counterparty"`
	CreatedAt    time.Time `json:"created_at"`
}

type snapshotJSON struct {
	AccountID string       `json:"account_id"`
	Balance   string       `json:"balance"`
	Version   uint64       `json:"version"`
	History   []recordJSON `json:"history"`
}

type operationJSON struct {
	Balance  string     `json:"balance"`
	Record   recordJSON `json:"record"`
	Attempts int        `json:"attempts"`
}

type depositRequest struct {
	Amount string `json:"amount"`
	Source string `json:"source"`
}

type withdrawalRequest struct {
	Amount string `json:"amount"`
}

type transferRequest struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

type errorJSON struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// GetAccountSnapshot GET /v1/account?limit=
func (h *Handler) GetAccountSnapshot(w http.ResponseWriter, r *http.Request) {
	accountID, err := auth.PrincipalFrom(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated", err.Error())
		return
	}

	limit := h.historyLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_argument", "limit must be an integer")
			return
		}
	}

	snap, err := h.ledger.GetAccountSnapshot(r.Context(), accountID, limit)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	history := make([]recordJSON, 0, len(snap.History))
	for _, rec := range snap.History {
		history = append(history, toRecordJSON(rec))
	}
	writeJSON(w, http.StatusOK, snapshotJSON{
		AccountID: snap.AccountID,
		Balance:   domain.FormatMoney(snap.Balance),
		Version:   snap.Version,
		History:   history,
	})
}

// Deposit POST /v1/deposits
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	var in depositRequest
	h.operate(w, r, &in, func(ctx context.Context, accountID string) (domain.OperationResult, error) {
		amount, err := domain.ParseAmount(in.Amount)
		if err != nil {
			return domain.OperationResult{}, err
		}
		return h.ledger.ApplyDeposit(ctx, accountID, amount, in.Source)
	})
}

// Withdraw POST /v1/withdrawals
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var in withdrawalRequest
	h.operate(w, r, &in, func(ctx context.Context, accountID string) (domain.OperationResult, error) {
		amount, err := domain.ParseAmount(in.Amount)
		if err != nil {
			return domain.OperationResult{}, err
		}
		return h.ledger.ApplyWithdrawal(ctx, accountID, amount)
	})
}

// Transfer POST /v1/transfers
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var in transferRequest
	h.operate(w, r, &in, func(ctx context.Context, accountID string) (domain.OperationResult, error) {
		amount, err := domain.ParseAmount(in.Amount)
		if err != nil {
			return domain.OperationResult{}, err
		}
		return h.ledger.ApplyTransfer(ctx, accountID, in.Recipient, amount)
	})
}

// operate 解析 body 後執行帳務操作，成功回 201
func (h *Handler) operate(w http.ResponseWriter, r *http.Request, in any, run func(ctx context.Context, accountID string) (domain.OperationResult, error)) {
	accountID, err := auth.PrincipalFrom(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated", err.Error())
		return
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "invalid request body")
		return
	}

	res, err := run(r.Context(), accountID)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, operationJSON{
		Balance:  domain.FormatMoney(res.Balance),
		Record:   toRecordJSON(res.Record),
		Attempts: res.Attempts,
	})
}

// writeLedgerError 帳本錯誤 → HTTP status
func (h *Handler) writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "invalid_amount", err.Error())
	case errors.Is(err, domain.ErrInvalidRecipient):
		writeError(w, http.StatusBadRequest, "invalid_recipient", err.Error())
	case errors.Is(err, domain.ErrInvalidAccountID):
		writeError(w, http.StatusBadRequest, "invalid_account_id", err.Error())
	case errors.Is(err, domain.ErrInsufficientFunds):
		writeError(w, http.StatusUnprocessableEntity, "insufficient_funds", err.Error())
	case errors.Is(err, domain.ErrContention):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusConflict, "contention", err.Error())
	case errors.Is(err, domain.ErrStoreUnavailable):
		h.logger.Error("ledger store unavailable", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "ledger store is unavailable")
	case errors.Is(err, context.Canceled):
		writeError(w, statusClientClosedRequest, "canceled", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "deadline_exceeded", err.Error())
	default:
		h.logger.Error("ledger operation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func toRecordJSON(rec domain.TransactionRecord) recordJSON {
	return recordJSON{
		ID:           rec.ID.String(),
		Sequence:     rec.Sequence,
		Kind:         rec.Kind.String(),
		Amount:       domain.FormatMoney(rec.Amount),
		Counterparty: rec.Counterparty,
		CreatedAt:    rec.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorJSON{Error: code, Message: message})
}
