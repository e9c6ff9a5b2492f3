package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-bank-ledger/pkg/auth"
)

// NewRouter 組出 HTTP 路由
//
//	GET  /healthz
//	GET  /v1/account?limit=
//	POST /v1/deposits
//	POST /v1/withdrawals
//	POST /v1/transfers
func NewRouter(h *Handler, verifier *auth.Verifier, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(bearerAuth(verifier))

		r.Get("/account", h.GetAccountSnapshot)
		r.Post("/deposits", h.Deposit)
		r.Post("/withdrawals", h.Withdraw)
		r.Post("/transfers", h.Transfer)
	})
	return r
}
