package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"pf-ledger/internal/auth"
	"pf-ledger/internal/health"
	"pf-ledger/internal/httputil"
	"pf-ledger/internal/ledger"
)

type RouterDeps struct {
	AuthHandler   *auth.Handler
	LedgerHandler *ledger.Handler
	HealthHandler *health.Handler
	AuthService   *auth.Service
}

// authed adapts a handler that needs the account ID resolved by WithAuth.
func authed(h func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := AccountID(r)
		if !ok {
			httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "unauthorized"})
			return
		}
		h(w, r, accountID)
	}
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", d.HealthHandler.Ready)
	r.Get("/health/live", d.HealthHandler.Live)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", d.AuthHandler.Register)
			r.Post("/login", d.AuthHandler.Login)
		})

		r.Group(func(r chi.Router) {
			r.Use(WithAuth(d.AuthService))
			r.Get("/me", authed(d.LedgerHandler.Me))
			r.Post("/funds/deposit", authed(d.LedgerHandler.Deposit))
			r.Post("/funds/withdraw", authed(d.LedgerHandler.Withdraw))
			r.Get("/positions", authed(d.LedgerHandler.Positions))
			r.Post("/positions", authed(d.LedgerHandler.OpenPosition))
			r.Post("/positions/{positionID}/close", authed(d.LedgerHandler.ClosePosition))
			r.Post("/assets/{asset}/close", authed(d.LedgerHandler.CloseAsset))
			r.Get("/trades", authed(d.LedgerHandler.Trades))
			r.Get("/history", authed(d.LedgerHandler.History))
		})
	})

	return r
}
