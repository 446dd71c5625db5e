package httpserver

import (
	"context"
	"net/http"
	"strings"

	"pf-ledger/internal/auth"
	"pf-ledger/internal/httputil"
)

type ctxKey string

const accountIDKey ctxKey = "account_id"

// WithAuth resolves the bearer token into an account ID. Everything behind it
// deals in authenticated account handles only.
func WithAuth(svc *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := r.Header.Get("Authorization")
			parts := strings.SplitN(authz, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "missing bearer token"})
				return
			}
			accountID, err := svc.ParseToken(parts[1])
			if err != nil {
				httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "invalid token"})
				return
			}
			ctx := context.WithValue(r.Context(), accountIDKey, accountID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func AccountID(r *http.Request) (string, bool) {
	v := r.Context().Value(accountIDKey)
	if v == nil {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}
