package ledger

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"pf-ledger/internal/httputil"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type movementRequest struct {
	Amount string `json:"amount"`
}

type openRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func writeEngineError(w http.ResponseWriter, accountID string, err error) {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
	case errors.Is(err, ErrInsufficientFunds):
		httputil.WriteJSON(w, http.StatusUnprocessableEntity, httputil.ErrorResponse{Error: err.Error()})
	case errors.Is(err, ErrPositionNotFound):
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: err.Error()})
	case errors.Is(err, ErrPriceUnavailable):
		httputil.WriteJSON(w, http.StatusServiceUnavailable, httputil.ErrorResponse{Error: err.Error()})
	default:
		logrus.WithFields(logrus.Fields{"account": accountID}).Errorf("ledger: %v", err)
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: "internal error"})
	}
}

func parseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.New("invalid amount")
	}
	return amount, nil
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request, accountID string) {
	acc, err := h.svc.Account(r.Context(), accountID)
	if err != nil {
		writeEngineError(w, accountID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, acc)
}

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request, accountID string) {
	var req movementRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	balance, err := h.svc.Deposit(r.Context(), accountID, amount)
	if err != nil {
		writeEngineError(w, accountID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"funds": balance.StringFixed(2)})
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request, accountID string) {
	var req movementRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	balance, err := h.svc.Withdraw(r.Context(), accountID, amount)
	if err != nil {
		writeEngineError(w, accountID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"funds": balance.StringFixed(2)})
}

func (h *Handler) OpenPosition(w http.ResponseWriter, r *http.Request, accountID string) {
	var req openRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	position, err := h.svc.OpenPosition(r.Context(), accountID, req.Asset, amount)
	if err != nil {
		writeEngineError(w, accountID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, position)
}

func (h *Handler) ClosePosition(w http.ResponseWriter, r *http.Request, accountID string) {
	positionID := chi.URLParam(r, "positionID")
	trade, err := h.svc.ClosePosition(r.Context(), accountID, positionID)
	if err != nil {
		writeEngineError(w, accountID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, trade)
}

func (h *Handler) CloseAsset(w http.ResponseWriter, r *http.Request, accountID string) {
	asset := chi.URLParam(r, "asset")
	trades, err := h.svc.CloseAsset(r.Context(), accountID, asset)
	if err != nil {
		writeEngineError(w, accountID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, trades)
}

func (h *Handler) Positions(w http.ResponseWriter, r *http.Request, accountID string) {
	positions, err := h.svc.Positions(r.Context(), accountID)
	if err != nil {
		writeEngineError(w, accountID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, positions)
}

func (h *Handler) Trades(w http.ResponseWriter, r *http.Request, accountID string) {
	trades, err := h.svc.Trades(r.Context(), accountID)
	if err != nil {
		writeEngineError(w, accountID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, trades)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request, accountID string) {
	entries, err := h.svc.History(r.Context(), accountID)
	if err != nil {
		writeEngineError(w, accountID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entries)
}
