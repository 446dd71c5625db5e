package auth

import (
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"pf-ledger/internal/httputil"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type credentialsRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	accountID, err := h.svc.Register(r.Context(), req.Name, req.Password)
	if err != nil {
		if errors.Is(err, ErrNameTaken) {
			httputil.WriteJSON(w, http.StatusConflict, httputil.ErrorResponse{Error: err.Error()})
			return
		}
		logrus.WithFields(logrus.Fields{"name": req.Name}).Errorf("register: %v", err)
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: "registration failed"})
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{"account_id": accountID})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	token, err := h.svc.Login(r.Context(), req.Name, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "invalid credentials"})
			return
		}
		logrus.WithFields(logrus.Fields{"name": req.Name}).Errorf("login: %v", err)
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: "login failed"})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"token": token})
}
