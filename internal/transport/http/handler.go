package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"creditledger/internal/model"
	"creditledger/internal/repository"
	"creditledger/internal/service"
)

type Handler struct {
	svc service.ReconcileService
}

func NewHandler(svc service.ReconcileService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /accounts", h.CreateAccount)
	mux.HandleFunc("GET /balance", h.GetBalance)
	mux.HandleFunc("POST /orders", h.CreateOrder)
	mux.HandleFunc("GET /orders/{id}", h.GetOrder)
	mux.HandleFunc("POST /callbacks/payment", h.PaymentCallback)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID         string `json:"account_id"`
		ExternalID string `json:"external_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.ID == "" {
		h.respondError(w, http.StatusBadRequest, "missing_account_id")
		return
	}
	acc, err := h.svc.CreateAccount(r.Context(), req.ID, req.ExternalID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, acc)
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accID := r.URL.Query().Get("account_id")
	if accID == "" {
		h.respondError(w, http.StatusBadRequest, "missing_params")
		return
	}
	bal, err := h.svc.GetBalance(r.Context(), accID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"account_id": accID, "balance": bal})
}

// CreateOrder records a pending payment attempt. Retried creations return
// the existing order with 200 instead of 201.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req model.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.OrderID == "" || req.AccountID == "" {
		h.respondError(w, http.StatusBadRequest, "missing_params")
		return
	}
	order, err := h.svc.CreatePending(r.Context(), req)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, order)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")
	order, err := h.svc.FindOrder(r.Context(), orderID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, order)
}

// PaymentCallback is the provider-facing reconcile endpoint. It must stay
// safe under arbitrary re-delivery of the same notification.
func (h *Handler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	var req model.ReconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.OrderID == "" {
		h.respondError(w, http.StatusBadRequest, "missing_order_id")
		return
	}
	res, err := h.svc.Reconcile(r.Context(), req)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, res)
}

func (h *Handler) respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrAccountNotFound),
		errors.Is(err, repository.ErrOrderNotFound):
		h.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, repository.ErrInvalidAmount),
		errors.Is(err, repository.ErrInvalidOrderID),
		errors.Is(err, repository.ErrAmountOverflow):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrDuplicateAccount):
		h.respondError(w, http.StatusConflict, err.Error())
	default:
		h.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
