package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/brokerx/internal/domain"
	"github.com/efreitasn/brokerx/internal/service"
)

// AccountHandler handles HTTP requests for account endpoints.
type AccountHandler struct {
	accountSvc *service.AccountService
	orderSvc   *service.OrderService
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accountSvc *service.AccountService, orderSvc *service.OrderService) *AccountHandler {
	return &AccountHandler{
		accountSvc: accountSvc,
		orderSvc:   orderSvc,
	}
}

// openAccountRequest is the JSON request body for POST /accounts.
type openAccountRequest struct {
	AccountID        string          `json:"account_id"`
	InitialCash      decimal.Decimal `json:"initial_cash"`
	InitialPositions []positionInput `json:"initial_positions"`
	ShortSellAllowed bool            `json:"short_sell_allowed"`
}

// positionInput is a single position in the open request.
type positionInput struct {
	Symbol   string `json:"symbol"`
	Quantity int64  `json:"quantity"`
}

// depositRequest is the JSON request body for POST /accounts/{account_id}/deposits.
type depositRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// balanceResponse is the JSON response for account endpoints.
type balanceResponse struct {
	AccountID        string             `json:"account_id"`
	CashBalance      money              `json:"cash_balance"`
	ReservedCash     money              `json:"reserved_cash"`
	AvailableCash    money              `json:"available_cash"`
	ShortSellAllowed bool               `json:"short_sell_allowed"`
	Positions        []positionResponse `json:"positions"`
	UpdatedAt        string             `json:"updated_at"`
}

// positionResponse is a single position in the balance response.
type positionResponse struct {
	Symbol            string `json:"symbol"`
	Quantity          int64  `json:"quantity"`
	ReservedQuantity  int64  `json:"reserved_quantity"`
	AvailableQuantity int64  `json:"available_quantity"`
	AverageCost       money  `json:"average_cost"`
}

// orderListResponse is the JSON response for GET /accounts/{account_id}/orders.
type orderListResponse struct {
	Orders []orderResponse `json:"orders"`
	Total  int             `json:"total"`
	Page   int             `json:"page"`
	Limit  int             `json:"limit"`
}

// Open handles POST /accounts.
func (h *AccountHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	positions := make([]service.PositionInput, len(req.InitialPositions))
	for i, p := range req.InitialPositions {
		positions[i] = service.PositionInput{
			Symbol:   p.Symbol,
			Quantity: p.Quantity,
		}
	}

	balance, err := h.accountSvc.Open(r.Context(), service.OpenAccountRequest{
		AccountID:        req.AccountID,
		InitialCash:      req.InitialCash,
		InitialPositions: positions,
		ShortSellAllowed: req.ShortSellAllowed,
	})
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, buildBalanceResponse(balance))
}

// GetBalance handles GET /accounts/{account_id}.
func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")

	balance, err := h.accountSvc.GetBalance(r.Context(), accountID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildBalanceResponse(balance))
}

// Deposit handles POST /accounts/{account_id}/deposits.
func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")

	var req depositRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	balance, err := h.accountSvc.Deposit(r.Context(), accountID, req.Amount)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildBalanceResponse(balance))
}

// ListOrders handles GET /accounts/{account_id}/orders.
func (h *AccountHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")

	var statusFilter *domain.OrderStatus
	if s := r.URL.Query().Get("status"); s != "" {
		status := domain.OrderStatus(s)
		statusFilter = &status
	}

	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		var err error
		page, err = strconv.Atoi(p)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", "page must be a valid integer")
			return
		}
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		var err error
		limit, err = strconv.Atoi(l)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", "limit must be a valid integer")
			return
		}
	}

	orders, total, err := h.orderSvc.ListOrders(r.Context(), accountID, statusFilter, page, limit)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	summaries := make([]orderResponse, len(orders))
	for i, o := range orders {
		summaries[i] = buildOrderResponse(o)
	}

	WriteJSON(w, http.StatusOK, orderListResponse{
		Orders: summaries,
		Total:  total,
		Page:   page,
		Limit:  limit,
	})
}

func buildBalanceResponse(b *service.BalanceResponse) balanceResponse {
	positions := make([]positionResponse, len(b.Positions))
	for i, p := range b.Positions {
		positions[i] = positionResponse{
			Symbol:            p.Symbol,
			Quantity:          p.Quantity,
			ReservedQuantity:  p.ReservedQuantity,
			AvailableQuantity: p.AvailableQuantity,
			AverageCost:       money(p.AverageCost),
		}
	}
	return balanceResponse{
		AccountID:        b.AccountID,
		CashBalance:      money(b.CashBalance),
		ReservedCash:     money(b.ReservedCash),
		AvailableCash:    money(b.AvailableCash),
		ShortSellAllowed: b.ShortSellAllowed,
		Positions:        positions,
		UpdatedAt:        timestamp(b.UpdatedAt),
	}
}
