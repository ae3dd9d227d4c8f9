package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/brokerx/internal/domain"
	"github.com/efreitasn/brokerx/internal/service"
)

// OrderHandler handles HTTP requests for order endpoints.
type OrderHandler struct {
	orderSvc *service.OrderService
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(orderSvc *service.OrderService) *OrderHandler {
	return &OrderHandler{orderSvc: orderSvc}
}

// submitOrderRequest is the JSON request body for POST /orders.
type submitOrderRequest struct {
	AccountID     string           `json:"account_id"`
	ClientOrderID string           `json:"client_order_id"`
	Symbol        string           `json:"symbol"`
	Side          string           `json:"side"`
	Type          string           `json:"type"`
	TimeInForce   string           `json:"time_in_force"`
	Quantity      int64            `json:"quantity"`
	Price         *decimal.Decimal `json:"price"`
}

// ackResponse is the JSON response for POST /orders.
type ackResponse struct {
	OrderID       string  `json:"order_id"`
	ClientOrderID string  `json:"client_order_id"`
	AccountID     string  `json:"account_id"`
	Status        string  `json:"status"`
	RejectReason  *string `json:"reject_reason"`
	SubmittedAt   string  `json:"submitted_at"`
}

// orderResponse is the JSON response for a single order.
// All fields are always present; nullable fields use pointers.
type orderResponse struct {
	OrderID           string         `json:"order_id"`
	ClientOrderID     string         `json:"client_order_id"`
	AccountID         string         `json:"account_id"`
	Symbol            string         `json:"symbol"`
	Side              string         `json:"side"`
	Type              string         `json:"type"`
	TimeInForce       string         `json:"time_in_force"`
	Price             *money         `json:"price"`
	Quantity          int64          `json:"quantity"`
	FilledQuantity    int64          `json:"filled_quantity"`
	RemainingQuantity int64          `json:"remaining_quantity"`
	CancelledQuantity int64          `json:"cancelled_quantity"`
	Status            string         `json:"status"`
	RejectReason      *string        `json:"reject_reason"`
	CancelReason      *string        `json:"cancel_reason"`
	AveragePrice      *money         `json:"average_price"`
	SubmittedAt       string         `json:"submitted_at"`
	UpdatedAt         string         `json:"updated_at"`
	Fills             []fillResponse `json:"fills,omitempty"`
}

// fillResponse is a single fill in the order response.
type fillResponse struct {
	FillID     string `json:"fill_id"`
	Price      money  `json:"price"`
	Quantity   int64  `json:"quantity"`
	Liquidity  string `json:"liquidity"`
	ExecutedAt string `json:"executed_at"`
}

// SubmitOrder handles POST /orders. Accepted orders answer 202 since
// matching happens after the response; refused orders answer 422 with
// the same acknowledgment body.
func (h *OrderHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req submitOrderRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	ack, err := h.orderSvc.SubmitOrder(r.Context(), service.SubmitOrderRequest{
		AccountID:     req.AccountID,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          domain.OrderSide(req.Side),
		Type:          domain.OrderType(req.Type),
		TimeInForce:   domain.TimeInForce(req.TimeInForce),
		Quantity:      req.Quantity,
		Price:         req.Price,
	})
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	status := http.StatusAccepted
	if ack.Rejected() {
		status = http.StatusUnprocessableEntity
	}
	WriteJSON(w, status, buildAckResponse(ack))
}

// GetOrder handles GET /orders/{order_id}.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "order_id")

	details, err := h.orderSvc.GetOrder(r.Context(), orderID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	resp := buildOrderResponse(details.Order)
	resp.AveragePrice = moneyPtr(details.AveragePrice)
	resp.Fills = make([]fillResponse, len(details.Fills))
	for i, f := range details.Fills {
		liquidity := "taker"
		if f.MakerOrderID == orderID {
			liquidity = "maker"
		}
		resp.Fills[i] = fillResponse{
			FillID:     f.FillID,
			Price:      money(f.Price),
			Quantity:   f.Quantity,
			Liquidity:  liquidity,
			ExecutedAt: timestamp(f.ExecutedAt),
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

// CancelOrder handles DELETE /orders/{order_id}.
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "order_id")

	order, err := h.orderSvc.CancelOrder(r.Context(), orderID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildOrderResponse(order))
}

func buildAckResponse(ack domain.Ack) ackResponse {
	return ackResponse{
		OrderID:       ack.OrderID,
		ClientOrderID: ack.ClientOrderID,
		AccountID:     ack.AccountID,
		Status:        string(ack.Status),
		RejectReason:  optional(string(ack.RejectReason)),
		SubmittedAt:   timestamp(ack.SubmittedAt),
	}
}

// buildOrderResponse converts an order without its fills. Market orders
// report a price only once they rest.
func buildOrderResponse(o *domain.Order) orderResponse {
	resp := orderResponse{
		OrderID:           o.OrderID,
		ClientOrderID:     o.ClientOrderID,
		AccountID:         o.AccountID,
		Symbol:            o.Symbol,
		Side:              string(o.Side),
		Type:              string(o.Type),
		TimeInForce:       string(o.TimeInForce),
		Quantity:          o.Quantity,
		FilledQuantity:    o.FilledQuantity,
		RemainingQuantity: o.RemainingQuantity,
		CancelledQuantity: o.CancelledQuantity,
		Status:            string(o.Status),
		RejectReason:      optional(string(o.RejectReason)),
		CancelReason:      optional(string(o.CancelReason)),
		SubmittedAt:       timestamp(o.SubmittedAt),
		UpdatedAt:         timestamp(o.UpdatedAt),
	}
	if o.Price > 0 {
		p := money(o.Price)
		resp.Price = &p
	}
	return resp
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
