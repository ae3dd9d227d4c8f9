package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/brokerx/internal/domain"
	"github.com/efreitasn/brokerx/internal/engine"
	"github.com/efreitasn/brokerx/internal/idempotency"
	"github.com/efreitasn/brokerx/internal/store"
)

// SubmitOrderRequest represents the input for order submission.
type SubmitOrderRequest struct {
	AccountID     string
	ClientOrderID string
	Symbol        string
	Side          domain.OrderSide
	Type          domain.OrderType
	TimeInForce   domain.TimeInForce
	Quantity      int64
	Price         *decimal.Decimal // required for limit, must be nil for market
}

// OrderDetails is an order with the fills it took part in.
type OrderDetails struct {
	Order        *domain.Order
	Fills        []*domain.Fill
	AveragePrice *int64 // nil when nothing traded
}

// OrderService handles order submission, retrieval, cancellation, and listing.
type OrderService struct {
	core     *engine.Core
	guard    *idempotency.Guard
	accounts *store.AccountStore
	repo     Repository
	log      *slog.Logger
}

// NewOrderService creates a new OrderService with the given dependencies.
func NewOrderService(
	core *engine.Core,
	guard *idempotency.Guard,
	accounts *store.AccountStore,
	repo Repository,
	logger *slog.Logger,
) *OrderService {
	return &OrderService{
		core:     core,
		guard:    guard,
		accounts: accounts,
		repo:     repo,
		log:      logger,
	}
}

func (req SubmitOrderRequest) validate() (int64, error) {
	if err := validateAccountID(req.AccountID); err != nil {
		return 0, err
	}
	if !clientOrderIDRegex.MatchString(req.ClientOrderID) {
		return 0, &domain.ValidationError{Message: "client_order_id must match ^[a-zA-Z0-9_.:-]{1,64}$"}
	}
	if !symbolRegex.MatchString(req.Symbol) {
		return 0, &domain.ValidationError{Message: "symbol must match ^[A-Z]{1,10}$"}
	}
	if req.Quantity <= 0 {
		return 0, &domain.ValidationError{Message: "quantity must be a positive integer"}
	}

	switch req.Type {
	case domain.OrderTypeLimit:
		if req.Price == nil {
			return 0, &domain.ValidationError{Message: "price is required for limit orders"}
		}
		if !req.Price.IsPositive() {
			return 0, &domain.ValidationError{Message: "price must be greater than 0"}
		}
		cents, err := domain.CentsFromDecimal(*req.Price)
		if err != nil {
			return 0, &domain.ValidationError{Message: "price must have at most 2 decimal places"}
		}
		return cents, nil
	case domain.OrderTypeMarket:
		if req.Price != nil {
			return 0, &domain.ValidationError{Message: "market orders must not include price"}
		}
		return 0, nil
	default:
		return 0, &domain.ValidationError{
			Message: fmt.Sprintf("Unknown order type: %s. Must be one of: limit, market", req.Type),
		}
	}
}

// SubmitOrder validates the request and hands it to the processing core,
// at most once per (account, client order ID). A retried submission gets
// the acknowledgment of the first one.
func (s *OrderService) SubmitOrder(ctx context.Context, req SubmitOrderRequest) (domain.Ack, error) {
	price, err := req.validate()
	if err != nil {
		return domain.Ack{}, err
	}

	claim, prev, err := s.guard.CheckAndReserve(ctx, req.AccountID, req.ClientOrderID)
	if err != nil {
		return domain.Ack{}, err
	}
	if claim == nil {
		s.log.Info("duplicate submission",
			"account_id", req.AccountID,
			"client_order_id", req.ClientOrderID,
			"order_id", prev.OrderID,
		)
		return prev, nil
	}

	ack, err := s.core.Submit(ctx, engine.OrderRequest{
		AccountID:     req.AccountID,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		TimeInForce:   req.TimeInForce,
		Quantity:      req.Quantity,
		Price:         price,
	})
	if err != nil {
		// Submit leaves no trace on error, so the key can be retried.
		claim.Abandon()
		return domain.Ack{}, err
	}
	claim.Complete(ack)
	return ack, nil
}

// GetOrder retrieves an order by ID with all its fills.
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*OrderDetails, error) {
	o, err := s.repo.LoadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	fills, err := s.repo.FillsForOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	d := &OrderDetails{Order: o, Fills: fills}
	if avg, ok := domain.AveragePrice(fills); ok {
		d.AveragePrice = &avg
	}
	return d, nil
}

// CancelOrder cancels a queued or resting order.
func (s *OrderService) CancelOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.core.Cancel(ctx, orderID)
}

// ListOrders returns a paginated list of orders for an account with
// optional status filtering.
func (s *OrderService) ListOrders(ctx context.Context, accountID string, status *domain.OrderStatus, page, limit int) ([]*domain.Order, int, error) {
	if err := s.accounts.Ensure(ctx, accountID); err != nil {
		return nil, 0, err
	}
	if status != nil && !domain.ValidOrderStatuses[*status] {
		return nil, 0, &domain.ValidationError{
			Message: fmt.Sprintf("Invalid status filter: '%s'. Must be one of: queued, validating, working, partially_filled, filled, rejected, cancelled", *status),
		}
	}
	if page < 1 {
		return nil, 0, &domain.ValidationError{Message: "page must be >= 1"}
	}
	if limit < 1 || limit > 100 {
		return nil, 0, &domain.ValidationError{Message: "limit must be between 1 and 100"}
	}
	return s.repo.ListOrders(ctx, accountID, status, page, limit)
}
