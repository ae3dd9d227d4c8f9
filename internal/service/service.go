// Package service composes the processing core, idempotency guard and
// stores into the operations the HTTP layer exposes.
package service

import (
	"context"
	"regexp"

	"github.com/efreitasn/brokerx/internal/domain"
	"github.com/efreitasn/brokerx/internal/engine"
)

var (
	accountIDRegex     = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
	clientOrderIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:-]{1,64}$`)
	symbolRegex        = regexp.MustCompile(`^[A-Z]{1,10}$`)
)

// Repository is the durable storage the services read and write.
type Repository interface {
	engine.Repository
	SaveAccount(ctx context.Context, a *domain.Account) error
	LoadAccount(ctx context.Context, accountID string) (*domain.Account, error)
	FindOrderByClientID(ctx context.Context, accountID, clientOrderID string) (*domain.Order, error)
	ListOrders(ctx context.Context, accountID string, status *domain.OrderStatus, page, limit int) ([]*domain.Order, int, error)
	FillsForOrder(ctx context.Context, orderID string) ([]*domain.Fill, error)
}

func validateAccountID(id string) error {
	if !accountIDRegex.MatchString(id) {
		return &domain.ValidationError{Message: "account_id must match ^[a-zA-Z0-9_-]{1,64}$"}
	}
	return nil
}
