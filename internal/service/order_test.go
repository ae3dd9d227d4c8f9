package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efreitasn/brokerx/internal/domain"
)

func TestSubmitOrder_Validation(t *testing.T) {
	env := newTestEnv(t)
	env.open(t, "alice", "10000.00")

	tests := []struct {
		name   string
		mutate func(r *SubmitOrderRequest)
	}{
		{"bad account id", func(r *SubmitOrderRequest) { r.AccountID = "has space" }},
		{"missing client order id", func(r *SubmitOrderRequest) { r.ClientOrderID = "" }},
		{"client order id too long", func(r *SubmitOrderRequest) { r.ClientOrderID = strings.Repeat("x", 65) }},
		{"lowercase symbol", func(r *SubmitOrderRequest) { r.Symbol = "aapl" }},
		{"zero quantity", func(r *SubmitOrderRequest) { r.Quantity = 0 }},
		{"limit without price", func(r *SubmitOrderRequest) { r.Price = nil }},
		{"negative price", func(r *SubmitOrderRequest) { r.Price = price("-1.00") }},
		{"sub-cent price", func(r *SubmitOrderRequest) { r.Price = price("150.001") }},
		{"unknown type", func(r *SubmitOrderRequest) { r.Type = "stop" }},
		{"unknown side", func(r *SubmitOrderRequest) { r.Side = "bid" }},
		{"unknown time in force", func(r *SubmitOrderRequest) { r.TimeInForce = "GTC" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := limitOrder("alice", "c-1", domain.OrderSideBuy, "150.00", 10)
			tt.mutate(&req)
			_, err := env.orders.SubmitOrder(context.Background(), req)
			var verr *domain.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestSubmitOrder_MarketWithPriceIsInvalid(t *testing.T) {
	env := newTestEnv(t)
	env.open(t, "alice", "10000.00")

	req := limitOrder("alice", "c-1", domain.OrderSideBuy, "150.00", 10)
	req.Type = domain.OrderTypeMarket
	_, err := env.orders.SubmitOrder(context.Background(), req)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Message, "must not include price")
}

func TestSubmitOrder_UnknownAccount(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.orders.SubmitOrder(context.Background(),
		limitOrder("ghost", "c-1", domain.OrderSideBuy, "150.00", 10))
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestSubmitOrder_QueuedThenMatched(t *testing.T) {
	env := newTestEnv(t)
	env.open(t, "alice", "10000.00")
	env.open(t, "bob", "0", PositionInput{Symbol: "AAPL", Quantity: 50})
	env.start(t)
	ctx := context.Background()

	buy, err := env.orders.SubmitOrder(ctx, limitOrder("alice", "buy-1", domain.OrderSideBuy, "150.00", 10))
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusQueued, buy.Status)
	assert.Equal(t, "buy-1", buy.ClientOrderID)
	env.waitForStatus(t, buy.OrderID, domain.OrderStatusWorking)

	sell, err := env.orders.SubmitOrder(ctx, limitOrder("bob", "sell-1", domain.OrderSideSell, "149.00", 10))
	require.NoError(t, err)
	env.waitForStatus(t, sell.OrderID, domain.OrderStatusFilled)
	env.waitForStatus(t, buy.OrderID, domain.OrderStatusFilled)

	details, err := env.orders.GetOrder(ctx, buy.OrderID)
	require.NoError(t, err)
	require.Len(t, details.Fills, 1)
	assert.Equal(t, int64(15000), details.Fills[0].Price, "trades at the maker price")
	require.NotNil(t, details.AveragePrice)
	assert.Equal(t, int64(15000), *details.AveragePrice)

	alice, err := env.accts.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000-150_000), alice.CashBalance)
	assert.Zero(t, alice.ReservedCash)
	require.Len(t, alice.Positions, 1)
	assert.Equal(t, int64(10), alice.Positions[0].Quantity)
}

func TestSubmitOrder_RejectedIsAnAck(t *testing.T) {
	env := newTestEnv(t)
	env.open(t, "alice", "100.00")

	ack, err := env.orders.SubmitOrder(context.Background(),
		limitOrder("alice", "c-1", domain.OrderSideBuy, "150.00", 10))
	require.NoError(t, err)
	assert.True(t, ack.Rejected())
	assert.Equal(t, domain.RejectInsufficientBuyingPower, ack.RejectReason)
}

func TestSubmitOrder_DuplicateReturnsFirstAck(t *testing.T) {
	env := newTestEnv(t)
	env.open(t, "alice", "10000.00")
	ctx := context.Background()
	req := limitOrder("alice", "dup", domain.OrderSideBuy, "150.00", 10)

	first, err := env.orders.SubmitOrder(ctx, req)
	require.NoError(t, err)
	second, err := env.orders.SubmitOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	orders, total, err := env.orders.ListOrders(ctx, "alice", nil, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, orders, 1)

	bal, err := env.accts.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(150_000), bal.ReservedCash, "reserved once")
}

func TestSubmitOrder_ConcurrentDuplicatesCreateOneOrder(t *testing.T) {
	env := newTestEnv(t)
	env.open(t, "alice", "10000.00")
	ctx := context.Background()
	req := limitOrder("alice", "race", domain.OrderSideBuy, "150.00", 1)

	var wg sync.WaitGroup
	acks := make(chan domain.Ack, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ack, err := env.orders.SubmitOrder(ctx, req)
			if assert.NoError(t, err) {
				acks <- ack
			}
		}()
	}
	wg.Wait()
	close(acks)

	ids := make(map[string]bool)
	for ack := range acks {
		ids[ack.OrderID] = true
	}
	assert.Len(t, ids, 1)

	_, total, err := env.orders.ListOrders(ctx, "alice", nil, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestSubmitOrder_OverloadedReleasesKey(t *testing.T) {
	env := newTestEnv(t)
	env.open(t, "alice", "100000.00")
	ctx := context.Background()

	// The core is not running, so accepted orders pile up until the
	// queue bound is reached.
	for i := 0; i < 100; i++ {
		req := limitOrder("alice", fmt.Sprintf("fill-%d", i), domain.OrderSideBuy, "140.00", 1)
		_, err := env.orders.SubmitOrder(ctx, req)
		require.NoError(t, err)
	}

	req := limitOrder("alice", "late", domain.OrderSideBuy, "140.00", 1)
	_, err := env.orders.SubmitOrder(ctx, req)
	require.ErrorIs(t, err, domain.ErrOverloaded)

	env.start(t)
	require.Eventually(t, func() bool { return env.core.Pending() == 0 }, 3*time.Second, 2*time.Millisecond)

	ack, err := env.orders.SubmitOrder(ctx, req)
	require.NoError(t, err, "an overloaded submission can be retried with the same key")
	assert.Equal(t, domain.OrderStatusQueued, ack.Status)
}

func TestGetOrder_NotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.orders.GetOrder(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestGetOrder_NoFillsHasNoAverage(t *testing.T) {
	env := newTestEnv(t)
	env.open(t, "alice", "10000.00")
	ack, err := env.orders.SubmitOrder(context.Background(),
		limitOrder("alice", "c-1", domain.OrderSideBuy, "150.00", 10))
	require.NoError(t, err)

	d, err := env.orders.GetOrder(context.Background(), ack.OrderID)
	require.NoError(t, err)
	assert.Empty(t, d.Fills)
	assert.Nil(t, d.AveragePrice)
}

func TestCancelOrder(t *testing.T) {
	env := newTestEnv(t)
	env.open(t, "alice", "10000.00")
	env.start(t)
	ctx := context.Background()

	ack, err := env.orders.SubmitOrder(ctx, limitOrder("alice", "c-1", domain.OrderSideBuy, "150.00", 10))
	require.NoError(t, err)
	env.waitForStatus(t, ack.OrderID, domain.OrderStatusWorking)

	o, err := env.orders.CancelOrder(ctx, ack.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, o.Status)
	assert.Equal(t, domain.CancelReasonRequested, o.CancelReason)

	bal, err := env.accts.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, bal.ReservedCash)

	_, err = env.orders.CancelOrder(ctx, ack.OrderID)
	assert.ErrorIs(t, err, domain.ErrOrderNotCancellable)

	_, err = env.orders.CancelOrder(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestListOrders(t *testing.T) {
	env := newTestEnv(t)
	env.open(t, "alice", "10000.00")
	ctx := context.Background()

	var ids []string
	for _, c := range []string{"a", "b", "c"} {
		ack, err := env.orders.SubmitOrder(ctx, limitOrder("alice", c, domain.OrderSideBuy, "150.00", 1))
		require.NoError(t, err)
		ids = append(ids, ack.OrderID)
	}
	rejected, err := env.orders.SubmitOrder(ctx, limitOrder("alice", "d", domain.OrderSideBuy, "999.00", 1))
	require.NoError(t, err)
	require.True(t, rejected.Rejected())

	orders, total, err := env.orders.ListOrders(ctx, "alice", nil, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, orders, 2)
	assert.Equal(t, rejected.OrderID, orders[0].OrderID, "newest first")

	status := domain.OrderStatusQueued
	orders, total, err = env.orders.ListOrders(ctx, "alice", &status, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, ids[2], orders[0].OrderID)

	page, _, err := env.orders.ListOrders(ctx, "alice", nil, 3, 2)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestListOrders_Validation(t *testing.T) {
	env := newTestEnv(t)
	env.open(t, "alice", "0")
	ctx := context.Background()

	bogus := domain.OrderStatus("pending")
	tests := []struct {
		name   string
		status *domain.OrderStatus
		page   int
		limit  int
	}{
		{"unknown status", &bogus, 1, 10},
		{"page zero", nil, 0, 10},
		{"limit zero", nil, 1, 0},
		{"limit too large", nil, 1, 101},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := env.orders.ListOrders(ctx, "alice", tt.status, tt.page, tt.limit)
			var verr *domain.ValidationError
			assert.True(t, errors.As(err, &verr), "got %v", err)
		})
	}

	_, _, err := env.orders.ListOrders(ctx, "ghost", nil, 1, 10)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}
