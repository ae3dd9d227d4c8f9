package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efreitasn/brokerx/internal/domain"
)

func TestMemory_SaveAccountDeltaIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.SaveAccount(ctx, &domain.Account{AccountID: "acct-1"}))

	d := domain.AccountDelta{DeltaID: "d-1", AccountID: "acct-1", Kind: domain.DeltaDeposit, Cash: 500, At: t0}
	require.NoError(t, m.SaveAccountDelta(ctx, d))
	require.NoError(t, m.SaveAccountDelta(ctx, d))

	a, err := m.LoadAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), a.CashBalance)
	journal, err := m.Deltas(ctx, "acct-1")
	require.NoError(t, err)
	assert.Len(t, journal, 1)

	err = m.SaveAccountDelta(ctx, domain.AccountDelta{DeltaID: "d-2", AccountID: "nobody"})
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestMemory_SaveOrderStoresCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	o := &domain.Order{OrderID: "ord-1", ClientOrderID: "c-1", AccountID: "acct-1", Status: domain.OrderStatusQueued}
	require.NoError(t, m.SaveOrder(ctx, o))

	o.Status = domain.OrderStatusFilled
	got, err := m.LoadOrder(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusQueued, got.Status)

	byClient, err := m.FindOrderByClientID(ctx, "acct-1", "c-1")
	require.NoError(t, err)
	assert.Equal(t, "ord-1", byClient.OrderID)

	_, err = m.FindOrderByClientID(ctx, "acct-2", "c-1")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	_, err = m.LoadOrder(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestMemory_ListOrdersNewestFirstWithFilter(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for i := 1; i <= 5; i++ {
		status := domain.OrderStatusWorking
		if i%2 == 0 {
			status = domain.OrderStatusFilled
		}
		require.NoError(t, m.SaveOrder(ctx, &domain.Order{
			OrderID:   fmt.Sprintf("ord-%d", i),
			AccountID: "acct-1",
			Status:    status,
			Seq:       uint64(i),
		}))
	}

	page, total, err := m.ListOrders(ctx, "acct-1", nil, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, "ord-5", page[0].OrderID)
	assert.Equal(t, "ord-4", page[1].OrderID)

	filled := domain.OrderStatusFilled
	page, total, err = m.ListOrders(ctx, "acct-1", &filled, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, "ord-4", page[0].OrderID)

	page, _, err = m.ListOrders(ctx, "acct-1", nil, 9, 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestMemory_OrdersByStatusSortedBySeq(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for _, seq := range []uint64{3, 1, 2} {
		require.NoError(t, m.SaveOrder(ctx, &domain.Order{
			OrderID: fmt.Sprintf("ord-%d", seq), AccountID: "acct-1", Status: domain.OrderStatusQueued, Seq: seq,
		}))
	}

	got, err := m.OrdersByStatus(ctx, domain.OrderStatusQueued)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, o := range got {
		assert.Equal(t, uint64(i+1), o.Seq)
	}
}

func TestMemory_CommitPassIndexesFillsOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.SaveAccount(ctx, &domain.Account{AccountID: "buyer", CashBalance: 1000}))
	f := &domain.Fill{FillID: "f-1", BuyOrderID: "b", SellOrderID: "s", Price: 100, Quantity: 5}
	d := domain.AccountDelta{DeltaID: "d-1", AccountID: "buyer", Kind: domain.DeltaFill, Symbol: "AAPL", Cash: -500, Quantity: 5, Price: 100}
	o := &domain.Order{OrderID: "b", AccountID: "buyer", Status: domain.OrderStatusFilled}

	require.NoError(t, m.CommitPass(ctx, []*domain.Fill{f}, []domain.AccountDelta{d}, []*domain.Order{o}))
	require.NoError(t, m.CommitPass(ctx, []*domain.Fill{f}, []domain.AccountDelta{d}, []*domain.Order{o}))

	buys, err := m.FillsForOrder(ctx, "b")
	require.NoError(t, err)
	sells, err := m.FillsForOrder(ctx, "s")
	require.NoError(t, err)
	assert.Len(t, buys, 1)
	assert.Len(t, sells, 1)

	a, err := m.LoadAccount(ctx, "buyer")
	require.NoError(t, err)
	assert.Equal(t, int64(500), a.CashBalance)
	assert.Equal(t, int64(5), a.Positions["AAPL"].Quantity)
	got, err := m.LoadOrder(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, got.Status)
}

func TestMemory_CommitPassWritesNothingOnUnknownAccount(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.SaveAccount(ctx, &domain.Account{AccountID: "buyer", CashBalance: 1000}))
	f := &domain.Fill{FillID: "f-1", BuyOrderID: "b", SellOrderID: "s", Price: 100, Quantity: 5}
	deltas := []domain.AccountDelta{
		{DeltaID: "d-1", AccountID: "buyer", Kind: domain.DeltaFill, Symbol: "AAPL", Cash: -500, Quantity: 5, Price: 100},
		{DeltaID: "d-2", AccountID: "ghost", Kind: domain.DeltaFill, Symbol: "AAPL", Cash: 500, Quantity: -5, Price: 100},
	}
	o := &domain.Order{OrderID: "b", AccountID: "buyer", Status: domain.OrderStatusFilled}

	err := m.CommitPass(ctx, []*domain.Fill{f}, deltas, []*domain.Order{o})
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	fills, err := m.FillsForOrder(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, fills)
	a, err := m.LoadAccount(ctx, "buyer")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), a.CashBalance)
	_, err = m.LoadOrder(ctx, "b")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestMemory_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewMemory()
	assert.ErrorIs(t, m.SaveOrder(ctx, &domain.Order{OrderID: "x"}), context.Canceled)
	_, err := m.LoadOrder(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}
