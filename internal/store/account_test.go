package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efreitasn/brokerx/internal/domain"
)

var t0 = time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)

func newFundedStore(t *testing.T, cash int64) *AccountStore {
	t.Helper()
	s := NewAccountStore(nil)
	require.NoError(t, s.Create(&domain.Account{AccountID: "acct-1", CashBalance: cash, CreatedAt: t0}))
	return s
}

func reserveCash(unit, qty int64) func(domain.AccountSnapshot) (domain.Reservation, error) {
	return func(snap domain.AccountSnapshot) (domain.Reservation, error) {
		if snap.AvailableCash < unit*qty {
			return domain.Reservation{}, &domain.RejectError{Reason: domain.RejectInsufficientBuyingPower}
		}
		return domain.Reservation{UnitCash: unit, Cash: unit * qty}, nil
	}
}

func buyOrder(id string, unit, reserved int64) *domain.Order {
	return &domain.Order{
		OrderID:      id,
		AccountID:    "acct-1",
		Symbol:       "AAPL",
		Side:         domain.OrderSideBuy,
		UnitReserve:  unit,
		ReservedCash: reserved,
	}
}

func TestAccountStore_CreateDuplicate(t *testing.T) {
	s := newFundedStore(t, 0)
	err := s.Create(&domain.Account{AccountID: "acct-1"})
	assert.ErrorIs(t, err, domain.ErrAccountExists)
}

func TestAccountStore_Deposit(t *testing.T) {
	s := newFundedStore(t, 1000)
	ctx := context.Background()

	var journaled []domain.AccountDelta
	journal := func(_ context.Context, d domain.AccountDelta) error {
		journaled = append(journaled, d)
		return nil
	}
	d, err := s.Deposit(ctx, "acct-1", 500, t0, journal)
	require.NoError(t, err)
	assert.Equal(t, domain.DeltaDeposit, d.Kind)
	assert.NotEmpty(t, d.DeltaID)
	require.Len(t, journaled, 1)
	assert.Equal(t, d.DeltaID, journaled[0].DeltaID)

	a, err := s.Get("acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1500), a.CashBalance)

	_, err = s.Deposit(ctx, "acct-1", 0, t0, journal)
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)

	_, err = s.Deposit(ctx, "missing", 10, t0, journal)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	assert.Len(t, journaled, 1)
}

func TestAccountStore_DepositJournalFailureCreditsNothing(t *testing.T) {
	s := newFundedStore(t, 1000)
	errOffline := errors.New("offline")

	_, err := s.Deposit(context.Background(), "acct-1", 500, t0, func(context.Context, domain.AccountDelta) error {
		a, _ := s.Get("acct-1")
		assert.Equal(t, int64(1000), a.AvailableCash(), "credit visible before it was journaled")
		return errOffline
	})
	assert.ErrorIs(t, err, errOffline)

	a, _ := s.Get("acct-1")
	assert.Equal(t, int64(1000), a.CashBalance)
}

func TestAccountStore_ReserveAndRelease(t *testing.T) {
	s := newFundedStore(t, 1_500_000)

	res, d, err := s.Reserve("acct-1", "AAPL", "ord-1", reserveCash(15000, 100), t0)
	require.NoError(t, err)
	assert.Equal(t, int64(1_500_000), res.Cash)
	assert.Equal(t, domain.DeltaReserve, d.Kind)

	a, _ := s.Get("acct-1")
	assert.Equal(t, int64(0), a.AvailableCash())

	o := buyOrder("ord-1", 15000, res.Cash)
	rd, ok, err := s.Release(o, t0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(-1_500_000), rd.ReservedCash)
	assert.Zero(t, o.ReservedCash)

	// Released cash waits for the pass to be confirmed.
	a, _ = s.Get("acct-1")
	assert.Zero(t, a.AvailableCash())
	assert.Equal(t, int64(1_500_000), a.PendingCash)

	s.Confirm(rd)
	a, _ = s.Get("acct-1")
	assert.Equal(t, int64(1_500_000), a.AvailableCash())
	assert.Zero(t, a.PendingCash)
}

func TestAccountStore_ReserveRejectedLeavesAccountUntouched(t *testing.T) {
	s := newFundedStore(t, 100)

	_, _, err := s.Reserve("acct-1", "AAPL", "ord-1", reserveCash(15000, 1), t0)
	var re *domain.RejectError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, domain.RejectInsufficientBuyingPower, re.Reason)

	a, _ := s.Get("acct-1")
	assert.Zero(t, a.ReservedCash)
}

func TestAccountStore_DoubleReleaseIsInvariantViolation(t *testing.T) {
	s := newFundedStore(t, 10_000)
	res, _, err := s.Reserve("acct-1", "AAPL", "ord-1", reserveCash(100, 10), t0)
	require.NoError(t, err)

	o := buyOrder("ord-1", 100, res.Cash)
	_, _, err = s.Release(o, t0)
	require.NoError(t, err)

	_, ok, err := s.Release(o, t0)
	assert.False(t, ok)
	var ie *domain.InvariantError
	require.ErrorAs(t, err, &ie)
	assert.ErrorIs(t, err, domain.ErrDoubleRelease)

	a, _ := s.Get("acct-1")
	assert.Zero(t, a.ReservedCash)
}

func TestAccountStore_SettleBuyFillAtBetterPrice(t *testing.T) {
	s := newFundedStore(t, 1_500_000)
	res, _, err := s.Reserve("acct-1", "AAPL", "ord-1", reserveCash(15000, 100), t0)
	require.NoError(t, err)
	o := buyOrder("ord-1", 15000, res.Cash)

	f := &domain.Fill{FillID: "f-1", Symbol: "AAPL", BuyOrderID: "ord-1", SellOrderID: "ord-2", Price: 14900, Quantity: 40, ExecutedAt: t0}
	d, err := s.SettleFill(o, f)
	require.NoError(t, err)
	assert.Equal(t, int64(-596_000), d.Cash)
	assert.Equal(t, int64(-600_000), d.ReservedCash)
	assert.Equal(t, int64(900_000), o.ReservedCash)

	a, _ := s.Get("acct-1")
	assert.Equal(t, int64(904_000), a.CashBalance)
	assert.Equal(t, int64(900_000), a.ReservedCash)
	assert.Equal(t, int64(40), a.Positions["AAPL"].Quantity)
	assert.Equal(t, int64(14900), a.Positions["AAPL"].AverageCost)
}

func TestAccountStore_SettleSellFill(t *testing.T) {
	s := NewAccountStore(nil)
	require.NoError(t, s.Create(&domain.Account{
		AccountID: "acct-1",
		Positions: map[string]*domain.Position{"AAPL": {Quantity: 100, AverageCost: 14000}},
	}))
	res, _, err := s.Reserve("acct-1", "AAPL", "ord-1", func(snap domain.AccountSnapshot) (domain.Reservation, error) {
		return domain.Reservation{Quantity: 60}, nil
	}, t0)
	require.NoError(t, err)

	o := &domain.Order{OrderID: "ord-1", AccountID: "acct-1", Symbol: "AAPL", Side: domain.OrderSideSell, ReservedQuantity: res.Quantity}
	_, err = s.SettleFill(o, &domain.Fill{FillID: "f-1", Symbol: "AAPL", Price: 15000, Quantity: 60, ExecutedAt: t0})
	require.NoError(t, err)

	a, _ := s.Get("acct-1")
	assert.Equal(t, int64(900_000), a.CashBalance)
	assert.Equal(t, int64(40), a.Positions["AAPL"].Quantity)
	assert.Zero(t, a.Positions["AAPL"].ReservedQuantity)
	assert.Equal(t, int64(14000), a.Positions["AAPL"].AverageCost)
	assert.Zero(t, o.ReservedQuantity)
}

func TestAccountStore_SettleFillRefusesNegativeCash(t *testing.T) {
	s := newFundedStore(t, 1000)
	o := buyOrder("ord-1", 0, 0)

	_, err := s.SettleFill(o, &domain.Fill{FillID: "f-1", Symbol: "AAPL", Price: 500, Quantity: 3, ExecutedAt: t0})
	assert.ErrorIs(t, err, domain.ErrNegativeCash)

	a, _ := s.Get("acct-1")
	assert.Equal(t, int64(1000), a.CashBalance)
	assert.Empty(t, a.Positions)
}

func TestAccountStore_Revert(t *testing.T) {
	s := newFundedStore(t, 10_000)
	res, _, err := s.Reserve("acct-1", "AAPL", "ord-1", reserveCash(100, 10), t0)
	require.NoError(t, err)
	o := buyOrder("ord-1", 100, res.Cash)

	d, err := s.SettleFill(o, &domain.Fill{FillID: "f-1", Symbol: "AAPL", Price: 100, Quantity: 10, ExecutedAt: t0})
	require.NoError(t, err)
	require.NoError(t, s.Revert(d))

	a, _ := s.Get("acct-1")
	assert.Equal(t, int64(10_000), a.CashBalance)
	assert.Equal(t, int64(1000), a.ReservedCash)
	assert.Zero(t, a.PendingCash)
	assert.Empty(t, a.Positions)
}

func TestAccountStore_RevertRestoresAverageCost(t *testing.T) {
	s := NewAccountStore(nil)
	require.NoError(t, s.Create(&domain.Account{
		AccountID:   "acct-1",
		CashBalance: 200_000,
		Positions:   map[string]*domain.Position{"AAPL": {Quantity: 10, AverageCost: 10000}},
	}))
	res, _, err := s.Reserve("acct-1", "AAPL", "ord-1", reserveCash(12000, 10), t0)
	require.NoError(t, err)
	o := buyOrder("ord-1", 12000, res.Cash)

	d, err := s.SettleFill(o, &domain.Fill{FillID: "f-1", Symbol: "AAPL", Price: 12000, Quantity: 10, ExecutedAt: t0})
	require.NoError(t, err)
	a, _ := s.Get("acct-1")
	require.Equal(t, int64(11000), a.Positions["AAPL"].AverageCost)

	require.NoError(t, s.Revert(d))
	a, _ = s.Get("acct-1")
	p := a.Positions["AAPL"]
	require.NotNil(t, p)
	assert.Equal(t, int64(10), p.Quantity)
	assert.Equal(t, int64(10000), p.AverageCost)
	assert.Zero(t, p.PendingQuantity)
}

func TestAccountStore_RevertSellOfWholePositionKeepsCost(t *testing.T) {
	s := NewAccountStore(nil)
	require.NoError(t, s.Create(&domain.Account{
		AccountID: "acct-1",
		Positions: map[string]*domain.Position{"AAPL": {Quantity: 5, AverageCost: 9000}},
	}))
	res, _, err := s.Reserve("acct-1", "AAPL", "ord-1", func(domain.AccountSnapshot) (domain.Reservation, error) {
		return domain.Reservation{Quantity: 5}, nil
	}, t0)
	require.NoError(t, err)
	o := &domain.Order{OrderID: "ord-1", AccountID: "acct-1", Symbol: "AAPL", Side: domain.OrderSideSell, ReservedQuantity: res.Quantity}

	d, err := s.SettleFill(o, &domain.Fill{FillID: "f-1", Symbol: "AAPL", Price: 10000, Quantity: 5, ExecutedAt: t0})
	require.NoError(t, err)
	require.NoError(t, s.Revert(d))

	a, _ := s.Get("acct-1")
	assert.Zero(t, a.CashBalance)
	require.Contains(t, a.Positions, "AAPL")
	assert.Equal(t, int64(5), a.Positions["AAPL"].ReservedQuantity)
	assert.Equal(t, int64(9000), a.Positions["AAPL"].AverageCost)
}

func TestAccountStore_PassCreditsPendingUntilConfirmed(t *testing.T) {
	s := NewAccountStore(nil)
	require.NoError(t, s.Create(&domain.Account{
		AccountID: "acct-1",
		Positions: map[string]*domain.Position{"AAPL": {Quantity: 10}},
	}))
	res, _, err := s.Reserve("acct-1", "AAPL", "ord-1", func(domain.AccountSnapshot) (domain.Reservation, error) {
		return domain.Reservation{Quantity: 10}, nil
	}, t0)
	require.NoError(t, err)
	o := &domain.Order{OrderID: "ord-1", AccountID: "acct-1", Symbol: "AAPL", Side: domain.OrderSideSell, ReservedQuantity: res.Quantity}

	d, err := s.SettleFill(o, &domain.Fill{FillID: "f-1", Symbol: "AAPL", Price: 10000, Quantity: 10, ExecutedAt: t0})
	require.NoError(t, err)
	assert.Equal(t, int64(100_000), d.PendingCash)

	// Proceeds cannot back a new order before the pass is durable.
	_, _, err = s.Reserve("acct-1", "MSFT", "ord-2", reserveCash(100, 1), t0)
	var re *domain.RejectError
	require.ErrorAs(t, err, &re)

	s.Confirm(d)
	_, _, err = s.Reserve("acct-1", "MSFT", "ord-2", reserveCash(100, 1), t0)
	require.NoError(t, err)
	a, _ := s.Get("acct-1")
	assert.Equal(t, int64(99_900), a.AvailableCash())
	assert.NotContains(t, a.Positions, "AAPL")
}

func TestAccountStore_ConcurrentReserveNeverOverspends(t *testing.T) {
	s := newFundedStore(t, 10_000)

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := s.Reserve("acct-1", "AAPL", "ord", reserveCash(100, 10), t0); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, accepted)
	a, _ := s.Get("acct-1")
	assert.Zero(t, a.AvailableCash())
}

type stubLoader struct {
	acct *domain.Account
	err  error
}

func (l stubLoader) LoadAccount(context.Context, string) (*domain.Account, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.acct.Clone(), nil
}

func TestAccountStore_EnsureLoadsOnMiss(t *testing.T) {
	s := NewAccountStore(stubLoader{acct: &domain.Account{AccountID: "acct-9", CashBalance: 42}})
	require.NoError(t, s.Ensure(context.Background(), "acct-9"))

	a, err := s.Get("acct-9")
	require.NoError(t, err)
	assert.Equal(t, int64(42), a.CashBalance)

	failing := NewAccountStore(stubLoader{err: domain.ErrAccountNotFound})
	err = failing.Ensure(context.Background(), "acct-9")
	assert.True(t, errors.Is(err, domain.ErrAccountNotFound))

	assert.ErrorIs(t, NewAccountStore(nil).Ensure(context.Background(), "x"), domain.ErrAccountNotFound)
}
