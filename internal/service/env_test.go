package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/efreitasn/brokerx/internal/domain"
	"github.com/efreitasn/brokerx/internal/engine"
	"github.com/efreitasn/brokerx/internal/idempotency"
	"github.com/efreitasn/brokerx/internal/risk"
	"github.com/efreitasn/brokerx/internal/store"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// testEnv wires every service over an in-memory repository.
type testEnv struct {
	repo        *store.Memory
	accounts    *store.AccountStore
	instruments *domain.InstrumentRegistry
	webhooks    *store.WebhookStore
	core        *engine.Core

	orders   *OrderService
	accts    *AccountService
	market   *MarketService
	webhookS *WebhookService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo := store.NewMemory()
	accounts := store.NewAccountStore(repo)
	instruments := domain.NewInstrumentRegistry(
		domain.Instrument{Symbol: "AAPL", TickSize: 1, ReferencePrice: 15000, Active: true},
		domain.Instrument{Symbol: "MSFT", TickSize: 5, ReferencePrice: 42000, Active: true},
	)
	validator := risk.NewValidator(instruments, risk.Limits{
		MaxQuantity: 10_000,
		MaxNotional: 1_000_000_000,
		BandBPS:     1000,
	})
	core := engine.NewCore(engine.Config{
		Workers:        2,
		QueueDepth:     100,
		PersistTimeout: time.Second,
		PersistRetries: 2,
		PersistBackoff: time.Millisecond,
		BandBPS:        1000,
	}, accounts, instruments, validator, repo, nil, discardLogger)
	guard := idempotency.NewGuard(time.Hour, repo)
	webhooks := store.NewWebhookStore()

	return &testEnv{
		repo:        repo,
		accounts:    accounts,
		instruments: instruments,
		webhooks:    webhooks,
		core:        core,
		orders:      NewOrderService(core, guard, accounts, repo, discardLogger),
		accts:       NewAccountService(accounts, instruments, repo),
		market:      NewMarketService(core, instruments, discardLogger),
		webhookS:    NewWebhookService(webhooks, accounts),
	}
}

// start runs the processing core until the test ends.
func (env *testEnv) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = env.core.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
}

func (env *testEnv) open(t *testing.T, id string, cash string, positions ...PositionInput) {
	t.Helper()
	_, err := env.accts.Open(context.Background(), OpenAccountRequest{
		AccountID:        id,
		InitialCash:      decimal.RequireFromString(cash),
		InitialPositions: positions,
	})
	require.NoError(t, err)
}

func (env *testEnv) waitForStatus(t *testing.T, orderID string, want domain.OrderStatus) *domain.Order {
	t.Helper()
	var o *domain.Order
	require.Eventually(t, func() bool {
		var err error
		o, err = env.repo.LoadOrder(context.Background(), orderID)
		return err == nil && o.Status == want
	}, 3*time.Second, 2*time.Millisecond, "order %s never reached %s", orderID, want)
	return o
}

func price(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func limitOrder(acct, clientID string, side domain.OrderSide, px string, qty int64) SubmitOrderRequest {
	return SubmitOrderRequest{
		AccountID:     acct,
		ClientOrderID: clientID,
		Symbol:        "AAPL",
		Side:          side,
		Type:          domain.OrderTypeLimit,
		TimeInForce:   domain.TimeInForceDay,
		Quantity:      qty,
		Price:         price(px),
	}
}
