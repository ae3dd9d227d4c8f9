package store

import (
	"context"
	"sort"
	"sync"

	"github.com/efreitasn/brokerx/internal/domain"
)

// Memory is a thread-safe in-memory repository for accounts, orders,
// fills and the account journal. It stores copies, never the live
// objects owned by the processing core.
type Memory struct {
	mu            sync.RWMutex
	accounts      map[string]*domain.Account
	deltas        map[string][]domain.AccountDelta // account_id → journal
	deltaIDs      map[string]bool
	orders        map[string]*domain.Order
	accountOrders map[string][]string // account_id → order_ids (append-only)
	clientIndex   map[clientKey]string
	fills         map[string]*domain.Fill
	orderFills    map[string][]*domain.Fill // order_id → fills (chronological)
}

type clientKey struct {
	accountID     string
	clientOrderID string
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		accounts:      make(map[string]*domain.Account),
		deltas:        make(map[string][]domain.AccountDelta),
		deltaIDs:      make(map[string]bool),
		orders:        make(map[string]*domain.Order),
		accountOrders: make(map[string][]string),
		clientIndex:   make(map[clientKey]string),
		fills:         make(map[string]*domain.Fill),
		orderFills:    make(map[string][]*domain.Fill),
	}
}

// SaveAccount stores a copy of the account, replacing any previous one.
func (m *Memory) SaveAccount(ctx context.Context, a *domain.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.accounts[a.AccountID] = a.Clone()
	return nil
}

// LoadAccount returns a copy of the stored account.
func (m *Memory) LoadAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[accountID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return a.Clone(), nil
}

// SaveAccountDelta journals the delta and applies it to the stored
// account. Saving the same delta twice is a no-op.
func (m *Memory) SaveAccountDelta(ctx context.Context, d domain.AccountDelta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[d.AccountID]; !ok && !m.deltaIDs[d.DeltaID] {
		return domain.ErrAccountNotFound
	}
	m.applyDelta(d)
	return nil
}

func (m *Memory) applyDelta(d domain.AccountDelta) {
	if m.deltaIDs[d.DeltaID] {
		return
	}
	m.accounts[d.AccountID].Apply(d)
	m.deltaIDs[d.DeltaID] = true
	m.deltas[d.AccountID] = append(m.deltas[d.AccountID], d)
}

// Deltas returns the account journal in the order it was written.
func (m *Memory) Deltas(ctx context.Context, accountID string) ([]domain.AccountDelta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.AccountDelta, len(m.deltas[accountID]))
	copy(out, m.deltas[accountID])
	return out, nil
}

// SaveOrder stores a copy of the order and indexes it by account and
// client order ID on first save.
func (m *Memory) SaveOrder(ctx context.Context, o *domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.saveOrder(o)
	return nil
}

func (m *Memory) saveOrder(o *domain.Order) {
	if _, exists := m.orders[o.OrderID]; !exists {
		m.accountOrders[o.AccountID] = append(m.accountOrders[o.AccountID], o.OrderID)
		if o.ClientOrderID != "" {
			m.clientIndex[clientKey{o.AccountID, o.ClientOrderID}] = o.OrderID
		}
	}
	m.orders[o.OrderID] = o.Clone()
}

// LoadOrder retrieves a copy of an order by ID. It returns
// domain.ErrOrderNotFound if the order does not exist.
func (m *Memory) LoadOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o.Clone(), nil
}

// FindOrderByClientID looks an order up by its idempotency key.
func (m *Memory) FindOrderByClientID(ctx context.Context, accountID, clientOrderID string) (*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.clientIndex[clientKey{accountID, clientOrderID}]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return m.orders[id].Clone(), nil
}

// ListOrders returns orders for an account newest first. If status is
// non-nil, only orders matching that status are included. Pagination is
// 1-based. It also returns the total count of matching orders.
func (m *Memory) ListOrders(ctx context.Context, accountID string, status *domain.OrderStatus, page, limit int) ([]*domain.Order, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.accountOrders[accountID]
	filtered := make([]*domain.Order, 0)
	for i := len(ids) - 1; i >= 0; i-- {
		o := m.orders[ids[i]]
		if status != nil && o.Status != *status {
			continue
		}
		filtered = append(filtered, o)
	}

	total := len(filtered)
	start := (page - 1) * limit
	if start >= total {
		return []*domain.Order{}, total, nil
	}
	end := min(start+limit, total)

	out := make([]*domain.Order, 0, end-start)
	for _, o := range filtered[start:end] {
		out = append(out, o.Clone())
	}
	return out, total, nil
}

// OrdersByStatus returns every order in the given status ordered by
// acceptance sequence.
func (m *Memory) OrdersByStatus(ctx context.Context, status domain.OrderStatus) ([]*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*domain.Order, 0)
	for _, o := range m.orders {
		if o.Status == status {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (m *Memory) appendFill(f *domain.Fill) {
	if _, exists := m.fills[f.FillID]; exists {
		return
	}
	cp := *f
	m.fills[f.FillID] = &cp
	m.orderFills[f.BuyOrderID] = append(m.orderFills[f.BuyOrderID], &cp)
	m.orderFills[f.SellOrderID] = append(m.orderFills[f.SellOrderID], &cp)
}

// CommitPass writes the fills, account deltas and orders of one
// matching pass all together or not at all. Fills and deltas already
// stored are skipped, so a retried pass is safe.
func (m *Memory) CommitPass(ctx context.Context, fills []*domain.Fill, deltas []domain.AccountDelta, orders []*domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range deltas {
		if _, ok := m.accounts[d.AccountID]; !ok && !m.deltaIDs[d.DeltaID] {
			return domain.ErrAccountNotFound
		}
	}
	for _, f := range fills {
		m.appendFill(f)
	}
	for _, d := range deltas {
		m.applyDelta(d)
	}
	for _, o := range orders {
		m.saveOrder(o)
	}
	return nil
}

// FillsForOrder returns the fills an order took part in, oldest first.
func (m *Memory) FillsForOrder(ctx context.Context, orderID string) ([]*domain.Fill, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	fills := m.orderFills[orderID]
	out := make([]*domain.Fill, len(fills))
	for i, f := range fills {
		cp := *f
		out[i] = &cp
	}
	return out, nil
}
