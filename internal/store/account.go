package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/efreitasn/brokerx/internal/domain"
)

// AccountLoader fetches an account that is not yet held in memory.
type AccountLoader interface {
	LoadAccount(ctx context.Context, accountID string) (*domain.Account, error)
}

type accountEntry struct {
	mu   sync.Mutex
	acct *domain.Account
}

// AccountStore is the in-memory account and portfolio store. Every
// mutation is a single method that takes the account's lock once and
// never calls back into the engine, so callers holding a book lock can
// use it without lock-order inversions.
type AccountStore struct {
	mu       sync.RWMutex
	accounts map[string]*accountEntry
	loader   AccountLoader
}

// NewAccountStore creates an empty AccountStore. loader may be nil.
func NewAccountStore(loader AccountLoader) *AccountStore {
	return &AccountStore{
		accounts: make(map[string]*accountEntry),
		loader:   loader,
	}
}

// Create adds an account. It returns domain.ErrAccountExists if an
// account with the same ID is already held.
func (s *AccountStore) Create(a *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[a.AccountID]; exists {
		return domain.ErrAccountExists
	}
	if a.Positions == nil {
		a.Positions = make(map[string]*domain.Position)
	}
	s.accounts[a.AccountID] = &accountEntry{acct: a}
	return nil
}

// Exists returns true if the account is held in memory.
func (s *AccountStore) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.accounts[id]
	return ok
}

// Ensure makes sure the account is held in memory, loading it through
// the loader on a miss.
func (s *AccountStore) Ensure(ctx context.Context, id string) error {
	if s.Exists(id) {
		return nil
	}
	if s.loader == nil {
		return domain.ErrAccountNotFound
	}
	a, err := s.loader.LoadAccount(ctx, id)
	if err != nil {
		return err
	}
	if err := s.Create(a); err != nil && err != domain.ErrAccountExists {
		return err
	}
	return nil
}

func (s *AccountStore) entry(id string) (*accountEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return e, nil
}

// Get returns a deep copy of the account.
func (s *AccountStore) Get(id string) (*domain.Account, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acct.Clone(), nil
}

// Deposit credits cash to the account. The credit is journaled first and
// only becomes spendable once journal has returned without error, so a
// failed write never has to take back cash that was already available.
func (s *AccountStore) Deposit(
	ctx context.Context,
	id string,
	amount int64,
	at time.Time,
	journal func(context.Context, domain.AccountDelta) error,
) (domain.AccountDelta, error) {
	if amount <= 0 {
		return domain.AccountDelta{}, &domain.ValidationError{Message: "amount must be greater than 0"}
	}
	e, err := s.entry(id)
	if err != nil {
		return domain.AccountDelta{}, err
	}

	d := newDelta(id, domain.DeltaDeposit, at)
	d.Cash = amount
	if journal != nil {
		if err := journal(ctx, d); err != nil {
			return domain.AccountDelta{}, err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.acct.Apply(d)
	return d, nil
}

// Reserve runs decide against a snapshot of the account and, if it
// accepts, applies the returned reservation, all under the account lock.
// Concurrent submissions therefore cannot spend the same buying power.
func (s *AccountStore) Reserve(
	id, symbol, orderID string,
	decide func(domain.AccountSnapshot) (domain.Reservation, error),
	at time.Time,
) (domain.Reservation, domain.AccountDelta, error) {
	e, err := s.entry(id)
	if err != nil {
		return domain.Reservation{}, domain.AccountDelta{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	res, err := decide(e.acct.Snapshot(symbol))
	if err != nil {
		return domain.Reservation{}, domain.AccountDelta{}, err
	}
	if res.Cash > e.acct.AvailableCash() {
		return domain.Reservation{}, domain.AccountDelta{}, &domain.InvariantError{
			Op:     "reserve",
			Detail: fmt.Sprintf("account %s: reservation %d exceeds available %d", id, res.Cash, e.acct.AvailableCash()),
			Err:    domain.ErrNegativeCash,
		}
	}

	d := newDelta(id, domain.DeltaReserve, at)
	d.OrderID = orderID
	d.Symbol = symbol
	d.ReservedCash = res.Cash
	d.ReservedQuantity = res.Quantity
	e.acct.Apply(d)
	return res, d, nil
}

// Release returns whatever reservation the order still holds. It must
// run exactly once per order; a second call is an invariant violation.
// ok is false when there was nothing left to release.
func (s *AccountStore) Release(o *domain.Order, at time.Time) (d domain.AccountDelta, ok bool, err error) {
	e, err := s.entry(o.AccountID)
	if err != nil {
		return d, false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if o.ReservationReleased {
		return d, false, &domain.InvariantError{
			Op:     "release",
			Detail: fmt.Sprintf("order %s", o.OrderID),
			Err:    domain.ErrDoubleRelease,
		}
	}
	o.ReservationReleased = true
	if o.ReservedCash == 0 && o.ReservedQuantity == 0 {
		return d, false, nil
	}

	d = newDelta(o.AccountID, domain.DeltaRelease, at)
	d.OrderID = o.OrderID
	d.Symbol = o.Symbol
	d.ReservedCash = -o.ReservedCash
	d.ReservedQuantity = -o.ReservedQuantity
	applyPending(e.acct, &d)
	o.ReservedCash = 0
	o.ReservedQuantity = 0
	return d, true, nil
}

// SettleFill books one side of a fill against the order's account and
// consumes the matching part of the order's reservation. The change is
// refused, leaving the account untouched, if it would drive available
// cash negative.
//
// Release and SettleFill belong to a matching pass: whatever cash or
// shares they free stays pending until Confirm, and Revert takes the
// delta back out.
func (s *AccountStore) SettleFill(o *domain.Order, f *domain.Fill) (domain.AccountDelta, error) {
	e, err := s.entry(o.AccountID)
	if err != nil {
		return domain.AccountDelta{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	d := newDelta(o.AccountID, domain.DeltaFill, f.ExecutedAt)
	d.OrderID = o.OrderID
	d.FillID = f.FillID
	d.Symbol = f.Symbol
	d.Price = f.Price

	var consumedCash, consumedQty int64
	if o.Side == domain.OrderSideBuy {
		consumedCash = min(o.UnitReserve*f.Quantity, o.ReservedCash)
		d.Cash = -f.Price * f.Quantity
		d.ReservedCash = -consumedCash
		d.Quantity = f.Quantity
	} else {
		consumedQty = min(f.Quantity, o.ReservedQuantity)
		d.Cash = f.Price * f.Quantity
		d.Quantity = -f.Quantity
		d.ReservedQuantity = -consumedQty
	}

	available := e.acct.AvailableCash() + d.Cash - d.ReservedCash
	if available < 0 {
		return domain.AccountDelta{}, &domain.InvariantError{
			Op:     "settle fill",
			Detail: fmt.Sprintf("account %s: fill %s leaves available cash %d", o.AccountID, f.FillID, available),
			Err:    domain.ErrNegativeCash,
		}
	}

	applyPending(e.acct, &d)
	o.ReservedCash -= consumedCash
	o.ReservedQuantity -= consumedQty
	return d, nil
}

// Confirm makes the pending part of pass deltas spendable once the pass
// is durable.
func (s *AccountStore) Confirm(deltas ...domain.AccountDelta) {
	for _, d := range deltas {
		if d.PendingCash == 0 && d.PendingQuantity == 0 {
			continue
		}
		e, err := s.entry(d.AccountID)
		if err != nil {
			continue
		}
		e.mu.Lock()
		clearPending(e.acct, d)
		e.mu.Unlock()
	}
}

// Revert undoes a delta previously applied by this store, including its
// pending part, and restores the position's average cost. The engine
// uses it to roll back a matching pass that failed or could not be
// persisted, and to take back a reservation whose order was never saved.
func (s *AccountStore) Revert(d domain.AccountDelta) error {
	e, err := s.entry(d.AccountID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	clearPending(e.acct, d)
	inv := d
	inv.Cash = -d.Cash
	inv.ReservedCash = -d.ReservedCash
	inv.Quantity = -d.Quantity
	inv.ReservedQuantity = -d.ReservedQuantity
	inv.Price = 0
	e.acct.Apply(inv)
	if d.Kind == domain.DeltaFill {
		if p, ok := e.acct.Positions[d.Symbol]; ok {
			p.AverageCost = d.PriorAverageCost
		}
	}
	return nil
}

// applyPending applies a pass delta and parks whatever it frees as
// pending, recording the pending amounts on d.
func applyPending(a *domain.Account, d *domain.AccountDelta) {
	if p, ok := a.Positions[d.Symbol]; ok {
		d.PriorAverageCost = p.AverageCost
	}
	a.Apply(*d)

	if gain := d.Cash - d.ReservedCash; gain > 0 {
		d.PendingCash = gain
		a.PendingCash += gain
	}
	if gain := d.Quantity - d.ReservedQuantity; gain > 0 && d.Symbol != "" {
		d.PendingQuantity = gain
		a.Position(d.Symbol).PendingQuantity += gain
	}
}

func clearPending(a *domain.Account, d domain.AccountDelta) {
	a.PendingCash -= d.PendingCash
	if d.PendingQuantity == 0 {
		return
	}
	if p, ok := a.Positions[d.Symbol]; ok {
		p.PendingQuantity -= d.PendingQuantity
		if p.Quantity == 0 && p.ReservedQuantity == 0 && p.PendingQuantity == 0 {
			delete(a.Positions, d.Symbol)
		}
	}
}

func newDelta(accountID string, kind domain.DeltaKind, at time.Time) domain.AccountDelta {
	return domain.AccountDelta{
		DeltaID:   uuid.New().String(),
		AccountID: accountID,
		Kind:      kind,
		At:        at,
	}
}
