package domain

import "time"

// Position is an account's holding in a single instrument. Quantity may
// go negative only for accounts authorized to sell short.
type Position struct {
	Quantity         int64
	ReservedQuantity int64
	// PendingQuantity was credited by a matching pass that is not durable
	// yet and cannot be sold until it is.
	PendingQuantity int64
	AverageCost     int64 // cents per share, buys only
}

// Available returns the quantity free to back a new sell order.
func (p *Position) Available() int64 {
	return p.Quantity - p.ReservedQuantity - p.PendingQuantity
}

func (p *Position) empty() bool {
	return p.Quantity == 0 && p.ReservedQuantity == 0 && p.PendingQuantity == 0
}

// Account holds a client's cash and positions.
type Account struct {
	AccountID        string
	CashBalance      int64 // cents
	ReservedCash     int64 // cash earmarked for working buy orders
	PendingCash      int64 // credited by a pass not yet durable
	Positions        map[string]*Position
	ShortSellAllowed bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// AvailableCash returns the account's unreserved cash balance.
func (a *Account) AvailableCash() int64 {
	return a.CashBalance - a.ReservedCash - a.PendingCash
}

// AvailableQuantity returns the unreserved quantity for the given symbol,
// or 0 if the account holds no position in it.
func (a *Account) AvailableQuantity(symbol string) int64 {
	p, ok := a.Positions[symbol]
	if !ok {
		return 0
	}
	return p.Available()
}

func (a *Account) heldQuantity(symbol string) int64 {
	if p, ok := a.Positions[symbol]; ok {
		return p.Quantity
	}
	return 0
}

// Position returns the position for symbol, creating an empty one.
func (a *Account) Position(symbol string) *Position {
	if a.Positions == nil {
		a.Positions = make(map[string]*Position)
	}
	p, ok := a.Positions[symbol]
	if !ok {
		p = &Position{}
		a.Positions[symbol] = p
	}
	return p
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	c := *a
	c.Positions = make(map[string]*Position, len(a.Positions))
	for sym, p := range a.Positions {
		cp := *p
		c.Positions[sym] = &cp
	}
	return &c
}

// AccountSnapshot is the read-only view the pre-trade validator sees.
type AccountSnapshot struct {
	AccountID         string
	AvailableCash     int64
	AvailableQuantity int64
	HeldQuantity      int64
	ShortSellAllowed  bool
}

// Snapshot captures the account state relevant to an order in symbol.
func (a *Account) Snapshot(symbol string) AccountSnapshot {
	return AccountSnapshot{
		AccountID:         a.AccountID,
		AvailableCash:     a.AvailableCash(),
		AvailableQuantity: a.AvailableQuantity(symbol),
		HeldQuantity:      a.heldQuantity(symbol),
		ShortSellAllowed:  a.ShortSellAllowed,
	}
}

// DeltaKind labels an entry of the account journal.
type DeltaKind string

const (
	DeltaOpen    DeltaKind = "open"
	DeltaDeposit DeltaKind = "deposit"
	DeltaReserve DeltaKind = "reserve"
	DeltaRelease DeltaKind = "release"
	DeltaFill    DeltaKind = "fill"
)

// AccountDelta is one atomic change to an account. Deltas are
// journaled in order so the account can be rebuilt from them.
type AccountDelta struct {
	DeltaID          string
	AccountID        string
	OrderID          string
	FillID           string
	Kind             DeltaKind
	Symbol           string
	Cash             int64
	ReservedCash     int64
	Quantity         int64
	ReservedQuantity int64
	// Price is the execution price for fill deltas, used for average cost.
	Price int64
	At    time.Time

	// The fields below live only in memory and are never journaled.
	// PriorAverageCost is the position's average cost before the delta.
	PriorAverageCost int64
	// PendingCash and PendingQuantity are the parts of the delta that
	// stay unspendable until the delta is confirmed durable.
	PendingCash     int64
	PendingQuantity int64
}

// Apply adds the delta to the account.
func (a *Account) Apply(d AccountDelta) {
	a.CashBalance += d.Cash
	a.ReservedCash += d.ReservedCash
	if d.Symbol != "" && (d.Quantity != 0 || d.ReservedQuantity != 0) {
		p := a.Position(d.Symbol)
		if d.Quantity > 0 && d.Price > 0 {
			newQty := p.Quantity + d.Quantity
			if p.Quantity <= 0 {
				p.AverageCost = d.Price
			} else {
				p.AverageCost = (p.AverageCost*p.Quantity + d.Price*d.Quantity) / newQty
			}
		}
		p.Quantity += d.Quantity
		p.ReservedQuantity += d.ReservedQuantity
		if p.empty() {
			delete(a.Positions, d.Symbol)
		}
	}
	a.UpdatedAt = d.At
}

// Reservation is what an accepted order earmarks against its account.
type Reservation struct {
	UnitCash int64 // cash per share for buys
	Cash     int64
	Quantity int64 // shares for sells
}
