package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/efreitasn/brokerx/internal/domain"
	"github.com/efreitasn/brokerx/internal/risk"
	"github.com/efreitasn/brokerx/internal/store"
)

// QuotePriceLevel represents a single price level in a quote simulation.
type QuotePriceLevel struct {
	Price    int64
	Quantity int64
}

// QuoteResult holds the result of a market order simulation.
type QuoteResult struct {
	QuantityAvailable int64
	FullyFillable     bool
	EstimatedAvgPrice *int64 // nil when no liquidity
	EstimatedTotal    *int64 // nil when no liquidity
	PriceLevels       []QuotePriceLevel
}

// MatchResult is everything one committed matching pass changed. The
// caller persists fills, account deltas and orders in one write.
type MatchResult struct {
	Fills  []*domain.Fill
	Deltas []domain.AccountDelta
	// Orders holds a snapshot of every order whose state changed,
	// incoming order first.
	Orders []*domain.Order
	// Reports are emitted in the order the changes happened.
	Reports []domain.ExecutionReport
	// Rested is set when the incoming order now rests on the book.
	Rested bool
	// Closed lists orders that can no longer trade.
	Closed []string

	undo *undoLog
}

// Matcher runs matching passes. It holds no locks of its own: callers
// hold the book's write lock for the whole pass, and account changes go
// through the store's single-owner methods.
type Matcher struct {
	accounts    *store.AccountStore
	instruments *domain.InstrumentRegistry
	bandBPS     int64
	now         func() time.Time
}

// NewMatcher creates a Matcher settling fills against accounts.
func NewMatcher(accounts *store.AccountStore, instruments *domain.InstrumentRegistry, bandBPS int64) *Matcher {
	return &Matcher{
		accounts:    accounts,
		instruments: instruments,
		bandBPS:     bandBPS,
		now:         time.Now,
	}
}

// undoLog records what a pass changed so a failed pass can be rolled
// back to the state it started from.
type undoLog struct {
	orders  map[*domain.Order]domain.Order
	removed []*domain.Order
	rested  *domain.Order
	deltas  []domain.AccountDelta

	// reference price of symbol before the pass moved it
	symbol   string
	priorRef int64
}

func newUndoLog() *undoLog {
	return &undoLog{orders: make(map[*domain.Order]domain.Order)}
}

func (u *undoLog) touch(o *domain.Order) {
	if _, ok := u.orders[o]; !ok {
		u.orders[o] = *o
	}
}

func (m *Matcher) rollback(book *OrderBook, u *undoLog) error {
	var errs []error
	for i := len(u.deltas) - 1; i >= 0; i-- {
		if err := m.accounts.Revert(u.deltas[i]); err != nil {
			errs = append(errs, err)
		}
	}
	if u.rested != nil {
		book.Remove(u.rested.OrderID)
	}
	for o, saved := range u.orders {
		*o = saved
	}
	for _, o := range u.removed {
		if !book.Contains(o.OrderID) {
			book.Insert(o)
		}
	}
	if u.symbol != "" {
		m.instruments.SetReferencePrice(u.symbol, u.priorRef)
	}
	return errors.Join(errs...)
}

// Undo rolls back a pass that committed in memory but could not be made
// durable. The caller holds the book's write lock, and no other pass
// may have run on the book since res was produced.
func (m *Matcher) Undo(book *OrderBook, res *MatchResult) error {
	if res.undo == nil {
		return nil
	}
	err := m.rollback(book, res.undo)
	res.undo = nil
	return err
}

// crossLimit is the worst price the incoming order accepts, and whether
// it has one at all.
func (m *Matcher) crossLimit(o *domain.Order) int64 {
	if o.Type == domain.OrderTypeLimit {
		return o.Price
	}
	if o.Side == domain.OrderSideBuy {
		return o.UnitReserve
	}
	in, _ := m.instruments.Get(o.Symbol)
	return risk.MarketCap(in.ReferencePrice, m.bandBPS, domain.OrderSideSell)
}

func crosses(side domain.OrderSide, limit, restingPrice int64) bool {
	if side == domain.OrderSideBuy {
		return restingPrice <= limit
	}
	return restingPrice >= limit
}

// fillable sums the quantity o could take from the book right now.
func fillable(book *OrderBook, o *domain.Order, limit int64) int64 {
	var qty int64
	book.Walk(o.Side.Opposite(), func(e OrderBookEntry) bool {
		if !crosses(o.Side, limit, e.Price) {
			return false
		}
		qty += e.Order.RemainingQuantity
		return qty < o.RemainingQuantity
	})
	return qty
}

// Match runs one matching pass for the incoming order o, which must be
// in status Validating. Either the whole pass commits and the result is
// returned, or the pass is rolled back, o is exactly as it was on entry
// and the error is a *domain.InvariantError. An order refused by
// matching (FOK unfillable, market order without liquidity) commits as
// Rejected with its reservation released.
func (m *Matcher) Match(book *OrderBook, o *domain.Order) (*MatchResult, error) {
	if book.Crossed() {
		return nil, &domain.InvariantError{
			Op:     "match",
			Detail: fmt.Sprintf("book %s crossed before order %s", book.Symbol(), o.OrderID),
			Err:    domain.ErrCrossedBook,
		}
	}

	limit := m.crossLimit(o)
	if o.TimeInForce == domain.TimeInForceFOK && fillable(book, o, limit) < o.RemainingQuantity {
		return m.refuse(o, domain.RejectFOKUnfillable)
	}

	u := newUndoLog()
	res, err := m.run(book, o, limit, u)
	if err != nil {
		if rbErr := m.rollback(book, u); rbErr != nil {
			err = errors.Join(err, rbErr)
		}
		return nil, err
	}
	return res, nil
}

// refuse rejects the incoming order without touching the book.
func (m *Matcher) refuse(o *domain.Order, reason domain.RejectReason) (*MatchResult, error) {
	at := m.now()
	u := newUndoLog()
	u.touch(o)
	res := &MatchResult{}
	if err := m.reject(o, reason, at, res, u); err != nil {
		m.rollback(nil, u)
		return nil, err
	}
	res.Orders = []*domain.Order{o.Clone()}
	res.undo = u
	return res, nil
}

func (m *Matcher) reject(o *domain.Order, reason domain.RejectReason, at time.Time, res *MatchResult, u *undoLog) error {
	if err := o.Transition(domain.OrderStatusRejected, at); err != nil {
		return err
	}
	o.RejectReason = reason
	o.RemainingQuantity = 0
	if err := m.release(o, at, res, u); err != nil {
		return err
	}
	res.Reports = append(res.Reports, domain.ReportFor(o, nil))
	res.Closed = append(res.Closed, o.OrderID)
	return nil
}

func (m *Matcher) release(o *domain.Order, at time.Time, res *MatchResult, u *undoLog) error {
	d, ok, err := m.accounts.Release(o, at)
	if err != nil {
		return err
	}
	if ok {
		u.deltas = append(u.deltas, d)
		res.Deltas = append(res.Deltas, d)
	}
	return nil
}

func (m *Matcher) run(book *OrderBook, o *domain.Order, limit int64, u *undoLog) (*MatchResult, error) {
	at := m.now()
	res := &MatchResult{}
	u.touch(o)
	touched := make([]*domain.Order, 0)
	var lastPrice int64

	for o.RemainingQuantity > 0 {
		best, ok := book.Best(o.Side.Opposite())
		if !ok || !crosses(o.Side, limit, best.Price) {
			break
		}
		resting := best.Order
		u.touch(resting)

		qty := min(o.RemainingQuantity, resting.RemainingQuantity)
		fill := &domain.Fill{
			FillID:       uuid.New().String(),
			Symbol:       o.Symbol,
			MakerOrderID: resting.OrderID,
			Price:        best.Price,
			Quantity:     qty,
			ExecutedAt:   at,
		}
		if o.Side == domain.OrderSideBuy {
			fill.BuyOrderID, fill.SellOrderID = o.OrderID, resting.OrderID
		} else {
			fill.BuyOrderID, fill.SellOrderID = resting.OrderID, o.OrderID
		}

		for _, side := range []*domain.Order{o, resting} {
			d, err := m.accounts.SettleFill(side, fill)
			if err != nil {
				return nil, err
			}
			u.deltas = append(u.deltas, d)
			res.Deltas = append(res.Deltas, d)
		}

		o.RemainingQuantity -= qty
		o.FilledQuantity += qty
		resting.RemainingQuantity -= qty
		resting.FilledQuantity += qty
		lastPrice = best.Price

		if err := fillStatus(o, at); err != nil {
			return nil, err
		}
		if err := fillStatus(resting, at); err != nil {
			return nil, err
		}
		res.Fills = append(res.Fills, fill)
		res.Reports = append(res.Reports, domain.ReportFor(o, fill), domain.ReportFor(resting, fill))

		if resting.RemainingQuantity == 0 {
			book.Remove(resting.OrderID)
			u.removed = append(u.removed, resting)
			if err := m.release(resting, at, res, u); err != nil {
				return nil, err
			}
			res.Closed = append(res.Closed, resting.OrderID)
		}
		if !containsOrder(touched, resting) {
			touched = append(touched, resting)
		}
	}

	if err := m.finish(book, o, lastPrice, at, res, u); err != nil {
		return nil, err
	}

	if book.Crossed() {
		return nil, &domain.InvariantError{
			Op:     "match",
			Detail: fmt.Sprintf("book %s crossed after order %s", book.Symbol(), o.OrderID),
			Err:    domain.ErrCrossedBook,
		}
	}

	if lastPrice > 0 {
		if in, ok := m.instruments.Get(o.Symbol); ok {
			u.symbol, u.priorRef = o.Symbol, in.ReferencePrice
		}
		m.instruments.SetReferencePrice(o.Symbol, lastPrice)
	}
	res.Orders = append([]*domain.Order{o.Clone()}, res.Orders...)
	for _, r := range touched {
		res.Orders = append(res.Orders, r.Clone())
	}
	res.undo = u
	return res, nil
}

// finish decides what happens to quantity left after the pass.
func (m *Matcher) finish(book *OrderBook, o *domain.Order, lastPrice int64, at time.Time, res *MatchResult, u *undoLog) error {
	if o.RemainingQuantity == 0 {
		// fillStatus already moved o to Filled.
		res.Closed = append(res.Closed, o.OrderID)
		return m.release(o, at, res, u)
	}

	switch o.TimeInForce {
	case domain.TimeInForceFOK:
		return &domain.InvariantError{
			Op:     "match",
			Detail: fmt.Sprintf("fok order %s left %d unfilled after simulation", o.OrderID, o.RemainingQuantity),
		}

	case domain.TimeInForceIOC:
		o.CancelledQuantity += o.RemainingQuantity
		o.RemainingQuantity = 0
		if o.FilledQuantity == 0 {
			if err := o.Transition(domain.OrderStatusCancelled, at); err != nil {
				return err
			}
		}
		o.CancelReason = domain.CancelReasonIOCRemainder
		o.UpdatedAt = at
		res.Reports = append(res.Reports, domain.ReportFor(o, nil))
		res.Closed = append(res.Closed, o.OrderID)
		return m.release(o, at, res, u)
	}

	if o.Type == domain.OrderTypeMarket {
		if o.FilledQuantity == 0 {
			return m.reject(o, domain.RejectNoLiquidity, at, res, u)
		}
		o.Price = lastPrice
	}
	if err := o.Transition(domain.OrderStatusWorking, at); err != nil {
		return err
	}
	book.Insert(o)
	u.rested = o
	res.Rested = true
	res.Reports = append(res.Reports, domain.ReportFor(o, nil))
	return nil
}

// fillStatus moves an order to Filled or PartiallyFilled after a fill.
func fillStatus(o *domain.Order, at time.Time) error {
	if o.RemainingQuantity == 0 {
		return o.Transition(domain.OrderStatusFilled, at)
	}
	return o.Transition(domain.OrderStatusPartiallyFilled, at)
}

func containsOrder(list []*domain.Order, o *domain.Order) bool {
	for _, x := range list {
		if x == o {
			return true
		}
	}
	return false
}

// Cancel takes a resting or queued order out of trading with the given
// reason and releases its reservation. The caller holds the book's
// write lock. It returns domain.ErrOrderNotCancellable if the order
// can no longer trade.
func (m *Matcher) Cancel(book *OrderBook, o *domain.Order, reason domain.CancelReason) (*MatchResult, error) {
	if o.Closed() {
		return nil, domain.ErrOrderNotCancellable
	}
	switch o.Status {
	case domain.OrderStatusQueued, domain.OrderStatusWorking, domain.OrderStatusPartiallyFilled:
	default:
		return nil, domain.ErrOrderNotCancellable
	}

	at := m.now()
	u := newUndoLog()
	u.touch(o)
	res := &MatchResult{}

	wasResting := book.Remove(o.OrderID)
	if err := o.Transition(domain.OrderStatusCancelled, at); err != nil {
		if wasResting {
			book.Insert(o)
		}
		return nil, err
	}
	o.CancelledQuantity += o.RemainingQuantity
	o.RemainingQuantity = 0
	o.CancelReason = reason
	if wasResting {
		u.removed = append(u.removed, o)
	}
	if err := m.release(o, at, res, u); err != nil {
		m.rollback(book, u)
		return nil, err
	}

	res.Orders = []*domain.Order{o.Clone()}
	res.Reports = []domain.ExecutionReport{domain.ReportFor(o, nil)}
	res.Closed = []string{o.OrderID}
	res.undo = u
	return res, nil
}

// SimulateMarketOrder performs a read-only walk of the opposite side of the
// book to estimate the result of a market order without actually placing it.
// For buy quotes it walks asks (lowest first); for sell quotes it walks bids
// (highest first).
func SimulateMarketOrder(book *OrderBook, side domain.OrderSide, quantity int64) *QuoteResult {
	book.RLock()
	defer book.RUnlock()

	result := &QuoteResult{
		PriceLevels: make([]QuotePriceLevel, 0),
	}

	var remaining int64 = quantity
	var totalCost int64

	book.Walk(side.Opposite(), func(entry OrderBookEntry) bool {
		if remaining <= 0 {
			return false
		}
		fillQty := min(entry.Order.RemainingQuantity, remaining)
		totalCost += entry.Price * fillQty
		result.QuantityAvailable += fillQty
		remaining -= fillQty

		// Aggregate into price levels.
		if len(result.PriceLevels) > 0 && result.PriceLevels[len(result.PriceLevels)-1].Price == entry.Price {
			result.PriceLevels[len(result.PriceLevels)-1].Quantity += fillQty
		} else {
			result.PriceLevels = append(result.PriceLevels, QuotePriceLevel{
				Price:    entry.Price,
				Quantity: fillQty,
			})
		}
		return true
	})

	if result.QuantityAvailable > 0 {
		avgPrice := totalCost / result.QuantityAvailable
		result.EstimatedAvgPrice = &avgPrice
		result.EstimatedTotal = &totalCost
	}
	result.FullyFillable = result.QuantityAvailable >= quantity

	return result
}
