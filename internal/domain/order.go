package domain

import "time"

// OrderType distinguishes limit orders from market orders.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderSide indicates whether an order buys or sells the instrument.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the side an order of this side matches against.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// TimeInForce controls what happens to quantity left after the first
// matching pass.
type TimeInForce string

const (
	TimeInForceDay TimeInForce = "DAY"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
)

// CancelReason records why an order stopped trading before it filled.
type CancelReason string

const (
	CancelReasonRequested    CancelReason = "requested"
	CancelReasonIOCRemainder CancelReason = "ioc_remainder"
	CancelReasonExpired      CancelReason = "expired"
)

// Order is a client instruction to trade one instrument. Only the
// processing core mutates an accepted order.
type Order struct {
	OrderID       string
	ClientOrderID string
	AccountID     string
	Symbol        string
	Side          OrderSide
	Type          OrderType
	TimeInForce   TimeInForce
	Price         int64 // cents, 0 for market orders until they rest

	Quantity          int64
	RemainingQuantity int64
	FilledQuantity    int64
	CancelledQuantity int64

	Status       OrderStatus
	RejectReason RejectReason
	CancelReason CancelReason

	// Seq breaks ties between orders submitted within the same clock tick.
	Seq         uint64
	SubmittedAt time.Time
	UpdatedAt   time.Time

	// Reservation still held against the account for this order.
	// UnitReserve is the per-share cash earmarked for a buy.
	UnitReserve         int64
	ReservedCash        int64
	ReservedQuantity    int64
	ReservationReleased bool
}

// Clone returns a copy safe to hand outside the processing core.
func (o *Order) Clone() *Order {
	c := *o
	return &c
}

// Closed reports whether the order can no longer trade: it reached a
// terminal status or has no quantity left (an IOC that partially filled).
func (o *Order) Closed() bool {
	return o.Status.IsTerminal() || o.RemainingQuantity == 0
}

// Resting reports whether the order is eligible to sit on the book.
func (o *Order) Resting() bool {
	return !o.Closed() && (o.Status == OrderStatusWorking || o.Status == OrderStatusPartiallyFilled)
}

// AveragePrice computes the volume-weighted average execution price of
// the given fills using integer arithmetic. Returns (0, false) when no
// quantity has traded.
func AveragePrice(fills []*Fill) (int64, bool) {
	var total, qty int64
	for _, f := range fills {
		total += f.Price * f.Quantity
		qty += f.Quantity
	}
	if qty == 0 {
		return 0, false
	}
	return total / qty, true
}
