package domain

import "time"

// Fill is an immutable execution between a buy and a sell order.
type Fill struct {
	FillID      string
	Symbol      string
	BuyOrderID  string
	SellOrderID string
	// MakerOrderID is the resting order whose price was used.
	MakerOrderID string
	Price        int64 // cents
	Quantity     int64
	ExecutedAt   time.Time
}

// Involves reports whether orderID is one of the two matched orders.
func (f *Fill) Involves(orderID string) bool {
	return f.BuyOrderID == orderID || f.SellOrderID == orderID
}
