package domain

import "time"

// ExecutionReport is emitted for every status change an order goes
// through after acceptance. Fill is set when the change came from a match.
type ExecutionReport struct {
	OrderID           string
	ClientOrderID     string
	AccountID         string
	Symbol            string
	Side              OrderSide
	Status            OrderStatus
	RejectReason      RejectReason
	CancelReason      CancelReason
	FilledQuantity    int64
	RemainingQuantity int64
	Fill              *Fill
	At                time.Time
}

// ReportFor builds a report from the order's current state.
func ReportFor(o *Order, fill *Fill) ExecutionReport {
	return ExecutionReport{
		OrderID:           o.OrderID,
		ClientOrderID:     o.ClientOrderID,
		AccountID:         o.AccountID,
		Symbol:            o.Symbol,
		Side:              o.Side,
		Status:            o.Status,
		RejectReason:      o.RejectReason,
		CancelReason:      o.CancelReason,
		FilledQuantity:    o.FilledQuantity,
		RemainingQuantity: o.RemainingQuantity,
		Fill:              fill,
		At:                o.UpdatedAt,
	}
}

// Ack is the synchronous answer to a submission. A duplicate submission
// receives the exact Ack of the first one.
type Ack struct {
	OrderID       string
	ClientOrderID string
	AccountID     string
	Status        OrderStatus
	RejectReason  RejectReason
	SubmittedAt   time.Time
}

// Rejected reports whether the submission was refused.
func (a Ack) Rejected() bool {
	return a.Status == OrderStatusRejected
}

// AckFor builds the acknowledgment for an order.
func AckFor(o *Order) Ack {
	return Ack{
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		AccountID:     o.AccountID,
		Status:        o.Status,
		RejectReason:  o.RejectReason,
		SubmittedAt:   o.SubmittedAt,
	}
}
