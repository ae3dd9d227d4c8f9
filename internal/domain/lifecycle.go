package domain

import (
	"fmt"
	"time"
)

// OrderStatus is the closed set of lifecycle states of an order.
type OrderStatus string

const (
	OrderStatusQueued          OrderStatus = "queued"
	OrderStatusValidating      OrderStatus = "validating"
	OrderStatusWorking         OrderStatus = "working"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusCancelled       OrderStatus = "cancelled"
)

// ValidOrderStatuses lists every status for input validation.
var ValidOrderStatuses = map[OrderStatus]bool{
	OrderStatusQueued:          true,
	OrderStatusValidating:      true,
	OrderStatusWorking:         true,
	OrderStatusPartiallyFilled: true,
	OrderStatusFilled:          true,
	OrderStatusRejected:        true,
	OrderStatusCancelled:       true,
}

// IsTerminal reports whether no further transition is legal.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled:
		return true
	}
	return false
}

var transitions = map[OrderStatus]map[OrderStatus]bool{
	OrderStatusQueued: {
		OrderStatusValidating: true,
		OrderStatusRejected:   true,
		OrderStatusCancelled:  true,
	},
	OrderStatusValidating: {
		OrderStatusWorking:         true,
		OrderStatusPartiallyFilled: true,
		OrderStatusFilled:          true,
		OrderStatusRejected:        true,
		OrderStatusCancelled:       true,
	},
	OrderStatusWorking: {
		OrderStatusPartiallyFilled: true,
		OrderStatusFilled:          true,
		OrderStatusCancelled:       true,
	},
	OrderStatusPartiallyFilled: {
		OrderStatusPartiallyFilled: true,
		OrderStatusWorking:         true,
		OrderStatusFilled:          true,
		OrderStatusCancelled:       true,
	},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to OrderStatus) bool {
	return transitions[from][to]
}

// Transition moves the order to status to. An illegal move is a
// programming error and returns an *InvariantError without touching
// the order.
func (o *Order) Transition(to OrderStatus, at time.Time) error {
	if !CanTransition(o.Status, to) {
		return &InvariantError{
			Op:     "order transition",
			Detail: fmt.Sprintf("order %s: %s -> %s", o.OrderID, o.Status, to),
		}
	}
	o.Status = to
	o.UpdatedAt = at
	return nil
}
