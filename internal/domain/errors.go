package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain-level error handling.
// The handler layer maps these to HTTP status codes.
var (
	ErrAccountExists       = errors.New("account_already_exists")
	ErrAccountNotFound     = errors.New("account_not_found")
	ErrOrderNotFound       = errors.New("order_not_found")
	ErrOrderNotCancellable = errors.New("order_not_cancellable")
	ErrInstrumentNotFound  = errors.New("instrument_not_found")
	ErrWebhookNotFound     = errors.New("webhook_not_found")

	// ErrOverloaded is returned when the processing queue is full.
	ErrOverloaded = errors.New("overloaded")
	// ErrUnavailable is returned when a persistence step exhausted its
	// retries or the core is shutting down.
	ErrUnavailable = errors.New("unavailable")

	ErrDoubleRelease = errors.New("reservation_already_released")
	ErrNegativeCash  = errors.New("negative_available_cash")
	ErrCrossedBook   = errors.New("crossed_book")
)

// ValidationError represents a malformed request.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// RejectReason is the code reported for a refused order.
type RejectReason string

const (
	RejectNone                    RejectReason = ""
	RejectInvalidQuantity         RejectReason = "invalid_quantity"
	RejectUnknownInstrument       RejectReason = "unknown_instrument"
	RejectInstrumentInactive      RejectReason = "instrument_inactive"
	RejectInvalidPrice            RejectReason = "invalid_price"
	RejectShortSellNotAllowed     RejectReason = "short_sell_not_allowed"
	RejectPriceOutOfBand          RejectReason = "price_out_of_band"
	RejectInvalidTickSize         RejectReason = "invalid_tick_size"
	RejectExceedsMaxQuantity      RejectReason = "exceeds_max_quantity"
	RejectExceedsMaxNotional      RejectReason = "exceeds_max_notional"
	RejectInsufficientBuyingPower RejectReason = "insufficient_buying_power"
	RejectInsufficientPosition    RejectReason = "insufficient_position"
	RejectFOKUnfillable           RejectReason = "fok_unfillable"
	RejectNoLiquidity             RejectReason = "no_liquidity"
	RejectBookInvariant           RejectReason = "book_invariant_violation"
)

// RejectError reports a refused order with its reason code.
type RejectError struct {
	Reason RejectReason
	Detail string
}

func (e *RejectError) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

// InvariantError signals a defect: state the core must never reach.
// It is raised as an operational alert, never shown as a user error.
type InvariantError struct {
	Op     string
	Detail string
	Err    error
}

func (e *InvariantError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invariant violated in %s: %s: %v", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("invariant violated in %s: %s", e.Op, e.Detail)
}

func (e *InvariantError) Unwrap() error {
	return e.Err
}
