// Package risk implements the pre-trade checks an order must pass before
// it reaches the book.
package risk

import (
	"fmt"

	"github.com/efreitasn/brokerx/internal/domain"
)

const bpsDenominator = 10_000

// Limits are the per-order maxima and the allowed distance from the
// reference price.
type Limits struct {
	MaxQuantity int64
	MaxNotional int64 // cents
	BandBPS     int64
}

// Request is the part of an order the validator looks at.
type Request struct {
	Symbol   string
	Side     domain.OrderSide
	Type     domain.OrderType
	Quantity int64
	Price    int64 // cents, limit orders only
}

// RequestFor extracts the validator input from an order.
func RequestFor(o *domain.Order) Request {
	return Request{
		Symbol:   o.Symbol,
		Side:     o.Side,
		Type:     o.Type,
		Quantity: o.Quantity,
		Price:    o.Price,
	}
}

// Validator runs the pre-trade checks. It holds no per-account state:
// callers hand it a snapshot taken under the account lock.
type Validator struct {
	instruments *domain.InstrumentRegistry
	limits      Limits
}

// NewValidator creates a Validator reading instruments from the registry.
func NewValidator(instruments *domain.InstrumentRegistry, limits Limits) *Validator {
	return &Validator{instruments: instruments, limits: limits}
}

// Check runs every rule in a fixed order and reports the first failure
// as a *domain.RejectError. On success it returns what must be reserved
// against the account.
func (v *Validator) Check(req Request, acct domain.AccountSnapshot) (domain.Reservation, error) {
	in, err := v.sanity(req)
	if err != nil {
		return domain.Reservation{}, err
	}

	if req.Side == domain.OrderSideSell && !acct.ShortSellAllowed && req.Quantity > acct.HeldQuantity {
		return domain.Reservation{}, reject(domain.RejectShortSellNotAllowed,
			"selling %d with %d held", req.Quantity, acct.HeldQuantity)
	}

	if err := v.priceBand(req, in); err != nil {
		return domain.Reservation{}, err
	}

	if req.Quantity > v.limits.MaxQuantity {
		return domain.Reservation{}, reject(domain.RejectExceedsMaxQuantity,
			"quantity %d above %d", req.Quantity, v.limits.MaxQuantity)
	}
	estimate := req.Price
	if req.Type == domain.OrderTypeMarket {
		estimate = in.ReferencePrice
	}
	if notional := estimate * req.Quantity; notional > v.limits.MaxNotional {
		return domain.Reservation{}, reject(domain.RejectExceedsMaxNotional,
			"notional %s above %s", domain.DecimalFromCents(notional), domain.DecimalFromCents(v.limits.MaxNotional))
	}

	return v.buyingPower(req, in, acct)
}

func (v *Validator) sanity(req Request) (domain.Instrument, error) {
	if req.Quantity <= 0 {
		return domain.Instrument{}, reject(domain.RejectInvalidQuantity, "quantity must be greater than 0")
	}
	in, ok := v.instruments.Get(req.Symbol)
	if !ok {
		return domain.Instrument{}, reject(domain.RejectUnknownInstrument, "%s", req.Symbol)
	}
	if !in.Active {
		return domain.Instrument{}, reject(domain.RejectInstrumentInactive, "%s is halted", req.Symbol)
	}
	switch req.Type {
	case domain.OrderTypeLimit:
		if req.Price <= 0 {
			return domain.Instrument{}, reject(domain.RejectInvalidPrice, "limit price must be greater than 0")
		}
	case domain.OrderTypeMarket:
		if req.Price != 0 {
			return domain.Instrument{}, reject(domain.RejectInvalidPrice, "market orders take no price")
		}
		if in.ReferencePrice <= 0 {
			return domain.Instrument{}, reject(domain.RejectInvalidPrice, "%s has no reference price", req.Symbol)
		}
	}
	return in, nil
}

func (v *Validator) priceBand(req Request, in domain.Instrument) error {
	if req.Type != domain.OrderTypeLimit {
		return nil
	}
	if in.ReferencePrice > 0 {
		lo, hi := Band(in.ReferencePrice, v.limits.BandBPS)
		if req.Price < lo || req.Price > hi {
			return reject(domain.RejectPriceOutOfBand, "price %s outside [%s, %s]",
				domain.DecimalFromCents(req.Price), domain.DecimalFromCents(lo), domain.DecimalFromCents(hi))
		}
	}
	if req.Price%in.TickSize != 0 {
		return reject(domain.RejectInvalidTickSize, "price %s not a multiple of %s",
			domain.DecimalFromCents(req.Price), domain.DecimalFromCents(in.TickSize))
	}
	return nil
}

func (v *Validator) buyingPower(req Request, in domain.Instrument, acct domain.AccountSnapshot) (domain.Reservation, error) {
	if req.Side == domain.OrderSideSell {
		if req.Quantity > acct.AvailableQuantity && !acct.ShortSellAllowed {
			return domain.Reservation{}, reject(domain.RejectInsufficientPosition,
				"selling %d with %d available", req.Quantity, acct.AvailableQuantity)
		}
		return domain.Reservation{Quantity: min(req.Quantity, max(acct.AvailableQuantity, 0))}, nil
	}

	unit := req.Price
	if req.Type == domain.OrderTypeMarket {
		unit = MarketCap(in.ReferencePrice, v.limits.BandBPS, domain.OrderSideBuy)
	}
	required := unit * req.Quantity
	if required > acct.AvailableCash {
		return domain.Reservation{}, reject(domain.RejectInsufficientBuyingPower,
			"required %s, available %s", domain.DecimalFromCents(required), domain.DecimalFromCents(acct.AvailableCash))
	}
	return domain.Reservation{UnitCash: unit, Cash: required}, nil
}

// Band returns the inclusive price range allowed around ref.
func Band(ref, bps int64) (lo, hi int64) {
	delta := ref * bps / bpsDenominator
	return max(ref-delta, 1), ref + delta
}

// MarketCap is the worst price a market order on side may trade at: the
// upper band edge for buys and the lower one for sells.
func MarketCap(ref, bps int64, side domain.OrderSide) int64 {
	lo, hi := Band(ref, bps)
	if side == domain.OrderSideBuy {
		return hi
	}
	return lo
}

func reject(reason domain.RejectReason, format string, args ...any) *domain.RejectError {
	return &domain.RejectError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}
