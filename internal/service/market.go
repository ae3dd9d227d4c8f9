package service

import (
	"log/slog"
	"time"

	"github.com/efreitasn/brokerx/internal/domain"
	"github.com/efreitasn/brokerx/internal/engine"
)

// InstrumentResponse describes an instrument and its trading state.
type InstrumentResponse struct {
	Symbol         string
	TickSize       int64
	ReferencePrice int64
	Active         bool
}

// BookPriceLevel represents an aggregated price level in the book response.
type BookPriceLevel struct {
	Price         int64
	TotalQuantity int64
	OrderCount    int
}

// BookResponse represents the response for GET /instruments/{symbol}/book.
type BookResponse struct {
	Symbol     string
	Bids       []BookPriceLevel
	Asks       []BookPriceLevel
	Spread     *int64 // nil if either side empty
	SnapshotAt time.Time
}

// QuotePriceLevel represents a single price level in the quote response.
type QuotePriceLevel struct {
	Price    int64
	Quantity int64
}

// QuoteResponse represents the response for GET /instruments/{symbol}/quote.
type QuoteResponse struct {
	Symbol            string
	Side              domain.OrderSide
	QuantityRequested int64
	QuantityAvailable int64
	FullyFillable     bool
	EstimatedAvgPrice *int64 // nil when no liquidity
	EstimatedTotal    *int64 // nil when no liquidity
	PriceLevels       []QuotePriceLevel
	QuotedAt          time.Time
}

// MarketService handles instrument, book and quote queries and trading halts.
type MarketService struct {
	core        *engine.Core
	instruments *domain.InstrumentRegistry
	log         *slog.Logger
	now         func() time.Time
}

// NewMarketService creates a new MarketService with the given dependencies.
func NewMarketService(core *engine.Core, instruments *domain.InstrumentRegistry, logger *slog.Logger) *MarketService {
	return &MarketService{
		core:        core,
		instruments: instruments,
		log:         logger,
		now:         time.Now,
	}
}

// ListInstruments returns every registered instrument sorted by symbol.
func (s *MarketService) ListInstruments() []InstrumentResponse {
	symbols := s.instruments.Symbols()
	out := make([]InstrumentResponse, 0, len(symbols))
	for _, sym := range symbols {
		if in, ok := s.instruments.Get(sym); ok {
			out = append(out, instrumentResponse(in))
		}
	}
	return out
}

// GetInstrument returns a single instrument.
func (s *MarketService) GetInstrument(symbol string) (*InstrumentResponse, error) {
	in, ok := s.instruments.Get(symbol)
	if !ok {
		return nil, domain.ErrInstrumentNotFound
	}
	resp := instrumentResponse(in)
	return &resp, nil
}

func instrumentResponse(in domain.Instrument) InstrumentResponse {
	return InstrumentResponse{
		Symbol:         in.Symbol,
		TickSize:       in.TickSize,
		ReferencePrice: in.ReferencePrice,
		Active:         in.Active,
	}
}

// Halt stops new orders for symbol from matching. Resting orders stay in
// the book and can still be cancelled.
func (s *MarketService) Halt(symbol string) (*InstrumentResponse, error) {
	return s.setActive(symbol, false)
}

// Resume re-opens trading in symbol.
func (s *MarketService) Resume(symbol string) (*InstrumentResponse, error) {
	return s.setActive(symbol, true)
}

func (s *MarketService) setActive(symbol string, active bool) (*InstrumentResponse, error) {
	if err := s.instruments.SetActive(symbol, active); err != nil {
		return nil, err
	}
	s.log.Info("instrument trading state changed",
		slog.String("symbol", symbol),
		slog.Bool("active", active),
	)
	return s.GetInstrument(symbol)
}

// GetBook returns the top N price levels of the order book for a symbol.
func (s *MarketService) GetBook(symbol string, depth int) (*BookResponse, error) {
	if depth < 1 || depth > 50 {
		return nil, &domain.ValidationError{
			Message: "depth must be between 1 and 50",
		}
	}

	topBids, topAsks, err := s.core.Depth(symbol, depth)
	if err != nil {
		return nil, err
	}

	resp := &BookResponse{
		Symbol:     symbol,
		Bids:       bookLevels(topBids),
		Asks:       bookLevels(topAsks),
		SnapshotAt: s.now(),
	}
	if len(topBids) > 0 && len(topAsks) > 0 {
		spread := topAsks[0].Price - topBids[0].Price
		resp.Spread = &spread
	}
	return resp, nil
}

func bookLevels(levels []engine.PriceLevel) []BookPriceLevel {
	out := make([]BookPriceLevel, len(levels))
	for i, pl := range levels {
		out[i] = BookPriceLevel{
			Price:         pl.Price,
			TotalQuantity: pl.TotalQuantity,
			OrderCount:    pl.OrderCount,
		}
	}
	return out
}

// GetQuote simulates a market order against the current book and returns
// the estimated result without placing an order.
func (s *MarketService) GetQuote(symbol string, side domain.OrderSide, quantity int64) (*QuoteResponse, error) {
	if side != domain.OrderSideBuy && side != domain.OrderSideSell {
		return nil, &domain.ValidationError{
			Message: "side must be 'buy' or 'sell'",
		}
	}
	if quantity <= 0 {
		return nil, &domain.ValidationError{
			Message: "quantity must be a positive integer",
		}
	}

	result, err := s.core.Quote(symbol, side, quantity)
	if err != nil {
		return nil, err
	}

	priceLevels := make([]QuotePriceLevel, len(result.PriceLevels))
	for i, pl := range result.PriceLevels {
		priceLevels[i] = QuotePriceLevel{
			Price:    pl.Price,
			Quantity: pl.Quantity,
		}
	}

	return &QuoteResponse{
		Symbol:            symbol,
		Side:              side,
		QuantityRequested: quantity,
		QuantityAvailable: result.QuantityAvailable,
		FullyFillable:     result.FullyFillable,
		EstimatedAvgPrice: result.EstimatedAvgPrice,
		EstimatedTotal:    result.EstimatedTotal,
		PriceLevels:       priceLevels,
		QuotedAt:          s.now(),
	}, nil
}
