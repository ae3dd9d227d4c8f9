package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/brokerx/internal/domain"
	"github.com/efreitasn/brokerx/internal/service"
)

// MarketHandler handles HTTP requests for instrument endpoints.
type MarketHandler struct {
	marketSvc *service.MarketService
}

// NewMarketHandler creates a new MarketHandler.
func NewMarketHandler(marketSvc *service.MarketService) *MarketHandler {
	return &MarketHandler{marketSvc: marketSvc}
}

type instrumentResponse struct {
	Symbol         string `json:"symbol"`
	TickSize       money  `json:"tick_size"`
	ReferencePrice money  `json:"reference_price"`
	Active         bool   `json:"active"`
}

type instrumentListResponse struct {
	Instruments []instrumentResponse `json:"instruments"`
}

type bookLevelResponse struct {
	Price         money `json:"price"`
	TotalQuantity int64 `json:"total_quantity"`
	OrderCount    int   `json:"order_count"`
}

type bookResponse struct {
	Symbol     string              `json:"symbol"`
	Bids       []bookLevelResponse `json:"bids"`
	Asks       []bookLevelResponse `json:"asks"`
	Spread     *money              `json:"spread"`
	SnapshotAt string              `json:"snapshot_at"`
}

type quoteLevelResponse struct {
	Price    money `json:"price"`
	Quantity int64 `json:"quantity"`
}

type quoteResponse struct {
	Symbol            string               `json:"symbol"`
	Side              string               `json:"side"`
	QuantityRequested int64                `json:"quantity_requested"`
	QuantityAvailable int64                `json:"quantity_available"`
	FullyFillable     bool                 `json:"fully_fillable"`
	EstimatedAvgPrice *money               `json:"estimated_average_price"`
	EstimatedTotal    *money               `json:"estimated_total"`
	PriceLevels       []quoteLevelResponse `json:"price_levels"`
	QuotedAt          string               `json:"quoted_at"`
}

// ListInstruments handles GET /instruments.
func (h *MarketHandler) ListInstruments(w http.ResponseWriter, r *http.Request) {
	instruments := h.marketSvc.ListInstruments()
	resp := instrumentListResponse{Instruments: make([]instrumentResponse, len(instruments))}
	for i, in := range instruments {
		resp.Instruments[i] = buildInstrumentResponse(&in)
	}
	WriteJSON(w, http.StatusOK, resp)
}

// GetInstrument handles GET /instruments/{symbol}.
func (h *MarketHandler) GetInstrument(w http.ResponseWriter, r *http.Request) {
	in, err := h.marketSvc.GetInstrument(chi.URLParam(r, "symbol"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildInstrumentResponse(in))
}

// Halt handles POST /instruments/{symbol}/halt.
func (h *MarketHandler) Halt(w http.ResponseWriter, r *http.Request) {
	in, err := h.marketSvc.Halt(chi.URLParam(r, "symbol"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildInstrumentResponse(in))
}

// Resume handles POST /instruments/{symbol}/resume.
func (h *MarketHandler) Resume(w http.ResponseWriter, r *http.Request) {
	in, err := h.marketSvc.Resume(chi.URLParam(r, "symbol"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildInstrumentResponse(in))
}

// GetBook handles GET /instruments/{symbol}/book.
func (h *MarketHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	// Parse depth query param (default 10, max 50).
	depth := 10
	if d := r.URL.Query().Get("depth"); d != "" {
		var err error
		depth, err = strconv.Atoi(d)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", "depth must be a valid integer")
			return
		}
	}

	book, err := h.marketSvc.GetBook(symbol, depth)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, bookResponse{
		Symbol:     book.Symbol,
		Bids:       buildBookLevels(book.Bids),
		Asks:       buildBookLevels(book.Asks),
		Spread:     moneyPtr(book.Spread),
		SnapshotAt: timestamp(book.SnapshotAt),
	})
}

// GetQuote handles GET /instruments/{symbol}/quote.
func (h *MarketHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	side := r.URL.Query().Get("side")

	quantity, err := strconv.ParseInt(r.URL.Query().Get("quantity"), 10, 64)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", "quantity must be a positive integer")
		return
	}

	quote, err := h.marketSvc.GetQuote(symbol, domain.OrderSide(side), quantity)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	priceLevels := make([]quoteLevelResponse, len(quote.PriceLevels))
	for i, pl := range quote.PriceLevels {
		priceLevels[i] = quoteLevelResponse{
			Price:    money(pl.Price),
			Quantity: pl.Quantity,
		}
	}

	WriteJSON(w, http.StatusOK, quoteResponse{
		Symbol:            quote.Symbol,
		Side:              string(quote.Side),
		QuantityRequested: quote.QuantityRequested,
		QuantityAvailable: quote.QuantityAvailable,
		FullyFillable:     quote.FullyFillable,
		EstimatedAvgPrice: moneyPtr(quote.EstimatedAvgPrice),
		EstimatedTotal:    moneyPtr(quote.EstimatedTotal),
		PriceLevels:       priceLevels,
		QuotedAt:          timestamp(quote.QuotedAt),
	})
}

func buildInstrumentResponse(in *service.InstrumentResponse) instrumentResponse {
	return instrumentResponse{
		Symbol:         in.Symbol,
		TickSize:       money(in.TickSize),
		ReferencePrice: money(in.ReferencePrice),
		Active:         in.Active,
	}
}

func buildBookLevels(levels []service.BookPriceLevel) []bookLevelResponse {
	out := make([]bookLevelResponse, len(levels))
	for i, l := range levels {
		out[i] = bookLevelResponse{
			Price:         money(l.Price),
			TotalQuantity: l.TotalQuantity,
			OrderCount:    l.OrderCount,
		}
	}
	return out
}
