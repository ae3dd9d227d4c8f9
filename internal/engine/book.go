package engine

import (
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/efreitasn/brokerx/internal/domain"
)

// OrderBookEntry represents a single order resting on the book.
type OrderBookEntry struct {
	Price       int64
	SubmittedAt time.Time
	Seq         uint64
	OrderID     string
	Order       *domain.Order
}

func entryFor(o *domain.Order) OrderBookEntry {
	return OrderBookEntry{
		Price:       o.Price,
		SubmittedAt: o.SubmittedAt,
		Seq:         o.Seq,
		OrderID:     o.OrderID,
		Order:       o,
	}
}

// PriceLevel represents an aggregated price level in the order book.
type PriceLevel struct {
	Price         int64
	TotalQuantity int64
	OrderCount    int
}

// timeLess breaks price ties: earlier submission first, then acceptance
// sequence for orders stamped within the same clock tick.
func timeLess(a, b OrderBookEntry) bool {
	if !a.SubmittedAt.Equal(b.SubmittedAt) {
		return a.SubmittedAt.Before(b.SubmittedAt)
	}
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	return a.OrderID < b.OrderID
}

// bidLess orders the bid side by price descending, so Min() is the best bid.
func bidLess(a, b OrderBookEntry) bool {
	if a.Price != b.Price {
		return a.Price > b.Price
	}
	return timeLess(a, b)
}

// askLess orders the ask side by price ascending, so Min() is the best ask.
func askLess(a, b OrderBookEntry) bool {
	if a.Price != b.Price {
		return a.Price < b.Price
	}
	return timeLess(a, b)
}

// OrderBook maintains the bid and ask sides for a single symbol using
// B-trees with a secondary index for O(log n) removal by order ID.
//
// Writers hold the lock for a whole matching pass. Entries point at the
// live orders owned by the processing core, so readers must hold RLock
// while looking at remaining quantities.
type OrderBook struct {
	symbol string
	mu     sync.RWMutex
	bids   *btree.BTreeG[OrderBookEntry]
	asks   *btree.BTreeG[OrderBookEntry]
	index  map[string]OrderBookEntry // order_id → entry
}

// NewOrderBook creates an order book for the given symbol.
func NewOrderBook(symbol string) *OrderBook {
	const degree = 32
	return &OrderBook{
		symbol: symbol,
		bids:   btree.NewG[OrderBookEntry](degree, bidLess),
		asks:   btree.NewG[OrderBookEntry](degree, askLess),
		index:  make(map[string]OrderBookEntry),
	}
}

// Symbol returns the instrument this book trades.
func (ob *OrderBook) Symbol() string {
	return ob.symbol
}

// Lock acquires the write lock on the order book.
func (ob *OrderBook) Lock() {
	ob.mu.Lock()
}

// Unlock releases the write lock on the order book.
func (ob *OrderBook) Unlock() {
	ob.mu.Unlock()
}

// RLock acquires the read lock on the order book.
func (ob *OrderBook) RLock() {
	ob.mu.RLock()
}

// RUnlock releases the read lock on the order book.
func (ob *OrderBook) RUnlock() {
	ob.mu.RUnlock()
}

func (ob *OrderBook) side(s domain.OrderSide) *btree.BTreeG[OrderBookEntry] {
	if s == domain.OrderSideBuy {
		return ob.bids
	}
	return ob.asks
}

// Insert rests an order on its side of the book at its priority slot.
func (ob *OrderBook) Insert(o *domain.Order) {
	entry := entryFor(o)
	ob.side(o.Side).ReplaceOrInsert(entry)
	ob.index[entry.OrderID] = entry
}

// Remove deletes an order from the book by order ID. It reports whether
// the order was on the book.
func (ob *OrderBook) Remove(orderID string) bool {
	entry, ok := ob.index[orderID]
	if !ok {
		return false
	}
	delete(ob.index, orderID)
	ob.side(entry.Order.Side).Delete(entry)
	return true
}

// Contains reports whether the order rests on the book.
func (ob *OrderBook) Contains(orderID string) bool {
	_, ok := ob.index[orderID]
	return ok
}

// BestBid returns the highest-priority bid (highest price, earliest time).
func (ob *OrderBook) BestBid() (OrderBookEntry, bool) {
	return ob.bids.Min()
}

// BestAsk returns the highest-priority ask (lowest price, earliest time).
func (ob *OrderBook) BestAsk() (OrderBookEntry, bool) {
	return ob.asks.Min()
}

// Best returns the highest-priority entry on side s.
func (ob *OrderBook) Best(s domain.OrderSide) (OrderBookEntry, bool) {
	return ob.side(s).Min()
}

// Crossed reports whether the best bid is at or above the best ask.
func (ob *OrderBook) Crossed() bool {
	bid, okBid := ob.BestBid()
	ask, okAsk := ob.BestAsk()
	return okBid && okAsk && bid.Price >= ask.Price
}

// TopBids returns up to n aggregated price levels from the bid side,
// ordered by price descending.
func (ob *OrderBook) TopBids(n int) []PriceLevel {
	return topLevels(ob.bids, n)
}

// TopAsks returns up to n aggregated price levels from the ask side,
// ordered by price ascending.
func (ob *OrderBook) TopAsks(n int) []PriceLevel {
	return topLevels(ob.asks, n)
}

// topLevels iterates the B-tree in order and aggregates entries into
// at most n price levels.
func topLevels(tree *btree.BTreeG[OrderBookEntry], n int) []PriceLevel {
	if n <= 0 {
		return nil
	}
	levels := make([]PriceLevel, 0, n)
	tree.Ascend(func(entry OrderBookEntry) bool {
		if len(levels) > 0 && levels[len(levels)-1].Price == entry.Price {
			levels[len(levels)-1].TotalQuantity += entry.Order.RemainingQuantity
			levels[len(levels)-1].OrderCount++
			return true
		}
		if len(levels) >= n {
			return false
		}
		levels = append(levels, PriceLevel{
			Price:         entry.Price,
			TotalQuantity: entry.Order.RemainingQuantity,
			OrderCount:    1,
		})
		return true
	})
	return levels
}

// Walk iterates side s in priority order. The callback returns true to
// continue, false to stop.
func (ob *OrderBook) Walk(s domain.OrderSide, fn func(OrderBookEntry) bool) {
	ob.side(s).Ascend(fn)
}

// BidCount returns the number of individual bid orders on the book.
func (ob *OrderBook) BidCount() int {
	return ob.bids.Len()
}

// AskCount returns the number of individual ask orders on the book.
func (ob *OrderBook) AskCount() int {
	return ob.asks.Len()
}

// BookManager is a thread-safe map of symbol → OrderBook.
type BookManager struct {
	mu    sync.RWMutex
	books map[string]*OrderBook
}

// NewBookManager creates a new BookManager.
func NewBookManager() *BookManager {
	return &BookManager{
		books: make(map[string]*OrderBook),
	}
}

// Get returns the order book for symbol if one exists.
func (bm *BookManager) Get(symbol string) (*OrderBook, bool) {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	book, ok := bm.books[symbol]
	return book, ok
}

// GetOrCreate returns the order book for the given symbol, creating
// one if it doesn't already exist.
func (bm *BookManager) GetOrCreate(symbol string) *OrderBook {
	if book, ok := bm.Get(symbol); ok {
		return book
	}

	bm.mu.Lock()
	defer bm.mu.Unlock()
	// Double-check after acquiring write lock.
	if book, ok := bm.books[symbol]; ok {
		return book
	}
	book := NewOrderBook(symbol)
	bm.books[symbol] = book
	return book
}
