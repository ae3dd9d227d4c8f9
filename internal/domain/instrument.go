package domain

import (
	"sort"
	"sync"
)

// Instrument is a tradable symbol with its pricing rules.
type Instrument struct {
	Symbol         string
	TickSize       int64 // cents
	ReferencePrice int64 // cents; follows the last trade
	Active         bool
}

// InstrumentRegistry tracks known instruments in a thread-safe manner.
type InstrumentRegistry struct {
	mu          sync.RWMutex
	instruments map[string]*Instrument
}

// NewInstrumentRegistry creates a registry holding the given instruments.
func NewInstrumentRegistry(instruments ...Instrument) *InstrumentRegistry {
	r := &InstrumentRegistry{
		instruments: make(map[string]*Instrument, len(instruments)),
	}
	for _, in := range instruments {
		r.Register(in)
	}
	return r
}

// Register adds or replaces an instrument. A zero tick size means one cent.
func (r *InstrumentRegistry) Register(in Instrument) {
	if in.TickSize <= 0 {
		in.TickSize = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instruments[in.Symbol] = &in
}

// Get returns a copy of the instrument.
func (r *InstrumentRegistry) Get(symbol string) (Instrument, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	in, ok := r.instruments[symbol]
	if !ok {
		return Instrument{}, false
	}
	return *in, true
}

// Exists returns true if the symbol has been registered.
func (r *InstrumentRegistry) Exists(symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.instruments[symbol]
	return ok
}

// SetActive halts or resumes trading in symbol.
func (r *InstrumentRegistry) SetActive(symbol string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	in, ok := r.instruments[symbol]
	if !ok {
		return ErrInstrumentNotFound
	}
	in.Active = active
	return nil
}

// SetReferencePrice records the last trade price for symbol.
func (r *InstrumentRegistry) SetReferencePrice(symbol string, price int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if in, ok := r.instruments[symbol]; ok && price > 0 {
		in.ReferencePrice = price
	}
}

// Symbols returns all registered symbols sorted.
func (r *InstrumentRegistry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.instruments))
	for sym := range r.instruments {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
