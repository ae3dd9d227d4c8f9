package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/efreitasn/brokerx/internal/domain"
	"github.com/efreitasn/brokerx/internal/risk"
	"github.com/efreitasn/brokerx/internal/store"
)

// Repository is the durable storage the core writes through.
type Repository interface {
	SaveOrder(ctx context.Context, o *domain.Order) error
	LoadOrder(ctx context.Context, orderID string) (*domain.Order, error)
	SaveAccountDelta(ctx context.Context, d domain.AccountDelta) error
	// CommitPass writes one pass atomically. It must be safe to repeat.
	CommitPass(ctx context.Context, fills []*domain.Fill, deltas []domain.AccountDelta, orders []*domain.Order) error
	OrdersByStatus(ctx context.Context, status domain.OrderStatus) ([]*domain.Order, error)
}

// ReportSink receives execution reports. Publish must not block.
type ReportSink interface {
	Publish(r domain.ExecutionReport)
}

// Config tunes the processing core.
type Config struct {
	Workers        int
	QueueDepth     int
	PersistTimeout time.Duration
	PersistRetries int
	PersistBackoff time.Duration
	BandBPS        int64
	// RejectOnCrossedBook rejects an order whose matching pass found the
	// book crossed. When false the order is parked as Working off-book.
	RejectOnCrossedBook bool
	// DayOrderTTL expires resting DAY orders this long after submission.
	// Zero keeps them working indefinitely.
	DayOrderTTL        time.Duration
	ExpirationInterval time.Duration
}

// OrderRequest is a client instruction to trade.
type OrderRequest struct {
	AccountID     string
	ClientOrderID string
	Symbol        string
	Side          domain.OrderSide
	Type          domain.OrderType
	TimeInForce   domain.TimeInForce
	Quantity      int64
	Price         int64 // cents, limit orders only
}

type taskKind int

const (
	taskMatch taskKind = iota
	taskCancel
)

type cancelReply struct {
	order *domain.Order
	err   error
}

type task struct {
	kind    taskKind
	order   *domain.Order
	orderID string
	reason  domain.CancelReason
	reply   chan cancelReply
}

// lane is the serialization point of one instrument: its tasks run one
// at a time, in arrival order, on whichever worker picks the lane up.
type lane struct {
	symbol    string
	tasks     []task
	scheduled bool
}

// Core is the processing core: it accepts orders, serializes work per
// instrument and runs it on a bounded worker pool.
//
// Lock order is book, then account. Account mutations are single calls
// into the AccountStore, and no lock is held across repository I/O.
type Core struct {
	cfg         Config
	log         *slog.Logger
	books       *BookManager
	matcher     *Matcher
	accounts    *store.AccountStore
	validator   *risk.Validator
	instruments *domain.InstrumentRegistry
	repo        Repository
	sink        ReportSink
	expiry      *ExpiryManager

	seq     atomic.Uint64
	pending atomic.Int64
	alerts  atomic.Int64

	mu     sync.Mutex // protects lanes, live, ready and closed
	lanes  map[string]*lane
	live   map[string]*domain.Order // accepted orders that can still trade
	closed bool
	ready  []*lane // scheduled lanes, oldest first
	wake   chan struct{}

	now func() time.Time
}

// NewCore creates a processing core. sink may be nil.
func NewCore(
	cfg Config,
	accounts *store.AccountStore,
	instruments *domain.InstrumentRegistry,
	validator *risk.Validator,
	repo Repository,
	sink ReportSink,
	logger *slog.Logger,
) *Core {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueDepth < 1 {
		cfg.QueueDepth = 1
	}
	if cfg.PersistRetries < 1 {
		cfg.PersistRetries = 1
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 2 * time.Second
	}
	c := &Core{
		cfg:         cfg,
		log:         logger,
		books:       NewBookManager(),
		matcher:     NewMatcher(accounts, instruments, cfg.BandBPS),
		accounts:    accounts,
		validator:   validator,
		instruments: instruments,
		repo:        repo,
		sink:        sink,
		lanes:       make(map[string]*lane),
		live:        make(map[string]*domain.Order),
		wake:        make(chan struct{}, cfg.Workers),
		now:         time.Now,
	}
	if cfg.DayOrderTTL > 0 {
		interval := cfg.ExpirationInterval
		if interval <= 0 {
			interval = time.Second
		}
		c.expiry = NewExpiryManager(interval, cfg.DayOrderTTL, c.Expire)
	}
	return c
}

// Books exposes the order books for read-only queries.
func (c *Core) Books() *BookManager {
	return c.books
}

// Alerts returns how many invariant violations the core has raised.
func (c *Core) Alerts() int64 {
	return c.alerts.Load()
}

// Pending returns the number of accepted orders waiting for matching.
func (c *Core) Pending() int64 {
	return c.pending.Load()
}

// Run starts the worker pool and, when DAY orders expire, the expiry
// sweeper. It blocks until ctx is cancelled. Orders still queued at that
// point stay Queued in the repository and are picked up by Recover.
func (c *Core) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < c.cfg.Workers; i++ {
		g.Go(func() error {
			c.work(ctx)
			return nil
		})
	}
	if c.expiry != nil {
		g.Go(func() error {
			return c.expiry.Run(ctx)
		})
	}
	err := g.Wait()

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return err
}

func (c *Core) work(ctx context.Context) {
	for ctx.Err() == nil {
		if l := c.next(); l != nil {
			c.drain(ctx, l)
			continue
		}
		select {
		case <-ctx.Done():
		case <-c.wake:
		}
	}
}

// next pops the oldest scheduled lane, or returns nil.
func (c *Core) next() *lane {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.ready) == 0 {
		return nil
	}
	l := c.ready[0]
	c.ready[0] = nil
	c.ready = c.ready[1:]
	return l
}

// schedule puts l in line and wakes an idle worker. c.mu is held. A
// full wake buffer means every worker is already due to look again.
func (c *Core) schedule(l *lane) {
	c.ready = append(c.ready, l)
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// drain runs the lane's next task and puts the lane back in line if
// more work arrived meanwhile.
func (c *Core) drain(ctx context.Context, l *lane) {
	c.mu.Lock()
	t := l.tasks[0]
	l.tasks[0] = task{}
	l.tasks = l.tasks[1:]
	c.mu.Unlock()

	// A pass that started commits to the end, shutdown or not.
	ctx = context.WithoutCancel(ctx)
	switch t.kind {
	case taskMatch:
		c.match(ctx, t.order)
	case taskCancel:
		c.cancel(ctx, t)
	}

	c.mu.Lock()
	if len(l.tasks) > 0 {
		c.schedule(l)
	} else {
		l.scheduled = false
	}
	c.mu.Unlock()
}

func (c *Core) enqueue(symbol string, t task) {
	c.mu.Lock()
	l, ok := c.lanes[symbol]
	if !ok {
		l = &lane{symbol: symbol}
		c.lanes[symbol] = l
	}
	l.tasks = append(l.tasks, t)
	if t.kind == taskMatch {
		c.live[t.order.OrderID] = t.order
	}
	if !l.scheduled {
		l.scheduled = true
		c.schedule(l)
	}
	c.mu.Unlock()
}

func (c *Core) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func validateRequest(req OrderRequest) error {
	if req.AccountID == "" {
		return &domain.ValidationError{Message: "account_id is required"}
	}
	if req.Symbol == "" {
		return &domain.ValidationError{Message: "symbol is required"}
	}
	switch req.Side {
	case domain.OrderSideBuy, domain.OrderSideSell:
	default:
		return &domain.ValidationError{Message: "side must be 'buy' or 'sell'"}
	}
	switch req.Type {
	case domain.OrderTypeLimit, domain.OrderTypeMarket:
	default:
		return &domain.ValidationError{Message: "type must be 'limit' or 'market'"}
	}
	switch req.TimeInForce {
	case domain.TimeInForceDay, domain.TimeInForceIOC, domain.TimeInForceFOK:
	default:
		return &domain.ValidationError{Message: "time_in_force must be 'DAY', 'IOC' or 'FOK'"}
	}
	return nil
}

// Submit accepts an order: it runs the pre-trade checks, reserves buying
// power or position, persists the order as Queued and hands it to the
// instrument's lane. Matching happens later on a worker. A refused order
// is not an error: the returned Ack carries status Rejected and the
// reason. Errors are malformed requests, unknown accounts,
// domain.ErrOverloaded when the queue is full and domain.ErrUnavailable
// when persistence or the core is down.
func (c *Core) Submit(ctx context.Context, req OrderRequest) (domain.Ack, error) {
	if err := validateRequest(req); err != nil {
		return domain.Ack{}, err
	}
	if c.isClosed() {
		return domain.Ack{}, domain.ErrUnavailable
	}
	if c.pending.Add(1) > int64(c.cfg.QueueDepth) {
		c.pending.Add(-1)
		return domain.Ack{}, domain.ErrOverloaded
	}
	queued := false
	defer func() {
		if !queued {
			c.pending.Add(-1)
		}
	}()

	if err := c.accounts.Ensure(ctx, req.AccountID); err != nil {
		return domain.Ack{}, err
	}

	now := c.now()
	o := &domain.Order{
		OrderID:           uuid.New().String(),
		ClientOrderID:     req.ClientOrderID,
		AccountID:         req.AccountID,
		Symbol:            req.Symbol,
		Side:              req.Side,
		Type:              req.Type,
		TimeInForce:       req.TimeInForce,
		Price:             req.Price,
		Quantity:          req.Quantity,
		RemainingQuantity: req.Quantity,
		Status:            domain.OrderStatusQueued,
		Seq:               c.seq.Add(1),
		SubmittedAt:       now,
		UpdatedAt:         now,
	}

	res, delta, err := c.accounts.Reserve(o.AccountID, o.Symbol, o.OrderID,
		func(snap domain.AccountSnapshot) (domain.Reservation, error) {
			return c.validator.Check(risk.RequestFor(o), snap)
		}, now)
	var rej *domain.RejectError
	switch {
	case errors.As(err, &rej):
		return c.rejectAtSubmit(ctx, o, rej.Reason), nil
	case err != nil:
		var inv *domain.InvariantError
		if errors.As(err, &inv) {
			c.alert("reserve", err, slog.String("order_id", o.OrderID))
		}
		return domain.Ack{}, err
	}
	o.UnitReserve = res.UnitCash
	o.ReservedCash = res.Cash
	o.ReservedQuantity = res.Quantity

	// The reservation is durable before the order is.
	err = c.persist(ctx, "save reservation", func(ctx context.Context) error {
		return c.repo.SaveAccountDelta(ctx, delta)
	})
	if err != nil {
		c.accounts.Revert(delta)
		return domain.Ack{}, err
	}
	err = c.persist(ctx, "save order", func(ctx context.Context) error {
		return c.repo.SaveOrder(ctx, o)
	})
	if err != nil {
		c.undoReservation(ctx, delta)
		return domain.Ack{}, err
	}

	ack := domain.AckFor(o)
	c.publish(domain.ReportFor(o, nil))
	queued = true
	c.enqueue(o.Symbol, task{kind: taskMatch, order: o})
	return ack, nil
}

func (c *Core) rejectAtSubmit(ctx context.Context, o *domain.Order, reason domain.RejectReason) domain.Ack {
	if err := o.Transition(domain.OrderStatusRejected, o.SubmittedAt); err != nil {
		c.alert("reject", err, slog.String("order_id", o.OrderID))
	}
	o.RejectReason = reason
	o.RemainingQuantity = 0
	o.ReservationReleased = true

	err := c.persist(ctx, "save rejected order", func(ctx context.Context) error {
		return c.repo.SaveOrder(ctx, o)
	})
	if err != nil {
		c.log.Error("rejected order not persisted",
			"order_id", o.OrderID,
			"error", err,
		)
	}
	c.log.Info("order rejected",
		"order_id", o.OrderID,
		"account_id", o.AccountID,
		"symbol", o.Symbol,
		"reason", reason,
	)
	c.publish(domain.ReportFor(o, nil))
	return domain.AckFor(o)
}

// undoReservation reverses a durable reservation whose order could not
// be saved.
func (c *Core) undoReservation(ctx context.Context, d domain.AccountDelta) {
	c.accounts.Revert(d)
	inv := domain.AccountDelta{
		DeltaID:          uuid.New().String(),
		AccountID:        d.AccountID,
		OrderID:          d.OrderID,
		Kind:             domain.DeltaRelease,
		Symbol:           d.Symbol,
		ReservedCash:     -d.ReservedCash,
		ReservedQuantity: -d.ReservedQuantity,
		At:               c.now(),
	}
	err := c.persist(ctx, "undo reservation", func(ctx context.Context) error {
		return c.repo.SaveAccountDelta(ctx, inv)
	})
	if err != nil {
		c.alert("undo reservation", err,
			slog.String("account_id", d.AccountID),
			slog.String("order_id", d.OrderID),
		)
	}
}

func (c *Core) match(ctx context.Context, o *domain.Order) {
	defer c.pending.Add(-1)

	book := c.books.GetOrCreate(o.Symbol)
	book.Lock()
	entry := *o
	if err := o.Transition(domain.OrderStatusValidating, c.now()); err != nil {
		book.Unlock()
		c.alert("match", err, slog.String("order_id", o.OrderID))
		return
	}

	var res *MatchResult
	var err error
	if in, ok := c.instruments.Get(o.Symbol); !ok || !in.Active {
		res, err = c.matcher.refuse(o, domain.RejectInstrumentInactive)
	} else {
		res, err = c.matcher.Match(book, o)
	}
	if err != nil {
		c.alert("match", err,
			slog.String("order_id", o.OrderID),
			slog.String("symbol", o.Symbol),
		)
		res = c.afterFailedPass(o)
	}
	book.Unlock()

	if res == nil {
		return
	}
	if err := c.commit(ctx, res); err != nil {
		// The repository still holds o as Queued.
		book.Lock()
		c.rollback(book, res)
		*o = entry
		book.Unlock()
		return
	}
	c.track(o, res)
}

// afterFailedPass settles an order whose pass was rolled back. The book
// lock is held.
func (c *Core) afterFailedPass(o *domain.Order) *MatchResult {
	if !c.cfg.RejectOnCrossedBook && o.Type == domain.OrderTypeLimit {
		if err := o.Transition(domain.OrderStatusWorking, c.now()); err == nil {
			return &MatchResult{
				Orders:  []*domain.Order{o.Clone()},
				Reports: []domain.ExecutionReport{domain.ReportFor(o, nil)},
			}
		}
	}
	res, err := c.matcher.refuse(o, domain.RejectBookInvariant)
	if err != nil {
		c.alert("reject after failed pass", err, slog.String("order_id", o.OrderID))
		return nil
	}
	return res
}

// track updates the live set and expiry schedule after a committed pass.
func (c *Core) track(o *domain.Order, res *MatchResult) {
	c.mu.Lock()
	for _, id := range res.Closed {
		delete(c.live, id)
	}
	c.mu.Unlock()

	if c.expiry == nil {
		return
	}
	for _, id := range res.Closed {
		c.expiry.Remove(id)
	}
	if o.TimeInForce == domain.TimeInForceDay && o.Resting() {
		c.expiry.Add(o.OrderID, o.SubmittedAt)
	}
}

// commit persists a pass and, once it is durable, makes its credits
// spendable and emits its reports. On error the caller rolls the pass
// back.
func (c *Core) commit(ctx context.Context, res *MatchResult) error {
	if err := c.persistResult(ctx, res); err != nil {
		ids := make([]string, len(res.Orders))
		for i, o := range res.Orders {
			ids[i] = o.OrderID
		}
		c.alert("persist", err, slog.Any("order_ids", ids))
		return err
	}
	c.accounts.Confirm(res.Deltas...)
	for _, r := range res.Reports {
		c.publish(r)
	}
	return nil
}

// rollback undoes a pass that could not be persisted so memory matches
// the repository again. The book lock is held and the lane guarantees
// no other pass ran on the book in between.
func (c *Core) rollback(book *OrderBook, res *MatchResult) {
	if err := c.matcher.Undo(book, res); err != nil {
		c.alert("rollback", err, slog.String("symbol", book.Symbol()))
	}
}

// Cancel asks the order's lane to cancel it and waits for the outcome.
// It returns domain.ErrOrderNotFound for unknown orders and
// domain.ErrOrderNotCancellable for orders that can no longer trade.
func (c *Core) Cancel(ctx context.Context, orderID string) (*domain.Order, error) {
	c.mu.Lock()
	o, ok := c.live[orderID]
	c.mu.Unlock()
	if !ok {
		if _, err := c.repo.LoadOrder(ctx, orderID); err != nil {
			return nil, err
		}
		return nil, domain.ErrOrderNotCancellable
	}

	reply := make(chan cancelReply, 1)
	c.enqueue(o.Symbol, task{
		kind:    taskCancel,
		orderID: orderID,
		reason:  domain.CancelReasonRequested,
		reply:   reply,
	})

	select {
	case r := <-reply:
		return r.order, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Expire cancels a resting order with reason expired without waiting.
func (c *Core) Expire(orderID string) {
	c.mu.Lock()
	o, ok := c.live[orderID]
	c.mu.Unlock()
	if !ok {
		return
	}
	c.enqueue(o.Symbol, task{
		kind:    taskCancel,
		orderID: orderID,
		reason:  domain.CancelReasonExpired,
	})
}

func (c *Core) cancel(ctx context.Context, t task) {
	respond := func(o *domain.Order, err error) {
		if t.reply != nil {
			t.reply <- cancelReply{order: o, err: err}
		}
	}

	c.mu.Lock()
	o, ok := c.live[t.orderID]
	c.mu.Unlock()
	if !ok {
		respond(nil, domain.ErrOrderNotCancellable)
		return
	}

	book := c.books.GetOrCreate(o.Symbol)
	book.Lock()
	res, err := c.matcher.Cancel(book, o, t.reason)
	book.Unlock()
	if err != nil {
		var inv *domain.InvariantError
		if errors.As(err, &inv) {
			c.alert("cancel", err, slog.String("order_id", o.OrderID))
		}
		respond(nil, err)
		return
	}

	if err := c.commit(ctx, res); err != nil {
		book.Lock()
		c.rollback(book, res)
		book.Unlock()
		respond(nil, err)
		return
	}
	c.track(o, res)
	c.log.Info("order cancelled",
		"order_id", o.OrderID,
		"reason", t.reason,
	)
	respond(res.Orders[0], nil)
}

// Recover rebuilds in-memory state from the repository: resting orders
// go back on their books and queued orders are matched again. Call it
// before Run.
func (c *Core) Recover(ctx context.Context) error {
	var maxSeq uint64
	restored := 0
	for _, status := range []domain.OrderStatus{domain.OrderStatusWorking, domain.OrderStatusPartiallyFilled} {
		orders, err := c.repo.OrdersByStatus(ctx, status)
		if err != nil {
			return fmt.Errorf("load %s orders: %w", status, err)
		}
		for _, o := range orders {
			maxSeq = max(maxSeq, o.Seq)
			if !o.Resting() {
				continue
			}
			if !c.instruments.Exists(o.Symbol) {
				c.log.Warn("resting order for unknown instrument left off the book",
					"order_id", o.OrderID,
					"symbol", o.Symbol,
				)
				continue
			}
			if err := c.accounts.Ensure(ctx, o.AccountID); err != nil {
				return fmt.Errorf("load account %s: %w", o.AccountID, err)
			}
			book := c.books.GetOrCreate(o.Symbol)
			book.Lock()
			book.Insert(o)
			book.Unlock()

			c.mu.Lock()
			c.live[o.OrderID] = o
			c.mu.Unlock()
			if c.expiry != nil && o.TimeInForce == domain.TimeInForceDay {
				c.expiry.Add(o.OrderID, o.SubmittedAt)
			}
			restored++
		}
	}

	queued, err := c.repo.OrdersByStatus(ctx, domain.OrderStatusQueued)
	if err != nil {
		return fmt.Errorf("load queued orders: %w", err)
	}
	requeued := 0
	for _, o := range queued {
		maxSeq = max(maxSeq, o.Seq)
		if !c.instruments.Exists(o.Symbol) {
			c.log.Warn("queued order for unknown instrument left untouched",
				"order_id", o.OrderID,
				"symbol", o.Symbol,
			)
			continue
		}
		if err := c.accounts.Ensure(ctx, o.AccountID); err != nil {
			return fmt.Errorf("load account %s: %w", o.AccountID, err)
		}
		c.pending.Add(1)
		c.enqueue(o.Symbol, task{kind: taskMatch, order: o})
		requeued++
	}

	if maxSeq > c.seq.Load() {
		c.seq.Store(maxSeq)
	}
	for _, sym := range c.instruments.Symbols() {
		if book, ok := c.books.Get(sym); ok {
			book.RLock()
			crossed := book.Crossed()
			bids, asks := book.BidCount(), book.AskCount()
			book.RUnlock()
			c.log.Debug("book restored",
				"symbol", sym,
				"bids", bids,
				"asks", asks,
			)
			if crossed {
				c.alert("recover", domain.ErrCrossedBook, slog.String("symbol", sym))
			}
		}
	}

	c.log.Info("recovered order state",
		"resting", restored,
		"requeued", requeued,
	)
	return nil
}

// Depth returns up to n aggregated levels per side of symbol's book.
func (c *Core) Depth(symbol string, n int) (bids, asks []PriceLevel, err error) {
	if !c.instruments.Exists(symbol) {
		return nil, nil, domain.ErrInstrumentNotFound
	}
	book := c.books.GetOrCreate(symbol)
	book.RLock()
	defer book.RUnlock()
	return book.TopBids(n), book.TopAsks(n), nil
}

// Quote simulates a market order of quantity on side against symbol's
// book without placing it.
func (c *Core) Quote(symbol string, side domain.OrderSide, quantity int64) (*QuoteResult, error) {
	if !c.instruments.Exists(symbol) {
		return nil, domain.ErrInstrumentNotFound
	}
	return SimulateMarketOrder(c.books.GetOrCreate(symbol), side, quantity), nil
}

func (c *Core) publish(r domain.ExecutionReport) {
	if c.sink != nil {
		c.sink.Publish(r)
	}
}

// alert records an invariant violation or an unrecoverable persistence
// failure for operators.
func (c *Core) alert(op string, err error, attrs ...slog.Attr) {
	c.alerts.Add(1)
	args := []any{
		slog.Bool("alert", true),
		slog.String("op", op),
		slog.String("error", err.Error()),
	}
	for _, a := range attrs {
		args = append(args, a)
	}
	c.log.Error("operator attention required", args...)
}
