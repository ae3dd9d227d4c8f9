package sqlstore

import (
	"time"

	"github.com/efreitasn/brokerx/internal/domain"
)

type accountRow struct {
	AccountID        string `gorm:"primaryKey"`
	CashBalance      int64
	ReservedCash     int64
	ShortSellAllowed bool
	CreatedAt        time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime:false"`
}

func (accountRow) TableName() string { return "accounts" }

type positionRow struct {
	AccountID        string `gorm:"primaryKey"`
	Symbol           string `gorm:"primaryKey"`
	Quantity         int64
	ReservedQuantity int64
	AverageCost      int64
}

func (positionRow) TableName() string { return "positions" }

type deltaRow struct {
	DeltaID          string `gorm:"primaryKey"`
	AccountID        string `gorm:"index"`
	OrderID          string
	FillID           string
	Kind             string
	Symbol           string
	Cash             int64
	ReservedCash     int64
	Quantity         int64
	ReservedQuantity int64
	Price            int64
	At               time.Time
}

func (deltaRow) TableName() string { return "account_deltas" }

type orderRow struct {
	OrderID       string  `gorm:"primaryKey"`
	AccountID     string  `gorm:"index;uniqueIndex:idx_orders_client,priority:1"`
	ClientOrderID *string `gorm:"uniqueIndex:idx_orders_client,priority:2"`
	Symbol        string
	Side          string
	Type          string
	TimeInForce   string
	Price         int64

	Quantity          int64
	RemainingQuantity int64
	FilledQuantity    int64
	CancelledQuantity int64

	Status       string `gorm:"index"`
	RejectReason string
	CancelReason string

	Seq         uint64 `gorm:"index"`
	SubmittedAt time.Time
	UpdatedAt   time.Time `gorm:"autoUpdateTime:false"`

	UnitReserve         int64
	ReservedCash        int64
	ReservedQuantity    int64
	ReservationReleased bool
}

func (orderRow) TableName() string { return "orders" }

type fillRow struct {
	FillID       string `gorm:"primaryKey"`
	Symbol       string
	BuyOrderID   string `gorm:"index"`
	SellOrderID  string `gorm:"index"`
	MakerOrderID string
	Price        int64
	Quantity     int64
	ExecutedAt   time.Time
}

func (fillRow) TableName() string { return "fills" }

func accountToRows(a *domain.Account) (accountRow, []positionRow) {
	row := accountRow{
		AccountID:        a.AccountID,
		CashBalance:      a.CashBalance,
		ReservedCash:     a.ReservedCash,
		ShortSellAllowed: a.ShortSellAllowed,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
	positions := make([]positionRow, 0, len(a.Positions))
	for sym, p := range a.Positions {
		positions = append(positions, positionRow{
			AccountID:        a.AccountID,
			Symbol:           sym,
			Quantity:         p.Quantity,
			ReservedQuantity: p.ReservedQuantity,
			AverageCost:      p.AverageCost,
		})
	}
	return row, positions
}

func accountFromRows(row accountRow, positions []positionRow) *domain.Account {
	a := &domain.Account{
		AccountID:        row.AccountID,
		CashBalance:      row.CashBalance,
		ReservedCash:     row.ReservedCash,
		ShortSellAllowed: row.ShortSellAllowed,
		Positions:        make(map[string]*domain.Position, len(positions)),
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
	}
	for _, p := range positions {
		a.Positions[p.Symbol] = &domain.Position{
			Quantity:         p.Quantity,
			ReservedQuantity: p.ReservedQuantity,
			AverageCost:      p.AverageCost,
		}
	}
	return a
}

func deltaToRow(d domain.AccountDelta) deltaRow {
	return deltaRow{
		DeltaID:          d.DeltaID,
		AccountID:        d.AccountID,
		OrderID:          d.OrderID,
		FillID:           d.FillID,
		Kind:             string(d.Kind),
		Symbol:           d.Symbol,
		Cash:             d.Cash,
		ReservedCash:     d.ReservedCash,
		Quantity:         d.Quantity,
		ReservedQuantity: d.ReservedQuantity,
		Price:            d.Price,
		At:               d.At,
	}
}

func (r deltaRow) toDomain() domain.AccountDelta {
	return domain.AccountDelta{
		DeltaID:          r.DeltaID,
		AccountID:        r.AccountID,
		OrderID:          r.OrderID,
		FillID:           r.FillID,
		Kind:             domain.DeltaKind(r.Kind),
		Symbol:           r.Symbol,
		Cash:             r.Cash,
		ReservedCash:     r.ReservedCash,
		Quantity:         r.Quantity,
		ReservedQuantity: r.ReservedQuantity,
		Price:            r.Price,
		At:               r.At,
	}
}

func orderToRow(o *domain.Order) orderRow {
	var clientID *string
	if o.ClientOrderID != "" {
		id := o.ClientOrderID
		clientID = &id
	}
	return orderRow{
		OrderID:             o.OrderID,
		AccountID:           o.AccountID,
		ClientOrderID:       clientID,
		Symbol:              o.Symbol,
		Side:                string(o.Side),
		Type:                string(o.Type),
		TimeInForce:         string(o.TimeInForce),
		Price:               o.Price,
		Quantity:            o.Quantity,
		RemainingQuantity:   o.RemainingQuantity,
		FilledQuantity:      o.FilledQuantity,
		CancelledQuantity:   o.CancelledQuantity,
		Status:              string(o.Status),
		RejectReason:        string(o.RejectReason),
		CancelReason:        string(o.CancelReason),
		Seq:                 o.Seq,
		SubmittedAt:         o.SubmittedAt,
		UpdatedAt:           o.UpdatedAt,
		UnitReserve:         o.UnitReserve,
		ReservedCash:        o.ReservedCash,
		ReservedQuantity:    o.ReservedQuantity,
		ReservationReleased: o.ReservationReleased,
	}
}

func (r orderRow) toDomain() *domain.Order {
	o := &domain.Order{
		OrderID:             r.OrderID,
		AccountID:           r.AccountID,
		Symbol:              r.Symbol,
		Side:                domain.OrderSide(r.Side),
		Type:                domain.OrderType(r.Type),
		TimeInForce:         domain.TimeInForce(r.TimeInForce),
		Price:               r.Price,
		Quantity:            r.Quantity,
		RemainingQuantity:   r.RemainingQuantity,
		FilledQuantity:      r.FilledQuantity,
		CancelledQuantity:   r.CancelledQuantity,
		Status:              domain.OrderStatus(r.Status),
		RejectReason:        domain.RejectReason(r.RejectReason),
		CancelReason:        domain.CancelReason(r.CancelReason),
		Seq:                 r.Seq,
		SubmittedAt:         r.SubmittedAt,
		UpdatedAt:           r.UpdatedAt,
		UnitReserve:         r.UnitReserve,
		ReservedCash:        r.ReservedCash,
		ReservedQuantity:    r.ReservedQuantity,
		ReservationReleased: r.ReservationReleased,
	}
	if r.ClientOrderID != nil {
		o.ClientOrderID = *r.ClientOrderID
	}
	return o
}

func fillToRow(f *domain.Fill) fillRow {
	return fillRow{
		FillID:       f.FillID,
		Symbol:       f.Symbol,
		BuyOrderID:   f.BuyOrderID,
		SellOrderID:  f.SellOrderID,
		MakerOrderID: f.MakerOrderID,
		Price:        f.Price,
		Quantity:     f.Quantity,
		ExecutedAt:   f.ExecutedAt,
	}
}

func (r fillRow) toDomain() *domain.Fill {
	return &domain.Fill{
		FillID:       r.FillID,
		Symbol:       r.Symbol,
		BuyOrderID:   r.BuyOrderID,
		SellOrderID:  r.SellOrderID,
		MakerOrderID: r.MakerOrderID,
		Price:        r.Price,
		Quantity:     r.Quantity,
		ExecutedAt:   r.ExecutedAt,
	}
}
