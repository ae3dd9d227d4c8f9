// Package sqlstore is the durable repository: accounts, orders, fills and
// the account journal kept in SQLite through GORM.
package sqlstore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/efreitasn/brokerx/internal/domain"
)

// Store implements the repository on top of a GORM connection.
type Store struct {
	db *gorm.DB
}

// Open connects to the SQLite database at path and migrates the schema.
// Use ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return New(db)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	err := db.AutoMigrate(
		&accountRow{},
		&positionRow{},
		&deltaRow{},
		&orderRow{},
		&fillRow{},
	)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY
	// under concurrent persistence.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// SaveAccount writes the account and replaces its positions.
func (s *Store) SaveAccount(ctx context.Context, a *domain.Account) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return writeAccount(tx, a)
	})
}

func writeAccount(tx *gorm.DB, a *domain.Account) error {
	row, positions := accountToRows(a)
	if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return err
	}
	if err := tx.Where("account_id = ?", a.AccountID).Delete(&positionRow{}).Error; err != nil {
		return err
	}
	if len(positions) == 0 {
		return nil
	}
	return tx.Create(&positions).Error
}

// LoadAccount reads an account with its positions.
func (s *Store) LoadAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	return loadAccount(s.db.WithContext(ctx), accountID)
}

func loadAccount(tx *gorm.DB, accountID string) (*domain.Account, error) {
	var row accountRow
	if err := tx.Where("account_id = ?", accountID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	var positions []positionRow
	if err := tx.Where("account_id = ?", accountID).Find(&positions).Error; err != nil {
		return nil, err
	}
	return accountFromRows(row, positions), nil
}

// SaveAccountDelta journals the delta and applies it to the stored
// account in one transaction. A delta already journaled is skipped.
func (s *Store) SaveAccountDelta(ctx context.Context, d domain.AccountDelta) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return saveDelta(tx, d)
	})
}

func saveDelta(tx *gorm.DB, d domain.AccountDelta) error {
	var n int64
	if err := tx.Model(&deltaRow{}).Where("delta_id = ?", d.DeltaID).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	a, err := loadAccount(tx, d.AccountID)
	if err != nil {
		return err
	}
	a.Apply(d)
	if err := writeAccount(tx, a); err != nil {
		return err
	}
	row := deltaToRow(d)
	return tx.Create(&row).Error
}

// Deltas returns the account journal in the order it was written.
func (s *Store) Deltas(ctx context.Context, accountID string) ([]domain.AccountDelta, error) {
	var rows []deltaRow
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("rowid").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.AccountDelta, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// SaveOrder inserts or overwrites an order.
func (s *Store) SaveOrder(ctx context.Context, o *domain.Order) error {
	return saveOrder(s.db.WithContext(ctx), o)
}

func saveOrder(tx *gorm.DB, o *domain.Order) error {
	row := orderToRow(o)
	return tx.
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}},
			UpdateAll: true,
		}).
		Create(&row).Error
}

// LoadOrder reads an order by ID.
func (s *Store) LoadOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	var row orderRow
	if err := s.db.WithContext(ctx).Where("order_id = ?", orderID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}
	return row.toDomain(), nil
}

// FindOrderByClientID looks an order up by its idempotency key.
func (s *Store) FindOrderByClientID(ctx context.Context, accountID, clientOrderID string) (*domain.Order, error) {
	var row orderRow
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND client_order_id = ?", accountID, clientOrderID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}
	return row.toDomain(), nil
}

// ListOrders returns an account's orders newest first with 1-based
// pagination, plus the total count of matching orders.
func (s *Store) ListOrders(ctx context.Context, accountID string, status *domain.OrderStatus, page, limit int) ([]*domain.Order, int, error) {
	q := s.db.WithContext(ctx).Model(&orderRow{}).Where("account_id = ?", accountID)
	if status != nil {
		q = q.Where("status = ?", string(*status))
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []orderRow
	err := q.Order("seq DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	out := make([]*domain.Order, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, int(total), nil
}

// OrdersByStatus returns every order in the given status ordered by
// acceptance sequence.
func (s *Store) OrdersByStatus(ctx context.Context, status domain.OrderStatus) ([]*domain.Order, error) {
	var rows []orderRow
	err := s.db.WithContext(ctx).
		Where("status = ?", string(status)).
		Order("seq").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Order, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func appendFill(tx *gorm.DB, f *domain.Fill) error {
	row := fillToRow(f)
	return tx.
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
}

// CommitPass writes the fills, account deltas and orders of one
// matching pass in a single transaction. Fills and deltas already
// stored are skipped, so a retried pass is safe.
func (s *Store) CommitPass(ctx context.Context, fills []*domain.Fill, deltas []domain.AccountDelta, orders []*domain.Order) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, f := range fills {
			if err := appendFill(tx, f); err != nil {
				return fmt.Errorf("fill %s: %w", f.FillID, err)
			}
		}
		for _, d := range deltas {
			if err := saveDelta(tx, d); err != nil {
				return fmt.Errorf("delta %s: %w", d.DeltaID, err)
			}
		}
		for _, o := range orders {
			if err := saveOrder(tx, o); err != nil {
				return fmt.Errorf("order %s: %w", o.OrderID, err)
			}
		}
		return nil
	})
}

// FillsForOrder returns the fills an order took part in, oldest first.
func (s *Store) FillsForOrder(ctx context.Context, orderID string) ([]*domain.Fill, error) {
	var rows []fillRow
	err := s.db.WithContext(ctx).
		Where("buy_order_id = ? OR sell_order_id = ?", orderID, orderID).
		Order("executed_at, rowid").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Fill, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}
