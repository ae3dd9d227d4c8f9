package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/brokerx/internal/domain"
	"github.com/efreitasn/brokerx/internal/store"
)

// OpenAccountRequest represents the input for opening an account.
type OpenAccountRequest struct {
	AccountID        string
	InitialCash      decimal.Decimal
	InitialPositions []PositionInput
	ShortSellAllowed bool
}

// PositionInput represents a single position in an open request.
type PositionInput struct {
	Symbol   string
	Quantity int64
}

// BalanceResponse represents an account's cash and positions.
type BalanceResponse struct {
	AccountID        string
	CashBalance      int64
	ReservedCash     int64
	AvailableCash    int64
	ShortSellAllowed bool
	Positions        []PositionBalance
	UpdatedAt        time.Time
}

// PositionBalance represents a single position in the balance response.
type PositionBalance struct {
	Symbol            string
	Quantity          int64
	ReservedQuantity  int64
	AvailableQuantity int64
	AverageCost       int64
}

// AccountService handles account opening, deposits and balance queries.
// Every change is journaled to the repository before it is visible.
type AccountService struct {
	mu          sync.Mutex // serializes Open
	accounts    *store.AccountStore
	instruments *domain.InstrumentRegistry
	repo        Repository
	now         func() time.Time
}

// NewAccountService creates a new AccountService.
func NewAccountService(accounts *store.AccountStore, instruments *domain.InstrumentRegistry, repo Repository) *AccountService {
	return &AccountService{
		accounts:    accounts,
		instruments: instruments,
		repo:        repo,
		now:         time.Now,
	}
}

// Open validates the request and creates an account funded with the
// initial cash and positions.
func (s *AccountService) Open(ctx context.Context, req OpenAccountRequest) (*BalanceResponse, error) {
	if err := validateAccountID(req.AccountID); err != nil {
		return nil, err
	}
	if req.InitialCash.IsNegative() {
		return nil, &domain.ValidationError{Message: "initial_cash must be >= 0"}
	}
	cash, err := domain.CentsFromDecimal(req.InitialCash)
	if err != nil {
		return nil, &domain.ValidationError{Message: "initial_cash must have at most 2 decimal places"}
	}

	seen := make(map[string]bool)
	for _, p := range req.InitialPositions {
		if !s.instruments.Exists(p.Symbol) {
			return nil, &domain.ValidationError{
				Message: fmt.Sprintf("unknown instrument in initial_positions: %q", p.Symbol),
			}
		}
		if p.Quantity <= 0 {
			return nil, &domain.ValidationError{
				Message: fmt.Sprintf("position quantity must be > 0 for symbol %s", p.Symbol),
			}
		}
		if seen[p.Symbol] {
			return nil, &domain.ValidationError{
				Message: fmt.Sprintf("duplicate symbol in initial_positions: %s", p.Symbol),
			}
		}
		seen[p.Symbol] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.accounts.Exists(req.AccountID) {
		return nil, domain.ErrAccountExists
	}
	_, err = s.repo.LoadAccount(ctx, req.AccountID)
	switch {
	case err == nil:
		return nil, domain.ErrAccountExists
	case !errors.Is(err, domain.ErrAccountNotFound):
		return nil, fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
	}

	now := s.now()
	acct := &domain.Account{
		AccountID:        req.AccountID,
		ShortSellAllowed: req.ShortSellAllowed,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.SaveAccount(ctx, acct); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
	}

	// The opening balance goes through the journal so the account can be
	// rebuilt from its deltas alone.
	for _, d := range openingDeltas(acct.AccountID, cash, req.InitialPositions, now) {
		if err := s.repo.SaveAccountDelta(ctx, d); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
		}
		acct.Apply(d)
	}
	if err := s.accounts.Create(acct); err != nil {
		return nil, err
	}
	return balanceOf(acct), nil
}

func openingDeltas(accountID string, cash int64, positions []PositionInput, at time.Time) []domain.AccountDelta {
	var out []domain.AccountDelta
	if cash > 0 {
		out = append(out, domain.AccountDelta{
			DeltaID:   uuid.New().String(),
			AccountID: accountID,
			Kind:      domain.DeltaOpen,
			Cash:      cash,
			At:        at,
		})
	}
	for _, p := range positions {
		out = append(out, domain.AccountDelta{
			DeltaID:   uuid.New().String(),
			AccountID: accountID,
			Kind:      domain.DeltaOpen,
			Symbol:    p.Symbol,
			Quantity:  p.Quantity,
			At:        at,
		})
	}
	return out
}

// Deposit credits cash to the account.
func (s *AccountService) Deposit(ctx context.Context, accountID string, amount decimal.Decimal) (*BalanceResponse, error) {
	if !amount.IsPositive() {
		return nil, &domain.ValidationError{Message: "amount must be greater than 0"}
	}
	cents, err := domain.CentsFromDecimal(amount)
	if err != nil {
		return nil, &domain.ValidationError{Message: "amount must have at most 2 decimal places"}
	}
	if err := s.accounts.Ensure(ctx, accountID); err != nil {
		return nil, err
	}

	_, err = s.accounts.Deposit(ctx, accountID, cents, s.now(), func(ctx context.Context, d domain.AccountDelta) error {
		if err := s.repo.SaveAccountDelta(ctx, d); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetBalance(ctx, accountID)
}

// GetBalance retrieves the account's current balance including reservations.
func (s *AccountService) GetBalance(ctx context.Context, accountID string) (*BalanceResponse, error) {
	if err := s.accounts.Ensure(ctx, accountID); err != nil {
		return nil, err
	}
	a, err := s.accounts.Get(accountID)
	if err != nil {
		return nil, err
	}
	return balanceOf(a), nil
}

func balanceOf(a *domain.Account) *BalanceResponse {
	positions := make([]PositionBalance, 0, len(a.Positions))
	for symbol, p := range a.Positions {
		positions = append(positions, PositionBalance{
			Symbol:            symbol,
			Quantity:          p.Quantity,
			ReservedQuantity:  p.ReservedQuantity,
			AvailableQuantity: p.Available(),
			AverageCost:       p.AverageCost,
		})
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })

	return &BalanceResponse{
		AccountID:        a.AccountID,
		CashBalance:      a.CashBalance,
		ReservedCash:     a.ReservedCash,
		AvailableCash:    a.AvailableCash(),
		ShortSellAllowed: a.ShortSellAllowed,
		Positions:        positions,
		UpdatedAt:        a.UpdatedAt,
	}
}
