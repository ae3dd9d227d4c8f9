package service

import (
	"context"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/efreitasn/brokerx/internal/domain"
	"github.com/efreitasn/brokerx/internal/store"
)

var validWebhookEvents = map[string]bool{
	domain.EventFillExecuted:  true,
	domain.EventOrderStatus:   true,
	domain.EventOrderRejected: true,
}

// UpsertWebhookRequest represents the input for webhook registration.
type UpsertWebhookRequest struct {
	AccountID string
	URL       string
	Events    []string
}

// WebhookService handles webhook registration. Delivery is done by the
// notify package.
type WebhookService struct {
	store    *store.WebhookStore
	accounts *store.AccountStore
	now      func() time.Time
}

// NewWebhookService creates a new WebhookService with the given dependencies.
func NewWebhookService(webhookStore *store.WebhookStore, accounts *store.AccountStore) *WebhookService {
	return &WebhookService{
		store:    webhookStore,
		accounts: accounts,
		now:      time.Now,
	}
}

// Upsert validates the request and creates or updates webhook subscriptions.
// It returns the resulting webhooks and whether any new subscription was created.
func (s *WebhookService) Upsert(ctx context.Context, req UpsertWebhookRequest) ([]domain.Webhook, bool, error) {
	if err := validateAccountID(req.AccountID); err != nil {
		return nil, false, err
	}
	if err := s.accounts.Ensure(ctx, req.AccountID); err != nil {
		return nil, false, err
	}

	if req.URL == "" {
		return nil, false, &domain.ValidationError{Message: "url is required"}
	}
	if len(req.URL) > 2048 {
		return nil, false, &domain.ValidationError{Message: "url must be at most 2048 characters"}
	}
	parsed, err := url.ParseRequestURI(req.URL)
	if err != nil || !parsed.IsAbs() {
		return nil, false, &domain.ValidationError{Message: "url must be a valid absolute URL"}
	}
	if parsed.Scheme != "https" {
		return nil, false, &domain.ValidationError{Message: "url must use https scheme"}
	}

	if len(req.Events) == 0 {
		return nil, false, &domain.ValidationError{Message: "events must be a non-empty array"}
	}
	seen := make(map[string]bool, len(req.Events))
	events := make([]string, 0, len(req.Events))
	for _, event := range req.Events {
		if !validWebhookEvents[event] {
			return nil, false, &domain.ValidationError{
				Message: "Unknown event type: " + event + ". Must be one of: fill.executed, order.status, order.rejected",
			}
		}
		if !seen[event] {
			seen[event] = true
			events = append(events, event)
		}
	}

	now := s.now().UTC().Truncate(time.Second)
	anyCreated := false
	webhooks := make([]domain.Webhook, 0, len(events))
	for _, event := range events {
		w, created := s.store.Upsert(&domain.Webhook{
			WebhookID: uuid.New().String(),
			AccountID: req.AccountID,
			Event:     event,
			URL:       req.URL,
			CreatedAt: now,
			UpdatedAt: now,
		})
		anyCreated = anyCreated || created
		webhooks = append(webhooks, w)
	}
	return webhooks, anyCreated, nil
}

// List returns all webhook subscriptions of an account.
func (s *WebhookService) List(ctx context.Context, accountID string) ([]domain.Webhook, error) {
	if err := s.accounts.Ensure(ctx, accountID); err != nil {
		return nil, err
	}
	return s.store.ListByAccount(accountID), nil
}

// Delete removes one of the account's webhook subscriptions.
func (s *WebhookService) Delete(ctx context.Context, accountID, webhookID string) error {
	if err := s.accounts.Ensure(ctx, accountID); err != nil {
		return err
	}
	return s.store.Delete(accountID, webhookID)
}
