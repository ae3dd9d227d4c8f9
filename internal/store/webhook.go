package store

import (
	"sort"
	"sync"

	"github.com/efreitasn/brokerx/internal/domain"
)

type webhookKey struct {
	accountID string
	event     string
}

// WebhookStore holds execution report subscriptions. There is at most
// one subscription per (account, event) pair.
type WebhookStore struct {
	mu    sync.RWMutex
	byID  map[string]*domain.Webhook
	byKey map[webhookKey]*domain.Webhook
}

// NewWebhookStore creates an empty WebhookStore.
func NewWebhookStore() *WebhookStore {
	return &WebhookStore{
		byID:  make(map[string]*domain.Webhook),
		byKey: make(map[webhookKey]*domain.Webhook),
	}
}

// Upsert stores w unless the account already subscribes to w.Event, in
// which case the existing subscription keeps its ID and takes w's URL.
// It returns a copy of the stored subscription and whether it is new.
func (s *WebhookStore) Upsert(w *domain.Webhook) (domain.Webhook, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := webhookKey{w.AccountID, w.Event}
	if existing, ok := s.byKey[key]; ok {
		if existing.URL != w.URL {
			existing.URL = w.URL
			existing.UpdatedAt = w.UpdatedAt
		}
		return *existing, false
	}

	cp := *w
	s.byID[cp.WebhookID] = &cp
	s.byKey[key] = &cp
	return cp, true
}

// Lookup returns the subscription for an account and event.
func (s *WebhookStore) Lookup(accountID, event string) (domain.Webhook, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.byKey[webhookKey{accountID, event}]
	if !ok {
		return domain.Webhook{}, false
	}
	return *w, true
}

// ListByAccount returns the account's subscriptions sorted by event.
func (s *WebhookStore) ListByAccount(accountID string) []domain.Webhook {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Webhook, 0)
	for key, w := range s.byKey {
		if key.accountID == accountID {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Event < out[j].Event })
	return out
}

// Delete removes one of the account's subscriptions by ID. It returns
// domain.ErrWebhookNotFound if the account holds no such subscription.
func (s *WebhookStore) Delete(accountID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.byID[id]
	if !ok || w.AccountID != accountID {
		return domain.ErrWebhookNotFound
	}
	delete(s.byID, id)
	delete(s.byKey, webhookKey{w.AccountID, w.Event})
	return nil
}
