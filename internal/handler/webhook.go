package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/brokerx/internal/domain"
	"github.com/efreitasn/brokerx/internal/service"
)

// WebhookHandler serves an account's execution report subscriptions.
type WebhookHandler struct {
	webhooks *service.WebhookService
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(webhooks *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks}
}

// subscribeRequest is the body of POST /accounts/{account_id}/webhooks.
// One subscription is kept per event; subscribing again moves it to url.
type subscribeRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

type subscription struct {
	WebhookID string `json:"webhook_id"`
	Event     string `json:"event"`
	URL       string `json:"url"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// subscriptionsResponse is an account's subscriptions, sorted by event.
type subscriptionsResponse struct {
	AccountID     string         `json:"account_id"`
	Subscriptions []subscription `json:"subscriptions"`
}

func subscriptionsOf(accountID string, hooks []domain.Webhook) subscriptionsResponse {
	resp := subscriptionsResponse{
		AccountID:     accountID,
		Subscriptions: make([]subscription, 0, len(hooks)),
	}
	for _, wh := range hooks {
		resp.Subscriptions = append(resp.Subscriptions, subscription{
			WebhookID: wh.WebhookID,
			Event:     wh.Event,
			URL:       wh.URL,
			CreatedAt: timestamp(wh.CreatedAt),
			UpdatedAt: timestamp(wh.UpdatedAt),
		})
	}
	return resp
}

// Subscribe handles POST /accounts/{account_id}/webhooks. It answers 201
// when at least one event gained a subscription and 200 when every event
// was already subscribed.
func (h *WebhookHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")
	var req subscribeRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	hooks, created, err := h.webhooks.Upsert(r.Context(), service.UpsertWebhookRequest{
		AccountID: accountID,
		URL:       req.URL,
		Events:    req.Events,
	})
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	WriteJSON(w, status, subscriptionsOf(accountID, hooks))
}

// List handles GET /accounts/{account_id}/webhooks.
func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")
	hooks, err := h.webhooks.List(r.Context(), accountID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, subscriptionsOf(accountID, hooks))
}

// Unsubscribe handles DELETE /accounts/{account_id}/webhooks/{webhook_id}.
// A webhook of another account is reported as not found.
func (h *WebhookHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	err := h.webhooks.Delete(r.Context(), chi.URLParam(r, "account_id"), chi.URLParam(r, "webhook_id"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
