package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/efreitasn/brokerx/internal/domain"
	"github.com/efreitasn/brokerx/internal/store"
)

// reportPayload is the JSON body POSTed to a webhook.
type reportPayload struct {
	Event     string     `json:"event"`
	Timestamp string     `json:"timestamp"`
	Data      reportData `json:"data"`
}

type reportData struct {
	OrderID           string       `json:"order_id"`
	ClientOrderID     string       `json:"client_order_id,omitempty"`
	AccountID         string       `json:"account_id"`
	Symbol            string       `json:"symbol"`
	Side              string       `json:"side"`
	Status            string       `json:"status"`
	RejectReason      string       `json:"reject_reason,omitempty"`
	CancelReason      string       `json:"cancel_reason,omitempty"`
	FilledQuantity    int64        `json:"filled_quantity"`
	RemainingQuantity int64        `json:"remaining_quantity"`
	Fill              *fillPayload `json:"fill,omitempty"`
}

type fillPayload struct {
	FillID     string `json:"fill_id"`
	Price      string `json:"price"`
	Quantity   int64  `json:"quantity"`
	ExecutedAt string `json:"executed_at"`
}

// WebhookSink delivers execution reports to the webhooks their account
// registered. Delivery is fire-and-forget: failures are logged and
// counted, never retried.
type WebhookSink struct {
	store  *store.WebhookStore
	client *http.Client
	log    *slog.Logger
	wg     sync.WaitGroup

	delivered atomic.Int64
	failed    atomic.Int64
}

// NewWebhookSink creates a WebhookSink whose requests time out after timeout.
func NewWebhookSink(webhooks *store.WebhookStore, timeout time.Duration, logger *slog.Logger) *WebhookSink {
	return &WebhookSink{
		store:  webhooks,
		client: &http.Client{Timeout: timeout},
		log:    logger,
	}
}

// Run delivers reports from sub until ctx is cancelled or the
// subscription closes, then waits for in-flight deliveries.
func (s *WebhookSink) Run(ctx context.Context, sub *Subscription) error {
	defer s.wg.Wait()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case r, ok := <-sub.C:
			if !ok {
				return nil
			}
			s.dispatch(ctx, r)
		}
	}
}

// eventsFor lists the webhook events a report triggers.
func eventsFor(r domain.ExecutionReport) []string {
	events := []string{domain.EventOrderStatus}
	if r.Fill != nil {
		events = append(events, domain.EventFillExecuted)
	}
	if r.Status == domain.OrderStatusRejected {
		events = append(events, domain.EventOrderRejected)
	}
	return events
}

func (s *WebhookSink) dispatch(ctx context.Context, r domain.ExecutionReport) {
	for _, event := range eventsFor(r) {
		wh, ok := s.store.Lookup(r.AccountID, event)
		if !ok {
			continue
		}
		payload := buildPayload(event, r)
		event := event
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.deliver(context.WithoutCancel(ctx), wh, event, payload)
		}()
	}
}

func buildPayload(event string, r domain.ExecutionReport) reportPayload {
	p := reportPayload{
		Event:     event,
		Timestamp: r.At.UTC().Format(time.RFC3339Nano),
		Data: reportData{
			OrderID:           r.OrderID,
			ClientOrderID:     r.ClientOrderID,
			AccountID:         r.AccountID,
			Symbol:            r.Symbol,
			Side:              string(r.Side),
			Status:            string(r.Status),
			RejectReason:      string(r.RejectReason),
			CancelReason:      string(r.CancelReason),
			FilledQuantity:    r.FilledQuantity,
			RemainingQuantity: r.RemainingQuantity,
		},
	}
	if r.Fill != nil {
		p.Data.Fill = &fillPayload{
			FillID:     r.Fill.FillID,
			Price:      domain.DecimalFromCents(r.Fill.Price).StringFixed(2),
			Quantity:   r.Fill.Quantity,
			ExecutedAt: r.Fill.ExecutedAt.UTC().Format(time.RFC3339Nano),
		}
	}
	return p
}

// deliver sends the payload via HTTP POST with the delivery headers.
func (s *WebhookSink) deliver(ctx context.Context, wh domain.Webhook, event string, payload reportPayload) {
	err := s.post(ctx, wh, event, payload)
	if err != nil {
		s.failed.Add(1)
		s.log.Warn("webhook delivery failed",
			"webhook_id", wh.WebhookID,
			"account_id", wh.AccountID,
			"event", event,
			"error", err,
		)
		return
	}
	s.delivered.Add(1)
}

func (s *WebhookSink) post(ctx context.Context, wh domain.Webhook, event string, payload reportPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-Id", uuid.New().String())
	req.Header.Set("X-Webhook-Id", wh.WebhookID)
	req.Header.Set("X-Event-Type", event)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Stats returns how many deliveries succeeded and failed.
func (s *WebhookSink) Stats() (delivered, failed int64) {
	return s.delivered.Load(), s.failed.Load()
}
