package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/brokerx/internal/service"
)

// Services bundles what the router exposes.
type Services struct {
	Accounts *service.AccountService
	Orders   *service.OrderService
	Market   *service.MarketService
	Webhooks *service.WebhookService
	// Health reports whether the backing repository is reachable. Nil
	// means always healthy.
	Health func(ctx context.Context) error
}

// NewRouter creates a chi router with all routes registered, request logging,
// and Content-Type validation middleware.
func NewRouter(svc Services, logger *slog.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(requestLogging(logger))
	r.Use(contentTypeJSON)

	accountH := NewAccountHandler(svc.Accounts, svc.Orders)
	orderH := NewOrderHandler(svc.Orders)
	marketH := NewMarketHandler(svc.Market)
	webhookH := NewWebhookHandler(svc.Webhooks)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Health != nil {
			if err := svc.Health(r.Context()); err != nil {
				logger.Warn("health check failed", slog.String("error", err.Error()))
				WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/accounts", accountH.Open)
	r.Get("/accounts/{account_id}", accountH.GetBalance)
	r.Post("/accounts/{account_id}/deposits", accountH.Deposit)
	r.Get("/accounts/{account_id}/orders", accountH.ListOrders)
	r.Post("/accounts/{account_id}/webhooks", webhookH.Subscribe)
	r.Get("/accounts/{account_id}/webhooks", webhookH.List)
	r.Delete("/accounts/{account_id}/webhooks/{webhook_id}", webhookH.Unsubscribe)

	r.Post("/orders", orderH.SubmitOrder)
	r.Get("/orders/{order_id}", orderH.GetOrder)
	r.Delete("/orders/{order_id}", orderH.CancelOrder)

	r.Get("/instruments", marketH.ListInstruments)
	r.Get("/instruments/{symbol}", marketH.GetInstrument)
	r.Get("/instruments/{symbol}/book", marketH.GetBook)
	r.Get("/instruments/{symbol}/quote", marketH.GetQuote)
	r.Post("/instruments/{symbol}/halt", marketH.Halt)
	r.Post("/instruments/{symbol}/resume", marketH.Resume)

	return r
}

// requestLogging returns middleware that logs each request's method, path,
// status code, and duration using slog.
func requestLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// contentTypeJSON rejects POST, PUT and PATCH requests that carry a body
// whose Content-Type is not application/json. Bodiless commands such as
// halt and resume pass through.
func contentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if r.ContentLength != 0 && !strings.HasPrefix(ct, "application/json") {
				WriteError(w, http.StatusBadRequest, "invalid_request",
					"Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
