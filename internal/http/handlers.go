package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gaspcr/shopify-filemaker/internal/engine"
	"github.com/gaspcr/shopify-filemaker/internal/model"
	"github.com/gaspcr/shopify-filemaker/internal/obs"
	"github.com/gaspcr/shopify-filemaker/internal/queue"
	"github.com/gaspcr/shopify-filemaker/internal/webhook"
)

// Shopify webhook headers.
const (
	headerHMAC       = "X-Shopify-Hmac-SHA256"
	headerShopDomain = "X-Shopify-Shop-Domain"
	headerTopic      = "X-Shopify-Topic"
)

// Order topics that decrement stock. Other topics (orders/cancelled,
// orders/updated, ...) are acknowledged but never processed, so a
// cancellation cannot decrement inventory.
var allowedOrderTopics = map[string]bool{
	"orders/create": true,
	"orders/paid":   true,
}

const maxWebhookBody = 1 << 20 // Shopify order payloads are far below 1 MiB

// App wires the HTTP surface to the validator and the work queue. Shutdown
// state lives in the manager's atomic flag; handlers run concurrently with
// StartShutdown, so App itself holds no mutable state.
type App struct {
	Validator *webhook.Validator
	Manager   *queue.Manager
	Guard     *engine.CycleGuard
	started   time.Time
}

type ack struct {
	Status    string `json:"status"`
	RequestID string `json:"request_id"`
	OrderID   int64  `json:"order_id,omitempty"`
	OrderName string `json:"order_name,omitempty"`
	Message   string `json:"message,omitempty"`
}

func NewApp(v *webhook.Validator, m *queue.Manager, g *engine.CycleGuard) *App {
	return &App{Validator: v, Manager: m, Guard: g, started: time.Now()}
}

// StartShutdown stops intake so the drain can finish cleanly.
func (a *App) StartShutdown() {
	a.Manager.CloseIntake()
}

// orderWebhookHandler validates and acknowledges a Shopify order webhook.
// Decrement work is enqueued for background execution so the sender gets
// its 200 before any FileMaker round-trips happen.
func (a *App) orderWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	if a.Manager.IsShuttingDown() {
		WriteJSONError(w, http.StatusServiceUnavailable, "shutting_down", "")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, "unreadable_body", err.Error())
		return
	}

	signature := r.Header.Get(headerHMAC)
	shopDomain := r.Header.Get(headerShopDomain)
	topic := r.Header.Get(headerTopic)

	if err := a.Validator.ValidateSignature(body, signature); err != nil {
		obs.Logger.Warn("webhook_rejected", "reason", "invalid_signature", "shop_domain", shopDomain,
			"request_id", RequestIDFromContext(r.Context()))
		WriteJSONError(w, http.StatusUnauthorized, "invalid_signature", "")
		return
	}
	if err := a.Validator.ValidateShopDomain(shopDomain); err != nil {
		obs.Logger.Warn("webhook_rejected", "reason", "untrusted_source", "shop_domain", shopDomain,
			"request_id", RequestIDFromContext(r.Context()))
		WriteJSONError(w, http.StatusForbidden, "untrusted_source", "")
		return
	}

	if !allowedOrderTopics[topic] {
		obs.Logger.Info("webhook_ignored", "topic", topic)
		writeJSON(w, http.StatusOK, ack{Status: "ignored", Message: "topic not processed"})
		return
	}

	var ev model.OrderEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	ev.ShopDomain = shopDomain
	ev.ReceivedAt = time.Now().UTC()

	if ok := a.Manager.Enqueue(ev); !ok {
		// Shopify retries on 5xx; a full queue asks for exactly that.
		WriteJSONError(w, http.StatusServiceUnavailable, "queue_full", "retry later")
		return
	}

	obs.Logger.Info("webhook_accepted",
		"order", ev.OrderName,
		"line_items", len(ev.LineItems),
		"topic", topic,
		"request_id", RequestIDFromContext(r.Context()),
	)
	writeJSON(w, http.StatusOK, ack{
		Status:    "accepted",
		RequestID: RequestIDFromContext(r.Context()),
		OrderID:   ev.OrderID,
		OrderName: ev.OrderName,
		Message:   "webhook received and queued for processing",
	})
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *App) rootHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		WriteJSONError(w, http.StatusNotFound, "not_found", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "shopify-filemaker sync",
		"status":  "running",
	})
}

func (a *App) metricsHandler(w http.ResponseWriter, r *http.Request) {
	enq, proc, backlog, depth := a.Manager.QueueMetrics()
	writeJSON(w, http.StatusOK, map[string]any{
		"events_enqueued":  enq,
		"events_processed": proc,
		"backlog_size":     backlog,
		"queue_depth":      depth,
		"worker_count":     a.Manager.WorkerCount(),
		"cycle_active":     a.Guard.Active(),
		"uptime_sec":       time.Since(a.started).Seconds(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
