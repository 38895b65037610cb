package httpapi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gaspcr/shopify-filemaker/internal/engine"
	"github.com/gaspcr/shopify-filemaker/internal/model"
	"github.com/gaspcr/shopify-filemaker/internal/queue"
	"github.com/gaspcr/shopify-filemaker/internal/webhook"
)

const testSecret = "whsec"

type capture struct {
	mu     sync.Mutex
	events []model.OrderEvent
}

func (c *capture) handle(ctx context.Context, ev model.OrderEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func newTestApp(t *testing.T, cap *capture) (*App, *queue.Manager) {
	t.Helper()
	q := queue.New(16)
	mgr := queue.NewManager(queue.ScalerConfig{Min: 1, Max: 1, Initial: 1}, q, cap.handle)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	mgr.Start(ctx)
	t.Cleanup(mgr.Stop)

	v := &webhook.Validator{Secret: testSecret, ShopDomain: "demo.myshopify.com", Enabled: true}
	return NewApp(v, mgr, engine.NewCycleGuard()), mgr
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func postWebhook(app *App, body []byte, signature, domain, topic string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/shopify/orders", bytes.NewReader(body))
	req.Header.Set(headerHMAC, signature)
	req.Header.Set(headerShopDomain, domain)
	req.Header.Set(headerTopic, topic)
	rec := httptest.NewRecorder()
	NewRouter(app).ServeHTTP(rec, req)
	return rec
}

func orderBody(t *testing.T) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"id":   4567,
		"name": "#1042",
		"line_items": []map[string]any{
			{"sku": "852738006010", "quantity": 2, "title": "Widget"},
		},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestWebhookAcceptedAndEnqueued(t *testing.T) {
	cap := &capture{}
	app, _ := newTestApp(t, cap)
	body := orderBody(t)

	rec := postWebhook(app, body, sign(body), "demo.myshopify.com", "orders/create")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	deadline := time.Now().Add(2 * time.Second)
	for cap.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if cap.count() != 1 {
		t.Fatalf("expected 1 processed event, got %d", cap.count())
	}
	ev := cap.events[0]
	if ev.OrderName != "#1042" || len(ev.LineItems) != 1 || ev.LineItems[0].Quantity != 2 {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.ShopDomain != "demo.myshopify.com" {
		t.Fatalf("shop domain not stamped: %+v", ev)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	cap := &capture{}
	app, _ := newTestApp(t, cap)
	body := orderBody(t)
	tampered := bytes.Replace(body, []byte(`"quantity":2`), []byte(`"quantity":9`), 1)

	rec := postWebhook(app, tampered, sign(body), "demo.myshopify.com", "orders/create")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	time.Sleep(50 * time.Millisecond)
	if cap.count() != 0 {
		t.Fatalf("rejected webhook must not be processed")
	}
}

func TestWebhookRejectsForeignShopDomain(t *testing.T) {
	cap := &capture{}
	app, _ := newTestApp(t, cap)
	body := orderBody(t)

	rec := postWebhook(app, body, sign(body), "evil.myshopify.com", "orders/create")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestWebhookIgnoresUnlistedTopics(t *testing.T) {
	cap := &capture{}
	app, _ := newTestApp(t, cap)
	body := orderBody(t)

	rec := postWebhook(app, body, sign(body), "demo.myshopify.com", "orders/cancelled")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 ack, got %d", rec.Code)
	}
	var a ack
	if err := json.Unmarshal(rec.Body.Bytes(), &a); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if a.Status != "ignored" {
		t.Fatalf("expected ignored status, got %q", a.Status)
	}
	time.Sleep(50 * time.Millisecond)
	if cap.count() != 0 {
		t.Fatalf("ignored topic must not be enqueued")
	}
}

func TestWebhookRejectsMalformedJSON(t *testing.T) {
	cap := &capture{}
	app, _ := newTestApp(t, cap)
	body := []byte(`{"id": not json`)

	rec := postWebhook(app, body, sign(body), "demo.myshopify.com", "orders/create")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestWebhookQueueFullReturns503(t *testing.T) {
	q := queue.New(1)
	mgr := queue.NewManager(queue.ScalerConfig{Min: 1, Max: 1, Initial: 1}, q, func(ctx context.Context, ev model.OrderEvent) {})
	// Manager deliberately not started: the queue keeps its backlog.
	v := &webhook.Validator{Secret: testSecret, ShopDomain: "demo.myshopify.com", Enabled: true}
	app := NewApp(v, mgr, engine.NewCycleGuard())

	body := orderBody(t)
	first := postWebhook(app, body, sign(body), "demo.myshopify.com", "orders/create")
	if first.Code != http.StatusOK {
		t.Fatalf("first webhook should be accepted, got %d", first.Code)
	}
	second := postWebhook(app, body, sign(body), "demo.myshopify.com", "orders/create")
	if second.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when queue full, got %d", second.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	cap := &capture{}
	app, _ := newTestApp(t, cap)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	NewRouter(app).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestShutdownRejectsNewWebhooks(t *testing.T) {
	cap := &capture{}
	app, _ := newTestApp(t, cap)
	app.StartShutdown()
	body := orderBody(t)
	rec := postWebhook(app, body, sign(body), "demo.myshopify.com", "orders/create")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 during shutdown, got %d", rec.Code)
	}
}

func TestShutdownConcurrentWithRequests(t *testing.T) {
	cap := &capture{}
	app, _ := newTestApp(t, cap)
	body := orderBody(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := postWebhook(app, body, sign(body), "demo.myshopify.com", "orders/create")
			if rec.Code != http.StatusOK && rec.Code != http.StatusServiceUnavailable {
				t.Errorf("unexpected status %d", rec.Code)
			}
		}()
	}
	app.StartShutdown()
	wg.Wait()

	rec := postWebhook(app, body, sign(body), "demo.myshopify.com", "orders/create")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 after shutdown, got %d", rec.Code)
	}
}
