package stripe

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New("sk_test_123",
		WithBaseURL(server.URL),
		WithRedirectURLs("https://shop.example/success", "https://shop.example/cancel"),
	)
}

func TestCreateIntent_SendsFormAndMetadata(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payment_intents" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test_123" {
			t.Errorf("unexpected authorization header %q", got)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form failed: %v", err)
		}
		if got := r.PostFormValue("amount"); got != "1000" {
			t.Errorf("expected amount 1000, got %q", got)
		}
		if got := r.PostFormValue("currency"); got != "usd" {
			t.Errorf("expected currency usd, got %q", got)
		}
		if got := r.PostFormValue("metadata[order_id]"); got != "o1" {
			t.Errorf("expected order metadata, got %q", got)
		}
		if got := r.PostFormValue("metadata[payment_id]"); got != "pay1" {
			t.Errorf("expected payment metadata, got %q", got)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"pi_123","status":"requires_payment_method"}`))
	})

	intent, err := client.CreateIntent(domain.IntentRequest{
		AmountCents: 1000,
		Currency:    "usd",
		OrderID:     "o1",
		PaymentID:   "pay1",
	})
	if err != nil {
		t.Fatalf("create intent failed: %v", err)
	}
	if intent.ID != "pi_123" {
		t.Fatalf("expected intent pi_123, got %s", intent.ID)
	}
	if intent.Status != "requires_payment_method" {
		t.Fatalf("unexpected status %s", intent.Status)
	}
}

func TestCreateSession_IntentFirst(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checkout/sessions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form failed: %v", err)
		}
		if got := r.PostFormValue("mode"); got != "payment" {
			t.Errorf("expected payment mode, got %q", got)
		}
		if got := r.PostFormValue("payment_intent"); got != "pi_123" {
			t.Errorf("expected bound intent, got %q", got)
		}
		if got := r.PostFormValue("success_url"); got != "https://shop.example/success" {
			t.Errorf("unexpected success url %q", got)
		}
		if got := r.PostFormValue("customer_email"); got != "buyer@example.com" {
			t.Errorf("unexpected customer email %q", got)
		}
		if got := r.PostFormValue("line_items[0][quantity]"); got != "2" {
			t.Errorf("expected quantity 2, got %q", got)
		}
		if got := r.PostFormValue("line_items[0][price_data][unit_amount]"); got != "500" {
			t.Errorf("expected unit amount 500, got %q", got)
		}
		if got := r.PostFormValue("line_items[0][price_data][product_data][name]"); got != "Widget" {
			t.Errorf("expected product name, got %q", got)
		}
		if got := r.PostFormValue("payment_intent_data[metadata][order_id]"); got != "" {
			t.Errorf("intent-first flow must not send payment_intent_data, got %q", got)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"cs_123","url":"https://checkout.stripe.com/c/cs_123","payment_intent":"pi_123"}`))
	})

	sess, err := client.CreateSession(domain.SessionRequest{
		IntentID:      "pi_123",
		Currency:      "usd",
		CustomerEmail: "buyer@example.com",
		OrderID:       "o1",
		PaymentID:     "pay1",
		LineItems: []domain.LineItem{
			{Name: "Widget", PriceCents: 500, Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("create session failed: %v", err)
	}
	if sess.ID != "cs_123" || sess.IntentID != "pi_123" {
		t.Fatalf("unexpected session %+v", sess)
	}
	if sess.URL == "" {
		t.Fatal("expected session url")
	}
}

func TestCreateSession_SessionFirstCarriesIntentMetadata(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form failed: %v", err)
		}
		if got := r.PostFormValue("payment_intent"); got != "" {
			t.Errorf("session-first flow must not bind an intent, got %q", got)
		}
		if got := r.PostFormValue("payment_intent_data[metadata][order_id]"); got != "o1" {
			t.Errorf("expected intent metadata order id, got %q", got)
		}
		if got := r.PostFormValue("payment_intent_data[metadata][payment_id]"); got != "pay1" {
			t.Errorf("expected intent metadata payment id, got %q", got)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"cs_124","url":"https://checkout.stripe.com/c/cs_124","payment_intent":"pi_late"}`))
	})

	sess, err := client.CreateSession(domain.SessionRequest{
		Currency:  "usd",
		OrderID:   "o1",
		PaymentID: "pay1",
		LineItems: []domain.LineItem{
			{Name: "Widget", PriceCents: 500, Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("create session failed: %v", err)
	}
	if sess.IntentID != "pi_late" {
		t.Fatalf("expected intent from session response, got %q", sess.IntentID)
	}
}

func TestRetrieveSession(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/checkout/sessions/cs_123" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"cs_123","url":"https://checkout.stripe.com/c/cs_123","payment_intent":"pi_123"}`))
	})

	sess, err := client.RetrieveSession("cs_123")
	if err != nil {
		t.Fatalf("retrieve session failed: %v", err)
	}
	if sess.IntentID != "pi_123" {
		t.Fatalf("expected intent id, got %q", sess.IntentID)
	}
}

func TestCancelIntent(t *testing.T) {
	t.Parallel()

	var canceled bool
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/payment_intents/pi_123/cancel" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		canceled = true
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"pi_123","status":"canceled"}`))
	})

	if err := client.CancelIntent("pi_123"); err != nil {
		t.Fatalf("cancel intent failed: %v", err)
	}
	if !canceled {
		t.Fatal("expected cancel request")
	}
}

func TestAPIError_ServerErrorIsProviderUnavailable(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":{"type":"api_error","message":"upstream down"}}`))
	})

	_, err := client.CreateIntent(domain.IntentRequest{AmountCents: 100, Currency: "usd"})
	if !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestAPIError_RateLimitIsProviderUnavailable(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"type":"rate_limit_error","message":"Too many requests"}}`))
	})

	_, err := client.CreateIntent(domain.IntentRequest{AmountCents: 100, Currency: "usd"})
	if !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestAPIError_ClientErrorIsPermanent(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"error":{"type":"card_error","code":"card_declined","message":"Your card was declined."}}`))
	})

	_, err := client.CreateIntent(domain.IntentRequest{AmountCents: 100, Currency: "usd"})
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatal("card errors must not look retriable")
	}
}
