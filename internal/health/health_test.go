package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

func TestHealthHandler(t *testing.T) {
	handler := NewHandler("v1.0.0")

	// Добавляем здоровую проверку
	handler.RegisterChecker("test-healthy", NewSimpleChecker("test", func() error {
		return nil
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var response Response
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Status != StatusHealthy {
		t.Errorf("expected status healthy, got %s", response.Status)
	}

	if response.Version != "v1.0.0" {
		t.Errorf("expected version v1.0.0, got %s", response.Version)
	}

	if len(response.Checks) != 1 {
		t.Errorf("expected 1 check, got %d", len(response.Checks))
	}
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	handler := NewHandler("v1.0.0")

	// Добавляем нездоровую проверку
	handler.RegisterChecker("test-unhealthy", NewSimpleChecker("test", func() error {
		return errors.New("service unavailable")
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}

	var response Response
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Status != StatusUnhealthy {
		t.Errorf("expected status unhealthy, got %s", response.Status)
	}
}

func TestLivenessHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	w := httptest.NewRecorder()

	LivenessHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
}

func TestOutboxChecker(t *testing.T) {
	repo := memory.NewOutboxRepository(memory.NewStore())
	checker := NewOutboxChecker(repo, 2)

	check := checker.Check()
	if check.Status != StatusHealthy {
		t.Fatalf("expected healthy outbox, got %s", check.Status)
	}

	// Накапливаем неразрешённые dead-letter события до порога.
	for i := 0; i < 2; i++ {
		event, err := domain.NewSessionEvent(domain.SessionPayload{OrderID: "o1", PaymentID: "pay1"})
		if err != nil {
			t.Fatalf("new session event failed: %v", err)
		}
		event, err = repo.Enqueue(event)
		if err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
		if _, err := repo.MarkDeadLetter(event.ID, "o1", "pay1", "boom"); err != nil {
			t.Fatalf("mark dead letter failed: %v", err)
		}
	}

	check = checker.Check()
	if check.Status != StatusDegraded {
		t.Fatalf("expected degraded outbox, got %s", check.Status)
	}
	if check.Message == "" {
		t.Error("expected a message naming the backlog")
	}
}
