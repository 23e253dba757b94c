package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gar"
)

func testChange() gar.StatusChange {
	now := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	tx := gar.NewTransaction("GAR-2504-K7Q2ZD", gar.CreateParams{
		Amount:   120000,
		Currency: "XOF",
		Client:   gar.ClientSnapshot{Name: "Aminata", Phone: "+221771234567", Email: "aminata@example.com"},
	}, now)
	tx = gar.AppendEvent(tx, gar.TimelineEvent{Status: gar.StatusPaymentReceived, Timestamp: now.Add(time.Minute), Note: "wave payment"})
	return gar.StatusChange{Transaction: tx, PreviousStatus: gar.StatusPendingPayment, NewStatus: gar.StatusPaymentReceived}
}

func TestWebhookNotifier_Posts(t *testing.T) {
	var got WebhookPayload
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, WithHeader("Authorization", "Bearer secret"))
	if err := n.Notify(context.Background(), testChange()); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	if got.Reference != "GAR-2504-K7Q2ZD" || got.NewStatus != gar.StatusPaymentReceived {
		t.Errorf("unexpected payload %+v", got)
	}
	if got.Note != "wave payment" {
		t.Errorf("note = %q, want %q", got.Note, "wave payment")
	}
	if auth != "Bearer secret" {
		t.Errorf("Authorization = %q", auth)
	}
}

func TestWebhookNotifier_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	if err := n.Notify(context.Background(), testChange()); err == nil {
		t.Fatal("expected error on 502")
	}
}

func TestWebhookNotifier_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewWebhookNotifier(srv.URL).Notify(ctx, testChange()); err == nil {
		t.Fatal("expected error with cancelled context")
	}
}
