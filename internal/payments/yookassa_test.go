package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
)

func TestYooKassaInitiateAndVerify(t *testing.T) {
	var gotKey, gotUser string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _, _ := r.BasicAuth()
		gotUser = user
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/payments":
			gotKey = r.Header.Get("Idempotence-Key")
			_ = json.NewDecoder(r.Body).Decode(&gotBody)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"id":"2d8f","status":"pending","paid":false,
				"amount":{"value":"150.00","currency":"RUB"},
				"confirmation":{"type":"redirect","confirmation_url":"https://yoomoney.example/checkout?id=2d8f"}}`))
		case r.Method == http.MethodGet && r.URL.Path == "/payments/2d8f":
			_, _ = w.Write([]byte(`{"id":"2d8f","status":"succeeded","paid":true,
				"amount":{"value":"150.00","currency":"RUB"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"type":"error","code":"not_found"}`))
		}
	}))
	defer srv.Close()

	y := NewYooKassaAdapter("shop-1", "secret")
	y.BaseURL = srv.URL

	resp, err := y.InitiatePayment(context.Background(), PaymentRequest{
		IdempotenceKey: "key-1",
		Amount:         decimal.RequireFromString("150"),
		Currency:       "RUB",
		ReturnURL:      "https://bot.example/return",
	})
	if err != nil {
		t.Fatalf("InitiatePayment error: %v", err)
	}
	if resp.ProviderRef != "2d8f" || resp.Status != "pending" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.ConfirmationURL != "https://yoomoney.example/checkout?id=2d8f" {
		t.Fatalf("unexpected confirmation url %q", resp.ConfirmationURL)
	}
	if gotKey != "key-1" || gotUser != "shop-1" {
		t.Fatalf("headers not sent: key=%q user=%q", gotKey, gotUser)
	}
	amount, _ := gotBody["amount"].(map[string]any)
	if amount["value"] != "150.00" {
		t.Fatalf("amount not formatted with two decimals: %+v", gotBody["amount"])
	}

	vr, err := y.VerifyPayment(context.Background(), PaymentVerifyRequest{ProviderRef: "2d8f"})
	if err != nil {
		t.Fatalf("VerifyPayment error: %v", err)
	}
	if vr.State != "succeeded" || vr.ProviderRef != "2d8f" || vr.Raw["http_status"] != http.StatusOK {
		t.Fatalf("unexpected verify response: %+v", vr)
	}

	if _, err := y.VerifyPayment(context.Background(), PaymentVerifyRequest{ProviderRef: "missing"}); err == nil {
		t.Fatalf("expected error for unknown payment")
	}
	if _, err := y.VerifyPayment(context.Background(), PaymentVerifyRequest{}); err == nil {
		t.Fatalf("expected error for empty id")
	}
}
