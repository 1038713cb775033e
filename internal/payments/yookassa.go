package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const yookassaBaseURL = "https://api.yookassa.ru/v3"

type YooKassaAdapter struct {
	ShopID    string
	SecretKey string
	BaseURL   string

	httpClient *http.Client
}

func NewYooKassaAdapter(shopID, secretKey string) *YooKassaAdapter {
	return &YooKassaAdapter{
		ShopID:     shopID,
		SecretKey:  secretKey,
		BaseURL:    yookassaBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type yookassaAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type yookassaPayment struct {
	ID           string         `json:"id"`
	Status       string         `json:"status"`
	Paid         bool           `json:"paid"`
	Amount       yookassaAmount `json:"amount"`
	Confirmation *struct {
		Type            string `json:"type"`
		ConfirmationURL string `json:"confirmation_url"`
	} `json:"confirmation,omitempty"`
}

func (p yookassaPayment) confirmationURL() string {
	if p.Confirmation == nil {
		return ""
	}
	return p.Confirmation.ConfirmationURL
}

func (y *YooKassaAdapter) do(ctx context.Context, method, path string, body []byte, idempotenceKey string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, y.BaseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	httpReq.SetBasicAuth(y.ShopID, y.SecretKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if idempotenceKey != "" {
		httpReq.Header.Set("Idempotence-Key", idempotenceKey)
	}

	resp, err := y.httpClient.Do(httpReq)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, raw, nil
}

func (y *YooKassaAdapter) InitiatePayment(ctx context.Context, req PaymentRequest) (PaymentResponse, error) {
	key := req.IdempotenceKey
	if key == "" {
		key = uuid.NewString()
	}

	payload := map[string]any{
		"amount": yookassaAmount{
			Value:    req.Amount.StringFixed(2),
			Currency: req.Currency,
		},
		"capture": true,
		"confirmation": map[string]string{
			"type":       "redirect",
			"return_url": req.ReturnURL,
		},
		"description": req.Description,
	}
	if len(req.Metadata) > 0 {
		payload["metadata"] = req.Metadata
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return PaymentResponse{}, fmt.Errorf("yookassa encode: %w", err)
	}

	status, raw, err := y.do(ctx, http.MethodPost, "/payments", body, key)
	if err != nil {
		return PaymentResponse{}, fmt.Errorf("yookassa create request: %w", err)
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return PaymentResponse{}, fmt.Errorf("yookassa create failed: http=%d body=%s", status, string(raw))
	}

	var res yookassaPayment
	if err := json.Unmarshal(raw, &res); err != nil {
		return PaymentResponse{}, fmt.Errorf("yookassa create decode: %w body=%s", err, string(raw))
	}
	if res.ID == "" || res.confirmationURL() == "" {
		return PaymentResponse{}, fmt.Errorf("yookassa create: incomplete payment object body=%s", string(raw))
	}

	return PaymentResponse{
		ProviderRef:     res.ID,
		Status:          res.Status,
		ConfirmationURL: res.confirmationURL(),
	}, nil
}

func (y *YooKassaAdapter) VerifyPayment(ctx context.Context, req PaymentVerifyRequest) (PaymentVerifyResponse, error) {
	id := strings.TrimSpace(req.ProviderRef)
	if id == "" {
		return PaymentVerifyResponse{}, fmt.Errorf("yookassa verify requires payment id")
	}

	status, raw, err := y.do(ctx, http.MethodGet, "/payments/"+id, nil, "")
	if err != nil {
		return PaymentVerifyResponse{}, fmt.Errorf("yookassa lookup request: %w", err)
	}
	if status != http.StatusOK {
		return PaymentVerifyResponse{}, fmt.Errorf("yookassa lookup failed: http=%d body=%s", status, string(raw))
	}

	var res yookassaPayment
	if err := json.Unmarshal(raw, &res); err != nil {
		return PaymentVerifyResponse{}, fmt.Errorf("yookassa lookup decode: %w body=%s", err, string(raw))
	}

	state := strings.TrimSpace(res.Status)

	return PaymentVerifyResponse{
		State:           state,
		ProviderRef:     res.ID,
		ConfirmationURL: res.confirmationURL(),
		Raw: map[string]any{
			"http_status": status,
			"body":        json.RawMessage(raw),
		},
	}, nil
}
