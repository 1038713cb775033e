package payments

import "github.com/shopspring/decimal"

type PaymentRequest struct {
	IdempotenceKey string
	Amount         decimal.Decimal
	Currency       string
	Description    string
	ReturnURL      string
	Metadata       map[string]string
}

type PaymentResponse struct {
	ProviderRef     string // provider payment object id
	Status          string
	ConfirmationURL string
}

type PaymentVerifyRequest struct {
	ProviderRef string
}

type PaymentVerifyResponse struct {
	State           string
	ProviderRef     string
	ConfirmationURL string
	Raw             map[string]any
}
