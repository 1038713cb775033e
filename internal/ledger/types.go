package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Provider status vocabulary. Values outside this set are stored verbatim.
const (
	StatusPending           = "pending"
	StatusWaitingForCapture = "waiting_for_capture"
	StatusSucceeded         = "succeeded"
	StatusCanceled          = "canceled"
	StatusUnknown           = "unknown"
)

var (
	ErrNotFound = errors.New("payment record not found")
	ErrConflict = errors.New("payment record already exists")
)

type Record struct {
	ID               int64     `json:"id"`
	UserID           int64     `json:"user_id"`
	Username         *string   `json:"username,omitempty"`
	PaymentID        string    `json:"payment_id"`                   // canonical: telegram charge id or provider payment id
	ProviderChargeID *string   `json:"provider_charge_id,omitempty"` // bank/provider side reference (native mode)
	Status           *string   `json:"status,omitempty"`
	ConfirmationURL  *string   `json:"confirmation_url,omitempty"`
	Amount           *string   `json:"amount,omitempty"`
	Currency         *string   `json:"currency,omitempty"`
	FileID           *string   `json:"file_id,omitempty"` // cached Telegram document reference
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// StatusValue returns the stored status or "" when the column is NULL.
func (r *Record) StatusValue() string {
	if r == nil || r.Status == nil {
		return ""
	}
	return *r.Status
}

// CachedFileID returns the cached artifact reference, "" when nothing was delivered yet.
func (r *Record) CachedFileID() string {
	if r == nil || r.FileID == nil {
		return ""
	}
	return *r.FileID
}

// IsOpen reports whether the provider may still move the payment forward.
func (r *Record) IsOpen() bool {
	return IsOpenStatus(r.StatusValue())
}

func IsOpenStatus(status string) bool {
	return status == StatusPending || status == StatusWaitingForCapture
}

type Store interface {
	Migrate(ctx context.Context) error

	Create(ctx context.Context, r *Record) (*Record, error)
	SetStatus(ctx context.Context, paymentID, status string) error
	SetFileID(ctx context.Context, paymentID, fileID string) error

	GetByPaymentID(ctx context.Context, paymentID string) (*Record, error)
	GetByProviderChargeID(ctx context.Context, ref string) (*Record, error)

	// ListSuccessful returns the user's succeeded records, newest first.
	ListSuccessful(ctx context.Context, userID int64) ([]*Record, error)
	// ListUndelivered returns succeeded records that have no cached file yet.
	ListUndelivered(ctx context.Context, userID int64) ([]*Record, error)
	// ListOpen returns pending / waiting_for_capture records, newest first.
	ListOpen(ctx context.Context, userID int64) ([]*Record, error)

	// InsertPaymentLog keeps a raw provider payload next to the payment for support.
	InsertPaymentLog(ctx context.Context, paymentID, logType string, payload any) error
}

// Payment log types.
const (
	LogPoll    = "poll"
	LogWebhook = "webhook"
)

// Lookup finds a record by canonical payment id and falls back to the
// provider charge id, so admins can paste either reference.
func Lookup(ctx context.Context, s Store, ref string) (*Record, error) {
	rec, err := s.GetByPaymentID(ctx, ref)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return s.GetByProviderChargeID(ctx, ref)
}

const recordColumns = `id, user_id, username, payment_id, provider_charge_id, status,
		       confirmation_url, amount, currency, file_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		r         Record
		paymentID *string
	)
	if err := row.Scan(
		&r.ID,
		&r.UserID,
		&r.Username,
		&paymentID,
		&r.ProviderChargeID,
		&r.Status,
		&r.ConfirmationURL,
		&r.Amount,
		&r.Currency,
		&r.FileID,
		&r.CreatedAt,
		&r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if paymentID != nil {
		r.PaymentID = *paymentID
	}
	return &r, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// logPayload encodes a log payload; values that do not marshal are stored as NULL.
func logPayload(payload any) []byte {
	if payload == nil {
		return nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return b
}
