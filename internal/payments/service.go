package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/EgorRU/vyatsu-data-analysis-bot/internal/ledger"
	"github.com/EgorRU/vyatsu-data-analysis-bot/internal/metrics"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ReturnURLFunc builds the page the provider redirects the payer back to.
type ReturnURLFunc func(userID int64) (string, error)

type ServiceConfig struct {
	Gateway     string
	Price       decimal.Decimal
	Currency    string
	Description string
	ReturnURL   ReturnURLFunc
}

// Link is a payment the user can complete by following ConfirmationURL.
type Link struct {
	PaymentID       string
	ConfirmationURL string
	Status          string
	Reused          bool
}

// Service ties the redirect provider lifecycle to the ledger.
type Service struct {
	cfg     ServiceConfig
	manager *PaymentManager
	ledger  ledger.Store
	logger  *zap.SugaredLogger
}

func NewService(cfg ServiceConfig, manager *PaymentManager, store ledger.Store, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{cfg: cfg, manager: manager, ledger: store, logger: logger}
}

// CreateOrReuse returns the user's still-payable link when one exists,
// otherwise creates a new provider payment and records it as the ledger row.
func (s *Service) CreateOrReuse(ctx context.Context, userID int64, username string) (*Link, error) {
	if link, ok := s.reusable(ctx, userID); ok {
		return link, nil
	}

	returnURL := ""
	if s.cfg.ReturnURL != nil {
		u, err := s.cfg.ReturnURL(userID)
		if err != nil {
			return nil, fmt.Errorf("build return url: %w", err)
		}
		returnURL = u
	}

	resp, err := s.manager.InitiatePayment(ctx, s.cfg.Gateway, PaymentRequest{
		IdempotenceKey: uuid.NewString(),
		Amount:         s.cfg.Price,
		Currency:       s.cfg.Currency,
		Description:    s.cfg.Description,
		ReturnURL:      returnURL,
		Metadata:       map[string]string{"user_id": fmt.Sprintf("%d", userID)},
	})
	if err != nil {
		return nil, fmt.Errorf("initiate payment: %w", err)
	}

	amount := s.cfg.Price.StringFixed(2)
	rec := &ledger.Record{
		UserID:          userID,
		PaymentID:       resp.ProviderRef,
		Status:          &resp.Status,
		ConfirmationURL: &resp.ConfirmationURL,
		Amount:          &amount,
		Currency:        &s.cfg.Currency,
	}
	if username != "" {
		rec.Username = &username
	}
	if _, err := s.ledger.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}
	metrics.Payments.WithLabelValues(resp.Status).Inc()

	s.logger.Infow("payment created", "user_id", userID, "payment_id", resp.ProviderRef, "status", resp.Status)

	return &Link{
		PaymentID:       resp.ProviderRef,
		ConfirmationURL: resp.ConfirmationURL,
		Status:          resp.Status,
	}, nil
}

// reusable checks the newest open payment. Any failure while checking means
// "nothing to reuse".
func (s *Service) reusable(ctx context.Context, userID int64) (*Link, bool) {
	open, err := s.ledger.ListOpen(ctx, userID)
	if err != nil {
		s.logger.Warnw("list open payments failed", "user_id", userID, "err", err)
		return nil, false
	}
	if len(open) == 0 {
		return nil, false
	}
	rec := open[0]

	resp, err := s.manager.VerifyPayment(ctx, s.cfg.Gateway, PaymentVerifyRequest{ProviderRef: rec.PaymentID})
	if err != nil {
		s.logger.Warnw("check existing payment failed", "payment_id", rec.PaymentID, "err", err)
		return nil, false
	}

	if resp.State != "" && resp.State != rec.StatusValue() {
		if err := s.ledger.SetStatus(ctx, rec.PaymentID, resp.State); err != nil {
			s.logger.Warnw("update checked status failed", "payment_id", rec.PaymentID, "err", err)
		}
	}

	url := resp.ConfirmationURL
	if url == "" && rec.ConfirmationURL != nil {
		url = *rec.ConfirmationURL
	}
	if !ledger.IsOpenStatus(resp.State) || url == "" {
		return nil, false
	}

	return &Link{
		PaymentID:       rec.PaymentID,
		ConfirmationURL: url,
		Status:          resp.State,
		Reused:          true,
	}, true
}

// Poll asks the provider for the live status and stores it. A failed lookup
// yields StatusUnknown and leaves the ledger untouched.
func (s *Service) Poll(ctx context.Context, paymentID string) string {
	resp, err := s.manager.VerifyPayment(ctx, s.cfg.Gateway, PaymentVerifyRequest{ProviderRef: paymentID})
	if err != nil {
		s.logger.Warnw("payment lookup failed", "payment_id", paymentID, "err", err)
		return ledger.StatusUnknown
	}

	err = s.ledger.SetStatus(ctx, paymentID, resp.State)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		s.logger.Warnw("polled payment is not in the ledger", "payment_id", paymentID)
	case err != nil:
		s.logger.Errorw("store polled status failed", "payment_id", paymentID, "err", err)
	default:
		if err := s.ledger.InsertPaymentLog(ctx, paymentID, ledger.LogPoll, resp.Raw); err != nil {
			s.logger.Warnw("store payment log failed", "payment_id", paymentID, "err", err)
		}
	}
	metrics.Payments.WithLabelValues(resp.State).Inc()
	return resp.State
}

// PollOpen re-polls every open payment of the user and returns how many of
// them turned out succeeded.
func (s *Service) PollOpen(ctx context.Context, userID int64) (int, error) {
	open, err := s.ledger.ListOpen(ctx, userID)
	if err != nil {
		return 0, err
	}
	succeeded := 0
	for _, rec := range open {
		if s.Poll(ctx, rec.PaymentID) == ledger.StatusSucceeded {
			succeeded++
		}
	}
	return succeeded, nil
}
