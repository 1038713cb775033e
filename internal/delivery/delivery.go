package delivery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/EgorRU/vyatsu-data-analysis-bot/internal/ledger"
	"github.com/EgorRU/vyatsu-data-analysis-bot/internal/metrics"

	"go.uber.org/zap"
)

// DocumentName is the file name users see on a delivered report.
const DocumentName = "Проект.docx"

const (
	textSent       = "✅ Успешно отправлено %d проектов!"
	textNoneSent   = "Не найдено успешных платежей для доставки."
	textNoPayments = "У вас нет завершенных платежей."
	textSendFailed = "❌ Ошибка при отправке файла: %v"
)

// Sender is the chat side of a delivery.
type Sender interface {
	// SendCachedDocument re-sends a document by its Telegram file id.
	SendCachedDocument(ctx context.Context, chatID int64, fileID, caption string) error
	// SendDocument uploads a local file and returns the file id Telegram assigned.
	SendDocument(ctx context.Context, chatID int64, path, name, caption string) (string, error)
	SendText(ctx context.Context, chatID int64, text string) error
}

type Generator interface {
	Generate(ctx context.Context) (string, error)
}

// Poller refreshes a payment's live status in the ledger.
type Poller interface {
	Poll(ctx context.Context, paymentID string) string
}

type Orchestrator struct {
	ledger    ledger.Store
	generator Generator
	sender    Sender
	poller    Poller
	pause     time.Duration
	logger    *zap.SugaredLogger
}

// NewOrchestrator wires delivery. poller may be nil in native payment mode.
func NewOrchestrator(store ledger.Store, gen Generator, sender Sender, poller Poller, pause time.Duration, logger *zap.SugaredLogger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Orchestrator{
		ledger:    store,
		generator: gen,
		sender:    sender,
		poller:    poller,
		pause:     pause,
		logger:    logger,
	}
}

// Deliver sends the report bought with paymentID to chatID. A cached file id
// is reused without generating anything; otherwise a fresh report is
// generated, uploaded and its file id stored. Failures are reported to the
// chat and never returned.
func (o *Orchestrator) Deliver(ctx context.Context, chatID int64, paymentID, receipt string) bool {
	source, err := o.deliver(ctx, chatID, paymentID, receipt)
	if err != nil {
		metrics.Deliveries.WithLabelValues("failed").Inc()
		o.logger.Errorw("delivery failed", "chat_id", chatID, "payment_id", paymentID, "err", err)
		if sendErr := o.sender.SendText(ctx, chatID, fmt.Sprintf(textSendFailed, err)); sendErr != nil {
			o.logger.Errorw("report delivery error to chat", "chat_id", chatID, "err", sendErr)
		}
		return false
	}

	metrics.Deliveries.WithLabelValues(source).Inc()
	o.logger.Infow("report delivered", "chat_id", chatID, "payment_id", paymentID, "source", source)
	return true
}

func (o *Orchestrator) deliver(ctx context.Context, chatID int64, paymentID, receipt string) (string, error) {
	if paymentID != "" {
		rec, err := o.ledger.GetByPaymentID(ctx, paymentID)
		switch {
		case err == nil && rec.CachedFileID() != "":
			if err := o.sender.SendCachedDocument(ctx, chatID, rec.CachedFileID(), receipt); err != nil {
				return "", err
			}
			return "cache", nil
		case err != nil && !errors.Is(err, ledger.ErrNotFound):
			return "", err
		}
	}

	path, err := o.generator.Generate(ctx)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			o.logger.Warnw("remove generated report", "path", path, "err", err)
		}
	}()

	fileID, err := o.sender.SendDocument(ctx, chatID, path, DocumentName, receipt)
	if err != nil {
		return "", err
	}

	if paymentID != "" && fileID != "" {
		err := o.ledger.SetFileID(ctx, paymentID, fileID)
		if err != nil && !errors.Is(err, ledger.ErrNotFound) {
			return "", fmt.Errorf("store file id: %w", err)
		}
	}
	return "generated", nil
}

// BulkOptions selects which of a user's payments DeliverAll sends.
type BulkOptions struct {
	// Repoll refreshes open payments with the provider before listing.
	Repoll bool
	// UndeliveredOnly skips payments that already have a cached file.
	UndeliveredOnly bool
	// Receipt builds the caption for a record.
	Receipt func(rec *ledger.Record) string
}

// DeliverAll sends every qualifying successful payment of userID one by one,
// pausing between sends, and tells the chat how many went out.
func (o *Orchestrator) DeliverAll(ctx context.Context, chatID, userID int64, opts BulkOptions) (int, error) {
	if opts.Repoll && o.poller != nil {
		open, err := o.ledger.ListOpen(ctx, userID)
		if err != nil {
			return 0, err
		}
		for _, rec := range open {
			o.poller.Poll(ctx, rec.PaymentID)
		}
	}

	list := o.ledger.ListSuccessful
	if opts.UndeliveredOnly {
		list = o.ledger.ListUndelivered
	}
	records, err := list(ctx, userID)
	if err != nil {
		return 0, err
	}

	if len(records) == 0 {
		return 0, o.sender.SendText(ctx, chatID, textNoPayments)
	}

	receipt := opts.Receipt
	if receipt == nil {
		receipt = BulkReceipt
	}

	sent := 0
	for i, rec := range records {
		if i > 0 && o.pause > 0 {
			select {
			case <-ctx.Done():
				return sent, ctx.Err()
			case <-time.After(o.pause):
			}
		}
		if o.Deliver(ctx, chatID, rec.PaymentID, receipt(rec)) {
			sent++
		}
	}

	if sent > 0 {
		return sent, o.sender.SendText(ctx, chatID, fmt.Sprintf(textSent, sent))
	}
	return 0, o.sender.SendText(ctx, chatID, textNoneSent)
}

func BulkReceipt(rec *ledger.Record) string {
	return "Оплата через Telegram\nID: " + rec.PaymentID
}
