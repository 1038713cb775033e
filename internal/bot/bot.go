package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/EgorRU/vyatsu-data-analysis-bot/internal/delivery"
	"github.com/EgorRU/vyatsu-data-analysis-bot/internal/ledger"
	"github.com/EgorRU/vyatsu-data-analysis-bot/internal/payments"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Mode string

const (
	ModeNative   Mode = "native"
	ModeProvider Mode = "provider"
)

const (
	textStart = "📚 Курсовой проект по модулю 8: 'Анализ данных'\n" +
		"Дисциплина: Разработка прикладного программного обеспечения\n\n" +
		"🔹 Требования к оформлению:\n" +
		"- Укажите ваше полное ФИО на титульном листе\n\n" +
		"💳 После завершения оплаты бот отправит проект в чат\n\n" +
		"❓ Возникли проблемы?\n" +
		"Если оплата прошла, но проект не доступен - пожалуйста, обратитесь в техническую поддержку"

	textUsageGetByID   = "Использование: /admin_get_by_id <проект id>"
	textInvalidID      = "ID не валиден."
	textNotFound       = "ID не найден или не валиден."
	textPayLinkFailed  = "❌ Не удалось создать платёж, попробуйте позже."
	textPayLink        = "Для оплаты перейдите по ссылке. После оплаты нажмите «Проверить оплату»."
	textPayLinkReused  = "У вас уже есть неоплаченный заказ. Перейдите по ссылке, чтобы завершить оплату."
	textCheckBusy      = "⏳ Проверка уже выполняется, подождите..."
	textPending        = "Платёж ещё не завершён. Статус: %s"
	textCanceled       = "Платёж отменён. Создайте новый заказ через /start."
	textStatusUnknown  = "Не удалось получить статус платежа, попробуйте позже."
	textReturned       = "Вы вернулись со страницы оплаты. Нажмите, чтобы проверить платёж."
	textTooManyUpdates = "Слишком много запросов, попробуйте позже."
	textStoreFailed    = "❌ Платёж получен, но не сохранён. Обратитесь в техническую поддержку."

	receiptAdminFree    = "Админ-выдача без оплаты"
	receiptAdminGen     = "Админ-генерация проекта"
	receiptAdminByID    = "Админ-выдача по платежу\nID: %s"
	receiptNative       = "Сумма: %s ₽\nID: %s\n"
	receiptProvider     = "Оплата через ЮKassa\nID: %s"
	receiptProviderBulk = "ID платежа: %s"
	invoiceTitle        = "Оплата проекта"
	invoiceDesc         = "Покупка проекта по анализу данных"
	invoiceLabel        = "Проект"
	invoiceStartParam   = "buy_project"
)

// botAPI is the subset of *tgbotapi.BotAPI the bot uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Deliverer interface {
	Deliver(ctx context.Context, chatID int64, paymentID, receipt string) bool
	DeliverAll(ctx context.Context, chatID, userID int64, opts delivery.BulkOptions) (int, error)
}

// PaymentLinks is the provider redirect side, used in ModeProvider only.
type PaymentLinks interface {
	CreateOrReuse(ctx context.Context, userID int64, username string) (*payments.Link, error)
	Poll(ctx context.Context, paymentID string) string
}

type Limiter interface {
	Allow(userID int64) (bool, time.Duration)
}

type Config struct {
	Mode          Mode
	Price         decimal.Decimal
	Currency      string
	ProviderToken string
	SupportLink   string
	Admins        map[int64]bool
}

type Bot struct {
	api      botAPI
	cfg      Config
	ledger   ledger.Store
	delivery Deliverer
	links    PaymentLinks
	limiter  Limiter
	convs    *Conversations
	logger   *zap.SugaredLogger
}

// New builds the bot. links may be nil in ModeNative and limiter may be nil
// to disable throttling.
func New(api botAPI, cfg Config, store ledger.Store, d Deliverer, links PaymentLinks, limiter Limiter, logger *zap.SugaredLogger) *Bot {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.Currency == "" {
		cfg.Currency = "RUB"
	}
	if cfg.Admins == nil {
		cfg.Admins = map[int64]bool{}
	}
	return &Bot{
		api:      api,
		cfg:      cfg,
		ledger:   store,
		delivery: d,
		links:    links,
		limiter:  limiter,
		convs:    NewConversations(),
		logger:   logger,
	}
}

// Run long-polls Telegram and handles each update in its own goroutine until
// ctx is cancelled. In-flight handlers are waited for before returning.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return errors.New("telegram updates channel closed")
			}
			wg.Add(1)
			go func(update tgbotapi.Update) {
				defer wg.Done()
				b.HandleUpdate(ctx, update)
			}(update)
		}
	}
}

func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Errorw("panic while handling update", "update_id", update.UpdateID, "panic", r)
		}
	}()

	// payment updates arrive once and are never throttled
	switch {
	case update.PreCheckoutQuery != nil:
		b.handlePreCheckout(update.PreCheckoutQuery)
		return
	case update.Message != nil && update.Message.SuccessfulPayment != nil:
		b.handleSuccessfulPayment(ctx, update.Message)
		return
	}

	if from := update.SentFrom(); from != nil && b.limiter != nil {
		if ok, retry := b.limiter.Allow(from.ID); !ok {
			b.logger.Warnw("update rate limited", "user_id", from.ID, "retry_after", retry.String())
			if update.CallbackQuery != nil {
				b.answerCallback(update.CallbackQuery.ID, textTooManyUpdates)
			}
			return
		}
	}

	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.IsCommand():
		b.handleCommand(ctx, update.Message)
	}
}

func (b *Bot) isAdmin(userID int64) bool {
	return b.cfg.Admins[userID]
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	var userID int64
	if msg.From != nil {
		userID = msg.From.ID
	}

	switch msg.Command() {
	case "start":
		reply := tgbotapi.NewMessage(chatID, textStart)
		reply.ReplyMarkup = b.startKeyboard()
		b.send(reply)

	case "admin_get_project":
		if !b.isAdmin(userID) {
			return
		}
		b.delivery.Deliver(ctx, chatID, "", receiptAdminFree)

	case "proj":
		if !b.isAdmin(userID) {
			return
		}
		if len(strings.Fields(msg.Text)) == 1 {
			b.delivery.Deliver(ctx, chatID, "", receiptAdminGen)
			return
		}
		ref := strings.TrimSpace(msg.CommandArguments())
		if ref == "" {
			b.reply(chatID, textInvalidID)
			return
		}
		b.deliverByRef(ctx, chatID, ref)

	case "admin_get_by_id":
		if !b.isAdmin(userID) {
			return
		}
		args := strings.Fields(msg.CommandArguments())
		if len(args) != 1 {
			b.reply(chatID, textUsageGetByID)
			return
		}
		b.deliverByRef(ctx, chatID, args[0])
	}
}

// deliverByRef delivers the report for a payment an admin pasted, looking it
// up by canonical id first and provider charge id second.
func (b *Bot) deliverByRef(ctx context.Context, chatID int64, ref string) {
	rec, err := ledger.Lookup(ctx, b.ledger, ref)
	if err != nil {
		if !errors.Is(err, ledger.ErrNotFound) {
			b.logger.Errorw("payment lookup failed", "ref", ref, "err", err)
		}
		b.reply(chatID, textNotFound)
		return
	}
	if rec.PaymentID == "" {
		b.reply(chatID, textInvalidID)
		return
	}
	b.delivery.Deliver(ctx, chatID, rec.PaymentID, fmt.Sprintf(receiptAdminByID, rec.PaymentID))
}

func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	if q.Message == nil || q.From == nil {
		b.answerCallback(q.ID, "")
		return
	}
	chatID := q.Message.Chat.ID

	switch {
	case q.Data == cbPayInvoice:
		b.answerCallback(q.ID, "")
		b.sendInvoice(chatID, q.From.ID)

	case q.Data == cbPayLink:
		b.answerCallback(q.ID, "")
		b.sendPayLink(ctx, chatID, q.From)

	case q.Data == cbGetAllProjects:
		b.answerCallback(q.ID, "")
		if _, err := b.delivery.DeliverAll(ctx, chatID, q.From.ID, delivery.BulkOptions{Receipt: b.bulkReceipt()}); err != nil {
			b.logger.Errorw("bulk delivery failed", "user_id", q.From.ID, "err", err)
		}

	case q.Data == cbCheckAllPayments:
		release, err := b.convs.Acquire(chatID)
		if err != nil {
			b.answerCallback(q.ID, textCheckBusy)
			return
		}
		defer release()
		b.answerCallback(q.ID, "")

		opts := delivery.BulkOptions{Receipt: b.bulkReceipt()}
		if b.cfg.Mode == ModeProvider {
			// the linking sweep only sends what has not been delivered yet
			opts.Repoll = b.links != nil
			opts.UndeliveredOnly = true
		}
		if _, err := b.delivery.DeliverAll(ctx, chatID, q.From.ID, opts); err != nil {
			b.logger.Errorw("bulk delivery failed", "user_id", q.From.ID, "err", err)
		}

	case strings.HasPrefix(q.Data, cbCheckCurrent):
		release, err := b.convs.Acquire(chatID)
		if err != nil {
			b.answerCallback(q.ID, textCheckBusy)
			return
		}
		defer release()
		b.answerCallback(q.ID, "")

		b.checkPayment(ctx, chatID, q.From.ID, strings.TrimPrefix(q.Data, cbCheckCurrent))

	default:
		b.answerCallback(q.ID, "")
	}
}

func (b *Bot) sendInvoice(chatID, userID int64) {
	kopecks := b.cfg.Price.Shift(2).IntPart()
	invoice := tgbotapi.NewInvoice(
		chatID,
		invoiceTitle,
		invoiceDesc,
		fmt.Sprintf("user:%d", userID),
		b.cfg.ProviderToken,
		invoiceStartParam,
		b.cfg.Currency,
		[]tgbotapi.LabeledPrice{{Label: invoiceLabel, Amount: int(kopecks)}},
	)
	invoice.SuggestedTipAmounts = []int{}
	b.send(invoice)
}

func (b *Bot) sendPayLink(ctx context.Context, chatID int64, from *tgbotapi.User) {
	if b.links == nil {
		b.logger.Warnw("pay_link pressed without a payment provider", "user_id", from.ID)
		return
	}

	link, err := b.links.CreateOrReuse(ctx, from.ID, from.UserName)
	if err != nil {
		b.logger.Errorw("create payment failed", "user_id", from.ID, "err", err)
		b.reply(chatID, textPayLinkFailed)
		return
	}

	text := textPayLink
	if link.Reused {
		text = textPayLinkReused
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = paymentKeyboard(link.ConfirmationURL, link.PaymentID)
	b.send(msg)
}

// checkPayment polls one provider payment and delivers the report when it
// has succeeded. Only the payer may check their payment.
func (b *Bot) checkPayment(ctx context.Context, chatID, userID int64, paymentID string) {
	rec, err := b.ledger.GetByPaymentID(ctx, paymentID)
	if err != nil || rec.UserID != userID {
		if err != nil && !errors.Is(err, ledger.ErrNotFound) {
			b.logger.Errorw("payment lookup failed", "payment_id", paymentID, "err", err)
		}
		b.reply(chatID, textNotFound)
		return
	}

	status := rec.StatusValue()
	if b.links != nil && status != ledger.StatusSucceeded {
		status = b.links.Poll(ctx, paymentID)
	}

	switch {
	case status == ledger.StatusSucceeded:
		b.delivery.Deliver(ctx, chatID, paymentID, fmt.Sprintf(receiptProvider, paymentID))
	case status == ledger.StatusCanceled:
		b.reply(chatID, textCanceled)
	case status == ledger.StatusUnknown:
		b.reply(chatID, textStatusUnknown)
	default:
		b.reply(chatID, fmt.Sprintf(textPending, status))
	}
}

func (b *Bot) handlePreCheckout(q *tgbotapi.PreCheckoutQuery) {
	if _, err := b.api.Request(tgbotapi.PreCheckoutConfig{PreCheckoutQueryID: q.ID, OK: true}); err != nil {
		b.logger.Errorw("answer pre-checkout failed", "query_id", q.ID, "err", err)
	}
}

func (b *Bot) handleSuccessfulPayment(ctx context.Context, msg *tgbotapi.Message) {
	sp := msg.SuccessfulPayment
	chatID := msg.Chat.ID

	amount := decimal.New(int64(sp.TotalAmount), -2).StringFixed(2)
	status := ledger.StatusSucceeded
	currency := sp.Currency
	rec := &ledger.Record{
		PaymentID: sp.TelegramPaymentChargeID,
		Status:    &status,
		Amount:    &amount,
		Currency:  &currency,
	}
	if sp.ProviderPaymentChargeID != "" {
		rec.ProviderChargeID = &sp.ProviderPaymentChargeID
	}
	if msg.From != nil {
		rec.UserID = msg.From.ID
		if msg.From.UserName != "" {
			rec.Username = &msg.From.UserName
		}
	}

	if _, err := b.ledger.Create(ctx, rec); err != nil {
		if !errors.Is(err, ledger.ErrConflict) {
			b.logger.Errorw("store successful payment failed", "payment_id", rec.PaymentID, "err", err)
			b.reply(chatID, textStoreFailed)
			return
		}
		b.logger.Warnw("successful payment already recorded", "payment_id", rec.PaymentID)
	}
	b.logger.Infow("payment succeeded", "user_id", rec.UserID, "payment_id", rec.PaymentID, "amount", amount)

	b.delivery.Deliver(ctx, chatID, rec.PaymentID, fmt.Sprintf(receiptNative, amount, rec.PaymentID))
}

// PromptCheck asks the payer, back from the provider page, to check the
// payment in the chat. Private chat ids equal user ids.
func (b *Bot) PromptCheck(userID int64, paymentID string) {
	msg := tgbotapi.NewMessage(userID, textReturned)
	msg.ReplyMarkup = checkKeyboard(paymentID)
	b.send(msg)
}

// DeliverPaid sends the report for a payment the provider confirmed out of
// band (webhook). The receipt matches a manual check.
func (b *Bot) DeliverPaid(ctx context.Context, rec *ledger.Record) bool {
	return b.delivery.Deliver(ctx, rec.UserID, rec.PaymentID, fmt.Sprintf(receiptProvider, rec.PaymentID))
}

// bulkReceipt picks the caption for bulk deliveries; nil keeps the
// Telegram payments caption.
func (b *Bot) bulkReceipt() func(*ledger.Record) string {
	if b.cfg.Mode != ModeProvider {
		return nil
	}
	return func(rec *ledger.Record) string {
		return fmt.Sprintf(receiptProviderBulk, rec.PaymentID)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		b.logger.Errorw("telegram send failed", "err", err)
	}
}

func (b *Bot) answerCallback(id, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(id, text)); err != nil {
		b.logger.Warnw("answer callback failed", "callback_id", id, "err", err)
	}
}
