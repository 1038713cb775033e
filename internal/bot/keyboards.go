package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	cbPayInvoice       = "pay_invoice"
	cbPayLink          = "pay_link"
	cbGetAllProjects   = "get_all_projects"
	cbCheckAllPayments = "check_all_payments"
	cbCheckCurrent     = "check_current:"
)

func (b *Bot) startKeyboard() tgbotapi.InlineKeyboardMarkup {
	pay := tgbotapi.NewInlineKeyboardButtonData("Оплатить "+b.cfg.Price.String()+" ₽", cbPayInvoice)
	all := tgbotapi.NewInlineKeyboardButtonData("Получить все заказы", cbGetAllProjects)
	if b.cfg.Mode == ModeProvider {
		pay = tgbotapi.NewInlineKeyboardButtonData("Оплатить "+b.cfg.Price.String()+" ₽", cbPayLink)
		all = tgbotapi.NewInlineKeyboardButtonData("Проверить все заказы", cbCheckAllPayments)
	}

	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(pay),
		tgbotapi.NewInlineKeyboardRow(all),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("Техподдержка", b.cfg.SupportLink)),
	)
}

func paymentKeyboard(confirmationURL, paymentID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("Перейти к оплате", confirmationURL)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Проверить оплату", cbCheckCurrent+paymentID)),
	)
}

// checkKeyboard offers a check of one payment, or of all open ones when the
// payment is not known.
func checkKeyboard(paymentID string) tgbotapi.InlineKeyboardMarkup {
	if paymentID == "" {
		return tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Проверить все заказы", cbCheckAllPayments)),
		)
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Проверить оплату", cbCheckCurrent+paymentID)),
	)
}
