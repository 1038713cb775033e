package bot

import (
	"context"
	"errors"
	"fmt"
	"os"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSender delivers documents and texts through the Bot API.
type TelegramSender struct {
	api botAPI
}

func NewTelegramSender(api botAPI) *TelegramSender {
	return &TelegramSender{api: api}
}

func (s *TelegramSender) SendCachedDocument(_ context.Context, chatID int64, fileID, caption string) error {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileID(fileID))
	doc.Caption = caption
	if _, err := s.api.Send(doc); err != nil {
		return fmt.Errorf("send cached document: %w", err)
	}
	return nil
}

func (s *TelegramSender) SendDocument(_ context.Context, chatID int64, path, name, caption string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open report: %w", err)
	}
	defer f.Close()

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileReader{Name: name, Reader: f})
	doc.Caption = caption
	msg, err := s.api.Send(doc)
	if err != nil {
		return "", fmt.Errorf("send document: %w", err)
	}
	if msg.Document == nil {
		return "", errors.New("telegram returned no document")
	}
	return msg.Document.FileID, nil
}

func (s *TelegramSender) SendText(_ context.Context, chatID int64, text string) error {
	if _, err := s.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}
