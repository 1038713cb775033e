package main

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/EgorRU/vyatsu-data-analysis-bot/internal/ledger"
)

// yookassaNotification is the envelope YooKassa posts to the webhook.
type yookassaNotification struct {
	Type   string          `json:"type" validate:"required,eq=notification"`
	Event  string          `json:"event" validate:"required"`
	Object json.RawMessage `json:"object" validate:"required"`
}

type yookassaObject struct {
	ID     string `json:"id" validate:"required"`
	Status string `json:"status"`
}

// GET /v1/payments/return?token=...
func (app *application) paymentReturnHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		app.badRequestResponse(w, r, errors.New("missing token"))
		return
	}

	claims, err := app.tokens.ValidateToken(token)
	if err != nil {
		app.unauthorizedErrorResponse(w, r, err)
		return
	}

	if app.payments == nil {
		app.badRequestResponse(w, r, errors.New("provider payments are disabled"))
		return
	}

	// refresh open payments so the chat check sees the latest status
	if claims.PaymentID != "" {
		app.payments.Poll(ctx, claims.PaymentID)
	} else if _, err := app.payments.PollOpen(ctx, claims.UserID); err != nil {
		app.logger.Warnw("poll open payments on return", "user_id", claims.UserID, "error", err)
	}

	app.bot.PromptCheck(claims.UserID, claims.PaymentID)

	if err := renderReturnPage(w); err != nil {
		app.internalServerError(w, r, err)
	}
}

// POST /v1/payments/webhook
//
// The body is only a hint: the status is always re-read from the provider
// before anything is delivered.
func (app *application) paymentWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if app.payments == nil {
		app.badRequestResponse(w, r, errors.New("provider payments are disabled"))
		return
	}

	var note yookassaNotification
	if err := readJSON(w, r, &note); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}
	if err := Validate.Struct(note); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	var obj yookassaObject
	if err := json.Unmarshal(note.Object, &obj); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}
	if err := Validate.Struct(obj); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	rec, err := app.ledger.GetByPaymentID(ctx, obj.ID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			// not ours; acknowledge so the provider stops retrying
			app.logger.Warnw("webhook for unknown payment", "payment_id", obj.ID, "event", note.Event)
			app.jsonResponse(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		app.internalServerError(w, r, err)
		return
	}

	if err := app.ledger.InsertPaymentLog(ctx, obj.ID, ledger.LogWebhook, note); err != nil {
		app.logger.Warnw("store webhook log failed", "payment_id", obj.ID, "error", err)
	}

	status := app.payments.Poll(ctx, obj.ID)
	app.logger.Infow("payment webhook", "payment_id", obj.ID, "event", note.Event, "status", status)

	if status == ledger.StatusSucceeded && rec.CachedFileID() == "" {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			dctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			app.bot.DeliverPaid(dctx, rec)
		}()
	}

	if err := app.jsonResponse(w, http.StatusOK, map[string]string{"status": status}); err != nil {
		app.internalServerError(w, r, err)
	}
}

var returnPage = template.Must(template.New("return").Parse(`<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>{{.Title}}</title>
  <style>
    body { font-family: -apple-system, system-ui, Segoe UI, Roboto, Arial; padding: 24px; }
    .box { max-width: 480px; margin: 40px auto; text-align: center; }
  </style>
</head>
<body>
  <div class="box">
    <h3>{{.Title}}</h3>
    <p>{{.Body}}</p>
  </div>
</body>
</html>`))

func renderReturnPage(w http.ResponseWriter) error {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return returnPage.Execute(w, map[string]string{
		"Title": "Спасибо!",
		"Body":  "Вернитесь в Telegram и нажмите «Проверить оплату», чтобы получить проект.",
	})
}
