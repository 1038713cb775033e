package main

import (
	"context"
	"errors"
	"expvar"
	"net/http"
	"sync"
	"time"

	"github.com/EgorRU/vyatsu-data-analysis-bot/internal/auth"
	"github.com/EgorRU/vyatsu-data-analysis-bot/internal/ledger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// paymentPoller is the provider side the HTTP handlers need.
type paymentPoller interface {
	Poll(ctx context.Context, paymentID string) string
	PollOpen(ctx context.Context, userID int64) (int, error)
}

// chatNotifier is the bot side the HTTP handlers need.
type chatNotifier interface {
	PromptCheck(userID int64, paymentID string)
	DeliverPaid(ctx context.Context, rec *ledger.Record) bool
}

type application struct {
	config   config
	logger   *zap.SugaredLogger
	ledger   ledger.Store
	payments paymentPoller
	bot      chatNotifier
	tokens   *auth.ReturnTokenSigner

	// background deliveries started by webhooks
	wg sync.WaitGroup
}

func (app *application) mount() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", app.healthCheckHandler)
		r.With(app.BasicAuthMiddleware()).Get("/debug/vars", expvar.Handler().ServeHTTP)

		r.Route("/payments", func(r chi.Router) {
			r.Get("/return", app.paymentReturnHandler)
			r.Post("/webhook", app.paymentWebhookHandler)
		})
	})
	return r
}

// run serves mux until ctx is cancelled, then shuts down gracefully and
// waits for webhook deliveries still in flight.
func (app *application) run(ctx context.Context, mux http.Handler) error {
	srv := &http.Server{
		Addr:         app.config.addr,
		Handler:      mux,
		WriteTimeout: time.Second * 30,
		ReadTimeout:  time.Second * 10,
		IdleTimeout:  time.Minute,
	}

	shutdown := make(chan error, 1)

	go func() {
		<-ctx.Done()

		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		app.logger.Infow("shutting down server", "reason", ctx.Err())

		shutdown <- srv.Shutdown(sctx)
	}()

	app.logger.Infow("server has started", "addr", app.config.addr, "env", app.config.env)

	err := srv.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	err = <-shutdown
	if err != nil {
		return err
	}

	app.wg.Wait()
	app.logger.Infow("server has stopped", "addr", app.config.addr, "env", app.config.env)

	return nil
}
