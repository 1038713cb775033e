package main

import (
	"context"
	"database/sql"
	"expvar"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/EgorRU/vyatsu-data-analysis-bot/internal/auth"
	"github.com/EgorRU/vyatsu-data-analysis-bot/internal/bot"
	"github.com/EgorRU/vyatsu-data-analysis-bot/internal/db"
	"github.com/EgorRU/vyatsu-data-analysis-bot/internal/delivery"
	"github.com/EgorRU/vyatsu-data-analysis-bot/internal/ledger"
	"github.com/EgorRU/vyatsu-data-analysis-bot/internal/payments"
	"github.com/EgorRU/vyatsu-data-analysis-bot/internal/ratelimiter"
	"github.com/EgorRU/vyatsu-data-analysis-bot/internal/report"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger creates a new zap logger with color.
func NewLogger() (*zap.SugaredLogger, error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

	consoleEncoder := zapcore.NewConsoleEncoder(encoderCfg)

	level := zapcore.InfoLevel
	if lvl, ok := os.LookupEnv("LOG_LEVEL"); ok {
		if err := level.Set(lvl); err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
	}

	core := zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), level)

	return zap.New(core).Sugar(), nil
}

var version = "1.0.0"

const yookassaGateway = "yookassa"

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("no .env file loaded, using the process environment:", err)
	}

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "reportbot",
		Short:        "Telegram bot selling data analysis reports",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the bot and its HTTP endpoints",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runServe(cmd.Context())
			},
		},
		newGenerateCmd(),
		&cobra.Command{
			Use:   "migrate",
			Short: "Create the payments ledger schema",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMigrate(cmd.Context())
			},
		},
	)
	return root
}

func newGenerateCmd() *cobra.Command {
	var (
		out     string
		percent int
		seed    int64
		scheme  string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate one report locally without Telegram",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := NewLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			cfg := reportOnly()
			if out != "" {
				cfg.outputDir = out
			}
			gen := report.NewGenerator(cfg.templatePath, cfg.datasetPath, cfg.outputDir, logger)

			params := report.DrawParams()
			if cmd.Flags().Changed("percent") {
				params.Percent = percent
			}
			if cmd.Flags().Changed("seed") {
				params.Seed = seed
			}
			if scheme != "" {
				params.Scheme = scheme
			}

			path, err := gen.GenerateWith(cmd.Context(), params)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "directory for the generated report")
	cmd.Flags().IntVar(&percent, "percent", 0, "test share in percent")
	cmd.Flags().Int64Var(&seed, "seed", 0, "split seed")
	cmd.Flags().StringVar(&scheme, "scheme", "", "heatmap colour scheme")
	return cmd
}

// openLedger opens the configured database. stats is nil for postgres.
func openLedger(cfg dbConfig) (ledger.Store, func() sql.DBStats, func(), error) {
	switch cfg.driver {
	case "postgres":
		pool, err := db.New(cfg.addr, cfg.maxOpenConns, cfg.maxIdleTime)
		if err != nil {
			return nil, nil, nil, err
		}
		return ledger.NewPostgresRepository(pool), nil, pool.Close, nil
	default:
		conn, err := db.OpenSQLite(cfg.addr)
		if err != nil {
			return nil, nil, nil, err
		}
		return ledger.NewSQLiteRepository(conn), conn.Stats, func() { conn.Close() }, nil
	}
}

func runMigrate(ctx context.Context) error {
	logger, err := NewLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := dbOnly()
	if err != nil {
		return err
	}
	store, _, closeDB, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	if err := store.Migrate(ctx); err != nil {
		return err
	}
	logger.Infow("ledger schema is up to date", "driver", cfg.driver)
	return nil
}

func runServe(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := NewLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	store, stats, closeDB, err := openLedger(cfg.db)
	if err != nil {
		return err
	}
	defer closeDB()
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	logger.Infow("ledger ready", "driver", cfg.db.driver)

	// Telegram
	api, err := tgbotapi.NewBotAPI(cfg.bot.token)
	if err != nil {
		return fmt.Errorf("telegram login: %w", err)
	}
	logger.Infow("authorized on telegram", "username", api.Self.UserName)

	tokens := auth.NewReturnTokenSigner(cfg.auth.token.secret, cfg.auth.token.iss, cfg.auth.token.exp)

	// Payments
	var (
		links  bot.PaymentLinks
		poller delivery.Poller
		svc    *payments.Service
	)
	if cfg.payment.mode == bot.ModeProvider {
		manager := payments.NewPaymentManager()
		manager.RegisterGateway(yookassaGateway, payments.NewYooKassaAdapter(cfg.payment.shopID, cfg.payment.secretKey))

		svc = payments.NewService(payments.ServiceConfig{
			Gateway:     yookassaGateway,
			Price:       cfg.payment.price,
			Currency:    cfg.payment.currency,
			Description: "Проект по анализу данных",
			ReturnURL: func(userID int64) (string, error) {
				token, err := tokens.GenerateToken(userID, "")
				if err != nil {
					return "", err
				}
				return cfg.payment.callbackBaseURL + "/v1/payments/return?token=" + url.QueryEscape(token), nil
			},
		}, manager, store, logger)
		links, poller = svc, svc
	}

	gen := report.NewGenerator(cfg.report.templatePath, cfg.report.datasetPath, cfg.report.outputDir, logger)
	orchestrator := delivery.NewOrchestrator(store, gen, bot.NewTelegramSender(api), poller, cfg.sendPause, logger)

	var limiter bot.Limiter
	if cfg.rateLimiter.Enabled {
		limiter = ratelimiter.NewFixedWindowLimiter(cfg.rateLimiter.RequestsPerTimeFrame, cfg.rateLimiter.TimeFrame)
	}

	b := bot.New(api, bot.Config{
		Mode:          cfg.payment.mode,
		Price:         cfg.payment.price,
		Currency:      cfg.payment.currency,
		ProviderToken: cfg.payment.providerToken,
		SupportLink:   cfg.bot.supportLink,
		Admins:        cfg.bot.adminIDs,
	}, store, orchestrator, links, limiter, logger)

	app := &application{
		config: cfg,
		logger: logger,
		ledger: store,
		bot:    b,
		tokens: tokens,
	}
	if svc != nil {
		app.payments = svc
	}

	//Metrics collected http://localhost:8080/v1/debug/vars
	expvar.NewString("version").Set(version)
	expvar.NewString("payment_mode").Set(string(cfg.payment.mode))
	if stats != nil {
		expvar.Publish("database", expvar.Func(func() any {
			return stats()
		}))
	}
	expvar.Publish("goroutines", expvar.Func(func() any {
		return runtime.NumGoroutine()
	}))

	botErr := make(chan error, 1)
	go func() {
		err := b.Run(ctx)
		if err != nil {
			logger.Errorw("bot stopped", "error", err)
			stop()
		}
		botErr <- err
	}()

	err = app.run(ctx, app.mount())
	stop()
	if runErr := <-botErr; err == nil {
		err = runErr
	}
	return err
}
