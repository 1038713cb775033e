package main

import (
	"fmt"
	"os"
	"time"

	"github.com/EgorRU/vyatsu-data-analysis-bot/internal/bot"
	"github.com/EgorRU/vyatsu-data-analysis-bot/internal/ratelimiter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
)

type config struct {
	addr        string
	env         string
	bot         botConfig
	payment     paymentConfig
	db          dbConfig
	report      reportConfig
	auth        authConfig
	rateLimiter ratelimiter.Config
	sendPause   time.Duration
}

type botConfig struct {
	token       string
	supportLink string
	adminIDs    map[int64]bool
}

type paymentConfig struct {
	mode            bot.Mode
	providerToken   string
	price           decimal.Decimal
	currency        string
	shopID          string
	secretKey       string
	callbackBaseURL string
}

type dbConfig struct {
	driver       string
	addr         string
	maxOpenConns int32
	maxIdleTime  string
}

type reportConfig struct {
	templatePath string
	datasetPath  string
	outputDir    string
}

type authConfig struct {
	basic basicConfig
	token tokenConfig
}

type basicConfig struct {
	user string
	pass string
}

type tokenConfig struct {
	secret string
	exp    time.Duration
	iss    string
}

// envConfig is the raw environment as validated before conversion.
type envConfig struct {
	BotToken        string `validate:"required"`
	PaymentMode     string `validate:"oneof=native provider"`
	ProviderToken   string `validate:"required_if=PaymentMode native"`
	PriceRUB        string `validate:"required,numeric"`
	SupportLink     string `validate:"required,url"`
	YooKassaShopID  string `validate:"required_if=PaymentMode provider"`
	YooKassaSecret  string `validate:"required_if=PaymentMode provider"`
	CallbackBaseURL string `validate:"required_if=PaymentMode provider"`
	DBDriver        string `validate:"oneof=sqlite3 postgres"`
	DBAddr          string `validate:"required"`
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

// LoadRateLimiterConfig retrieves rate limiter settings from environment variables
func LoadRateLimiterConfig() ratelimiter.Config {
	defaultRequests := 20
	defaultEnabled := true

	requestsPerTimeFrame := defaultRequests
	if val, exists := os.LookupEnv("RATELIMITER_REQUESTS_COUNT"); exists {
		if parsedVal, err := cast.ToIntE(val); err == nil {
			requestsPerTimeFrame = parsedVal
		} else {
			fmt.Println("Invalid RATELIMITER_REQUESTS_COUNT, defaulting to", defaultRequests)
		}
	}

	enabled := defaultEnabled
	if val, exists := os.LookupEnv("RATE_LIMITER_ENABLED"); exists {
		if parsedVal, err := cast.ToBoolE(val); err == nil {
			enabled = parsedVal
		} else {
			fmt.Println("Invalid RATE_LIMITER_ENABLED, defaulting to", defaultEnabled)
		}
	}

	return ratelimiter.Config{
		RequestsPerTimeFrame: requestsPerTimeFrame,
		TimeFrame:            time.Minute,
		Enabled:              enabled,
	}
}

func loadConfig() (config, error) {
	raw := envConfig{
		BotToken:        os.Getenv("BOT_TOKEN"),
		PaymentMode:     getEnv("PAYMENT_MODE", string(bot.ModeNative)),
		ProviderToken:   os.Getenv("PROVIDER_TOKEN"),
		PriceRUB:        os.Getenv("PRICE_RUB"),
		SupportLink:     os.Getenv("SUPPORT_LINK"),
		YooKassaShopID:  os.Getenv("YOOKASSA_SHOP_ID"),
		YooKassaSecret:  os.Getenv("YOOKASSA_SECRET_KEY"),
		CallbackBaseURL: os.Getenv("CALLBACK_BASE_URL"),
		DBDriver:        getEnv("DB_DRIVER", "sqlite3"),
		DBAddr:          getEnv("DB_ADDR", "data/bot.db"),
	}
	if err := Validate.Struct(raw); err != nil {
		return config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	price, err := decimal.NewFromString(raw.PriceRUB)
	if err != nil {
		return config{}, fmt.Errorf("invalid PRICE_RUB: %w", err)
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return config{}, fmt.Errorf("invalid PRICE_RUB: %s must be positive", price)
	}

	dbCfg, err := dbOnly()
	if err != nil {
		return config{}, err
	}

	sendPause, err := cast.ToDurationE(getEnv("SEND_PAUSE", "500ms"))
	if err != nil {
		return config{}, fmt.Errorf("invalid SEND_PAUSE: %w", err)
	}

	return config{
		addr: getEnv("ADDR", ":8080"),
		env:  getEnv("ENV", "development"),
		bot: botConfig{
			token:       raw.BotToken,
			supportLink: raw.SupportLink,
			adminIDs:    bot.ParseAdminIDs(os.Getenv("ADMIN_IDS")),
		},
		payment: paymentConfig{
			mode:            bot.Mode(raw.PaymentMode),
			providerToken:   raw.ProviderToken,
			price:           price,
			currency:        "RUB",
			shopID:          raw.YooKassaShopID,
			secretKey:       raw.YooKassaSecret,
			callbackBaseURL: raw.CallbackBaseURL,
		},
		db: dbCfg,
		report: reportConfig{
			templatePath: getEnv("REPORT_TEMPLATE_PATH", "data/project.docx"),
			datasetPath:  getEnv("REPORT_DATASET_PATH", "data/ds_salaries.csv"),
			outputDir:    getEnv("REPORT_OUTPUT_DIR", os.TempDir()),
		},
		auth: authConfig{
			basic: basicConfig{
				user: os.Getenv("AUTH_BASIC_USER"),
				pass: os.Getenv("AUTH_BASIC_PASS"),
			},
			token: tokenConfig{
				secret: getEnv("RETURN_TOKEN_SECRET", raw.BotToken),
				exp:    time.Hour * 24 * 3, // 3 days
				iss:    "reportbot",
			},
		},
		rateLimiter: LoadRateLimiterConfig(),
		sendPause:   sendPause,
	}, nil
}

// reportOnly loads the settings the offline generate command needs.
func reportOnly() reportConfig {
	return reportConfig{
		templatePath: getEnv("REPORT_TEMPLATE_PATH", "data/project.docx"),
		datasetPath:  getEnv("REPORT_DATASET_PATH", "data/ds_salaries.csv"),
		outputDir:    getEnv("REPORT_OUTPUT_DIR", "."),
	}
}

// dbOnly loads the settings the migrate command needs.
func dbOnly() (dbConfig, error) {
	maxOpenConns, err := cast.ToInt32E(getEnv("DB_MAX_OPEN_CONNS", "10"))
	if err != nil {
		return dbConfig{}, fmt.Errorf("invalid DB_MAX_OPEN_CONNS: %w", err)
	}
	cfg := dbConfig{
		driver:       getEnv("DB_DRIVER", "sqlite3"),
		addr:         getEnv("DB_ADDR", "data/bot.db"),
		maxOpenConns: maxOpenConns,
		maxIdleTime:  getEnv("DB_MAX_IDLE_TIME", "15m"),
	}
	if cfg.driver != "sqlite3" && cfg.driver != "postgres" {
		return dbConfig{}, fmt.Errorf("unsupported DB_DRIVER %q", cfg.driver)
	}
	return cfg, nil
}
