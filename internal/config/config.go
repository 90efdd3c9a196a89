package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	LedgerDriverPostgres = "postgres"
	LedgerDriverSQLite   = "sqlite"

	AuditSinkLog    = "log"
	AuditSinkBadger = "badger"
	AuditSinkSNS    = "sns"
)

const defaultPriceURL = "https://data-api.coindesk.com/index/cc/v1/latest/tick?market=cadli&instruments=BTC-USD"

type Config struct {
	HTTPAddr        string
	LedgerDriver    string
	DBDSN           string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	HistoryTTL      time.Duration
	PriceURL        string
	PriceInstrument string
	PriceTimeout    time.Duration
	PriceRateLimit  float64
	// PriceTick is how often the live price is pushed to websocket
	// clients. Zero disables the ticker.
	PriceTick       time.Duration
	AuditSink       string
	AuditBadgerDir  string
	AuditSNSTopic   string
	AuditQueueSize  int
	WebSocketOrigin string
	InitialCash     decimal.Decimal
	InitialAsset    decimal.Decimal
	LogLevel        string
	LogFile         string
	LogJSON         bool
	LogMaxSizeMB    int
	LogMaxBackups   int
	LogMaxAgeDays   int
}

func Load() (Config, error) {
	var c Config
	var missing []string
	c.HTTPAddr = os.Getenv("HTTP_ADDR")
	if c.HTTPAddr == "" {
		missing = append(missing, "HTTP_ADDR")
	}
	c.LedgerDriver = strings.ToLower(strings.TrimSpace(os.Getenv("LEDGER_DRIVER")))
	if c.LedgerDriver == "" {
		c.LedgerDriver = LedgerDriverPostgres
	}
	if c.LedgerDriver != LedgerDriverPostgres && c.LedgerDriver != LedgerDriverSQLite {
		return c, errors.New("invalid LEDGER_DRIVER: use postgres or sqlite")
	}
	c.DBDSN = os.Getenv("DB_DSN")
	if c.DBDSN == "" {
		missing = append(missing, "DB_DSN")
	}

	c.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	c.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if raw := strings.TrimSpace(os.Getenv("REDIS_DB")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return c, errors.New("invalid REDIS_DB")
		}
		c.RedisDB = n
	}
	ttl, err := durationEnv("HISTORY_TTL", 30*time.Second)
	if err != nil {
		return c, err
	}
	c.HistoryTTL = ttl

	c.PriceURL = os.Getenv("PRICE_URL")
	if c.PriceURL == "" {
		c.PriceURL = defaultPriceURL
	}
	c.PriceInstrument = os.Getenv("PRICE_INSTRUMENT")
	if c.PriceInstrument == "" {
		c.PriceInstrument = "BTC-USD"
	}
	timeout, err := durationEnv("PRICE_TIMEOUT", 10*time.Second)
	if err != nil {
		return c, err
	}
	c.PriceTimeout = timeout
	c.PriceRateLimit = 5
	if raw := strings.TrimSpace(os.Getenv("PRICE_RATE_LIMIT")); raw != "" {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || f <= 0 {
			return c, errors.New("invalid PRICE_RATE_LIMIT")
		}
		c.PriceRateLimit = f
	}
	c.PriceTick = 5 * time.Second
	if raw := strings.TrimSpace(os.Getenv("PRICE_TICK_INTERVAL")); raw == "0" || strings.EqualFold(raw, "off") {
		c.PriceTick = 0
	} else if tick, err := durationEnv("PRICE_TICK_INTERVAL", c.PriceTick); err != nil {
		return c, err
	} else {
		c.PriceTick = tick
	}

	c.AuditSink = strings.ToLower(strings.TrimSpace(os.Getenv("AUDIT_SINK")))
	if c.AuditSink == "" {
		c.AuditSink = AuditSinkLog
	}
	switch c.AuditSink {
	case AuditSinkLog:
	case AuditSinkBadger:
		c.AuditBadgerDir = os.Getenv("AUDIT_BADGER_DIR")
		if c.AuditBadgerDir == "" {
			missing = append(missing, "AUDIT_BADGER_DIR")
		}
	case AuditSinkSNS:
		c.AuditSNSTopic = os.Getenv("AUDIT_SNS_TOPIC_ARN")
		if c.AuditSNSTopic == "" {
			missing = append(missing, "AUDIT_SNS_TOPIC_ARN")
		}
	default:
		return c, errors.New("invalid AUDIT_SINK: use log, badger or sns")
	}
	c.AuditQueueSize = 256
	if raw := strings.TrimSpace(os.Getenv("AUDIT_QUEUE_SIZE")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c, errors.New("invalid AUDIT_QUEUE_SIZE")
		}
		c.AuditQueueSize = n
	}

	c.WebSocketOrigin = os.Getenv("WS_ORIGIN")
	if c.WebSocketOrigin == "" {
		c.WebSocketOrigin = "*"
	}

	cash, err := decimalEnv("INITIAL_CASH", "10000")
	if err != nil {
		return c, err
	}
	c.InitialCash = cash
	asset, err := decimalEnv("INITIAL_ASSET", "0.5")
	if err != nil {
		return c, err
	}
	c.InitialAsset = asset

	c.LogLevel = os.Getenv("LOG_LEVEL")
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.LogFile = os.Getenv("LOG_FILE")
	if raw := os.Getenv("LOG_JSON"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return c, errors.New("invalid LOG_JSON")
		}
		c.LogJSON = b
	}
	c.LogMaxSizeMB, _ = strconv.Atoi(os.Getenv("LOG_MAX_SIZE_MB"))
	c.LogMaxBackups, _ = strconv.Atoi(os.Getenv("LOG_MAX_BACKUPS"))
	c.LogMaxAgeDays, _ = strconv.Atoi(os.Getenv("LOG_MAX_AGE_DAYS"))

	if len(missing) > 0 {
		return c, errors.New("missing required env: " + strings.Join(missing, ","))
	}
	return c, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, errors.New("invalid " + key)
	}
	return d, nil
}

func decimalEnv(key, def string) (decimal.Decimal, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		return decimal.Zero, errors.New("invalid " + key)
	}
	return d, nil
}
