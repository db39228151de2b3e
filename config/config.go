// Package config loads the bot's runtime tunables from the environment,
// generalizing the original loader.go's godotenv+os.Getenv+strconv pattern
// to cover every parameter named in spec.md §4.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the complete application configuration.
type Config struct {
	// Exchange credentials & mode
	BinanceAPIKey    string
	BinanceAPISecret string
	IsTestnet        bool

	// Sizing / risk
	MaxExposure        float64
	MaxConcurrent       int
	Leverage            int
	TotalNotionalLimit  float64
	MaxKellyFraction    float64
	MinKellyFraction    float64

	// Connector (§4.1)
	RecvWindowMs        int64
	SubscriptionBatch   int
	SubscriptionDelay   time.Duration
	ListenKeyKeepalive  time.Duration
	ReduceOnlyPollWindow time.Duration
	ReduceOnlyPollEvery time.Duration

	// Stream Manager (§4.2)
	TickerWatchTimeout   time.Duration
	TradesWatchTimeout   time.Duration
	StreamFailThreshold  int
	StreamDisabledEscal  int
	HealthCheckInterval  time.Duration
	WSStaleThreshold     time.Duration

	// Sensor Pool (§4.5)
	SensorWorkerCountOverride int // 0 means auto: max(2, floor(0.75*NumCPU))
	SensorCooldownBars        int
	SensorPollInterval        time.Duration

	// Signal Aggregator (§4.6)
	SignalWindow        time.Duration
	MinScoreThreshold   float64
	MinMarginRatio      float64

	// Exit Manager (§4.11)
	SignalReversalEnabled    bool
	SignalReversalThreshold  float64
	MaxHoldBars              int
	SoftExitTPMult           float64
	BreakevenActivationPct   float64
	TrailingActivationPct    float64
	TrailingDistancePct      float64
	DrainPhaseMinutes        int
	DrainAggressiveFraction  float64

	// Reconciliation (§4.10)
	ReconcileInterval time.Duration

	// Resilience (§4.13/§4.14/§7)
	BreakerFailureThreshold int
	BreakerRecoveryTimeout  time.Duration
	BreakerHalfOpenMaxCalls int
	RetryMaxRetries         int
	RetryBackoffBase        time.Duration
	RetryBackoffMax         time.Duration
	RetryBackoffFactor      float64
	RateLimitOrdersPerSec   float64
	RateLimitAccountPerSec  float64
	RateLimitMarketPerSec   float64
	RateLimitDefaultPerSec  float64
	RateLimitTimeout        time.Duration

	// Persistence (§6)
	StateSnapshotPath       string
	SensorStatsSnapshotPath string

	// CLI-equivalent surface (§6)
	Exchange     string
	Symbols      []string
	Mode         string // live, testing, demo
	BetSize      float64
	TimeoutMin   int
	CloseOnExit  bool
	MaxSymbols   int

	// Notification
	TelegramBotToken string
	TelegramChatID   int64

	// Metrics (ambient)
	MetricsAddr string
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDurationSeconds(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return fallback
}

func getEnvString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Load reads .env then the environment and builds a Config, falling back
// to the defaults named throughout spec.md §4 wherever a variable is unset.
func Load(envLoader func() error) *Config {
	if err := envLoader(); err != nil {
		log.Println("⚠️  Warning: .env file not found. Relying on system environment variables.")
	}

	apiKey := os.Getenv("BINANCE_API_KEY")
	apiSecret := os.Getenv("BINANCE_API_SECRET")
	if apiSecret == "" {
		apiSecret = os.Getenv("BINANCE_SECRET_KEY")
	}
	if apiKey == "" || apiSecret == "" {
		log.Println("⚠️  CRITICAL: Binance credentials missing!")
	}

	symbolsRaw := getEnvString("SYMBOL", "BTCUSDT")
	var symbols []string
	for _, s := range strings.Split(symbolsRaw, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			symbols = append(symbols, s)
		}
	}

	return &Config{
		BinanceAPIKey:    apiKey,
		BinanceAPISecret: apiSecret,
		IsTestnet:        getEnvBool("BINANCE_TESTNET", false),

		MaxExposure:       getEnvFloat("MAX_EXPOSURE", 0.20),
		MaxConcurrent:     getEnvInt("MAX_CONCURRENT_TRADES", 3),
		Leverage:          getEnvInt("LEVERAGE", 20),
		TotalNotionalLimit: getEnvFloat("TOTAL_NOTIONAL_LIMIT", 2000.0),
		MaxKellyFraction:  getEnvFloat("MAX_KELLY_FRACTION", 0.20),
		MinKellyFraction:  getEnvFloat("MIN_KELLY_FRACTION", 0.01),

		RecvWindowMs:         getEnvInt64("RECV_WINDOW_MS", 5000),
		SubscriptionBatch:    getEnvInt("SUBSCRIPTION_BATCH", 20),
		SubscriptionDelay:    getEnvDurationSeconds("SUBSCRIPTION_DELAY_SECONDS", 500*time.Millisecond),
		ListenKeyKeepalive:   getEnvDurationSeconds("LISTEN_KEY_KEEPALIVE_SECONDS", 30*time.Minute),
		ReduceOnlyPollWindow: getEnvDurationSeconds("REDUCE_ONLY_POLL_WINDOW_SECONDS", 3*time.Second),
		ReduceOnlyPollEvery:  getEnvDurationSeconds("REDUCE_ONLY_POLL_EVERY_SECONDS", 200*time.Millisecond),

		TickerWatchTimeout:  getEnvDurationSeconds("TICKER_WATCH_TIMEOUT_SECONDS", 10*time.Second),
		TradesWatchTimeout:  getEnvDurationSeconds("TRADES_WATCH_TIMEOUT_SECONDS", 30*time.Second),
		StreamFailThreshold: getEnvInt("STREAM_FAIL_THRESHOLD", 10),
		StreamDisabledEscal: getEnvInt("STREAM_DISABLED_ESCALATION", 3),
		HealthCheckInterval: getEnvDurationSeconds("HEALTH_CHECK_INTERVAL_SECONDS", 10*time.Second),
		WSStaleThreshold:    getEnvDurationSeconds("WS_STALE_THRESHOLD_SECONDS", 60*time.Second),

		SensorWorkerCountOverride: getEnvInt("SENSOR_WORKER_COUNT", 0),
		SensorCooldownBars:        getEnvInt("SENSOR_COOLDOWN_BARS", 5),
		SensorPollInterval:        getEnvDurationSeconds("SENSOR_POLL_INTERVAL_SECONDS", 10*time.Millisecond),

		SignalWindow:      time.Duration(getEnvFloat("SIGNAL_WINDOW_MS", 100) * float64(time.Millisecond)),
		MinScoreThreshold: getEnvFloat("MIN_SCORE_THRESHOLD", 0.5),
		MinMarginRatio:    getEnvFloat("MIN_MARGIN_RATIO", 0.10),

		SignalReversalEnabled:   getEnvBool("SIGNAL_REVERSAL_ENABLED", true),
		SignalReversalThreshold: getEnvFloat("SIGNAL_REVERSAL_THRESHOLD", 0.65),
		MaxHoldBars:             getEnvInt("MAX_HOLD_BARS", 60),
		SoftExitTPMult:          getEnvFloat("SOFT_EXIT_TP_MULT", 0.5),
		BreakevenActivationPct:  getEnvFloat("BREAKEVEN_ACTIVATION_PCT", 0.005),
		TrailingActivationPct:   getEnvFloat("TRAILING_STOP_ACTIVATION_PCT", 0.01),
		TrailingDistancePct:     getEnvFloat("TRAILING_STOP_DISTANCE_PCT", 0.005),
		DrainPhaseMinutes:       getEnvInt("DRAIN_PHASE_MINUTES", 10),
		DrainAggressiveFraction: getEnvFloat("DRAIN_AGGRESSIVE_FRACTION", 0.20),

		ReconcileInterval: getEnvDurationSeconds("RECONCILE_INTERVAL_SECONDS", 5*time.Minute),

		BreakerFailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerRecoveryTimeout:  getEnvDurationSeconds("BREAKER_RECOVERY_TIMEOUT_SECONDS", 60*time.Second),
		BreakerHalfOpenMaxCalls: getEnvInt("BREAKER_HALF_OPEN_MAX_CALLS", 3),
		RetryMaxRetries:         getEnvInt("RETRY_MAX_RETRIES", 3),
		RetryBackoffBase:        getEnvDurationSeconds("RETRY_BACKOFF_BASE_SECONDS", time.Second),
		RetryBackoffMax:         getEnvDurationSeconds("RETRY_BACKOFF_MAX_SECONDS", 60*time.Second),
		RetryBackoffFactor:      getEnvFloat("RETRY_BACKOFF_FACTOR", 2.0),
		RateLimitOrdersPerSec:   getEnvFloat("RATE_LIMIT_ORDERS_PER_SEC", 5),
		RateLimitAccountPerSec:  getEnvFloat("RATE_LIMIT_ACCOUNT_PER_SEC", 1),
		RateLimitMarketPerSec:   getEnvFloat("RATE_LIMIT_MARKET_PER_SEC", 40),
		RateLimitDefaultPerSec:  getEnvFloat("RATE_LIMIT_DEFAULT_PER_SEC", 5),
		RateLimitTimeout:        getEnvDurationSeconds("RATE_LIMIT_TIMEOUT_SECONDS", 45*time.Second),

		StateSnapshotPath:       getEnvString("STATE_SNAPSHOT_PATH", "data/bot_state.json"),
		SensorStatsSnapshotPath: getEnvString("SENSOR_STATS_SNAPSHOT_PATH", "data/sensor_stats.json"),

		Exchange:    getEnvString("EXCHANGE", "binance"),
		Symbols:     symbols,
		Mode:        getEnvString("MODE", "live"),
		BetSize:     getEnvFloat("BET_SIZE", 0.02),
		TimeoutMin:  getEnvInt("TIMEOUT_MINUTES", 0),
		CloseOnExit: getEnvBool("CLOSE_ON_EXIT", false),
		MaxSymbols:  getEnvInt("MAX_SYMBOLS", 10),

		TelegramBotToken: getEnvString("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnvInt64("TELEGRAM_CHAT_ID", 0),

		MetricsAddr: getEnvString("METRICS_ADDR", ":9090"),
	}
}
