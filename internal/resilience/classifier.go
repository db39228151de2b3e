package resilience

import (
	"regexp"
	"strconv"
	"time"
)

// ErrorCategory mirrors exchanges/resilience/error_classifier.py's ErrorCategory enum.
type ErrorCategory string

const (
	CategoryNetwork          ErrorCategory = "NETWORK"
	CategoryTimeout          ErrorCategory = "TIMEOUT"
	CategoryRateLimit        ErrorCategory = "RATE_LIMIT"
	CategoryServerError      ErrorCategory = "SERVER_ERROR"
	CategoryTemporary        ErrorCategory = "TEMPORARY"
	CategoryAuthentication   ErrorCategory = "AUTHENTICATION"
	CategoryAuthorization    ErrorCategory = "AUTHORIZATION"
	CategoryInvalidSymbol    ErrorCategory = "INVALID_SYMBOL"
	CategoryInvalidOrder     ErrorCategory = "INVALID_ORDER"
	CategoryInsufficientFund ErrorCategory = "INSUFFICIENT_FUNDS"
	CategoryMarketClosed     ErrorCategory = "MARKET_CLOSED"
	CategoryGracefulShutdown ErrorCategory = "GRACEFUL_SHUTDOWN"
	CategoryPermanent        ErrorCategory = "PERMANENT"
	CategoryUnknown          ErrorCategory = "UNKNOWN"
)

// ErrorAction mirrors the ErrorAction enum.
type ErrorAction string

const (
	ActionRetry         ErrorAction = "RETRY"
	ActionRetryImmediate ErrorAction = "RETRY_IMMEDIATE"
	ActionFail          ErrorAction = "FAIL"
	ActionWaitAndRetry  ErrorAction = "WAIT_AND_RETRY"
	ActionFixAndRetry   ErrorAction = "FIX_AND_RETRY"
)

// retriableCategories is the set classified as transient by the original.
var retriableCategories = map[ErrorCategory]bool{
	CategoryNetwork:     true,
	CategoryTimeout:     true,
	CategoryRateLimit:   true,
	CategoryServerError: true,
	CategoryTemporary:   true,
}

// IgnoredBreakerCategories are recorded as SUCCESS (not failure) on the
// breaker — "proof of life" — per error_handler.py's execute_with_breaker.
var IgnoredBreakerCategories = map[ErrorCategory]bool{
	CategoryInvalidOrder:     true,
	CategoryInvalidSymbol:    true,
	CategoryInsufficientFund: true,
	CategoryAuthentication:   true,
	CategoryAuthorization:    true,
}

// Classification is the result of classifying one error.
type Classification struct {
	Category   ErrorCategory
	Action     ErrorAction
	RetryDelay time.Duration // non-zero when the message itself specified a delay
}

// Retriable reports whether this classification should be retried.
func (c Classification) Retriable() bool {
	return retriableCategories[c.Category]
}

type codeRule struct {
	codes    []string
	category ErrorCategory
	action   ErrorAction
}

// vendor error-code table, transcribed verbatim from error_classifier.py.
var codeRules = []codeRule{
	{codes: []string{"-1015", "-1003"}, category: CategoryRateLimit, action: ActionWaitAndRetry},
	{codes: []string{"-1001", "-1000", "-1021", "-2022", "-4118"}, category: CategoryTemporary, action: ActionRetry},
	{codes: []string{"-2015", "-1022"}, category: CategoryAuthentication, action: ActionFail},
	{codes: []string{"-2021", "-4131", "-1111", "-1116", "-1117", "-2011", "-2013", "-4003", "-4164"}, category: CategoryInvalidOrder, action: ActionFixAndRetry},
	{codes: []string{"-2019", "-4028"}, category: CategoryInsufficientFund, action: ActionFail},
}

var codeOrRe = regexp.MustCompile(`-\d{3,4}`)
var retryAfterRe = regexp.MustCompile(`(?i)retry after (\d+\.?\d*)s?`)
var breakerNameRe = regexp.MustCompile(`(?i)circuitbreaker|circuit breaker|breaker.*open`)
var networkWordsRe = regexp.MustCompile(`(?i)connection.*reset|connection.*refused|network.*error|socket.*error|network is unreachable|broken pipe|no route to host`)
var timeoutWordsRe = regexp.MustCompile(`(?i)connection.*timeout|timed? ?out|deadline exceeded|context deadline`)
var serverErrWordsRe = regexp.MustCompile(`(?i)\b5\d\d\b|internal.*server.*error|bad.*gateway|service.*unavailable|gateway.*timeout`)
var authWordsRe = regexp.MustCompile(`(?i)invalid.*api.*key|invalid.*signature|authentication.*failed|unauthorized|\b401\b`)
var authzWordsRe = regexp.MustCompile(`(?i)forbidden|permission.*denied|\b403\b`)
var invalidSymbolWordsRe = regexp.MustCompile(`(?i)invalid.*symbol|symbol.*not.*found`)
var invalidOrderWordsRe = regexp.MustCompile(`(?i)invalid.*order|order.*invalid`)
var insufficientFundsWordsRe = regexp.MustCompile(`(?i)insufficient.*funds|insufficient.*balance|not.*enough.*balance`)
var marketClosedWordsRe = regexp.MustCompile(`(?i)market.*closed|trading.*disabled|trading (is )?halted`)
var gracefulShutdownWordsRe = regexp.MustCompile(`(?i)connection.*to.*remote.*host.*lost|lost.*websocket.*connection|websocket.*closed`)

// Classifier classifies raw error strings into a retry decision, mirroring
// ErrorClassifier.classify / _classify_by_type / _classify_by_message.
type Classifier struct{}

// NewClassifier constructs a Classifier. It carries no state; the type
// exists to mirror the original's class-based API and give callers an
// injection point (e.g. tests can wrap it).
func NewClassifier() *Classifier { return &Classifier{} }

// Classify inspects an error message (and, for typed errors, the *OpenError
// case handled by the caller before reaching here) and returns its category
// and suggested action, per the original's exact precedence.
func (c *Classifier) Classify(msg string) Classification {
	// CircuitBreaker-raised errors are always retriable TEMPORARY, with an
	// optional retry delay parsed out of the message — _classify_by_type.
	if breakerNameRe.MatchString(msg) {
		cl := Classification{Category: CategoryTemporary, Action: ActionWaitAndRetry}
		if m := retryAfterRe.FindStringSubmatch(msg); m != nil {
			if secs, err := strconv.ParseFloat(m[1], 64); err == nil {
				cl.RetryDelay = time.Duration(secs * float64(time.Second))
			}
		}
		return cl
	}

	if code := codeOrRe.FindString(msg); code != "" {
		for _, rule := range codeRules {
			for _, rc := range rule.codes {
				if rc == code {
					return Classification{Category: rule.category, Action: rule.action}
				}
			}
		}
	}

	// Retriable word patterns are checked before non-retriable ones, per
	// the original's RETRIABLE_PATTERNS-then-NON_RETRIABLE_PATTERNS order.
	switch {
	case networkWordsRe.MatchString(msg):
		return Classification{Category: CategoryNetwork, Action: ActionRetry}
	case timeoutWordsRe.MatchString(msg):
		return Classification{Category: CategoryTimeout, Action: ActionRetry}
	case serverErrWordsRe.MatchString(msg):
		return Classification{Category: CategoryServerError, Action: ActionRetry}
	case authWordsRe.MatchString(msg):
		return Classification{Category: CategoryAuthentication, Action: ActionFail}
	case authzWordsRe.MatchString(msg):
		return Classification{Category: CategoryAuthorization, Action: ActionFail}
	case invalidSymbolWordsRe.MatchString(msg):
		return Classification{Category: CategoryInvalidSymbol, Action: ActionFixAndRetry}
	case invalidOrderWordsRe.MatchString(msg):
		return Classification{Category: CategoryInvalidOrder, Action: ActionFixAndRetry}
	case insufficientFundsWordsRe.MatchString(msg):
		return Classification{Category: CategoryInsufficientFund, Action: ActionFail}
	case marketClosedWordsRe.MatchString(msg):
		return Classification{Category: CategoryMarketClosed, Action: ActionFail}
	case gracefulShutdownWordsRe.MatchString(msg):
		return Classification{Category: CategoryGracefulShutdown, Action: ActionFail}
	default:
		return Classification{Category: CategoryUnknown, Action: ActionFail}
	}
}
