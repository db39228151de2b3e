package resilience

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jpillora/backoff"
)

// RetryConfig mirrors error_handler.py's RetryConfig dataclass.
type RetryConfig struct {
	MaxRetries   int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	BackoffFactor float64
	Jitter       bool
}

// DefaultRetryConfig mirrors RetryConfig()'s dataclass defaults
// (max_retries=3, backoff_base=1.0, backoff_max=60.0, backoff_factor=2.0, jitter=True).
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		BackoffBase:   time.Second,
		BackoffMax:    60 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	}
}

// ErrorHandler is the Go equivalent of error_handling/error_handler.py's
// ErrorHandler: it classifies failures, retries the retriable ones with
// exponential backoff, and optionally wraps calls in a named CircuitBreaker.
type ErrorHandler struct {
	mu          sync.Mutex
	classifier  *Classifier
	breakers    map[string]*CircuitBreaker
	shutdownMode bool

	failureThreshold int
	recoveryTimeout  time.Duration
	halfOpenMaxCalls int
}

// NewErrorHandler constructs an ErrorHandler with its own breaker registry,
// using the standard parameters (failure_threshold=5, recovery_timeout=60s,
// half_open_max_calls=3) until SetBreakerDefaults overrides them.
func NewErrorHandler() *ErrorHandler {
	return &ErrorHandler{
		classifier:       NewClassifier(),
		breakers:         make(map[string]*CircuitBreaker),
		failureThreshold: 5,
		recoveryTimeout:  60 * time.Second,
		halfOpenMaxCalls: 3,
	}
}

// SetBreakerDefaults overrides the parameters used for breakers created
// after this call; existing breakers are unaffected. Lets main wiring
// drive these from config instead of the hardcoded defaults.
func (h *ErrorHandler) SetBreakerDefaults(failureThreshold int, recoveryTimeout time.Duration, halfOpenMaxCalls int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if failureThreshold > 0 {
		h.failureThreshold = failureThreshold
	}
	if recoveryTimeout > 0 {
		h.recoveryTimeout = recoveryTimeout
	}
	if halfOpenMaxCalls > 0 {
		h.halfOpenMaxCalls = halfOpenMaxCalls
	}
}

// SetShutdownMode bypasses breaker checks once the bot is draining, mirroring
// the original's shutdown_mode flag.
func (h *ErrorHandler) SetShutdownMode(v bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shutdownMode = v
}

// Breaker returns (creating if needed) the named circuit breaker, using the
// handler's current breaker defaults (failure_threshold=5,
// recovery_timeout=60s, half_open_max_calls=3 unless SetBreakerDefaults
// changed them).
func (h *ErrorHandler) Breaker(name string) *CircuitBreaker {
	h.mu.Lock()
	defer h.mu.Unlock()
	cb, ok := h.breakers[name]
	if !ok {
		cb = NewCircuitBreaker(name, h.failureThreshold, h.recoveryTimeout, h.halfOpenMaxCalls)
		h.breakers[name] = cb
	}
	return cb
}

// AllBreakerStates snapshots every breaker's current state by name, for
// status reporting (statusws, metrics, Telegram /status).
func (h *ErrorHandler) AllBreakerStates() map[string]string {
	h.mu.Lock()
	names := make([]string, 0, len(h.breakers))
	breakers := make([]*CircuitBreaker, 0, len(h.breakers))
	for name, cb := range h.breakers {
		names = append(names, name)
		breakers = append(breakers, cb)
	}
	h.mu.Unlock()

	out := make(map[string]string, len(names))
	for i, name := range names {
		out[name] = string(breakers[i].State())
	}
	return out
}

// Execute runs fn, retrying retriable failures with exponential backoff,
// mirroring execute(). With cfg.Jitter set, each delay is jpillora/backoff's
// jitter: a uniform draw between BackoffBase and the exponential delay, not a
// symmetric ±25% band. Non-retriable failures return immediately.
func (h *ErrorHandler) Execute(name string, fn func() error, cfg RetryConfig) error {
	b := newBackoff(cfg)
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		cl := h.classifier.Classify(err.Error())
		if !cl.Retriable() {
			return err
		}
		if attempt == cfg.MaxRetries {
			break
		}
		delay := h.calculateBackoff(b, cl)
		log.Printf("⚠️ %s: retriable failure (%s), attempt %d/%d, backing off %s: %v",
			name, cl.Category, attempt+1, cfg.MaxRetries, delay, err)
		time.Sleep(delay)
	}
	return fmt.Errorf("%s: exhausted retries: %w", name, lastErr)
}

// ExecuteWithBreaker wraps Execute with a named circuit breaker, mirroring
// execute_with_breaker(): the breaker gates entry, and a subset of
// classified failures (ignored_categories) are recorded as SUCCESS on the
// breaker rather than FAILURE, since they indicate the connection itself is
// healthy (auth/validation errors are "proof of life").
func (h *ErrorHandler) ExecuteWithBreaker(breakerName string, fn func() error, cfg RetryConfig) error {
	cb := h.Breaker(breakerName)

	h.mu.Lock()
	shutdown := h.shutdownMode
	h.mu.Unlock()
	if !shutdown {
		if err := cb.CheckAvailability(); err != nil {
			return err
		}
	}

	b := newBackoff(cfg)
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			cb.RecordSuccess()
			return nil
		}
		lastErr = err
		cl := h.classifier.Classify(err.Error())

		if IgnoredBreakerCategories[cl.Category] {
			cb.RecordSuccess()
			return err
		}
		if !cl.Retriable() {
			cb.RecordFailure()
			return err
		}

		cb.RecordFailure()
		var openErr *OpenError
		if errors.As(err, &openErr) {
			return err
		}
		if attempt == cfg.MaxRetries {
			break
		}
		delay := h.calculateBackoff(b, cl)
		log.Printf("⚠️ %s[%s]: retriable failure (%s), attempt %d/%d, backing off %s: %v",
			breakerName, cb.name, cl.Category, attempt+1, cfg.MaxRetries, delay, err)
		time.Sleep(delay)
	}
	return fmt.Errorf("%s: exhausted retries: %w", breakerName, lastErr)
}

// newBackoff builds the jpillora/backoff generator for one Execute/
// ExecuteWithBreaker call, the same library internal/streammgr uses for
// its reconnect-loop backoff, so the two concerns share one computation.
func newBackoff(cfg RetryConfig) *backoff.Backoff {
	return &backoff.Backoff{
		Min:    cfg.BackoffBase,
		Max:    cfg.BackoffMax,
		Factor: cfg.BackoffFactor,
		Jitter: cfg.Jitter,
	}
}

// calculateBackoff mirrors _calculate_backoff(): base * factor^attempt,
// capped at backoff_max, via jpillora/backoff's Duration() (with jitter, a
// uniform draw between base and that value). A
// message-supplied RetryDelay (e.g. from a rate-limit or breaker error)
// takes precedence.
func (h *ErrorHandler) calculateBackoff(b *backoff.Backoff, cl Classification) time.Duration {
	if cl.RetryDelay > 0 {
		return cl.RetryDelay
	}
	return b.Duration()
}
