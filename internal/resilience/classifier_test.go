package resilience

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifier_VendorCodes(t *testing.T) {
	c := NewClassifier()

	cl := c.Classify("APIError(code=-1015): Too many requests")
	assert.Equal(t, CategoryRateLimit, cl.Category)
	assert.True(t, cl.Retriable())

	cl = c.Classify("APIError(code=-2015): Invalid API-key")
	assert.Equal(t, CategoryAuthentication, cl.Category)
	assert.False(t, cl.Retriable())

	cl = c.Classify("APIError(code=-2019): Margin is insufficient")
	assert.Equal(t, CategoryInsufficientFund, cl.Category)
	assert.False(t, cl.Retriable())

	cl = c.Classify("APIError(code=-1021): Timestamp outside recvWindow")
	assert.Equal(t, CategoryTemporary, cl.Category)
	assert.True(t, cl.Retriable())
}

func TestClassifier_BreakerErrorIsRetriableWithDelay(t *testing.T) {
	c := NewClassifier()
	cl := c.Classify(`circuit breaker "exchange_orders" is open, retry after 12.5s`)
	assert.Equal(t, CategoryTemporary, cl.Category)
	assert.True(t, cl.Retriable())
	assert.InDelta(t, 12.5, cl.RetryDelay.Seconds(), 0.01)
}

func TestClassifier_NetworkAndTimeoutWords(t *testing.T) {
	c := NewClassifier()
	assert.Equal(t, CategoryNetwork, c.Classify("connection reset by peer").Category)
	assert.Equal(t, CategoryTimeout, c.Classify("context deadline exceeded").Category)
	assert.Equal(t, CategoryServerError, c.Classify("502 bad gateway").Category)
}

func TestClassifier_AuthAndValidationWords(t *testing.T) {
	c := NewClassifier()
	assert.Equal(t, CategoryAuthentication, c.Classify("invalid api key provided").Category)
	assert.Equal(t, CategoryAuthorization, c.Classify("403 forbidden").Category)
	assert.Equal(t, CategoryInvalidSymbol, c.Classify("invalid symbol FOOUSDT").Category)
	assert.Equal(t, CategoryInvalidOrder, c.Classify("order invalid: bad quantity").Category)
	assert.Equal(t, CategoryInsufficientFund, c.Classify("insufficient balance for this trade").Category)
}

func TestClassifier_GracefulShutdownMatchesSpecWording(t *testing.T) {
	c := NewClassifier()
	cl := c.Classify("connection to remote host lost")
	assert.Equal(t, CategoryGracefulShutdown, cl.Category)
	assert.False(t, cl.Retriable())
}

func TestClassifier_UnknownFallsBackToFail(t *testing.T) {
	c := NewClassifier()
	cl := c.Classify("something unexpected happened")
	assert.Equal(t, CategoryUnknown, cl.Category)
	assert.False(t, cl.Retriable())
}
