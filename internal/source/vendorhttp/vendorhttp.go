// Package vendorhttp is the shared HTTP plumbing for vendor API clients:
// explicit timeouts, status handling, and a circuit breaker so a flapping
// vendor does not burn the whole cron budget on every run.
package vendorhttp

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen wraps breaker rejections so callers can tell "vendor is
// known-bad" apart from a fresh failure.
var ErrCircuitOpen = errors.New("circuit breaker open")

// NewBreaker creates a circuit breaker named after the vendor with settings
// suited to a low-frequency batch caller.
func NewBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
	})
}

// Get executes the request through the breaker and returns the response body
// on a 2xx status. Every other outcome is an error carrying the vendor name.
func Get(client *http.Client, cb *gobreaker.CircuitBreaker, req *http.Request) ([]byte, error) {
	result, err := cb.Execute(func() (any, error) {
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			// Drain so the connection can be reused.
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, cb.Name())
		}
		return nil, fmt.Errorf("%s: %w", cb.Name(), err)
	}
	return result.([]byte), nil
}
