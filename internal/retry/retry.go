// Package retry implements the bounded exponential backoff policy used for every remote call.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bull/docs-rag/internal/domain"
)

// Class is the retry category of a failed attempt.
type Class int

const (
	// Transient failures (timeouts, 5xx, connection resets) get a small number of retries.
	Transient Class = iota
	// Throttled failures (HTTP 429 and equivalents) get a larger budget.
	Throttled
	// Permanent failures are returned immediately.
	Permanent
)

func (c Class) String() string {
	switch c {
	case Throttled:
		return "throttled"
	case Permanent:
		return "permanent"
	default:
		return "transient"
	}
}

var (
	// ErrThrottled marks an error as a throttling response from a remote service.
	ErrThrottled = errors.New("throttled by remote service")

	// ErrPermanent marks an error as non-retryable.
	ErrPermanent = errors.New("permanent remote failure")
)

// Classify maps an error to its retry class. Errors wrapping ErrThrottled are throttled;
// errors wrapping ErrPermanent or domain.ErrInvalidInput are permanent; anything else is transient.
func Classify(err error) Class {
	switch {
	case errors.Is(err, ErrThrottled):
		return Throttled
	case errors.Is(err, ErrPermanent), errors.Is(err, domain.ErrInvalidInput):
		return Permanent
	default:
		return Transient
	}
}

// MarkStatus tags err with the retry class implied by an HTTP status code.
// 429 is throttling, other 4xx except 408 and 409 are permanent, the rest transient.
func MarkStatus(status int, err error) error {
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", ErrThrottled, err)
	case status == http.StatusRequestTimeout, status == http.StatusConflict:
		return err
	case status >= 400 && status < 500:
		return fmt.Errorf("%w: %w", ErrPermanent, err)
	default:
		return err
	}
}

// Delay returns the un-jittered wait before retry number attempt (1-based):
// min(maxDelay, base * 2^(attempt-1)). A non-positive maxDelay means no ceiling.
func Delay(attempt int, base, maxDelay time.Duration) time.Duration {
	if attempt < 1 || base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempt; i++ {
		if maxDelay > 0 && d >= maxDelay/2 {
			return maxDelay
		}
		if d > math.MaxInt64/2 {
			return d
		}
		d *= 2
	}
	if maxDelay > 0 && d > maxDelay {
		return maxDelay
	}
	return d
}

// Jittered spreads d over [d/2, d] using r in [0, 1).
func Jittered(d time.Duration, r float64) time.Duration {
	if r < 0 {
		r = 0
	}
	if r > 1 {
		r = 1
	}
	half := d / 2
	return half + time.Duration(r*float64(d-half))
}

// Backoff is a backoff.BackOff producing jittered Delay values.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
	Rand func() float64 // Defaults to math/rand/v2 Float64

	attempt int
}

// NextBackOff implements backoff.BackOff. It never returns backoff.Stop;
// attempt limits are enforced by Do.
func (b *Backoff) NextBackOff() time.Duration {
	b.attempt++
	r := rand.Float64
	if b.Rand != nil {
		r = b.Rand
	}
	return Jittered(Delay(b.attempt, b.Base, b.Cap), r())
}

// Reset implements backoff.BackOff.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Policy bounds retries per failure class.
type Policy struct {
	Base              time.Duration
	Cap               time.Duration
	ThrottleAttempts  int // Total attempts allowed while throttled
	TransientAttempts int // Total attempts allowed on transient failures
	Rand              func() float64
	Classify          func(error) Class // Defaults to Classify
}

// ExhaustedError is returned when an operation stops being retried.
// It unwraps to the last attempt's error.
type ExhaustedError struct {
	Class    Class
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failure after %d attempt(s): %v", e.Class, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Notify is called before each wait with the failed attempt number and its class.
type Notify func(err error, class Class, attempt int, wait time.Duration)

// Do runs op until it succeeds, its failure class runs out of attempts, or ctx is done.
// It returns the number of attempts made. Failures are reported as *ExhaustedError,
// except cancellation which returns the context error.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error, notify Notify) (int, error) {
	classify := p.Classify
	if classify == nil {
		classify = Classify
	}
	limits := map[Class]int{
		Throttled: max(p.ThrottleAttempts, 1),
		Transient: max(p.TransientAttempts, 1),
		Permanent: 1,
	}
	counts := map[Class]int{}
	attempts := 0
	lastClass := Transient

	operation := func() error {
		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		lastClass = classify(err)
		counts[lastClass]++
		if counts[lastClass] >= limits[lastClass] {
			return backoff.Permanent(&ExhaustedError{Class: lastClass, Attempts: attempts, Err: err})
		}
		return err
	}

	var onRetry backoff.Notify
	if notify != nil {
		onRetry = func(err error, wait time.Duration) {
			notify(err, lastClass, attempts, wait)
		}
	}

	b := &Backoff{Base: p.Base, Cap: p.Cap, Rand: p.Rand}
	err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), onRetry)
	return attempts, err
}
