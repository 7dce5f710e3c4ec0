package completion

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// DefaultMaxWait is the longest a request waits for a local token before it
// is rejected as rate limited.
const DefaultMaxWait = 10 * time.Second

// Limited throttles calls to an underlying Client. A request that would wait
// longer than maxWait for a token, or whose context ends first, receives a
// KindRateLimited error without ever reaching the API.
type Limited struct {
	next    Client
	limiter *rate.Limiter
	maxWait time.Duration
}

// NewLimited wraps next with a limiter allowing perMinute requests per minute
// and a burst of the same size. perMinute <= 0 returns next unchanged.
func NewLimited(next Client, perMinute int) Client {
	if perMinute <= 0 {
		return next
	}
	every := time.Minute / time.Duration(perMinute)
	return &Limited{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(every), perMinute),
		maxWait: DefaultMaxWait,
	}
}

// Complete waits up to maxWait for a token and forwards the request.
func (l *Limited) Complete(ctx context.Context, req Request) (string, error) {
	r := l.limiter.Reserve()
	if !r.OK() {
		return "", &Error{Kind: KindRateLimited, Err: fmt.Errorf("local request budget exhausted")}
	}
	delay := r.Delay()
	if delay > l.maxWait {
		r.Cancel()
		return "", &Error{Kind: KindRateLimited, Err: fmt.Errorf("local request budget exhausted: next slot in %s", delay.Round(time.Second))}
	}
	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			r.Cancel()
			return "", &Error{Kind: KindRateLimited, Err: fmt.Errorf("local request budget exhausted: %w", ctx.Err())}
		}
	}
	return l.next.Complete(ctx, req)
}

// Models forwards to the wrapped client when it lists models.
func (l *Limited) Models() []string {
	if ml, ok := l.next.(ModelLister); ok {
		return ml.Models()
	}
	return nil
}
