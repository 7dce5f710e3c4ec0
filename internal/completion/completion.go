// Package completion wraps hosted chat-completion APIs behind a single
// Client interface that reports failures as structured error kinds.
package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zulandar/fortysix/internal/conversation"
)

// Client produces an assistant reply for a conversation.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ModelLister is an optional interface for clients that can name the models
// they support.
type ModelLister interface {
	Models() []string
}

// Request is a single completion call: system preamble, prior turns and the
// new user turn (last element of Turns).
type Request struct {
	SystemPrompt string
	Turns        []conversation.Turn
	Model        string
}

// Kind classifies a completion failure into a user-facing category.
type Kind string

const (
	KindService     Kind = "service"
	KindRateLimited Kind = "rate_limited"
	KindTimeout     Kind = "timeout"
	KindGeneric     Kind = "generic"
)

// Error is the structured failure returned by every Client in this package.
type Error struct {
	Kind   Kind
	Status int // HTTP status when known
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("completion: %s (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("completion: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the failure category of err. Structured errors report their
// own kind; anything else goes through Classify.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return Classify(err.Error())
}

// Classify maps a free-form error description to a kind. It is only a
// fallback for collaborators that cannot return *Error.
func Classify(desc string) Kind {
	d := strings.ToLower(desc)
	switch {
	case strings.Contains(d, "rate limit"), strings.Contains(d, "429"), strings.Contains(d, "too many requests"):
		return KindRateLimited
	case strings.Contains(d, "timeout"), strings.Contains(d, "timed out"), strings.Contains(d, "deadline exceeded"):
		return KindTimeout
	case strings.Contains(d, "api key"), strings.Contains(d, "unauthorized"), strings.Contains(d, "service"),
		strings.Contains(d, "unavailable"), strings.Contains(d, "500"), strings.Contains(d, "502"), strings.Contains(d, "503"):
		return KindService
	default:
		return KindGeneric
	}
}

// kindForStatus maps an HTTP status code to a failure kind.
func kindForStatus(status int) Kind {
	switch {
	case status == 429:
		return KindRateLimited
	case status == 408 || status == 504:
		return KindTimeout
	case status == 401 || status == 403 || status >= 500:
		return KindService
	default:
		return KindGeneric
	}
}

// wrapTransportErr converts a network-level failure into an *Error.
func wrapTransportErr(ctx context.Context, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return &Error{Kind: KindTimeout, Err: err}
	}
	var te interface{ Timeout() bool }
	if errors.As(err, &te) && te.Timeout() {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindGeneric, Err: err}
}

// Provider names accepted by New.
const (
	ProviderGroq   = "groq"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)
