package bot

import (
	"context"
	"runtime/debug"
	"strings"

	"go.uber.org/zap"

	"github.com/zulandar/fortysix/internal/metrics"
)

// Invocation is a parsed command.
type Invocation struct {
	Keyword string
	Args    []string
}

// ParseCommand reports whether text is a command under prefix. A command
// starts with the exact prefix and has a non-blank remainder; the keyword is
// the first field of the remainder, lowercased, and Args the rest.
func ParseCommand(text, prefix string) (Invocation, bool) {
	if prefix == "" || !strings.HasPrefix(text, prefix) {
		return Invocation{}, false
	}
	fields := strings.Fields(text[len(prefix):])
	if len(fields) == 0 {
		return Invocation{}, false
	}
	return Invocation{
		Keyword: strings.ToLower(fields[0]),
		Args:    fields[1:],
	}, true
}

// Router classifies inbound messages: commands go to the CommandHandler,
// everything else to the Gate. It never lets a panic escape.
type Router struct {
	prefix   string
	commands *CommandHandler
	gate     *Gate
	metrics  *metrics.Metrics
	log      *zap.Logger
}

// RouterOpts holds parameters for creating a Router.
type RouterOpts struct {
	Prefix   string
	Commands *CommandHandler
	Gate     *Gate
	Metrics  *metrics.Metrics // optional
	Logger   *zap.Logger
}

// NewRouter creates a Router.
func NewRouter(opts RouterOpts) (*Router, error) {
	if opts.Prefix == "" {
		return nil, errorf("router: command prefix is required")
	}
	if opts.Commands == nil {
		return nil, errorf("router: command handler is required")
	}
	if opts.Gate == nil {
		return nil, errorf("router: gate is required")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{
		prefix:   opts.Prefix,
		commands: opts.Commands,
		gate:     opts.Gate,
		metrics:  opts.Metrics,
		log:      log.Named("router"),
	}, nil
}

// Handle processes one inbound message to completion, replying through s.
//  1. Own messages and blank bodies → ignore
//  2. Command prefix → command handler
//  3. Everything else → AI gate
func (r *Router) Handle(ctx context.Context, s Sender, env Envelope) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("message handler panicked",
				zap.Any("panic", p),
				zap.String("chat", env.Chat),
				zap.ByteString("stack", debug.Stack()))
			r.metrics.HandlerPanic()
			reply(ctx, s, env, replyCommandFailed, r.log)
		}
	}()

	if env.FromMe {
		return
	}
	text := strings.TrimSpace(env.Text)
	if text == "" {
		return
	}
	r.log.Debug("recv",
		zap.String("chat", env.Chat),
		zap.String("sender", env.Sender()),
		zap.Bool("group", env.IsGroup()),
		zap.String("text", truncate(text, 80)))

	if inv, ok := ParseCommand(text, r.prefix); ok {
		r.metrics.MessageRouted("command")
		r.commands.Execute(ctx, s, env, inv)
		return
	}
	r.gate.Handle(ctx, s, env, text)
}

// truncate returns s cut to at most maxLen bytes on a rune boundary, with
// "..." appended if anything was dropped.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:runeBoundary(s, maxLen)] + "..."
}
