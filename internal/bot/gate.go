package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zulandar/fortysix/internal/completion"
	"github.com/zulandar/fortysix/internal/conversation"
	"github.com/zulandar/fortysix/internal/metrics"
)

// Policy controls which non-command messages reach the completion API.
type Policy struct {
	InGroups      bool
	InDirect      bool
	SelfOnly      bool // direct chats: only the bot's own number may ask
	PrefixEnabled bool
	Prefix        string
}

// GateInput is what Evaluate looks at for one message.
type GateInput struct {
	IsGroup    bool
	SelfSender bool
	Text       string
}

// Verdict is the outcome of Evaluate.
type Verdict int

const (
	// Deny drops the message without a reply.
	Deny Verdict = iota
	// Allow forwards Decision.Query to the completion API.
	Allow
	// PromptForContent replies asking for a question: the query prefix was
	// present but nothing followed it.
	PromptForContent
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case PromptForContent:
		return "prompt"
	default:
		return "deny"
	}
}

// Decision is a Verdict plus the query text to send on Allow.
type Decision struct {
	Verdict Verdict
	Query   string
}

// Evaluate applies p to in. Rules run in a fixed order and the first deny
// wins: group switch, direct switch, self-only, then query prefix.
func Evaluate(p Policy, in GateInput) Decision {
	if in.IsGroup && !p.InGroups {
		return Decision{Verdict: Deny}
	}
	if !in.IsGroup && !p.InDirect {
		return Decision{Verdict: Deny}
	}
	if !in.IsGroup && p.SelfOnly && !in.SelfSender {
		return Decision{Verdict: Deny}
	}
	query := in.Text
	if p.PrefixEnabled {
		if !strings.HasPrefix(query, p.Prefix) {
			return Decision{Verdict: Deny}
		}
		query = strings.TrimSpace(query[len(p.Prefix):])
		if query == "" {
			return Decision{Verdict: PromptForContent}
		}
	}
	return Decision{Verdict: Allow, Query: query}
}

// Gate forwards allowed messages to the completion API and keeps the
// per-identity conversation history.
type Gate struct {
	policy       Policy
	client       completion.Client
	sessions     *conversation.Manager
	systemPrompt string
	model        string
	self         func() string
	metrics      *metrics.Metrics
	log          *zap.Logger
}

// GateOpts holds parameters for creating a Gate.
type GateOpts struct {
	Policy       Policy
	Client       completion.Client
	Sessions     *conversation.Manager
	SystemPrompt string
	Model        string
	// Self returns the bot's own normalized address, or "" before the first
	// open. Needed for Policy.SelfOnly.
	Self    func() string
	Metrics *metrics.Metrics // optional
	Logger  *zap.Logger
}

// NewGate creates a Gate.
func NewGate(opts GateOpts) (*Gate, error) {
	if opts.Client == nil {
		return nil, errorf("gate: completion client is required")
	}
	if opts.Sessions == nil {
		return nil, errorf("gate: session manager is required")
	}
	if opts.Policy.PrefixEnabled && opts.Policy.Prefix == "" {
		return nil, errorf("gate: query prefix is required when prefix discipline is enabled")
	}
	self := opts.Self
	if self == nil {
		self = func() string { return "" }
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{
		policy:       opts.Policy,
		client:       opts.Client,
		sessions:     opts.Sessions,
		systemPrompt: opts.SystemPrompt,
		model:        opts.Model,
		self:         self,
		metrics:      opts.Metrics,
		log:          log.Named("gate"),
	}, nil
}

// Policy returns the gate's policy.
func (g *Gate) Policy() Policy { return g.policy }

// Handle evaluates text from env and, if allowed, answers it. Completion
// failures become a categorized reply and leave the session untouched.
func (g *Gate) Handle(ctx context.Context, s Sender, env Envelope, text string) {
	self := g.self()
	d := Evaluate(g.policy, GateInput{
		IsGroup:    env.IsGroup(),
		SelfSender: self != "" && NormalizeUser(env.Sender()) == self,
		Text:       text,
	})

	switch d.Verdict {
	case Deny:
		g.metrics.MessageRouted("denied")
		return
	case PromptForContent:
		g.metrics.MessageRouted("prompt")
		reply(ctx, s, env, fmt.Sprintf(replyNeedQuestion, g.policy.Prefix, g.policy.Prefix), g.log)
		return
	}
	g.metrics.MessageRouted("ai")

	var pauseOnce sync.Once
	pause := func() {
		pauseOnce.Do(func() {
			defer func() { _ = recover() }()
			if err := s.SendPresence(ctx, env.Chat, PresencePaused); err != nil {
				g.log.Debug("presence paused", zap.Error(err))
			}
		})
	}
	defer func() {
		if p := recover(); p != nil {
			pause()
			g.log.Error("gate panicked", zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
			g.metrics.HandlerPanic()
			reply(ctx, s, env, replyAIGeneric, g.log)
		}
	}()

	if err := s.SendPresence(ctx, env.Chat, PresenceComposing); err != nil {
		g.log.Debug("presence composing", zap.Error(err))
	}

	key := env.SessionKey()
	user := conversation.UserTurn(d.Query)
	turns := append(g.sessions.GetOrCreate(key), user)

	start := time.Now()
	answer, err := g.client.Complete(ctx, completion.Request{
		SystemPrompt: g.systemPrompt,
		Turns:        turns,
		Model:        g.model,
	})
	pause()

	if err != nil {
		kind := completion.KindOf(err)
		g.metrics.CompletionDone(string(kind), time.Since(start))
		g.log.Warn("completion failed",
			zap.String("session", key),
			zap.String("kind", string(kind)),
			zap.Error(err))
		reply(ctx, s, env, failureReply(kind), g.log)
		return
	}
	g.metrics.CompletionDone("ok", time.Since(start))

	if err := g.sessions.Append(key, user, conversation.AssistantTurn(answer)); err != nil {
		g.log.Error("append session", zap.String("session", key), zap.Error(err))
	}
	reply(ctx, s, env, answer, g.log)
	g.log.Info("ai reply sent",
		zap.String("session", key),
		zap.Bool("group", env.IsGroup()),
		zap.Duration("elapsed", time.Since(start)))
}

// failureReply maps a completion error kind to the user-facing reply.
func failureReply(k completion.Kind) string {
	switch k {
	case completion.KindService:
		return replyAIService
	case completion.KindRateLimited:
		return replyAIRateLimited
	case completion.KindTimeout:
		return replyAITimeout
	default:
		return replyAIGeneric
	}
}
