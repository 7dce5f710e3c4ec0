package bot

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/zulandar/fortysix/internal/completion"
	"github.com/zulandar/fortysix/internal/conversation"
)

// CommandContext is passed to a command's Run function.
type CommandContext struct {
	Ctx  context.Context
	Env  Envelope
	Args []string
	// Send delivers an intermediate message to the caller's chat before the
	// final reply.
	Send func(text string) error
}

// Command is one chat command.
type Command struct {
	Name        string
	Description string
	Run         func(cc *CommandContext) (string, error)
}

// StatusProvider reports runtime state for the stats and session commands.
type StatusProvider interface {
	ConnectionState() State
	SessionLabel() string
	CredentialsSaved() bool
}

// BotInfo is static information rendered by about/config/session.
type BotInfo struct {
	Name    string
	Version string
	Model   string
	Phone   string
}

// CommandHandler executes commands and replies through the caller's socket.
// Commands run only from the router; none of them block on the network
// except ping, which waits for its probe message to be acknowledged.
type CommandHandler struct {
	prefix   string
	info     BotInfo
	policy   Policy
	sessions *conversation.Manager
	status   StatusProvider
	models   completion.ModelLister
	started  time.Time
	commands map[string]Command
	log      *zap.Logger
}

// CommandHandlerOpts holds parameters for creating a CommandHandler.
type CommandHandlerOpts struct {
	Prefix   string
	Info     BotInfo
	Policy   Policy
	Sessions *conversation.Manager
	Status   StatusProvider         // optional
	Models   completion.ModelLister // optional
	Started  time.Time              // defaults to now
	Logger   *zap.Logger
}

// NewCommandHandler creates a CommandHandler with the built-in commands.
func NewCommandHandler(opts CommandHandlerOpts) (*CommandHandler, error) {
	if opts.Prefix == "" {
		return nil, errorf("command handler: prefix is required")
	}
	if opts.Sessions == nil {
		return nil, errorf("command handler: session manager is required")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	started := opts.Started
	if started.IsZero() {
		started = time.Now()
	}
	ch := &CommandHandler{
		prefix:   opts.Prefix,
		info:     opts.Info,
		policy:   opts.Policy,
		sessions: opts.Sessions,
		status:   opts.Status,
		models:   opts.Models,
		started:  started,
		commands: make(map[string]Command),
		log:      log.Named("commands"),
	}
	for _, c := range ch.builtins() {
		ch.Register(c)
	}
	return ch, nil
}

// Register adds or replaces a command. Names are matched case-insensitively.
func (ch *CommandHandler) Register(c Command) {
	c.Name = strings.ToLower(c.Name)
	ch.commands[c.Name] = c
}

// Names returns the registered command names, sorted.
func (ch *CommandHandler) Names() []string {
	names := make([]string, 0, len(ch.commands))
	for n := range ch.commands {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Execute runs inv and sends its reply. Errors and panics inside a command
// become a generic failure reply.
func (ch *CommandHandler) Execute(ctx context.Context, s Sender, env Envelope, inv Invocation) {
	ch.log.Debug("command", zap.String("keyword", inv.Keyword), zap.Strings("args", inv.Args))
	text := ch.run(ctx, s, env, inv)
	if text != "" {
		reply(ctx, s, env, text, ch.log)
	}
}

func (ch *CommandHandler) run(ctx context.Context, s Sender, env Envelope, inv Invocation) (text string) {
	defer func() {
		if p := recover(); p != nil {
			ch.log.Error("command panicked",
				zap.String("keyword", inv.Keyword),
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()))
			text = replyCommandFailed
		}
	}()

	cmd, ok := ch.commands[inv.Keyword]
	if !ok {
		return fmt.Sprintf("❓ Unknown command: %s%s\n\nTry %shelp for available commands.", ch.prefix, inv.Keyword, ch.prefix)
	}
	out, err := cmd.Run(&CommandContext{
		Ctx:  ctx,
		Env:  env,
		Args: inv.Args,
		Send: func(text string) error {
			return s.SendText(ctx, env.Chat, text, env.ID)
		},
	})
	if err != nil {
		ch.log.Warn("command failed", zap.String("keyword", inv.Keyword), zap.Error(err))
		return replyCommandFailed
	}
	return out
}

func (ch *CommandHandler) builtins() []Command {
	return []Command{
		{Name: "help", Description: "Show this help", Run: ch.cmdHelp},
		{Name: "ping", Description: "Measure response time", Run: ch.cmdPing},
		{Name: "clear", Description: "Clear your AI chat history", Run: ch.cmdClear},
		{Name: "config", Description: "Show current configuration", Run: ch.cmdConfig},
		{Name: "stats", Description: "Sessions, uptime and memory", Run: ch.cmdStats},
		{Name: "about", Description: "About this bot", Run: ch.cmdAbout},
		{Name: "session", Description: "Linked-device session info", Run: ch.cmdSession},
		{Name: "models", Description: "List available AI models", Run: ch.cmdModels},
	}
}

func (ch *CommandHandler) cmdHelp(cc *CommandContext) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "📚 *%s*\n\n*Commands:*\n", ch.info.Name)
	for _, n := range ch.Names() {
		fmt.Fprintf(&b, "%s%s - %s\n", ch.prefix, n, ch.commands[n].Description)
	}
	b.WriteString("\n*AI Chat:*\n")
	if ch.policy.PrefixEnabled {
		fmt.Fprintf(&b, "Start your message with %s, e.g. %sWhat is 2+2?", ch.policy.Prefix, ch.policy.Prefix)
	} else {
		fmt.Fprintf(&b, "Just send any message (without %s) and I'll answer.", ch.prefix)
	}
	return b.String(), nil
}

// cmdPing sends a probe and reports the time until the transport
// acknowledged it.
func (ch *CommandHandler) cmdPing(cc *CommandContext) (string, error) {
	start := time.Now()
	if err := cc.Send("🏓 Pong!"); err != nil {
		return "", err
	}
	rtt := time.Since(start)
	return fmt.Sprintf("_Response time: %dms_", rtt.Milliseconds()), nil
}

func (ch *CommandHandler) cmdClear(cc *CommandContext) (string, error) {
	if ch.sessions.Clear(cc.Env.SessionKey()) {
		return "✨ Chat history cleared!\n\n_Starting fresh conversation..._", nil
	}
	return "ℹ️ No chat history to clear.", nil
}

func (ch *CommandHandler) cmdConfig(cc *CommandContext) (string, error) {
	queries := "Not required"
	if ch.policy.PrefixEnabled {
		queries = ch.policy.Prefix
	}
	var b strings.Builder
	b.WriteString("⚙️ *Current Configuration*\n\n")
	b.WriteString("*Prefixes:*\n")
	fmt.Fprintf(&b, "• Commands: %s\n", ch.prefix)
	fmt.Fprintf(&b, "• Queries: %s\n\n", queries)
	b.WriteString("*AI Settings:*\n")
	fmt.Fprintf(&b, "• Model: %s\n", ch.info.Model)
	fmt.Fprintf(&b, "• Groups: %s\n", onOff(ch.policy.InGroups))
	fmt.Fprintf(&b, "• DMs: %s\n", onOff(ch.policy.InDirect))
	fmt.Fprintf(&b, "• Self Only: %s\n", onOff(ch.policy.SelfOnly))
	fmt.Fprintf(&b, "• History: %d exchanges", ch.sessions.MaxExchanges())
	return b.String(), nil
}

func (ch *CommandHandler) cmdStats(cc *CommandContext) (string, error) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	var b strings.Builder
	b.WriteString("📊 *Stats*\n\n")
	fmt.Fprintf(&b, "• Active sessions: %d\n", ch.sessions.Count())
	fmt.Fprintf(&b, "• Uptime: %s (since %s)\n", formatUptime(time.Since(ch.started)), humanize.Time(ch.started))
	fmt.Fprintf(&b, "• Memory: %s heap / %s sys\n", humanize.Bytes(mem.HeapAlloc), humanize.Bytes(mem.Sys))
	fmt.Fprintf(&b, "• Goroutines: %s", humanize.Comma(int64(runtime.NumGoroutine())))
	if ch.status != nil {
		fmt.Fprintf(&b, "\n• Connection: %s", ch.status.ConnectionState())
	}
	return b.String(), nil
}

func (ch *CommandHandler) cmdAbout(cc *CommandContext) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "🤖 *%s*\n\n", ch.info.Name)
	fmt.Fprintf(&b, "*Version:* %s\n", ch.info.Version)
	fmt.Fprintf(&b, "*AI Model:* %s\n\n", ch.info.Model)
	b.WriteString("*Features:*\n")
	b.WriteString("✅ AI-powered conversations\n")
	b.WriteString("✅ Command system\n")
	b.WriteString("✅ Pairing code connection\n")
	b.WriteString("✅ Session management")
	return b.String(), nil
}

func (ch *CommandHandler) cmdSession(cc *CommandContext) (string, error) {
	var b strings.Builder
	b.WriteString("🔐 *Session Status*\n\n")
	if ch.status == nil || !ch.status.CredentialsSaved() {
		b.WriteString("❌ No saved session found")
		return b.String(), nil
	}
	label := ch.status.SessionLabel()
	if label == "" {
		label = "N/A"
	}
	b.WriteString("✅ Session Active\n")
	fmt.Fprintf(&b, "🔑 ID: %s\n", label)
	fmt.Fprintf(&b, "📱 Phone: %s\n", orNA(ch.info.Phone))
	fmt.Fprintf(&b, "🔌 Connection: %s", ch.status.ConnectionState())
	return b.String(), nil
}

func (ch *CommandHandler) cmdModels(cc *CommandContext) (string, error) {
	var models []string
	if ch.models != nil {
		models = ch.models.Models()
	}
	if len(models) == 0 {
		return fmt.Sprintf("🤖 Current model: %s", ch.info.Model), nil
	}
	var b strings.Builder
	b.WriteString("🤖 *Available AI Models:*\n\n")
	for i, m := range models {
		fmt.Fprintf(&b, "%d. %s\n", i+1, m)
	}
	fmt.Fprintf(&b, "\n📌 Current: %s", ch.info.Model)
	return b.String(), nil
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
