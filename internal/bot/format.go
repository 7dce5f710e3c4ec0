package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// MaxTextLen is the longest text sent in a single message.
const MaxTextLen = 4096

// Fixed replies.
const (
	replyCommandFailed = "❌ Command failed. Please try again."
	replyNeedQuestion  = "💭 Please add a question after %s, for example: %sWhat is the capital of France?"

	replyAIService     = "⚠️ The AI service is unavailable right now. Please try again later."
	replyAIRateLimited = "⏳ Too many requests. Please wait a moment and try again."
	replyAITimeout     = "⌛ The AI took too long to respond. Please try again."
	replyAIGeneric     = "❌ Sorry, I encountered an error processing your request."
)

func errorf(format string, args ...any) error {
	return fmt.Errorf("bot: "+format, args...)
}

// reply sends text to the chat of env, quoting env, split into chunks no
// longer than MaxTextLen. Failures are logged, not returned.
func reply(ctx context.Context, s Sender, env Envelope, text string, log *zap.Logger) {
	for _, chunk := range SplitMessage(text, MaxTextLen) {
		if err := s.SendText(ctx, env.Chat, chunk, env.ID); err != nil {
			log.Warn("send reply", zap.String("chat", env.Chat), zap.Error(err))
			return
		}
	}
}

// SplitMessage splits text into chunks of at most limit bytes, preferring
// newline boundaries, then spaces. Multi-byte runes are never split.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}
	var chunks []string
	for len(text) > limit {
		cut := strings.LastIndexByte(text[:limit], '\n')
		if cut <= 0 {
			cut = strings.LastIndexByte(text[:limit], ' ')
		}
		if cut <= 0 {
			cut = runeBoundary(text, limit)
		}
		chunks = append(chunks, strings.TrimRight(text[:cut], "\n "))
		text = strings.TrimLeft(text[cut:], "\n ")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// runeBoundary returns the largest index <= limit that starts a rune.
func runeBoundary(s string, limit int) int {
	i := limit
	for i > 0 && s[i]&0xC0 == 0x80 {
		i--
	}
	if i == 0 {
		return limit
	}
	return i
}

// onOff renders a policy flag.
func onOff(b bool) string {
	if b {
		return "✅ Enabled"
	}
	return "❌ Disabled"
}

// formatUptime renders d as "3d 4h 5m" with zero leading units dropped.
func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	mins := int(d / time.Minute)
	secs := int((d - time.Duration(mins)*time.Minute) / time.Second)

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, mins)
	case mins > 0:
		return fmt.Sprintf("%dm %ds", mins, secs)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}
