package completion

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/zulandar/fortysix/internal/conversation"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		desc string
		want Kind
	}{
		{"Rate limit reached for model", KindRateLimited},
		{"HTTP 429", KindRateLimited},
		{"request timed out", KindTimeout},
		{"invalid API key", KindService},
		{"service unavailable", KindService},
		{"something odd", KindGeneric},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.desc), tt.desc)
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindTimeout, KindOf(fmt.Errorf("wrap: %w", context.DeadlineExceeded)))
	assert.Equal(t, KindRateLimited, KindOf(fmt.Errorf("wrap: %w", &Error{Kind: KindRateLimited, Err: errors.New("x")})))
	assert.Equal(t, KindGeneric, KindOf(errors.New("boom")))
}

// stubClient records calls and replies with a fixed answer.
type stubClient struct {
	calls int
}

func (s *stubClient) Complete(ctx context.Context, req Request) (string, error) {
	s.calls++
	return "ok", nil
}

func TestLimited_ZeroDisables(t *testing.T) {
	inner := &stubClient{}
	assert.Same(t, inner, NewLimited(inner, 0))
}

func TestLimited_BudgetExhausted(t *testing.T) {
	inner := &stubClient{}
	c := NewLimited(inner, 1)

	_, err := c.Complete(context.Background(), Request{})
	require.NoError(t, err)

	// The next token is a minute away, beyond the wait bound, so even a
	// context without a deadline is rejected right away.
	start := time.Now()
	_, err = c.Complete(context.Background(), Request{})
	require.Error(t, err)
	assert.Equal(t, KindRateLimited, KindOf(err))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, inner.calls)
}

func TestLimited_ShortWaitThenForwards(t *testing.T) {
	inner := &stubClient{}
	c := &Limited{
		next:    inner,
		limiter: rate.NewLimiter(rate.Every(50*time.Millisecond), 1),
		maxWait: time.Second,
	}

	for i := 0; i < 2; i++ {
		_, err := c.Complete(context.Background(), Request{})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, inner.calls)
}

func TestLimited_CancelledWhileWaiting(t *testing.T) {
	inner := &stubClient{}
	c := &Limited{
		next:    inner,
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		maxWait: 5 * time.Second,
	}
	_, err := c.Complete(context.Background(), Request{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Complete(ctx, Request{})
	require.Error(t, err)
	assert.Equal(t, KindRateLimited, KindOf(err))
	assert.Equal(t, 1, inner.calls)
}

type fakeGenerator struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
	resp     *genai.GenerateContentResponse
	err      error
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.contents = contents
	f.config = config
	return f.resp, f.err
}

func TestGemini_Complete(t *testing.T) {
	gen := &fakeGenerator{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText("4", genai.RoleModel)}},
	}}
	c, err := NewGeminiClient(context.Background(), GeminiConfig{Generator: gen, Temperature: 0.7})
	require.NoError(t, err)

	text, err := c.Complete(context.Background(), Request{
		SystemPrompt: "be brief",
		Turns: []conversation.Turn{
			conversation.UserTurn("hi"),
			conversation.AssistantTurn("hello"),
			conversation.UserTurn("What is 2+2?"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "4", text)
	assert.Equal(t, geminiModels[0], gen.model)
	require.Len(t, gen.contents, 3)
	assert.Equal(t, string(genai.RoleModel), gen.contents[1].Role)
	require.NotNil(t, gen.config.SystemInstruction)
}

func TestGemini_APIErrorKind(t *testing.T) {
	gen := &fakeGenerator{err: genai.APIError{Code: 429, Message: "quota"}}
	c, err := NewGeminiClient(context.Background(), GeminiConfig{Generator: gen})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), Request{Turns: []conversation.Turn{conversation.UserTurn("x")}})
	require.Error(t, err)
	assert.Equal(t, KindRateLimited, KindOf(err))
}
