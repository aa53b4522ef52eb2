package llm

import (
	"context"
	"strings"
	"time"
)

type mockGenerator struct {
	delay time.Duration
}

// NewMockGenerator returns a backend that answers with a short SSML script
// built from the user prompt, without calling any service.
func NewMockGenerator() Generator { return &mockGenerator{delay: 20 * time.Millisecond} }

func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.delay):
	}
	prompt := strings.TrimSpace(UserPrompt(req))
	if prompt == "" {
		prompt = "this moment"
	}
	content := `<speak><prosody rate="x-slow">Notice how you feel about ` + prompt +
		`. <break time="3s"/> Breathe in. <break time="3s"/> Breathe out. <break time="3s"/></prosody></speak>`
	return consumer(Chunk{
		SessionID: req.SessionID,
		Content:   content,
		Partial:   false,
		Latency:   m.delay,
		TraceID:   req.TraceID,
	})
}
