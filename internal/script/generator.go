// Package script turns a user prompt into a meditation script by sending it,
// together with a fixed list of directives, to a chat-completion backend.
package script

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-meditation/internal/llm"
)

// ErrEmptyScript is returned when the backend answers without any content.
var ErrEmptyScript = errors.New("generation returned no content")

// Options tune the generation request.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// Generator produces scripts. The backend reply is returned verbatim; markup
// is never validated here.
type Generator struct {
	backend    llm.Generator
	directives []Directive
	opts       Options
}

func NewGenerator(backend llm.Generator, directives []Directive, opts Options) (*Generator, error) {
	if backend == nil {
		return nil, errors.New("llm backend is required")
	}
	return &Generator{
		backend:    backend,
		directives: append([]Directive(nil), directives...),
		opts:       opts,
	}, nil
}

// Directives returns a copy of the configured directive list.
func (g *Generator) Directives() []Directive {
	return append([]Directive(nil), g.directives...)
}

// Request builds the chat request for prompt: the user message first, then
// one system message per directive.
func (g *Generator) Request(prompt, sessionID, traceID string) llm.Request {
	msgs := make([]llm.Message, 0, len(g.directives)+1)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: prompt})
	for _, d := range g.directives {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: d.Content})
	}
	return llm.Request{
		SessionID:   sessionID,
		Model:       g.opts.Model,
		Messages:    msgs,
		MaxTokens:   g.opts.MaxTokens,
		Temperature: g.opts.Temperature,
		TraceID:     traceID,
	}
}

// Generate sends prompt to the backend and returns the full reply.
func (g *Generator) Generate(ctx context.Context, sessionID, traceID, prompt string) (string, error) {
	var sb strings.Builder
	err := g.backend.Generate(ctx, g.Request(prompt, sessionID, traceID), func(chunk llm.Chunk) error {
		sb.WriteString(chunk.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("generate script: %w", err)
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", ErrEmptyScript
	}
	return sb.String(), nil
}
