package script

import (
	"context"
	"errors"
	"testing"

	"github.com/loqalabs/loqa-meditation/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBackend struct {
	chunks []string
	err    error
	last   llm.Request
}

func (b *recordingBackend) Generate(_ context.Context, req llm.Request, consumer func(llm.Chunk) error) error {
	b.last = req
	if b.err != nil {
		return b.err
	}
	for i, c := range b.chunks {
		if err := consumer(llm.Chunk{Content: c, Partial: i < len(b.chunks)-1}); err != nil {
			return err
		}
	}
	return nil
}

func TestGenerateReturnsReplyVerbatim(t *testing.T) {
	backend := &recordingBackend{chunks: []string{"<speak>Breathe in. ", "<break time=\"3s\">", " Breathe out."}}
	g, err := NewGenerator(backend, DefaultDirectives(), Options{Model: "gpt-4o"})
	require.NoError(t, err)

	got, err := g.Generate(context.Background(), "s-1", "t-1", "I can't sleep")
	require.NoError(t, err)

	// unclosed markup passes straight through
	assert.Equal(t, "<speak>Breathe in. <break time=\"3s\"> Breathe out.", got)
}

func TestRequestOrdersUserThenDirectives(t *testing.T) {
	backend := &recordingBackend{chunks: []string{"ok"}}
	g, err := NewGenerator(backend, DefaultDirectives(), Options{Model: "gpt-4o", MaxTokens: 900})
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "s-1", "t-1", "stressed")
	require.NoError(t, err)

	msgs := backend.last.Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "stressed"}, msgs[0])
	assert.Equal(t, PersonaDirective.Content, msgs[1].Content)
	assert.Equal(t, SSMLFormatDirective.Content, msgs[2].Content)
	assert.Equal(t, LengthDirective.Content, msgs[3].Content)
	assert.Equal(t, "gpt-4o", backend.last.Model)
	assert.Equal(t, 900, backend.last.MaxTokens)
	assert.Equal(t, "s-1", backend.last.SessionID)
}

func TestDirectivesCanBeSwappedOrOmitted(t *testing.T) {
	directives := DefaultDirectives()
	directives = Replace(directives, Directive{Name: SSMLFormatDirective.Name, Content: "Plain please."})
	directives = Without(directives, LengthDirective.Name)

	g, err := NewGenerator(&recordingBackend{chunks: []string{"ok"}}, directives, Options{})
	require.NoError(t, err)

	req := g.Request("hi", "", "")
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "Plain please.", req.Messages[2].Content)

	assert.Equal(t, []Directive{PersonaDirective, PlainFormatDirective}, BuildDirectives("plain", false))
	assert.Equal(t, []Directive{PersonaDirective, LengthDirective}, BuildDirectives("none", true))
	assert.Equal(t, DefaultDirectives(), BuildDirectives("ssml", true))
}

func TestGenerateEmptyReplyFails(t *testing.T) {
	g, err := NewGenerator(&recordingBackend{chunks: []string{"  ", ""}}, nil, Options{})
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "", "", "hello")
	assert.ErrorIs(t, err, ErrEmptyScript)
}

func TestGenerateWrapsBackendError(t *testing.T) {
	boom := errors.New("connection refused")
	g, err := NewGenerator(&recordingBackend{err: boom}, nil, Options{})
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "", "", "hello")
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "generate script")
}

func TestNewGeneratorRequiresBackend(t *testing.T) {
	_, err := NewGenerator(nil, nil, Options{})
	assert.Error(t, err)
}
