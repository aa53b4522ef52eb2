package tts

import "context"

// DefaultContentType tags payloads whose origin did not declare a type.
const DefaultContentType = "audio/mpeg"

// SynthRequest contains parameters to synthesize speech.
type SynthRequest struct {
	SessionID string
	Text      string
	Voice     string
}

// Audio is one complete synthesized payload.
type Audio struct {
	Data        []byte
	ContentType string
}

// Synthesizer is the contract for producing audio. One call, one payload.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (Audio, error)
}
