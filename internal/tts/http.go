package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"
)

const maxErrorBody = 512

var (
	// ErrEmptyAudio is returned when the proxy answers 2xx without a body.
	ErrEmptyAudio = errors.New("synthesis returned empty audio")
	// ErrNotAudio is returned when the proxy answers with a non-audio payload.
	ErrNotAudio = errors.New("synthesis returned a non-audio payload")
)

type httpSynth struct {
	endpoint string
	client   *http.Client
}

type httpRequest struct {
	Text string `json:"text"`
}

// NewHTTPSynth posts scripts to a text-to-speech proxy. A zero timeout leaves
// the call unbounded.
func NewHTTPSynth(endpoint string, timeout time.Duration) Synthesizer {
	return &httpSynth{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (s *httpSynth) Synthesize(ctx context.Context, req SynthRequest) (Audio, error) {
	body, err := json.Marshal(httpRequest{Text: req.Text})
	if err != nil {
		return Audio{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return Audio{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return Audio{}, fmt.Errorf("synthesis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Audio{}, fmt.Errorf("synthesis returned status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	contentType, err := audioContentType(resp.Header.Get("Content-Type"))
	if err != nil {
		return Audio{}, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Audio{}, fmt.Errorf("read synthesis response: %w", err)
	}
	if len(data) == 0 {
		return Audio{}, ErrEmptyAudio
	}
	return Audio{Data: data, ContentType: contentType}, nil
}

func audioContentType(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return DefaultContentType, nil
	}
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotAudio, header)
	}
	switch {
	case strings.HasPrefix(mediaType, "audio/"):
		return mediaType, nil
	case mediaType == "application/octet-stream":
		return DefaultContentType, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrNotAudio, mediaType)
	}
}
