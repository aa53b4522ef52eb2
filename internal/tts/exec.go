package tts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

type execSynth struct {
	cmd []string
	mu  sync.Mutex
}

type execRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

type execResponse struct {
	AudioBase64 string `json:"audio_base64"`
	ContentType string `json:"content_type,omitempty"`
	Final       bool   `json:"final"`
}

// NewExecSynth runs command per request. The command receives the request as
// JSON on stdin and prints one JSON object per line, each carrying a base64
// slice of the payload; slices are concatenated in order.
func NewExecSynth(command string) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	return &execSynth{cmd: args}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, req SynthRequest) (Audio, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	input, err := json.Marshal(execRequest{Text: req.Text, Voice: req.Voice})
	if err != nil {
		return Audio{}, err
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	output, err := cmd.Output()
	if err != nil {
		return Audio{}, fmt.Errorf("tts exec command failed: %w", err)
	}

	var (
		buf         bytes.Buffer
		contentType string
	)
	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var resp execResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			return Audio{}, fmt.Errorf("decode tts exec response: %w", err)
		}
		chunk, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
		if err != nil {
			return Audio{}, fmt.Errorf("decode tts audio chunk: %w", err)
		}
		buf.Write(chunk)
		if resp.ContentType != "" {
			contentType = resp.ContentType
		}
		if resp.Final {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return Audio{}, err
	}
	if buf.Len() == 0 {
		return Audio{}, ErrEmptyAudio
	}
	if contentType == "" {
		contentType = DefaultContentType
	}
	return Audio{Data: buf.Bytes(), ContentType: contentType}, nil
}
