package playback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/mattn/go-shellwords"
)

// mp3 frames decode to 16-bit stereo PCM.
const mp3BytesPerSample = 4

var errNoAudio = errors.New("asset has no data")

// Decoder determines the playable duration of an asset.
type Decoder interface {
	Duration(ctx context.Context, asset Asset) (time.Duration, error)
}

// NativeDecoder handles WAV and MPEG audio in-process.
type NativeDecoder struct{}

func (NativeDecoder) Duration(ctx context.Context, asset Asset) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(asset.Data) == 0 {
		return 0, &DecodeError{ContentType: asset.ContentType, Err: errNoAudio}
	}
	if isWAV(asset.Data) {
		d, err := wavDuration(asset.Data)
		if err != nil {
			return 0, &DecodeError{ContentType: "audio/wav", Err: err}
		}
		return d, nil
	}
	d, err := mp3Duration(asset.Data)
	if err != nil {
		return 0, &DecodeError{ContentType: asset.ContentType, Err: err}
	}
	return d, nil
}

func isWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

func wavDuration(data []byte) (time.Duration, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return 0, errors.New("invalid wav container")
	}
	d, err := dec.Duration()
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, errors.New("wav has no samples")
	}
	return d, nil
}

func mp3Duration(data []byte) (time.Duration, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	length := dec.Length()
	if length <= 0 || dec.SampleRate() <= 0 {
		return 0, errors.New("mpeg stream has no frames")
	}
	samples := length / mp3BytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(dec.SampleRate()), nil
}

// ExecDecoder probes assets with an external command such as
// `ffprobe -v error -show_entries format=duration -of csv=p=0`. The asset
// is written to a temporary file whose path is appended to the command;
// the command prints the duration in seconds.
type ExecDecoder struct {
	cmd []string
}

func NewExecDecoder(command string) (*ExecDecoder, error) {
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse decoder command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("decoder command empty")
	}
	return &ExecDecoder{cmd: args}, nil
}

func (e *ExecDecoder) Duration(ctx context.Context, asset Asset) (time.Duration, error) {
	if len(asset.Data) == 0 {
		return 0, &DecodeError{ContentType: asset.ContentType, Err: errNoAudio}
	}
	tmp, err := os.CreateTemp("", "meditation-probe-*")
	if err != nil {
		return 0, fmt.Errorf("create probe file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(asset.Data); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("write probe file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}

	args := append(append([]string{}, e.cmd[1:]...), tmp.Name())
	out, err := exec.CommandContext(ctx, e.cmd[0], args...).Output()
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, &DecodeError{ContentType: asset.ContentType, Err: err}
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil || secs <= 0 {
		return 0, &DecodeError{ContentType: asset.ContentType, Err: fmt.Errorf("unreadable duration %q", strings.TrimSpace(string(out)))}
	}
	return time.Duration(secs * float64(time.Second)), nil
}
