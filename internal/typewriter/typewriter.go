// Package typewriter reveals text one character at a time.
package typewriter

import (
	"context"
	"strings"
	"sync"
	"time"
)

const DefaultInterval = 50 * time.Millisecond

// Reveal calls emit with a growing prefix of text, one rune per interval,
// until the whole text is shown or ctx ends.
func Reveal(ctx context.Context, text string, interval time.Duration, emit func(string)) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if text == "" {
		return nil
	}
	var shown strings.Builder
	shown.Grow(len(text))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for _, r := range text {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		shown.WriteRune(r)
		emit(shown.String())
	}
	return nil
}

// Typewriter runs at most one reveal at a time; starting a new one stops
// the previous.
type Typewriter struct {
	interval time.Duration
	onChange func(string)

	mu     sync.Mutex
	shown  string
	cancel context.CancelFunc
	done   chan struct{}
}

func New(interval time.Duration, onChange func(string)) *Typewriter {
	if onChange == nil {
		onChange = func(string) {}
	}
	return &Typewriter{interval: interval, onChange: onChange}
}

func (t *Typewriter) Start(text string) {
	t.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	t.mu.Lock()
	t.shown = ""
	t.cancel = cancel
	t.done = done
	t.mu.Unlock()

	go func() {
		defer close(done)
		_ = Reveal(ctx, text, t.interval, func(s string) {
			t.mu.Lock()
			if ctx.Err() != nil {
				t.mu.Unlock()
				return
			}
			t.shown = s
			t.mu.Unlock()
			t.onChange(s)
		})
	}()
}

// Stop halts the running reveal, if any, and clears the shown text.
func (t *Typewriter) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.shown = ""
	t.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (t *Typewriter) Text() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.shown
}
