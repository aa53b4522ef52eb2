package typewriter

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRevealEmitsGrowingPrefixes(t *testing.T) {
	var got []string
	err := Reveal(context.Background(), "Ahé", time.Millisecond, func(s string) { got = append(got, s) })
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "Ah", "Ahé"}, got)
}

func TestRevealKeepsEarlierPrefixesIntact(t *testing.T) {
	text := strings.Repeat("<break time=\"3s\"/> ñ ", 200)
	var got []string
	require.NoError(t, Reveal(context.Background(), text, time.Nanosecond, func(s string) { got = append(got, s) }))

	runes := []rune(text)
	require.Len(t, got, len(runes))
	for _, i := range []int{0, 1, 17, len(runes) / 2, len(runes) - 1} {
		assert.Equal(t, string(runes[:i+1]), got[i])
	}
	assert.Equal(t, text, got[len(got)-1])
}

func TestRevealStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var got []string
	err := Reveal(ctx, "Breathe in slowly", time.Millisecond, func(s string) {
		got = append(got, s)
		if len(got) == 3 {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, got, 3)
}

func TestTypewriterRestartReplacesReveal(t *testing.T) {
	var mu sync.Mutex
	var last string
	tw := New(time.Millisecond, func(s string) {
		mu.Lock()
		last = s
		mu.Unlock()
	})

	tw.Start("a long first script that will not finish")
	tw.Start("short")

	require.Eventually(t, func() bool { return tw.Text() == "short" }, time.Second, time.Millisecond)
	mu.Lock()
	assert.Equal(t, "short", last)
	mu.Unlock()

	tw.Stop()
	assert.Empty(t, tw.Text())
}
