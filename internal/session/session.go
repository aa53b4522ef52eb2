// Package session holds one pipeline, playback controller, background bed
// and typewriter per page instance.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-meditation/internal/notify"
	"github.com/loqalabs/loqa-meditation/internal/pipeline"
	"github.com/loqalabs/loqa-meditation/internal/playback"
	"github.com/loqalabs/loqa-meditation/internal/typewriter"
)

// ErrNoBackground is returned by background controls when no bed is configured.
var ErrNoBackground = errors.New("background track not configured")

// Sink observes pipeline transitions of every session.
type Sink interface {
	Observe(ctx context.Context, v View) error
}

type Session struct {
	ID        string
	CreatedAt time.Time

	orch       *pipeline.Orchestrator
	player     *playback.Controller
	bed        *playback.Bed
	typewriter *typewriter.Typewriter
	hub        *notify.Hub[View]
	sinks      []Sink
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func (s *Session) start() {
	states := s.orch.Subscribe()
	var bedStates *notify.Listener[playback.BedState]
	if s.bed != nil {
		bedStates = s.bed.Subscribe()
	}
	s.wg.Add(1)
	go s.watch(states, bedStates)
}

// Submit starts a meditation in the background. The first user action
// also starts the background bed.
func (s *Session) Submit(prompt string) (uint64, error) {
	s.interact()
	return s.orch.Submit(prompt)
}

// Run executes a meditation synchronously.
func (s *Session) Run(ctx context.Context, prompt string) (pipeline.State, error) {
	s.interact()
	return s.orch.Run(ctx, prompt)
}

func (s *Session) Cancel() bool {
	return s.orch.Cancel()
}

func (s *Session) Toggle() error {
	s.interact()
	return s.player.Toggle()
}

func (s *Session) Seek(position time.Duration) error {
	s.interact()
	return s.player.Seek(position)
}

func (s *Session) SetBackgroundVolume(v float64) (float64, error) {
	if s.bed == nil {
		return 0, ErrNoBackground
	}
	s.interact()
	return s.bed.SetVolume(v)
}

// Audio returns the current asset.
func (s *Session) Audio() (playback.Asset, bool) {
	return s.player.Current()
}

func (s *Session) State() pipeline.State {
	return s.orch.State()
}

func (s *Session) View() View {
	return s.view(s.orch.State())
}

func (s *Session) Subscribe() *notify.Listener[View] {
	return s.hub.Subscribe()
}

func (s *Session) Unsubscribe(l *notify.Listener[View]) {
	s.hub.Unsubscribe(l)
}

// Close stops everything the session owns. Safe to call more than once.
func (s *Session) Close() {
	s.once.Do(func() {
		s.orch.Close()
		s.cancel()
		s.wg.Wait()
		if s.typewriter != nil {
			s.typewriter.Stop()
		}
		if s.bed != nil {
			s.bed.Close()
		}
		s.player.Close()
		s.hub.Close()
	})
}

func (s *Session) interact() {
	if s.bed == nil || s.bed.State().Started {
		return
	}
	if err := s.bed.Start(s.ctx); err != nil {
		s.logger.Warn("background start failed", slogError(err))
	}
}

func (s *Session) view(state pipeline.State) View {
	var bed *playback.BedState
	if s.bed != nil {
		st := s.bed.State()
		bed = &st
	}
	displayed := ""
	if s.typewriter != nil {
		displayed = s.typewriter.Text()
	}
	return buildView(s.ID, state, s.player.Snapshot(), bed, displayed)
}

func (s *Session) watch(states *notify.Listener[pipeline.State], bedStates *notify.Listener[playback.BedState]) {
	defer s.wg.Done()
	defer s.orch.Unsubscribe(states)
	var bedC <-chan playback.BedState
	if bedStates != nil {
		defer s.bed.Unsubscribe(bedStates)
		bedC = bedStates.C
	}

	var (
		lastKind    pipeline.Kind
		lastRequest uint64
		typedFor    uint64
	)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-states.Done():
			return
		case <-bedC:
			s.hub.Publish(s.View())
		case state := <-states.C:
			if s.typewriter != nil {
				script := pipeline.ScriptOf(state)
				switch {
				case state.Kind() == pipeline.KindGenerating || state.Kind() == pipeline.KindIdle:
					s.typewriter.Stop()
					typedFor = 0
				case script != "" && typedFor != state.RequestID():
					typedFor = state.RequestID()
					s.typewriter.Start(script)
				}
			}

			v := s.view(state)
			s.hub.Publish(v)
			if state.Kind() == lastKind && state.RequestID() == lastRequest {
				continue
			}
			lastKind, lastRequest = state.Kind(), state.RequestID()
			for _, sink := range s.sinks {
				if err := sink.Observe(s.ctx, v); err != nil {
					s.logger.Warn("sink rejected transition", slog.String("state", v.State), slogError(err))
				}
			}
		}
	}
}

func slogError(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
