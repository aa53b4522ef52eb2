package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-meditation/internal/notify"
	"github.com/loqalabs/loqa-meditation/internal/pipeline"
	"github.com/loqalabs/loqa-meditation/internal/playback"
	"github.com/loqalabs/loqa-meditation/internal/tts"
	"github.com/loqalabs/loqa-meditation/internal/typewriter"
)

var (
	ErrNotFound        = errors.New("session not found")
	ErrTooManySessions = errors.New("session limit reached")
)

// Settings apply to every session a Manager creates.
type Settings struct {
	Policy       pipeline.Policy
	StageTimeout time.Duration
	Voice        string

	Autoplay   bool
	TimeUpdate time.Duration

	Typewriter         bool
	TypewriterInterval time.Duration

	// Background is looped under the meditation when set.
	Background       *playback.Asset
	BackgroundVolume float64

	MaxSessions int
}

// Manager keeps sessions in memory. Nothing survives a restart.
type Manager struct {
	generator pipeline.ScriptGenerator
	synth     tts.Synthesizer
	decoder   playback.Decoder
	settings  Settings
	sinks     []Sink
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(generator pipeline.ScriptGenerator, synth tts.Synthesizer, decoder playback.Decoder, settings Settings, logger *slog.Logger, sinks ...Sink) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if decoder == nil {
		decoder = playback.NativeDecoder{}
	}
	return &Manager{
		generator: generator,
		synth:     synth,
		decoder:   decoder,
		settings:  settings,
		sinks:     sinks,
		logger:    logger.With(slog.String("component", "sessions")),
		sessions:  make(map[string]*Session),
	}
}

// Create opens a session with a fresh id.
func (m *Manager) Create() (*Session, error) {
	return m.open(uuid.NewString())
}

// Ensure returns the session with id, creating it when missing. An empty
// id always creates a new session.
func (m *Manager) Ensure(id string) (*Session, error) {
	if id == "" {
		return m.Create()
	}
	if sess, ok := m.Get(id); ok {
		return sess, nil
	}
	return m.open(id)
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	return sess, ok
}

// Delete closes and forgets a session.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		sess.Close()
		m.logger.Info("session closed", slog.String("session_id", id))
	}
	return ok
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, sess := range sessions {
		sess.Close()
	}
}

func (m *Manager) open(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[id]; ok {
		return existing, nil
	}
	if m.settings.MaxSessions > 0 && len(m.sessions) >= m.settings.MaxSessions {
		return nil, ErrTooManySessions
	}

	sess, err := m.build(id)
	if err != nil {
		return nil, err
	}
	m.sessions[id] = sess
	m.logger.Info("session opened", slog.String("session_id", id))
	return sess, nil
}

func (m *Manager) build(id string) (*Session, error) {
	logger := m.logger.With(slog.String("session_id", id))
	player := playback.NewController(m.decoder, playback.NewClockOutput(m.settings.TimeUpdate), playback.Options{Autoplay: m.settings.Autoplay}, logger)
	orch, err := pipeline.New(m.generator, m.synth, player, pipeline.Options{
		SessionID:    id,
		Voice:        m.settings.Voice,
		Policy:       m.settings.Policy,
		StageTimeout: m.settings.StageTimeout,
	}, logger)
	if err != nil {
		player.Close()
		return nil, fmt.Errorf("build pipeline: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &Session{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		orch:      orch,
		player:    player,
		hub:       notify.NewHub[View](0),
		sinks:     m.sinks,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
	if m.settings.Background != nil {
		output := playback.NewClockOutput(m.settings.TimeUpdate, playback.WithLoop())
		sess.bed = playback.NewBed(*m.settings.Background, m.decoder, output, m.settings.BackgroundVolume, logger)
	}
	if m.settings.Typewriter {
		sess.typewriter = typewriter.New(m.settings.TypewriterInterval, func(string) {
			sess.hub.Publish(sess.View())
		})
	}
	sess.start()
	return sess, nil
}
