// Package relay lets other services request meditations over NATS and
// follow session state as it changes.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-meditation/internal/bus"
	"github.com/loqalabs/loqa-meditation/internal/protocol"
	"github.com/loqalabs/loqa-meditation/internal/session"
	"github.com/nats-io/nats.go"
)

type Service struct {
	bus      *bus.Client
	sessions *session.Manager
	logger   *slog.Logger
	sub      *nats.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewService(parent context.Context, busClient *bus.Client, sessions *session.Manager, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		bus:      busClient,
		sessions: sessions,
		logger:   logger.With(slog.String("component", "relay")),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Service) Start() error {
	sub, err := s.bus.Subscribe(protocol.SubjectMeditationRequest, s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return s.sub != nil && s.sub.IsValid()
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.MeditationRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("invalid meditation request", slog.String("error", err.Error()))
		s.reply(msg, protocol.MeditationReply{Error: "invalid request: " + err.Error()})
		return
	}

	sess, err := s.sessions.Ensure(strings.TrimSpace(req.SessionID))
	if err != nil {
		s.reply(msg, protocol.MeditationReply{SessionID: req.SessionID, Error: err.Error()})
		return
	}
	id, err := sess.Submit(req.Prompt)
	if err != nil {
		s.reply(msg, protocol.MeditationReply{SessionID: sess.ID, Error: err.Error()})
		return
	}
	s.logger.Info("meditation requested over bus", slog.String("session_id", sess.ID), slog.Uint64("request_id", id))
	s.reply(msg, protocol.MeditationReply{SessionID: sess.ID, RequestID: id})
}

func (s *Service) reply(msg *nats.Msg, resp protocol.MeditationReply) {
	if err := s.bus.RespondJSON(msg, resp); err != nil {
		s.logger.Warn("failed to reply", slog.String("error", err.Error()))
	}
}

// Publisher broadcasts session transitions as StateEvents.
type Publisher struct {
	bus *bus.Client
}

func NewPublisher(busClient *bus.Client) *Publisher {
	return &Publisher{bus: busClient}
}

func (p *Publisher) Observe(_ context.Context, v session.View) error {
	if p == nil || p.bus == nil {
		return errors.New("bus not connected")
	}
	event := protocol.StateEvent{
		SessionID:       v.SessionID,
		RequestID:       v.RequestID,
		State:           v.State,
		Busy:            v.Flags.Busy(),
		HasError:        v.Flags.HasError,
		ErrorDetail:     v.Flags.ErrorDetail,
		FailedStage:     v.FailedStage,
		ScriptChars:     len(v.Script),
		DurationSeconds: v.Playback.DurationSeconds,
		Timestamp:       time.Now().UTC(),
	}
	return p.bus.PublishJSON(protocol.StateSubject(v.SessionID), event)
}
