package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-meditation/internal/notify"
	"github.com/loqalabs/loqa-meditation/internal/playback"
	"github.com/loqalabs/loqa-meditation/internal/tts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/loqa-meditation/pipeline"

// Policy decides what happens when a request arrives while another is in
// flight.
type Policy string

const (
	PolicySupersede Policy = "supersede"
	PolicyReject    Policy = "reject"
)

// ScriptGenerator turns a prompt into a narration script.
type ScriptGenerator interface {
	Generate(ctx context.Context, sessionID, traceID, prompt string) (string, error)
}

// Player is the playback controller surface the orchestrator drives.
type Player interface {
	Load(ctx context.Context, asset playback.Asset) error
	Reset()
	Snapshot() playback.Snapshot
	Subscribe() *notify.Listener[playback.Snapshot]
	Unsubscribe(l *notify.Listener[playback.Snapshot])
}

type Options struct {
	SessionID    string
	Voice        string
	Policy       Policy
	StageTimeout time.Duration
}

// Orchestrator runs generation, synthesis and loading strictly in sequence.
// Every run gets a new request id; starting a run cancels the previous one
// and anything the previous run completes afterwards is discarded.
type Orchestrator struct {
	generator ScriptGenerator
	synth     tts.Synthesizer
	player    Player
	opts      Options
	logger    *slog.Logger
	hub       *notify.Hub[State]

	tracer   trace.Tracer
	runs     metric.Int64Counter
	stageDur metric.Float64Histogram

	mu        sync.Mutex
	state     State
	seq       uint64
	cancelled uint64
	cancel    context.CancelFunc
	closed    bool

	base     context.Context
	shutdown context.CancelFunc
	wg       sync.WaitGroup
}

func New(generator ScriptGenerator, synth tts.Synthesizer, player Player, opts Options, logger *slog.Logger) (*Orchestrator, error) {
	if generator == nil || synth == nil || player == nil {
		return nil, fmt.Errorf("pipeline requires a generator, a synthesizer and a player")
	}
	switch opts.Policy {
	case "":
		opts.Policy = PolicySupersede
	case PolicySupersede, PolicyReject:
	default:
		return nil, fmt.Errorf("unknown pipeline policy %q", opts.Policy)
	}
	if logger == nil {
		logger = slog.Default()
	}

	base, shutdown := context.WithCancel(context.Background())
	o := &Orchestrator{
		generator: generator,
		synth:     synth,
		player:    player,
		opts:      opts,
		logger:    logger.With(slog.String("component", "pipeline"), slog.String("session_id", opts.SessionID)),
		hub:       notify.NewHub[State](0),
		tracer:    otel.Tracer(instrumentationName),
		state:     Idle{},
		base:      base,
		shutdown:  shutdown,
	}
	if err := o.initMetrics(); err != nil {
		o.logger.Warn("failed to initialize metrics", slogError(err))
	}

	listener := player.Subscribe()
	o.wg.Add(1)
	go o.forwardPlayback(listener)
	return o, nil
}

func (o *Orchestrator) initMetrics() error {
	meter := otel.Meter(instrumentationName)
	runs, err := meter.Int64Counter("meditation_runs_total",
		metric.WithDescription("Pipeline runs by outcome"))
	if err != nil {
		return err
	}
	stageDur, err := meter.Float64Histogram("meditation_stage_duration_seconds",
		metric.WithDescription("Duration of each pipeline stage"),
		metric.WithUnit("s"))
	if err != nil {
		return err
	}
	o.runs = runs
	o.stageDur = stageDur
	return nil
}

// Run executes one request and blocks until it finishes. The returned state
// is the state the run left behind.
func (o *Orchestrator) Run(ctx context.Context, prompt string) (State, error) {
	id, runCtx, err := o.begin(ctx)
	if err != nil {
		return o.State(), err
	}
	return o.execute(runCtx, id, prompt)
}

// Submit starts a request in the background and returns its id.
func (o *Orchestrator) Submit(prompt string) (uint64, error) {
	id, runCtx, err := o.begin(o.base)
	if err != nil {
		return 0, err
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if _, err := o.execute(runCtx, id, prompt); err != nil {
			o.logger.Debug("run ended with error", slog.Uint64("request_id", id), slogError(err))
		}
	}()
	return id, nil
}

// Cancel aborts the in-flight run and returns to Idle. It reports whether
// there was anything to cancel.
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel == nil {
		return false
	}
	o.cancelled = o.seq
	o.cancel()
	o.cancel = nil
	o.player.Reset()
	o.setLocked(Idle{})
	o.logger.Info("request cancelled", slog.Uint64("request_id", o.seq))
	return true
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Busy reports whether a run is in flight.
func (o *Orchestrator) Busy() bool {
	return FlagsOf(o.State()).Busy()
}

func (o *Orchestrator) Subscribe() *notify.Listener[State] {
	return o.hub.Subscribe()
}

func (o *Orchestrator) Unsubscribe(l *notify.Listener[State]) {
	o.hub.Unsubscribe(l)
}

// Close cancels any in-flight run and waits for background work to stop.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.mu.Unlock()

	o.shutdown()
	o.wg.Wait()
	o.hub.Close()
}

func (o *Orchestrator) begin(parent context.Context) (uint64, context.Context, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return 0, nil, ErrClosed
	}
	if o.cancel != nil {
		if o.opts.Policy == PolicyReject {
			return 0, nil, ErrBusy
		}
		o.cancel()
		o.logger.Info("superseding in-flight request", slog.Uint64("request_id", o.seq))
	}
	o.seq++
	id := o.seq
	runCtx, cancel := context.WithCancel(parent)
	o.cancel = cancel

	// The previous asset goes before anything new is produced.
	o.player.Reset()
	o.setLocked(Generating{ID: id})
	return id, runCtx, nil
}

func (o *Orchestrator) execute(ctx context.Context, id uint64, prompt string) (State, error) {
	ctx, span := o.tracer.Start(ctx, "meditation.run", trace.WithAttributes(
		attribute.String("session_id", o.opts.SessionID),
		attribute.Int64("request_id", int64(id)),
	))
	defer span.End()

	traceID := uuid.NewString()
	if sc := span.SpanContext(); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	logger := o.logger.With(slog.Uint64("request_id", id), slog.String("trace_id", traceID))
	logger.Info("meditation requested", slog.Int("prompt_chars", len(prompt)))

	var script string
	err := o.stage(ctx, StageGeneration, func(ctx context.Context) error {
		var err error
		script, err = o.generator.Generate(ctx, o.opts.SessionID, traceID, prompt)
		return err
	})
	if err != nil {
		return o.fail(ctx, span, id, "", StageGeneration, err)
	}
	logger.Debug("script generated", slog.Int("script_chars", len(script)))
	if err := o.advance(id, func() State { return Synthesizing{ID: id, Script: script} }); err != nil {
		return o.discard(ctx, span, id)
	}

	var audio tts.Audio
	err = o.stage(ctx, StageSynthesis, func(ctx context.Context) error {
		var err error
		audio, err = o.synth.Synthesize(ctx, tts.SynthRequest{SessionID: o.opts.SessionID, Text: script, Voice: o.opts.Voice})
		return err
	})
	if err != nil {
		return o.fail(ctx, span, id, script, StageSynthesis, err)
	}
	logger.Debug("audio synthesized", slog.Int("bytes", len(audio.Data)), slog.String("content_type", audio.ContentType))
	if err := o.advance(id, func() State {
		snap := o.player.Snapshot()
		snap.Status = playback.StatusLoading
		return Audio{ID: id, Script: script, Playback: snap}
	}); err != nil {
		return o.discard(ctx, span, id)
	}

	err = o.stage(ctx, StagePlayback, func(ctx context.Context) error {
		return o.player.Load(ctx, playback.Asset{Data: audio.Data, ContentType: audio.ContentType})
	})
	if errors.Is(err, playback.ErrSuperseded) {
		return o.discard(ctx, span, id)
	}
	if err != nil {
		return o.fail(ctx, span, id, script, StagePlayback, err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.currentLocked(id) {
		return o.state, o.staleLocked(id)
	}
	o.cancel = nil
	o.applySnapshotLocked(o.player.Snapshot())
	o.recordRun(ctx, "success")
	logger.Info("meditation ready", slog.Duration("duration", o.player.Snapshot().Duration))
	return o.state, nil
}

// stage runs fn with the optional per-stage timeout and records its span
// and duration.
func (o *Orchestrator) stage(ctx context.Context, stage Stage, fn func(context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, "meditation."+stage.String())
	defer span.End()
	if o.opts.StageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.StageTimeout)
		defer cancel()
	}
	start := time.Now()
	err := fn(ctx)
	if o.stageDur != nil {
		o.stageDur.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
			attribute.String("stage", stage.String()),
			attribute.Bool("error", err != nil),
		))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// advance moves to the next state only while id is still the current run.
func (o *Orchestrator) advance(id uint64, next func() State) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.currentLocked(id) {
		return o.staleLocked(id)
	}
	o.setLocked(next())
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, span trace.Span, id uint64, script string, stage Stage, err error) (State, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.currentLocked(id) {
		stale := o.staleLocked(id)
		o.recordRunLocked(ctx, stale)
		return o.state, stale
	}
	o.cancel = nil
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		// the caller's context went away
		o.player.Reset()
		o.setLocked(Idle{})
		o.recordRun(ctx, "cancelled")
		return o.state, ErrCancelled
	}

	stageErr := &StageError{Stage: stage, Err: err}
	span.RecordError(stageErr)
	span.SetStatus(codes.Error, stageErr.Error())
	o.setLocked(Failed{ID: id, Script: script, Stage: stage, Message: stageErr.Message()})
	o.recordRun(ctx, "failed")
	o.logger.Warn("meditation failed", slog.Uint64("request_id", id), slog.String("stage", stage.String()), slogError(err))
	return o.state, stageErr
}

// discard drops the result of a run that is no longer current.
func (o *Orchestrator) discard(ctx context.Context, span trace.Span, id uint64) (State, error) {
	span.SetAttributes(attribute.Bool("discarded", true))
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.currentLocked(id) {
		// the player was reset underneath the run
		o.cancel = nil
		o.setLocked(Idle{})
	}
	err := o.staleLocked(id)
	o.recordRunLocked(ctx, err)
	return o.state, err
}

func (o *Orchestrator) currentLocked(id uint64) bool {
	return id == o.seq && id != o.cancelled
}

func (o *Orchestrator) staleLocked(id uint64) error {
	if id == o.cancelled {
		return ErrCancelled
	}
	return ErrSuperseded
}

func (o *Orchestrator) recordRunLocked(ctx context.Context, err error) {
	if errors.Is(err, ErrCancelled) {
		o.recordRun(ctx, "cancelled")
		return
	}
	o.recordRun(ctx, "superseded")
}

func (o *Orchestrator) recordRun(ctx context.Context, outcome string) {
	if o.runs == nil {
		return
	}
	o.runs.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// forwardPlayback mirrors controller snapshots into the Audio state.
func (o *Orchestrator) forwardPlayback(l *notify.Listener[playback.Snapshot]) {
	defer o.wg.Done()
	defer o.player.Unsubscribe(l)
	for {
		select {
		case <-o.base.Done():
			return
		case <-l.Done():
			return
		case snap := <-l.C:
			o.mu.Lock()
			o.applySnapshotLocked(snap)
			o.mu.Unlock()
		}
	}
}

func (o *Orchestrator) applySnapshotLocked(snap playback.Snapshot) {
	current, ok := o.state.(Audio)
	if !ok || snap.Seq <= current.Playback.Seq || snap.Status == playback.StatusEmpty {
		return
	}
	current.Playback = snap
	o.setLocked(current)
}

func (o *Orchestrator) setLocked(s State) {
	o.state = s
	o.hub.Publish(s)
}

func slogError(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
