package realtime

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/bt-bridge/voice-shop/functions"
	"github.com/bt-bridge/voice-shop/shared"
	"github.com/bytedance/sonic"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// VolumeMeter is the engine's handle on the microphone level sampler.
type VolumeMeter interface {
	Start()
	SetEnabled(enabled bool)
	Stop()
}

const (
	hintListening  = "listening..."
	hintProcessing = "processing..."
	hintPaused     = "(audio paused)"
)

var closedDone = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// Engine drives one conversation at a time over a control channel. Inbound
// events are handled one by one under the engine lock, including the tool
// dispatch and the sends they cause.
type Engine struct {
	logger   shared.LoggerAdapter
	notifier Notifier
	meter    VolumeMeter

	mu       sync.Mutex
	session  *Session
	registry *functions.Registry
}

var _ ChannelHandler = (*Engine)(nil)

// NewEngine creates an engine. meter may be nil.
func NewEngine(logger shared.LoggerAdapter, notifier Notifier, meter VolumeMeter) (*Engine, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if notifier == nil {
		return nil, shared.ErrNoNotifier
	}
	return &Engine{
		logger:   logger,
		notifier: notifier,
		meter:    meter,
	}, nil
}

// Start opens a session on ch. The session begins idle with audio input
// enabled; the tools of registry are advertised once the channel opens.
func (e *Engine) Start(ch Channel, registry *functions.Registry) error {
	if ch == nil {
		return errors.New("channel is required")
	}
	if registry == nil {
		return shared.ErrNoToolRegistry
	}
	e.mu.Lock()
	if e.session != nil {
		e.mu.Unlock()
		return shared.ErrSessionAlreadyRunning
	}
	s := newSession(ch)
	e.session = s
	e.registry = registry
	e.mu.Unlock()

	// Bind may report the channel as open right away, so the lock is not held.
	if err := ch.Bind(e); err != nil {
		e.mu.Lock()
		if e.session == s {
			e.session = nil
		}
		e.mu.Unlock()
		close(s.done)
		return fmt.Errorf("binding control channel: %w", err)
	}
	e.logger.Info("session started", zap.Int("tools", registry.Len()))
	return nil
}

// Stop tears the session down. It is safe in any turn state and repeated
// calls are no-ops.
func (e *Engine) Stop() error {
	e.mu.Lock()
	s := e.session
	if s == nil {
		e.mu.Unlock()
		return nil
	}
	e.session = nil
	s.turn = TurnIdle
	s.utterance.Begin("")
	s.pending = nil
	e.mu.Unlock()

	if e.meter != nil {
		e.meter.Stop()
	}
	err := s.channel.Close()
	if err != nil {
		e.logger.Error("closing channel", err)
	}
	close(s.done)
	e.notify(Notification{Kind: NotifyStatus, Text: "Session stopped."})
	e.logger.Info("session stopped")
	return err
}

// Done is closed when the current session ends.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return closedDone
	}
	return e.session.done
}

func (e *Engine) TurnState() TurnState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return TurnIdle
	}
	return e.session.turn
}

func (e *Engine) AudioInputEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session != nil && e.session.audioEnabled
}

// SetAudioInputEnabled gates the microphone. The turn state is untouched.
func (e *Engine) SetAudioInputEnabled(enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.session
	if s == nil {
		return shared.ErrSessionNotRunning
	}
	s.audioEnabled = enabled
	s.channel.SetAudioInputEnabled(enabled)
	if e.meter != nil {
		e.meter.SetEnabled(enabled)
	}
	hint := hintListening
	if !enabled {
		hint = hintPaused
	}
	e.notify(Notification{Kind: NotifyInterim, Speaker: SpeakerUser, Text: hint})
	return nil
}

func (e *Engine) OnChannelOpen() {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.session
	if s == nil {
		return
	}
	ev, err := NewSessionUpdateEvent(e.registry.SessionConfig())
	if err != nil {
		e.logger.Error("building session update", err)
		e.notify(Notification{Kind: NotifyError, Text: err.Error()})
		return
	}
	if err := e.send(s, ev); err != nil {
		e.logger.Error("sending session update", err)
		e.notify(Notification{Kind: NotifyError, Text: err.Error()})
		return
	}
	if e.meter != nil {
		e.meter.SetEnabled(s.audioEnabled)
		e.meter.Start()
	}
	e.notify(Notification{Kind: NotifyStatus, Text: "Tool definition sent. Session ready."})
	e.notify(Notification{Kind: NotifyReady})
}

func (e *Engine) OnChannelMessage(data []byte) {
	ev, err := ParseServerEvent(data)
	if err != nil {
		e.logger.Error("can not parse server event", err, zap.ByteString("data", data))
		return
	}
	e.HandleEvent(ev)
}

func (e *Engine) OnChannelClose() {
	e.mu.Lock()
	live := e.session != nil
	e.mu.Unlock()
	if !live {
		return
	}
	e.notify(Notification{Kind: NotifyStatus, Text: "Realtime connection closed."})
	go e.stopQuietly()
}

func (e *Engine) OnConnectionState(state webrtc.PeerConnectionState) {
	e.mu.Lock()
	live := e.session != nil
	e.mu.Unlock()
	if !live {
		return
	}
	e.notify(Notification{Kind: NotifyStatus, Text: "Connection " + state.String()})
	switch state {
	case webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateClosed:
		e.logger.Warn("transport ended", zap.String("state", state.String()))
		if state == webrtc.PeerConnectionStateFailed {
			e.notify(Notification{Kind: NotifyError, Text: "Connection failed."})
		}
		go e.stopQuietly()
	}
}

func (e *Engine) stopQuietly() {
	if err := e.Stop(); err != nil {
		e.logger.Debug("stopping after transport end", zap.Error(err))
	}
}

// HandleEvent applies one inbound event to the session.
func (e *Engine) HandleEvent(event ServerEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.session
	if s == nil {
		e.logger.Debug("dropping event without session", zap.String("type", string(event.EventType())))
		return
	}
	e.logger.Trace(
		"received event",
		zap.String("type", string(event.EventType())),
		zap.String("event_id", event.ID()),
		zap.String("turn", s.turn.String()),
	)

	switch ev := event.(type) {
	case *SessionLifecycleEvent:
		e.onSessionLifecycle(ev)
	case *SpeechStartedEvent:
		s.turn = TurnUserSpeaking
		e.userHint(s, hintListening)
	case *SpeechStoppedEvent:
		if s.turn != TurnUserSpeaking {
			e.unexpected(ev.Type, s.turn)
		}
		s.turn = TurnUserProcessing
		e.userHint(s, hintProcessing)
	case *ItemCompletedEvent:
		e.onItemCompleted(s, ev.Item)
	case *ResponseCreatedEvent:
		s.utterance.Begin(ev.Response.ID)
		if s.turn != TurnIdle {
			e.unexpected(ev.Type, s.turn)
		}
	case *OutputAudioStartedEvent:
		s.turn = TurnAssistantSpeaking
		e.interim(SpeakerAssistant, s.utterance.Text())
	case *OutputAudioStoppedEvent:
		if s.turn != TurnAssistantSpeaking {
			e.unexpected(ev.Type, s.turn)
			return
		}
		s.turn = TurnIdle
	case *TranscriptDeltaEvent:
		s.utterance.Append(ev.Delta)
		e.interim(SpeakerAssistant, s.utterance.Text())
	case *TranscriptDoneEvent:
		e.onTranscriptDone(s, ev)
	case *ResponseDoneEvent:
		e.onResponseDone(s, ev.Response)
	case *ErrorEvent:
		text := ev.Text()
		e.logger.Warn("server reported error", zap.String("message", text))
		e.notify(Notification{Kind: NotifyError, Text: text})
		s.utterance.Begin("")
		e.interim(SpeakerAssistant, "")
		s.turn = TurnIdle
	case *ObservedEvent:
		e.logger.Debug("observed server event", zap.String("type", string(ev.Type)))
	case *UnknownEvent:
		e.logger.Warn("unhandled server event", zap.String("type", string(ev.Type)))
	default:
		e.logger.Warn("unhandled server event", zap.String("type", string(event.EventType())))
	}
}

func (e *Engine) onSessionLifecycle(ev *SessionLifecycleEvent) {
	if ev.Type == ServerEventTypeSessionCreated {
		e.notify(Notification{Kind: NotifyStatus, Text: fmt.Sprintf("Session %s created", ev.Session.ID)})
		return
	}
	e.notify(Notification{Kind: NotifyStatus, Text: "Session configuration updated"})
	acked := make(map[string]struct{}, len(ev.Session.Tools))
	for _, tool := range ev.Session.Tools {
		acked[tool.Name] = struct{}{}
	}
	for _, schema := range e.registry.Schemas() {
		if _, ok := acked[schema.Name]; ok {
			e.logger.Debug("tool acknowledged", zap.String("name", schema.Name))
		}
	}
}

func (e *Engine) onItemCompleted(s *Session, item Item) {
	if item.Type != "message" || item.Role != "user" {
		e.logger.Debug(
			"conversation item",
			zap.String("type", item.Type),
			zap.String("role", item.Role),
			zap.String("status", item.Status),
		)
		return
	}
	if item.Status != "" && item.Status != StatusCompleted {
		return
	}
	if _, seen := s.finalized[item.ID]; seen && item.ID != "" {
		e.logger.Debug("user item already finalized", zap.String("item_id", item.ID))
		return
	}
	text := item.FirstText()
	if text == "" {
		e.logger.Warn("user item has no transcript", zap.String("item_id", item.ID))
	} else {
		if item.ID != "" {
			s.finalized[item.ID] = struct{}{}
		}
		e.notify(Notification{Kind: NotifyFinal, Speaker: SpeakerUser, Text: text})
	}
	e.interim(SpeakerUser, "")
	if s.turn != TurnUserProcessing {
		e.unexpected(ServerEventTypeConversationItemCreated, s.turn)
	}
	s.turn = TurnIdle
}

func (e *Engine) onTranscriptDone(s *Session, ev *TranscriptDoneEvent) {
	acc := strings.TrimSpace(s.utterance.Text())
	var final string
	if ev.Transcript != nil && strings.TrimSpace(*ev.Transcript) != "" {
		final = strings.TrimSpace(*ev.Transcript)
		if acc != "" && acc != final {
			e.logger.Warn(
				"accumulated transcript differs from done transcript",
				zap.String("accumulated", acc),
				zap.String("done", final),
			)
		}
	} else if acc != "" {
		e.logger.Warn("transcript done without transcript, using accumulated deltas")
		final = acc
	}
	if final != "" {
		e.notify(Notification{Kind: NotifyFinal, Speaker: SpeakerAssistant, Text: final})
		s.utterance.MarkEmitted(final)
	} else {
		e.logger.Warn("no assistant transcript to finalize", zap.String("response_id", ev.ResponseId))
	}
	s.utterance.Reset()
	e.interim(SpeakerAssistant, "")
	switch s.turn {
	case TurnAssistantSpeaking, TurnIdle:
		s.turn = TurnIdle
	default:
		e.unexpected(ev.Type, s.turn)
	}
}

func (e *Engine) onResponseDone(s *Session, r Response) {
	defer func() {
		s.utterance.Begin("")
		s.turn = TurnIdle
	}()
	if r.Status == StatusFailed {
		reason := r.Reason()
		e.logger.Warn("response failed", zap.String("response_id", r.ID), zap.String("reason", reason))
		e.notify(Notification{Kind: NotifyError, Text: "Response failed: " + reason})
		e.interim(SpeakerAssistant, "")
		return
	}
	if len(r.Output) == 0 {
		e.logger.Debug("response done without output", zap.String("status", r.Status))
	}
	answered := 0
	for _, item := range r.Output {
		switch {
		case item.Type == "function_call" && item.Status == StatusCompleted:
			if e.runToolCall(s, item) {
				answered++
			}
		case item.Type == "message" && item.Role == "assistant" && item.Status == StatusCompleted:
			e.finalizeAssistant(s, item)
		default:
			e.logger.Debug(
				"response output item ignored",
				zap.String("type", item.Type),
				zap.String("status", item.Status),
			)
		}
	}
	// one follow-up per response, however many calls it carried
	if answered > 0 {
		if err := e.send(s, NewResponseCreateEvent()); err != nil {
			e.logger.Error("requesting follow-up response", err)
		}
	}
	e.interim(SpeakerAssistant, "")
}

func (e *Engine) finalizeAssistant(s *Session, item Item) {
	if acc := strings.TrimSpace(s.utterance.Text()); acc != "" && !s.utterance.Emitted() {
		e.notify(Notification{Kind: NotifyFinal, Speaker: SpeakerAssistant, Text: acc})
		s.utterance.MarkEmitted(acc)
		return
	}
	text := item.JoinedText()
	if text == "" {
		e.logger.Debug("assistant message without text", zap.String("item_id", item.ID))
		return
	}
	if s.utterance.AlreadyFinal(text) {
		e.logger.Debug("assistant text already finalized", zap.String("item_id", item.ID))
		return
	}
	e.notify(Notification{Kind: NotifyFinal, Speaker: SpeakerAssistant, Text: text})
	s.utterance.MarkEmitted(text)
}

// runToolCall answers exactly once per call, with an error payload when
// the call can not be served. It reports whether the output was sent.
func (e *Engine) runToolCall(s *Session, item Item) bool {
	args, err := functions.DecodeArguments(item.Arguments)
	if err != nil {
		e.logger.Error("can not parse function arguments", err, zap.String("arguments", item.Arguments))
	}
	s.pending = &PendingToolCall{CallID: item.CallId, Name: item.Name, Arguments: args}
	defer func() { s.pending = nil }()

	result, err := e.registry.Invoke(item.Name, args)
	if err != nil {
		e.logger.Error("function call failed", err, zap.String("name", item.Name), zap.String("call_id", item.CallId))
		result = functions.NewErrorResult(err)
	}
	output, err := functions.EncodeResult(result)
	if err != nil {
		e.logger.Error("encoding function result", err, zap.String("name", item.Name))
		result = functions.NewErrorResult(err)
		output, _ = functions.EncodeResult(result)
	}
	if err := e.send(s, NewFunctionCallOutputEvent(item.CallId, output)); err != nil {
		e.logger.Error("sending function result", err, zap.String("call_id", item.CallId))
		return false
	}
	e.notify(Notification{
		Kind: NotifyFunctionCall,
		Call: &FunctionCallSummary{Name: item.Name, Args: args, Summary: functions.Summarize(result)},
	})
	return true
}

// send is suppressed once s is no longer the live session.
func (e *Engine) send(s *Session, event any) error {
	if e.session != s {
		return shared.ErrSessionNotRunning
	}
	b, err := sonic.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding client event: %w", err)
	}
	if err := s.channel.Send(b); err != nil {
		return err
	}
	e.logger.Trace("sent event", zap.ByteString("data", b))
	return nil
}

func (e *Engine) interim(speaker Speaker, text string) {
	e.notify(Notification{Kind: NotifyInterim, Speaker: speaker, Text: text})
}

// userHint is a speech activity hint; none while the microphone is paused.
func (e *Engine) userHint(s *Session, text string) {
	if !s.audioEnabled {
		return
	}
	e.interim(SpeakerUser, text)
}

func (e *Engine) notify(n Notification) {
	e.notifier.Notify(n)
}

func (e *Engine) unexpected(t ServerEventType, turn TurnState) {
	e.logger.Debug(
		"event in unexpected turn state",
		zap.String("type", string(t)),
		zap.String("turn", turn.String()),
	)
}
