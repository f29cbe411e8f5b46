package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bt-bridge/voice-shop/shared"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"go.uber.org/zap"
)

// ControlChannelLabel is the data channel label the realtime service expects.
const ControlChannelLabel = "oai-events"

type TrackRemoteHandler func(track *webrtc.TrackRemote)

// ChannelHandler receives control channel and connection callbacks. Calls
// are made from pion's callback goroutines, one at a time per channel.
type ChannelHandler interface {
	OnChannelOpen()
	OnChannelMessage(data []byte)
	OnChannelClose()
	OnConnectionState(state webrtc.PeerConnectionState)
}

// Channel is the engine's view of an established transport.
type Channel interface {
	Bind(handler ChannelHandler) error
	Send(data []byte) error
	SetAudioInputEnabled(enabled bool)
	Close() error
}

type sampleWriter interface {
	WriteSample(sample media.Sample) error
}

// Transport owns one peer connection with a single local audio track and
// the ordered control channel.
type Transport struct {
	logger shared.LoggerAdapter

	mu      sync.Mutex
	pc      *webrtc.PeerConnection
	dc      *webrtc.DataChannel
	audio   webrtc.TrackLocal
	sender  *webrtc.RTPSender
	handler ChannelHandler
	// messages received before Bind or while it replays them
	backlog    [][]byte
	replaying  bool
	open       bool
	channelEnd bool
	closed     bool

	audioEnabled bool
	remoteTH     TrackRemoteHandler
	state        webrtc.PeerConnectionState

	ctx    context.Context
	cancel context.CancelCauseFunc
}

var _ Channel = (*Transport)(nil)

// NewLocalAudioTrack creates the Opus track the microphone is streamed into.
func NewLocalAudioTrack() (*webrtc.TrackLocalStaticSample, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		"audio",
		"mic",
	)
	if err != nil {
		return nil, fmt.Errorf("creating local audio track: %w", err)
	}
	return track, nil
}

func newTransport(ctx context.Context, logger shared.LoggerAdapter, cfg webrtc.Configuration) (*Transport, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}
	ctx, cancel := context.WithCancelCause(ctx)
	t := &Transport{
		logger:       logger,
		pc:           pc,
		audioEnabled: true,
		ctx:          ctx,
		cancel:       cancel,
	}
	pc.OnConnectionStateChange(t.onConnectionStateChange)
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			t.logger.Debug("ignoring remote track", zap.String("kind", track.Kind().String()))
			return
		}
		t.mu.Lock()
		handler := t.remoteTH
		t.mu.Unlock()
		if handler == nil {
			t.logger.Warn("remote audio track received without handler")
			return
		}
		go handler(track)
	})
	return t, nil
}

func (t *Transport) addAudio(track webrtc.TrackLocal) error {
	sender, err := t.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("adding audio track to peer connection: %w", err)
	}
	t.mu.Lock()
	t.audio = track
	t.sender = sender
	t.mu.Unlock()
	// RTCP has to be drained for interceptors to work.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (t *Transport) createControlChannel() error {
	ordered := true
	dc, err := t.pc.CreateDataChannel(ControlChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return fmt.Errorf("creating data channel: %w", err)
	}
	dc.OnOpen(func() {
		t.mu.Lock()
		t.open = true
		handler := t.handler
		t.mu.Unlock()
		t.logger.Info("control channel opened", zap.String("label", dc.Label()))
		if handler != nil {
			handler.OnChannelOpen()
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if !msg.IsString {
			t.logger.Warn("received non-string message on data channel")
			return
		}
		t.onMessage(msg.Data)
	})
	dc.OnClose(func() {
		t.mu.Lock()
		t.open = false
		t.channelEnd = true
		handler := t.handler
		t.mu.Unlock()
		t.logger.Info("control channel closed")
		if handler != nil {
			handler.OnChannelClose()
		}
	})
	t.mu.Lock()
	t.dc = dc
	t.mu.Unlock()
	return nil
}

func (t *Transport) onConnectionStateChange(state webrtc.PeerConnectionState) {
	t.mu.Lock()
	prev := t.state
	t.state = state
	handler := t.handler
	t.mu.Unlock()

	t.logger.Trace(
		"peer connection state changed",
		zap.String("prev", prev.String()),
		zap.String("new", state.String()),
	)
	if prev > state && state != webrtc.PeerConnectionStateConnecting {
		t.logger.Warn(
			"peer connection state changed to unexpected state",
			zap.String("prev", prev.String()),
			zap.String("new", state.String()),
		)
	}
	switch state {
	case webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateClosed:
		t.cancel(fmt.Errorf("peer connection state is %s", state))
	}
	if handler != nil {
		handler.OnConnectionState(state)
	}
}

// Bind attaches the handler. Messages that arrived before Bind are
// replayed in order, and an already open channel is reported as opened.
func (t *Transport) Bind(handler ChannelHandler) error {
	if handler == nil {
		return errors.New("handler is required")
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return shared.ErrTransportClosed
	}
	if t.handler != nil {
		t.mu.Unlock()
		return shared.ErrHandlerAlreadySet
	}
	t.handler = handler
	t.replaying = true
	open := t.open
	t.mu.Unlock()

	if open {
		handler.OnChannelOpen()
	}
	// Drain until nothing new was queued meanwhile; only then go live.
	for {
		t.mu.Lock()
		backlog := t.backlog
		t.backlog = nil
		if len(backlog) == 0 {
			t.replaying = false
			t.mu.Unlock()
			return nil
		}
		t.mu.Unlock()
		for _, data := range backlog {
			handler.OnChannelMessage(data)
		}
	}
}

// onMessage delivers data to the handler, or queues it while there is no
// handler yet or the backlog is still being replayed.
func (t *Transport) onMessage(data []byte) {
	t.mu.Lock()
	handler := t.handler
	if handler == nil || t.replaying {
		t.backlog = append(t.backlog, data)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	handler.OnChannelMessage(data)
}

func (t *Transport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return shared.ErrTransportClosed
	}
	if t.dc == nil || !t.open {
		return shared.ErrChannelNotOpen
	}
	if err := t.dc.SendText(string(data)); err != nil {
		return fmt.Errorf("sending on data channel: %w", err)
	}
	return nil
}

// WriteSample forwards a microphone sample to the local track. Samples
// are dropped while audio input is disabled.
func (t *Transport) WriteSample(sample media.Sample) error {
	t.mu.Lock()
	enabled := t.audioEnabled && !t.closed
	w, ok := t.audio.(sampleWriter)
	t.mu.Unlock()
	if !enabled {
		return nil
	}
	if !ok {
		return shared.ErrNoAudioTrack
	}
	return w.WriteSample(sample)
}

func (t *Transport) SetAudioInputEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.audioEnabled != enabled {
		t.logger.Debug("audio input toggled", zap.Bool("enabled", enabled))
	}
	t.audioEnabled = enabled
}

func (t *Transport) AudioInputEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.audioEnabled
}

// OnRemoteTrack registers the handler started for the remote audio track.
func (t *Transport) OnRemoteTrack(handler TrackRemoteHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remoteTH = handler
}

func (t *Transport) State() webrtc.PeerConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transport) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Err reports why the transport ended, nil while it is alive.
func (t *Transport) Err() error {
	if t.ctx.Err() == nil {
		return nil
	}
	return context.Cause(t.ctx)
}

func (t *Transport) localDescription() *webrtc.SessionDescription {
	return t.pc.LocalDescription()
}

func (t *Transport) RemoteDescription() *webrtc.SessionDescription {
	return t.pc.RemoteDescription()
}

// Close releases the peer connection. Repeated calls are no-ops.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.open = false
	dc := t.dc
	pc := t.pc
	t.mu.Unlock()

	var errs []error
	if dc != nil {
		if err := dc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing data channel: %w", err))
		}
	}
	if err := pc.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing peer connection: %w", err))
	}
	t.cancel(errors.New("transport closed"))
	return errors.Join(errs...)
}
