package agents

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pkg "github.com/bt-bridge/voice-shop"
	"github.com/bt-bridge/voice-shop/catalog"
	"github.com/bt-bridge/voice-shop/functions"
	"github.com/bt-bridge/voice-shop/shared"
	"github.com/bt-bridge/voice-shop/tools"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

var ErrNoPrinter = errors.New("no printer provided")

// Remote playback buffering.
const (
	playbackFrame = 20 * time.Millisecond
	playbackQueue = 500 * time.Millisecond
)

// CLIAgent is the terminal host: it owns the microphone, the transport and
// the engine of one voice session and renders it through a TranscriptView.
type CLIAgent struct {
	logger    shared.LoggerAdapter
	printer   *shared.Printer
	view      *TranscriptView
	engine    *pkg.Engine
	registry  *functions.Registry
	transport *pkg.Transport
	monitor   *tools.VolumeMonitor
	analyser  *tools.TrackAnalyser
	micTrack  mediadevices.Track
	done      <-chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// Spawn acquires the microphone, fetches a credential, negotiates the
// session and starts the conversation. On error everything acquired so far
// is released.
func (a *CLIAgent) Spawn(
	ctx context.Context,
	logger shared.LoggerAdapter,
	cfg *shared.Config,
	printer *shared.Printer,
) (err error) {
	if logger == nil {
		return shared.ErrNoLogger
	}
	if cfg == nil {
		return shared.ErrNoConfig
	}
	if printer == nil {
		return ErrNoPrinter
	}
	a.logger = logger
	a.printer = printer
	if a.view, err = NewTranscriptView(logger, printer); err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	defer func() {
		if err == nil {
			return
		}
		if cerr := a.Close(); cerr != nil {
			a.logger.Error("releasing CLI agent after failed spawn", cerr)
		}
	}()
	a.logger.Info("spawning CLI agent")
	a.println("🤖 Spawning voice shopping assistant...\n", 0)

	a.registry = functions.NewRegistry()
	if err := catalog.Register(a.registry); err != nil {
		a.logger.Error("registering catalog tool", err)
		return err
	}

	a.println("📋 Configuration\n", 0)
	yamlBytes, err := cfg.YAML()
	if err != nil {
		a.logger.Error("marshaling configuration to yaml", err)
		return err
	}
	if err := a.printer.Write(string(yamlBytes), 1); err != nil {
		a.logger.Error("printing configuration", err)
		return err
	}

	opusParams, err := a.openMicrophone()
	if err != nil {
		return err
	}
	localTrack, err := pkg.NewLocalAudioTrack()
	if err != nil {
		a.logger.Error("creating local audio track", err)
		return err
	}

	a.monitor, err = tools.NewVolumeMonitor(a.logger, cfg.VolumeInterval, a.view.SetVolume)
	if err != nil {
		return err
	}
	if err := a.monitor.Attach(a.openAnalyser); err != nil {
		// the conversation works without a meter
		a.println("⚠️  Volume meter unavailable.", 0)
	}
	if a.engine, err = pkg.NewEngine(a.logger, a.view, a.monitor); err != nil {
		return err
	}

	a.println("🔑 Fetching session credential...", 0)
	source, err := pkg.NewCredentialSource(a.logger, cfg.CredentialURL, cfg.CredentialTokenPaths, nil)
	if err != nil {
		return err
	}
	credential, err := source.Fetch(ctx)
	if err != nil {
		a.logger.Error("fetching credential", err)
		a.println("❌ Unable to get a session credential: "+err.Error(), 0)
		return err
	}
	a.println("✅ Credential received.\n", 0)

	a.println("📡 Negotiating realtime session...", 0)
	negotiator, err := pkg.NewNegotiator(
		a.logger, cfg.RealtimeURL, cfg.Model,
		pkg.WithICEServers(cfg.ICEServers...),
		pkg.WithTimeout(cfg.NegotiationTimeout),
		pkg.WithRemoteTrack(func(track *webrtc.TrackRemote) {
			a.logger.Info(
				"received remote track",
				zap.String("kind", track.Kind().String()),
				zap.String("codec", track.Codec().MimeType),
			)
			if err := tools.PlayRemoteAudio(runCtx, a.logger, track, playbackFrame, playbackQueue); err != nil {
				a.logger.Error("playing remote audio", err)
			}
		}),
	)
	if err != nil {
		return err
	}
	if a.transport, err = negotiator.Negotiate(ctx, credential, localTrack); err != nil {
		a.logger.Error("negotiating session", err)
		a.println("❌ Unable to start the realtime session: "+err.Error(), 0)
		return err
	}
	a.println("✅ Session negotiated.\n", 0)

	if err := a.engine.Start(a.transport, a.registry); err != nil {
		a.logger.Error("starting engine", err)
		return err
	}
	a.done = a.engine.Done()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		err := tools.StreamLocalAudio(runCtx, a.logger, a.transport, a.micTrack, localTrack.Codec().MimeType, time.Duration(opusParams.Latency))
		if err != nil {
			a.logger.Error("streaming microphone", err)
		}
	}()
	a.println("💡 Commands: pause, resume, toggle, clear, transcript, help, quit\n", 0)
	return nil
}

func (a *CLIAgent) openMicrophone() (opus.Params, error) {
	a.println("🎤 Accessing microphone...", 0)
	opusParams, err := opus.NewParams()
	if err != nil {
		a.logger.Error("creating opus params", err)
		return opusParams, err
	}
	micStream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			c.SampleRate = prop.Int(48000)
			c.ChannelCount = prop.Int(1)
			c.SampleSize = prop.Int(16)
		},
		Codec: mediadevices.NewCodecSelector(
			mediadevices.WithAudioEncoders(&opusParams),
		),
	})
	if err != nil {
		a.logger.Error("getting microphone stream", err)
		a.println("❌ Unable to access microphone. Please ensure that your microphone is connected and that you have granted permission to access it.\n", 0)
		return opusParams, fmt.Errorf("%w: %w", shared.ErrNoAudioDevice, err)
	}
	audioTracks := micStream.GetAudioTracks()
	if len(audioTracks) == 0 {
		a.logger.Error("no audio track found in microphone stream", shared.ErrNoAudioTrack)
		a.println("❌ No audio track found in microphone stream.\n", 0)
		return opusParams, shared.ErrNoAudioTrack
	}
	a.micTrack = audioTracks[0]
	a.logger.Info("microphone stream obtained successfully")
	a.println("✅ Microphone access granted.\n", 0)
	return opusParams, nil
}

// openAnalyser taps raw PCM from the microphone for the volume meter.
func (a *CLIAgent) openAnalyser() (tools.Analyser, error) {
	track, ok := a.micTrack.(*mediadevices.AudioTrack)
	if !ok {
		return nil, shared.ErrNoAudioDevice
	}
	analyser, err := tools.NewTrackAnalyser(a.logger, track.NewReader(false), tools.DefaultAnalyserBlock)
	if err != nil {
		return nil, err
	}
	a.analyser = analyser
	return analyser, nil
}

func (a *CLIAgent) println(s string, ind int) {
	if err := a.printer.Writeln(s, ind); err != nil {
		a.logger.Error("printing message", err, zap.String("message", s))
	}
}

// View exposes the transcript view, e.g. to bind the prompt.
func (a *CLIAgent) View() *TranscriptView {
	return a.view
}

// Done is closed when the session ends.
func (a *CLIAgent) Done() <-chan struct{} {
	switch {
	case a.done != nil:
		return a.done
	case a.engine != nil:
		return a.engine.Done()
	}
	done := make(chan struct{})
	close(done)
	return done
}

// Close stops the session and releases the microphone. It is safe to call
// more than once.
func (a *CLIAgent) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	var errs []error
	if a.engine != nil {
		errs = append(errs, a.engine.Stop())
	}
	if a.transport != nil {
		errs = append(errs, a.transport.Close())
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.monitor != nil {
		a.monitor.Stop()
	}
	if a.analyser != nil {
		errs = append(errs, a.analyser.Close())
	}
	if a.micTrack != nil {
		errs = append(errs, a.micTrack.Close())
	}
	a.wg.Wait()
	return errors.Join(errs...)
}
