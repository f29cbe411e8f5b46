package tools

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/bt-bridge/voice-shop/shared"
	"github.com/ebitengine/oto/v3"
	"github.com/jj11hh/opus"
	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"go.uber.org/zap"
)

// AudioBuffer is a bounded PCM byte queue feeding the speaker. When full,
// the oldest bytes are dropped.
type AudioBuffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	data   []byte
	limit  int
	closed bool
}

func NewAudioBuffer(limit int) *AudioBuffer {
	ab := &AudioBuffer{
		data:  make([]byte, 0, limit),
		limit: limit,
	}
	ab.cond = sync.NewCond(&ab.mu)
	return ab
}

// Write appends p and reports how many old bytes were discarded.
func (ab *AudioBuffer) Write(p []byte) (dropped int) {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	if ab.closed {
		return len(p)
	}
	if len(p) > ab.limit {
		dropped = len(p) - ab.limit
		p = p[dropped:]
	}
	if over := len(ab.data) + len(p) - ab.limit; over > 0 {
		ab.data = ab.data[over:]
		dropped += over
	}
	ab.data = append(ab.data, p...)
	ab.cond.Signal()
	return dropped
}

// Read blocks until data is queued or the buffer is closed.
func (ab *AudioBuffer) Read(p []byte) (int, error) {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	for len(ab.data) == 0 && !ab.closed {
		ab.cond.Wait()
	}
	if len(ab.data) == 0 {
		return 0, io.EOF
	}
	n := copy(p, ab.data)
	ab.data = ab.data[n:]
	return n, nil
}

func (ab *AudioBuffer) Len() int {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	return len(ab.data)
}

func (ab *AudioBuffer) Close() error {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	ab.closed = true
	ab.cond.Broadcast()
	return nil
}

// SampleWriter receives encoded microphone frames; the transport gates
// them on the audio input flag.
type SampleWriter interface {
	WriteSample(sample media.Sample) error
}

// StreamLocalAudio pumps encoded frames of mediaTrack into w until ctx is
// done or the track ends.
func StreamLocalAudio(ctx context.Context, logger shared.LoggerAdapter, w SampleWriter, mediaTrack mediadevices.Track, mimeType string, frameDuration time.Duration) error {
	if w == nil || mediaTrack == nil {
		return shared.ErrNoAudioTrack
	}
	reader, err := mediaTrack.NewEncodedReader(mimeType)
	if err != nil {
		return err
	}
	defer func() {
		if err := reader.Close(); err != nil {
			logger.Debug("closing encoded reader", zap.Error(err))
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		buf, release, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			logger.Error("reading from media track", err)
			return err
		}
		if buf.Samples == 0 {
			release()
			continue
		}
		err = w.WriteSample(media.Sample{Data: buf.Data, Duration: frameDuration})
		release()
		if err != nil {
			logger.Warn("writing sample to track", zap.Error(err))
		}
	}
}

// PlayRemoteAudio decodes the remote Opus track and plays it on the
// default output device until ctx is done or the track ends.
func PlayRemoteAudio(ctx context.Context, logger shared.LoggerAdapter, track *webrtc.TrackRemote, frame time.Duration, queue time.Duration) error {
	var (
		codec      = track.Codec()
		sampleRate = int(codec.ClockRate)
		channels   = int(codec.Channels)
	)
	if channels == 0 {
		channels = 2
	}
	logger.Info("playing remote audio",
		zap.String("codec", codec.MimeType),
		zap.Int("sampleRate", sampleRate),
		zap.Int("channels", channels),
	)
	decoder, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return err
	}
	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   frame,
	})
	if err != nil {
		return err
	}
	<-ready

	buffer := NewAudioBuffer(FrameBytes(queue, sampleRate, channels))
	defer func() { _ = buffer.Close() }()
	player := otoCtx.NewPlayer(buffer)
	player.Play()
	defer func() { _ = player.Close() }()

	// 120ms is the longest Opus frame.
	pcm := make([]int16, FrameSamples(120*time.Millisecond, sampleRate, channels))
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, err := decoder.Decode(pkt.Payload, pcm)
		if err != nil {
			logger.Warn("decoding opus", zap.Error(err))
			continue
		}
		if dropped := buffer.Write(PCMBytes(pcm[:n*channels])); dropped > 0 {
			logger.Debug("audio buffer dropped data", zap.Int("droppedBytes", dropped))
		}
	}
}
