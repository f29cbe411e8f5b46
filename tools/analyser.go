package tools

import (
	"errors"
	"io"
	"math"
	"sync"

	"github.com/bt-bridge/voice-shop/shared"
	"github.com/pion/mediadevices/pkg/wave"
	"go.uber.org/zap"
)

const DefaultAnalyserBlock = 128

// PCMReader is satisfied by mediadevices audio readers.
type PCMReader interface {
	Read() (chunk wave.Audio, release func(), err error)
}

// TrackAnalyser taps raw microphone PCM and keeps the latest block in
// unsigned 8-bit form.
type TrackAnalyser struct {
	logger shared.LoggerAdapter

	mu    sync.Mutex
	ring  []uint8
	next  int
	full  bool
	done  chan struct{}
	close sync.Once
}

var _ Analyser = (*TrackAnalyser)(nil)

func NewTrackAnalyser(logger shared.LoggerAdapter, reader PCMReader, blockSize int) (*TrackAnalyser, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if reader == nil {
		return nil, shared.ErrNoAudioTrack
	}
	if blockSize <= 0 {
		blockSize = DefaultAnalyserBlock
	}
	a := &TrackAnalyser{
		logger: logger,
		ring:   make([]uint8, blockSize),
		done:   make(chan struct{}),
	}
	go a.pump(reader)
	return a, nil
}

func (a *TrackAnalyser) pump(reader PCMReader) {
	for {
		select {
		case <-a.done:
			return
		default:
		}
		chunk, release, err := reader.Read()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				a.logger.Warn("reading microphone pcm", zap.Error(err))
			}
			return
		}
		a.feed(chunk)
		if release != nil {
			release()
		}
	}
}

func (a *TrackAnalyser) feed(chunk wave.Audio) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch c := chunk.(type) {
	case *wave.Int16Interleaved:
		for _, s := range c.Data {
			a.push(Int16ToUint8(s))
		}
	case *wave.Float32Interleaved:
		for _, s := range c.Data {
			a.push(Float32ToUint8(s))
		}
	default:
		a.logger.Debug("unsupported pcm chunk")
	}
}

func (a *TrackAnalyser) push(b uint8) {
	a.ring[a.next] = b
	a.next++
	if a.next == len(a.ring) {
		a.next = 0
		a.full = true
	}
}

// Block returns the latest samples, oldest first.
func (a *TrackAnalyser) Block() []uint8 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.full {
		return append([]uint8(nil), a.ring[:a.next]...)
	}
	out := make([]uint8, 0, len(a.ring))
	out = append(out, a.ring[a.next:]...)
	return append(out, a.ring[:a.next]...)
}

// Close stops the pump after its current read returns.
func (a *TrackAnalyser) Close() error {
	a.close.Do(func() { close(a.done) })
	return nil
}

func Int16ToUint8(s int16) uint8 {
	return uint8((int(s) >> 8) + 128)
}

func Float32ToUint8(s float32) uint8 {
	v := math.Round(float64(s)*128 + 128)
	return uint8(math.Max(0, math.Min(255, v)))
}
