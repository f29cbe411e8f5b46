package tools

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/bt-bridge/voice-shop/shared"
	"go.uber.org/zap"
)

const (
	DefaultVolumeInterval = 100 * time.Millisecond
	// MinAudibleVolume is the floor for faint but nonzero input.
	MinAudibleVolume = 5.0
)

// Analyser exposes the most recent block of unsigned 8-bit samples, where
// 128 is silence.
type Analyser interface {
	Block() []uint8
}

// VolumePercent maps a sample block to a loudness in [0,100].
func VolumePercent(block []uint8) float64 {
	if len(block) == 0 {
		return 0
	}
	var sum float64
	for _, b := range block {
		v := float64(b)/128 - 1
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(block)))
	pct := math.Min(100, rms*200)
	if pct > 0 && pct < MinAudibleVolume {
		return MinAudibleVolume
	}
	return pct
}

// VolumeMonitor samples an analyser on a fixed cadence. Without an
// analyser, or while disabled, every sample is 0.
type VolumeMonitor struct {
	logger   shared.LoggerAdapter
	interval time.Duration
	onSample func(pct float64)

	mu       sync.Mutex
	analyser Analyser
	enabled  bool
	sample   float64
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewVolumeMonitor creates a monitor; onSample, if set, receives every sample.
func NewVolumeMonitor(logger shared.LoggerAdapter, interval time.Duration, onSample func(pct float64)) (*VolumeMonitor, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if interval <= 0 {
		interval = DefaultVolumeInterval
	}
	return &VolumeMonitor{
		logger:   logger,
		interval: interval,
		onSample: onSample,
		enabled:  true,
	}, nil
}

// Attach acquires the analyser. A failure leaves the monitor reporting 0
// and is returned for the caller to log; it is never fatal to a session.
func (m *VolumeMonitor) Attach(open func() (Analyser, error)) error {
	a, err := open()
	if err == nil && a == nil {
		err = shared.ErrNoAudioDevice
	}
	if err != nil {
		m.logger.Warn("volume analyser unavailable, reporting silence", zap.Error(err))
		return fmt.Errorf("attaching volume analyser: %w", err)
	}
	m.mu.Lock()
	m.analyser = a
	m.mu.Unlock()
	return nil
}

func (m *VolumeMonitor) SetEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
	if !enabled {
		m.sample = 0
	}
}

// Sample measures now and returns the percentage.
func (m *VolumeMonitor) Sample() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sample = m.measure()
	return m.sample
}

// Last returns the most recent periodic sample.
func (m *VolumeMonitor) Last() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sample
}

func (m *VolumeMonitor) measure() float64 {
	if !m.enabled || m.analyser == nil {
		return 0
	}
	return VolumePercent(m.analyser.Block())
}

// Start begins periodic sampling. Calling it while running does nothing.
func (m *VolumeMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		return
	}
	stop := make(chan struct{})
	m.stop = stop
	m.wg.Add(1)
	go m.run(stop)
}

func (m *VolumeMonitor) run(stop <-chan struct{}) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			pct := m.Sample()
			if m.onSample != nil {
				m.onSample(pct)
			}
		}
	}
}

// Stop ends periodic sampling and resets the sample to 0.
func (m *VolumeMonitor) Stop() {
	m.mu.Lock()
	stop := m.stop
	m.stop = nil
	m.sample = 0
	m.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	m.wg.Wait()
	m.mu.Lock()
	m.sample = 0
	m.mu.Unlock()
}
