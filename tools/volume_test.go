package tools

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bt-bridge/voice-shop/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func filled(n int, v uint8) []uint8 {
	b := make([]uint8, n)
	for i := range b {
		b[i] = v
	}
	return b
}

func TestVolumePercent(t *testing.T) {
	tests := []struct {
		name     string
		block    []uint8
		expected float64
	}{
		{name: "empty block", block: nil, expected: 0},
		{name: "silence", block: filled(128, 128), expected: 0},
		// rms = 1/128, pct ~= 1.56
		{name: "faint input is floored", block: filled(128, 129), expected: 5},
		// rms = 8/128, pct = 12.5
		{name: "moderate input passes through", block: filled(128, 136), expected: 12.5},
		// rms = 64/128, pct = 100
		{name: "loud input", block: filled(128, 192), expected: 100},
		// rms = 1, pct capped
		{name: "clipped input is capped", block: filled(128, 0), expected: 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, VolumePercent(tt.block), 1e-9)
		})
	}
}

type staticAnalyser struct {
	mu    sync.Mutex
	block []uint8
}

func (a *staticAnalyser) Block() []uint8 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.block
}

func newMonitor(t *testing.T, onSample func(float64)) *VolumeMonitor {
	t.Helper()
	m, err := NewVolumeMonitor(shared.NewLogger(zaptest.NewLogger(t)), 5*time.Millisecond, onSample)
	require.NoError(t, err)
	return m
}

func TestVolumeMonitorWithoutAnalyser(t *testing.T) {
	m := newMonitor(t, nil)
	err := m.Attach(func() (Analyser, error) { return nil, errors.New("no device") })
	require.Error(t, err)
	assert.Equal(t, 0.0, m.Sample())

	err = m.Attach(func() (Analyser, error) { return nil, nil })
	assert.ErrorIs(t, err, shared.ErrNoAudioDevice)
	assert.Equal(t, 0.0, m.Sample())
}

func TestVolumeMonitorToggle(t *testing.T) {
	m := newMonitor(t, nil)
	require.NoError(t, m.Attach(func() (Analyser, error) {
		return &staticAnalyser{block: filled(128, 136)}, nil
	}))
	assert.InDelta(t, 12.5, m.Sample(), 1e-9)

	m.SetEnabled(false)
	assert.Equal(t, 0.0, m.Sample())

	m.SetEnabled(true)
	assert.InDelta(t, 12.5, m.Sample(), 1e-9)
}

func TestVolumeMonitorPeriodic(t *testing.T) {
	samples := make(chan float64, 16)
	m := newMonitor(t, func(pct float64) {
		select {
		case samples <- pct:
		default:
		}
	})
	require.NoError(t, m.Attach(func() (Analyser, error) {
		return &staticAnalyser{block: filled(128, 192)}, nil
	}))
	m.Start()
	m.Start()

	select {
	case pct := <-samples:
		assert.Equal(t, 100.0, pct)
	case <-time.After(time.Second):
		t.Fatal("no sample produced")
	}

	m.Stop()
	m.Stop()
	assert.Equal(t, 0.0, m.Last())
}
