package tools

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFrameSizes(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		rate     int
		channels int
		samples  int
	}{
		{name: "longest opus frame", duration: 120 * time.Millisecond, rate: 48000, channels: 2, samples: 11520},
		{name: "opus default frame", duration: 20 * time.Millisecond, rate: 48000, channels: 2, samples: 1920},
		{name: "realtime pcm mono", duration: 100 * time.Millisecond, rate: 24000, channels: 1, samples: 2400},
		{name: "partial sample truncates", duration: time.Millisecond / 3, rate: 44100, channels: 1, samples: 14},
		{name: "playback queue", duration: 500 * time.Millisecond, rate: 48000, channels: 2, samples: 48000},
		{name: "no duration", duration: 0, rate: 48000, channels: 2, samples: 0},
		{name: "negative duration", duration: -time.Second, rate: 48000, channels: 2, samples: 0},
		{name: "no channels", duration: time.Second, rate: 48000, channels: 0, samples: 0},
		{name: "no rate", duration: time.Second, rate: 0, channels: 2, samples: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.samples, FrameSamples(tt.duration, tt.rate, tt.channels))
			assert.Equal(t, tt.samples*2, FrameBytes(tt.duration, tt.rate, tt.channels))
		})
	}
}

func TestPCMBytes(t *testing.T) {
	assert.Equal(t, []byte{0x01, 0x00, 0xff, 0xff, 0x00, 0x80}, PCMBytes([]int16{1, -1, -32768}))
	assert.Empty(t, PCMBytes(nil))
}
