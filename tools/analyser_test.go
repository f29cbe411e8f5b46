package tools

import (
	"io"
	"testing"
	"time"

	"github.com/bt-bridge/voice-shop/shared"
	"github.com/pion/mediadevices/pkg/wave"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chunkReader struct {
	chunks []wave.Audio
}

func (r *chunkReader) Read() (wave.Audio, func(), error) {
	if len(r.chunks) == 0 {
		return nil, func() {}, io.EOF
	}
	c := r.chunks[0]
	r.chunks = r.chunks[1:]
	return c, func() {}, nil
}

func TestSampleConversion(t *testing.T) {
	assert.Equal(t, uint8(128), Int16ToUint8(0))
	assert.Equal(t, uint8(0), Int16ToUint8(-32768))
	assert.Equal(t, uint8(255), Int16ToUint8(32767))

	assert.Equal(t, uint8(128), Float32ToUint8(0))
	assert.Equal(t, uint8(0), Float32ToUint8(-1))
	assert.Equal(t, uint8(255), Float32ToUint8(1))
	assert.Equal(t, uint8(255), Float32ToUint8(3))
}

func TestTrackAnalyserKeepsLatestBlock(t *testing.T) {
	first := &wave.Int16Interleaved{Data: []int16{0, 0, 0, 0}}
	second := &wave.Int16Interleaved{Data: []int16{256, 512}}
	a, err := NewTrackAnalyser(shared.NewNopLogger(), &chunkReader{chunks: []wave.Audio{first, second}}, 4)
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	require.Eventually(t, func() bool {
		b := a.Block()
		return len(b) == 4 && b[3] == 130
	}, time.Second, time.Millisecond)
	assert.Equal(t, []uint8{128, 128, 129, 130}, a.Block())
}

func TestTrackAnalyserRequiresReader(t *testing.T) {
	_, err := NewTrackAnalyser(shared.NewNopLogger(), nil, 0)
	assert.ErrorIs(t, err, shared.ErrNoAudioTrack)
}
