package tools

import (
	"encoding/binary"
	"time"
)

// FrameSamples is the number of interleaved samples in duration of audio.
func FrameSamples(duration time.Duration, rate, channels int) int {
	if duration <= 0 || rate <= 0 || channels <= 0 {
		return 0
	}
	perChannel := int64(duration) * int64(rate) / int64(time.Second)
	return int(perChannel) * channels
}

// FrameBytes is FrameSamples for signed 16-bit samples.
func FrameBytes(duration time.Duration, rate, channels int) int {
	return FrameSamples(duration, rate, channels) * 2
}

// PCMBytes encodes samples as signed 16-bit little endian.
func PCMBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
