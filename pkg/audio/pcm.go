package audio

import (
	"encoding/binary"
	"time"
)

// bytesFor returns how many bytes of interleaved S16 PCM cover d.
func bytesFor(d time.Duration, rate, channels int) int {
	frames := int(d * time.Duration(rate) / time.Second)
	return frames * channels * 2
}

// scaleVolume scales S16LE samples in place by volume percent (0-100).
func scaleVolume(samples []byte, volume int) {
	if volume >= 100 {
		return
	}
	if volume <= 0 {
		clear(samples)
		return
	}
	for i := 0; i+1 < len(samples); i += 2 {
		v := int32(int16(binary.LittleEndian.Uint16(samples[i:])))
		v = v * int32(volume) / 100
		binary.LittleEndian.PutUint16(samples[i:], uint16(int16(v)))
	}
}
