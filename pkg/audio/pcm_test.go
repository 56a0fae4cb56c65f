package audio

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBytesFor(t *testing.T) {
	assert.Equal(t, 48000*2*2/4, bytesFor(250*time.Millisecond, 48000, 2))
	assert.Equal(t, 0, bytesFor(0, 48000, 2))
}

func TestScaleVolume(t *testing.T) {
	samples := make([]byte, 4)
	binary.LittleEndian.PutUint16(samples[0:], uint16(int16(1000)))
	binary.LittleEndian.PutUint16(samples[2:], uint16(int16(-1000)))

	scaleVolume(samples, 50)
	assert.Equal(t, int16(500), int16(binary.LittleEndian.Uint16(samples[0:])))
	assert.Equal(t, int16(-500), int16(binary.LittleEndian.Uint16(samples[2:])))

	scaleVolume(samples, 100)
	assert.Equal(t, int16(500), int16(binary.LittleEndian.Uint16(samples[0:])))

	scaleVolume(samples, 0)
	assert.Equal(t, []byte{0, 0, 0, 0}, samples)
}
