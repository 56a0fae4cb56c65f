package mpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"discplay/pkg/media"
)

func TestPriorityDecodersEndWithSoftware(t *testing.T) {
	for _, c := range Codecs {
		names := priorityDecoders(c, Options{})
		if assert.NotEmpty(t, names, c.String()) {
			assert.NotContains(t, names[len(names)-1], "cuvid", c.String())
		}
		assert.NotZero(t, codecKind(c), c.String())
	}
}

func TestPriorityDecodersHonourOptions(t *testing.T) {
	names := priorityDecoders(media.CodecMPEG2Video, Options{VideoDecoder: "mpeg2_custom", SoftwareOnly: true})
	assert.Equal(t, []string{"mpeg2_custom", "mpeg2video"}, names)

	audio := priorityDecoders(media.CodecAC3, Options{VideoDecoder: "mpeg2_custom"})
	assert.NotContains(t, audio, "mpeg2_custom")
	assert.Zero(t, codecKind(media.CodecLPCM))
}
