package media

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuration(t *testing.T) {
	assert.Equal(t, 0.0, Duration(nil))
	assert.Equal(t, 1.0, Duration(make([]float32, SampleRate)))
	assert.Equal(t, 2.5, Duration(make([]float32, SampleRate*5/2)))
}

func TestSliceBounds(t *testing.T) {
	samples := make([]float32, SampleRate*2)
	for i := range samples {
		samples[i] = float32(i)
	}

	full := Slice(samples, 0, 2)
	assert.Len(t, full, len(samples))

	head := Slice(samples, 0, 1)
	assert.Len(t, head, SampleRate)
	assert.Equal(t, float32(0), head[0])

	tail := Slice(samples, 1, 5)
	assert.Len(t, tail, SampleRate)
	assert.Equal(t, float32(SampleRate), tail[0])

	assert.Nil(t, Slice(samples, 3, 4))
	assert.Nil(t, Slice(samples, 1, 1))
}

func TestEncodeWAVHeader(t *testing.T) {
	samples := []float32{0, 0.5, -0.5, 1, -1}
	wav := EncodeWAV(samples, 16000)

	require.Len(t, wav, 44+len(samples)*2)
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, "WAVEfmt ", string(wav[8:16]))
	assert.Equal(t, "data", string(wav[36:40]))

	assert.Equal(t, uint32(16000), binary.LittleEndian.Uint32(wav[24:]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(wav[22:]), "mono")
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(wav[34:]), "bits per sample")
	assert.Equal(t, uint32(len(samples)*2), binary.LittleEndian.Uint32(wav[40:]))

	// Clipping: full-scale samples map to int16 extremes.
	assert.Equal(t, uint16(32767), binary.LittleEndian.Uint16(wav[44+3*2:]))
	assert.Equal(t, uint16(0x8001), binary.LittleEndian.Uint16(wav[44+4*2:]))
}

func TestBytesToFloat32Roundtrip(t *testing.T) {
	src := []float32{0, 0.25, -0.25, 0.99}
	raw := make([]byte, len(src)*4)
	for i, f := range src {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(f))
	}
	assert.Equal(t, src, bytesToFloat32(raw))

	// Trailing partial frames are ignored.
	assert.Len(t, bytesToFloat32(raw[:len(raw)-2]), len(src)-1)
}
