package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"
)

// SampleRate is the decode target rate; whisper models consume mono
// 16 kHz PCM.
const SampleRate = 16000

// Decoder turns arbitrary media files into mono 16 kHz float32 PCM by
// shelling out to ffmpeg.
type Decoder struct {
	FFmpegPath string
}

// NewDecoder returns a decoder using the ffmpeg binary from PATH.
func NewDecoder() *Decoder {
	return &Decoder{FFmpegPath: "ffmpeg"}
}

// DecodePCM decodes the file at path into normalized float32 samples.
func (d *Decoder) DecodePCM(ctx context.Context, path string) ([]float32, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("cannot access input media: %w", err)
	}

	bin := d.FFmpegPath
	if bin == "" {
		bin = "ffmpeg"
	}

	// ffmpeg -i input -vn -ac 1 -ar 16000 -f f32le pipe:1
	cmd := exec.CommandContext(ctx, bin,
		"-hide_banner",
		"-nostdin",
		"-i", path,
		"-vn",
		"-ac", "1",
		"-ar", fmt.Sprintf("%d", SampleRate),
		"-f", "f32le",
		"pipe:1",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := lastLine(stderr.String())
		return nil, fmt.Errorf("ffmpeg decode %s: %w (%s)", path, err, detail)
	}

	samples := bytesToFloat32(stdout.Bytes())
	log.Debug().Str("path", path).Float64("seconds", Duration(samples)).Msg("decoded audio")
	return samples, nil
}

// Duration returns the length in seconds of a sample buffer.
func Duration(samples []float32) float64 {
	return float64(len(samples)) / float64(SampleRate)
}

// Slice extracts [startSec, endSec) from a sample buffer, clamped to
// the buffer bounds.
func Slice(samples []float32, startSec, endSec float64) []float32 {
	start := int(startSec * SampleRate)
	end := int(endSec * SampleRate)
	if start < 0 {
		start = 0
	}
	if end > len(samples) {
		end = len(samples)
	}
	if start >= end {
		return nil
	}
	return samples[start:end]
}

// EncodeWAV writes samples as a 16-bit mono PCM WAV payload, used when
// handing audio to engines that consume files rather than raw PCM.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}

	pcm := float32ToPCM16(samples)
	dataSize := len(pcm) * 2
	riffSize := 36 + dataSize
	byteRate := sampleRate * 2

	buf := make([]byte, 44+dataSize)
	copy(buf[0:], []byte("RIFF"))
	binary.LittleEndian.PutUint32(buf[4:], uint32(riffSize))
	copy(buf[8:], []byte("WAVEfmt "))
	binary.LittleEndian.PutUint32(buf[16:], 16)
	binary.LittleEndian.PutUint16(buf[20:], 1)
	binary.LittleEndian.PutUint16(buf[22:], 1)
	binary.LittleEndian.PutUint32(buf[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:], 2)
	binary.LittleEndian.PutUint16(buf[34:], 16)
	copy(buf[36:], []byte("data"))
	binary.LittleEndian.PutUint32(buf[40:], uint32(dataSize))

	for i, sample := range pcm {
		binary.LittleEndian.PutUint16(buf[44+i*2:], uint16(sample))
	}
	return buf
}

func float32ToPCM16(src []float32) []int16 {
	dst := make([]int16, len(src))
	for i, sample := range src {
		v := float64(sample)
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		dst[i] = int16(math.Round(v * 32767))
	}
	return dst
}

func bytesToFloat32(raw []byte) []float32 {
	n := len(raw) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(raw[i*4:])
		out[i] = math.Float32frombits(bits)
	}
	return out
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
