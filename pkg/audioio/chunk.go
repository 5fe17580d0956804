package audioio

import (
	"encoding/binary"
	"time"
)

// Chunk is a block of interleaved PCM16 samples.
type Chunk struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// DecodeChunk reads little-endian PCM16. A trailing odd byte is ignored.
func DecodeChunk(pcm []byte, sampleRate, channels int) Chunk {
	samples := make([]int16, len(pcm)/BytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*BytesPerSample:]))
	}
	return Chunk{Samples: samples, SampleRate: sampleRate, Channels: channels}
}

// Bytes encodes the samples as little-endian PCM16.
func (c Chunk) Bytes() []byte {
	out := make([]byte, 0, len(c.Samples)*BytesPerSample)
	for _, s := range c.Samples {
		out = binary.LittleEndian.AppendUint16(out, uint16(s))
	}
	return out
}

// Duration is the chunk's playback length.
func (c Chunk) Duration() time.Duration {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	frames := len(c.Samples) / c.Channels
	return time.Duration(frames) * time.Second / time.Duration(c.SampleRate)
}

// Mono averages interleaved channels into one.
func (c Chunk) Mono() Chunk {
	if c.Channels <= 1 {
		return c
	}
	out := make([]int16, len(c.Samples)/c.Channels)
	for i := range out {
		var sum int32
		for _, s := range c.Samples[i*c.Channels : (i+1)*c.Channels] {
			sum += int32(s)
		}
		out[i] = int16(sum / int32(c.Channels))
	}
	return Chunk{Samples: out, SampleRate: c.SampleRate, Channels: 1}
}

// Resample converts a mono chunk to rate by linear interpolation, which is
// adequate for speech.
func (c Chunk) Resample(rate int) Chunk {
	if rate <= 0 || c.SampleRate <= 0 || rate == c.SampleRate || len(c.Samples) == 0 {
		return c
	}

	step := float64(c.SampleRate) / float64(rate)
	n := len(c.Samples) * rate / c.SampleRate
	out := make([]int16, n)
	last := len(c.Samples) - 1

	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = c.Samples[last]
			continue
		}
		a, b := float64(c.Samples[j]), float64(c.Samples[j+1])
		out[i] = int16(a + (pos-float64(j))*(b-a))
	}
	return Chunk{Samples: out, SampleRate: rate, Channels: 1}
}

// Level is the mean power of the chunk, from 0 for silence to 1 for a
// full-scale square wave.
func (c Chunk) Level() float64 {
	if len(c.Samples) == 0 {
		return 0
	}
	const full = 32767.0 * 32767.0
	var sum float64
	for _, s := range c.Samples {
		sum += float64(s) * float64(s)
	}
	return sum / float64(len(c.Samples)) / full
}
