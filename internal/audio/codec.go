package audio

import (
	"encoding/binary"
	"fmt"
	"time"
)

const (
	// DefaultSampleRate is the nominal sample rate agreed with clients.
	DefaultSampleRate = 16000
	// DefaultSampleWidth is the width in bytes of a signed 16-bit PCM sample.
	DefaultSampleWidth = 2
	// DefaultChannels is mono.
	DefaultChannels = 1
)

// Format describes raw little-endian PCM audio.
type Format struct {
	SampleRate  int `json:"sample_rate" yaml:"sample_rate"`
	SampleWidth int `json:"sample_width" yaml:"sample_width"`
	Channels    int `json:"channels" yaml:"channels"`
}

// DefaultFormat returns 16 kHz mono 16-bit PCM.
func DefaultFormat() Format {
	return Format{
		SampleRate:  DefaultSampleRate,
		SampleWidth: DefaultSampleWidth,
		Channels:    DefaultChannels,
	}
}

// Validate checks that the format can be used for byte/time conversions.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", f.SampleRate)
	}
	if f.SampleWidth != 2 {
		return fmt.Errorf("only 16-bit PCM is supported, got sample width %d", f.SampleWidth)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", f.Channels)
	}
	return nil
}

// BytesPerSecond is the byte rate of the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.SampleWidth * f.Channels
}

// BytesFor returns the number of bytes covering the given number of seconds.
// The result is fractional on purpose: trigger checks compare against it strictly.
func (f Format) BytesFor(seconds float64) float64 {
	return seconds * float64(f.SampleRate) * float64(f.SampleWidth) * float64(f.Channels)
}

// Seconds returns the audio duration of n bytes in seconds.
func (f Format) Seconds(n int) float64 {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return float64(n) / float64(bps)
}

// Duration returns the audio duration of n bytes.
func (f Format) Duration(n int) time.Duration {
	return time.Duration(f.Seconds(n) * float64(time.Second))
}

// Samples returns the number of samples contained in n bytes.
func (f Format) Samples(n int) uint64 {
	if f.SampleWidth <= 0 {
		return 0
	}
	return uint64(n / f.SampleWidth)
}

// DecodePCM16 converts little-endian signed 16-bit PCM bytes into samples.
// A trailing odd byte is ignored.
func DecodePCM16(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		// #nosec G115 -- reinterpreting the unsigned word as signed PCM
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// EncodePCM16 converts samples into little-endian signed 16-bit PCM bytes.
func EncodePCM16(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		// #nosec G115 -- reinterpreting the signed sample as its unsigned word
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}
