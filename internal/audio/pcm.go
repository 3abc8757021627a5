package audio

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Format describes a linear PCM stream
type Format struct {
	SampleRate  int `yaml:"sample_rate" json:"sample_rate"`
	SampleWidth int `yaml:"sample_width" json:"sample_width"` // bytes per sample
	Channels    int `yaml:"channels" json:"channels"`
}

// DefaultFormat is 24 kHz mono 16-bit PCM
var DefaultFormat = Format{SampleRate: 24000, SampleWidth: 2, Channels: 1}

// Validate checks that the format is supported by the relay
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", f.SampleRate)
	}
	if f.SampleWidth != 2 {
		return fmt.Errorf("only 16-bit samples are supported, got width %d", f.SampleWidth)
	}
	if f.Channels != 1 {
		return fmt.Errorf("only mono audio is supported, got %d channels", f.Channels)
	}
	return nil
}

// FrameSize returns the number of bytes per frame
func (f Format) FrameSize() int {
	return f.SampleWidth * f.Channels
}

// BytesPerSecond returns the byte rate of the stream
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.FrameSize()
}

// BytesInDuration returns the byte length of d, rounded down to a whole frame
func (f Format) BytesInDuration(d time.Duration) int {
	frames := int(int64(d) * int64(f.SampleRate) / int64(time.Second))
	return frames * f.FrameSize()
}

// Duration returns the playback duration of n bytes
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// Silence returns a zero-filled buffer lasting d
func (f Format) Silence(d time.Duration) []byte {
	if d <= 0 {
		return nil
	}
	return make([]byte, f.BytesInDuration(d))
}

// BytesToSamples converts little-endian PCM bytes to int16 samples.
// A trailing odd byte is dropped.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// SamplesToBytes converts int16 samples to little-endian PCM bytes
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}
