package vad

import (
	"encoding/binary"
	"fmt"
)

// DefaultThreshold is the mean absolute amplitude below which a window is silent
const DefaultThreshold = 500

// Detector classifies PCM windows as silent or non-silent
type Detector struct {
	threshold float64
}

// NewDetector creates a silence detector with the given energy threshold
func NewDetector(threshold float64) (*Detector, error) {
	if threshold <= 0 {
		return nil, fmt.Errorf("threshold must be positive, got %f", threshold)
	}

	return &Detector{threshold: threshold}, nil
}

// IsSilent reports whether the mean absolute amplitude of window is strictly
// below the threshold. The window is read as little-endian int16 samples; an
// empty window is silent.
func (d *Detector) IsSilent(window []byte) bool {
	return MeanAmplitude(window) < d.threshold
}

// Threshold returns the configured energy threshold
func (d *Detector) Threshold() float64 {
	return d.threshold
}

// MeanAmplitude returns the mean absolute sample value of a little-endian
// int16 buffer. A trailing odd byte is ignored. Empty input yields 0.
func MeanAmplitude(window []byte) float64 {
	numSamples := len(window) / 2
	if numSamples == 0 {
		return 0
	}

	var sum int64
	for i := 0; i < numSamples; i++ {
		sample := int64(int16(binary.LittleEndian.Uint16(window[i*2:])))
		if sample < 0 {
			sample = -sample
		}
		sum += sample
	}

	return float64(sum) / float64(numSamples)
}
