package vad

import (
	"encoding/binary"
	"testing"
)

func pcm(samples ...int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}

func constant(value int16, n int) []byte {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = value
	}
	return pcm(samples...)
}

func TestNewDetectorValidation(t *testing.T) {
	tests := []struct {
		name      string
		threshold float64
		expectErr bool
	}{
		{name: "default threshold", threshold: DefaultThreshold, expectErr: false},
		{name: "small threshold", threshold: 0.5, expectErr: false},
		{name: "zero threshold", threshold: 0, expectErr: true},
		{name: "negative threshold", threshold: -10, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDetector(tt.threshold)
			if tt.expectErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectErr {
				if err != nil {
					t.Fatalf("Expected no error but got: %v", err)
				}
				if d.Threshold() != tt.threshold {
					t.Errorf("Expected threshold %f, got %f", tt.threshold, d.Threshold())
				}
			}
		})
	}
}

func TestIsSilent(t *testing.T) {
	detector, err := NewDetector(DefaultThreshold)
	if err != nil {
		t.Fatalf("Failed to create detector: %v", err)
	}

	tests := []struct {
		name   string
		window []byte
		silent bool
	}{
		{name: "empty window", window: nil, silent: true},
		{name: "single odd byte", window: []byte{0xFF}, silent: true},
		{name: "all zeros", window: constant(0, 1024), silent: true},
		{name: "quiet noise", window: constant(120, 1024), silent: true},
		{name: "just below threshold", window: constant(499, 64), silent: true},
		{name: "exactly threshold", window: constant(500, 64), silent: false},
		{name: "loud positive", window: constant(8000, 64), silent: false},
		{name: "loud negative", window: constant(-8000, 64), silent: false},
		{name: "alternating sign", window: pcm(1000, -1000, 1000, -1000), silent: false},
		{name: "min int16 does not overflow", window: constant(-32768, 16), silent: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detector.IsSilent(tt.window); got != tt.silent {
				t.Errorf("Expected silent=%v, got %v (mean=%.1f)", tt.silent, got, MeanAmplitude(tt.window))
			}
		})
	}
}

func TestMeanAmplitude(t *testing.T) {
	if got := MeanAmplitude(pcm(100, -300)); got != 200 {
		t.Errorf("Expected mean 200, got %f", got)
	}

	// Trailing odd byte is ignored
	data := append(pcm(400, 400), 0x7F)
	if got := MeanAmplitude(data); got != 400 {
		t.Errorf("Expected mean 400 with trailing byte, got %f", got)
	}

	if got := MeanAmplitude(constant(-32768, 4)); got != 32768 {
		t.Errorf("Expected mean 32768, got %f", got)
	}
}
