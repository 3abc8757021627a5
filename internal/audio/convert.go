package audio

import (
	"encoding/base64"
	"fmt"
	"strings"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Payload formats accepted from clients
const (
	FormatPCM = "pcm"
	FormatWAV = "wav"
)

// ConversionError is returned when an incoming payload cannot be normalized
// to the relay's PCM format
type ConversionError struct {
	Format string
	Reason string
	Err    error
}

func (e *ConversionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("audio conversion failed (%s): %s: %v", e.Format, e.Reason, e.Err)
	}
	return fmt.Sprintf("audio conversion failed (%s): %s", e.Format, e.Reason)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// Converter normalizes client payloads to a fixed target format. WAV streams
// at another sample rate are resampled and stereo is downmixed to mono.
//
// Resampler state carries over between chunks of the same source rate, so a
// Converter belongs to a single stream and is not safe for concurrent use.
type Converter struct {
	target     Format
	resamplers map[int]resampling.Resampler
}

// NewConverter creates a converter producing PCM in the target format
func NewConverter(target Format) (*Converter, error) {
	if err := target.Validate(); err != nil {
		return nil, fmt.Errorf("invalid target format: %w", err)
	}
	return &Converter{
		target:     target,
		resamplers: make(map[int]resampling.Resampler),
	}, nil
}

// Target returns the output format
func (c *Converter) Target() Format {
	return c.target
}

// Convert returns data as PCM in the target format. An empty format name is
// resolved by sniffing the payload.
func (c *Converter) Convert(data []byte, format string) ([]byte, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = FormatPCM
		if IsWAV(data) {
			format = FormatWAV
		}
	}

	switch format {
	case FormatPCM, "raw", "s16le":
		if len(data)%c.target.FrameSize() != 0 {
			return nil, &ConversionError{
				Format: FormatPCM,
				Reason: fmt.Sprintf("length %d is not a multiple of frame size %d", len(data), c.target.FrameSize()),
			}
		}
		return data, nil

	case FormatWAV, "wave":
		pcm, src, err := DecodeWAV(data)
		if err != nil {
			return nil, &ConversionError{Format: FormatWAV, Reason: "corrupt container", Err: err}
		}
		return c.normalize(pcm, src)

	default:
		return nil, &ConversionError{Format: format, Reason: "unsupported format"}
	}
}

// normalize brings 16-bit PCM of any rate and channel count to the target
func (c *Converter) normalize(pcm []byte, src Format) ([]byte, error) {
	if src.SampleWidth != c.target.SampleWidth {
		return nil, &ConversionError{
			Format: FormatWAV,
			Reason: fmt.Sprintf("%d-bit samples are not supported, expected %d-bit", src.SampleWidth*8, c.target.SampleWidth*8),
		}
	}
	if src.Channels < 1 || src.SampleRate <= 0 {
		return nil, &ConversionError{
			Format: FormatWAV,
			Reason: fmt.Sprintf("invalid stream layout %d Hz/%d ch", src.SampleRate, src.Channels),
		}
	}

	samples := BytesToSamples(pcm)
	if src.Channels > 1 {
		samples = downmix(samples, src.Channels)
	}
	if src.SampleRate == c.target.SampleRate {
		return SamplesToBytes(samples), nil
	}

	r, err := c.resampler(src.SampleRate)
	if err != nil {
		return nil, &ConversionError{Format: FormatWAV, Reason: "resampler setup failed", Err: err}
	}

	input := make([]float64, len(samples))
	for i, v := range samples {
		input[i] = float64(v) / 32768.0
	}
	output, err := r.Process(input)
	if err != nil {
		return nil, &ConversionError{
			Format: FormatWAV,
			Reason: fmt.Sprintf("resampling %d Hz to %d Hz failed", src.SampleRate, c.target.SampleRate),
			Err:    err,
		}
	}

	out := make([]int16, len(output))
	for i, v := range output {
		switch {
		case v >= 1.0:
			out[i] = 32767
		case v < -1.0:
			out[i] = -32768
		default:
			out[i] = int16(v * 32767.0)
		}
	}
	return SamplesToBytes(out), nil
}

func (c *Converter) resampler(rate int) (resampling.Resampler, error) {
	if r, ok := c.resamplers[rate]; ok {
		return r, nil
	}
	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(rate),
		OutputRate: float64(c.target.SampleRate),
		Channels:   c.target.Channels,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, err
	}
	c.resamplers[rate] = r
	return r, nil
}

// downmix averages interleaved frames into a single channel
func downmix(samples []int16, channels int) []int16 {
	mono := make([]int16, len(samples)/channels)
	for i := range mono {
		var sum int32
		for ch := 0; ch < channels; ch++ {
			sum += int32(samples[i*channels+ch])
		}
		mono[i] = int16(sum / int32(channels))
	}
	return mono
}

// DecodePayload decodes a base64 audio string. Data URLs
// ("data:audio/wav;base64,...") are accepted and their media type is mapped to
// a format name; plain base64 yields an empty format.
func DecodePayload(payload string) ([]byte, string, error) {
	format := ""
	encoded := payload

	if strings.HasPrefix(payload, "data:") {
		meta, body, ok := strings.Cut(payload, ",")
		if !ok {
			return nil, "", &ConversionError{Format: "data-url", Reason: "missing payload separator"}
		}
		if !strings.HasSuffix(meta, ";base64") {
			return nil, "", &ConversionError{Format: "data-url", Reason: "only base64 data URLs are supported"}
		}
		mediaType := strings.TrimSuffix(strings.TrimPrefix(meta, "data:"), ";base64")
		// Drop parameters such as ";codecs=opus"
		mediaType, _, _ = strings.Cut(mediaType, ";")
		format = formatFromMediaType(mediaType)
		encoded = body
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, "", &ConversionError{Format: "base64", Reason: "invalid encoding", Err: err}
	}

	return data, format, nil
}

// EncodePayload returns data as standard base64
func EncodePayload(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func formatFromMediaType(mediaType string) string {
	switch strings.ToLower(mediaType) {
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return FormatWAV
	case "audio/pcm", "audio/l16", "audio/raw", "application/octet-stream", "":
		return FormatPCM
	default:
		if _, sub, ok := strings.Cut(mediaType, "/"); ok {
			return sub
		}
		return mediaType
	}
}
