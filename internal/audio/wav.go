package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const wavHeaderSize = 44

var (
	// ErrNotWAV is returned when the payload does not carry a RIFF/WAVE header
	ErrNotWAV = errors.New("not a WAV payload")
)

// WAVHeader represents the canonical 44-byte header of a PCM WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// WAVInfo describes the stream carried in a WAV payload
type WAVInfo struct {
	Format   Format  `json:"format"`
	Duration float64 `json:"duration_seconds"`
	DataSize uint32  `json:"data_size_bytes"`
}

// EncodeWAV wraps PCM bytes in a WAV container
func EncodeWAV(pcm []byte, format Format) ([]byte, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if len(pcm)%format.FrameSize() != 0 {
		return nil, fmt.Errorf("pcm length %d is not a multiple of frame size %d", len(pcm), format.FrameSize())
	}

	bitsPerSample := uint16(format.SampleWidth * 8)
	dataSize := uint32(len(pcm))

	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(format.Channels),
		SampleRate:    uint32(format.SampleRate),
		ByteRate:      uint32(format.BytesPerSecond()),
		BlockAlign:    uint16(format.FrameSize()),
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	buf.Write(pcm)

	return buf.Bytes(), nil
}

// IsWAV reports whether data starts with a RIFF/WAVE signature
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// DecodeWAV extracts the PCM payload and its format from a WAV file.
// Chunks other than "fmt " and "data" (LIST, fact, ...) are skipped.
func DecodeWAV(data []byte) ([]byte, Format, error) {
	if !IsWAV(data) {
		return nil, Format{}, ErrNotWAV
	}

	var (
		format  Format
		haveFmt bool
	)

	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return nil, Format{}, fmt.Errorf("invalid WAV file: truncated fmt chunk")
			}
			audioFormat := binary.LittleEndian.Uint16(data[body:])
			if audioFormat != 1 {
				return nil, Format{}, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", audioFormat)
			}
			format = Format{
				Channels:    int(binary.LittleEndian.Uint16(data[body+2:])),
				SampleRate:  int(binary.LittleEndian.Uint32(data[body+4:])),
				SampleWidth: int(binary.LittleEndian.Uint16(data[body+14:])) / 8,
			}
			haveFmt = true

		case "data":
			if !haveFmt {
				return nil, Format{}, fmt.Errorf("invalid WAV file: data chunk before fmt chunk")
			}
			end := body + size
			// Streaming writers leave the size unset; take what is there
			if end > len(data) || size == 0 {
				end = len(data)
			}
			pcm := data[body:end]
			if fs := format.FrameSize(); fs > 0 {
				pcm = pcm[:len(pcm)-len(pcm)%fs]
			}
			return pcm, format, nil
		}

		// Chunks are word aligned
		offset = body + size + size%2
	}

	if !haveFmt {
		return nil, Format{}, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}
	return nil, Format{}, fmt.Errorf("invalid WAV file: missing data chunk")
}

// GetWAVInfo extracts metadata from a WAV file
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	pcm, format, err := DecodeWAV(data)
	if err != nil {
		return nil, err
	}

	return &WAVInfo{
		Format:   format,
		Duration: format.Duration(len(pcm)).Seconds(),
		DataSize: uint32(len(pcm)),
	}, nil
}
