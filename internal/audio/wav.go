package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
)

const wavHeaderSize = 44

// wavHeader is the canonical 44 byte RIFF/WAVE header for PCM data.
type wavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

// EncodeWAV wraps raw PCM bytes in a WAV container.
// Engines that expect file uploads (Whisper, Gemini, remote VAD workers) take this.
func EncodeWAV(pcm []byte, f Format) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	bits := uint16(f.SampleWidth * 8)
	channels := uint16(f.Channels)
	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + len(pcm)),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   channels,
		SampleRate:    uint32(f.SampleRate),
		ByteRate:      uint32(f.BytesPerSecond()),
		BlockAlign:    channels * bits / 8,
		BitsPerSample: bits,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(len(pcm)),
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	buf.Write(pcm)
	return buf.Bytes(), nil
}

// DecodeWAV extracts the PCM payload and format from a WAV file.
// Only uncompressed PCM is accepted; unknown chunks before "data" are skipped.
func DecodeWAV(data []byte) ([]byte, Format, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, Format{}, fmt.Errorf("not a RIFF/WAVE file")
	}

	var f Format
	haveFmt := false
	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if body+size > len(data) {
			size = len(data) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, Format{}, fmt.Errorf("fmt chunk too short: %d bytes", size)
			}
			if tag := binary.LittleEndian.Uint16(data[body:]); tag != 1 {
				return nil, Format{}, fmt.Errorf("unsupported WAV encoding tag %d", tag)
			}
			f.Channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			f.SampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			f.SampleWidth = int(binary.LittleEndian.Uint16(data[body+14:])) / 8
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, Format{}, fmt.Errorf("data chunk before fmt chunk")
			}
			return data[body : body+size], f, nil
		}

		offset = body + size
		if size%2 == 1 {
			offset++
		}
	}

	return nil, Format{}, fmt.Errorf("WAV data chunk not found")
}

// DumpWAV writes the PCM payload as dir/name.wav and returns the file path.
func DumpWAV(dir, name string, pcm []byte, f Format) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create audio directory: %w", err)
	}

	wav, err := EncodeWAV(pcm, f)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, name+".wav")
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		return "", fmt.Errorf("write wav file: %w", err)
	}
	return path, nil
}
