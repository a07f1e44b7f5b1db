package audio

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFormatByteMath(t *testing.T) {
	f := DefaultFormat()

	if got := f.BytesPerSecond(); got != 32000 {
		t.Errorf("Expected 32000 bytes per second, got %d", got)
	}
	if got := f.BytesFor(3); got != 96000 {
		t.Errorf("Expected 96000 bytes for 3s, got %f", got)
	}
	if got := f.Seconds(48000); got != 1.5 {
		t.Errorf("Expected 1.5s for 48000 bytes, got %f", got)
	}
	if got := f.Samples(32001); got != 16000 {
		t.Errorf("Expected 16000 samples, got %d", got)
	}
}

func TestFormatValidate(t *testing.T) {
	tests := []struct {
		name    string
		format  Format
		wantErr bool
	}{
		{name: "default", format: DefaultFormat(), wantErr: false},
		{name: "zero rate", format: Format{SampleRate: 0, SampleWidth: 2, Channels: 1}, wantErr: true},
		{name: "8-bit", format: Format{SampleRate: 16000, SampleWidth: 1, Channels: 1}, wantErr: true},
		{name: "no channels", format: Format{SampleRate: 16000, SampleWidth: 2, Channels: 0}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.format.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPCM16RoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 1234}
	decoded := DecodePCM16(EncodePCM16(samples))

	if len(decoded) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(decoded))
	}
	for i := range samples {
		if decoded[i] != samples[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, samples[i], decoded[i])
		}
	}
}

func TestDecodePCM16IgnoresTrailingByte(t *testing.T) {
	decoded := DecodePCM16([]byte{0x01, 0x00, 0xff})
	if len(decoded) != 1 || decoded[0] != 1 {
		t.Errorf("Expected [1], got %v", decoded)
	}
}

func TestWAVRoundTrip(t *testing.T) {
	pcm := EncodePCM16([]int16{10, -10, 20, -20})
	wav, err := EncodeWAV(pcm, DefaultFormat())
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	if len(wav) != wavHeaderSize+len(pcm) {
		t.Errorf("Expected %d bytes, got %d", wavHeaderSize+len(pcm), len(wav))
	}

	payload, f, err := DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if f != DefaultFormat() {
		t.Errorf("Expected format %+v, got %+v", DefaultFormat(), f)
	}
	if string(payload) != string(pcm) {
		t.Errorf("Payload mismatch")
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	if _, _, err := DecodeWAV([]byte("definitely not audio")); err == nil {
		t.Error("Expected error for non-WAV input")
	}
}

func TestDumpWAV(t *testing.T) {
	dir := t.TempDir()
	path, err := DumpWAV(filepath.Join(dir, "chunks"), "session_1", EncodePCM16([]int16{1, 2}), DefaultFormat())
	if err != nil {
		t.Fatalf("DumpWAV failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read dumped file: %v", err)
	}
	if len(data) != wavHeaderSize+4 {
		t.Errorf("Expected %d bytes on disk, got %d", wavHeaderSize+4, len(data))
	}
}
