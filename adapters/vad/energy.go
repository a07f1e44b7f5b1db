package vad

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/chkda/transcription-service/domain/entities"
	"github.com/chkda/transcription-service/internal/audio"
)

// pcmMaxAmplitude is the maximum amplitude of signed 16-bit audio
const pcmMaxAmplitude = 32768.0

// EnergyConfig tunes the RMS detector
type EnergyConfig struct {
	// Threshold is the normalized RMS (0-1) above which a window is speech
	Threshold float64
	Window    time.Duration
	// MinSpeech drops segments shorter than this
	MinSpeech time.Duration
	// MinSilence merges segments separated by shorter gaps
	MinSilence time.Duration
}

// DefaultEnergyConfig returns settings that work for close-talk 16 kHz audio
func DefaultEnergyConfig() EnergyConfig {
	return EnergyConfig{
		Threshold:  0.02,
		Window:     30 * time.Millisecond,
		MinSpeech:  100 * time.Millisecond,
		MinSilence: 300 * time.Millisecond,
	}
}

// EnergyDetector is an in-process voice activity detector based on windowed RMS energy
type EnergyDetector struct {
	config EnergyConfig
}

// NewEnergyDetector creates a new energy detector
func NewEnergyDetector(config EnergyConfig) (*EnergyDetector, error) {
	if config.Threshold <= 0 || config.Threshold >= 1 {
		return nil, fmt.Errorf("energy threshold must be between 0 and 1, got %f", config.Threshold)
	}
	if config.Window <= 0 {
		return nil, fmt.Errorf("energy window must be positive")
	}
	return &EnergyDetector{config: config}, nil
}

func (d *EnergyDetector) Name() string {
	return "energy"
}

// DetectActivity splits the chunk into windows and joins speech windows into segments
func (d *EnergyDetector) DetectActivity(ctx context.Context, pcm []byte, format audio.Format) ([]entities.Segment, error) {
	samples := audio.DecodePCM16(pcm)
	channels := format.Channels
	if channels <= 0 {
		channels = 1
	}

	windowFrames := int(float64(format.SampleRate) * d.config.Window.Seconds())
	if windowFrames <= 0 {
		windowFrames = 1
	}
	windowSamples := windowFrames * channels
	frameSeconds := 1 / float64(format.SampleRate)

	var segments []entities.Segment
	var current *entities.Segment
	var confidenceSum float64
	var speechWindows int

	closeSegment := func() {
		current.Confidence = confidenceSum / float64(speechWindows)
		segments = append(segments, *current)
		current = nil
	}

	for offset := 0; offset < len(samples); offset += windowSamples {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := offset + windowSamples
		if end > len(samples) {
			end = len(samples)
		}
		start := float64(offset/channels) * frameSeconds
		stop := float64(end/channels) * frameSeconds

		level := rms(samples[offset:end])
		if level >= d.config.Threshold {
			if current == nil {
				current = &entities.Segment{Start: start}
				confidenceSum, speechWindows = 0, 0
			}
			confidenceSum += math.Min(1, level/(2*d.config.Threshold))
			speechWindows++
			current.End = stop
			continue
		}
		if current != nil {
			closeSegment()
		}
	}
	if current != nil {
		closeSegment()
	}

	return d.smooth(segments), nil
}

// smooth merges segments split by short pauses and drops blips
func (d *EnergyDetector) smooth(segments []entities.Segment) []entities.Segment {
	if len(segments) == 0 {
		return segments
	}

	merged := []entities.Segment{segments[0]}
	for _, seg := range segments[1:] {
		last := &merged[len(merged)-1]
		if seg.Start-last.End < d.config.MinSilence.Seconds() {
			last.Confidence = (last.Confidence + seg.Confidence) / 2
			last.End = seg.End
			continue
		}
		merged = append(merged, seg)
	}

	kept := merged[:0]
	for _, seg := range merged {
		if seg.End-seg.Start >= d.config.MinSpeech.Seconds() {
			kept = append(kept, seg)
		}
	}
	return kept
}

func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / pcmMaxAmplitude
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
