package vad

import (
	"fmt"

	"github.com/chkda/transcription-service/domain/repositories"
)

// Engine names
const (
	EngineEnergy = "energy"
	EngineHTTP   = "http"
)

// Options selects and configures a VAD engine
type Options struct {
	Engine string
	Energy EnergyConfig
	HTTP   HTTPConfig
}

// New builds the configured detector
func New(opts Options) (repositories.VoiceActivityDetector, error) {
	switch opts.Engine {
	case EngineEnergy, "":
		return NewEnergyDetector(opts.Energy)
	case EngineHTTP:
		return NewHTTPDetector(opts.HTTP)
	default:
		return nil, fmt.Errorf("unknown vad engine %q", opts.Engine)
	}
}
