package audio

import (
	"math"
	"sync"
	"time"
)

// VAD implements Voice Activity Detection using RMS energy analysis.
// Time advances by the duration of each processed chunk, so results are
// reproducible for a given signal.
type VAD struct {
	config *VADConfig
	mu     sync.RWMutex

	isActive bool
	speech   time.Duration
	silence  time.Duration

	energyHistory []float64
	historyIndex  int
}

// VADConfig holds VAD configuration
type VADConfig struct {
	Threshold       float64 `json:"threshold" mapstructure:"threshold"`               // RMS threshold (0-1)
	SmoothingFrames int     `json:"smoothing_frames" mapstructure:"smoothing_frames"` // frames averaged
	MinSpeechMs     int     `json:"min_speech_ms" mapstructure:"min_speech_ms"`       // before speech starts
	MaxSilenceMs    int     `json:"max_silence_ms" mapstructure:"max_silence_ms"`     // before speech ends
}

// DefaultVADConfig returns sensible defaults
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		Threshold:       0.01,
		SmoothingFrames: 5,
		MinSpeechMs:     100,
		MaxSilenceMs:    500,
	}
}

// NewVAD creates a new VAD instance
func NewVAD(config *VADConfig) *VAD {
	if config == nil {
		config = DefaultVADConfig()
	}
	if config.SmoothingFrames <= 0 {
		config.SmoothingFrames = 1
	}
	return &VAD{
		config:        config,
		energyHistory: make([]float64, config.SmoothingFrames),
	}
}

// Process analyzes a chunk of mono samples lasting dur.
func (v *VAD) Process(samples []float64, dur time.Duration) *VADResult {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.energyHistory[v.historyIndex] = rms(samples)
	v.historyIndex = (v.historyIndex + 1) % len(v.energyHistory)
	smoothedRMS := v.smoothedRMS()

	loud := smoothedRMS >= v.config.Threshold
	if loud {
		v.silence = 0
		v.speech += dur
		if !v.isActive && v.speech >= time.Duration(v.config.MinSpeechMs)*time.Millisecond {
			v.isActive = true
		}
	} else {
		v.speech = 0
		if v.isActive {
			v.silence += dur
			if v.silence > time.Duration(v.config.MaxSilenceMs)*time.Millisecond {
				v.isActive = false
				v.silence = 0
			}
		}
	}

	var confidence float64
	if v.isActive {
		confidence = math.Min(1.0, 0.5+(smoothedRMS-v.config.Threshold)*10)
	} else {
		confidence = math.Max(0.0, 0.5-(v.config.Threshold-smoothedRMS)*10)
	}

	return &VADResult{
		IsSpeech:   v.isActive,
		Confidence: math.Max(0, confidence),
		RMS:        smoothedRMS,
	}
}

func (v *VAD) smoothedRMS() float64 {
	var sum float64
	for _, e := range v.energyHistory {
		sum += e
	}
	return sum / float64(len(v.energyHistory))
}

// IsActive returns whether speech is currently detected
func (v *VAD) IsActive() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.isActive
}

// Reset clears VAD state
func (v *VAD) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.isActive = false
	v.speech, v.silence = 0, 0
	v.historyIndex = 0
	clear(v.energyHistory)
}
