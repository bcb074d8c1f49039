// Package audio turns PCM audio into the analyser buffers that drive
// lip-sync, and streams decoded signals into it in real time.
package audio

import (
	"errors"
	"time"
)

var (
	ErrInvalidFormat = errors.New("invalid audio format")
	ErrEmptySignal   = errors.New("audio signal is empty")
)

// Format describes interleaved little-endian PCM.
type Format struct {
	SampleRate int `json:"sample_rate" mapstructure:"sample_rate"` // Hz
	Channels   int `json:"channels" mapstructure:"channels"`
	BitDepth   int `json:"bit_depth" mapstructure:"bit_depth"` // 8, 16 or 32 (float)
}

// DefaultFormat is 16 kHz mono 16-bit, the rate most speech sources emit.
func DefaultFormat() Format {
	return Format{
		SampleRate: 16000,
		Channels:   1,
		BitDepth:   16,
	}
}

func (f Format) Validate() error {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return ErrInvalidFormat
	}
	switch f.BitDepth {
	case 8, 16, 32:
		return nil
	}
	return ErrInvalidFormat
}

// Signal is decoded mono audio.
type Signal struct {
	Samples    []float64
	SampleRate int
}

func (s *Signal) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(s.Samples)) * time.Second / time.Duration(s.SampleRate)
}

// VADResult is the outcome of one voice activity check.
type VADResult struct {
	IsSpeech   bool    `json:"is_speech"`
	Confidence float64 `json:"confidence"`
	RMS        float64 `json:"rms"`
}
