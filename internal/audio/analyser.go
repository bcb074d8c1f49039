package audio

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// AnalyserConfig mirrors the knobs of a browser AnalyserNode.
type AnalyserConfig struct {
	FFTSize     int     `json:"fft_size" mapstructure:"fft_size"` // power of two
	Smoothing   float64 `json:"smoothing" mapstructure:"smoothing"`
	MinDecibels float64 `json:"min_decibels" mapstructure:"min_decibels"`
	MaxDecibels float64 `json:"max_decibels" mapstructure:"max_decibels"`
}

func DefaultAnalyserConfig() AnalyserConfig {
	return AnalyserConfig{
		FFTSize:     2048,
		Smoothing:   0.8,
		MinDecibels: -100,
		MaxDecibels: -30,
	}
}

// Analyser keeps the most recent FFTSize samples written to it and exposes
// them as byte spectra and waveforms. Writers and readers may run on
// different goroutines.
type Analyser struct {
	cfg AnalyserConfig

	mu   sync.Mutex
	ring []float64
	pos  int

	fft      *fourier.FFT
	frame    []float64
	coeff    []complex128
	smoothed []float64
}

func NewAnalyser(cfg AnalyserConfig) *Analyser {
	def := DefaultAnalyserConfig()
	if cfg.FFTSize < 32 || cfg.FFTSize&(cfg.FFTSize-1) != 0 {
		cfg.FFTSize = def.FFTSize
	}
	if cfg.Smoothing < 0 || cfg.Smoothing >= 1 {
		cfg.Smoothing = def.Smoothing
	}
	if cfg.MaxDecibels <= cfg.MinDecibels {
		cfg.MinDecibels, cfg.MaxDecibels = def.MinDecibels, def.MaxDecibels
	}
	n := cfg.FFTSize
	return &Analyser{
		cfg:      cfg,
		ring:     make([]float64, n),
		fft:      fourier.NewFFT(n),
		frame:    make([]float64, n),
		coeff:    make([]complex128, n/2+1),
		smoothed: make([]float64, n/2),
	}
}

// FrequencyBinCount is half the FFT size.
func (a *Analyser) FrequencyBinCount() int {
	return a.cfg.FFTSize / 2
}

// Write appends mono samples in [-1,1].
func (a *Analyser) Write(samples []float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.ring)
	if len(samples) >= n {
		copy(a.ring, samples[len(samples)-n:])
		a.pos = 0
		return
	}
	for _, s := range samples {
		a.ring[a.pos] = s
		a.pos++
		if a.pos == n {
			a.pos = 0
		}
	}
}

// WritePCM decodes interleaved PCM and appends it.
func (a *Analyser) WritePCM(data []byte, f Format) error {
	samples, err := DecodePCM(data, f)
	if err != nil {
		return err
	}
	a.Write(samples)
	return nil
}

// latest copies the newest len(dst) samples, oldest first. Caller holds mu.
func (a *Analyser) latest(dst []float64) {
	n := len(a.ring)
	start := a.pos - len(dst)
	for i := range dst {
		dst[i] = a.ring[((start+i)%n+n)%n]
	}
}

// ByteFrequencyData fills dst with smoothed magnitudes mapped from
// [MinDecibels, MaxDecibels] onto [0,255].
func (a *Analyser) ByteFrequencyData(dst []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.latest(a.frame)
	window.Blackman(a.frame)
	a.coeff = a.fft.Coefficients(a.coeff, a.frame)

	n := float64(a.cfg.FFTSize)
	tau := a.cfg.Smoothing
	span := a.cfg.MaxDecibels - a.cfg.MinDecibels
	for k := range a.smoothed {
		mag := cmplx.Abs(a.coeff[k]) / n
		a.smoothed[k] = tau*a.smoothed[k] + (1-tau)*mag
		if k >= len(dst) {
			continue
		}
		db := math.Inf(-1)
		if a.smoothed[k] > 0 {
			db = 20 * math.Log10(a.smoothed[k])
		}
		dst[k] = toByte(255 * (db - a.cfg.MinDecibels) / span)
	}
	for k := len(a.smoothed); k < len(dst); k++ {
		dst[k] = 0
	}
}

// ByteTimeDomainData fills dst with the newest samples centred on 128.
func (a *Analyser) ByteTimeDomainData(dst []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := min(len(dst), len(a.ring))
	buf := make([]float64, n)
	a.latest(buf)
	for i, s := range buf {
		dst[i] = toByte(128 * (1 + s))
	}
	for i := n; i < len(dst); i++ {
		dst[i] = 128
	}
}

// RMS of the newest n samples.
func (a *Analyser) RMS(n int) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	n = min(max(n, 1), len(a.ring))
	buf := make([]float64, n)
	a.latest(buf)
	return rms(buf)
}

// Reset silences the buffer and clears spectral smoothing.
func (a *Analyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.ring)
	clear(a.smoothed)
	a.pos = 0
}

func toByte(v float64) byte {
	switch {
	case math.IsNaN(v), v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return byte(v)
}

func rms(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}
