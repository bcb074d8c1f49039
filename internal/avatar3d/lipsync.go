package avatar3d

import (
	"errors"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexmotion/internal/metrics"
)

var (
	ErrNoAudioSource = errors.New("no audio source")
	ErrNoVisemes     = errors.New("avatar has no mouth channels")
)

// AudioSource is a live analyser handle. Frequency bytes are magnitudes in
// [0,255]; time-domain bytes are samples centred on 128.
type AudioSource interface {
	FrequencyBinCount() int
	ByteFrequencyData(dst []byte)
	ByteTimeDomainData(dst []byte)
}

type Viseme int

const (
	VisemeAA Viseme = iota
	VisemeIH
	VisemeOU
	VisemeEE
	VisemeOH
	visemeCount
)

var visemeNames = [visemeCount]string{"aa", "ih", "ou", "ee", "oh"}

var visemeAliases = [visemeCount][]string{
	VisemeAA: {"aa", "あ", "ああ", "open", "mouthopen", "jawopen"},
	VisemeIH: {"ih", "い", "いい", "i", "mouthi"},
	VisemeOU: {"ou", "う", "うう", "u", "mouthu", "o"},
	VisemeEE: {"ee", "え", "ええ", "e", "mouthe"},
	VisemeOH: {"oh", "お", "おお", "moutho"},
}

// visemePartial are matched as substrings when no exact alias exists.
var visemePartial = [visemeCount][]string{
	VisemeAA: {"mouthopen", "jawopen"},
}

func (v Viseme) String() string {
	if v < 0 || v >= visemeCount {
		return "unknown"
	}
	return visemeNames[v]
}

// IsVisemeChannel reports whether a channel name is one of the viseme
// aliases.
func IsVisemeChannel(name string) bool {
	lower := strings.ToLower(name)
	for _, list := range visemeAliases {
		for _, a := range list {
			if a == lower {
				return true
			}
		}
	}
	return false
}

// ResolveVisemes maps each viseme to a channel. Exact alias matches win;
// otherwise a channel containing mouthOpen or jawOpen stands in for aa.
func ResolveVisemes(names []string) map[Viseme]string {
	out := make(map[Viseme]string, visemeCount)
	for v := Viseme(0); v < visemeCount; v++ {
		if ch, ok := findChannel(names, visemeAliases[v], strings.EqualFold); ok {
			out[v] = ch
		} else if ch, ok := findChannel(names, visemePartial[v], containsFold); ok {
			out[v] = ch
		}
	}
	return out
}

func findChannel(names, aliases []string, match func(name, alias string) bool) (string, bool) {
	for _, n := range names {
		for _, a := range aliases {
			if match(n, a) {
				return n, true
			}
		}
	}
	return "", false
}

func containsFold(name, sub string) bool {
	return strings.Contains(strings.ToLower(name), sub)
}

// LipSync turns a live audio source into viseme channel weights. Weights
// are kept here and written to the channel table by the Mixer.
type LipSync struct {
	cfg    LipSyncConfig
	logger zerolog.Logger

	channels map[Viseme]string
	weights  map[string]float32

	source AudioSource
	freq   []byte
	wave   []byte

	history []float32
	histLen int
	histPos int

	volume  float32
	mouth   float32
	current string
	silent  bool
	active  bool
}

func NewLipSync(channels map[Viseme]string, cfg LipSyncConfig, logger zerolog.Logger) *LipSync {
	if cfg.History <= 0 {
		cfg.History = DefaultLipSyncConfig().History
	}
	weights := make(map[string]float32, len(channels))
	for _, ch := range channels {
		weights[ch] = 0
	}
	return &LipSync{
		cfg:      cfg,
		logger:   logger.With().Str("component", "lipsync").Logger(),
		channels: channels,
		weights:  weights,
		history:  make([]float32, cfg.History),
	}
}

// Start attaches a source. Starting while active swaps the source.
func (l *LipSync) Start(src AudioSource) error {
	if src == nil {
		return ErrNoAudioSource
	}
	if len(l.channels) == 0 {
		return ErrNoVisemes
	}
	n := src.FrequencyBinCount()
	if n <= 0 {
		return ErrNoAudioSource
	}
	if l.active {
		l.Stop()
	}

	l.source = src
	l.freq = make([]byte, n)
	l.wave = make([]byte, n)
	l.active = true
	metrics.LipSyncActive.Set(1)
	l.logger.Info().Int("bins", n).Int("visemes", len(l.channels)).Msg("Lip-sync started")
	return nil
}

// Stop zeroes every viseme weight and drops the source.
func (l *LipSync) Stop() {
	if !l.active {
		return
	}
	l.active = false
	l.source = nil
	l.freq = nil
	l.wave = nil
	l.reset()
	metrics.LipSyncActive.Set(0)
	l.logger.Info().Msg("Lip-sync stopped")
}

func (l *LipSync) reset() {
	for ch := range l.weights {
		l.weights[ch] = 0
	}
	for i := range l.history {
		l.history[i] = 0
	}
	l.histLen, l.histPos = 0, 0
	l.volume, l.mouth = 0, 0
	l.current = ""
	l.silent = false
}

func (l *LipSync) Active() bool {
	return l.active
}

// Weights returns the viseme channel weights. The map is owned by LipSync.
func (l *LipSync) Weights() map[string]float32 {
	return l.weights
}

func (l *LipSync) Owns(channel string) bool {
	_, ok := l.weights[channel]
	return ok
}

// Current is the channel of the viseme being held, or "".
func (l *LipSync) Current() string {
	return l.current
}

func (l *LipSync) Volume() float32 {
	return l.volume
}

// Silent reports whether the last frame fell under the noise threshold.
func (l *LipSync) Silent() bool {
	return l.silent
}

// Update reads one frame from the source and moves the viseme weights.
func (l *LipSync) Update() {
	if !l.active {
		return
	}
	l.source.ByteFrequencyData(l.freq)
	l.source.ByteTimeDomainData(l.wave)
	cfg := l.cfg

	var sum, peak float64
	peaks := 0
	for _, b := range l.wave {
		x := (float64(b) - 128) / 128
		sum += x * x
		a := math.Abs(x)
		if a > peak {
			peak = a
		}
		if a > float64(cfg.PeakThreshold) {
			peaks++
		}
	}
	rms := math.Sqrt(sum / float64(len(l.wave)))
	density := float64(peaks) / float64(len(l.wave))
	raw := float32((rms*0.6 + peak*0.25 + density*0.15) * float64(cfg.Sensitivity))

	threshold := l.threshold(raw)
	l.volume = l.volume*0.6 + min(1, raw)*0.4

	l.silent = l.volume < threshold
	if l.silent {
		l.decayHeld()
		return
	}

	n := len(l.freq)
	low := bandEnergy(l.freq, 0, n*20/100)
	mid := bandEnergy(l.freq, n*20/100, n*60/100)
	high := bandEnergy(l.freq, n*60/100, n*85/100)

	ch, strength, ok := l.selectViseme(low, mid, high)
	if !ok {
		return
	}

	curve := float32(math.Pow(float64(min(1, l.volume)), float64(cfg.Curve)))
	target := cfg.MinOpen + (cfg.MaxOpen-cfg.MinOpen)*curve + min(0.2, strength*0.25)
	target = min(cfg.MaxOpen, target)

	l.mouth += (target - l.mouth) * cfg.Smoothing
	l.mouth = clamp(l.mouth, cfg.MinOpen, cfg.MaxOpen)

	l.current = ch
	w := l.weights[ch]
	w += (l.mouth - w) * cfg.Smoothing
	l.weights[ch] = clamp(w, cfg.MinOpen, cfg.MaxOpen)

	for other, w := range l.weights {
		if other == ch {
			continue
		}
		w -= w * cfg.SwitchDecay
		if w < cfg.SnapBelow {
			w = 0
		}
		l.weights[other] = w
	}
}

// threshold records raw in the rolling window and returns the adaptive
// noise floor.
func (l *LipSync) threshold(raw float32) float32 {
	l.history[l.histPos] = raw
	l.histPos = (l.histPos + 1) % len(l.history)
	if l.histLen < len(l.history) {
		l.histLen++
	}
	var sum float32
	for i := 0; i < l.histLen; i++ {
		sum += l.history[i]
	}
	return max(l.cfg.VolumeThreshold, sum/float32(l.histLen)*l.cfg.ThresholdRatio)
}

// decayHeld relaxes the held viseme toward MinOpen without passing it.
func (l *LipSync) decayHeld() {
	if l.current == "" {
		return
	}
	floor := l.cfg.MinOpen
	l.mouth = max(floor, l.mouth+(floor-l.mouth)*l.cfg.SilenceDecay)
	w := l.weights[l.current]
	l.weights[l.current] = max(floor, w+(floor-w)*l.cfg.SilenceDecay)
}

// selectViseme picks the channel for the dominant band. Missing visemes
// fall back toward aa.
func (l *LipSync) selectViseme(low, mid, high float32) (string, float32, bool) {
	peak := max(low, mid, high, 0.01)
	nl, nm, nh := low/peak, mid/peak, high/peak

	lowRatio := nl / (nm + nh + 0.01)
	highRatio := nh / (nl + nm + 0.01)
	midRatio := nm / (nl + nh + 0.01)

	var order []Viseme
	var strength float32
	switch {
	case nl > 0.7 && lowRatio > 1.3:
		order, strength = []Viseme{VisemeAA}, nl
	case nh > 0.65 && highRatio > 1.2:
		order, strength = []Viseme{VisemeEE, VisemeIH, VisemeAA}, nh
	case nm > 0.6 && midRatio > 1.1:
		order, strength = []Viseme{VisemeOU, VisemeOH, VisemeAA}, nm
	default:
		order, strength = []Viseme{VisemeAA}, max(nl, nm, nh, 0.4)
	}
	for _, v := range order {
		if ch, ok := l.channels[v]; ok {
			return ch, strength, true
		}
	}
	return "", 0, false
}

// bandEnergy is the mean of data[start:end] scaled to [0,1].
func bandEnergy(data []byte, start, end int) float32 {
	end = min(end, len(data))
	if end <= start {
		return 0
	}
	var sum int
	for _, b := range data[start:end] {
		sum += int(b)
	}
	return float32(sum) / float32(end-start) / 255
}
