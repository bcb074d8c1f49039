package avatar3d

import (
	"errors"
	"math/rand"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexmotion/internal/metrics"
)

var ErrUnknownExpression = errors.New("unknown expression")

// blinkChannels are driven by the blink cycle: the VRM "blink" expression
// or, when a model has none, the ARKit eyelid pair.
var blinkChannels = []string{"blink"}

var arkitBlinkChannels = []string{
	BlendshapeNames[EyeBlinkLeft],
	BlendshapeNames[EyeBlinkRight],
}

// Mixer is the only writer of an avatar's expression channels. Each tick it
// arbitrates between manual locks, lip-sync, the blink cycle and the current
// mood.
type Mixer struct {
	cfg    ExpressionConfig
	logger zerolog.Logger

	table   ChannelTable
	names   []string
	lips    *LipSync
	blink   *Blinker
	moods   *MoodSet
	locks   *overrides
	written map[string]bool
	blinks  map[string]bool

	// OnMoodChange, when set, is called synchronously on every mood switch.
	OnMoodChange func(mood string)
}

func NewMixer(table ChannelTable, cfg ExpressionConfig, lcfg LipSyncConfig, rng *rand.Rand, logger zerolog.Logger) *Mixer {
	def := DefaultExpressionConfig()
	if cfg.SmoothingRate <= 0 {
		cfg.SmoothingRate = def.SmoothingRate
	}
	if cfg.SnapEpsilon <= 0 {
		cfg.SnapEpsilon = def.SnapEpsilon
	}
	if cfg.ZeroEpsilon <= 0 {
		cfg.ZeroEpsilon = def.ZeroEpsilon
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	names := table.Names()
	m := &Mixer{
		cfg:     cfg,
		logger:  logger.With().Str("component", "expression").Logger(),
		table:   table,
		names:   names,
		lips:    NewLipSync(ResolveVisemes(names), lcfg, logger),
		blink:   NewBlinker(cfg.Blink, rng),
		moods:   NewMoodSet(cfg.Mood, rng),
		locks:   newOverrides(),
		written: make(map[string]bool, len(names)),
	}
	m.moods.onChange = m.moodChanged
	m.blinks = m.resolveBlinkChannels()
	if bad := m.moods.UnknownPool(); len(bad) > 0 {
		m.logger.Warn().Strs("moods", bad).Msg("Unknown moods left out of auto-change pool")
	}
	return m
}

func (m *Mixer) resolveBlinkChannels() map[string]bool {
	for _, set := range [][]string{blinkChannels, arkitBlinkChannels} {
		found := make(map[string]bool)
		for _, want := range set {
			if ch, ok := m.channel(want); ok {
				found[ch] = true
			}
		}
		if len(found) > 0 {
			return found
		}
	}
	return nil
}

func (m *Mixer) moodChanged(mood string) {
	metrics.MoodChanges.WithLabelValues(mood).Inc()
	m.logger.Debug().Str("mood", mood).Msg("Mood changed")
	if m.OnMoodChange != nil {
		m.OnMoodChange(mood)
	}
}

func (m *Mixer) Table() ChannelTable {
	return m.table
}

func (m *Mixer) LipSync() *LipSync {
	return m.lips
}

func (m *Mixer) Blinker() *Blinker {
	return m.blink
}

func (m *Mixer) Moods() *MoodSet {
	return m.moods
}

func (m *Mixer) CurrentMood() string {
	return m.moods.Current()
}

// SetMood switches to a configured mood and cancels the pending auto-mood
// change.
func (m *Mixer) SetMood(mood string) error {
	if err := m.moods.Set(mood); err != nil {
		m.logger.Warn().Str("mood", mood).Msg("Unknown mood ignored")
		return err
	}
	return nil
}

// Locked reports whether a channel is under a manual override.
func (m *Mixer) Locked(channel string) bool {
	_, ok := m.locks.locked(channel)
	return ok
}

// TriggerOneShot plays a manual expression. A single-eye blink locks that
// channel shut for WinkHold; "blink" forces one blink cycle; anything else
// becomes the base expression and stops random mood cycling.
func (m *Mixer) TriggerOneShot(name string) error {
	lower := strings.ToLower(name)

	if strings.Contains(lower, "blink") {
		if strings.Contains(lower, "left") || strings.Contains(lower, "right") || strings.HasSuffix(lower, "_l") || strings.HasSuffix(lower, "_r") {
			ch, ok := m.channel(name)
			if !ok {
				return ErrUnknownExpression
			}
			m.moods.SetAutoChange(false)
			m.locks.lock(ch, 1, m.cfg.WinkHold, 0)
			m.table.Set(ch, 1)
			m.locks.after(m.cfg.WinkHold, func() { m.moods.SetBase(m.cfg.Mood.Neutral) })
			m.logger.Debug().Str("channel", ch).Msg("Wink")
			return nil
		}

		m.moods.SetAutoChange(false)
		wasEnabled := m.blink.Enabled()
		m.blink.SetEnabled(true)
		m.blink.Trigger()
		m.locks.after(m.cfg.DoubleBlinkHold, func() {
			m.blink.SetEnabled(wasEnabled)
			m.moods.SetBase(m.cfg.Mood.Neutral)
		})
		m.logger.Debug().Msg("Forced blink")
		return nil
	}

	if _, ok := m.channel(name); !ok && !m.moods.Known(name) {
		return ErrUnknownExpression
	}
	m.moods.SetBase(name)
	return nil
}

func (m *Mixer) channel(name string) (string, bool) {
	for _, n := range m.names {
		if strings.EqualFold(n, name) {
			return n, true
		}
	}
	return "", false
}

// Update advances the blink, mood and override timers and writes every
// non-viseme channel.
func (m *Mixer) Update(dt float32) {
	for ch, w := range m.locks.update(dt) {
		m.table.Set(ch, w)
	}
	m.blink.Update(dt)
	m.moods.Update(dt)

	step := clamp(m.cfg.SmoothingRate*dt, 0, 1)
	blinkFromMood := strings.Contains(m.moods.Current(), "blink")

	for _, name := range m.names {
		if l, ok := m.locks.locked(name); ok {
			m.table.Set(name, l.weight)
			continue
		}
		if m.lips.Owns(name) || IsVisemeChannel(name) {
			continue
		}

		if m.blinks[name] && !blinkFromMood {
			m.table.Set(name, m.blink.Weight())
			m.written[name] = true
			continue
		}

		var target float32
		if m.moods.Matches(name) {
			target = 1
		}
		m.smooth(name, target, step)
	}
}

func (m *Mixer) smooth(name string, target, step float32) {
	cur := m.table.Get(name)
	if target == 0 && cur < m.cfg.ZeroEpsilon {
		if cur != 0 || !m.written[name] {
			m.table.Set(name, 0)
			m.written[name] = true
		}
		return
	}

	diff := target - cur
	if diff < m.cfg.SnapEpsilon && diff > -m.cfg.SnapEpsilon {
		cur = target
	} else {
		cur += diff * step
	}
	m.table.Set(name, clamp(cur, 0, 1))
	m.written[name] = true
}

// FeedLipSync advances the analyser one frame and writes the viseme
// channels. Locked channels keep their override.
func (m *Mixer) FeedLipSync() {
	m.lips.Update()
	m.writeVisemes()
}

func (m *Mixer) writeVisemes() {
	for ch, w := range m.lips.Weights() {
		if _, ok := m.locks.locked(ch); ok {
			continue
		}
		m.table.Set(ch, clamp(w, 0, 1))
	}
}

func (m *Mixer) StartLipSync(src AudioSource) error {
	return m.lips.Start(src)
}

// StopLipSync detaches the audio source and clears the mouth immediately.
func (m *Mixer) StopLipSync() {
	m.lips.Stop()
	m.writeVisemes()
}

// Reset clears every channel, lock and timer.
func (m *Mixer) Reset() {
	m.lips.Stop()
	m.locks.clear()
	m.blink.Reset()
	m.moods.Reset()
	for _, name := range m.names {
		m.table.Set(name, 0)
	}
	m.written = make(map[string]bool, len(m.names))
}

func (m *Mixer) Weights() WeightVector {
	return Snapshot(m.table)
}

// ExpressionList lists channels usable as base expressions: everything but
// gaze, viseme and neutral channels, sorted.
func (m *Mixer) ExpressionList() []string {
	var out []string
	for _, n := range m.names {
		lower := strings.ToLower(n)
		if IsVisemeChannel(n) || m.lips.Owns(n) || strings.Contains(lower, "look") || strings.Contains(lower, "neutral") {
			continue
		}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
