package avatar3d

import (
	"errors"
	"math/rand"
	"sort"
	"strings"
)

var ErrUnknownMood = errors.New("unknown mood")

// MoodSet holds the current mood and its timers. The current mood is either
// a configured mood label or, after SetBase, any channel name.
type MoodSet struct {
	cfg     MoodConfig
	rng     *rand.Rand
	aliases map[string][]string
	pool    []string
	unknown []string

	current    string
	autoChange bool

	// returnIn < 0 means no pending return to neutral
	returnIn   float32
	changeIn   float32
	changeTime float32

	onChange func(mood string)
}

func NewMoodSet(cfg MoodConfig, rng *rand.Rand) *MoodSet {
	if cfg.Neutral == "" {
		cfg.Neutral = DefaultExpressionConfig().Mood.Neutral
	}
	cfg.Neutral = strings.ToLower(cfg.Neutral)
	aliases := make(map[string][]string, len(cfg.Aliases)+1)
	for mood, list := range cfg.Aliases {
		lower := make([]string, 0, len(list))
		for _, a := range list {
			lower = append(lower, strings.ToLower(a))
		}
		aliases[strings.ToLower(mood)] = lower
	}
	if _, ok := aliases[cfg.Neutral]; !ok {
		aliases[cfg.Neutral] = []string{cfg.Neutral}
	}

	var pool, unknown []string
	for _, p := range cfg.Pool {
		lower := strings.ToLower(p)
		if _, ok := aliases[lower]; ok {
			pool = append(pool, lower)
		} else {
			unknown = append(unknown, p)
		}
	}
	return &MoodSet{
		cfg:        cfg,
		rng:        rng,
		aliases:    aliases,
		pool:       pool,
		unknown:    unknown,
		current:    cfg.Neutral,
		autoChange: cfg.AutoChange,
		returnIn:   -1,
		changeIn:   cfg.FirstChange,
	}
}

// UnknownPool lists configured auto-change labels that are not moods. They
// are left out of random cycling.
func (m *MoodSet) UnknownPool() []string {
	return m.unknown
}

func (m *MoodSet) Current() string {
	return m.current
}

func (m *MoodSet) Known(mood string) bool {
	_, ok := m.aliases[strings.ToLower(mood)]
	return ok
}

// Moods lists the configured mood labels.
func (m *MoodSet) Moods() []string {
	out := make([]string, 0, len(m.aliases))
	for mood := range m.aliases {
		out = append(out, mood)
	}
	sort.Strings(out)
	return out
}

// Set switches to a configured mood. It restarts the auto-change gap and,
// for anything but neutral, schedules the return to neutral.
func (m *MoodSet) Set(mood string) error {
	mood = strings.ToLower(mood)
	if _, ok := m.aliases[mood]; !ok {
		return ErrUnknownMood
	}
	m.changeTime = 0
	m.returnIn = -1
	if m.cfg.AutoReturn && mood != m.cfg.Neutral {
		m.returnIn = m.cfg.ReturnDelay
	}
	m.switchTo(mood)
	return nil
}

// SetBase makes an arbitrary channel name the current mood and stops random
// cycling. No return timer is started.
func (m *MoodSet) SetBase(name string) {
	m.autoChange = false
	m.returnIn = -1
	if name == "" {
		name = m.cfg.Neutral
	}
	m.switchTo(strings.ToLower(name))
}

func (m *MoodSet) SetAutoChange(on bool) {
	m.autoChange = on
	m.changeTime = 0
}

func (m *MoodSet) AutoChange() bool {
	return m.autoChange
}

func (m *MoodSet) switchTo(mood string) {
	if mood == m.current {
		return
	}
	m.current = mood
	if m.onChange != nil {
		m.onChange(mood)
	}
}

func (m *MoodSet) Update(dt float32) {
	if m.returnIn >= 0 {
		m.returnIn -= dt
		if m.returnIn <= 0 {
			m.returnIn = -1
			m.switchTo(m.cfg.Neutral)
		}
	}

	if !m.autoChange || len(m.pool) == 0 {
		return
	}
	m.changeTime += dt
	if m.changeTime >= m.changeIn {
		if pick := m.pool[m.rng.Intn(len(m.pool))]; pick != m.current {
			// pool entries are known moods, Set cannot fail
			_ = m.Set(pick)
		}
		m.changeTime = 0
		m.changeIn = m.cfg.ChangeMin + m.rng.Float32()*(m.cfg.ChangeMax-m.cfg.ChangeMin)
	}
}

// Matches reports whether a channel belongs to the current mood, by name or
// through the mood's aliases.
func (m *MoodSet) Matches(channel string) bool {
	lower := strings.ToLower(channel)
	if lower == m.current {
		return true
	}
	for _, a := range m.aliases[m.current] {
		if a == lower {
			return true
		}
	}
	return false
}

// ReturnPending reports whether a return to neutral is scheduled.
func (m *MoodSet) ReturnPending() bool {
	return m.returnIn >= 0
}

func (m *MoodSet) Reset() {
	m.current = m.cfg.Neutral
	m.autoChange = m.cfg.AutoChange
	m.returnIn = -1
	m.changeTime = 0
	m.changeIn = m.cfg.FirstChange
}
