package avatar3d

import (
	"math/rand"
)

type BlinkState int

const (
	BlinkStateOpen BlinkState = iota
	BlinkStateClosing
	BlinkStateOpening
)

func (s BlinkState) String() string {
	switch s {
	case BlinkStateClosing:
		return "closing"
	case BlinkStateOpening:
		return "opening"
	default:
		return "open"
	}
}

// Blinker runs the eyelid cycle: wait a random gap, close at Speed, open at
// Speed, repeat. It is advanced by Update and never reads the wall clock.
// Disabling it stops new blinks but lets one in progress finish.
type Blinker struct {
	cfg BlinkConfig
	rng *rand.Rand

	enabled bool
	state   BlinkState
	weight  float32
	timer   float32
	next    float32
}

func NewBlinker(cfg BlinkConfig, rng *rand.Rand) *Blinker {
	if cfg.Speed <= 0 {
		cfg.Speed = DefaultExpressionConfig().Blink.Speed
	}
	if cfg.MaxGap < cfg.MinGap {
		cfg.MaxGap = cfg.MinGap
	}
	return &Blinker{
		cfg:     cfg,
		rng:     rng,
		enabled: cfg.Enabled,
		next:    cfg.FirstDelay,
	}
}

func (b *Blinker) Update(dt float32) {
	if !b.enabled && b.state == BlinkStateOpen {
		return
	}
	b.timer += dt

	switch b.state {
	case BlinkStateOpen:
		if b.timer >= b.next {
			b.state = BlinkStateClosing
			b.timer = 0
		}

	case BlinkStateClosing:
		b.weight += dt * b.cfg.Speed
		if b.weight >= 1 {
			b.weight = 1
			b.state = BlinkStateOpening
		}

	case BlinkStateOpening:
		b.weight -= dt * b.cfg.Speed
		if b.weight <= 0 {
			b.weight = 0
			b.state = BlinkStateOpen
			b.timer = 0
			b.next = b.cfg.MinGap + b.rng.Float32()*(b.cfg.MaxGap-b.cfg.MinGap)
		}
	}
}

// Trigger starts a blink now, from fully open.
func (b *Blinker) Trigger() {
	b.state = BlinkStateClosing
	b.timer = 0
	b.weight = 0
}

func (b *Blinker) SetEnabled(enabled bool) {
	b.enabled = enabled
}

func (b *Blinker) Enabled() bool {
	return b.enabled
}

func (b *Blinker) Weight() float32 {
	return b.weight
}

func (b *Blinker) State() BlinkState {
	return b.state
}

func (b *Blinker) IsBlinking() bool {
	return b.state != BlinkStateOpen
}

func (b *Blinker) Reset() {
	b.state = BlinkStateOpen
	b.weight = 0
	b.timer = 0
	b.next = b.cfg.FirstDelay
}
