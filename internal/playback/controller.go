// Package playback schedules bound clips on one skeleton: immediate starts,
// crossfades, fade-out stops, and the per-tick pose blend.
package playback

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexmotion/internal/clip"
	"github.com/normanking/cortexmotion/internal/metrics"
	"github.com/normanking/cortexmotion/internal/retarget"
	"github.com/normanking/cortexmotion/internal/skeleton"
)

var (
	ErrLoadFailure = errors.New("clip could not be loaded for playback")
	ErrNoSkeleton  = errors.New("no skeleton bound")
)

type State int

const (
	StateIdle State = iota
	StatePlaying
	StateCrossfading
	StateStopping
)

func (s State) String() string {
	switch s {
	case StatePlaying:
		return "playing"
	case StateCrossfading:
		return "crossfading"
	case StateStopping:
		return "stopping"
	default:
		return "idle"
	}
}

// Config holds controller timing defaults, in seconds.
type Config struct {
	FadeDuration float32 `mapstructure:"fade_duration"`
	MaxDelta     float32 `mapstructure:"max_delta"`
}

func DefaultConfig() Config {
	return Config{
		FadeDuration: 0.4,
		MaxDelta:     0.1,
	}
}

// PlayOptions configures one Play call. Zero TimeScale means 1 and zero
// FadeDuration means the controller default.
type PlayOptions struct {
	Loop         LoopMode
	TimeScale    float32
	Immediate    bool
	FadeDuration float32
}

type EventKind string

const (
	EventStarted  EventKind = "started"
	EventFinished EventKind = "finished"
	EventStopped  EventKind = "stopped"
)

// Event reports an action lifecycle change.
type Event struct {
	Kind     EventKind
	Clip     string
	ActionID string
}

// Info is a snapshot of the current action.
type Info struct {
	Clip      string  `json:"clip"`
	ActionID  string  `json:"action_id"`
	State     string  `json:"state"`
	Time      float32 `json:"time"`
	Duration  float32 `json:"duration"`
	Weight    float32 `json:"weight"`
	Loop      bool    `json:"loop"`
	TimeScale float32 `json:"time_scale"`
	Paused    bool    `json:"paused"`
}

// Controller owns the current and previous actions of one skeleton. It is not
// safe for concurrent use.
type Controller struct {
	skel   *skeleton.Skeleton
	mapper *retarget.Mapper
	cfg    Config
	logger zerolog.Logger

	bound map[*clip.Clip]*retarget.BoundClip

	current  *Action
	previous *Action

	// crossfade: previous weight is fadeFrom*(1 - fadeElapsed/fadeDuration)
	fading       bool
	fadeFrom     float32
	fadeElapsed  float32
	fadeDuration float32

	stopping     bool
	stopFrom     float32
	stopElapsed  float32
	stopDuration float32

	paused bool
	pose   *poseMixer

	// OnEvent, when set, is called synchronously from Play, Stop and Advance.
	OnEvent func(Event)
}

func NewController(skel *skeleton.Skeleton, mapper *retarget.Mapper, cfg Config, logger zerolog.Logger) *Controller {
	if cfg.FadeDuration <= 0 {
		cfg.FadeDuration = DefaultConfig().FadeDuration
	}
	if cfg.MaxDelta <= 0 {
		cfg.MaxDelta = DefaultConfig().MaxDelta
	}
	return &Controller{
		skel:   skel,
		mapper: mapper,
		cfg:    cfg,
		logger: logger.With().Str("component", "playback").Logger(),
		bound:  make(map[*clip.Clip]*retarget.BoundClip),
		pose:   newPoseMixer(),
	}
}

// Bind retargets c onto the controller's skeleton, reusing an earlier
// binding of the same clip.
func (c *Controller) Bind(src *clip.Clip) (*retarget.BoundClip, error) {
	if c.skel == nil {
		return nil, ErrNoSkeleton
	}
	if b, ok := c.bound[src]; ok {
		return b, nil
	}
	b, err := c.mapper.Bind(src, c.skel)
	if err != nil {
		return nil, err
	}
	c.bound[src] = b
	return b, nil
}

// Play starts src. On failure the playing actions are left untouched.
func (c *Controller) Play(src *clip.Clip, opts PlayOptions) (*Action, error) {
	if c.skel == nil {
		return nil, ErrNoSkeleton
	}
	if src == nil {
		metrics.LoadFailures.Inc()
		return nil, fmt.Errorf("%w: nil clip", ErrLoadFailure)
	}
	b, err := c.Bind(src)
	if err != nil {
		metrics.LoadFailures.Inc()
		c.logger.Warn().Err(err).Str("clip", src.Name).Msg("Play rejected")
		return nil, fmt.Errorf("%w: %w", ErrLoadFailure, err)
	}

	if opts.TimeScale == 0 {
		opts.TimeScale = 1
	}
	if opts.FadeDuration <= 0 {
		opts.FadeDuration = c.cfg.FadeDuration
	}

	next := newAction(b, opts)
	next.paused = c.paused

	if opts.Immediate {
		c.releasePrevious()
		if c.current != nil {
			c.current.release()
		}
		c.stopping = false
		c.fading = false
		c.current = next
		next.weight = 1
		c.evaluate()
	} else {
		c.crossfadeTo(next, opts.FadeDuration)
	}

	c.logger.Debug().
		Str("clip", src.Name).
		Str("action", next.ID()).
		Bool("immediate", opts.Immediate).
		Str("loop", opts.Loop.String()).
		Msg("Playback started")
	c.emit(EventStarted, next)
	c.updateGauge()
	return next, nil
}

// crossfadeTo makes next current and demotes the current (or stopping)
// action to previous. A pending stop is cancelled; an older previous action
// is dropped.
func (c *Controller) crossfadeTo(next *Action, duration float32) {
	c.releasePrevious()

	from := float32(1) // fade in from the rest pose
	if c.current != nil {
		from = c.current.weight
		c.previous = c.current
	}
	c.stopping = false
	c.current = next

	c.fading = true
	c.fadeFrom = from
	c.fadeElapsed = 0
	c.fadeDuration = duration
	c.applyFadeWeights()
}

func (c *Controller) applyFadeWeights() {
	prev := c.fadeFrom * (1 - c.fadeElapsed/c.fadeDuration)
	if prev < 0 {
		prev = 0
	}
	if c.previous != nil {
		c.previous.weight = prev
	}
	c.current.weight = 1 - prev
}

// Stop fades the current action out over fadeOut seconds, then releases it.
// fadeOut <= 0 releases immediately.
func (c *Controller) Stop(fadeOut float32) {
	if c.current == nil {
		return
	}
	c.releasePrevious()
	c.fading = false

	if fadeOut <= 0 {
		c.finishStop()
		return
	}
	c.stopping = true
	c.stopFrom = c.current.weight
	c.stopElapsed = 0
	c.stopDuration = fadeOut
}

func (c *Controller) finishStop() {
	a := c.current
	c.current = nil
	c.stopping = false
	a.release()
	c.evaluate()
	c.logger.Debug().Str("clip", a.ClipName()).Str("action", a.ID()).Msg("Playback stopped")
	c.emit(EventStopped, a)
	c.updateGauge()
}

func (c *Controller) releasePrevious() {
	if c.previous != nil {
		c.previous.release()
		c.previous = nil
	}
}

// Pause freezes clip time and fades until Resume.
func (c *Controller) Pause() {
	c.setPaused(true)
}

func (c *Controller) Resume() {
	c.setPaused(false)
}

func (c *Controller) setPaused(p bool) {
	c.paused = p
	for _, a := range []*Action{c.current, c.previous} {
		if a != nil {
			a.paused = p
		}
	}
}

// Advance moves playback forward by dt seconds and writes the blended pose.
// Non-positive or NaN deltas are ignored and large ones are clamped to
// MaxDelta.
func (c *Controller) Advance(dt float32) {
	clamped, ok := ClampDelta(dt, c.cfg.MaxDelta)
	if !ok {
		metrics.FrameGlitches.WithLabelValues("rejected").Inc()
		c.logger.Debug().Float32("dt", dt).Msg("Rejected frame delta")
		return
	}
	if clamped != dt {
		metrics.FrameGlitches.WithLabelValues("clamped").Inc()
		c.logger.Debug().Float32("dt", dt).Float32("max", c.cfg.MaxDelta).Msg("Clamped frame delta")
		dt = clamped
	}
	if c.current == nil || c.paused {
		return
	}

	if c.fading {
		c.fadeElapsed += dt
		if c.fadeElapsed >= c.fadeDuration {
			c.fading = false
			c.releasePrevious()
			c.current.weight = 1
			c.updateGauge()
		} else {
			c.applyFadeWeights()
		}
	}

	if c.stopping {
		c.stopElapsed += dt
		if c.stopElapsed >= c.stopDuration {
			c.finishStop()
			return
		}
		c.current.weight = c.stopFrom * (1 - c.stopElapsed/c.stopDuration)
	}

	if c.previous != nil {
		c.previous.advance(dt)
	}
	finished := c.current.advance(dt)

	c.evaluate()

	if finished && !c.stopping {
		a := c.current
		c.emit(EventFinished, a)
		c.releasePrevious()
		c.fading = false
		c.finishStop()
	}
}

// ClampDelta validates a frame delta: NaN and non-positive values are
// rejected, anything above max is cut to max.
func ClampDelta(dt, max float32) (float32, bool) {
	if math.IsNaN(float64(dt)) || dt <= 0 {
		return 0, false
	}
	if dt > max {
		return max, true
	}
	return dt, true
}

// evaluate samples every live action and writes the blended pose.
func (c *Controller) evaluate() {
	c.pose.reset()
	for _, a := range []*Action{c.previous, c.current} {
		if a == nil {
			continue
		}
		a.sample()
		c.pose.add(a, a.weight)
	}
	c.pose.apply()
}

func (c *Controller) State() State {
	switch {
	case c.current == nil:
		return StateIdle
	case c.stopping:
		return StateStopping
	case c.fading:
		return StateCrossfading
	default:
		return StatePlaying
	}
}

func (c *Controller) Current() *Action {
	return c.current
}

func (c *Controller) Previous() *Action {
	return c.previous
}

func (c *Controller) Paused() bool {
	return c.paused
}

// Info snapshots the current action. ok is false when idle.
func (c *Controller) Info() (Info, bool) {
	a := c.current
	if a == nil {
		return Info{State: StateIdle.String(), Paused: c.paused}, false
	}
	return Info{
		Clip:      a.ClipName(),
		ActionID:  a.ID(),
		State:     c.State().String(),
		Time:      a.time,
		Duration:  a.Duration(),
		Weight:    a.weight,
		Loop:      a.loop == LoopRepeat,
		TimeScale: a.timeScale,
		Paused:    c.paused,
	}, true
}

// Release drops every action and cached binding and puts the bones they
// drove back at rest. The controller must not be used afterwards.
func (c *Controller) Release() {
	c.releasePrevious()
	if c.current != nil {
		c.current.release()
		c.current = nil
	}
	c.fading = false
	c.stopping = false
	c.pose.reset()
	c.pose.apply()
	c.bound = make(map[*clip.Clip]*retarget.BoundClip)
	c.pose = newPoseMixer()
	c.skel = nil
	c.updateGauge()
}

func (c *Controller) emit(kind EventKind, a *Action) {
	if c.OnEvent != nil {
		c.OnEvent(Event{Kind: kind, Clip: a.ClipName(), ActionID: a.ID()})
	}
}

func (c *Controller) updateGauge() {
	n := 0
	if c.current != nil {
		n++
	}
	if c.previous != nil {
		n++
	}
	metrics.ActiveActions.Set(float64(n))
}
