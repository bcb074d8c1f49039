package playback

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"

	"github.com/normanking/cortexmotion/internal/clip"
	"github.com/normanking/cortexmotion/internal/retarget"
	"github.com/normanking/cortexmotion/internal/skeleton"
)

type LoopMode int

const (
	LoopRepeat LoopMode = iota
	LoopOnce
)

func (m LoopMode) String() string {
	if m == LoopOnce {
		return "once"
	}
	return "repeat"
}

// binding is the per-track sample buffer of an action.
type binding struct {
	bone  *skeleton.Bone
	track *clip.Track
	rot   mgl32.Quat
	vec   mgl32.Vec3
}

func (b *binding) sample(t float32) {
	switch b.track.Property {
	case clip.Rotation:
		b.rot = b.track.SampleQuat(t)
	case clip.Position:
		b.vec = b.track.SampleVec3(t)
	}
}

// Action is one live playback of a bound clip.
type Action struct {
	id    uuid.UUID
	bound *retarget.BoundClip

	time      float32
	loop      LoopMode
	timeScale float32
	weight    float32
	enabled   bool
	paused    bool
	finished  bool

	bindings []binding
}

func newAction(bound *retarget.BoundClip, opts PlayOptions) *Action {
	a := &Action{
		id:        uuid.New(),
		bound:     bound,
		loop:      opts.Loop,
		timeScale: opts.TimeScale,
		enabled:   true,
		bindings:  make([]binding, len(bound.Clip.Tracks)),
	}
	for i, t := range bound.Clip.Tracks {
		a.bindings[i] = binding{bone: bound.Bone(i), track: t}
	}
	return a
}

func (a *Action) ID() string { return a.id.String() }
func (a *Action) ClipName() string { return a.bound.Clip.Name }
func (a *Action) Duration() float32 { return a.bound.Clip.Duration }
func (a *Action) Time() float32 { return a.time }
func (a *Action) Weight() float32 { return a.weight }
func (a *Action) Loop() LoopMode { return a.loop }
func (a *Action) TimeScale() float32 { return a.timeScale }
func (a *Action) Enabled() bool { return a.enabled }
func (a *Action) Paused() bool { return a.paused }
func (a *Action) Bound() *retarget.BoundClip { return a.bound }

// advance moves clip time by dt, wrapping repeat actions and clamping once
// actions at either end. It reports whether a once action reached its end.
func (a *Action) advance(dt float32) bool {
	if a.paused || a.finished {
		return false
	}
	d := a.Duration()
	a.time += dt * a.timeScale
	if d <= 0 {
		a.time = 0
		return a.loop == LoopOnce
	}

	switch a.loop {
	case LoopRepeat:
		a.time = float32(math.Mod(float64(a.time), float64(d)))
		if a.time < 0 {
			a.time += d
		}
	case LoopOnce:
		if a.time >= d {
			a.time = d
			a.finished = true
		} else if a.time <= 0 && a.timeScale < 0 {
			a.time = 0
			a.finished = true
		}
	}
	return a.finished
}

func (a *Action) sample() {
	for i := range a.bindings {
		a.bindings[i].sample(a.time)
	}
}

// release detaches the action from the skeleton and frees its buffers.
func (a *Action) release() {
	a.enabled = false
	a.weight = 0
	a.bindings = nil
}
