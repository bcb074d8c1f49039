// Package clip holds decoded skeletal animation clips and the loaders that
// produce them from glTF/VRMA files.
package clip

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
)

var (
	ErrNoAnimations  = errors.New("file contains no animations")
	ErrBadTrackName  = errors.New("track name must be <bone>.<property>")
	ErrUnevenTrack   = errors.New("track value count does not match its keyframes")
	ErrEmptyTrack    = errors.New("track has no keyframes")
	ErrUnknownTarget = errors.New("unknown track property")
)

// Property is the transform component a track animates.
type Property string

const (
	Position Property = "position"
	Rotation Property = "rotation"
	Scale    Property = "scale"
)

// ParseProperty accepts the canonical names plus "quaternion" and
// "translation", which other exporters use.
func ParseProperty(s string) (Property, error) {
	switch strings.ToLower(s) {
	case "position", "translation":
		return Position, nil
	case "rotation", "quaternion":
		return Rotation, nil
	case "scale":
		return Scale, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTarget, s)
}

// Components is the number of floats stored per keyframe.
func (p Property) Components() int {
	if p == Rotation {
		return 4
	}
	return 3
}

type Interpolation int

const (
	Linear Interpolation = iota
	Step
)

// Track is the keyframe data for one (bone, property) pair. Rotation values
// are x, y, z, w quaternions.
type Track struct {
	Bone          string
	Property      Property
	Interpolation Interpolation
	Times         []float32
	Values        []float32
}

// ParseTrackName splits "Hips.rotation" into its bone and property.
func ParseTrackName(name string) (string, Property, error) {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 || i == len(name)-1 {
		return "", "", fmt.Errorf("%w: %q", ErrBadTrackName, name)
	}
	prop, err := ParseProperty(name[i+1:])
	if err != nil {
		return "", "", err
	}
	return name[:i], prop, nil
}

// NewTrack builds a track from its display name.
func NewTrack(name string, times, values []float32) (*Track, error) {
	bone, prop, err := ParseTrackName(name)
	if err != nil {
		return nil, err
	}
	t := &Track{Bone: bone, Property: prop, Times: times, Values: values}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Track) Name() string {
	return t.Bone + "." + string(t.Property)
}

func (t *Track) Len() int {
	return len(t.Times)
}

func (t *Track) Validate() error {
	if len(t.Times) == 0 {
		return fmt.Errorf("%s: %w", t.Name(), ErrEmptyTrack)
	}
	if len(t.Values) != len(t.Times)*t.Property.Components() {
		return fmt.Errorf("%s: %w (%d keys, %d values)", t.Name(), ErrUnevenTrack, len(t.Times), len(t.Values))
	}
	return nil
}

// Quat returns keyframe i of a rotation track.
func (t *Track) Quat(i int) mgl32.Quat {
	v := t.Values[i*4 : i*4+4]
	return mgl32.Quat{W: v[3], V: mgl32.Vec3{v[0], v[1], v[2]}}
}

func (t *Track) SetQuat(i int, q mgl32.Quat) {
	v := t.Values[i*4 : i*4+4]
	v[0], v[1], v[2], v[3] = q.V[0], q.V[1], q.V[2], q.W
}

// Vec3 returns keyframe i of a position or scale track.
func (t *Track) Vec3(i int) mgl32.Vec3 {
	v := t.Values[i*3 : i*3+3]
	return mgl32.Vec3{v[0], v[1], v[2]}
}

// span finds the keyframes around time and the blend factor between them.
func (t *Track) span(time float32) (int, int, float32) {
	n := len(t.Times)
	if n == 1 || time <= t.Times[0] {
		return 0, 0, 0
	}
	if time >= t.Times[n-1] {
		return n - 1, n - 1, 0
	}
	hi := sort.Search(n, func(i int) bool { return t.Times[i] > time })
	lo := hi - 1
	if t.Interpolation == Step {
		return lo, lo, 0
	}
	dt := t.Times[hi] - t.Times[lo]
	if dt <= 0 {
		return hi, hi, 0
	}
	return lo, hi, (time - t.Times[lo]) / dt
}

// SampleQuat evaluates a rotation track at time, clamped to its key range.
func (t *Track) SampleQuat(time float32) mgl32.Quat {
	lo, hi, f := t.span(time)
	if lo == hi || f == 0 {
		return t.Quat(lo)
	}
	return mgl32.QuatSlerp(t.Quat(lo), t.Quat(hi), f).Normalize()
}

// SampleVec3 evaluates a position or scale track at time.
func (t *Track) SampleVec3(time float32) mgl32.Vec3 {
	lo, hi, f := t.span(time)
	a := t.Vec3(lo)
	if lo == hi || f == 0 {
		return a
	}
	b := t.Vec3(hi)
	return a.Add(b.Sub(a).Mul(f))
}

func (t *Track) Clone() *Track {
	c := *t
	c.Times = append([]float32(nil), t.Times...)
	c.Values = append([]float32(nil), t.Values...)
	return &c
}

// Clip is a named, fixed-duration set of bone tracks.
type Clip struct {
	Name     string
	Duration float32
	Tracks   []*Track
}

// New builds a clip and derives its duration from the last keyframe when
// duration is not positive.
func New(name string, duration float32, tracks []*Track) *Clip {
	c := &Clip{Name: name, Duration: duration, Tracks: tracks}
	if c.Duration <= 0 {
		c.Duration = c.lastKeyTime()
	}
	return c
}

func (c *Clip) lastKeyTime() float32 {
	var end float32
	for _, t := range c.Tracks {
		if t == nil {
			continue
		}
		if n := len(t.Times); n > 0 && t.Times[n-1] > end {
			end = t.Times[n-1]
		}
	}
	return end
}

// Track returns the track with the given display name.
func (c *Clip) Track(name string) (*Track, bool) {
	for _, t := range c.Tracks {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}

// TrackNames lists track display names in clip order.
func (c *Clip) TrackNames() []string {
	names := make([]string, len(c.Tracks))
	for i, t := range c.Tracks {
		names[i] = t.Name()
	}
	return names
}

// Clone deep-copies the clip so that in-place repairs never reach the source.
func (c *Clip) Clone() *Clip {
	tracks := make([]*Track, len(c.Tracks))
	for i, t := range c.Tracks {
		tracks[i] = t.Clone()
	}
	return &Clip{Name: c.Name, Duration: c.Duration, Tracks: tracks}
}
