package playback

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/normanking/cortexmotion/internal/clip"
	"github.com/normanking/cortexmotion/internal/skeleton"
)

type boneAccum struct {
	rot  mgl32.Quat
	rotW float32
	pos  mgl32.Vec3
	posW float32

	// driven marks properties written on an earlier frame. They go back to
	// rest on the first frame no action claims them.
	rotDriven bool
	posDriven bool
}

// poseMixer blends the sampled bindings of weighted actions into bone local
// transforms. Weight an action does not claim is filled from the rest pose.
type poseMixer struct {
	accum map[*skeleton.Bone]*boneAccum
}

func newPoseMixer() *poseMixer {
	return &poseMixer{accum: make(map[*skeleton.Bone]*boneAccum)}
}

// reset zeroes the accumulated weights but keeps the slots, so apply can
// restore bones a released action left behind.
func (m *poseMixer) reset() {
	for _, acc := range m.accum {
		acc.rot, acc.rotW = mgl32.Quat{}, 0
		acc.pos, acc.posW = mgl32.Vec3{}, 0
	}
}

func (m *poseMixer) slot(b *skeleton.Bone) *boneAccum {
	acc, ok := m.accum[b]
	if !ok {
		acc = &boneAccum{}
		m.accum[b] = acc
	}
	return acc
}

func (m *poseMixer) add(a *Action, w float32) {
	if a == nil || w <= 0 || !a.enabled {
		return
	}
	for i := range a.bindings {
		bd := &a.bindings[i]
		acc := m.slot(bd.bone)
		switch bd.track.Property {
		case clip.Rotation:
			q := bd.rot
			if acc.rotW == 0 {
				acc.rot, acc.rotW = q, w
				continue
			}
			if acc.rot.Dot(q) < 0 {
				q = q.Scale(-1)
			}
			acc.rotW += w
			acc.rot = mgl32.QuatNlerp(acc.rot, q, w/acc.rotW)
		case clip.Position:
			if acc.posW == 0 {
				acc.pos, acc.posW = bd.vec, w
				continue
			}
			acc.posW += w
			acc.pos = acc.pos.Add(bd.vec.Sub(acc.pos).Mul(w / acc.posW))
		}
	}
}

// apply writes the blended pose into the bones it touched. A property no
// action claims any more is written back to rest once and then forgotten.
func (m *poseMixer) apply() {
	for bone, acc := range m.accum {
		if acc.rotW == 0 && acc.rotDriven {
			bone.Local.Rotation = bone.Rest.Rotation
			acc.rotDriven = false
		}
		if acc.posW == 0 && acc.posDriven {
			bone.Local.Position = bone.Rest.Position
			acc.posDriven = false
		}
		if acc.rotW == 0 && acc.posW == 0 {
			delete(m.accum, bone)
			continue
		}

		if acc.rotW > 0 {
			rot := acc.rot
			if acc.rotW < 1 {
				rest := bone.Rest.Rotation
				if rest.Dot(rot) < 0 {
					rot = rot.Scale(-1)
				}
				rot = mgl32.QuatSlerp(rest, rot, acc.rotW)
			}
			bone.Local.Rotation = rot.Normalize()
			acc.rotDriven = true
		}
		if acc.posW > 0 {
			pos := acc.pos
			if acc.posW < 1 {
				rest := bone.Rest.Position
				pos = rest.Add(pos.Sub(rest).Mul(acc.posW))
			}
			bone.Local.Position = pos
			acc.posDriven = true
		}
	}
}
