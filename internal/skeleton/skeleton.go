// Package skeleton holds the avatar bone hierarchy and the name index used to
// bind animation tracks to it.
package skeleton

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
)

var (
	ErrDuplicateHumanBone = errors.New("humanoid role mapped to more than one bone")
	ErrEmptySkeleton      = errors.New("skeleton has no bones")
)

// Transform is a local TRS transform.
type Transform struct {
	Position mgl32.Vec3
	Rotation mgl32.Quat
	Scale    mgl32.Vec3
}

// IdentityTransform returns the rest transform of an unposed bone.
func IdentityTransform() Transform {
	return Transform{
		Rotation: mgl32.QuatIdent(),
		Scale:    mgl32.Vec3{1, 1, 1},
	}
}

// Bone is one node of the hierarchy. Human is empty for bones that carry no
// humanoid role (hair, skirt, accessories).
type Bone struct {
	Name   string
	Human  HumanBone
	Parent int

	Rest  Transform
	Local Transform
}

// IsRoot reports whether the bone is the hips, the only bone allowed to
// translate under retargeting.
func (b *Bone) IsRoot() bool {
	return b.Human == Hips
}

// Skeleton is the bone set of one loaded avatar.
type Skeleton struct {
	bones []*Bone
	index *Index
}

// New validates the humanoid registry and builds the lookup index. A nil or
// zero-valued Local transform is initialized from Rest.
func New(bones []*Bone) (*Skeleton, error) {
	if len(bones) == 0 {
		return nil, ErrEmptySkeleton
	}

	seen := make(map[HumanBone]string)
	for _, b := range bones {
		if b.Human == "" {
			continue
		}
		if prev, ok := seen[b.Human]; ok {
			return nil, fmt.Errorf("%w: %s on %q and %q", ErrDuplicateHumanBone, b.Human, prev, b.Name)
		}
		seen[b.Human] = b.Name
	}
	for _, b := range bones {
		if b.Rest == (Transform{}) {
			b.Rest = IdentityTransform()
		}
		if b.Local == (Transform{}) {
			b.Local = b.Rest
		}
	}

	return &Skeleton{
		bones: bones,
		index: NewIndex(bones),
	}, nil
}

func (s *Skeleton) Bones() []*Bone {
	return s.bones
}

func (s *Skeleton) Index() *Index {
	return s.index
}

// Lookup resolves a bone by node name or humanoid role, ignoring case.
func (s *Skeleton) Lookup(name string) (*Bone, bool) {
	return s.index.Lookup(name)
}

// Humanoid returns the bone registered for a humanoid role.
func (s *Skeleton) Humanoid(role HumanBone) (*Bone, bool) {
	return s.index.Humanoid(role)
}

// ResetPose returns every bone to its rest transform.
func (s *Skeleton) ResetPose() {
	for _, b := range s.bones {
		b.Local = b.Rest
	}
}

// Index is a case-insensitive name to bone lookup. Humanoid role names take
// precedence over node names when both collide.
type Index struct {
	byName  map[string]*Bone
	byHuman map[HumanBone]*Bone
}

func NewIndex(bones []*Bone) *Index {
	ix := &Index{
		byName:  make(map[string]*Bone, len(bones)*2),
		byHuman: make(map[HumanBone]*Bone),
	}
	for _, b := range bones {
		if b.Name != "" {
			ix.byName[strings.ToLower(b.Name)] = b
		}
	}
	for _, b := range bones {
		if b.Human == "" {
			continue
		}
		ix.byHuman[b.Human] = b
		ix.byName[strings.ToLower(string(b.Human))] = b
	}
	return ix
}

func (ix *Index) Lookup(name string) (*Bone, bool) {
	b, ok := ix.byName[strings.ToLower(name)]
	return b, ok
}

func (ix *Index) Humanoid(role HumanBone) (*Bone, bool) {
	b, ok := ix.byHuman[role]
	return b, ok
}

// Len is the number of humanoid roles present.
func (ix *Index) Len() int {
	return len(ix.byHuman)
}
