// Package retarget binds animation clips authored for arbitrary rigs onto a
// loaded avatar skeleton and repairs their rotation tracks.
package retarget

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexmotion/internal/clip"
	"github.com/normanking/cortexmotion/internal/metrics"
	"github.com/normanking/cortexmotion/internal/skeleton"
)

var ErrNoTracks = errors.New("no track survived retargeting")

// DropReason says why a source track was left out of a bound clip.
type DropReason string

const (
	DropScale       DropReason = "scale"
	DropPosition    DropReason = "non_root_position"
	DropUnresolved  DropReason = "unresolved"
	DropNotStandard DropReason = "not_standard"
	DropDuplicate   DropReason = "duplicate"
	DropInvalid     DropReason = "invalid"
)

// Report summarizes one Bind call.
type Report struct {
	Clip    string                  `json:"clip" yaml:"clip"`
	Source  int                     `json:"source_tracks" yaml:"source_tracks"`
	Kept    []string                `json:"kept" yaml:"kept"`
	Dropped map[DropReason][]string `json:"dropped" yaml:"dropped"`
	Repair  RepairStats             `json:"repair" yaml:"repair"`
}

func (r *Report) drop(reason DropReason, track string) {
	if r.Dropped == nil {
		r.Dropped = make(map[DropReason][]string)
	}
	r.Dropped[reason] = append(r.Dropped[reason], track)
	metrics.TracksDropped.WithLabelValues(string(reason)).Inc()
}

// BoundClip is a clip whose tracks are renamed to, and resolved against, one
// skeleton. Its keyframes are a private copy of the source clip's.
type BoundClip struct {
	Clip     *clip.Clip
	Skeleton *skeleton.Skeleton
	Report   Report

	bones []*skeleton.Bone
}

// Bone returns the skeleton bone driven by track i.
func (b *BoundClip) Bone(i int) *skeleton.Bone {
	return b.bones[i]
}

// Mapper retargets clips onto skeletons.
type Mapper struct {
	repair RepairConfig
	logger zerolog.Logger
}

func NewMapper(repair RepairConfig, logger zerolog.Logger) *Mapper {
	return &Mapper{
		repair: repair,
		logger: logger.With().Str("component", "retarget").Logger(),
	}
}

// Bind keeps the tracks of c that land on a whitelisted bone of skel, in
// clip order:
//   - malformed tracks (no keys, value count off) are dropped
//   - scale tracks are dropped
//   - position tracks are dropped unless they land on the hips
//   - names resolve case-insensitively through the skeleton index
//
// Survivors are renamed to the target bone and copied unchanged, then their
// rotation tracks are repaired. A clip with no survivors fails with
// ErrNoTracks.
func (m *Mapper) Bind(c *clip.Clip, skel *skeleton.Skeleton) (*BoundClip, error) {
	report := Report{Clip: c.Name, Source: len(c.Tracks)}
	bound := &clip.Clip{Name: c.Name, Duration: c.Duration}
	var bones []*skeleton.Bone
	seen := make(map[string]bool)

	for _, t := range c.Tracks {
		if t == nil {
			report.drop(DropInvalid, "")
			continue
		}
		name := t.Name()
		if err := t.Validate(); err != nil {
			m.logger.Debug().Err(err).Str("clip", c.Name).Msg("Malformed track dropped")
			report.drop(DropInvalid, name)
			continue
		}
		if t.Property == clip.Scale {
			report.drop(DropScale, name)
			continue
		}

		bone, ok := skel.Lookup(t.Bone)
		if !ok {
			report.drop(DropUnresolved, name)
			continue
		}
		if !skeleton.IsStandard(bone.Human) {
			report.drop(DropNotStandard, name)
			continue
		}
		if t.Property == clip.Position && !bone.IsRoot() {
			report.drop(DropPosition, name)
			continue
		}

		out := t.Clone()
		out.Bone = bone.Name
		if seen[out.Name()] {
			report.drop(DropDuplicate, name)
			continue
		}
		seen[out.Name()] = true

		bound.Tracks = append(bound.Tracks, out)
		bones = append(bones, bone)
		report.Kept = append(report.Kept, out.Name())
	}

	if len(bound.Tracks) == 0 {
		m.logger.Debug().Str("clip", c.Name).Interface("dropped", report.Dropped).Msg("Retarget produced no tracks")
		return nil, fmt.Errorf("%s: %w", c.Name, ErrNoTracks)
	}

	for i, t := range bound.Tracks {
		if t.Property != clip.Rotation {
			continue
		}
		limb := m.repair.IsLimb(t.Bone) || m.repair.IsLimb(string(bones[i].Human))
		report.Repair.add(RepairTrack(t, limb, m.repair))
	}
	metrics.KeysRepaired.WithLabelValues("flipped").Add(float64(report.Repair.Flipped))
	metrics.KeysRepaired.WithLabelValues("damped").Add(float64(report.Repair.Damped))
	metrics.ClipsBound.Inc()

	m.logger.Debug().
		Str("clip", c.Name).
		Int("source", report.Source).
		Int("kept", len(report.Kept)).
		Int("flipped", report.Repair.Flipped).
		Int("damped", report.Repair.Damped).
		Msg("Clip bound")

	return &BoundClip{
		Clip:     bound,
		Skeleton: skel,
		Report:   report,
		bones:    bones,
	}, nil
}
