package retarget

import (
	"math"
	"strings"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/normanking/cortexmotion/internal/clip"
)

// RepairConfig tunes rotation continuity repair. Angles are in degrees.
type RepairConfig struct {
	DotThreshold     float32  `mapstructure:"dot_threshold"`
	LimbDotThreshold float32  `mapstructure:"limb_dot_threshold"`
	MaxLimbAngle     float32  `mapstructure:"max_limb_angle"`
	Damping          float32  `mapstructure:"damping"`
	LimbKeywords     []string `mapstructure:"limb_keywords"`
}

func DefaultRepairConfig() RepairConfig {
	return RepairConfig{
		DotThreshold:     0,
		LimbDotThreshold: 0.1,
		MaxLimbAngle:     90,
		Damping:          0.3,
		LimbKeywords:     []string{"shoulder", "upperarm", "lowerarm", "hand"},
	}
}

// RepairStats counts keyframes rewritten by a repair pass.
type RepairStats struct {
	Tracks  int `json:"tracks" yaml:"tracks"`
	Flipped int `json:"flipped" yaml:"flipped"`
	Damped  int `json:"damped" yaml:"damped"`
}

func (s *RepairStats) add(o RepairStats) {
	s.Tracks += o.Tracks
	s.Flipped += o.Flipped
	s.Damped += o.Damped
}

// IsLimb reports whether a bone name contains one of the limb keywords.
func (cfg RepairConfig) IsLimb(name string) bool {
	lower := strings.ToLower(name)
	for _, k := range cfg.LimbKeywords {
		if k != "" && strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// Repair runs RepairTrack over every rotation track of c, classifying limb
// tracks by bone name.
func Repair(c *clip.Clip, cfg RepairConfig) RepairStats {
	var stats RepairStats
	for _, t := range c.Tracks {
		if t.Property != clip.Rotation {
			continue
		}
		stats.add(RepairTrack(t, cfg.IsLimb(t.Bone), cfg))
	}
	return stats
}

// RepairTrack rewrites a rotation track in place in one forward pass, each
// key compared against the already repaired key before it. A key is negated
// when its dot product with the previous key falls below the threshold. On
// limb tracks a step wider than MaxLimbAngle is replaced by a slerp of
// Damping from the previous key. The result is stable under a second pass.
func RepairTrack(t *clip.Track, limb bool, cfg RepairConfig) RepairStats {
	stats := RepairStats{Tracks: 1}
	if t.Property != clip.Rotation || t.Len() < 2 {
		return stats
	}

	threshold := cfg.DotThreshold
	if limb {
		threshold = cfg.LimbDotThreshold
	}
	maxHalfAngle := float64(cfg.MaxLimbAngle) * math.Pi / 360

	prev := t.Quat(0)
	for i := 1; i < t.Len(); i++ {
		curr := t.Quat(i)
		changed := false

		if prev.Dot(curr) < threshold {
			curr = curr.Scale(-1)
			stats.Flipped++
			changed = true
		}

		if limb && halfAngle(prev, curr) > maxHalfAngle {
			curr = mgl32.QuatSlerp(prev, curr, cfg.Damping).Normalize()
			stats.Damped++
			changed = true
		}

		if changed {
			t.SetQuat(i, curr)
		}
		prev = curr
	}
	return stats
}

// halfAngle is half the rotation angle between a and b, in radians.
func halfAngle(a, b mgl32.Quat) float64 {
	la, lb := a.Len(), b.Len()
	if la == 0 || lb == 0 {
		return 0
	}
	d := math.Abs(float64(a.Dot(b) / (la * lb)))
	if d > 1 {
		d = 1
	}
	return math.Acos(d)
}
