package engine

import (
	"math"
	"math/rand"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/normanking/cortexmotion/internal/skeleton"
)

// IdleConfig tunes the procedural idle motion. Amplitudes are radians.
type IdleConfig struct {
	Enabled            bool    `mapstructure:"enabled"`
	Intensity          float32 `mapstructure:"intensity"`
	BreathingRate      float32 `mapstructure:"breathing_rate"` // breaths per second
	BreathingAmplitude float32 `mapstructure:"breathing_amplitude"`
	HeadSwayRate       float32 `mapstructure:"head_sway_rate"`
	HeadSwayAmplitude  float32 `mapstructure:"head_sway_amplitude"`
	MicroRate          float32 `mapstructure:"micro_rate"`
	MicroAmplitude     float32 `mapstructure:"micro_amplitude"`
	SpeakingBoost      float32 `mapstructure:"speaking_boost"`
}

func DefaultIdleConfig() IdleConfig {
	return IdleConfig{
		Enabled:            true,
		Intensity:          1,
		BreathingRate:      0.2,
		BreathingAmplitude: 0.03,
		HeadSwayRate:       0.1,
		HeadSwayAmplitude:  0.015,
		MicroRate:          0.5,
		MicroAmplitude:     0.02,
		SpeakingBoost:      1.5,
	}
}

// Idle breathes and sways the upper body while no clip drives the
// skeleton. Rotations are written relative to the rest pose, so nothing
// accumulates between frames.
type Idle struct {
	cfg          IdleConfig
	noiseOffsets [4]float32
}

func NewIdle(cfg IdleConfig, rng *rand.Rand) *Idle {
	ia := &Idle{cfg: cfg}
	for i := range ia.noiseOffsets {
		ia.noiseOffsets[i] = rng.Float32() * 100
	}
	return ia
}

// Hook is the PoseHook to register with Engine.AddPoseHook.
func (ia *Idle) Hook(f *Frame) {
	if !ia.cfg.Enabled || ia.cfg.Intensity <= 0 || f.Playing || f.Skeleton == nil {
		return
	}
	t := float32(f.Elapsed)
	intensity := ia.cfg.Intensity

	breathPhase := t * ia.cfg.BreathingRate * 2 * math.Pi
	breath := (float32(math.Sin(float64(breathPhase)))*0.5 + 0.5) * ia.cfg.BreathingAmplitude * intensity

	if chest := ia.bone(f.Skeleton, skeleton.UpperChest, skeleton.Chest); chest != nil {
		tilt(chest, mgl32.QuatRotate(-breath, mgl32.Vec3{1, 0, 0}))
	}
	if spine, ok := f.Skeleton.Humanoid(skeleton.Spine); ok {
		tilt(spine, mgl32.QuatRotate(-breath*0.5, mgl32.Vec3{1, 0, 0}))
	}

	sway := ia.cfg.HeadSwayAmplitude * intensity
	if f.Speaking {
		sway *= ia.cfg.SpeakingBoost
	}
	yaw := perlinNoise(t*ia.cfg.HeadSwayRate, ia.noiseOffsets[0]) * sway
	pitch := perlinNoise(t*ia.cfg.HeadSwayRate*0.8, ia.noiseOffsets[1]) * sway
	roll := perlinNoise(t*ia.cfg.MicroRate, ia.noiseOffsets[2]) * ia.cfg.MicroAmplitude * intensity

	if head, ok := f.Skeleton.Humanoid(skeleton.Head); ok {
		tilt(head, mgl32.QuatRotate(yaw, mgl32.Vec3{0, 1, 0}).Mul(mgl32.QuatRotate(pitch, mgl32.Vec3{1, 0, 0})))
	}
	if neck, ok := f.Skeleton.Humanoid(skeleton.Neck); ok {
		nod := perlinNoise(t*ia.cfg.MicroRate*0.7, ia.noiseOffsets[3]) * ia.cfg.MicroAmplitude * intensity * 0.5
		tilt(neck, mgl32.QuatRotate(roll, mgl32.Vec3{0, 0, 1}).Mul(mgl32.QuatRotate(nod, mgl32.Vec3{1, 0, 0})))
	}
}

func (ia *Idle) bone(s *skeleton.Skeleton, roles ...skeleton.HumanBone) *skeleton.Bone {
	for _, r := range roles {
		if b, ok := s.Humanoid(r); ok {
			return b
		}
	}
	return nil
}

func tilt(b *skeleton.Bone, offset mgl32.Quat) {
	b.Local.Rotation = b.Rest.Rotation.Mul(offset).Normalize()
}

// perlinNoise is a cheap smooth noise in [-1,1] built from three sines.
func perlinNoise(t, offset float32) float32 {
	t += offset

	n1 := float32(math.Sin(float64(t * 1.0)))
	n2 := float32(math.Sin(float64(t*2.3+1.7))) * 0.5
	n3 := float32(math.Sin(float64(t*4.1+3.2))) * 0.25

	return (n1 + n2 + n3) / 1.75
}
