package retarget

import (
	"math"
	"math/rand"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexmotion/internal/clip"
	"github.com/normanking/cortexmotion/internal/skeleton"
)

func mustTrack(t *testing.T, name string, keys int) *clip.Track {
	t.Helper()
	_, prop, err := clip.ParseTrackName(name)
	require.NoError(t, err)

	times := make([]float32, keys)
	values := make([]float32, keys*prop.Components())
	for i := range times {
		times[i] = float32(i) / 30
		if prop == clip.Rotation {
			values[i*4+3] = 1
		}
	}
	tr, err := clip.NewTrack(name, times, values)
	require.NoError(t, err)
	return tr
}

func testSkeleton(t *testing.T) *skeleton.Skeleton {
	t.Helper()
	s, err := skeleton.New([]*skeleton.Bone{
		{Name: "Hip", Human: skeleton.Hips, Parent: -1},
		{Name: "Spine", Human: skeleton.Spine, Parent: 0},
		{Name: "J_Bip_L_UpperArm", Human: skeleton.LeftUpperArm, Parent: 1},
		{Name: "J_Sec_L_UpperArmTwist", Human: skeleton.LeftUpperArmTwist, Parent: 2},
		{Name: "Skirt_01", Parent: 0},
	})
	require.NoError(t, err)
	return s
}

func TestMapper_BindScenario(t *testing.T) {
	src := clip.New("scenario", 0, []*clip.Track{
		mustTrack(t, "Hip.position", 3),
		mustTrack(t, "Hip.rotation", 3),
		mustTrack(t, "FingerTip.scale", 3),
		mustTrack(t, "UnknownBone.rotation", 3),
	})

	m := NewMapper(DefaultRepairConfig(), zerolog.Nop())
	b, err := m.Bind(src, testSkeleton(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"Hip.position", "Hip.rotation"}, b.Clip.TrackNames())
	assert.Equal(t, []string{"FingerTip.scale"}, b.Report.Dropped[DropScale])
	assert.Equal(t, []string{"UnknownBone.rotation"}, b.Report.Dropped[DropUnresolved])
	assert.Equal(t, "Hip", b.Bone(0).Name)
	assert.Equal(t, 4, b.Report.Source)
}

func TestMapper_BindPolicy(t *testing.T) {
	src := clip.New("policy", 0, []*clip.Track{
		mustTrack(t, "hips.rotation", 2),
		mustTrack(t, "Spine.position", 2),
		mustTrack(t, "spine.rotation", 2),
		mustTrack(t, "leftUpperArm.rotation", 2),
		mustTrack(t, "J_Sec_L_UpperArmTwist.rotation", 2),
		mustTrack(t, "Skirt_01.rotation", 2),
		mustTrack(t, "Hip.scale", 2),
		mustTrack(t, "HIP.rotation", 2),
	})

	b, err := NewMapper(DefaultRepairConfig(), zerolog.Nop()).Bind(src, testSkeleton(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"Hip.rotation", "Spine.rotation", "J_Bip_L_UpperArm.rotation"}, b.Clip.TrackNames())
	assert.Equal(t, []string{"Spine.position"}, b.Report.Dropped[DropPosition])
	assert.ElementsMatch(t, []string{"J_Sec_L_UpperArmTwist.rotation", "Skirt_01.rotation"}, b.Report.Dropped[DropNotStandard])
	assert.Equal(t, []string{"HIP.rotation"}, b.Report.Dropped[DropDuplicate])

	for i, tr := range b.Clip.Tracks {
		assert.NotEqual(t, clip.Scale, tr.Property)
		if tr.Property == clip.Position {
			assert.True(t, b.Bone(i).IsRoot())
		}
	}
}

func TestMapper_NoSurvivors(t *testing.T) {
	src := clip.New("empty", 0, []*clip.Track{
		mustTrack(t, "Tail.rotation", 2),
		mustTrack(t, "Hip.scale", 2),
	})

	_, err := NewMapper(DefaultRepairConfig(), zerolog.Nop()).Bind(src, testSkeleton(t))
	assert.ErrorIs(t, err, ErrNoTracks)
}

func TestMapper_DropsMalformedTracks(t *testing.T) {
	m := NewMapper(DefaultRepairConfig(), zerolog.Nop())

	t.Run("alongside good tracks", func(t *testing.T) {
		src := &clip.Clip{Name: "mixed", Duration: 1, Tracks: []*clip.Track{
			{Bone: "Spine", Property: clip.Rotation},
			{Bone: "Hip", Property: clip.Rotation, Times: []float32{0, 1}, Values: []float32{0, 0, 0, 1}},
			nil,
			mustTrack(t, "Hip.position", 2),
		}}
		b, err := m.Bind(src, testSkeleton(t))
		require.NoError(t, err)
		assert.Equal(t, []string{"Hip.position"}, b.Clip.TrackNames())
		assert.Len(t, b.Report.Dropped[DropInvalid], 3)
	})

	t.Run("nothing else survives", func(t *testing.T) {
		src := &clip.Clip{Name: "broken", Duration: 1, Tracks: []*clip.Track{
			{Bone: "Spine", Property: clip.Rotation},
			{Bone: "Hip", Property: clip.Rotation, Times: []float32{0, 1}, Values: []float32{0, 0, 0, 1}},
		}}
		_, err := m.Bind(src, testSkeleton(t))
		assert.ErrorIs(t, err, ErrNoTracks)
	})
}

func TestMapper_SourceUntouched(t *testing.T) {
	rot, err := clip.NewTrack("Hip.rotation", []float32{0, 1}, []float32{0, 0, 0, 1, 0, 0, 0, -1})
	require.NoError(t, err)
	src := clip.New("flip", 0, []*clip.Track{rot})

	b, err := NewMapper(DefaultRepairConfig(), zerolog.Nop()).Bind(src, testSkeleton(t))
	require.NoError(t, err)

	assert.Equal(t, float32(-1), src.Tracks[0].Quat(1).W)
	assert.Equal(t, float32(1), b.Clip.Tracks[0].Quat(1).W)
	assert.Equal(t, 1, b.Report.Repair.Flipped)
}

func TestRepairTrack_SignFlipScenario(t *testing.T) {
	tr, err := clip.NewTrack("Hips.rotation", []float32{0, 1}, []float32{
		0, 0, 0, 1,
		0, 0, 0, -1,
	})
	require.NoError(t, err)

	stats := RepairTrack(tr, false, DefaultRepairConfig())

	assert.Equal(t, []float32{0, 0, 0, 1, 0, 0, 0, 1}, tr.Values)
	assert.Equal(t, 1, stats.Flipped)
	assert.Equal(t, 0, stats.Damped)
}

func TestRepairTrack_LimbThreshold(t *testing.T) {
	// 0.05 dot: kept on a body track, flipped and damped on a limb track
	a := mgl32.QuatIdent()
	b := mgl32.QuatRotate(float32(2*math.Acos(0.05)), mgl32.Vec3{1, 0, 0})

	body := rotationTrack(t, "Spine.rotation", a, b)
	stats := RepairTrack(body, false, DefaultRepairConfig())
	assert.Equal(t, 0, stats.Flipped)
	assert.Equal(t, b, body.Quat(1))

	arm := rotationTrack(t, "LeftUpperArm.rotation", a, b)
	stats = RepairTrack(arm, true, DefaultRepairConfig())
	assert.Equal(t, 1, stats.Flipped)
	assert.Equal(t, 1, stats.Damped)
	assert.GreaterOrEqual(t, arm.Quat(0).Dot(arm.Quat(1)), float32(0))
	assert.InDelta(t, 1, float64(arm.Quat(1).Len()), 1e-5)
}

func TestRepairTrack_DampsLargeLimbStep(t *testing.T) {
	a := mgl32.QuatIdent()
	b := mgl32.QuatRotate(mgl32.DegToRad(120), mgl32.Vec3{0, 0, 1})
	tr := rotationTrack(t, "J_Bip_R_Hand.rotation", a, b)

	stats := RepairTrack(tr, true, DefaultRepairConfig())
	require.Equal(t, 1, stats.Damped)

	// 30% of a 120 degree step
	got := 2 * math.Acos(math.Min(1, float64(tr.Quat(1).W)))
	assert.InDelta(t, mgl32.DegToRad(36), got, 1e-3)
}

func TestRepair_OnlyRotationTracks(t *testing.T) {
	c := clip.New("mixed", 0, []*clip.Track{
		mustTrack(t, "Hips.position", 3),
		rotationTrack(t, "Hips.rotation", mgl32.QuatIdent(), mgl32.QuatIdent().Scale(-1)),
	})

	stats := Repair(c, DefaultRepairConfig())
	assert.Equal(t, 1, stats.Tracks)
	assert.Equal(t, 1, stats.Flipped)
}

func TestRepairConfig_IsLimb(t *testing.T) {
	cfg := DefaultRepairConfig()
	assert.True(t, cfg.IsLimb("J_Bip_L_Shoulder"))
	assert.True(t, cfg.IsLimb("leftLowerArm"))
	assert.True(t, cfg.IsLimb("RightHand"))
	assert.False(t, cfg.IsLimb("Spine"))
	assert.False(t, cfg.IsLimb("leftUpperLeg"))
}

func rotationTrack(t *testing.T, name string, qs ...mgl32.Quat) *clip.Track {
	t.Helper()
	times := make([]float32, len(qs))
	values := make([]float32, 0, len(qs)*4)
	for i, q := range qs {
		times[i] = float32(i)
		values = append(values, q.V[0], q.V[1], q.V[2], q.W)
	}
	tr, err := clip.NewTrack(name, times, values)
	require.NoError(t, err)
	return tr
}

func randomRotations(r *rand.Rand, n int) []mgl32.Quat {
	qs := make([]mgl32.Quat, n)
	for i := range qs {
		q := mgl32.Quat{
			W: r.Float32()*2 - 1,
			V: mgl32.Vec3{r.Float32()*2 - 1, r.Float32()*2 - 1, r.Float32()*2 - 1},
		}
		if q.Len() < 1e-3 {
			q = mgl32.QuatIdent()
		}
		qs[i] = q.Normalize()
	}
	return qs
}

func TestRepairTrack_NonNegativeAndIdempotent(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	cfg := DefaultRepairConfig()

	for trial := 0; trial < 50; trial++ {
		for _, limb := range []bool{false, true} {
			tr := rotationTrack(t, "Bone.rotation", randomRotations(r, 40)...)

			RepairTrack(tr, limb, cfg)
			for i := 1; i < tr.Len(); i++ {
				assert.GreaterOrEqual(t, tr.Quat(i-1).Dot(tr.Quat(i)), float32(0), "trial %d key %d", trial, i)
			}

			once := append([]float32(nil), tr.Values...)
			again := RepairTrack(tr, limb, cfg)
			assert.Equal(t, 0, again.Flipped)
			assert.Equal(t, 0, again.Damped)
			assert.Equal(t, once, tr.Values)
		}
	}
}
