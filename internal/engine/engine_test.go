package engine

import (
	"context"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexmotion/internal/audio"
	"github.com/normanking/cortexmotion/internal/avatar3d"
	"github.com/normanking/cortexmotion/internal/bus"
	"github.com/normanking/cortexmotion/internal/clip"
	"github.com/normanking/cortexmotion/internal/playback"
	"github.com/normanking/cortexmotion/internal/skeleton"
)

const frame = float32(1.0 / 60)

var channels = []string{"neutral", "happy", "sad", "relaxed", "surprised", "blink", "blinkLeft", "blinkRight", "aa", "ih", "ou", "ee", "oh"}

func newSkeleton(t *testing.T) *skeleton.Skeleton {
	t.Helper()
	skel, err := skeleton.New([]*skeleton.Bone{
		{Name: "Hips", Human: skeleton.Hips, Parent: -1},
		{Name: "Spine", Human: skeleton.Spine, Parent: 0},
		{Name: "Chest", Human: skeleton.Chest, Parent: 1},
		{Name: "Neck", Human: skeleton.Neck, Parent: 2},
		{Name: "Head", Human: skeleton.Head, Parent: 3},
	})
	require.NoError(t, err)
	return skel
}

func spineClip(t *testing.T, name string, q mgl32.Quat, duration float32) *clip.Clip {
	t.Helper()
	rot, err := clip.NewTrack("spine.rotation", []float32{0, duration}, []float32{
		q.V[0], q.V[1], q.V[2], q.W,
		q.V[0], q.V[1], q.V[2], q.W,
	})
	require.NoError(t, err)
	return clip.New(name, duration, []*clip.Track{rot})
}

type recorder struct {
	mu     sync.Mutex
	events []bus.Event
}

func (r *recorder) handle(e bus.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) has(kind bus.EventType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Type == kind {
			return true
		}
	}
	return false
}

func newTestEngine(t *testing.T) (*Engine, *skeleton.Skeleton, *recorder) {
	t.Helper()
	eb := bus.NewEventBus()
	rec := &recorder{}
	eb.Subscribe(bus.Any, rec.handle)

	opts := DefaultOptions()
	opts.Seed = 1
	opts.Idle.Enabled = false
	e := New(opts, eb, zerolog.Nop())

	skel := newSkeleton(t)
	require.NoError(t, e.BindAvatar(skel, avatar3d.NewChannelTable(channels...)))
	return e, skel, rec
}

func eventually(t *testing.T, rec *recorder, kind bus.EventType) {
	t.Helper()
	assert.Eventually(t, func() bool { return rec.has(kind) }, time.Second, 5*time.Millisecond, "event %s", kind)
}

func quatClose(t *testing.T, want, got mgl32.Quat) {
	t.Helper()
	assert.InDelta(t, 1, math.Abs(float64(want.Dot(got))), 1e-4, "want %v got %v", want, got)
}

func TestEngine_NoAvatar(t *testing.T) {
	e := New(DefaultOptions(), nil, zerolog.Nop())
	assert.False(t, e.Bound())

	e.Update(frame)
	e.Stop(0.2)
	e.Pause()
	e.Resume()
	e.StopLipSync()

	_, err := e.Play(spineClip(t, "idle", mgl32.QuatIdent(), 1), playback.PlayOptions{})
	assert.ErrorIs(t, err, ErrNoAvatar)
	assert.ErrorIs(t, e.SetMood("happy"), ErrNoAvatar)
	assert.ErrorIs(t, e.TriggerOneShotExpression("blink"), ErrNoAvatar)
	assert.ErrorIs(t, e.StartLipSync(nil), ErrNoAvatar)
	assert.ErrorIs(t, e.BindAvatar(nil, nil), playback.ErrNoSkeleton)

	info, ok := e.AnimationInfo()
	assert.False(t, ok)
	assert.Equal(t, "idle", info.State)
	assert.Empty(t, e.Weights())
	assert.Empty(t, e.CurrentMood())
}

func TestEngine_PlayImmediate(t *testing.T) {
	e, skel, rec := newTestEngine(t)
	eventually(t, rec, bus.EventTypeAvatarBound)

	q := mgl32.QuatRotate(mgl32.DegToRad(40), mgl32.Vec3{0, 1, 0})
	id, err := e.Play(spineClip(t, "wave", q, 1), playback.PlayOptions{Loop: playback.LoopOnce, Immediate: true})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	spine, _ := skel.Humanoid(skeleton.Spine)
	quatClose(t, q, spine.Local.Rotation)

	info, ok := e.AnimationInfo()
	require.True(t, ok)
	assert.Equal(t, "wave", info.Clip)
	assert.Equal(t, id, info.ActionID)
	eventually(t, rec, bus.EventTypePlaybackStarted)

	for i := 0; i < 70; i++ {
		e.Update(frame)
	}
	_, ok = e.AnimationInfo()
	assert.False(t, ok)
	eventually(t, rec, bus.EventTypePlaybackFinished)
	quatClose(t, mgl32.QuatIdent(), spine.Local.Rotation)
}

func TestEngine_PoseHooksRunBeforePlayback(t *testing.T) {
	e, skel, _ := newTestEngine(t)
	q := mgl32.QuatRotate(mgl32.DegToRad(25), mgl32.Vec3{1, 0, 0})
	_, err := e.Play(spineClip(t, "loop", q, 1), playback.PlayOptions{Loop: playback.LoopRepeat, Immediate: true})
	require.NoError(t, err)

	var frames []Frame
	e.AddPoseHook(func(f *Frame) {
		frames = append(frames, *f)
		spine, _ := f.Skeleton.Humanoid(skeleton.Spine)
		spine.Local.Rotation = mgl32.QuatRotate(1, mgl32.Vec3{0, 0, 1})
	})
	require.NoError(t, e.SetMood("happy"))

	e.Update(frame)
	e.Update(frame)

	spine, _ := skel.Humanoid(skeleton.Spine)
	quatClose(t, q, spine.Local.Rotation)

	require.Len(t, frames, 2)
	assert.True(t, frames[0].Playing)
	assert.Equal(t, "happy", frames[0].Mood)
	assert.InDelta(t, float64(2*frame), frames[1].Elapsed, 1e-6)
}

func TestEngine_BadDeltaSkipsExpressions(t *testing.T) {
	e, _, _ := newTestEngine(t)
	var calls int
	e.AddPoseHook(func(*Frame) { calls++ })
	require.NoError(t, e.SetMood("happy"))

	e.Update(0)
	e.Update(float32(math.NaN()))
	e.Update(-1)
	assert.Zero(t, calls)
	assert.Zero(t, e.Weights()["happy"])

	e.Update(5)
	assert.Equal(t, 1, calls)
	assert.Greater(t, e.Weights()["happy"], float32(0))
}

func TestEngine_SetMood(t *testing.T) {
	e, _, rec := newTestEngine(t)
	assert.Equal(t, "neutral", e.CurrentMood())
	assert.Contains(t, e.Moods(), "surprised")

	require.NoError(t, e.SetMood("happy"))
	for i := 0; i < 30; i++ {
		e.Update(frame)
	}
	w := e.Weights()
	assert.Equal(t, float32(1), w["happy"])
	assert.Zero(t, w["sad"])
	eventually(t, rec, bus.EventTypeMoodChanged)

	assert.ErrorIs(t, e.SetMood("furious"), avatar3d.ErrUnknownMood)
	assert.Equal(t, "happy", e.CurrentMood())
}

func TestEngine_OneShot(t *testing.T) {
	e, _, rec := newTestEngine(t)
	require.NoError(t, e.TriggerOneShotExpression("blinkLeft"))
	e.Update(frame)
	assert.Equal(t, float32(1), e.Weights()["blinkLeft"])
	eventually(t, rec, bus.EventTypeOneShot)

	assert.ErrorIs(t, e.TriggerOneShotExpression("nope"), avatar3d.ErrUnknownExpression)
	assert.Contains(t, e.ExpressionList(), "happy")
}

func TestEngine_LipSyncFromAnalyser(t *testing.T) {
	e, _, rec := newTestEngine(t)
	assert.ErrorIs(t, e.StartLipSync(nil), avatar3d.ErrNoAudioSource)

	a := audio.NewAnalyser(audio.AnalyserConfig{FFTSize: 256})
	samples := make([]float64, 256)
	for i := range samples {
		samples[i] = 0.5 * math.Sin(2*math.Pi*5*float64(i)/256)
	}

	require.NoError(t, e.StartLipSync(a))
	eventually(t, rec, bus.EventTypeLipSyncStarted)
	for i := 0; i < 20; i++ {
		a.Write(samples)
		e.Update(frame)
	}
	assert.Greater(t, e.Weights()["aa"], float32(0))

	e.StopLipSync()
	eventually(t, rec, bus.EventTypeLipSyncStopped)
	for _, ch := range []string{"aa", "ih", "ou", "ee", "oh"} {
		assert.Zero(t, e.Weights()[ch], ch)
	}
}

func TestEngine_RebindReleasesEverything(t *testing.T) {
	e, oldSkel, rec := newTestEngine(t)
	q := mgl32.QuatRotate(mgl32.DegToRad(30), mgl32.Vec3{0, 1, 0})
	_, err := e.Play(spineClip(t, "loop", q, 1), playback.PlayOptions{Loop: playback.LoopRepeat, Immediate: true})
	require.NoError(t, err)
	require.NoError(t, e.SetMood("sad"))
	for i := 0; i < 30; i++ {
		e.Update(frame)
	}

	table := avatar3d.NewChannelTable(channels...)
	require.NoError(t, e.BindAvatar(newSkeleton(t), table))
	eventually(t, rec, bus.EventTypeAvatarReleased)

	_, ok := e.AnimationInfo()
	assert.False(t, ok)
	assert.Equal(t, "neutral", e.CurrentMood())
	for _, n := range table.Names() {
		assert.Zero(t, table.Get(n), n)
	}
	spine, _ := oldSkel.Humanoid(skeleton.Spine)
	quatClose(t, mgl32.QuatIdent(), spine.Local.Rotation)

	e.Release()
	assert.False(t, e.Bound())
}

func TestEngine_Clips(t *testing.T) {
	e, _, rec := newTestEngine(t)

	_, err := e.LoadClip(context.Background(), filepath.Join(t.TempDir(), "missing.vrma"))
	assert.ErrorIs(t, err, playback.ErrLoadFailure)
	eventually(t, rec, bus.EventTypeClipLoadFailed)

	_, err = e.PlayNamed("idle", playback.PlayOptions{})
	assert.ErrorIs(t, err, ErrUnknownClip)

	first := spineClip(t, "idle", mgl32.QuatIdent(), 2)
	e.AddClip(first)
	assert.Equal(t, []string{"idle"}, e.ClipNames())
	_, err = e.PlayNamed("idle", playback.PlayOptions{Loop: playback.LoopRepeat, Immediate: true})
	require.NoError(t, err)

	bound, err := e.BindClip(first)
	require.NoError(t, err)
	assert.Len(t, bound.Clip.Tracks, 1)
	eventually(t, rec, bus.EventTypeClipBound)

	q := mgl32.QuatRotate(mgl32.DegToRad(50), mgl32.Vec3{0, 0, 1})
	second := spineClip(t, "idle", q, 2)
	e.AddClip(second)

	got, ok := e.Clip("idle")
	require.True(t, ok)
	assert.Same(t, second, got)

	info, ok := e.AnimationInfo()
	require.True(t, ok)
	assert.Equal(t, "crossfading", info.State)
	assert.True(t, info.Loop)
}

func TestEngine_LoadClipAsync(t *testing.T) {
	opts := DefaultOptions()
	opts.Retry = clip.RetryPolicy{Attempts: 1}
	e := New(opts, nil, zerolog.Nop())

	res := <-e.LoadClipAsync(context.Background(), filepath.Join(t.TempDir(), "missing.glb"))
	assert.ErrorIs(t, res.Err, playback.ErrLoadFailure)
	assert.Nil(t, res.Clip)
}

func TestEngine_PauseResume(t *testing.T) {
	e, _, rec := newTestEngine(t)
	_, err := e.Play(spineClip(t, "loop", mgl32.QuatIdent(), 1), playback.PlayOptions{Loop: playback.LoopRepeat, Immediate: true})
	require.NoError(t, err)

	e.Pause()
	e.Update(frame)
	info, _ := e.AnimationInfo()
	assert.True(t, info.Paused)
	assert.Zero(t, info.Time)
	eventually(t, rec, bus.EventTypePlaybackPaused)

	e.Resume()
	e.Update(frame)
	info, _ = e.AnimationInfo()
	assert.InDelta(t, float64(frame), float64(info.Time), 1e-6)
	eventually(t, rec, bus.EventTypePlaybackResumed)

	e.Stop(0)
	_, ok := e.AnimationInfo()
	assert.False(t, ok)
	eventually(t, rec, bus.EventTypePlaybackStopped)
}
