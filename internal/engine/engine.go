// Package engine drives one avatar per frame: it owns the playback
// controller for the body and the expression mixer for the face, and runs
// them in a fixed order on every Update.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexmotion/internal/avatar3d"
	"github.com/normanking/cortexmotion/internal/bus"
	"github.com/normanking/cortexmotion/internal/clip"
	"github.com/normanking/cortexmotion/internal/metrics"
	"github.com/normanking/cortexmotion/internal/playback"
	"github.com/normanking/cortexmotion/internal/retarget"
	"github.com/normanking/cortexmotion/internal/skeleton"
)

var (
	ErrNoAvatar    = errors.New("no avatar bound")
	ErrUnknownClip = errors.New("unknown clip")
)

// Options configures an Engine.
type Options struct {
	Playback   playback.Config           `mapstructure:"playback"`
	Repair     retarget.RepairConfig     `mapstructure:"repair"`
	Expression avatar3d.ExpressionConfig `mapstructure:"expression"`
	LipSync    avatar3d.LipSyncConfig    `mapstructure:"lipsync"`
	Retry      clip.RetryPolicy          `mapstructure:"retry"`
	Idle       IdleConfig                `mapstructure:"idle"`

	// Seed feeds the blink and mood timers. Zero picks one from the clock.
	Seed int64 `mapstructure:"seed"`
}

func DefaultOptions() Options {
	return Options{
		Playback:   playback.DefaultConfig(),
		Repair:     retarget.DefaultRepairConfig(),
		Expression: avatar3d.DefaultExpressionConfig(),
		LipSync:    avatar3d.DefaultLipSyncConfig(),
		Retry:      clip.DefaultRetryPolicy(),
		Idle:       DefaultIdleConfig(),
	}
}

// Frame is handed to every pose hook once per Update, after the face has
// been mixed and before playback writes the body pose.
type Frame struct {
	Delta    float32
	Elapsed  float64
	Skeleton *skeleton.Skeleton
	Playing  bool // an action is contributing to the pose
	Mood     string
	Speaking bool // lip-sync is active and above its noise floor
}

type PoseHook func(f *Frame)

// Engine is safe for concurrent use. Update is expected from a single
// render loop; every other method may be called from any goroutine.
type Engine struct {
	opts     Options
	logger   zerolog.Logger
	eventBus *bus.EventBus

	mapper *retarget.Mapper
	loader *clip.Loader
	rng    *rand.Rand

	mu         sync.Mutex
	skel       *skeleton.Skeleton
	controller *playback.Controller
	mixer      *avatar3d.Mixer
	clips      map[string]*clip.Clip
	hooks      []PoseHook
	elapsed    float64
}

func New(opts Options, eventBus *bus.EventBus, logger zerolog.Logger) *Engine {
	if opts.Playback.MaxDelta <= 0 {
		opts.Playback.MaxDelta = playback.DefaultConfig().MaxDelta
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if eventBus == nil {
		eventBus = bus.NewEventBus()
	}
	return &Engine{
		opts:     opts,
		logger:   logger.With().Str("component", "engine").Logger(),
		eventBus: eventBus,
		mapper:   retarget.NewMapper(opts.Repair, logger),
		loader:   clip.NewLoader(opts.Retry, logger),
		rng:      rand.New(rand.NewSource(seed)),
		clips:    make(map[string]*clip.Clip),
	}
}

func (e *Engine) Bus() *bus.EventBus {
	return e.eventBus
}

// BindAvatar replaces the driven avatar. The previous skeleton's actions,
// bindings, weights and lip-sync are released first. A nil table means the
// avatar has no expression channels.
func (e *Engine) BindAvatar(skel *skeleton.Skeleton, table avatar3d.ChannelTable) error {
	if skel == nil {
		return playback.ErrNoSkeleton
	}
	if table == nil {
		table = avatar3d.NewChannelTable()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.releaseLocked()

	skel.ResetPose()
	e.skel = skel
	e.controller = playback.NewController(skel, e.mapper, e.opts.Playback, e.logger)
	e.controller.OnEvent = e.playbackEvent

	e.mixer = avatar3d.NewMixer(table, e.opts.Expression, e.opts.LipSync, e.rng, e.logger)
	e.mixer.OnMoodChange = e.moodEvent
	e.mixer.Reset()
	e.elapsed = 0

	e.logger.Info().
		Int("bones", len(skel.Bones())).
		Int("channels", len(table.Names())).
		Msg("Avatar bound")
	e.publish(bus.EventTypeAvatarBound, map[string]any{
		"bones":    len(skel.Bones()),
		"channels": len(table.Names()),
	})
	return nil
}

// Release drops the current avatar. Loaded clips are kept.
func (e *Engine) Release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.releaseLocked()
}

func (e *Engine) releaseLocked() {
	if e.skel == nil {
		return
	}
	e.mixer.StopLipSync()
	e.mixer.Reset()
	e.controller.Release()
	e.skel.ResetPose()

	e.skel = nil
	e.controller = nil
	e.mixer = nil
	e.logger.Info().Msg("Avatar released")
	e.publish(bus.EventTypeAvatarReleased, nil)
}

func (e *Engine) Bound() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.skel != nil
}

// AddPoseHook registers a hook run on every Update.
func (e *Engine) AddPoseHook(h PoseHook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hooks = append(e.hooks, h)
}

// Update advances the avatar by dt seconds. Expression timers, the mixer
// and lip-sync run first, then pose hooks, then playback.
func (e *Engine) Update(dt float32) {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.skel == nil {
		return
	}

	if d, ok := playback.ClampDelta(dt, e.opts.Playback.MaxDelta); ok {
		e.elapsed += float64(d)
		e.mixer.Update(d)
		e.mixer.FeedLipSync()

		if len(e.hooks) > 0 {
			lips := e.mixer.LipSync()
			f := &Frame{
				Delta:    d,
				Elapsed:  e.elapsed,
				Skeleton: e.skel,
				Playing:  e.controller.Current() != nil,
				Mood:     e.mixer.CurrentMood(),
				Speaking: lips.Active() && !lips.Silent(),
			}
			for _, h := range e.hooks {
				h(f)
			}
		}
	}
	e.controller.Advance(dt)

	metrics.FramesTotal.Inc()
	metrics.TickDuration.Observe(time.Since(start).Seconds())
}

// Play starts c on the bound avatar and returns the new action ID.
func (e *Engine) Play(c *clip.Clip, opts playback.PlayOptions) (string, error) {
	if c == nil {
		return "", fmt.Errorf("play: %w", ErrUnknownClip)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playLocked(c, opts)
}

// PlayNamed plays a clip previously registered with LoadClip or AddClip.
func (e *Engine) PlayNamed(name string, opts playback.PlayOptions) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.clips[name]
	if !ok {
		return "", fmt.Errorf("play %q: %w", name, ErrUnknownClip)
	}
	return e.playLocked(c, opts)
}

func (e *Engine) playLocked(c *clip.Clip, opts playback.PlayOptions) (string, error) {
	if e.skel == nil {
		return "", ErrNoAvatar
	}
	a, err := e.controller.Play(c, opts)
	if err != nil {
		e.publish(bus.EventTypeClipLoadFailed, map[string]any{"clip": c.Name, "error": err.Error()})
		return "", err
	}
	return a.ID(), nil
}

// BindClip retargets c onto the bound avatar without playing it.
func (e *Engine) BindClip(c *clip.Clip) (*retarget.BoundClip, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.skel == nil {
		return nil, ErrNoAvatar
	}
	b, err := e.controller.Bind(c)
	if err != nil {
		e.publish(bus.EventTypeClipLoadFailed, map[string]any{"clip": c.Name, "error": err.Error()})
		return nil, err
	}
	e.publish(bus.EventTypeClipBound, map[string]any{
		"clip":   c.Name,
		"tracks": len(b.Clip.Tracks),
	})
	return b, nil
}

func (e *Engine) Stop(fadeOut float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.controller != nil {
		e.controller.Stop(fadeOut)
	}
}

func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.controller != nil && !e.controller.Paused() {
		e.controller.Pause()
		e.publish(bus.EventTypePlaybackPaused, nil)
	}
}

func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.controller != nil && e.controller.Paused() {
		e.controller.Resume()
		e.publish(bus.EventTypePlaybackResumed, nil)
	}
}

// AnimationInfo snapshots the current action. ok is false when nothing is
// playing.
func (e *Engine) AnimationInfo() (playback.Info, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.controller == nil {
		return playback.Info{State: playback.StateIdle.String()}, false
	}
	return e.controller.Info()
}

func (e *Engine) SetMood(mood string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mixer == nil {
		return ErrNoAvatar
	}
	return e.mixer.SetMood(mood)
}

func (e *Engine) CurrentMood() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mixer == nil {
		return ""
	}
	return e.mixer.CurrentMood()
}

// Moods lists the mood labels SetMood accepts.
func (e *Engine) Moods() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mixer == nil {
		return nil
	}
	return e.mixer.Moods().Moods()
}

func (e *Engine) TriggerOneShotExpression(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mixer == nil {
		return ErrNoAvatar
	}
	if err := e.mixer.TriggerOneShot(name); err != nil {
		return err
	}
	e.publish(bus.EventTypeOneShot, map[string]any{"expression": name})
	return nil
}

// ExpressionList lists the avatar's selectable base expressions.
func (e *Engine) ExpressionList() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mixer == nil {
		return nil
	}
	return e.mixer.ExpressionList()
}

func (e *Engine) StartLipSync(src avatar3d.AudioSource) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mixer == nil {
		return ErrNoAvatar
	}
	if err := e.mixer.StartLipSync(src); err != nil {
		return err
	}
	e.publish(bus.EventTypeLipSyncStarted, nil)
	return nil
}

func (e *Engine) StopLipSync() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mixer == nil || !e.mixer.LipSync().Active() {
		return
	}
	e.mixer.StopLipSync()
	e.publish(bus.EventTypeLipSyncStopped, nil)
}

// Weights snapshots the expression channel weights.
func (e *Engine) Weights() avatar3d.WeightVector {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mixer == nil {
		return avatar3d.WeightVector{}
	}
	return e.mixer.Weights()
}

// LoadClip reads a clip file with the engine's retry policy and registers
// it under its name.
func (e *Engine) LoadClip(ctx context.Context, path string) (*clip.Clip, error) {
	c, err := e.loader.Load(ctx, path)
	if err != nil {
		e.publish(bus.EventTypeClipLoadFailed, map[string]any{"path": path, "error": err.Error()})
		return nil, fmt.Errorf("%w: %w", playback.ErrLoadFailure, err)
	}
	e.AddClip(c)
	return c, nil
}

// LoadClipAsync runs LoadClip on its own goroutine.
func (e *Engine) LoadClipAsync(ctx context.Context, path string) <-chan clip.Result {
	out := make(chan clip.Result, 1)
	go func() {
		c, err := e.LoadClip(ctx, path)
		out <- clip.Result{Path: path, Clip: c, Err: err}
		close(out)
	}()
	return out
}

func (e *Engine) Loader() *clip.Loader {
	return e.loader
}

// AddClip registers c under its name, replacing any clip with that name. If
// the replaced clip is playing, the new one crossfades in with the same
// loop mode and time scale.
func (e *Engine) AddClip(c *clip.Clip) {
	e.mu.Lock()
	defer e.mu.Unlock()

	old, replaced := e.clips[c.Name]
	e.clips[c.Name] = c
	e.logger.Info().Str("clip", c.Name).Int("tracks", len(c.Tracks)).Bool("replaced", replaced).Msg("Clip registered")
	e.publish(bus.EventTypeClipLoaded, map[string]any{"clip": c.Name, "tracks": len(c.Tracks)})

	if !replaced || e.controller == nil {
		return
	}
	cur := e.controller.Current()
	if cur == nil || cur.Bound().Clip.Name != old.Name {
		return
	}
	if _, err := e.controller.Play(c, playback.PlayOptions{Loop: cur.Loop(), TimeScale: cur.TimeScale()}); err != nil {
		e.logger.Warn().Err(err).Str("clip", c.Name).Msg("Reloaded clip could not replace the playing one")
	}
}

func (e *Engine) Clip(name string) (*clip.Clip, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.clips[name]
	return c, ok
}

func (e *Engine) ClipNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.clips))
	for n := range e.clips {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) playbackEvent(ev playback.Event) {
	kind := map[playback.EventKind]bus.EventType{
		playback.EventStarted:  bus.EventTypePlaybackStarted,
		playback.EventFinished: bus.EventTypePlaybackFinished,
		playback.EventStopped:  bus.EventTypePlaybackStopped,
	}[ev.Kind]
	if kind == "" {
		return
	}
	e.publish(kind, map[string]any{"clip": ev.Clip, "action_id": ev.ActionID})
}

func (e *Engine) moodEvent(mood string) {
	e.publish(bus.EventTypeMoodChanged, map[string]any{"mood": mood})
}

func (e *Engine) publish(kind bus.EventType, data map[string]any) {
	e.eventBus.Publish(bus.Event{Type: kind, Data: data})
}
