package main

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/normanking/cortexmotion/internal/audio"
	"github.com/normanking/cortexmotion/internal/bus"
	"github.com/normanking/cortexmotion/internal/clip"
	"github.com/normanking/cortexmotion/internal/config"
	"github.com/normanking/cortexmotion/internal/control"
	"github.com/normanking/cortexmotion/internal/engine"
	"github.com/normanking/cortexmotion/internal/logging"
	"github.com/normanking/cortexmotion/internal/playback"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [avatar]",
		Short: "Drive an avatar in real time",
		Long:  "Load an avatar and its clips, play the idle clip, lip-sync to an optional audio file and accept commands over WebSocket.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runAvatar,
	}
	cmd.Flags().String("clips", "", "clip directory")
	cmd.Flags().String("audio", "", "WAV or raw PCM file to lip-sync")
	cmd.Flags().String("addr", "", "control server address")
	cmd.Flags().Bool("no-control", false, "disable the control server")
	return cmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

func runAvatar(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if len(args) == 1 {
		cfg.Avatar.Path = args[0]
	}
	if v, _ := cmd.Flags().GetString("clips"); v != "" {
		cfg.Clips.Dir = v
	}
	if v, _ := cmd.Flags().GetString("audio"); v != "" {
		cfg.Audio.File = v
	}
	if v, _ := cmd.Flags().GetString("addr"); v != "" {
		cfg.Control.Addr = v
	}
	if v, _ := cmd.Flags().GetBool("no-control"); v {
		cfg.Control.Enabled = false
	}

	lg, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer lg.Close()
	log := lg.Component("main")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	av, err := loadAvatar(cfg.Avatar.Path)
	if err != nil {
		return err
	}

	eventBus := bus.NewEventBus()
	eng := engine.New(cfg.Engine, eventBus, lg.Zerolog())
	if err := eng.BindAvatar(av.Skeleton, av.Table); err != nil {
		return err
	}
	defer eng.Release()

	idle := engine.NewIdle(cfg.Engine.Idle, rand.New(rand.NewSource(time.Now().UnixNano())))
	eng.AddPoseHook(idle.Hook)

	loadClips(ctx, eng, cfg.Clips, log)

	if cfg.Clips.Watch && cfg.Clips.Dir != "" {
		w, err := clip.NewWatcher(cfg.Clips.Dir, eng.Loader(), func(_ string, c *clip.Clip) {
			eng.AddClip(c)
		}, lg.Zerolog())
		if err != nil {
			log.Warn().Err(err).Str("dir", cfg.Clips.Dir).Msg("Clip hot reload disabled")
		} else {
			defer w.Close()
		}
	}

	analyser := audio.NewAnalyser(cfg.Audio.Analyser)
	if cfg.Audio.File != "" {
		stream, err := startAudio(ctx, eng, analyser, eventBus, cfg.Audio, lg.Zerolog())
		if err != nil {
			log.Warn().Err(err).Str("file", cfg.Audio.File).Msg("Lip-sync audio unavailable")
		} else {
			defer stream.Stop()
		}
	}

	if cfg.Control.Enabled {
		srv := control.NewServer(cfg.Control.Config, eng, eventBus, analyser, lg.Zerolog())
		if err := srv.Start(ctx); err != nil {
			return err
		}
	}

	fps := cfg.Avatar.FrameRate
	if fps <= 0 {
		fps = 60
	}
	log.Info().
		Str("avatar", cfg.Avatar.Path).
		Int("channels", len(av.Channels)).
		Int("fps", fps).
		Msg("Avatar running")

	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Shutdown signal received")
			return nil
		case now := <-ticker.C:
			eng.Update(float32(now.Sub(last).Seconds()))
			last = now
		}
	}
}

// loadClips loads every clip in the directory concurrently and starts the
// idle clip, if present, immediately and looping.
func loadClips(ctx context.Context, eng *engine.Engine, cfg config.ClipsConfig, log zerolog.Logger) {
	if cfg.Dir == "" {
		return
	}
	entries, err := os.ReadDir(cfg.Dir)
	if err != nil {
		log.Warn().Err(err).Str("dir", cfg.Dir).Msg("Clip directory unreadable")
		return
	}

	var pending []<-chan clip.Result
	for _, e := range entries {
		path := filepath.Join(cfg.Dir, e.Name())
		if e.IsDir() || !clip.IsClipFile(path) {
			continue
		}
		pending = append(pending, eng.LoadClipAsync(ctx, path))
	}
	var idle *clip.Clip
	for _, ch := range pending {
		res := <-ch
		if res.Err != nil {
			log.Warn().Err(res.Err).Str("path", res.Path).Msg("Clip skipped")
			continue
		}
		stem := strings.TrimSuffix(filepath.Base(res.Path), filepath.Ext(res.Path))
		if cfg.Idle != "" && (stem == cfg.Idle || res.Clip.Name == cfg.Idle) {
			idle = res.Clip
		}
	}

	if cfg.Idle == "" {
		return
	}
	opts := playback.PlayOptions{Loop: playback.LoopRepeat, Immediate: true}
	if idle != nil {
		_, err = eng.Play(idle, opts)
	} else {
		_, err = eng.PlayNamed(cfg.Idle, opts)
	}
	switch {
	case errors.Is(err, engine.ErrUnknownClip):
		log.Info().Str("clip", cfg.Idle).Msg("No idle clip found")
	case err != nil:
		log.Warn().Err(err).Str("clip", cfg.Idle).Msg("Idle clip could not play")
	}
}

// startAudio streams the configured file into the analyser and points
// lip-sync at it. Lip-sync stops when a non-looping stream ends.
func startAudio(ctx context.Context, eng *engine.Engine, analyser *audio.Analyser, eventBus *bus.EventBus, cfg config.AudioConfig, logger zerolog.Logger) (*audio.Stream, error) {
	sig, err := audio.Load(cfg.File, cfg.Format)
	if err != nil {
		return nil, err
	}
	vad := cfg.VAD
	stream := audio.NewStream(analyser, audio.NewVAD(&vad), eventBus, cfg.Stream, logger)

	if err := eng.StartLipSync(analyser); err != nil {
		return nil, err
	}
	eventBus.Subscribe(bus.EventTypeStreamEnded, func(bus.Event) {
		eng.StopLipSync()
	})
	if err := stream.Start(ctx, sig); err != nil {
		eng.StopLipSync()
		return nil, err
	}
	return stream, nil
}
