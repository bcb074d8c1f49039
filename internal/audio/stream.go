package audio

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexmotion/internal/bus"
)

var ErrStreamRunning = errors.New("audio stream already running")

// StreamConfig controls how a signal is fed to the analyser.
type StreamConfig struct {
	ChunkMs  int  `json:"chunk_ms" mapstructure:"chunk_ms"`
	Realtime bool `json:"realtime" mapstructure:"realtime"` // pace chunks to wall time
	Loop     bool `json:"loop" mapstructure:"loop"`
}

func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		ChunkMs:  20,
		Realtime: true,
	}
}

// Stream plays a decoded signal into an Analyser chunk by chunk, running
// voice activity detection and publishing speech boundaries on the bus.
type Stream struct {
	analyser *Analyser
	vad      *VAD
	eventBus *bus.EventBus
	config   StreamConfig
	logger   zerolog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewStream(analyser *Analyser, vad *VAD, eventBus *bus.EventBus, config StreamConfig, logger zerolog.Logger) *Stream {
	if config.ChunkMs <= 0 {
		config.ChunkMs = DefaultStreamConfig().ChunkMs
	}
	if vad == nil {
		vad = NewVAD(nil)
	}
	return &Stream{
		analyser: analyser,
		vad:      vad,
		eventBus: eventBus,
		config:   config,
		logger:   logger.With().Str("component", "audio").Logger(),
	}
}

func (s *Stream) Analyser() *Analyser {
	return s.analyser
}

// Start plays sig in the background until it ends, ctx is cancelled or
// Stop is called.
func (s *Stream) Start(ctx context.Context, sig *Signal) error {
	if sig == nil || len(sig.Samples) == 0 || sig.SampleRate <= 0 {
		return ErrEmptySignal
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrStreamRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		err := s.play(ctx, sig)
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn().Err(err).Msg("Audio stream ended with error")
		}
	}(s.done)

	s.logger.Info().
		Dur("duration", sig.Duration()).
		Int("sample_rate", sig.SampleRate).
		Bool("loop", s.config.Loop).
		Msg("Audio stream started")
	return nil
}

// Play streams sig synchronously.
func (s *Stream) Play(ctx context.Context, sig *Signal) error {
	if err := s.Start(ctx, sig); err != nil {
		return err
	}
	s.Wait()
	return ctx.Err()
}

// Wait blocks until the current stream finishes.
func (s *Stream) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Stop cancels the stream and silences the analyser.
func (s *Stream) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.Wait()
	s.analyser.Reset()
}

func (s *Stream) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Stream) play(ctx context.Context, sig *Signal) error {
	chunk := max(1, sig.SampleRate*s.config.ChunkMs/1000)
	dur := time.Duration(chunk) * time.Second / time.Duration(sig.SampleRate)

	var tick <-chan time.Time
	if s.config.Realtime {
		ticker := time.NewTicker(dur)
		defer ticker.Stop()
		tick = ticker.C
	}

	s.vad.Reset()
	speaking := false
	defer func() {
		if speaking {
			s.publish(bus.EventTypeSpeechEnd, nil)
		}
		s.publish(bus.EventTypeStreamEnded, nil)
	}()

	for {
		for off := 0; off < len(sig.Samples); off += chunk {
			if tick != nil {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-tick:
				}
			} else if err := ctx.Err(); err != nil {
				return err
			}

			samples := sig.Samples[off:min(off+chunk, len(sig.Samples))]
			s.analyser.Write(samples)

			res := s.vad.Process(samples, dur)
			if res.IsSpeech != speaking {
				speaking = res.IsSpeech
				kind := bus.EventTypeSpeechEnd
				if speaking {
					kind = bus.EventTypeSpeechStart
				}
				s.publish(kind, map[string]any{"rms": res.RMS, "confidence": res.Confidence})
				s.logger.Debug().Bool("speaking", speaking).Float64("rms", res.RMS).Msg("Speech boundary")
			}
		}
		if !s.config.Loop {
			return nil
		}
	}
}

func (s *Stream) publish(kind bus.EventType, data map[string]any) {
	if s.eventBus == nil {
		return
	}
	s.eventBus.Publish(bus.Event{Type: kind, Data: data})
}
