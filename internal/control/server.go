// Package control exposes an engine over a WebSocket JSON protocol and
// serves Prometheus metrics next to it.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/normanking/cortexmotion/internal/audio"
	"github.com/normanking/cortexmotion/internal/avatar3d"
	"github.com/normanking/cortexmotion/internal/bus"
	"github.com/normanking/cortexmotion/internal/playback"
)

var ErrUnknownCommand = errors.New("unknown command")

// Engine is the part of engine.Engine the server drives.
type Engine interface {
	PlayNamed(name string, opts playback.PlayOptions) (string, error)
	Stop(fadeOut float32)
	Pause()
	Resume()
	SetMood(mood string) error
	TriggerOneShotExpression(name string) error
	StartLipSync(src avatar3d.AudioSource) error
	StopLipSync()
	AnimationInfo() (playback.Info, bool)
	CurrentMood() string
	Moods() []string
	Weights() avatar3d.WeightVector
	ExpressionList() []string
	ClipNames() []string
}

type Config struct {
	Addr        string       `mapstructure:"addr"`
	Path        string       `mapstructure:"path"`
	MetricsPath string       `mapstructure:"metrics_path"`
	AudioFormat audio.Format `mapstructure:"audio_format"` // binary frames
}

func DefaultConfig() Config {
	return Config{
		Addr:        "127.0.0.1:8765",
		Path:        "/ws",
		MetricsPath: "/metrics",
		AudioFormat: audio.DefaultFormat(),
	}
}

// Command is one client request. Fields beyond Type depend on the command.
type Command struct {
	ID         string  `json:"id,omitempty"`
	Type       string  `json:"type"`
	Clip       string  `json:"clip,omitempty"`
	Loop       bool    `json:"loop,omitempty"`
	Immediate  bool    `json:"immediate,omitempty"`
	Fade       float32 `json:"fade,omitempty"`
	TimeScale  float32 `json:"time_scale,omitempty"`
	Mood       string  `json:"mood,omitempty"`
	Expression string  `json:"expression,omitempty"`
}

// Message is what the server sends: replies to commands and bus events.
type Message struct {
	Type  string `json:"type"` // "reply" or "event"
	ID    string `json:"id,omitempty"`
	OK    bool   `json:"ok,omitempty"`
	Error string `json:"error,omitempty"`
	Data  any    `json:"data,omitempty"`
	Event string `json:"event,omitempty"`
}

// Status is the payload of the "status" command.
type Status struct {
	Animation   *playback.Info        `json:"animation,omitempty"`
	Mood        string                `json:"mood"`
	Moods       []string              `json:"moods"`
	Weights     avatar3d.WeightVector `json:"weights"`
	Expressions []string              `json:"expressions"`
	Clips       []string              `json:"clips"`
}

type client struct {
	id   string
	conn *websocket.Conn
	wmu  sync.Mutex
}

func (c *client) send(m Message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(m)
}

// Server accepts WebSocket clients. Text frames carry Commands; binary
// frames carry PCM audio that is fed to the lip-sync analyser.
type Server struct {
	cfg      Config
	engine   Engine
	eventBus *bus.EventBus
	analyser *audio.Analyser
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
	server  *http.Server
}

func NewServer(cfg Config, eng Engine, eventBus *bus.EventBus, analyser *audio.Analyser, logger zerolog.Logger) *Server {
	def := DefaultConfig()
	if cfg.Path == "" {
		cfg.Path = def.Path
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = def.MetricsPath
	}
	if cfg.AudioFormat.Validate() != nil {
		cfg.AudioFormat = def.AudioFormat
	}
	return &Server{
		cfg:      cfg,
		engine:   eng,
		eventBus: eventBus,
		analyser: analyser,
		logger:   logger.With().Str("component", "control").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
}

// Handler serves the WebSocket endpoint and metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.wsHandler)
	mux.Handle(s.cfg.MetricsPath, promhttp.Handler())
	return mux
}

// Start listens on cfg.Addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		s.closeClients()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("control server: %w", err)
		}
	case <-time.After(50 * time.Millisecond):
	}
	s.logger.Info().Str("addr", s.cfg.Addr).Str("path", s.cfg.Path).Msg("Control server listening")
	return nil
}

func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.clients {
		c.conn.Close()
		delete(s.clients, id)
	}
}

func (s *Server) wsHandler(rw http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &client{id: uuid.NewString(), conn: conn}
	unsubscribe := func() {}
	if s.eventBus != nil {
		unsubscribe = s.eventBus.Subscribe(bus.Any, func(e bus.Event) {
			_ = c.send(Message{Type: "event", Event: string(e.Type), Data: e.Data})
		})
	}

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	s.logger.Info().Str("client", c.id).Str("remote", r.RemoteAddr).Msg("Client connected")

	defer func() {
		unsubscribe()
		s.mu.Lock()
		delete(s.clients, c.id)
		s.mu.Unlock()
		conn.Close()
		s.logger.Info().Str("client", c.id).Msg("Client disconnected")
	}()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().Err(err).Str("client", c.id).Msg("WebSocket read ended")
			}
			return
		}

		switch kind {
		case websocket.BinaryMessage:
			s.feedAudio(c, data)
		case websocket.TextMessage:
			var cmd Command
			if err := json.Unmarshal(data, &cmd); err != nil {
				_ = c.send(Message{Type: "reply", Error: "malformed command: " + err.Error()})
				continue
			}
			reply := s.Execute(cmd)
			if err := c.send(reply); err != nil {
				return
			}
		}
	}
}

func (s *Server) feedAudio(c *client, data []byte) {
	if s.analyser == nil {
		return
	}
	if err := s.analyser.WritePCM(data, s.cfg.AudioFormat); err != nil {
		s.logger.Debug().Err(err).Str("client", c.id).Msg("Dropped audio frame")
	}
}

// Execute runs one command against the engine.
func (s *Server) Execute(cmd Command) Message {
	data, err := s.execute(cmd)
	reply := Message{Type: "reply", ID: cmd.ID, OK: err == nil, Data: data}
	if err != nil {
		reply.Error = err.Error()
		s.logger.Debug().Err(err).Str("command", cmd.Type).Msg("Command failed")
	}
	return reply
}

func (s *Server) execute(cmd Command) (any, error) {
	switch cmd.Type {
	case "play":
		loop := playback.LoopOnce
		if cmd.Loop {
			loop = playback.LoopRepeat
		}
		id, err := s.engine.PlayNamed(cmd.Clip, playback.PlayOptions{
			Loop:         loop,
			TimeScale:    cmd.TimeScale,
			Immediate:    cmd.Immediate,
			FadeDuration: cmd.Fade,
		})
		if err != nil {
			return nil, err
		}
		return map[string]string{"action_id": id}, nil

	case "stop":
		s.engine.Stop(cmd.Fade)
	case "pause":
		s.engine.Pause()
	case "resume":
		s.engine.Resume()

	case "set_mood":
		return nil, s.engine.SetMood(cmd.Mood)
	case "expression":
		return nil, s.engine.TriggerOneShotExpression(cmd.Expression)

	case "lipsync_start":
		if s.analyser == nil {
			return nil, avatar3d.ErrNoAudioSource
		}
		return nil, s.engine.StartLipSync(s.analyser)
	case "lipsync_stop":
		s.engine.StopLipSync()
		if s.analyser != nil {
			s.analyser.Reset()
		}

	case "status":
		st := Status{
			Mood:        s.engine.CurrentMood(),
			Moods:       s.engine.Moods(),
			Weights:     s.engine.Weights(),
			Expressions: s.engine.ExpressionList(),
			Clips:       s.engine.ClipNames(),
		}
		if info, ok := s.engine.AnimationInfo(); ok {
			st.Animation = &info
		}
		return st, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
	}
	return nil, nil
}
