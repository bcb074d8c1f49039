package control

import (
	"encoding/binary"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexmotion/internal/audio"
	"github.com/normanking/cortexmotion/internal/avatar3d"
	"github.com/normanking/cortexmotion/internal/bus"
	"github.com/normanking/cortexmotion/internal/playback"
)

var errNoClip = errors.New("no such clip")

type fakeEngine struct {
	mu      sync.Mutex
	played  []playback.PlayOptions
	mood    string
	stopped float32
	source  avatar3d.AudioSource
}

func (f *fakeEngine) PlayNamed(name string, opts playback.PlayOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name != "idle" {
		return "", errNoClip
	}
	f.played = append(f.played, opts)
	return "action-1", nil
}

func (f *fakeEngine) Stop(fadeOut float32) { f.stopped = fadeOut }
func (f *fakeEngine) Pause()               {}
func (f *fakeEngine) Resume()              {}

func (f *fakeEngine) SetMood(mood string) error {
	if mood != "happy" && mood != "neutral" {
		return avatar3d.ErrUnknownMood
	}
	f.mood = mood
	return nil
}

func (f *fakeEngine) TriggerOneShotExpression(string) error { return nil }

func (f *fakeEngine) StartLipSync(src avatar3d.AudioSource) error {
	f.source = src
	return nil
}

func (f *fakeEngine) StopLipSync() { f.source = nil }

func (f *fakeEngine) AnimationInfo() (playback.Info, bool) {
	return playback.Info{Clip: "idle", State: "playing", Loop: true}, true
}

func (f *fakeEngine) CurrentMood() string            { return f.mood }
func (f *fakeEngine) Moods() []string                { return []string{"happy", "neutral"} }
func (f *fakeEngine) Weights() avatar3d.WeightVector { return avatar3d.WeightVector{"happy": 1} }
func (f *fakeEngine) ExpressionList() []string       { return []string{"happy"} }
func (f *fakeEngine) ClipNames() []string            { return []string{"idle"} }

func newTestServer(t *testing.T) (*Server, *fakeEngine, *bus.EventBus, *audio.Analyser, string) {
	t.Helper()
	eng := &fakeEngine{mood: "neutral"}
	eb := bus.NewEventBus()
	a := audio.NewAnalyser(audio.AnalyserConfig{FFTSize: 64})
	s := NewServer(DefaultConfig(), eng, eb, a, zerolog.Nop())

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, eng, eb, a, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, cmd Command) Message {
	t.Helper()
	require.NoError(t, conn.WriteJSON(cmd))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var m Message
		require.NoError(t, conn.ReadJSON(&m))
		if m.Type == "reply" {
			return m
		}
	}
}

func TestServer_Commands(t *testing.T) {
	_, eng, _, _, url := newTestServer(t)
	conn := dial(t, url)

	m := roundTrip(t, conn, Command{ID: "1", Type: "play", Clip: "idle", Loop: true, Fade: 0.2})
	assert.True(t, m.OK)
	assert.Equal(t, "1", m.ID)
	assert.Equal(t, map[string]any{"action_id": "action-1"}, m.Data)
	require.Len(t, eng.played, 1)
	assert.Equal(t, playback.LoopRepeat, eng.played[0].Loop)
	assert.Equal(t, float32(0.2), eng.played[0].FadeDuration)

	m = roundTrip(t, conn, Command{Type: "play", Clip: "dance"})
	assert.False(t, m.OK)
	assert.Equal(t, errNoClip.Error(), m.Error)

	m = roundTrip(t, conn, Command{Type: "set_mood", Mood: "happy"})
	assert.True(t, m.OK)
	m = roundTrip(t, conn, Command{Type: "set_mood", Mood: "angry"})
	assert.False(t, m.OK)

	m = roundTrip(t, conn, Command{Type: "stop", Fade: 0.5})
	assert.True(t, m.OK)

	m = roundTrip(t, conn, Command{Type: "dance"})
	assert.False(t, m.OK)
	assert.Contains(t, m.Error, ErrUnknownCommand.Error())

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	var bad Message
	require.NoError(t, conn.ReadJSON(&bad))
	assert.Contains(t, bad.Error, "malformed")
}

func TestServer_Status(t *testing.T) {
	s, _, _, _, _ := newTestServer(t)
	reply := s.Execute(Command{Type: "status"})
	require.True(t, reply.OK)
	st, ok := reply.Data.(Status)
	require.True(t, ok)
	assert.Equal(t, "neutral", st.Mood)
	require.NotNil(t, st.Animation)
	assert.Equal(t, "idle", st.Animation.Clip)
	assert.Equal(t, []string{"idle"}, st.Clips)
}

func TestServer_AudioFramesDriveAnalyser(t *testing.T) {
	_, eng, _, a, url := newTestServer(t)
	conn := dial(t, url)

	m := roundTrip(t, conn, Command{Type: "lipsync_start"})
	require.True(t, m.OK)
	assert.Same(t, a, eng.source)

	pcm := make([]byte, 128)
	for i := 0; i < 64; i++ {
		v := int16(8000)
		if i%2 == 1 {
			v = -8000
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, pcm))
	assert.Eventually(t, func() bool { return a.RMS(64) > 0.2 }, time.Second, 5*time.Millisecond)

	m = roundTrip(t, conn, Command{Type: "lipsync_stop"})
	require.True(t, m.OK)
	assert.Nil(t, eng.source)
	assert.Zero(t, a.RMS(64))
}

func TestServer_ForwardsBusEvents(t *testing.T) {
	s, _, eb, _, url := newTestServer(t)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	eb.Publish(bus.Event{Type: bus.EventTypeMoodChanged, Data: map[string]any{"mood": "happy"}})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m Message
	require.NoError(t, conn.ReadJSON(&m))
	assert.Equal(t, "event", m.Type)
	assert.Equal(t, string(bus.EventTypeMoodChanged), m.Event)
	assert.Equal(t, map[string]any{"mood": "happy"}, m.Data)

	conn.Close()
	assert.Eventually(t, func() bool { return s.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestServer_Metrics(t *testing.T) {
	s, _, _, _, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "go_goroutines")
}
