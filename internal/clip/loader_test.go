package clip

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/qmuntal/gltf"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeClipFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, gltf.SaveBinary(animationDoc(t, true), path))
	return path
}

func TestLoader_Load(t *testing.T) {
	path := writeClipFile(t, t.TempDir(), "nod.vrma")

	l := NewLoader(DefaultRetryPolicy(), zerolog.Nop())
	c, err := l.Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "nod", c.Name)
	assert.Len(t, c.Tracks, 2)
}

func TestLoader_RetriesOpenFailures(t *testing.T) {
	var calls atomic.Int32
	l := NewLoader(RetryPolicy{Attempts: 2, Delay: time.Millisecond}, zerolog.Nop())
	l.open = func(string) (*gltf.Document, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("file busy")
		}
		return animationDoc(t, false), nil
	}

	c, err := l.Load(context.Background(), "idle.vrma")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "nod", c.Name)
}

func TestLoader_GivesUpAfterAttempts(t *testing.T) {
	var calls atomic.Int32
	l := NewLoader(RetryPolicy{Attempts: 2, Delay: time.Millisecond}, zerolog.Nop())
	l.open = func(string) (*gltf.Document, error) {
		calls.Add(1)
		return nil, os.ErrNotExist
	}

	_, err := l.Load(context.Background(), "missing.vrma")
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, int32(2), calls.Load())
}

func TestLoader_NoRetryWithoutAnimations(t *testing.T) {
	var calls atomic.Int32
	l := NewLoader(RetryPolicy{Attempts: 3, Delay: time.Millisecond}, zerolog.Nop())
	l.open = func(string) (*gltf.Document, error) {
		calls.Add(1)
		return &gltf.Document{}, nil
	}

	_, err := l.Load(context.Background(), "model.glb")
	assert.ErrorIs(t, err, ErrNoAnimations)
	assert.Equal(t, int32(1), calls.Load())
}

func TestLoader_ContextCancelsRetry(t *testing.T) {
	l := NewLoader(RetryPolicy{Attempts: 5, Delay: time.Hour}, zerolog.Nop())
	l.open = func(string) (*gltf.Document, error) {
		return nil, errors.New("still busy")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Load(ctx, "idle.vrma")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoader_UnnamedClipTakesFileName(t *testing.T) {
	l := NewLoader(DefaultRetryPolicy(), zerolog.Nop())
	l.open = func(string) (*gltf.Document, error) {
		doc := animationDoc(t, false)
		doc.Animations[0].Name = ""
		return doc, nil
	}

	c, err := l.Load(context.Background(), "/clips/Wave_Hand.vrma")
	require.NoError(t, err)
	assert.Equal(t, "Wave_Hand", c.Name)
}

func TestLoader_LoadAsync(t *testing.T) {
	path := writeClipFile(t, t.TempDir(), "nod.glb")
	l := NewLoader(DefaultRetryPolicy(), zerolog.Nop())

	select {
	case res := <-l.LoadAsync(context.Background(), path):
		require.NoError(t, res.Err)
		assert.Equal(t, path, res.Path)
		assert.Equal(t, "nod", res.Clip.Name)
	case <-time.After(5 * time.Second):
		t.Fatal("LoadAsync did not deliver a result")
	}
}

func TestIsClipFile(t *testing.T) {
	assert.True(t, IsClipFile("a/idle.vrma"))
	assert.True(t, IsClipFile("a/idle.GLB"))
	assert.True(t, IsClipFile("idle.gltf"))
	assert.False(t, IsClipFile("idle.fbx"))
	assert.False(t, IsClipFile("notes.txt"))
}

func TestWatcher_ReloadsChangedClip(t *testing.T) {
	dir := t.TempDir()
	l := NewLoader(RetryPolicy{Attempts: 1}, zerolog.Nop())

	got := make(chan *Clip, 4)
	w, err := NewWatcher(dir, l, func(path string, c *Clip) {
		select {
		case got <- c:
		default:
		}
	}, zerolog.Nop())
	require.NoError(t, err)
	defer w.Close()

	writeClipFile(t, dir, "nod.vrma")

	select {
	case c := <-got:
		assert.Equal(t, "nod", c.Name)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload the clip")
	}
}

func TestWatcher_CloseTwice(t *testing.T) {
	w, err := NewWatcher(t.TempDir(), NewLoader(RetryPolicy{}, zerolog.Nop()), func(string, *Clip) {}, zerolog.Nop())
	require.NoError(t, err)
	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}
