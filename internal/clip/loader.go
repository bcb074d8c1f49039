package clip

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/qmuntal/gltf"
	"github.com/rs/zerolog"
)

// RetryPolicy bounds how often a failed open is retried. Attempts counts the
// first try, so Attempts 2 means one retry.
type RetryPolicy struct {
	Attempts int           `mapstructure:"attempts"`
	Delay    time.Duration `mapstructure:"delay"`
}

// DefaultRetryPolicy allows one retry after a short pause.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 2, Delay: 500 * time.Millisecond}
}

// Result is what LoadAsync delivers.
type Result struct {
	Path string
	Clip *Clip
	Err  error
}

// Loader reads clips from glTF/VRMA files.
type Loader struct {
	policy RetryPolicy
	logger zerolog.Logger
	open   func(string) (*gltf.Document, error)
}

func NewLoader(policy RetryPolicy, logger zerolog.Logger) *Loader {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	return &Loader{
		policy: policy,
		logger: logger.With().Str("component", "clip-loader").Logger(),
		open:   gltf.Open,
	}
}

// Load opens path and returns its first animation. Open failures are retried
// per the policy; a file without animations fails immediately.
func (l *Loader) Load(ctx context.Context, path string) (*Clip, error) {
	var lastErr error
	for attempt := 1; attempt <= l.policy.Attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(l.policy.Delay):
			}
		}

		c, err := l.loadOnce(path)
		if err == nil {
			l.logger.Debug().
				Str("path", path).
				Str("clip", c.Name).
				Int("tracks", len(c.Tracks)).
				Float32("duration", c.Duration).
				Msg("Clip loaded")
			return c, nil
		}
		lastErr = err
		if permanent(err) {
			break
		}
		l.logger.Warn().Err(err).Str("path", path).Int("attempt", attempt).Msg("Clip load failed")
	}
	return nil, fmt.Errorf("load clip %s: %w", path, lastErr)
}

// LoadAsync runs Load in a goroutine. The channel receives exactly one
// Result and is then closed.
func (l *Loader) LoadAsync(ctx context.Context, path string) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		c, err := l.Load(ctx, path)
		out <- Result{Path: path, Clip: c, Err: err}
	}()
	return out
}

func (l *Loader) loadOnce(path string) (*Clip, error) {
	doc, err := l.open(path)
	if err != nil {
		return nil, err
	}
	clips, err := FromDocument(doc)
	if err != nil {
		return nil, err
	}
	c := clips[0]
	if doc.Animations[0].Name == "" {
		c.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return c, nil
}

// permanent errors come from the file contents, so retrying cannot help.
func permanent(err error) bool {
	return errors.Is(err, ErrNoAnimations) ||
		errors.Is(err, ErrUnevenTrack) ||
		errors.Is(err, ErrEmptyTrack)
}

// IsClipFile reports whether the extension is one the loader reads.
func IsClipFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".vrma", ".glb", ".gltf":
		return true
	}
	return false
}
