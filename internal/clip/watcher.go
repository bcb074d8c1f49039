package clip

import (
	"context"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads clip files from a directory when they change on disk.
type Watcher struct {
	watcher *fsnotify.Watcher
	loader  *Loader
	onClip  func(path string, c *Clip)
	logger  zerolog.Logger

	mu   sync.Mutex
	done chan struct{}
	wg   sync.WaitGroup
}

// NewWatcher starts watching dir. onClip runs on the watcher goroutine for
// every successful reload.
func NewWatcher(dir string, loader *Loader, onClip func(path string, c *Clip), logger zerolog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		watcher: fw,
		loader:  loader,
		onClip:  onClip,
		logger:  logger.With().Str("component", "clip-watcher").Str("dir", dir).Logger(),
		done:    make(chan struct{}),
	}

	w.wg.Add(1)
	go w.watchLoop()

	w.logger.Info().Msg("Watching clip directory")
	return w, nil
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !IsClipFile(event.Name) {
				continue
			}
			w.reload(event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("Clip watcher error")
		}
	}
}

func (w *Watcher) reload(path string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-w.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	c, err := w.loader.Load(ctx, path)
	if err != nil {
		w.logger.Warn().Err(err).Str("path", path).Msg("Clip reload failed")
		return
	}
	w.logger.Info().Str("path", path).Str("clip", c.Name).Msg("Clip reloaded")
	w.onClip(path, c)
}

// Close stops the watcher and waits for an in-flight reload to finish.
func (w *Watcher) Close() error {
	w.mu.Lock()
	select {
	case <-w.done:
		w.mu.Unlock()
		return nil
	default:
		close(w.done)
	}
	w.mu.Unlock()

	err := w.watcher.Close()
	w.wg.Wait()
	return err
}
