package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	pkgtls "github.com/polisai/polis-trust/pkg/tls"
)

const defaultDebounce = 100 * time.Millisecond

// Snapshot is one successfully loaded configuration and the TLS
// configuration built from it.
type Snapshot struct {
	Generation string
	Config     *Config
	TLS        *pkgtls.Configuration
	LoadedAt   time.Time
}

// Watcher reloads a configuration file when it changes. A reload that fails
// to parse, validate or build keeps the previous snapshot.
type Watcher struct {
	path     string
	factory  *Factory
	logger   *pkgtls.TLSLogger
	debounce time.Duration

	current  atomic.Pointer[Snapshot]
	reloadMu sync.Mutex

	mu          sync.Mutex
	subscribers []chan *Snapshot

	fsw       *fsnotify.Watcher
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// WatcherOption customises a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long the watcher waits for writes to settle.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatcherFactory sets the factory used to build TLS configurations.
func WithWatcherFactory(f *Factory) WatcherOption {
	return func(w *Watcher) {
		if f != nil {
			w.factory = f
		}
	}
}

// WithWatcherLogger sets the logger for reload events.
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = pkgtls.NewTLSLogger(logger) }
}

// NewWatcher loads path and starts watching its directory. The initial load
// must succeed.
func NewWatcher(ctx context.Context, path string, opts ...WatcherOption) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	w := &Watcher{
		path:     absPath,
		factory:  NewFactory(),
		logger:   pkgtls.NewTLSLogger(nil),
		debounce: defaultDebounce,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	if _, err := w.Reload(ctx); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	// Watch the directory so that editors replacing the file are seen.
	if err := fsw.Add(filepath.Dir(absPath)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}
	w.fsw = fsw

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.cancel = cancel
	go w.watchLoop(loopCtx)

	return w, nil
}

// Current returns the latest snapshot.
func (w *Watcher) Current() *Snapshot {
	return w.current.Load()
}

// Configuration returns the TLS configuration of the latest snapshot.
func (w *Watcher) Configuration() *pkgtls.Configuration {
	if s := w.current.Load(); s != nil {
		return s.TLS
	}
	return nil
}

// Subscribe returns a channel that receives every new snapshot, starting with
// the current one. Slow subscribers only see the most recent snapshot.
func (w *Watcher) Subscribe() <-chan *Snapshot {
	ch := make(chan *Snapshot, 1)
	w.mu.Lock()
	defer w.mu.Unlock()
	if s := w.current.Load(); s != nil {
		ch <- s
	}
	w.subscribers = append(w.subscribers, ch)
	return ch
}

// Reload reads the file and swaps in a new snapshot.
func (w *Watcher) Reload(ctx context.Context) (*Snapshot, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	snapshot, err := w.load(ctx)
	if collector, cerr := pkgtls.GetTrustMetricsCollector(); cerr == nil {
		collector.RecordConfigReload(ctx, err == nil)
	}
	if err != nil {
		w.logger.LogConfigurationChange(ctx, "reload", w.path, false, err)
		return nil, err
	}

	w.current.Store(snapshot)
	w.logger.LogConfigurationChange(ctx, "reload",
		fmt.Sprintf("%s generation %s", w.path, snapshot.Generation), true, nil)
	w.publish(snapshot)
	return snapshot, nil
}

func (w *Watcher) load(ctx context.Context) (*Snapshot, error) {
	cfg, err := Load(w.path)
	if err != nil {
		return nil, err
	}
	tlsCfg, err := w.factory.Build(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build TLS configuration: %w", err)
	}
	return &Snapshot{
		Generation: uuid.NewString(),
		Config:     cfg,
		TLS:        tlsCfg,
		LoadedAt:   time.Now(),
	}, nil
}

func (w *Watcher) publish(snapshot *Snapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, ch := range w.subscribers {
		select {
		case ch <- snapshot:
		default:
			// Replace the unread snapshot with the newer one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot:
			default:
			}
		}
	}
}

// Close stops watching and waits for the watch loop to exit.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		w.cancel()
		w.closeErr = w.fsw.Close()
		<-w.done
	})
	return w.closeErr
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer close(w.done)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Chmod) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			_, _ = w.Reload(ctx)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.LogConfigurationChange(ctx, "watch", w.path, false, err)
		}
	}
}
