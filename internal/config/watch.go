package config

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "l9alerts/pkg/logx"
)

const (
	settleDelay     = 250 * time.Millisecond
	rewatchMin      = 250 * time.Millisecond
	rewatchMax      = 5 * time.Second
	validateTimeout = 5 * time.Second
)

const relevantOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod

// errWatchRan means the watcher was established before it ended, so the
// restart backoff starts over.
var errWatchRan = errors.New("config: watcher ended")

// Watch reloads the file after it settles and publishes changes until ctx
// is done. Editors that replace the file are handled by watching its
// directory. A failed watcher is recreated with jittered backoff.
func (m *ConfigManager) Watch(ctx context.Context) error {
	d := newDebouncer(settleDelay, func() { m.reload(ctx) })
	defer d.stop()

	dir, file := filepath.Dir(m.path), filepath.Base(m.path)
	wait := rewatchMin
	for ctx.Err() == nil {
		err := m.watchDir(ctx, dir, file, d.poke)
		if ctx.Err() != nil {
			break
		}
		if errors.Is(err, errWatchRan) {
			wait = rewatchMin
		}
		pause := wait + rand.N(wait/2+1)
		m.log.Warn("config watcher restarting", logx.String("dir", dir), logx.Duration("in", pause), logx.Err(err))
		wait = min(2*wait, rewatchMax)

		t := time.NewTimer(pause)
		select {
		case <-ctx.Done():
		case <-t.C:
		}
		t.Stop()
	}
	return nil
}

func (m *ConfigManager) watchDir(ctx context.Context, dir, file string, poke func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	m.log.Debug("watching config", logx.String("dir", dir), logx.String("file", file))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errWatchRan
			}
			if ev.Op&relevantOps != 0 && strings.EqualFold(filepath.Base(ev.Name), file) {
				poke()
			}
		case err, ok := <-w.Errors:
			switch {
			case !ok, errors.Is(err, fsnotify.ErrClosed):
				return errWatchRan
			case errors.Is(err, fsnotify.ErrEventOverflow):
				m.log.Warn("config watch overflowed, reloading", logx.String("dir", dir))
				poke()
			case err != nil:
				m.log.Warn("config watch error", logx.String("dir", dir), logx.Err(err))
			}
		}
	}
}

// reload commits and publishes the file if it parses, differs from the
// current config and passes validation. Failures keep the old config.
func (m *ConfigManager) reload(ctx context.Context) {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config reload: parse failed", logx.String("path", m.path), logx.Err(err))
		return
	}
	sum, changed := m.changed(cfg)
	if !changed {
		m.log.Debug("config reload: no change", logx.String("path", m.path))
		return
	}
	if v := m.validator; v != nil {
		vctx, cancel := context.WithTimeout(ctx, validateTimeout)
		err = v(vctx, cfg)
		cancel()
		if err != nil {
			m.log.Warn("config reload: rejected", logx.String("path", m.path), logx.Err(err))
			return
		}
	}
	m.Commit(cfg)
	m.publish(cfg)
	m.log.Info("config reloaded", logx.String("path", m.path), logx.String("sum", fmt.Sprintf("%016x", sum)))
}

// debouncer runs fn once events stop arriving for delay.
type debouncer struct {
	mu    sync.Mutex
	delay time.Duration
	fn    func()
	t     *time.Timer
}

func newDebouncer(delay time.Duration, fn func()) *debouncer {
	return &debouncer{delay: delay, fn: fn}
}

func (d *debouncer) poke() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t == nil {
		d.t = time.AfterFunc(d.delay, d.fn)
		return
	}
	d.t.Reset(d.delay)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t != nil {
		d.t.Stop()
	}
}
