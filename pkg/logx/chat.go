package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	chatBuffer      = 128
	chatSendTimeout = 10 * time.Second
	chatDefaultRate = 20
	// Discord rejects content over 2000 characters; leave room for markup.
	chatMaxLen  = 1800
	chatMaxAttr = 400
)

// chatForwarder is a zerolog.LevelWriter that hands formatted records to a
// Sink on its own goroutine. Writes never block the logger.
type chatForwarder struct {
	mu      sync.Mutex
	sink    Sink
	min     zerolog.Level
	limiter *rate.Limiter

	lines   chan string
	start   sync.Once
	stop    context.CancelFunc
	stopped chan struct{}
}

func newChatForwarder(sink Sink) *chatForwarder {
	return &chatForwarder{sink: sink, lines: make(chan string, chatBuffer), min: zerolog.WarnLevel}
}

func (c *chatForwarder) setSink(sink Sink) {
	c.mu.Lock()
	c.sink = sink
	c.mu.Unlock()
}

func (c *chatForwarder) configure(cfg ChatConfig) {
	perMin := cfg.RatePerMin
	if perMin <= 0 {
		perMin = chatDefaultRate
	}
	c.mu.Lock()
	c.min = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), perMin)
	c.mu.Unlock()

	if cfg.Enabled {
		c.start.Do(func() {
			ctx, cancel := context.WithCancel(context.Background())
			c.mu.Lock()
			c.stop, c.stopped = cancel, make(chan struct{})
			c.mu.Unlock()
			go c.loop(ctx)
		})
	}
}

func (c *chatForwarder) loop(ctx context.Context) {
	defer close(c.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case line := <-c.lines:
			c.mu.Lock()
			sink := c.sink
			c.mu.Unlock()
			if sink == nil {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, chatSendTimeout)
			_ = sink.SendLog(sctx, line)
			cancel()
		}
	}
}

func (c *chatForwarder) close() {
	c.mu.Lock()
	stop, stopped := c.stop, c.stopped
	c.stop = nil
	c.mu.Unlock()
	if stop != nil {
		stop()
		<-stopped
	}
}

func (c *chatForwarder) Write(p []byte) (int, error) {
	return c.WriteLevel(zerolog.InfoLevel, p)
}

func (c *chatForwarder) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	pass := c.sink != nil && level >= c.min && c.limiter != nil && c.limiter.Allow()
	c.mu.Unlock()
	if !pass {
		return len(p), nil
	}
	if line := formatChatLine(p); line != "" {
		select {
		case c.lines <- line:
		default:
		}
	}
	return len(p), nil
}

// formatChatLine renders a JSON record as "[LEVEL] message" followed by one
// "- key=value" line per remaining field, sorted by key.
func formatChatLine(p []byte) string {
	var rec map[string]any
	if err := json.Unmarshal(p, &rec); err != nil {
		return clip(strings.TrimSpace(string(p)), chatMaxLen)
	}

	var b strings.Builder
	if lvl, _ := rec["level"].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := rec["message"].(string)
	b.WriteString(msg)

	delete(rec, "level")
	delete(rec, "message")
	delete(rec, "time")
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(rec[k]), chatMaxAttr))
	}
	return clip(b.String(), chatMaxLen)
}

func clip(s string, n int) string {
	switch {
	case len(s) <= n:
		return s
	case n < 10:
		return s[:n]
	}
	return s[:n-3] + "..."
}
