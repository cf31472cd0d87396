package notifier

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"l9alerts/internal/eventbus"
	kit "l9alerts/internal/transport"
	logx "l9alerts/pkg/logx"
)

// Priority markers prepended to plain text.
const (
	PriorityInfo     = 5
	PriorityWarning  = 7
	PriorityCritical = 9
)

func priorityMarker(p int) string {
	switch {
	case p >= PriorityCritical:
		return "🚨 "
	case p >= PriorityWarning:
		return "⚠️ "
	case p >= PriorityInfo:
		return "ℹ️ "
	}
	return ""
}

// deliver sends q through its adapter under the shared limiter, retrying
// transient failures. A final failure reopens the dedup key.
func (s *Service) deliver(ctx context.Context, q queued) (kit.MessageRef, error) {
	channel := q.n.Channel
	if channel == "" {
		channel = s.primary
	}
	ad := s.adapters[channel]
	if ad == nil {
		err := fmt.Errorf("%w: %q", ErrNoAdapter, channel)
		s.dedup.release(q.key)
		s.publish(eventbus.NotifierFailed, q.n, q.key, err)
		return kit.MessageRef{}, err
	}

	text := q.n.Text
	if text != "" {
		text = priorityMarker(q.n.Priority) + text
	} else if q.n.Options == nil || q.n.Options.Embed == nil {
		s.dedup.release(q.key)
		return kit.MessageRef{}, errEmpty
	}

	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()

	var err error
	for attempt := 1; ; attempt++ {
		if err = lim.Wait(ctx); err != nil {
			break
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		var ref kit.MessageRef
		ref, err = ad.SendText(callCtx, q.n.Target, text, q.n.Options)
		cancel()
		if err == nil {
			s.publish(eventbus.NotifierSent, q.n, q.key, nil)
			return ref, nil
		}
		s.log.Debug("send attempt failed",
			logx.String("channel", channel),
			logx.Int("attempt", attempt),
			logx.Err(err),
		)
		if attempt > cfg.RetryMax || kit.IsPermanent(err) {
			break
		}
		if !pause(ctx, retryDelay(cfg, attempt)) {
			break
		}
	}

	s.dedup.release(q.key)
	s.publish(eventbus.NotifierFailed, q.n, q.key, err)
	return kit.MessageRef{}, err
}

func pause(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// retryDelay is the wait after the given failed attempt: RetryBase doubled
// per attempt up to RetryMaxDelay, scaled by a random 0.7..1.3.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(min(d, cfg.RetryMaxDelay)) * (0.7 + 0.6*rand.Float64()))
	return min(max(d, 0), cfg.RetryMaxDelay)
}
