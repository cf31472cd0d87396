package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"time"

	"l9alerts/internal/eventbus"
	logx "l9alerts/pkg/logx"
)

func (s *Service) work(ctx context.Context, p *pool) error {
	for {
		// Stop wins over a non-empty queue.
		select {
		case <-p.quit:
			return context.Canceled
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		select {
		case <-p.quit:
			return context.Canceled
		case <-ctx.Done():
			return ctx.Err()
		case pd := <-p.queue:
			s.busy.Add(1)
			s.execute(ctx, p.quit, pd)
			s.busy.Add(-1)
		}
	}
}

func (s *Service) execute(ctx context.Context, quit <-chan struct{}, pd pending) {
	started := time.Now()
	rec := Record{ID: pd.task.ID, Name: pd.task.Name, Started: started, Waited: max(started.Sub(pd.queued), 0)}

	s.mu.Lock()
	maxWait := s.cfg.MaxQueueDelay
	s.mu.Unlock()
	if maxWait > 0 && rec.Waited > maxWait {
		pd.release()
		rec.Error = "stale"
		s.remember(rec)
		s.dropped(&s.dropStale, &s.staleWarn, rec, logx.Duration("waited", rec.Waited))
		return
	}

	log := s.log.With(logx.String("task", rec.Name), logx.String("id", rec.ID))
	log.Debug("task started", logx.Duration("waited", rec.Waited))
	s.publish(eventbus.TaskStarted, rec)

	err := s.attempts(ctx, quit, pd, log, &rec.Attempts)
	pd.release()
	rec.Took = time.Since(started)
	if err != nil {
		rec.Error = err.Error()
		log.Warn("task failed", logx.Err(err), logx.Int("attempts", rec.Attempts), logx.Duration("took", rec.Took))
		s.publish(eventbus.TaskFailed, rec)
	} else {
		log.Debug("task done", logx.Int("attempts", rec.Attempts), logx.Duration("took", rec.Took))
		s.publish(eventbus.TaskFinished, rec)
	}
	s.remember(rec)
}

// attempts runs pd until it succeeds, fails permanently or runs out of
// retries. The final error is returned unwrapped from Final.
func (s *Service) attempts(ctx context.Context, quit <-chan struct{}, pd pending, log logx.Logger, n *int) error {
	limit := 1 + pd.opt.RetryMax
	for {
		*n++
		err := s.once(ctx, pd, log)
		if err == nil {
			return nil
		}
		if isFinal(err) {
			var f *finalError
			if errors.As(err, &f) {
				return f.err
			}
			return err
		}
		if *n >= limit {
			return err
		}

		wait := retryDelay(pd.opt, *n, err)
		log.Debug("task retry scheduled", logx.Int("attempt", *n+1), logx.Duration("wait", wait), logx.Err(err))
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-quit:
			t.Stop()
			return ErrStopped
		case <-t.C:
		}
	}
}

// once runs a single attempt under the task timeout. Panics become errors
// so the worker survives.
func (s *Service) once(ctx context.Context, pd pending, log logx.Logger) (err error) {
	if pd.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, pd.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return pd.task.Run(ctx)
}

// retryDelay doubles RetryBase per failed attempt, or honours a server
// hint, then applies jitter. The result never exceeds RetryMaxDelay.
func retryDelay(opt TaskOptions, failed int, err error) time.Duration {
	d, hinted := retryHint(err)
	if !hinted {
		d = opt.RetryBase
		for i := 1; i < failed && d < opt.RetryMaxDelay; i++ {
			d *= 2
		}
	}
	d = min(d, opt.RetryMaxDelay)
	if d > 0 && opt.RetryJitter > 0 {
		d = time.Duration(float64(d) * (1 + opt.RetryJitter*(2*rand.Float64()-1)))
	}
	return min(max(d, 0), opt.RetryMaxDelay)
}
