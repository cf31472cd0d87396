package transport

import (
	"context"
	"sync/atomic"
	"time"

	logx "l9alerts/pkg/logx"
)

const inboxReportEvery = 5 * time.Second

// Inbox hands platform updates to the router without ever blocking the
// platform's event goroutine. Updates that find the channel full are counted
// and reported periodically.
type Inbox struct {
	out     atomic.Pointer[chan<- Update]
	dropped atomic.Uint64
}

// Attach starts delivery to out; Detach stops it.
func (b *Inbox) Attach(out chan<- Update) { b.out.Store(&out) }
func (b *Inbox) Detach()                  { b.out.Store(nil) }

// Put reports false when the update was dropped.
func (b *Inbox) Put(up Update) bool {
	p := b.out.Load()
	if p == nil {
		return false
	}
	select {
	case *p <- up:
		return true
	default:
		b.dropped.Add(1)
		return false
	}
}

// ReportDrops logs accumulated drops every few seconds and once more when
// ctx ends.
func (b *Inbox) ReportDrops(ctx context.Context, log logx.Logger) {
	t := time.NewTicker(inboxReportEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			b.flush(log)
			return
		case <-t.C:
			b.flush(log)
		}
	}
}

func (b *Inbox) flush(log logx.Logger) {
	if n := b.dropped.Swap(0); n > 0 {
		log.Warn("inbound updates dropped", logx.Uint64("count", n))
	}
}
