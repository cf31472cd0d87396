package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strconv"
	"time"

	"l9alerts/internal/storage"
	logx "l9alerts/pkg/logx"
)

const (
	slowCommand  = 750 * time.Millisecond
	auditTimeout = 2 * time.Second
)

type HandlerFunc func(ctx context.Context, req *Request) error

// Middleware wraps a handler. Chain applies the first one outermost.
type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, mws ...Middleware) HandlerFunc {
	for i := range mws {
		h = mws[len(mws)-1-i](h)
	}
	return h
}

// Deadline bounds the handler; d <= 0 leaves ctx as is.
func Deadline(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

// Recover turns a handler panic into an error and logs the stack.
func Recover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				req.Logger.Error("command panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				err = fmt.Errorf("panic: %v", r)
			}()
			return next(ctx, req)
		}
	}
}

// LogRequest logs failures at warn and slow commands at info; the rest go
// to debug.
func LogRequest() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			began := time.Now()
			err := next(ctx, req)
			d := time.Since(began)
			took := logx.Duration("took", d)
			switch {
			case err != nil:
				req.Logger.Warn("command failed", took, logx.Err(err))
			case d >= slowCommand:
				req.Logger.Info("command slow", took)
			default:
				req.Logger.Debug("command done", took)
			}
			return err
		}
	}
}

// Auditor records operator actions.
type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// Audit stores one entry per command, success or not. A failed write is
// logged and does not change the command's result.
func Audit(a Auditor) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if a == nil {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			began := time.Now()
			err := next(ctx, req)

			actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
			defer cancel()
			if werr := a.AppendAudit(actx, auditRecord(req, began, err)); werr != nil {
				req.Logger.Warn("audit write failed", logx.Err(werr))
			}
			return err
		}
	}
}

func auditRecord(req *Request, began time.Time, err error) storage.AuditEntry {
	m := req.Msg
	e := storage.AuditEntry{
		At:        began.UTC(),
		ActorID:   strconv.FormatInt(m.FromID, 10),
		ActorName: m.FromName,
		ChatID:    strconv.FormatInt(m.ChatID, 10),
		Transport: m.Transport,
		Action:    req.Command,
		Target:    req.target,
		OK:        err == nil,
		TookMS:    time.Since(began).Milliseconds(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	if len(req.Args) > 0 {
		if meta, jerr := json.Marshal(map[string]any{"args": req.Args}); jerr == nil {
			e.MetaJSON = string(meta)
		}
	}
	return e
}
