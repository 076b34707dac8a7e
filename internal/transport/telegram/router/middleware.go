package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"questbot/internal/observability/metrics"
	logx "questbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] runs first.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// UserError is shown verbatim to the chat user.
type UserError struct{ Msg string }

func (e *UserError) Error() string { return e.Msg }

func Userf(format string, args ...any) error {
	return &UserError{Msg: fmt.Sprintf(format, args...)}
}

func isUserError(err error) bool {
	var ue *UserError
	return errors.As(err, &ue)
}

// slowRequest promotes successful request logs from debug to info.
const slowRequest = 750 * time.Millisecond

func loggerFor(req *Request, fallback logx.Logger) logx.Logger {
	if req != nil && !req.Logger.IsZero() {
		return req.Logger
	}
	return fallback
}

func MWTimeout(d time.Duration) Middleware {
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

// MWPanicRecover turns a handler panic into an error carrying the value.
func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				loggerFor(req, log).Error("handler panic", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				err = fmt.Errorf("panic: %v", r)
			}()
			return next(ctx, req)
		}
	}
}

// MWRequestLog logs every request with its outcome and duration, and
// feeds the request metrics.
func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			took := time.Since(start)

			l := loggerFor(req, log).With(logx.String("kind", string(req.Update.Kind)), logx.Duration("dur", took))
			outcome := "ok"
			switch {
			case err == nil && took >= slowRequest:
				l.Info("request ok")
			case err == nil:
				l.Debug("request ok")
			case isUserError(err):
				outcome = "rejected"
				l.Debug("request rejected", logx.Err(err))
			default:
				outcome = "error"
				l.Warn("request failed", logx.Err(err))
			}
			metrics.ObserveRequest(req.Command, outcome, took)
			return err
		}
	}
}

// MWReplyError answers a failed message command in chat. Internal errors
// only show the request id so the log line can be found.
func MWReplyError() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			err := next(ctx, req)
			if err == nil {
				return nil
			}
			text := "❌ Something went wrong (ref " + req.ReqID + ")"
			if isUserError(err) {
				text = "❌ " + err.Error()
			}
			_ = req.Reply(context.WithoutCancel(ctx), text)
			return err
		}
	}
}
