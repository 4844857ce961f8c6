// Package control bridges database control messages to the in-process
// components that act on them. An admin CLI or another daemon replica posts
// "reload" and "cancel:<run_id>" over pg_notify; the listener wakes the
// scheduler or cancels the local run in response.
package control

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hullcrest/armada/internal/data"
)

const defaultListenBackoff = 5 * time.Second

// Waker is the scheduler-side hook: an immediate reload and tick.
type Waker interface {
	Wake()
}

// RunCanceller is the executor-side hook. Cancel reports whether the run was
// active in this process.
type RunCanceller interface {
	Cancel(runID int64) bool
}

// Source delivers decoded control events until the context is done.
type Source interface {
	Listen(ctx context.Context, handler func(data.ControlEvent)) error
}

// ListenerOptions holds the dependencies for creating a Listener.
type ListenerOptions struct {
	Source Source

	// Scheduler and Executor are each optional: a daemon running only some
	// services wires only the hooks it hosts.
	Scheduler Waker
	Executor  RunCanceller

	// Backoff between reconnect attempts after a dropped connection;
	// defaults to 5s.
	Backoff time.Duration
	Logger  *slog.Logger
}

// Listener pins a database connection to the control channel and dispatches
// events, reconnecting with backoff when the connection drops.
type Listener struct {
	source    Source
	scheduler Waker
	executor  RunCanceller
	backoff   time.Duration
	logger    *slog.Logger
}

// NewListener creates a control listener with the given options.
func NewListener(opts ListenerOptions) (*Listener, error) {
	if opts.Source == nil {
		return nil, errors.New("control source is required")
	}
	if opts.Scheduler == nil && opts.Executor == nil {
		return nil, errors.New("at least one of scheduler or executor is required")
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultListenBackoff
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Listener{
		source:    opts.Source,
		scheduler: opts.Scheduler,
		executor:  opts.Executor,
		backoff:   opts.Backoff,
		logger:    opts.Logger.With("component", "control_listener"),
	}, nil
}

// Run listens for control events until the context is cancelled. Returns nil
// on graceful shutdown.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.InfoContext(ctx, "starting control listener")

	for ctx.Err() == nil {
		err := l.source.Listen(ctx, l.dispatch)
		if err != nil && ctx.Err() == nil {
			l.logger.ErrorContext(ctx, "control listener disconnected, retrying",
				"error", err, "backoff", l.backoff)
			timer := time.NewTimer(l.backoff)
			select {
			case <-ctx.Done():
				if !timer.Stop() {
					<-timer.C
				}
			case <-timer.C:
			}
		}
	}

	l.logger.InfoContext(ctx, "control listener stopping", "reason", ctx.Err())
	return nil
}

func (l *Listener) dispatch(ev data.ControlEvent) {
	switch ev.Kind {
	case data.ControlReload:
		if l.scheduler == nil {
			return
		}
		l.logger.Debug("reload requested over control channel")
		l.scheduler.Wake()

	case data.ControlCancel:
		if l.executor == nil {
			return
		}
		if l.executor.Cancel(ev.RunID) {
			l.logger.Info("run cancelled over control channel", "run_id", ev.RunID)
		} else {
			// Another replica owns the run, or it already finished.
			l.logger.Debug("cancel request for run not active here", "run_id", ev.RunID)
		}
	}
}
