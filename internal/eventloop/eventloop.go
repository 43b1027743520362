// Package eventloop holds the process-wide stop signal shared by the registration
// handshake, the pairing agent and the orchestrator. Components receive the Loop
// explicitly and stop it with a cause; the first cause wins.
package eventloop

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// Stopper is the narrow view handed to components that may end the process.
type Stopper interface {
	Stop(cause error)
}

// Loop is a cancellable context with a recorded stop cause.
type Loop struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	once   sync.Once
	logger *logrus.Logger
}

// New derives a loop from parent. Cancelling parent stops the loop with parent's cause.
func New(parent context.Context, logger *logrus.Logger) *Loop {
	if parent == nil {
		parent = context.Background()
	}
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancelCause(parent)
	return &Loop{ctx: ctx, cancel: cancel, logger: logger}
}

// Context returns the loop's context. It is done once the loop stops.
func (l *Loop) Context() context.Context { return l.ctx }

// Stop ends the loop. Only the first call records its cause; a nil cause is recorded
// as context.Canceled.
func (l *Loop) Stop(cause error) {
	if cause == nil {
		cause = context.Canceled
	}
	l.once.Do(func() {
		entry := l.logger.WithField("cause", cause.Error())
		if errors.Is(cause, context.Canceled) {
			entry.Debug("Event loop stopping")
		} else {
			entry.Info("Event loop stopping")
		}
		l.cancel(cause)
	})
}

// Done is closed when the loop stops.
func (l *Loop) Done() <-chan struct{} { return l.ctx.Done() }

// Cause returns why the loop stopped, or nil while it is running.
func (l *Loop) Cause() error {
	if l.ctx.Err() == nil {
		return nil
	}
	return context.Cause(l.ctx)
}

// Wait blocks until the loop stops and returns the cause. A plain cancellation
// (signal or parent cancel) is reported as nil.
func (l *Loop) Wait() error {
	<-l.ctx.Done()
	cause := context.Cause(l.ctx)
	if errors.Is(cause, context.Canceled) {
		return nil
	}
	return cause
}
