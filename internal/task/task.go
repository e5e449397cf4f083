package task

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

const restartDelay = time.Second

// Go runs fn as a supervised background task: a panic is logged and the task
// restarts after a short delay instead of silently dying. The task ends only
// when ctx is cancelled or fn returns normally.
func Go(ctx context.Context, name string, logger *logrus.Logger, fn func(ctx context.Context)) {
	go func() {
		for {
			finished := run(name, logger, func() { fn(ctx) })
			if finished || ctx.Err() != nil {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(restartDelay):
				logger.WithField("task", name).Info("Restarting task after panic")
			}
		}
	}()
}

// run executes fn, recovering from panics. Returns true when fn returned
// normally.
func run(name string, logger *logrus.Logger, fn func()) (finished bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(logrus.Fields{
				"task":  name,
				"panic": r,
			}).Error("Task panicked")
			finished = false
		}
	}()

	fn()
	return true
}
