package indexer

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Task is one step of a loop tick.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Loop runs its tasks in order once per interval. A tick that arrives while
// the previous one is still running is dropped.
type Loop struct {
	interval time.Duration
	tasks    []Task
	logger   *zap.Logger
}

func NewLoop(interval time.Duration, logger *zap.Logger, tasks ...Task) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Loop{interval: interval, tasks: tasks, logger: logger}
}

// Run ticks until ctx is done. The first tick runs immediately.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Info("loop started", zap.Duration("interval", l.interval), zap.Int("tasks", len(l.tasks)))
	for {
		l.Tick(ctx)

		select {
		case <-ctx.Done():
			l.logger.Info("loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs every task once. A failing task does not stop the ones after it.
func (l *Loop) Tick(ctx context.Context) {
	for _, task := range l.tasks {
		if ctx.Err() != nil {
			return
		}
		err := task.Run(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrCycleInProgress):
			l.logger.Info("task skipped, previous run still active", zap.String("task", task.Name))
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			l.logger.Info("task interrupted", zap.String("task", task.Name))
		default:
			l.logger.Error("task failed", zap.String("task", task.Name), zap.Error(err))
		}
	}
}
