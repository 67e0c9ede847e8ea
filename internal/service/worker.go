package service

import (
	"context"
	"encoding/json"
	"time"

	"togglr/internal/model"
	"togglr/internal/repository"
	v1 "togglr/pkg/api/v1"
	"togglr/pkg/constraints"
	"togglr/pkg/logger"

	"go.uber.org/zap"
)

// OutboxWorker drains pending change events into etcd. It is the retry path
// behind the eager post-commit push, so transient etcd outages only delay
// notifications instead of losing them.
type OutboxWorker struct {
	outboxRepo repository.OutboxInterface
	eventRepo  *repository.EventRepository
	interval   time.Duration
}

func NewOutboxWorker(outboxRepo repository.OutboxInterface, eventRepo *repository.EventRepository, interval time.Duration) *OutboxWorker {
	return &OutboxWorker{
		outboxRepo: outboxRepo,
		eventRepo:  eventRepo,
		interval:   interval,
	}
}

func (w *OutboxWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	logger.Info("outbox worker started", zap.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			logger.Info("outbox worker stopped")
			return
		case <-ticker.C:
			w.processPending(ctx)
		}
	}
}

func (w *OutboxWorker) processPending(ctx context.Context) {
	tasks, err := w.outboxRepo.FetchPending(ctx, 10)
	if err != nil {
		logger.Error("failed to fetch pending outbox tasks", zap.Error(err))
		return
	}

	for _, task := range tasks {
		logger.Debug("processing outbox task", zap.Int64("id", task.ID), zap.String("key", task.FeatureKey))

		var event v1.ChangeEvent
		if err := json.Unmarshal([]byte(task.Payload), &event); err != nil {
			logger.Error("failed to unmarshal task payload", zap.Int64("id", task.ID), zap.Error(err))
			// Corrupt payload will never ship, park it as failed
			w.outboxRepo.UpdateStatus(ctx, task.ID, model.StatusFailed, task.RetryCount)
			continue
		}

		fullKey := BuildFlagKey(event.FeatureKey)
		if event.Action == constraints.DELETE {
			_, err = w.eventRepo.DeleteEvent(ctx, fullKey)
		} else {
			_, err = w.eventRepo.SaveEventIfNewer(ctx, fullKey, event)
		}
		if err != nil {
			logger.Warn("failed to sync task to etcd", zap.Int64("id", task.ID), zap.Error(err))
			newRetryCount := task.RetryCount + 1
			if newRetryCount >= 5 {
				logger.Error("task max retries reached", zap.Int64("id", task.ID))
				w.outboxRepo.UpdateStatus(ctx, task.ID, model.StatusFailed, newRetryCount)
			} else {
				w.outboxRepo.UpdateStatus(ctx, task.ID, model.StatusPending, newRetryCount)
			}
			continue
		}

		if err := w.outboxRepo.UpdateStatus(ctx, task.ID, model.StatusCompleted, task.RetryCount); err != nil {
			logger.Error("failed to mark task completed", zap.Int64("id", task.ID), zap.Error(err))
		} else {
			logger.Info("outbox task completed", zap.Int64("id", task.ID), zap.String("key", task.FeatureKey))
		}
	}
}
