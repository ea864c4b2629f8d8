package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"mostrador/backend/internal/logging"
)

// PendingRefresher is satisfied by *service.Service.
type PendingRefresher interface {
	RefreshPendingWebOrders(ctx context.Context) (int, []string, error)
}

// WebOrdersRefreshJob handles TaskWebOrdersRefresh.
type WebOrdersRefreshJob struct {
	refresher PendingRefresher
	logger    *zap.Logger
}

func NewWebOrdersRefreshJob(refresher PendingRefresher, logger *zap.Logger) *WebOrdersRefreshJob {
	return &WebOrdersRefreshJob{refresher: refresher, logger: logging.OrNop(logger)}
}

func (j *WebOrdersRefreshJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.refresher == nil {
		return errors.New("weborders refresh: handler not configured")
	}
	if t.Type() != TaskWebOrdersRefresh {
		return fmt.Errorf("weborders refresh: unexpected task %q: %w", t.Type(), asynq.SkipRetry)
	}

	pending, arrived, err := j.refresher.RefreshPendingWebOrders(ctx)
	if err != nil {
		j.logger.Warn("refresh pending web orders", zap.Error(err))
		return err
	}
	j.logger.Debug("pending web orders refreshed",
		zap.Int("pending", pending),
		zap.Int("arrived", len(arrived)),
	)
	return nil
}
