package jobs

import (
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the only queue the worker serves.
	QueueDefault = "default"
	// TaskWebOrdersRefresh reloads pending online orders into the cache.
	TaskWebOrdersRefresh = "weborders:refresh"
)

// NewWebOrdersRefreshTask builds the poll task. The payload is empty; a
// missed tick is superseded by the next one, so the task never retries.
func NewWebOrdersRefreshTask(interval time.Duration) *asynq.Task {
	timeout := interval
	if timeout <= 0 || timeout > 20*time.Second {
		timeout = 20 * time.Second
	}
	return asynq.NewTask(TaskWebOrdersRefresh, nil,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(0),
		asynq.Timeout(timeout),
	)
}
