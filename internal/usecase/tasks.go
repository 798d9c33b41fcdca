package usecase

import (
	"context"

	"TrendWatcher/internal/domain"
	"TrendWatcher/internal/workers"
)

const (
	TaskTypeCreateSubscription workers.TaskType = "create_subscription"
	TaskTypeRefreshAll         workers.TaskType = "refresh_all"
)

type createTask struct {
	workers.BaseTask
	service *Service
	sub     domain.Subscription
}

func newCreateTask(service *Service, sub domain.Subscription) *createTask {
	return &createTask{BaseTask: workers.NewBaseTask(TaskTypeCreateSubscription), service: service, sub: sub}
}

func (t *createTask) Execute(ctx context.Context) error {
	run := t.service.process(ctx, domain.RunKindCreate, t.sub)
	if run.Status == domain.RunFailed {
		return &RunError{Run: run}
	}
	return nil
}

type refreshTask struct {
	workers.BaseTask
	service *Service
}

func newRefreshTask(service *Service) *refreshTask {
	return &refreshTask{BaseTask: workers.NewBaseTask(TaskTypeRefreshAll), service: service}
}

func (t *refreshTask) Execute(ctx context.Context) error {
	_, err := t.service.RefreshOnce(ctx)
	return err
}

// RunError reports a failed run to the worker pool.
type RunError struct {
	Run domain.RunRecord
}

func (e *RunError) Error() string {
	return "run " + e.Run.ID + " failed: " + e.Run.Reason
}
