package services

import (
	"context"

	"github.com/gla-ilr/ilr-engine/pkg/models"
	"github.com/gla-ilr/ilr-engine/pkg/services/workqueue"
)

// uploadTask imports one buffered upload on the background queue.
type uploadTask struct {
	workqueue.BaseTask
	handler *uploadHandler
	record  *models.ImportRecord
	content []byte
}

var (
	_ workqueue.Task           = (*uploadTask)(nil)
	_ workqueue.AbandonHandler = (*uploadTask)(nil)
)

func (t *uploadTask) Execute(ctx context.Context, _ workqueue.TaskEnqueuer) error {
	return t.handler.runQueued(ctx, t.record, t.content)
}

// Abandon fails the import record of an upload the queue will not complete.
func (t *uploadTask) Abandon(ctx context.Context, err error) {
	t.handler.failQueued(ctx, t.record, err)
}
