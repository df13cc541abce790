package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Queue publishes events as asynq tasks.
type Queue struct {
	client *asynq.Client
}

func NewQueue(client *asynq.Client) *Queue {
	return &Queue{client: client}
}

func (q *Queue) Publish(ctx context.Context, ev Event) error {
	if ev.SentAt.IsZero() {
		ev.SentAt = time.Now()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = q.client.EnqueueContext(ctx, asynq.NewTask(TaskNotify, b), asynq.Queue(QueueNotifications), asynq.MaxRetry(5))
	return err
}

// AdminAlert sends an alert to admins
func (q *Queue) AdminAlert(ctx context.Context, actorID, severity, message string) error {
	b, err := json.Marshal(AdminAlertPayload{ActorID: actorID, Severity: severity, Message: message, SentAt: time.Now()})
	if err != nil {
		return err
	}
	_, err = q.client.EnqueueContext(ctx, asynq.NewTask(TaskAdminAlert, b), asynq.Queue(QueueAlerts))
	return err
}
