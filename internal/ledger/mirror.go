package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/sudo-init-do/wastex/internal/alerts"
	"github.com/sudo-init-do/wastex/internal/apperr"
)

const TaskMirrorSignatures = "ledger:mirror_signatures"

type mirrorPayload struct {
	ContractID string `json:"contractId"`
}

// Enqueuer is the asynq client surface used by Queue.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Queue schedules mirror jobs on the ledger queue. One job per contract is
// live at a time.
type Queue struct {
	client   Enqueuer
	maxRetry int
	timeout  time.Duration
}

func NewQueue(client Enqueuer, maxRetry int, timeout time.Duration) *Queue {
	return &Queue{client: client, maxRetry: maxRetry, timeout: timeout}
}

func (q *Queue) MirrorSignatures(ctx context.Context, contractID string) error {
	b, err := json.Marshal(mirrorPayload{ContractID: contractID})
	if err != nil {
		return err
	}
	opts := []asynq.Option{
		asynq.Queue(alerts.QueueLedger),
		asynq.MaxRetry(q.maxRetry),
		asynq.TaskID("mirror:" + contractID),
	}
	if q.timeout > 0 {
		// three calls per run
		opts = append(opts, asynq.Timeout(4*q.timeout))
	}
	_, err = q.client.EnqueueContext(ctx, asynq.NewTask(TaskMirrorSignatures, b), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// Handler runs a mirror job. Unknown contracts are not retried.
func (s *Syncer) Handler(ctx context.Context, t *asynq.Task) error {
	var p mirrorPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil || p.ContractID == "" {
		return fmt.Errorf("decode mirror payload: %w", asynq.SkipRetry)
	}
	err := s.Sync(ctx, p.ContractID)
	if errors.Is(err, apperr.ErrNotFound) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	if err != nil {
		log.Warnw("ledger mirror failed, will retry", "contract", p.ContractID, "error", err)
	}
	return err
}

// Background runs Sync outside the request on its own goroutine. Used when
// no queue is configured; failures are only logged.
type Background struct {
	syncer *Syncer
}

func NewBackground(s *Syncer) *Background { return &Background{syncer: s} }

func (b *Background) MirrorSignatures(ctx context.Context, contractID string) error {
	go func() {
		ctx := context.WithoutCancel(ctx)
		if err := b.syncer.Sync(ctx, contractID); err != nil {
			log.Errorw("ledger mirror failed", "contract", contractID, "error", err)
		}
	}()
	return nil
}
