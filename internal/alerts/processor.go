package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	logging "github.com/ipfs/go-log/v2"
	"github.com/jpillora/backoff"

	"github.com/sudo-init-do/wastex/internal/metrics"
	"github.com/sudo-init-do/wastex/internal/store"
)

var log = logging.Logger("alerts")

const (
	QueueNotifications = "notifications"
	QueueAlerts        = "alerts"
	QueueLedger        = "ledger"
)

// EmailLookup resolves a user id to an email address.
type EmailLookup func(ctx context.Context, userID string) (string, error)

// Worker runs the asynq server. Other packages register extra task handlers
// with Handle before Start.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux

	notifications *store.Collection[Notification]
	emailOf       EmailLookup
	mailer        Mailer
	adminEmail    string
}

func NewWorker(redis asynq.RedisConnOpt, b store.Backend, emailOf EmailLookup, mailer Mailer, adminEmail string) *Worker {
	w := &Worker{
		mux:           asynq.NewServeMux(),
		notifications: store.NewCollection[Notification](b, NotificationSpec),
		emailOf:       emailOf,
		mailer:        mailer,
		adminEmail:    adminEmail,
	}
	w.server = asynq.NewServer(redis, asynq.Config{
		Concurrency: 5,
		Queues: map[string]int{
			QueueNotifications: 10,
			QueueLedger:        5,
			QueueAlerts:        3,
		},
		RetryDelayFunc: retryDelay,
	})
	w.mux.HandleFunc(TaskNotify, w.handleNotify)
	w.mux.HandleFunc(TaskAdminAlert, w.handleAdminAlert)
	return w
}

// retryDelay grows by a factor of 2 from 5s up to 30m.
func retryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	b := &backoff.Backoff{Min: 5 * time.Second, Max: 30 * time.Minute, Factor: 2}
	return b.ForAttempt(float64(n))
}

func (w *Worker) Handle(taskType string, h asynq.HandlerFunc) {
	w.mux.HandleFunc(taskType, h)
}

// Start runs the server in the background.
func (w *Worker) Start() error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}
	log.Infow("asynq worker started")
	return nil
}

func (w *Worker) Shutdown() {
	w.server.Shutdown()
}

func (w *Worker) handleNotify(ctx context.Context, t *asynq.Task) error {
	var ev Event
	if err := json.Unmarshal(t.Payload(), &ev); err != nil {
		return fmt.Errorf("decode event: %w: %w", err, asynq.SkipRetry)
	}
	return w.deliver(ctx, ev)
}

// deliver stores the in-app notification and sends the email when asked.
// Retried tasks may store a duplicate notification; the email is the part
// worth retrying.
func (w *Worker) deliver(ctx context.Context, ev Event) error {
	if ev.UserID == "" {
		return nil
	}
	n := &Notification{UserID: ev.UserID, Type: ev.Type, Title: ev.Title, Body: ev.Body, Reference: ev.Reference}
	if err := w.notifications.Insert(ctx, n); err != nil {
		log.Errorw("store notification failed", "type", ev.Type, "user", ev.UserID, "error", err)
		metrics.Notifications.WithLabelValues("inapp", "error").Inc()
		return err
	}
	metrics.Notifications.WithLabelValues("inapp", "ok").Inc()
	if !ev.Email || w.mailer == nil || w.emailOf == nil {
		return nil
	}
	to, err := w.emailOf(ctx, ev.UserID)
	if err != nil || to == "" {
		log.Warnw("no email for notification", "user", ev.UserID, "error", err)
		return nil
	}
	if err := w.mailer.Send(ctx, to, ev.Title, ev.Body); err != nil {
		log.Errorw("email send failed", "type", ev.Type, "to", to, "error", err)
		metrics.Notifications.WithLabelValues("email", "error").Inc()
		return err
	}
	metrics.Notifications.WithLabelValues("email", "ok").Inc()
	log.Infow("notification sent", "type", ev.Type, "to", to)
	return nil
}

func (w *Worker) handleAdminAlert(ctx context.Context, t *asynq.Task) error {
	var p AdminAlertPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode admin alert: %w: %w", err, asynq.SkipRetry)
	}
	if w.mailer == nil {
		log.Infow("admin alert", "severity", p.Severity, "by", p.ActorID, "message", p.Message)
		return nil
	}
	subject := fmt.Sprintf("[%s] Admin alert", p.Severity)
	if err := w.mailer.Send(ctx, w.adminEmail, subject, p.Message); err != nil {
		log.Errorw("admin alert send failed", "error", err)
		return err
	}
	return nil
}
