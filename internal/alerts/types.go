package alerts

import (
	"context"
	"time"

	"github.com/sudo-init-do/wastex/internal/store"
)

// Task type constants
const (
	TaskNotify     = "notify:event"
	TaskAdminAlert = "notify:admin_alert"
)

// Event types published by the lifecycle services.
const (
	EventWelcome            = "account:welcome"
	EventCompanyVerified    = "account:company_verified"
	EventPasswordReset      = "account:password_reset"
	EventNegotiationStarted = "negotiation:started"
	EventMessageNew         = "negotiation:message"
	EventOfferProposed      = "negotiation:offer"
	EventOfferAnswered      = "negotiation:offer_response"
	EventContractCreated    = "contract:created"
	EventContractSigned     = "contract:signed"
	EventContractDisputed   = "contract:disputed"
	EventDisputeResolved    = "contract:dispute_resolved"
	EventPaymentEscrowed    = "payment:escrowed"
	EventPaymentReleased    = "payment:released"
	EventRefundRequested    = "payment:refund_requested"
	EventRefundDecided      = "payment:refund_decided"
	EventShipmentUpdate     = "shipment:update"
)

// Event is a notification for one user. Email asks the worker to also send
// an email.
type Event struct {
	Type      string    `json:"type"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Reference string    `json:"reference,omitempty"`
	Email     bool      `json:"email"`
	SentAt    time.Time `json:"sentAt"`
}

// AdminAlertPayload is routed to the admin mailbox.
type AdminAlertPayload struct {
	ActorID  string    `json:"actorId"`
	Severity string    `json:"severity"` // info|warning|critical
	Message  string    `json:"message"`
	SentAt   time.Time `json:"sentAt"`
}

// Publisher delivers events. Publishing is best-effort: callers log and move
// on when it fails.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	AdminAlert(ctx context.Context, actorID, severity, message string) error
}

// Nop drops everything.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

func (Nop) AdminAlert(context.Context, string, string, string) error { return nil }

// Notification is the stored in-app copy of an Event.
type Notification struct {
	store.Meta
	UserID    string     `json:"userId"`
	Type      string     `json:"type"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	Reference string     `json:"reference,omitempty"`
	ReadAt    *time.Time `json:"readAt"`
}

var NotificationSpec = store.Spec{Name: "notifications"}
