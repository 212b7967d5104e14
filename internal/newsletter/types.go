// Package newsletter implements the contact, campaign, recipient and event
// model plus the tracking and analytics services built on top of it.
package newsletter

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Contact status constants. Transitions are one-directional triggers:
// unsubscribing records unsubscribed_at and nothing auto-resubscribes.
const (
	ContactSubscribed   = "subscribed"
	ContactUnsubscribed = "unsubscribed"
)

// Campaign status constants.
const (
	CampaignDraft   = "draft"
	CampaignSending = "sending"
	CampaignSent    = "sent"
)

// Event type constants.
const (
	EventDelivered = "delivered"
	EventOpened    = "opened"
	EventClicked   = "clicked"
)

// Job status constants.
const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Bulk action constants.
const (
	BulkAddGroup    = "add-group"
	BulkRemoveGroup = "remove-group"
	BulkUnsubscribe = "unsubscribe"
)

// JSON is a helper type for jsonb columns.
type JSON map[string]interface{}

func (j JSON) Value() (driver.Value, error) {
	if j == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(j)
}

func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(b, j)
}

// Contact is a subscriber record keyed by case-normalized email.
type Contact struct {
	ID             uuid.UUID  `json:"id"`
	Email          string     `json:"email"`
	Name           string     `json:"name"`
	Status         string     `json:"status"`
	Plan           string     `json:"plan"`
	Origin         string     `json:"origin"`
	Metadata       JSON       `json:"metadata"`
	SubscribedAt   time.Time  `json:"subscribed_at"`
	UnsubscribedAt *time.Time `json:"unsubscribed_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ContactAttrs are the fields merged by EnsureContactByEmail. Empty strings
// never clobber existing values.
type ContactAttrs struct {
	Name   string `json:"name"`
	Plan   string `json:"plan"`
	Origin string `json:"origin"`
}

// Group is a named segmentation bucket with many-to-many membership.
type Group struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Campaign is a send-once broadcast. A nil GroupID targets the full list.
type Campaign struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	Subject   string     `json:"subject"`
	Template  string     `json:"template"`
	GroupID   *uuid.UUID `json:"group_id"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Recipient is per-contact tracking state for one campaign. Timestamp fields
// are set-once (null → timestamp, never reset).
type Recipient struct {
	ID          uuid.UUID  `json:"id"`
	CampaignID  uuid.UUID  `json:"campaign_id"`
	ContactID   uuid.UUID  `json:"contact_id"`
	Email       string     `json:"email"`
	Status      string     `json:"status"`
	SentAt      *time.Time `json:"sent_at"`
	DeliveredAt *time.Time `json:"delivered_at"`
	OpenedAt    *time.Time `json:"opened_at"`
	ClickedAt   *time.Time `json:"clicked_at"`
	BouncedAt   *time.Time `json:"bounced_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// RecipientSummary is the recipient row joined with contact fields for the
// admin listing.
type RecipientSummary struct {
	Recipient
	ContactName   string `json:"contact_name"`
	ContactStatus string `json:"contact_status"`
}

// Event is one row of the append-only event log.
type Event struct {
	ID          uuid.UUID  `json:"id"`
	CampaignID  uuid.UUID  `json:"campaign_id"`
	RecipientID uuid.UUID  `json:"recipient_id"`
	Type        string     `json:"event_type"`
	OccurredAt  time.Time  `json:"occurred_at"`
	Meta        JSON       `json:"meta"`
}

// Job records one synchronous campaign send.
type Job struct {
	ID             uuid.UUID  `json:"id"`
	CampaignID     uuid.UUID  `json:"campaign_id"`
	Status         string     `json:"status"`
	ScheduledAt    time.Time  `json:"scheduled_at"`
	StartedAt      *time.Time `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at"`
	RecipientCount int        `json:"recipient_count"`
	Error          string     `json:"error,omitempty"`
}

// BulkResult is the per-id outcome of a bulk contact action.
type BulkResult struct {
	ContactID uuid.UUID `json:"contact_id"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
}
