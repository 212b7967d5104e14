package newsletter

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Recipient listing limits per the admin API contract.
const (
	RecipientDefaultLimit = 200
	RecipientMaxLimit     = 500
)

// CreateCampaign creates a draft campaign. A nil groupID targets every
// subscribed contact.
func (s *Store) CreateCampaign(ctx context.Context, c *Campaign) error {
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	if c.Status == "" {
		c.Status = CampaignDraft
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO newsletter_campaigns (id, name, subject, template, group_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.Name, c.Subject, c.Template, c.GroupID, c.Status, c.CreatedAt, c.UpdatedAt)
	return err
}

// GetCampaign retrieves a campaign by ID.
func (s *Store) GetCampaign(ctx context.Context, id uuid.UUID) (*Campaign, error) {
	c := &Campaign{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, subject, template, group_id, status, created_at, updated_at
		FROM newsletter_campaigns WHERE id = $1`, id).Scan(
		&c.ID, &c.Name, &c.Subject, &c.Template, &c.GroupID, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// UpdateCampaignStatus transitions a campaign's status.
func (s *Store) UpdateCampaignStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE newsletter_campaigns SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, id)
	return err
}

// GenerateRecipients creates one recipient row per target contact, snapshotting
// the email at send time. Only subscribed contacts are targeted. The unique
// (campaign_id, contact_id) constraint makes regeneration safe.
func (s *Store) GenerateRecipients(ctx context.Context, campaignID uuid.UUID, groupID *uuid.UUID) (int, error) {
	var query string
	args := []interface{}{campaignID}
	if groupID != nil {
		query = `INSERT INTO newsletter_recipients (id, campaign_id, contact_id, email, status, created_at)
			SELECT gen_random_uuid(), $1, c.id, c.email, 'pending', NOW()
			FROM newsletter_contacts c
			JOIN newsletter_group_members m ON m.contact_id = c.id AND m.group_id = $2
			WHERE c.status = 'subscribed'
			ON CONFLICT (campaign_id, contact_id) DO NOTHING`
		args = append(args, *groupID)
	} else {
		query = `INSERT INTO newsletter_recipients (id, campaign_id, contact_id, email, status, created_at)
			SELECT gen_random_uuid(), $1, c.id, c.email, 'pending', NOW()
			FROM newsletter_contacts c
			WHERE c.status = 'subscribed'
			ON CONFLICT (campaign_id, contact_id) DO NOTHING`
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("generate recipients: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ListRecipients returns recipient rows joined with a contact summary,
// newest-created-first, with the total count for pagination.
func (s *Store) ListRecipients(ctx context.Context, campaignID uuid.UUID, limit, offset int) ([]*RecipientSummary, int, error) {
	if limit < 1 {
		limit = RecipientDefaultLimit
	}
	if limit > RecipientMaxLimit {
		limit = RecipientMaxLimit
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM newsletter_recipients WHERE campaign_id = $1`, campaignID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.campaign_id, r.contact_id, r.email, r.status,
			r.sent_at, r.delivered_at, r.opened_at, r.clicked_at, r.bounced_at, r.created_at,
			COALESCE(c.name,''), c.status
		FROM newsletter_recipients r
		JOIN newsletter_contacts c ON c.id = r.contact_id
		WHERE r.campaign_id = $1
		ORDER BY r.created_at DESC LIMIT $2 OFFSET $3`,
		campaignID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*RecipientSummary
	for rows.Next() {
		rs := &RecipientSummary{}
		if err := rows.Scan(&rs.ID, &rs.CampaignID, &rs.ContactID, &rs.Email, &rs.Status,
			&rs.SentAt, &rs.DeliveredAt, &rs.OpenedAt, &rs.ClickedAt, &rs.BouncedAt, &rs.CreatedAt,
			&rs.ContactName, &rs.ContactStatus); err != nil {
			return nil, 0, err
		}
		out = append(out, rs)
	}
	return out, total, rows.Err()
}

// PendingRecipients returns recipients not yet sent for a campaign.
func (s *Store) PendingRecipients(ctx context.Context, campaignID uuid.UUID) ([]*Recipient, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, campaign_id, contact_id, email, status,
			sent_at, delivered_at, opened_at, clicked_at, bounced_at, created_at
		FROM newsletter_recipients
		WHERE campaign_id = $1 AND sent_at IS NULL
		ORDER BY created_at`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Recipient
	for rows.Next() {
		r := &Recipient{}
		if err := rows.Scan(&r.ID, &r.CampaignID, &r.ContactID, &r.Email, &r.Status,
			&r.SentAt, &r.DeliveredAt, &r.OpenedAt, &r.ClickedAt, &r.BouncedAt, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkSent stamps sent_at (set-once) after a successful send.
func (s *Store) MarkSent(ctx context.Context, recipientID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE newsletter_recipients SET sent_at = COALESCE(sent_at, NOW()), status = 'sent'
		WHERE id = $1`, recipientID)
	return err
}

// AppendEvent inserts one row into the append-only event log.
func (s *Store) AppendEvent(ctx context.Context, campaignID, recipientID uuid.UUID, eventType string, meta JSON) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO newsletter_events (id, campaign_id, recipient_id, event_type, occurred_at, meta)
		VALUES ($1, $2, $3, $4, NOW(), $5)`,
		uuid.New(), campaignID, recipientID, eventType, meta)
	return err
}

// ListEvents returns the most recent events for a campaign, capped at limit.
func (s *Store) ListEvents(ctx context.Context, campaignID uuid.UUID, limit int) ([]*Event, error) {
	if limit < 1 || limit > 100 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, campaign_id, recipient_id, event_type, occurred_at, meta
		FROM newsletter_events WHERE campaign_id = $1
		ORDER BY occurred_at DESC LIMIT $2`, campaignID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		if err := rows.Scan(&e.ID, &e.CampaignID, &e.RecipientID, &e.Type, &e.OccurredAt, &e.Meta); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// MarkDelivered stamps delivered_at if unset and appends a delivered event on
// the first observation. Used by the delivery webhook.
func (s *Store) MarkDelivered(ctx context.Context, campaignID, recipientID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE newsletter_recipients SET delivered_at = NOW(), status = 'delivered'
		WHERE id = $1 AND campaign_id = $2 AND delivered_at IS NULL`,
		recipientID, campaignID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return s.AppendEvent(ctx, campaignID, recipientID, EventDelivered, nil)
	}
	return nil
}

// MarkBounced stamps bounced_at if unset.
func (s *Store) MarkBounced(ctx context.Context, campaignID, recipientID uuid.UUID, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE newsletter_recipients SET bounced_at = COALESCE(bounced_at, NOW()), status = 'bounced'
		WHERE id = $1 AND campaign_id = $2`, recipientID, campaignID)
	return err
}

// RecipientByEmail resolves a recipient row for a campaign by snapshot email.
// Delivery webhooks identify messages by address, not by our ids.
func (s *Store) RecipientByEmail(ctx context.Context, campaignID uuid.UUID, email string) (*Recipient, error) {
	r := &Recipient{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, campaign_id, contact_id, email, status,
			sent_at, delivered_at, opened_at, clicked_at, bounced_at, created_at
		FROM newsletter_recipients WHERE campaign_id = $1 AND email = $2`,
		campaignID, NormalizeEmail(email)).Scan(
		&r.ID, &r.CampaignID, &r.ContactID, &r.Email, &r.Status,
		&r.SentAt, &r.DeliveredAt, &r.OpenedAt, &r.ClickedAt, &r.BouncedAt, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// CreateJob records a send job for a campaign.
func (s *Store) CreateJob(ctx context.Context, campaignID uuid.UUID, recipientCount int) (*Job, error) {
	j := &Job{
		ID:             uuid.New(),
		CampaignID:     campaignID,
		Status:         JobQueued,
		ScheduledAt:    time.Now(),
		RecipientCount: recipientCount,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO newsletter_jobs (id, campaign_id, status, scheduled_at, recipient_count)
		VALUES ($1, $2, $3, $4, $5)`,
		j.ID, j.CampaignID, j.Status, j.ScheduledAt, j.RecipientCount)
	if err != nil {
		return nil, err
	}
	return j, nil
}

// UpdateJobStatus transitions a job, stamping started/completed times.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID uuid.UUID, status, errMsg string) error {
	query := `UPDATE newsletter_jobs SET status = $1, error = $2`
	switch status {
	case JobRunning:
		query += `, started_at = NOW()`
	case JobCompleted, JobFailed:
		query += `, completed_at = NOW()`
	}
	query += ` WHERE id = $3`
	_, err := s.db.ExecContext(ctx, query, status, errMsg, jobID)
	return err
}

// ListJobs returns jobs, optionally filtered by status, newest first.
func (s *Store) ListJobs(ctx context.Context, status string, limit int) ([]*Job, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	query := `SELECT id, campaign_id, status, scheduled_at, started_at, completed_at, recipient_count, COALESCE(error,'')
		FROM newsletter_jobs`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1 ORDER BY scheduled_at DESC LIMIT $2`
		args = append(args, status, limit)
	} else {
		query += ` ORDER BY scheduled_at DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j := &Job{}
		if err := rows.Scan(&j.ID, &j.CampaignID, &j.Status, &j.ScheduledAt,
			&j.StartedAt, &j.CompletedAt, &j.RecipientCount, &j.Error); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
