package newsletter

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/newsletter-platform/internal/pkg/logger"
)

// Caller mistakes, as opposed to upstream failures. Handlers check these
// to pick a response status.
var (
	ErrCampaignNotFound    = errors.New("campaign not found")
	ErrCampaignAlreadySent = errors.New("campaign already sent")
)

// Sender delivers one transactional email. Implemented by the SES mailer;
// tests use a fake.
type Sender interface {
	Send(ctx context.Context, to, subject, html string) (string, error)
}

// CampaignSender generates recipient rows for a campaign and sends to them
// synchronously, recording a job row for the run. There is no queue and no
// scheduler; the admin request carries the whole send.
type CampaignSender struct {
	store     *Store
	templates *TemplateService
	tracking  *TrackingService
	sender    Sender
}

// NewCampaignSender wires the campaign send path.
func NewCampaignSender(store *Store, templates *TemplateService, tracking *TrackingService, sender Sender) *CampaignSender {
	return &CampaignSender{store: store, templates: templates, tracking: tracking, sender: sender}
}

// SendCampaign generates recipients for the campaign's target scope and sends
// each one a personalized render with the tracking pixel injected. Returns
// the job row describing the run.
func (cs *CampaignSender) SendCampaign(ctx context.Context, campaignID uuid.UUID) (*Job, error) {
	campaign, err := cs.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("load campaign: %w", err)
	}
	if campaign == nil {
		return nil, fmt.Errorf("%w: %s", ErrCampaignNotFound, campaignID)
	}
	if campaign.Status == CampaignSent {
		return nil, fmt.Errorf("%w: %s", ErrCampaignAlreadySent, campaignID)
	}

	generated, err := cs.store.GenerateRecipients(ctx, campaignID, campaign.GroupID)
	if err != nil {
		return nil, err
	}

	pending, err := cs.store.PendingRecipients(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	job, err := cs.store.CreateJob(ctx, campaignID, len(pending))
	if err != nil {
		return nil, err
	}
	if err := cs.store.UpdateJobStatus(ctx, job.ID, JobRunning, ""); err != nil {
		return nil, err
	}
	if err := cs.store.UpdateCampaignStatus(ctx, campaignID, CampaignSending); err != nil {
		return nil, err
	}

	logger.Info("campaign send started",
		"campaign", campaignID, "generated", generated, "pending", len(pending))

	failed := 0
	for _, r := range pending {
		if err := cs.sendOne(ctx, campaign, r); err != nil {
			failed++
			logger.Warn("recipient send failed", "campaign", campaignID, "recipient", r.Email, "error", err)
		}
	}

	status := JobCompleted
	errMsg := ""
	if failed > 0 {
		errMsg = fmt.Sprintf("%d of %d sends failed", failed, len(pending))
	}
	if failed == len(pending) && len(pending) > 0 {
		status = JobFailed
	}
	if err := cs.store.UpdateJobStatus(ctx, job.ID, status, errMsg); err != nil {
		return nil, err
	}
	if err := cs.store.UpdateCampaignStatus(ctx, campaignID, CampaignSent); err != nil {
		return nil, err
	}

	job.Status = status
	job.Error = errMsg
	return job, nil
}

func (cs *CampaignSender) sendOne(ctx context.Context, campaign *Campaign, r *Recipient) error {
	contact, err := cs.store.GetContact(ctx, r.ContactID)
	if err != nil {
		return err
	}
	if contact == nil {
		return fmt.Errorf("contact %s not found", r.ContactID)
	}

	vars := ContactVars(contact)
	subject, err := cs.templates.Render(campaign.Subject, vars)
	if err != nil {
		return err
	}
	html, err := cs.templates.Render(campaign.Template, vars)
	if err != nil {
		return err
	}
	html = cs.tracking.InjectTracking(html, campaign.ID, r.ID)

	if _, err := cs.sender.Send(ctx, r.Email, subject, html); err != nil {
		return err
	}
	return cs.store.MarkSent(ctx, r.ID)
}
