package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/ignite/newsletter-platform/internal/newsletter"
	"github.com/ignite/newsletter-platform/internal/pkg/httputil"
	"github.com/ignite/newsletter-platform/internal/pkg/logger"
)

// handleTrackOpen serves the 1x1 pixel. The pixel is returned for every
// request, valid or not: a broken image in a newsletter is worse than a lost
// data point.
func (s *Server) handleTrackOpen(w http.ResponseWriter, r *http.Request) {
	campaignID, err1 := uuid.Parse(r.URL.Query().Get("c"))
	recipientID, err2 := uuid.Parse(r.URL.Query().Get("r"))
	if err1 == nil && err2 == nil {
		s.tracking.MarkOpened(r.Context(), campaignID, recipientID)
	} else {
		logger.Debug("open pixel with bad params", "c", r.URL.Query().Get("c"), "r", r.URL.Query().Get("r"))
	}
	newsletter.WritePixel(w)
}

// handleTrackClick records the click and redirects. The user always lands
// somewhere: the validated destination, or the configured default.
func (s *Server) handleTrackClick(w http.ResponseWriter, r *http.Request) {
	destination := s.tracking.ResolveRedirect(r.URL.Query().Get("u"))

	campaignID, err1 := uuid.Parse(r.URL.Query().Get("c"))
	recipientID, err2 := uuid.Parse(r.URL.Query().Get("r"))
	if err1 == nil && err2 == nil {
		s.tracking.MarkClicked(r.Context(), campaignID, recipientID, destination)
	}

	http.Redirect(w, r, destination, http.StatusFound)
}

// sesWebhookPayload is the subset of the SES event notification we consume.
type sesWebhookPayload struct {
	EventType  string `json:"eventType"`
	CampaignID string `json:"campaignId"`
	Mail       struct {
		Destination []string `json:"destination"`
	} `json:"mail"`
	Bounce struct {
		BounceType string `json:"bounceType"`
	} `json:"bounce"`
}

// handleSESWebhook applies delivery and bounce notifications to recipient
// rows. Events for unknown recipients are acknowledged and dropped so SES
// does not retry them forever.
func (s *Server) handleSESWebhook(w http.ResponseWriter, r *http.Request) {
	var payload sesWebhookPayload
	if !httputil.Decode(w, r, &payload) {
		return
	}

	campaignID, err := uuid.Parse(payload.CampaignID)
	if err != nil || len(payload.Mail.Destination) == 0 {
		httputil.OK(w, map[string]any{"ignored": true})
		return
	}

	email := payload.Mail.Destination[0]
	recipient, err := s.store.RecipientByEmail(r.Context(), campaignID, email)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if recipient == nil {
		httputil.OK(w, map[string]any{"ignored": true})
		return
	}

	switch payload.EventType {
	case "Delivery":
		err = s.store.MarkDelivered(r.Context(), campaignID, recipient.ID)
	case "Bounce":
		err = s.store.MarkBounced(r.Context(), campaignID, recipient.ID, payload.Bounce.BounceType)
	default:
		httputil.OK(w, map[string]any{"ignored": true})
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"processed": payload.EventType})
}
