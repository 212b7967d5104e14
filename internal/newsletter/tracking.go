package newsletter

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/ignite/newsletter-platform/internal/pkg/logger"
)

// PixelGIF is the fixed 1x1 transparent GIF served by the open tracker.
// Identical bytes on every call, whether or not the bookkeeping succeeded.
var PixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// DayCounter records best-effort ephemeral tallies. A nil counter is valid
// and disables counting; tracking must never depend on Redis being up.
type DayCounter interface {
	IncrDaily(ctx context.Context, name string)
}

// TrackingService mutates recipient state as a side effect of pixel and
// redirect fetches. Every public method is fail-soft: bookkeeping errors are
// logged and swallowed so the user-facing pixel/redirect always works.
type TrackingService struct {
	store           *Store
	counters        DayCounter
	baseURL         string
	defaultRedirect string
}

// NewTrackingService creates a tracking service. counters may be nil.
func NewTrackingService(store *Store, counters DayCounter, baseURL, defaultRedirect string) *TrackingService {
	return &TrackingService{
		store:           store,
		counters:        counters,
		baseURL:         strings.TrimRight(baseURL, "/"),
		defaultRedirect: defaultRedirect,
	}
}

// BuildOpenURL returns the pixel URL embedded in outgoing emails.
func (ts *TrackingService) BuildOpenURL(campaignID, recipientID uuid.UUID) string {
	return fmt.Sprintf("%s/newsletter/track/open?c=%s&r=%s", ts.baseURL, campaignID, recipientID)
}

// BuildClickURL returns the redirect URL wrapping a destination link.
func (ts *TrackingService) BuildClickURL(campaignID, recipientID uuid.UUID, destination string) string {
	return fmt.Sprintf("%s/newsletter/track/click?c=%s&r=%s&u=%s",
		ts.baseURL, campaignID, recipientID, url.QueryEscape(destination))
}

// InjectTracking rewrites hrefs through the click redirect and appends the
// open pixel to campaign HTML.
func (ts *TrackingService) InjectTracking(html string, campaignID, recipientID uuid.UUID) string {
	html = ts.RewriteLinks(html, campaignID, recipientID)
	pixel := fmt.Sprintf(`<img src="%s" width="1" height="1" style="display:none" />`,
		ts.BuildOpenURL(campaignID, recipientID))
	if strings.Contains(html, "</body>") {
		return strings.Replace(html, "</body>", pixel+"</body>", 1)
	}
	return html + pixel
}

var hrefRegex = regexp.MustCompile(`href="(https?://[^"]+)"`)

// RewriteLinks replaces http(s) hrefs with click-tracker URLs carrying the
// original destination. Mailto and anchor links are left alone.
func (ts *TrackingService) RewriteLinks(html string, campaignID, recipientID uuid.UUID) string {
	return hrefRegex.ReplaceAllStringFunc(html, func(match string) string {
		dest := hrefRegex.FindStringSubmatch(match)[1]
		// Never double-wrap our own tracking URLs.
		if strings.HasPrefix(dest, ts.baseURL+"/newsletter/track/") {
			return match
		}
		return fmt.Sprintf(`href="%s"`, ts.BuildClickURL(campaignID, recipientID, dest))
	})
}

// MarkOpened records an open. First-open-wins: the conditional update only
// fires when opened_at is still null, and the opened event is appended only
// when this call won the race. Errors are swallowed by contract.
func (ts *TrackingService) MarkOpened(ctx context.Context, campaignID, recipientID uuid.UUID) {
	res, err := ts.store.db.ExecContext(ctx,
		`UPDATE newsletter_recipients SET opened_at = NOW(), status = 'opened'
		WHERE id = $1 AND campaign_id = $2 AND opened_at IS NULL`,
		recipientID, campaignID)
	if err != nil {
		logger.Warn("open tracking update failed", "campaign", campaignID, "error", err)
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		if err := ts.store.AppendEvent(ctx, campaignID, recipientID, EventOpened, nil); err != nil {
			logger.Warn("open event append failed", "campaign", campaignID, "error", err)
		}
	}
	if ts.counters != nil {
		ts.counters.IncrDaily(ctx, "opens")
	}
}

// MarkClicked records a click. The clicked_at stamp is first-click-wins, but
// an event row is appended for every observed click.
func (ts *TrackingService) MarkClicked(ctx context.Context, campaignID, recipientID uuid.UUID, destination string) {
	_, err := ts.store.db.ExecContext(ctx,
		`UPDATE newsletter_recipients SET clicked_at = NOW(), status = 'clicked'
		WHERE id = $1 AND campaign_id = $2 AND clicked_at IS NULL`,
		recipientID, campaignID)
	if err != nil {
		logger.Warn("click tracking update failed", "campaign", campaignID, "error", err)
		return
	}
	meta := JSON{"url": destination}
	if err := ts.store.AppendEvent(ctx, campaignID, recipientID, EventClicked, meta); err != nil {
		logger.Warn("click event append failed", "campaign", campaignID, "error", err)
	}
	if ts.counters != nil {
		ts.counters.IncrDaily(ctx, "clicks")
	}
}

// ResolveRedirect validates a click destination. Only http and https targets
// are honored; anything else (missing, malformed, javascript:, data:, ...)
// falls back to the configured default so the endpoint cannot redirect into
// arbitrary schemes. It does not allowlist domains.
func (ts *TrackingService) ResolveRedirect(raw string) string {
	if raw == "" {
		return ts.defaultRedirect
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ts.defaultRedirect
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ts.defaultRedirect
	}
	if u.Host == "" {
		return ts.defaultRedirect
	}
	return raw
}

// WritePixel serves the tracking GIF with caching disabled so mail clients
// re-fetch on every render instead of poisoning analytics with cached hits.
func WritePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(PixelGIF)
}
