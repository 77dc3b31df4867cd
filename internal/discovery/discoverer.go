package discovery

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/YonghoLee79/saramjobhunter/internal/domain"
	"github.com/YonghoLee79/saramjobhunter/internal/driver"
	"github.com/YonghoLee79/saramjobhunter/internal/governor"
	"github.com/YonghoLee79/saramjobhunter/internal/metrics"
)

// Config controls search and pagination.
type Config struct {
	SearchURL string
	PageSize  int
	MaxPages  int
	// Listing selectors locate posting anchors; the first selector with any match is used.
	Listing []driver.Selector
	// HrefMarkers keep only anchors whose href contains one of them.
	HrefMarkers []string
	ElementWait time.Duration
	PageDelay   governor.Range
}

// DefaultListingSelectors locate posting anchors on Saramin search results.
func DefaultListingSelectors() []driver.Selector {
	return driver.ParseSelectors([]string{
		".item_recruit .job_tit a",
		".recruit_info .job_tit a",
		".list_item .area_job .job_tit a",
	})
}

// Discoverer lists postings for a keyword page by page.
type Discoverer struct {
	cfg     Config
	sleeper governor.Sleeper
	logger  *zap.Logger
}

// NewDiscoverer creates a discoverer.
func NewDiscoverer(cfg Config, sleeper governor.Sleeper, logger *zap.Logger) *Discoverer {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 5
	}
	if len(cfg.HrefMarkers) == 0 {
		cfg.HrefMarkers = []string{"/zf_user/jobs/relay/", "recruit"}
	}
	return &Discoverer{cfg: cfg, sleeper: sleeper, logger: logger}
}

// ListPostings fetches one result page and returns its unique references in page order.
func (d *Discoverer) ListPostings(ctx context.Context, sess driver.Session, q Query, page int) ([]domain.PostingRef, error) {
	searchURL := BuildSearchURL(d.cfg.SearchURL, q, d.cfg.PageSize, page)
	if err := sess.Navigate(ctx, searchURL); err != nil {
		return nil, fmt.Errorf("open search page %d: %w", page, err)
	}
	if err := sess.WaitReady(ctx); err != nil {
		return nil, fmt.Errorf("wait search page %d: %w", page, err)
	}
	if err := governor.Pause(ctx, d.sleeper, d.cfg.PageDelay); err != nil {
		return nil, err
	}

	anchors, matched, err := driver.LocateAll(ctx, sess, d.cfg.Listing, d.cfg.ElementWait)
	if err != nil {
		return nil, fmt.Errorf("locate listings: %w", err)
	}
	if len(anchors) == 0 {
		return nil, nil
	}
	d.logger.Debug("Listing anchors found",
		zap.String("keyword", q.Keyword),
		zap.Int("page", page),
		zap.String("selector", matched.String()),
		zap.Int("count", len(anchors)),
	)

	base, _ := url.Parse(searchURL)
	seen := make(map[string]bool)
	var refs []domain.PostingRef
	for _, a := range anchors {
		href, ok, err := a.Attr(ctx, "href")
		if err != nil || !ok || !d.acceptHref(href) {
			continue
		}
		abs := resolve(base, href)
		if seen[abs] {
			continue
		}
		seen[abs] = true
		refs = append(refs, domain.NewPostingRef(abs))
	}
	metrics.PostingsDiscovered.Add(float64(len(refs)))
	return refs, nil
}

// Discover walks result pages for q and hands each new reference to yield
// until yield returns false, remaining reports zero, the page limit is reached
// or a page comes back empty. Every reference on a page is offered before the
// next page is fetched. q.MaxPages overrides the configured page limit. A page
// error abandons the keyword.
func (d *Discoverer) Discover(
	ctx context.Context,
	sess driver.Session,
	q Query,
	remaining func() int,
	yield func(domain.PostingRef) bool,
) error {
	maxPages := d.cfg.MaxPages
	if q.MaxPages > 0 {
		maxPages = q.MaxPages
	}

	seen := make(map[string]bool)
	for page := 1; page <= maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if remaining() <= 0 {
			return nil
		}

		refs, err := d.ListPostings(ctx, sess, q, page)
		if err != nil {
			return err
		}
		if len(refs) == 0 {
			d.logger.Info("No more postings", zap.String("keyword", q.Keyword), zap.Int("page", page))
			return nil
		}

		for _, ref := range refs {
			if seen[ref.ID] {
				continue
			}
			seen[ref.ID] = true
			if remaining() <= 0 || !yield(ref) {
				return nil
			}
		}
	}
	return nil
}

func (d *Discoverer) acceptHref(href string) bool {
	if href == "" || strings.HasPrefix(href, "javascript:") {
		return false
	}
	for _, m := range d.cfg.HrefMarkers {
		if strings.Contains(href, m) {
			return true
		}
	}
	return false
}

func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil || base == nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
