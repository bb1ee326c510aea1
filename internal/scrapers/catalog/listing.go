package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"catalog-scraper/internal/components/assert"
	"catalog-scraper/internal/components/telemetry"
	"catalog-scraper/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	report_scraper_parse_listing = "scraper.parse-listing"
)

const DefaultConcurrency = 16

// DocumentFetcher is what the scraper needs out of a Fetcher.
//
// note: fault injection point
type DocumentFetcher interface {
	FetchDocument(ctx context.Context, url string) (*goquery.Document, error)
}

type ScraperOptions struct {
	Selectors Selectors
	// maximum number of cards extracted at once within a page
	Concurrency int
}

// Scraper turns one listing page into records and a pagination cursor.
type Scraper struct {
	fetcher     DocumentFetcher
	selectors   Selectors
	concurrency int
	tel         telemetry.API
}

func NewScraper(fetcher DocumentFetcher, opts ScraperOptions, tel telemetry.API) *Scraper {
	assert.NotNil(fetcher)
	assert.NotNil(tel)

	if opts.Selectors == (Selectors{}) {
		opts.Selectors = DefaultSelectors
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}

	return &Scraper{
		fetcher:     fetcher,
		selectors:   opts.Selectors,
		concurrency: opts.Concurrency,
		tel:         telemetry.NewScopedAPI("catalog_scraper", tel),
	}
}

// ParseListing fetches and parses the listing page at pageUrl.
//
// A page that could not be fetched is not an error, it results in no
// records and a CURSOR_FETCH_FAILED cursor. Errors are returned only for
// an invalid pageUrl (ErrInvalidURL) and for ctx.Err().
func (s *Scraper) ParseListing(ctx context.Context, pageUrl string) (PageResult, error) {
	ctx, span := tracer.Start(ctx, "ParseListing", trace.WithAttributes(
		attribute.String("url", pageUrl),
	))
	defer span.End()

	_, err := validateURL(pageUrl)
	if err != nil {
		return PageResult{}, err
	}

	doc, err := s.fetcher.FetchDocument(ctx, pageUrl)
	if err != nil {
		if ctx.Err() != nil {
			return PageResult{}, ctx.Err()
		}
		s.tel.ReportWarning(
			report_scraper_parse_listing,
			fmt.Errorf("fetch: %w", err),
			slog.String("url", pageUrl),
		)
		return PageResult{Cursor: Cursor{Kind: CURSOR_FETCH_FAILED}}, nil
	}

	result := s.ParseDocument(pageUrl, doc)
	span.SetAttributes(
		attribute.Int("records", len(result.Records)),
		attribute.String("cursor", result.Cursor.Kind.String()),
	)
	return result, nil
}

// ParseDocument extracts every card of an already fetched listing page.
// Cards are extracted concurrently, the records keep document order.
func (s *Scraper) ParseDocument(pageUrl string, doc *goquery.Document) PageResult {
	cards := doc.Find(s.selectors.Card)
	extracted := make([]ProductRecord, cards.Length())

	var group errgroup.Group
	group.SetLimit(s.concurrency)
	cards.Each(func(i int, card *goquery.Selection) {
		group.Go(func() error {
			extracted[i] = s.selectors.ExtractItem(card)
			return nil
		})
	})
	// extraction never fails
	_ = group.Wait()

	records := make([]ProductRecord, 0, len(extracted))
	for _, rec := range extracted {
		if rec.Empty() {
			continue
		}
		records = append(records, rec)
	}
	if discarded := len(extracted) - len(records); discarded > 0 {
		s.tel.ReportDebug("discarded empty cards", slog.Int("count", discarded), slog.String("url", pageUrl))
	}

	return PageResult{
		Records: records,
		Cursor:  s.nextCursor(pageUrl, doc),
	}
}

func (s *Scraper) nextCursor(pageUrl string, doc *goquery.Document) Cursor {
	href, ok := doc.Find(s.selectors.Next).First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return Cursor{Kind: CURSOR_END}
	}

	current, err := url.Parse(pageUrl)
	if err != nil {
		current = nil
	}
	next, err := htmlutil.ResolveHref(htmlutil.DocumentBase(doc, current), href)
	if err != nil {
		s.tel.ReportWarning(
			report_scraper_parse_listing,
			fmt.Errorf("resolve next page link: %w", err),
			slog.String("href", href),
		)
		return Cursor{Kind: CURSOR_END}
	}
	if _, err := validateURL(next.String()); err != nil {
		s.tel.ReportWarning(
			report_scraper_parse_listing,
			fmt.Errorf("next page link: %w", err),
			slog.String("href", href),
		)
		return Cursor{Kind: CURSOR_END}
	}
	return NextCursor(next.String())
}
