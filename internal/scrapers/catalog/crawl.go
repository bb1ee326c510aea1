package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"catalog-scraper/internal/components/assert"
	"catalog-scraper/internal/components/chrono"
	"catalog-scraper/internal/components/telemetry"

	"github.com/PuerkitoBio/purell"
	random "github.com/mazen160/go-random"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	report_crawler_run  = "crawler.run"
	report_crawler_page = "crawler.page"
)

const (
	DefaultMaxPages = 100
	DefaultDelayMin = 2 * time.Second
	DefaultDelayMax = 6 * time.Second
)

// Lister parses one listing page.
//
// note: fault injection point
type Lister interface {
	ParseListing(ctx context.Context, url string) (PageResult, error)
}

// Sink receives the dataset of a finished crawl.
type Sink interface {
	WriteDataset(ctx context.Context, records []ProductRecord, columns []string) error
}

type CrawlerOptions struct {
	SeedURL string
	// the crawl stops after this many pages even if there are more
	MaxPages int
	// the pause between two pages is drawn uniformly from [DelayMin, DelayMax],
	// a zero range means DefaultDelayMin and DefaultDelayMax unless NoDelay
	DelayMin time.Duration
	DelayMax time.Duration
	// keeps a zero range as is, a robots.txt Crawl-delay still applies
	NoDelay bool

	Clock chrono.API
	// nil allows every url
	Robots *RobotsPolicy
	// nil skips writing the dataset
	Sink Sink
}

// Crawler walks the pagination chain of a catalog from a seed url, one page
// at a time.
type Crawler struct {
	lister Lister
	opts   CrawlerOptions
	tel    telemetry.API

	// returns a number in [0, 1), replaced in tests
	jitter func() float64
}

func NewCrawler(lister Lister, opts CrawlerOptions, tel telemetry.API) (*Crawler, error) {
	assert.NotNil(lister)
	assert.NotNil(tel)

	if _, err := validateURL(opts.SeedURL); err != nil {
		return nil, fmt.Errorf("seed url: %w", err)
	}
	if opts.MaxPages == 0 {
		opts.MaxPages = DefaultMaxPages
	}
	if opts.MaxPages < 0 {
		return nil, fmt.Errorf("max pages must be positive, got %d", opts.MaxPages)
	}
	if opts.DelayMin == 0 && opts.DelayMax == 0 && !opts.NoDelay {
		opts.DelayMin = DefaultDelayMin
		opts.DelayMax = DefaultDelayMax
	}
	if opts.DelayMin < 0 || opts.DelayMax < opts.DelayMin {
		return nil, fmt.Errorf("invalid delay range [%s, %s]", opts.DelayMin, opts.DelayMax)
	}
	if floor := opts.Robots.CrawlDelay(); floor > opts.DelayMin {
		opts.DelayMin = floor
		opts.DelayMax = max(opts.DelayMax, floor)
	}
	if opts.Clock == nil {
		opts.Clock = chrono.NewStandardImpl()
	}

	return &Crawler{
		lister: lister,
		opts:   opts,
		tel:    telemetry.NewScopedAPI("catalog_crawler", tel),
		jitter: rand.Float64,
	}, nil
}

func (c *Crawler) politenessDelay() time.Duration {
	spread := c.opts.DelayMax - c.opts.DelayMin
	return c.opts.DelayMin + time.Duration(c.jitter()*float64(spread))
}

// canonicalUrl is the form of a url used to detect pagination loops.
func canonicalUrl(rawUrl string) string {
	normalized, err := purell.NormalizeURLString(
		rawUrl,
		purell.FlagsSafe|purell.FlagRemoveFragment|purell.FlagSortQuery,
	)
	if err != nil {
		return rawUrl
	}
	return normalized
}

type crawlRun struct {
	result   CrawlResult
	current  string
	page     int
	visited  map[string]struct{}
	registry *FieldRegistry
	runAttr  slog.Attr
}

// Run crawls from the seed url until a terminal state is reached, then hands
// the collected records to the sink.
//
// Fetch failures end the crawl, they are not returned as errors. If ctx is
// cancelled the records collected so far are still written and ctx.Err() is
// returned along with the partial result.
func (c *Crawler) Run(ctx context.Context) (CrawlResult, error) {
	runId, err := random.String(8)
	if err != nil {
		return CrawlResult{}, fmt.Errorf("generate run id: %w", err)
	}

	ctx, span := tracer.Start(ctx, "Crawl")
	defer span.End()
	span.SetAttributes(
		attribute.String("run_id", runId),
		attribute.String("seed", c.opts.SeedURL),
	)

	run := &crawlRun{
		result: CrawlResult{
			RunID:     runId,
			State:     STATE_RUNNING,
			StartedAt: c.opts.Clock.Now(),
		},
		current:  c.opts.SeedURL,
		page:     1,
		visited:  map[string]struct{}{canonicalUrl(c.opts.SeedURL): {}},
		registry: NewFieldRegistry(),
		runAttr:  slog.String("run_id", runId),
	}

	c.tel.ReportInfo("crawl started", run.runAttr, slog.String("seed", c.opts.SeedURL), slog.Int("max_pages", c.opts.MaxPages))
	for !run.result.State.Terminal() {
		run.result.State = c.step(ctx, run)
	}

	run.result.Columns = run.registry.Columns()
	run.result.FinishedAt = c.opts.Clock.Now()

	c.tel.ReportInfo(
		"crawl finished",
		run.runAttr,
		slog.String("state", run.result.State.String()),
		slog.Int("pages", run.result.Pages),
		slog.Int("records", len(run.result.Records)),
		slog.Int("columns", len(run.result.Columns)),
		slog.Duration("duration", run.result.Duration()),
	)
	span.SetAttributes(
		attribute.String("state", run.result.State.String()),
		attribute.Int("records", len(run.result.Records)),
	)

	var errs []error
	if c.opts.Sink != nil {
		// a cancelled crawl still flushes what it has
		err := c.opts.Sink.WriteDataset(context.WithoutCancel(ctx), run.result.Records, run.result.Columns)
		if err != nil {
			c.tel.ReportBroken(report_crawler_run, fmt.Errorf("write dataset: %w", err), run.runAttr)
			errs = append(errs, fmt.Errorf("write dataset: %w", err))
		}
	}
	if run.result.State == STATE_TERMINATED_CANCELLED {
		errs = append(errs, ctx.Err())
	}

	err = errors.Join(errs...)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return run.result, err
}

// step processes the current page and returns the state the crawl is in
// afterwards.
func (c *Crawler) step(ctx context.Context, run *crawlRun) State {
	if ctx.Err() != nil {
		return STATE_TERMINATED_CANCELLED
	}

	if !c.opts.Robots.Allowed(run.current) {
		c.tel.ReportWarning(
			report_crawler_page,
			fmt.Errorf("%w: %s", ErrDisallowed, run.current),
			run.runAttr,
		)
		return STATE_TERMINATED_NO_NEXT
	}

	c.tel.ReportInfo("crawling page", run.runAttr, slog.Int("page", run.page), slog.String("url", run.current))
	pageResult, err := c.lister.ParseListing(ctx, run.current)
	if err != nil {
		if ctx.Err() != nil {
			return STATE_TERMINATED_CANCELLED
		}
		c.tel.ReportBroken(
			report_crawler_page,
			fmt.Errorf("parse listing: %w", err),
			run.runAttr,
			slog.String("url", run.current),
		)
		return STATE_TERMINATED_FETCH_FAILED
	}

	run.result.Pages = run.page
	run.result.Records = append(run.result.Records, pageResult.Records...)
	run.registry.Add(pageResult.Fields()...)
	pagesCrawled.Add(ctx, 1)
	recordsExtracted.Add(ctx, int64(len(pageResult.Records)))
	c.tel.ReportCount(report_crawler_page, int64(len(pageResult.Records)))

	switch pageResult.Cursor.Kind {
	case CURSOR_END:
		c.tel.ReportInfo("next page was not found", run.runAttr, slog.Int("page", run.page))
		return STATE_TERMINATED_NO_NEXT
	case CURSOR_FETCH_FAILED:
		c.tel.ReportBroken(
			report_crawler_page,
			fmt.Errorf("page %d: %w", run.page, ErrFetchExhausted),
			run.runAttr,
			slog.String("url", run.current),
		)
		return STATE_TERMINATED_FETCH_FAILED
	}

	next := pageResult.Cursor.URL
	if run.page+1 > c.opts.MaxPages {
		c.tel.ReportInfo("page limit reached", run.runAttr, slog.Int("max_pages", c.opts.MaxPages), slog.String("next", next))
		return STATE_TERMINATED_PAGE_LIMIT
	}
	key := canonicalUrl(next)
	if _, seen := run.visited[key]; seen {
		c.tel.ReportWarning(
			report_crawler_page,
			fmt.Errorf("pagination loops back to %s", next),
			run.runAttr,
		)
		return STATE_TERMINATED_NO_NEXT
	}
	run.visited[key] = struct{}{}

	delay := c.politenessDelay()
	if delay > 0 {
		err = c.opts.Clock.Sleep(ctx, delay)
	} else {
		err = ctx.Err()
	}
	if err != nil {
		return STATE_TERMINATED_CANCELLED
	}
	run.current = next
	run.page++
	return STATE_RUNNING
}
