package catalog

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"catalog-scraper/internal/components/chrono"
	"catalog-scraper/internal/components/telemetry"
	"catalog-scraper/lib/testutil"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const seedUrl = "https://shop.example/offers/noutbuki/"

type fakeLister struct {
	mutex  sync.Mutex
	pages  map[string]PageResult
	called []string
}

func (f *fakeLister) ParseListing(ctx context.Context, url string) (PageResult, error) {
	f.mutex.Lock()
	f.called = append(f.called, url)
	f.mutex.Unlock()

	if err := ctx.Err(); err != nil {
		return PageResult{}, err
	}
	page, ok := f.pages[url]
	if !ok {
		return PageResult{Cursor: Cursor{Kind: CURSOR_FETCH_FAILED}}, nil
	}
	return page, nil
}

type memorySink struct {
	calls   int
	records []ProductRecord
	columns []string
}

func (s *memorySink) WriteDataset(ctx context.Context, records []ProductRecord, columns []string) error {
	s.calls++
	s.records = records
	s.columns = columns
	return nil
}

type crawlFixture struct {
	lister  *fakeLister
	sink    *memorySink
	clock   *chrono.FakeImpl
	tel     *telemetry.Recorder
	crawler *Crawler
}

func newCrawlFixture(t testing.TB, pages map[string]PageResult, opts CrawlerOptions) crawlFixture {
	f := crawlFixture{
		lister: &fakeLister{pages: pages},
		sink:   &memorySink{},
		clock:  chrono.NewFakeImpl(time.Date(2024, time.July, 1, 12, 0, 0, 0, time.UTC)),
		tel:    &telemetry.Recorder{},
	}
	if opts.SeedURL == "" {
		opts.SeedURL = seedUrl
	}
	opts.Clock = f.clock
	opts.Sink = f.sink

	crawler, err := NewCrawler(f.lister, opts, f.tel)
	if err != nil {
		t.Fatal(err)
	}
	crawler.jitter = func() float64 { return 0.5 }
	f.crawler = crawler
	return f
}

func pageUrl(n string) string {
	return seedUrl + "?PAGEN_1=" + n
}

func TestCrawlFollowsNextLinkUntilEnd(t *testing.T) {
	pages := map[string]PageResult{
		seedUrl: {
			Records: []ProductRecord{
				NewProductRecord(FieldID, "1", FieldOldPrice, "10", FieldCurrentPrice, "9"),
				NewProductRecord(FieldID, "2", FieldOldPrice, "20", FieldCurrentPrice, "19"),
				NewProductRecord(FieldID, "3"),
			},
			Cursor: NextCursor(pageUrl("2")),
		},
		pageUrl("2"): {
			Records: []ProductRecord{NewProductRecord(FieldID, "4")},
			Cursor:  Cursor{Kind: CURSOR_END},
		},
	}
	f := newCrawlFixture(t, pages, CrawlerOptions{})

	result, err := f.crawler.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, STATE_TERMINATED_NO_NEXT, result.State)
	require.Equal(t, 2, result.Pages)
	require.Equal(t, []string{seedUrl, pageUrl("2")}, f.lister.called)
	require.Len(t, result.Records, 4)
	require.NotEmpty(t, result.RunID)

	// default delay range is [2s, 6s], jitter is pinned to the middle
	require.Equal(t, []time.Duration{4 * time.Second}, f.clock.Sleeps())
	require.Equal(t, 4*time.Second, result.Duration())

	require.Equal(t, 1, f.sink.calls)
	require.Len(t, f.sink.records, 4)
	require.Equal(t, []string{FieldID, FieldOldPrice, FieldCurrentPrice}, f.sink.columns)
}

func TestCrawlStopsAtPageLimit(t *testing.T) {
	pages := map[string]PageResult{
		seedUrl: {
			Records: []ProductRecord{NewProductRecord(FieldID, "1")},
			Cursor:  NextCursor(pageUrl("2")),
		},
		pageUrl("2"): {
			Records: []ProductRecord{NewProductRecord(FieldID, "2")},
			Cursor:  Cursor{Kind: CURSOR_END},
		},
	}
	f := newCrawlFixture(t, pages, CrawlerOptions{MaxPages: 1})

	result, err := f.crawler.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, STATE_TERMINATED_PAGE_LIMIT, result.State)
	require.Equal(t, []string{seedUrl}, f.lister.called)
	require.Len(t, result.Records, 1)
	require.Empty(t, f.clock.Sleeps())
	require.Len(t, f.sink.records, 1)
	require.Empty(t, f.tel.Filter(telemetry.LevelBroken, ""))
}

func TestCrawlFetchFailureOnSeed(t *testing.T) {
	f := newCrawlFixture(t, map[string]PageResult{}, CrawlerOptions{})

	result, err := f.crawler.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, STATE_TERMINATED_FETCH_FAILED, result.State)
	require.Empty(t, result.Records)
	require.Empty(t, result.Columns)
	require.Len(t, f.tel.Filter(telemetry.LevelBroken, report_crawler_page), 1)
	require.Equal(t, 1, f.sink.calls)
	require.Empty(t, f.sink.records)
}

func TestCrawlRegistryEqualsKeyUnion(t *testing.T) {
	pages := map[string]PageResult{
		seedUrl: {
			Records: []ProductRecord{
				NewProductRecord(FieldID, "1", "RAM", "8 GB"),
				NewProductRecord(FieldID, "2", "Screen", "14\""),
			},
			Cursor: NextCursor(pageUrl("2")),
		},
		pageUrl("2"): {
			Records: []ProductRecord{
				NewProductRecord("GPU", "RTX 4050", FieldID, "3", "RAM", "16 GB"),
			},
			Cursor: NextCursor(pageUrl("3")),
		},
		pageUrl("3"): {
			Records: nil,
			Cursor:  Cursor{Kind: CURSOR_END},
		},
	}
	f := newCrawlFixture(t, pages, CrawlerOptions{})

	result, err := f.crawler.Run(context.Background())
	require.NoError(t, err)

	union := map[string]struct{}{}
	for _, rec := range result.Records {
		for _, k := range rec.Keys() {
			union[k] = struct{}{}
		}
	}
	var expected []string
	for k := range union {
		expected = append(expected, k)
	}
	sort.Strings(expected)

	got := append([]string{}, result.Columns...)
	sort.Strings(got)
	if diff := cmp.Diff(expected, got); diff != "" {
		t.Fatal(diff)
	}
	require.Equal(t, []string{FieldID, "RAM", "Screen", "GPU"}, result.Columns)
}

func TestCrawlDetectsPaginationLoop(t *testing.T) {
	pages := map[string]PageResult{
		seedUrl: {
			Records: []ProductRecord{NewProductRecord(FieldID, "1")},
			Cursor:  NextCursor(pageUrl("2")),
		},
		pageUrl("2"): {
			Records: []ProductRecord{NewProductRecord(FieldID, "2")},
			Cursor:  NextCursor(seedUrl + "#top"),
		},
	}
	f := newCrawlFixture(t, pages, CrawlerOptions{})

	result, err := f.crawler.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, STATE_TERMINATED_NO_NEXT, result.State)
	require.Equal(t, []string{seedUrl, pageUrl("2")}, f.lister.called)
	require.Len(t, f.tel.Filter(telemetry.LevelWarning, report_crawler_page), 1)
}

func TestCrawlCancelledDuringDelayStillFlushes(t *testing.T) {
	pages := map[string]PageResult{
		seedUrl: {
			Records: []ProductRecord{NewProductRecord(FieldID, "1")},
			Cursor:  NextCursor(pageUrl("2")),
		},
	}
	f := newCrawlFixture(t, pages, CrawlerOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.clock.OnSleep = func(time.Duration) { cancel() }

	result, err := f.crawler.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, STATE_TERMINATED_CANCELLED, result.State)
	require.Equal(t, []string{seedUrl}, f.lister.called)
	require.Equal(t, 1, f.sink.calls)
	require.Len(t, f.sink.records, 1)
}

func TestCrawlRespectsRobots(t *testing.T) {
	policy, err := ParseRobots(http.StatusOK, []byte("User-agent: *\nDisallow: /offers/\n"), "catalog-scraper")
	require.NoError(t, err)
	f := newCrawlFixture(t, map[string]PageResult{}, CrawlerOptions{Robots: policy})

	result, err := f.crawler.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, STATE_TERMINATED_NO_NEXT, result.State)
	require.Empty(t, f.lister.called)
}

func TestCrawlDelayRespectsCrawlDelay(t *testing.T) {
	policy, err := ParseRobots(http.StatusOK, []byte("User-agent: *\nCrawl-delay: 10\n"), "catalog-scraper")
	require.NoError(t, err)

	pages := map[string]PageResult{
		seedUrl:      {Cursor: NextCursor(pageUrl("2"))},
		pageUrl("2"): {Cursor: Cursor{Kind: CURSOR_END}},
	}
	f := newCrawlFixture(t, pages, CrawlerOptions{Robots: policy})

	_, err = f.crawler.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []time.Duration{10 * time.Second}, f.clock.Sleeps())
}

func TestCrawlNoDelay(t *testing.T) {
	pages := map[string]PageResult{
		seedUrl:      {Cursor: NextCursor(pageUrl("2"))},
		pageUrl("2"): {Cursor: NextCursor(pageUrl("3"))},
		pageUrl("3"): {Cursor: Cursor{Kind: CURSOR_END}},
	}
	f := newCrawlFixture(t, pages, CrawlerOptions{NoDelay: true})

	result, err := f.crawler.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, STATE_TERMINATED_NO_NEXT, result.State)
	require.Equal(t, 3, result.Pages)
	require.Empty(t, f.clock.Sleeps())
}

func TestCrawlNoDelayKeepsCrawlDelay(t *testing.T) {
	policy, err := ParseRobots(http.StatusOK, []byte("User-agent: *\nCrawl-delay: 3\n"), "catalog-scraper")
	require.NoError(t, err)

	pages := map[string]PageResult{
		seedUrl:      {Cursor: NextCursor(pageUrl("2"))},
		pageUrl("2"): {Cursor: Cursor{Kind: CURSOR_END}},
	}
	f := newCrawlFixture(t, pages, CrawlerOptions{NoDelay: true, Robots: policy})

	_, err = f.crawler.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []time.Duration{3 * time.Second}, f.clock.Sleeps())
}

func TestNewCrawlerValidatesOptions(t *testing.T) {
	testCases := []struct {
		name string
		opts CrawlerOptions
	}{
		{name: "relative seed", opts: CrawlerOptions{SeedURL: "/offers/"}},
		{name: "negative pages", opts: CrawlerOptions{SeedURL: seedUrl, MaxPages: -1}},
		{name: "inverted delay", opts: CrawlerOptions{SeedURL: seedUrl, DelayMin: time.Second, DelayMax: time.Millisecond}},
		{name: "negative delay", opts: CrawlerOptions{SeedURL: seedUrl, DelayMin: -time.Second, DelayMax: time.Second}},
	}

	for _, test := range testCases {
		_, err := NewCrawler(&fakeLister{}, test.opts, &telemetry.Recorder{})
		require.Error(t, err, test.name)
	}
}

func TestCrawlChallengeOnEveryAttempt(t *testing.T) {
	server := testutil.NewServer(t)
	server.Route("/offers/", testutil.HTML(challengePage()))

	fetcher, clock, tel := newTestFetcher(t, 3)
	scraper := NewScraper(fetcher, ScraperOptions{}, tel)
	sink := &memorySink{}
	crawler, err := NewCrawler(scraper, CrawlerOptions{
		SeedURL: server.Path("/offers/"),
		Clock:   clock,
		Sink:    sink,
	}, tel)
	require.NoError(t, err)

	result, err := crawler.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, STATE_TERMINATED_FETCH_FAILED, result.State)
	require.Empty(t, result.Records)
	require.Equal(t, 3, server.Hits("/offers/"))
	require.Len(t, tel.Filter(telemetry.LevelBroken, report_crawler_page), 1)
	require.Empty(t, sink.records)
}

func TestCrawlAgainstServer(t *testing.T) {
	partial := completeCard("S-3")
	partial.currentPrice = ""

	server := testutil.NewServer(t)
	server.Route("/offers/", testutil.HTML(renderListing(
		"Laptops",
		"/offers/?PAGEN_1=2",
		completeCard("S-1"),
		completeCard("S-2"),
		partial,
	)))
	server.Route("/offers/?PAGEN_1=2", testutil.HTML(renderListing(
		"Laptops - page 2",
		"",
		completeCard("S-4"),
	)))

	fetcher, clock, tel := newTestFetcher(t, 2)
	scraper := NewScraper(fetcher, ScraperOptions{}, tel)
	sink := &memorySink{}
	crawler, err := NewCrawler(scraper, CrawlerOptions{
		SeedURL:  server.Path("/offers/"),
		DelayMin: time.Second,
		DelayMax: time.Second,
		Clock:    clock,
		Sink:     sink,
	}, tel)
	require.NoError(t, err)

	result, err := crawler.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, STATE_TERMINATED_NO_NEXT, result.State)
	require.Equal(t, 2, result.Pages)
	require.Len(t, result.Records, 4)
	_, hasPrice := result.Records[2].Get(FieldOldPrice)
	require.False(t, hasPrice)
	require.Equal(t, []time.Duration{time.Second}, clock.Sleeps())
	require.Equal(t, 1, server.Hits("/offers/?PAGEN_1=2"))
}
