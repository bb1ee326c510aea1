package catalog

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"catalog-scraper/internal/components/assert"
	"catalog-scraper/internal/components/chrono"
	"catalog-scraper/internal/components/telemetry"
	"catalog-scraper/lib/htmlutil"
	"catalog-scraper/lib/restyutil"
	libtelemetry "catalog-scraper/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	report_fetcher_fetch        = "fetcher.fetch"
	report_fetcher_fetch_robots = "fetcher.fetch-robots"
)

// DefaultHeaders mimic a desktop Chrome on Windows.
var DefaultHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Accept-Language": "en-US,en;q=0.9",
	"Accept-Encoding": "gzip, deflate, br",
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,image/apng,*/*;q=0.8",
	"Connection":      "keep-alive",
	"DNT":             "1",
}

const (
	DefaultMaxRetries     = 10
	DefaultBackoffUnit    = time.Second
	DefaultMaxBackoff     = time.Minute
	DefaultChallengeTitle = "Robot Check"
	DefaultTimeout        = 30 * time.Second
)

type FetcherOptions struct {
	// Headers are set over DefaultHeaders, a header with an empty value
	// removes the default.
	Headers map[string]string
	// MaxRetries is the number of attempts made per url, at least 1.
	MaxRetries int
	// attempt n (0-indexed) that fails sleeps BackoffUnit * 2^n, capped at MaxBackoff
	BackoffUnit time.Duration
	MaxBackoff  time.Duration
	// responses whose <title> is exactly this are treated as soft failures
	ChallengeTitle string
	Timeout        time.Duration
	// 0 disables rate limiting
	RequestsPerSecond float64

	Clock chrono.API
	// if set, every request/response pair is dumped to it
	DumpOutput restyutil.InstrumentOutput
}

func (o FetcherOptions) withDefaults() FetcherOptions {
	if o.BackoffUnit <= 0 {
		o.BackoffUnit = DefaultBackoffUnit
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = DefaultMaxBackoff
	}
	if o.ChallengeTitle == "" {
		o.ChallengeTitle = DefaultChallengeTitle
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Clock == nil {
		o.Clock = chrono.NewStandardImpl()
	}
	return o
}

// Fetcher gets listing pages, retrying soft failures with exponential backoff.
// It is safe for concurrent use, all calls share one connection pool.
type Fetcher struct {
	http    *resty.Client
	headers map[string]string
	opts    FetcherOptions
	tel     telemetry.API
}

func NewFetcher(opts FetcherOptions, tel telemetry.API) (*Fetcher, error) {
	assert.NotNil(tel)
	if opts.MaxRetries < 1 {
		return nil, fmt.Errorf("max retries must be at least 1, got %d", opts.MaxRetries)
	}
	opts = opts.withDefaults()

	tel = telemetry.NewScopedAPI("catalog_fetcher", tel)

	headers := map[string]string{}
	for k, v := range DefaultHeaders {
		headers[k] = v
	}
	for k, v := range opts.Headers {
		if v == "" {
			delete(headers, k)
			continue
		}
		headers[k] = v
	}

	httpClient := resty.New()
	httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)
	httpClient.SetHeaders(headers)
	httpClient.SetTimeout(opts.Timeout)

	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		rateLimiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
		httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return rateLimiter.Wait(req.Context())
		})
	}

	telemetry.InstrumentResty(httpClient, tel)
	libtelemetry.InstrumentResty(httpClient, tracerName)
	restyutil.InstrumentClient(httpClient, opts.DumpOutput)

	return &Fetcher{
		http:    httpClient,
		headers: headers,
		opts:    opts,
		tel:     tel,
	}, nil
}

func validateURL(rawUrl string) (*url.URL, error) {
	parsed, err := url.Parse(rawUrl)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if !parsed.IsAbs() || parsed.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawUrl)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawUrl)
	}
	return parsed, nil
}

// backoff returns how long to sleep after the given (0-indexed) attempt failed.
func (f *Fetcher) backoff(attempt int) time.Duration {
	d := f.opts.BackoffUnit
	for i := 0; i < attempt; i++ {
		if d >= f.opts.MaxBackoff/2 {
			return f.opts.MaxBackoff
		}
		d *= 2
	}
	return min(d, f.opts.MaxBackoff)
}

type page struct {
	body string
	doc  *goquery.Document
}

// Fetch returns the HTML of the page at rawUrl.
//
// Non-200 statuses, bot challenge pages and transport errors are retried.
// Once every attempt has failed the error wraps ErrFetchExhausted. If ctx
// is done the error is ctx.Err().
func (f *Fetcher) Fetch(ctx context.Context, rawUrl string) (string, error) {
	p, err := f.fetch(ctx, rawUrl)
	if err != nil {
		return "", err
	}
	return p.body, nil
}

// FetchDocument is Fetch but it returns the parsed document.
func (f *Fetcher) FetchDocument(ctx context.Context, rawUrl string) (*goquery.Document, error) {
	p, err := f.fetch(ctx, rawUrl)
	if err != nil {
		return nil, err
	}
	return p.doc, nil
}

func (f *Fetcher) fetch(ctx context.Context, rawUrl string) (page, error) {
	ctx, span := tracer.Start(ctx, "Fetch", trace.WithAttributes(
		attribute.String("url", rawUrl),
	))
	defer span.End()

	if _, err := validateURL(rawUrl); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return page{}, err
	}

	var lastErr error
	for attempt := 0; attempt < f.opts.MaxRetries; attempt++ {
		fetchAttempts.Add(ctx, 1)

		p, err := f.attempt(ctx, rawUrl)
		if err == nil {
			span.SetAttributes(attribute.Int("attempts", attempt+1))
			return p, nil
		}
		if ctx.Err() != nil {
			return page{}, ctx.Err()
		}
		lastErr = err

		if attempt == f.opts.MaxRetries-1 {
			break
		}
		delay := f.backoff(attempt)
		f.tel.ReportWarning(
			report_fetcher_fetch,
			fmt.Errorf("attempt %d/%d: %w", attempt+1, f.opts.MaxRetries, err),
			slog.String("url", rawUrl),
			slog.Duration("retry_in", delay),
		)
		err = f.opts.Clock.Sleep(ctx, delay)
		if err != nil {
			return page{}, err
		}
	}

	err := fmt.Errorf("%w after %d attempts: %w", ErrFetchExhausted, f.opts.MaxRetries, lastErr)
	f.tel.ReportWarning(report_fetcher_fetch, err, slog.String("url", rawUrl))
	span.SetStatus(codes.Error, err.Error())
	return page{}, err
}

func (f *Fetcher) attempt(ctx context.Context, rawUrl string) (page, error) {
	res, err := f.http.R().
		SetContext(ctx).
		Get(rawUrl)
	if err != nil {
		return page{}, fmt.Errorf("request: %w", err)
	}
	if res.StatusCode() != http.StatusOK {
		return page{}, fmt.Errorf("%w: %s", ErrUnexpectedStatus, res.Status())
	}

	body, err := decodeBody(res.Header().Get("Content-Encoding"), res.Body())
	if err != nil {
		return page{}, fmt.Errorf("decode body: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return page{}, fmt.Errorf("parse html: %w", err)
	}

	if f.isChallenge(doc) {
		return page{}, fmt.Errorf("%w: %q", ErrChallenge, f.opts.ChallengeTitle)
	}
	return page{body: string(body), doc: doc}, nil
}

func (f *Fetcher) isChallenge(doc *goquery.Document) bool {
	return htmlutil.Title(doc) == strings.TrimSpace(f.opts.ChallengeTitle)
}

// FetchRobots gets the robots.txt of the host seedUrl belongs to. Robots
// rules are advisory, so a robots.txt that cannot be fetched yields a policy
// that allows everything rather than an error.
func (f *Fetcher) FetchRobots(ctx context.Context, seedUrl string, agent string) (*RobotsPolicy, error) {
	parsed, err := validateURL(seedUrl)
	if err != nil {
		return nil, err
	}
	robotsUrl := url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/robots.txt"}

	res, err := f.http.R().
		SetContext(ctx).
		Get(robotsUrl.String())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f.tel.ReportWarning(report_fetcher_fetch_robots, fmt.Errorf("request: %w", err), slog.String("url", robotsUrl.String()))
		return AllowAll(agent), nil
	}
	body, err := decodeBody(res.Header().Get("Content-Encoding"), res.Body())
	if err != nil {
		f.tel.ReportWarning(report_fetcher_fetch_robots, fmt.Errorf("decode body: %w", err), slog.String("url", robotsUrl.String()))
		return AllowAll(agent), nil
	}

	policy, err := ParseRobots(res.StatusCode(), body, agent)
	if err != nil {
		f.tel.ReportWarning(report_fetcher_fetch_robots, err, slog.String("url", robotsUrl.String()))
		return AllowAll(agent), nil
	}
	return policy, nil
}
