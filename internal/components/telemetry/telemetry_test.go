package telemetry

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScopedAPIPrefixesIds(t *testing.T) {
	recorder := &Recorder{}
	scoped := NewScopedAPI("catalog_fetcher", recorder)

	scoped.ReportBroken("fetcher.fetch", errors.New("boom"))
	scoped.ReportWarning("fetcher.fetch")
	scoped.ReportInfo("crawl started")
	scoped.ReportDebug("attempt")
	scoped.ReportCount("pages", 3)

	reports := recorder.Reports()
	require.Len(t, reports, 5)
	for _, report := range reports {
		require.True(t, strings.HasPrefix(report.ID, "catalog_fetcher: "), report.ID)
	}
	require.Equal(t, int64(3), reports[4].Count)
}

func TestRecorderFilter(t *testing.T) {
	recorder := &Recorder{}
	nested := NewScopedAPI("outer", NewScopedAPI("inner", recorder))

	nested.ReportWarning("scraper.parse-listing")
	nested.ReportBroken("scraper.parse-listing")
	recorder.ReportWarning("crawler.page")

	warnings := recorder.Filter(LevelWarning, "scraper.parse-listing")
	require.Len(t, warnings, 1)
	require.Equal(t, "inner: outer: scraper.parse-listing", warnings[0].ID)

	require.Len(t, recorder.Filter(LevelWarning, ""), 2)
	require.Empty(t, recorder.Filter(LevelInfo, ""))
}

func TestSlogAPI(t *testing.T) {
	var buffer bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buffer, &slog.HandlerOptions{Level: slog.LevelDebug}))
	api := SlogAPI{Logger: logger}

	api.ReportWarning("fetcher.fetch", slog.String("url", "https://shop.example/"), 42)
	api.ReportInfo("dataset was saved", slog.Int("rows", 3))

	out := buffer.String()
	require.Contains(t, out, "id=fetcher.fetch")
	require.Contains(t, out, "url=https://shop.example/")
	require.Contains(t, out, "params.1=42")
	require.Contains(t, out, `msg="dataset was saved"`)
	require.Contains(t, out, "rows=3")
}
