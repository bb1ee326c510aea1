package catalog

import (
	"go.opentelemetry.io/otel"
)

const tracerName = "catalog-scraper/internal/scrapers/catalog"

var tracer = otel.Tracer(tracerName)
var meter = otel.Meter(tracerName)

var fetchAttempts, _ = meter.Int64Counter("catalog.fetch.attempts")
var pagesCrawled, _ = meter.Int64Counter("catalog.pages")
var recordsExtracted, _ = meter.Int64Counter("catalog.records")
