package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"catalog-scraper/internal/components/telemetry"
	"catalog-scraper/internal/dataset"
	"catalog-scraper/internal/scrapers/catalog"
	"catalog-scraper/lib/restyutil"
	"catalog-scraper/lib/serviceutil"
	libtelemetry "catalog-scraper/lib/telemetry"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	configPath *string
	outPath    *string
	maxPages   *int
	seedUrl    *string
	dumpHttp   *string
)

func init() {
	configPath = crawlCmd.Flags().String("config", "config.json5", "The config file to read, a missing file uses the defaults.")
	outPath = crawlCmd.Flags().String("out", "", "The CSV file to write the dataset to.")
	maxPages = crawlCmd.Flags().Int("pages", 0, "The maximum number of listing pages to crawl.")
	seedUrl = crawlCmd.Flags().String("seed", "", "The first listing page to crawl.")
	dumpHttp = crawlCmd.Flags().String("dump-http", "", "A directory to dump every http request and response into.")
	rootCmd.AddCommand(crawlCmd)
}

var crawlCmd = &cobra.Command{
	Use:   "crawl [--config <config.json5>] [--out <path/to/output.csv>] [--pages <n>] [--seed <url>] [--dump-http <dir>]",
	Short: "Crawls the catalog listing pages and writes every product to a CSV file.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := LoadConfig(*configPath)
		if err != nil {
			serviceutil.Fatal("failed to load config", err)
		}
		if cmd.Flags().Changed("out") {
			cfg.Output = *outPath
		}
		if cmd.Flags().Changed("pages") {
			cfg.MaxPages = *maxPages
		}
		if cmd.Flags().Changed("seed") {
			cfg.SeedURL = *seedUrl
		}
		if cmd.Flags().Changed("dump-http") {
			cfg.DumpHttp = *dumpHttp
		}

		ctx := cmd.Context()

		otel, err := libtelemetry.SetupFromEnv(ctx, "catalog-cli")
		if err != nil {
			serviceutil.Fatal("failed to setup telemetry", err)
		}
		defer func() {
			err := otel.Shutdown(context.WithoutCancel(ctx))
			if err != nil {
				slog.Warn("failed to shutdown telemetry", "err", err)
			}
		}()
		if otel.MeterProvider != nil {
			libtelemetry.InstrumentPerfStats(ctx, 15*time.Second)
		}

		result, err := runCrawl(ctx, cfg, telemetry.SlogAPI{})
		printCrawlResult(cmd.OutOrStdout(), cfg.Output, result)
		if err != nil {
			serviceutil.Fatal("crawl did not finish", err)
		}
	},
}

func runCrawl(ctx context.Context, cfg Config, tel telemetry.API) (catalog.CrawlResult, error) {
	err := cfg.Validate()
	if err != nil {
		return catalog.CrawlResult{}, fmt.Errorf("invalid config: %w", err)
	}

	fetcherOpts := cfg.FetcherOptions()
	if cfg.DumpHttp != "" {
		output, err := restyutil.NewFilesystemOutput(cfg.DumpHttp)
		if err != nil {
			return catalog.CrawlResult{}, fmt.Errorf("http dump directory: %w", err)
		}
		fetcherOpts.DumpOutput = output
	}
	fetcher, err := catalog.NewFetcher(fetcherOpts, tel)
	if err != nil {
		return catalog.CrawlResult{}, err
	}

	crawlerOpts := cfg.CrawlerOptions()
	if cfg.RespectRobots {
		policy, err := fetcher.FetchRobots(ctx, cfg.SeedURL, cfg.RobotsAgent)
		if err != nil {
			return catalog.CrawlResult{}, fmt.Errorf("robots.txt: %w", err)
		}
		crawlerOpts.Robots = policy
	}
	crawlerOpts.Sink = dataset.NewCSVWriter(cfg.Output, tel)

	scraper := catalog.NewScraper(
		fetcher,
		catalog.ScraperOptions{Concurrency: cfg.Concurrency},
		tel,
	)
	crawler, err := catalog.NewCrawler(scraper, crawlerOpts, tel)
	if err != nil {
		return catalog.CrawlResult{}, err
	}
	return crawler.Run(ctx)
}

func printCrawlResult(out io.Writer, output string, result catalog.CrawlResult) {
	t := newTable(out)
	t.SetTitle("Crawl")
	t.AppendRows([]table.Row{
		{"Run", result.RunID},
		{"State", result.State.String()},
		{"Pages", result.Pages},
		{"Records", len(result.Records)},
		{"Columns", len(result.Columns)},
		{"Duration", result.Duration().Round(time.Millisecond).String()},
		{"Output", output},
	})
	t.Render()
}
