package cliapp

/*
Cobra command tree, carried over from the former internal/cli package
(no longer part of this repository):
a rootCmd carrying persistent flags, package-level flag vars, an
InitConfig that builds a config.Config from either a config file or CLI
flags, and test-setter functions so subcommand behavior is testable
without re-parsing os.Args.
*/

import (
	"fmt"
	"os"
	"time"

	"github.com/rohmanhakim/crawlcore/internal/config"
	"github.com/spf13/cobra"
)

var (
	cfgFile          string
	target           string
	databasePath     string
	userAgent        string
	requestTimeout   time.Duration
	requestDelayMs   time.Duration
	rateLimitBackend string
	brokerURL        string
	refreshTTLDays   int
	concurrency      int
	storageRoot      string
)

var rootCmd = &cobra.Command{
	Use:   "crawlcore",
	Short: "A restartable, politeness-aware documentation crawler core.",
	Long: `crawlcore drives a durable crawl frontier against one or more sources,
fetching pages under adaptive per-domain rate limiting and storing fetched
content in a content-addressed, versioned document store.

Unlike a one-shot scraper, a crawlcore run can be killed and restarted at
any point: in-flight claims are reaped, completed work is never re-fetched
unless the page actually changed, and a config change automatically
invalidates the parts of the frontier it affects.`,
}

// Execute adds all child commands to the root command and runs it. This
// is called by main.main(); it only needs to happen once.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "config file path (e.g., /home/myuser/config.json)")
	rootCmd.PersistentFlags().StringVar(&target, "target", "", "source base URL or stable target identifier")
	rootCmd.PersistentFlags().StringVar(&databasePath, "database", "", "path to the crawl state sqlite database")
	rootCmd.PersistentFlags().StringVar(&userAgent, "user-agent", "", "user agent string for HTTP requests")
	rootCmd.PersistentFlags().DurationVar(&requestTimeout, "request-timeout", 0, "per-request HTTP timeout")
	rootCmd.PersistentFlags().DurationVar(&requestDelayMs, "request-delay", 0, "minimum delay between requests to the same domain")
	rootCmd.PersistentFlags().StringVar(&rateLimitBackend, "rate-limit-backend", "", "rate limiter state backend: sqlite or memory")
	rootCmd.PersistentFlags().StringVar(&brokerURL, "broker-url", "", "optional message broker URL (stored in the config; the crawl command does not use it)")
	rootCmd.PersistentFlags().IntVar(&refreshTTLDays, "refresh-ttl-days", 0, "default age, in days, before a fetched URL is eligible for refresh (stored in the config; the crawl command does not schedule refreshes)")
	rootCmd.PersistentFlags().IntVar(&concurrency, "concurrency", 0, "number of concurrent fetch workers")
	rootCmd.PersistentFlags().StringVar(&storageRoot, "storage-root", "", "root directory for the content-addressed document store")

	rootCmd.AddCommand(crawlCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(versionCmd)
}

// buildConfig reads config from a file if --config-file is set, otherwise
// assembles one from flags on top of config.WithDefault(target).
func buildConfig() (config.Config, error) {
	if cfgFile != "" {
		return config.WithConfigFile(cfgFile)
	}

	if target == "" {
		return config.Config{}, fmt.Errorf("%w: --target is required without --config-file", config.ErrInvalidConfig)
	}

	builder := config.WithDefault(target)
	if databasePath != "" {
		builder = builder.WithDatabase(databasePath)
	}
	if userAgent != "" {
		builder = builder.WithUserAgent(userAgent)
	}
	if requestTimeout > 0 {
		builder = builder.WithRequestTimeout(requestTimeout)
	}
	if requestDelayMs > 0 {
		builder = builder.WithRequestDelayMs(requestDelayMs)
	}
	if rateLimitBackend != "" {
		builder = builder.WithRateLimitBackend(rateLimitBackend)
	}
	if brokerURL != "" {
		builder = builder.WithBrokerURL(brokerURL)
	}
	if refreshTTLDays > 0 {
		builder = builder.WithDefaultRefreshTTLDays(refreshTTLDays)
	}
	if concurrency > 0 {
		builder = builder.WithConcurrency(concurrency)
	}

	return builder.Build()
}

// resolveDatabasePath returns the database path for commands that only
// need storage access, without requiring --target.
func resolveDatabasePath() string {
	if databasePath != "" {
		return databasePath
	}
	return "crawlcore.db"
}

func ResetFlags() {
	cfgFile = ""
	target = ""
	databasePath = ""
	userAgent = ""
	requestTimeout = 0
	requestDelayMs = 0
	rateLimitBackend = ""
	brokerURL = ""
	refreshTTLDays = 0
	concurrency = 0
	storageRoot = ""
}

func SetConfigFileForTest(path string)  { cfgFile = path }
func SetTargetForTest(t string)         { target = t }
func SetDatabaseForTest(path string)    { databasePath = path }
func SetStorageRootForTest(path string) { storageRoot = path }
func SetConcurrencyForTest(n int)       { concurrency = n }
