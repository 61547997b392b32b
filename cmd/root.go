// Package cmd defines and implements the CLI commands for the wikicrawl executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/wikicrawl/internal/app"
	"github.com/JakeFAU/wikicrawl/internal/config"
	"github.com/JakeFAU/wikicrawl/internal/crawler"
	"github.com/JakeFAU/wikicrawl/internal/frontier"
	"github.com/JakeFAU/wikicrawl/internal/logging"
	"github.com/JakeFAU/wikicrawl/internal/orchestrator"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the services commands use. It allows tests to inject a fake.
type App interface {
	Config() config.Config
	Logger() *zap.Logger
	FrontierStore() crawler.FrontierStore
	Index() crawler.IndexStore
	OpenFrontier(ctx context.Context) (*frontier.Frontier, error)
	Orchestrator(f *frontier.Frontier) (*orchestrator.Orchestrator, error)
	Close() error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// newRootCmd creates and configures the root command and its subcommands.
// The returned function releases whatever the command opened and is safe to
// call when nothing was opened.
func newRootCmd() (*cobra.Command, func() error) {
	v := config.New()
	var (
		cfgFile     string
		appInstance App
	)

	cmd := &cobra.Command{
		Use:   "wikicrawl",
		Short: "Polite, resumable crawler for category-organized wikis.",
		Long: `wikicrawl walks the paginated index of a wiki category, discovers every
entity page it links to, and stores each page's HTML and thumbnail together
with a queryable index record. Progress is persisted, so an interrupted crawl
resumes where it stopped without downloading finished pages again.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Loads configuration, builds the logger and opens every backend
		// before the subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadWith(v, cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			opened, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			appInstance = opened
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML/JSON/TOML config file")
	cmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	_ = v.BindPFlag("logging.level", cmd.PersistentFlags().Lookup("log-level"))

	cmd.AddCommand(
		newCrawlCmd(v),
		newServeCmd(v),
		newStatusCmd(),
		newRetryFailedCmd(),
		newResetCmd(),
	)

	closeApp := func() error {
		if appInstance == nil {
			return nil
		}
		_ = appInstance.Logger().Sync()
		return appInstance.Close()
	}
	return cmd, closeApp
}

// run executes the CLI with args and always releases opened backends.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root, closeApp := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	return errors.Join(err, closeApp())
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the running
// command cooperatively.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "wikicrawl:", err)
		stop()
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
