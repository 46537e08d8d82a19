// Package cmd defines and implements the CLI commands for the catalog-crawler executable.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/app"
	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/logging"
	"github.com/JakeFAU/catalog-crawler/internal/session"
	"github.com/JakeFAU/catalog-crawler/internal/walker"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the services commands use, so tests can inject their own
// container.
type App interface {
	Config() config.Config
	Logger() *zap.Logger
	IDs() catalog.IDGenerator
	Sources() []catalog.SourceID
	Adapters() map[catalog.SourceID]catalog.SourceAdapter
	Adapter(id catalog.SourceID) (catalog.SourceAdapter, error)
	Walker(id catalog.SourceID) (*walker.Walker, error)
	Records() catalog.RecordStore
	Categories() catalog.CategoryStore
	Progress() catalog.ProgressStore
	Runs() catalog.RunStore
	Scheduler() *session.Scheduler
	Ready(ctx context.Context) error
	Close(ctx context.Context)
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "catalog-crawler",
		Short: "Resumable, rate-limited crawler for software catalog sites.",
		Long: `catalog-crawler walks the Capterra and SoftwareAdvice catalogs category by
category, deduplicates products by name and category, and checkpoints every
listing page so an interrupted crawl resumes where it stopped.`,
		SilenceUsage: true,

		// Build the application once config is known and hand it to the subcommand.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); CRAWLER_* env vars override it")

	cmd.AddCommand(
		newServeCmd(),
		newCrawlCmd(),
		newCategoriesCmd(),
		newStatusCmd(),
		newResetCmd(),
		newProductsCmd(),
	)
	return cmd
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := execute(ctx, nil, os.Stdout)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// execute runs the root command and always shuts the application down, even
// when the subcommand fails. Nil args fall back to os.Args.
func execute(ctx context.Context, args []string, out io.Writer) error {
	root := newRootCmd()
	if args != nil {
		root.SetArgs(args)
	}
	root.SetOut(out)
	executed, err := root.ExecuteContextC(ctx)
	if executed != nil && executed.Context() != nil {
		closeApp(executed.Context())
	}
	return err
}

func closeApp(ctx context.Context) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), appInstance.Config().ShutdownTimeout())
	defer cancel()
	appInstance.Close(shutdownCtx)
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// selectSources parses --source values, defaulting to every enabled source.
func selectSources(a App, raw []string) ([]catalog.SourceID, error) {
	if len(raw) == 0 {
		return a.Sources(), nil
	}
	out := make([]catalog.SourceID, 0, len(raw))
	for _, r := range raw {
		id, err := catalog.ParseSourceID(r)
		if err != nil {
			return nil, err
		}
		if _, err := a.Adapter(id); err != nil {
			return nil, fmt.Errorf("source %s is not enabled: %w", id, err)
		}
		out = append(out, id)
	}
	return out, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
