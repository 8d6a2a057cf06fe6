// Package cmd implements the vibesearch command line.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/amirhf/vibesearch/config"
	"github.com/amirhf/vibesearch/embedding"
	"github.com/amirhf/vibesearch/embedding/clip"
	"github.com/amirhf/vibesearch/logging"
	"github.com/amirhf/vibesearch/search"
	"github.com/amirhf/vibesearch/storage"
)

var (
	cfgFile      string
	verbose      bool
	indexPath    string
	manifestPath string

	// Set by the root command before any subcommand runs.
	cfg    *config.Config
	logger *logrus.Logger
)

// newModel and openStore are variables so tests can substitute them.
var (
	newModel = func(c *config.Config) (embedding.Model, error) {
		return clip.NewClient(clip.Config{
			BaseURL:           c.Model.URL,
			Model:             c.Model.Checkpoint,
			Timeout:           c.Model.Timeout(),
			RequestsPerSecond: c.Model.RequestsPerSecond,
		}), nil
	}

	openStore = func(ctx context.Context, c *config.Config) (storage.Store, error) {
		if c.Store.Backend == config.BackendPostgres {
			return storage.NewPostgresStore(ctx, c.Store.DatabaseURL)
		}
		return storage.NewFileStore(c.Store.IndexPath, c.Store.ManifestPath), nil
	}
)

var rootCmd = &cobra.Command{
	Use:   "vibesearch",
	Short: "Search images by vibe",
	Long: `vibesearch embeds a folder of images with CLIP and answers free-text
queries with the most similar images.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "path to a YAML config file")
	pf.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	pf.StringVar(&indexPath, "index-path", "", "index file (overrides INDEX_PATH)")
	pf.StringVar(&manifestPath, "manifest-path", "", "path manifest file (overrides IMAGE_PATHS_FILE)")
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, _ []string) error {
	c, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("index-path") {
		c.Store.IndexPath = indexPath
	}
	if cmd.Flags().Changed("manifest-path") {
		c.Store.ManifestPath = manifestPath
	}

	l, err := logging.New(c.Log, cmd.ErrOrStderr(), verbose)
	if err != nil {
		return err
	}
	cfg, logger = c, l
	return nil
}

// loadService opens the configured store and prepares a query service over
// its current build. The returned cleanup closes the model and the store.
func loadService(ctx context.Context) (*search.Service, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	catalog, err := store.Load(ctx)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	model, err := newModel(cfg)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	cleanup := func() {
		_ = model.Close()
		_ = store.Close()
	}
	if catalog.Model != "" && catalog.Model != model.Name() {
		logger.WithFields(logrus.Fields{
			"index_model": catalog.Model,
			"query_model": model.Name(),
			"build_id":    catalog.BuildID.String(),
		}).Warn("Index was built with a different model; results may be meaningless")
	}

	svc, err := search.NewService(model, catalog,
		search.WithMaxTopK(cfg.MaxTopK),
		search.WithLogger(logger),
	)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("loading index: %w", err)
	}
	return svc, cleanup, nil
}
