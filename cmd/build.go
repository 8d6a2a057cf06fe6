package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/amirhf/vibesearch/builder"
)

var (
	buildImageDir  string
	buildBatchSize int
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Embed an image folder and save the index",
	Long: `Embeds every JPEG and PNG directly inside the image folder and saves the
resulting index with its path manifest, replacing any previous build.
Images that cannot be decoded are skipped with a warning.`,
	Args: cobra.NoArgs,
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().StringVar(&buildImageDir, "image-dir", "", "folder of images to index (overrides IMAGE_FOLDER)")
	buildCmd.Flags().IntVar(&buildBatchSize, "batch-size", builder.DefaultBatchSize, "images per embedding call")
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, _ []string) error {
	if cmd.Flags().Changed("image-dir") {
		cfg.ImageFolder = buildImageDir
	}
	if cmd.Flags().Changed("batch-size") {
		cfg.BatchSize = buildBatchSize
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	model, err := newModel(cfg)
	if err != nil {
		return err
	}
	defer model.Close()
	if err := model.Ping(ctx); err != nil {
		return fmt.Errorf("embedding model unavailable: %w", err)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	a, err := builder.New(model, store, logger).Run(ctx, cfg.ImageFolder, cfg.BatchSize)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d images (build %s)\n", a.Index.Len(), a.BuildID)
	return nil
}
