package cmd

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/amirhf/vibesearch/api"
	"github.com/amirhf/vibesearch/logging"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the search API over HTTP",
	Long: `Loads the current build and serves GET/POST /search, /stats and /health
until interrupted. Each request and response is also logged to the API
log file.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "port to listen on (overrides PORT)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, cleanup, err := loadService(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	apiLog, closer, err := logging.NewFileLogger(logger, cfg.Server.APILogFile)
	if err != nil {
		return err
	}
	defer closer.Close()

	ln, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listening on port %d: %w", cfg.Server.Port, err)
	}
	logger.WithField("images", svc.Stats().Images).Info("Index loaded")
	return api.Serve(ctx, ln, api.NewRouter(api.NewHandler(svc), apiLog), logger)
}
