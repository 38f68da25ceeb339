package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/evidence-faces/internal/config"
	"github.com/kozaktomas/evidence-faces/internal/database"
	"github.com/kozaktomas/evidence-faces/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API for searching probes and reviewing persisted matches.

Searches work without a database. When DATABASE_URL is set, search requests may
persist their records and the /api/v1/matches endpoints become available.
Set WEB_API_TOKEN to require a bearer token on every /api/v1 route except health.
The server binds 127.0.0.1 by default and refuses any other address without a token.

Examples:
  evidence-faces serve --port 8080 --preload Images/known
  evidence-faces serve --preload-labeled Images/subjects --allowed-origins https://review.example`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	d := config.Defaults()
	serveCmd.Flags().Int("port", d.Web.Port, "Port to listen on (WEB_PORT)")
	serveCmd.Flags().String("host", d.Web.Host, "Host to bind to (WEB_HOST)")
	serveCmd.Flags().StringSlice("allowed-origins", nil, "Extra CORS origins besides localhost (WEB_ALLOWED_ORIGINS)")
	serveCmd.Flags().StringSlice("preload", nil, "Unlabeled galleries to load before accepting requests")
	serveCmd.Flags().StringSlice("preload-labeled", nil, "Labeled galleries to load before accepting requests")
	serveCmd.Flags().Bool("no-provenance", false, "Do not require probes to be registered evidence files")
	addMatchFlags(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if flagChanged(cmd, "port") {
		cfg.Web.Port = mustGetInt(cmd, "port")
	}
	if flagChanged(cmd, "host") {
		cfg.Web.Host = mustGetString(cmd, "host")
	}
	if flagChanged(cmd, "allowed-origins") {
		cfg.Web.AllowedOrigins = mustGetStringSlice(cmd, "allowed-origins")
	}
	if err := cfg.Web.CheckExposure(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	withDB := cfg.Database.URL != ""
	if !withDB {
		logger.Warn().Msg("DATABASE_URL not set, match endpoints and persistence are disabled")
	}
	p, err := buildPipeline(ctx, cfg, logger, withDB, os.Stderr)
	if err != nil {
		return err
	}
	defer p.Close()

	var reader database.FaceMatchReader
	if withDB {
		if reader, err = database.GetMatchReader(ctx); err != nil {
			return err
		}
	}

	for _, dir := range mustGetStringSlice(cmd, "preload") {
		if err := p.engine.Preload(ctx, dir, false); err != nil {
			return err
		}
	}
	for _, dir := range mustGetStringSlice(cmd, "preload-labeled") {
		if err := p.engine.Preload(ctx, dir, true); err != nil {
			return err
		}
	}

	server := web.NewServer(cfg, p.engine, reader, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Error during shutdown")
		}
	}()

	fmt.Printf("Serving evidence-faces API on http://%s:%d (backends %v)\n", cfg.Web.Host, cfg.Web.Port, p.backend)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
