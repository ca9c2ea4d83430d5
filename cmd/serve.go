package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kozaktomas/facegraph/internal/constants"
	"github.com/kozaktomas/facegraph/internal/scene"
	"github.com/kozaktomas/facegraph/internal/web"
	"github.com/kozaktomas/facegraph/internal/web/handlers"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the facegraph HTTP API.

The API processes image batches into people, lists and renames people,
deletes images and, when SCENE_CLASSIFIER_URL is set, classifies scenes.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
}

// newClassifier returns the scene classification service, or nil when no classifier is configured.
func newClassifier(a *app) handlers.Classifier {
	if a.cfg.Scene.URL == "" {
		a.logger.Info("scene classifier disabled, /classify will answer 503")
		return nil
	}
	a.logger.Info("scene classifier enabled", "url", a.cfg.Scene.URL, "categories", len(a.cfg.Scene.Categories))
	return scene.NewService(scene.NewClient(a.cfg.Scene.URL), a.encoder, a.cfg.Scene.Categories, constants.ClassifyConcurrency)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if port := mustGetInt(cmd, "port"); port != 0 {
		a.cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		a.cfg.Web.Host = host
	}

	a.logger.Info("store ready", "driver", a.cfg.Database.Driver, "strategy", a.cfg.Matching.Strategy, "linkage", a.cfg.Matching.Linkage)
	server := web.NewServer(a.cfg, a.resolver, newClassifier(a), a.logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("starting server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
