package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/wikicrawl/internal/api"
)

const shutdownTimeout = 10 * time.Second

// newServeCmd creates the 'serve' subcommand, which exposes the entity index
// over a read-only HTTP API.
func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the entity index over HTTP",
		RunE:  runServeCommand,
	}
	cmd.Flags().Int("port", 0, "listen port")
	_ = v.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	return cmd
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()
	addr := net.JoinHostPort("", strconv.Itoa(appInstance.Config().Server.Port))

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewServer(appInstance.Index(), appInstance.FrontierStore(), logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return serveUntilDone(cmd.Context(), srv, logger)
}

// serveUntilDone runs srv until ctx is cancelled, then drains in-flight
// requests.
func serveUntilDone(ctx context.Context, srv *http.Server, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Index API listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	logger.Info("Shutting down index API")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
