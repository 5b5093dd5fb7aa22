package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"homeapi/internal/api"
	"homeapi/internal/middleware"
	"homeapi/internal/notes"
	"homeapi/internal/notify"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var (
			publisher notify.Publisher
			events    notify.Subscriber
		)
		if cfg.Redis.Addr != "" {
			r, err := notify.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Channel)
			if err != nil {
				return err
			}
			defer r.Close()
			publisher, events = r, r
		} else {
			// Without Redis, CGI writers cannot reach this process, so
			// the document is watched as well.
			hub := notify.NewHub()
			d := &dedupe{next: hub}
			publisher, events = d, hub

			go func() {
				err := notes.Watch(ctx, cfg.Notes.Path, logger, func(s notes.State) {
					d.Publish(ctx, notify.Event{
						Checksum: s.Checksum,
						Length:   s.Length,
						Bytes:    s.Bytes,
						Time:     s.ModTime,
					})
				})
				if err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("watching notes", zap.Error(err))
				}
			}()
		}

		a, err := buildApp(ctx, publisher)
		if err != nil {
			return err
		}
		defer a.close()

		srv := &http.Server{
			Addr:              cfg.Addr(),
			Handler:           middleware.Standard(api.NewRouter(a.handlers(events)), logger),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errc := make(chan error, 1)
		go func() {
			logger.Info("starting server",
				zap.String("address", srv.Addr),
				zap.String("notes", cfg.Notes.Path),
				zap.Bool("metrics", a.store != nil),
				zap.Bool("journal", a.journal != nil),
			)
			errc <- srv.ListenAndServe()
		}()

		select {
		case err := <-errc:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}
