package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/DoyleJ11/comic-readalong-backend/internal/httpapi"
	"github.com/DoyleJ11/comic-readalong-backend/internal/hub"
	"github.com/DoyleJ11/comic-readalong-backend/internal/service"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Bool("migrate", false, "apply the postgres schema before serving")
}

func runServe(cmd *cobra.Command, args []string) error {
	migrate, _ := cmd.Flags().GetBool("migrate")
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg.Store, migrate)
	if err != nil {
		return err
	}

	comics := service.NewComicService(st, cfg.ComicCacheTTL, log)
	sessions := service.NewSessionService(st, comics, cfg.SaveTimeout, log)
	h := hub.NewHub(context.WithoutCancel(ctx), hub.Options{Logger: log, SweepEvery: cfg.RoomIdleSweep})

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Comics:        comics,
			Sessions:      sessions,
			Hub:           h,
			Logger:        log,
			DefaultUserID: cfg.DefaultUserID,
			RateLimit:     rate.Limit(cfg.RateLimitRPS),
			RateBurst:     cfg.RateLimitBurst,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", srv.Addr), zap.String("store", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		// rooms flush their pending saves before the store goes away
		h.Inbox() <- hub.ShutdownHub{}
		select {
		case <-h.Stopped():
		case <-shutdownCtx.Done():
			err = multierr.Append(err, shutdownCtx.Err())
		}
		return multierr.Append(err, st.Close())
	})
	return g.Wait()
}
